package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finvo/internal/lifecycle"
	"gorm.io/datatypes"
)

// PaymentStatus represents payment lifecycle states.
type PaymentStatus string

const (
	PaymentStatusPending       PaymentStatus = "PENDING"
	PaymentStatusPendingReview PaymentStatus = "PENDING_REVIEW"
	PaymentStatusCompleted     PaymentStatus = "COMPLETED"
	PaymentStatusFailed        PaymentStatus = "FAILED"
	PaymentStatusRefunded      PaymentStatus = "REFUNDED"
	PaymentStatusCancelled     PaymentStatus = "CANCELLED"
)

// Terminal reports whether the payment can no longer move except through
// event-driven reversal (chargeback, bounced instrument).
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// Payment is a monetary event against zero or one invoice. Immutable once
// COMPLETED except for event-driven moves to REFUNDED or FAILED.
type Payment struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	OrgID           snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_payments_org_idem,priority:1"`
	CustomerID      snowflake.ID      `gorm:"index"`
	InvoiceID       *snowflake.ID     `gorm:"index"`
	Amount          int64             `gorm:"not null"`
	Currency        string            `gorm:"type:text;not null"`
	Method          string            `gorm:"type:text;not null"`
	Status          PaymentStatus     `gorm:"type:text;not null;default:'PENDING'"`
	ProcessorRef    *string           `gorm:"type:text"`
	IdempotencyKey  *string           `gorm:"type:text;uniqueIndex:ux_payments_org_idem,priority:2"`
	SenderName      string            `gorm:"type:text"`
	SenderEmail     string            `gorm:"type:text"`
	ReferenceNumber string            `gorm:"type:text"`
	TransferDate    *time.Time        `gorm:""`
	RefundOfID      *snowflake.ID     `gorm:"index"`
	MatchScore      *int              `gorm:""`
	ReviewedBy      *string           `gorm:"type:text"`
	ReviewNote      *string           `gorm:"type:text"`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// Confirm moves PENDING to COMPLETED on upstream confirmation.
func Confirm(p Payment, now time.Time) (Payment, error) {
	if p.Status.Terminal() {
		return Payment{}, lifecycle.ErrAlreadyTerminal
	}
	if p.Status != PaymentStatusPending {
		return Payment{}, lifecycle.ErrInvalidState
	}
	p.Status = PaymentStatusCompleted
	p.UpdatedAt = now
	return p, nil
}

// Resolve decides a PENDING_REVIEW payment: completed or failed.
func Resolve(p Payment, outcome PaymentStatus, reviewer, note string, now time.Time) (Payment, error) {
	if p.Status != PaymentStatusPendingReview {
		return Payment{}, lifecycle.ErrInvalidState
	}
	if outcome != PaymentStatusCompleted && outcome != PaymentStatusFailed {
		return Payment{}, lifecycle.ErrInvalidState
	}
	p.Status = outcome
	if reviewer != "" {
		p.ReviewedBy = &reviewer
	}
	if note != "" {
		p.ReviewNote = &note
	}
	p.UpdatedAt = now
	return p, nil
}

// MarkRefunded moves COMPLETED to REFUNDED after a successful refund.
func MarkRefunded(p Payment, now time.Time) (Payment, error) {
	if p.Status != PaymentStatusCompleted {
		return Payment{}, lifecycle.ErrInvalidState
	}
	p.Status = PaymentStatusRefunded
	p.UpdatedAt = now
	return p, nil
}

// MarkFailed records an event-driven failure (chargeback, bounce).
func MarkFailed(p Payment, now time.Time) (Payment, error) {
	if p.Status.Terminal() {
		return Payment{}, lifecycle.ErrAlreadyTerminal
	}
	p.Status = PaymentStatusFailed
	p.UpdatedAt = now
	return p, nil
}
