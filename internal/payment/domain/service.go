package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type DuplicateProbe struct {
	OrgID          snowflake.ID
	IdempotencyKey string
	Amount         int64
	SenderEmail    string
	SenderName     string
	Window         time.Duration
	Now            time.Time
}

type Repository interface {
	// Insert is idempotent on (org_id, idempotency_key); returns false
	// when the key already exists.
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*Payment, error)
	FindDuplicate(ctx context.Context, db *gorm.DB, probe DuplicateProbe) (*Payment, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, payment *Payment) error
	ListByStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status PaymentStatus, limit int) ([]*Payment, error)
}

type Service interface {
	GetByID(ctx context.Context, orgID, id snowflake.ID) (*Payment, error)
	ListReviewQueue(ctx context.Context, orgID snowflake.ID, limit int) ([]*Payment, error)

	// ResolveReview decides a PENDING_REVIEW payment. Completing it
	// settles the linked invoice in the same transaction.
	ResolveReview(ctx context.Context, orgID, id snowflake.ID, approve bool, reviewer, note string) (*Payment, error)

	// Refund reverses a COMPLETED payment in full and returns the money
	// to the invoice balance atomically.
	Refund(ctx context.Context, orgID, id snowflake.ID, actor string) (*Payment, error)
}

var (
	ErrPaymentNotFound = errors.New("payment_not_found")
	ErrInvalidPayment  = errors.New("invalid_payment")
	// ErrApprovalRequired blocks completion of a payment whose approval
	// chain has not reached APPROVED.
	ErrApprovalRequired = errors.New("approval_required")
)
