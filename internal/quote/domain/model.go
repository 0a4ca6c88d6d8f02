// Package domain contains the quote lifecycle model and transition guards.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// QuoteStatus represents quote lifecycle states.
type QuoteStatus string

const (
	QuoteStatusDraft     QuoteStatus = "DRAFT"
	QuoteStatusEstimated QuoteStatus = "ESTIMATED"
	QuoteStatusSent      QuoteStatus = "SENT"
	QuoteStatusViewed    QuoteStatus = "VIEWED"
	QuoteStatusAccepted  QuoteStatus = "ACCEPTED"
	QuoteStatusRejected  QuoteStatus = "REJECTED"
	QuoteStatusExpired   QuoteStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are possible.
func (s QuoteStatus) Terminal() bool {
	switch s {
	case QuoteStatusAccepted, QuoteStatusRejected, QuoteStatusExpired:
		return true
	default:
		return false
	}
}

// Quote is an organization-scoped commercial offer.
type Quote struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	OrgID          snowflake.ID      `gorm:"not null;index"`
	CustomerID     snowflake.ID      `gorm:"not null;index"`
	QuoteNumber    string            `gorm:"type:text;not null;uniqueIndex:ux_quotes_org_number,priority:2"`
	Status         QuoteStatus       `gorm:"type:text;not null;default:'DRAFT'"`
	SubtotalAmount int64             `gorm:"not null;default:0"`
	TaxAmount      int64             `gorm:"not null;default:0"`
	TotalAmount    int64             `gorm:"not null;default:0"`
	Currency       string            `gorm:"type:text;not null"`
	ValidUntil     *time.Time        `gorm:""`
	SentAt         *time.Time        `gorm:""`
	ViewedAt       *time.Time        `gorm:""`
	AcceptedAt     *time.Time        `gorm:""`
	RejectedAt     *time.Time        `gorm:""`
	AcceptedBy     *string           `gorm:"type:text"`
	RejectionNote  *string           `gorm:"type:text"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Quote) TableName() string { return "quotes" }

// Expired reports whether the validity window has elapsed at the given time.
func (q Quote) Expired(now time.Time) bool {
	return q.ValidUntil != nil && now.After(*q.ValidUntil)
}
