package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type TokenStatus string

const (
	TokenActive      TokenStatus = "ACTIVE"
	TokenUsed        TokenStatus = "USED"
	TokenExpired     TokenStatus = "EXPIRED"
	TokenInvalidated TokenStatus = "INVALIDATED"
)

type TokenPurpose string

const (
	PurposeAccept  TokenPurpose = "accept"
	PurposeReject  TokenPurpose = "reject"
	PurposeBooking TokenPurpose = "booking"
)

func ValidPurpose(p TokenPurpose) bool {
	switch p {
	case PurposeAccept, PurposeReject, PurposeBooking:
		return true
	}
	return false
}

// AcceptanceToken is a single-use credential bound to one quote and one
// purpose. The raw secret is never stored, only its salted hash.
type AcceptanceToken struct {
	ID              snowflake.ID `json:"id,string" gorm:"primaryKey;column:id"`
	OrgID           snowflake.ID `json:"org_id,string" gorm:"column:org_id"`
	QuoteID         snowflake.ID `json:"quote_id,string" gorm:"column:quote_id"`
	Purpose         TokenPurpose `json:"purpose" gorm:"column:purpose"`
	SecretHash      string       `json:"-" gorm:"column:secret_hash"`
	Status          TokenStatus  `json:"status" gorm:"column:status"`
	ExpiresAt       time.Time    `json:"expires_at" gorm:"column:expires_at"`
	UsedAt          *time.Time   `json:"used_at,omitempty" gorm:"column:used_at"`
	UsedBy          string       `json:"used_by,omitempty" gorm:"column:used_by"`
	InvalidatedAt   *time.Time   `json:"invalidated_at,omitempty" gorm:"column:invalidated_at"`
	InvalidatedNote string       `json:"invalidated_note,omitempty" gorm:"column:invalidated_note"`
	CreatedAt       time.Time    `json:"created_at" gorm:"column:created_at"`
}

func (AcceptanceToken) TableName() string { return "acceptance_tokens" }

// Expired reports whether the token's validity window has passed,
// regardless of whether a sweep has already flipped its status.
func (t *AcceptanceToken) Expired(now time.Time) bool {
	if t.Status == TokenExpired {
		return true
	}
	return !t.ExpiresAt.IsZero() && now.After(t.ExpiresAt)
}
