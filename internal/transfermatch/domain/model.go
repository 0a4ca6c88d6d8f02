// Package domain implements the transfer auto-match engine: scoring
// incoming bank transfer notifications against open invoices and
// deciding between automatic application and manual review.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/finvo/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/finvo/internal/payment/domain"
	"gorm.io/gorm"
)

type Confidence string

const (
	ConfidenceNone   Confidence = "NONE"
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

const (
	lowFloor    = 1
	mediumFloor = 60
	highFloor   = 90

	// maxScore caps the additive factor sum; weights can total past it.
	maxScore = 100
)

// BucketScore maps a raw match score onto its confidence bucket.
func BucketScore(score int) Confidence {
	switch {
	case score >= highFloor:
		return ConfidenceHigh
	case score >= mediumFloor:
		return ConfidenceMedium
	case score >= lowFloor:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

type Disposition string

const (
	DispositionAutoApplied Disposition = "AUTO_APPLIED"
	DispositionReview      Disposition = "REVIEW"
	DispositionNoMatch     Disposition = "NO_MATCH"
	DispositionDuplicate   Disposition = "DUPLICATE"
)

// TransferNotification is one incoming bank transfer as reported by the
// upstream feed. Amount is in minor units of Currency.
type TransferNotification struct {
	OrgID           snowflake.ID `json:"org_id,string"`
	Amount          int64        `json:"amount"`
	Currency        string       `json:"currency"`
	SenderName      string       `json:"sender_name"`
	SenderEmail     string       `json:"sender_email"`
	ReferenceNumber string       `json:"reference_number"`
	TransferDate    *time.Time   `json:"transfer_date,omitempty"`
	IdempotencyKey  string       `json:"idempotency_key"`
}

// CandidateCustomer is the slice of the customer read model the scorer
// consults: display names plus every known address.
type CandidateCustomer struct {
	ID          snowflake.ID
	Name        string
	BillingName string
	Emails      []string
}

// MatchCandidate is one open invoice scored against a notification.
type MatchCandidate struct {
	Invoice  *invoicedomain.Invoice `json:"invoice"`
	Customer CandidateCustomer      `json:"-"`
	Score    int                    `json:"score"`
	Factors  []string               `json:"factors"`
}

// MatchResult is the engine's decision for one notification. Score is
// the best candidate's score; RequiresReview reports whether the
// created payment landed in the review queue.
type MatchResult struct {
	Disposition    Disposition      `json:"disposition"`
	Confidence     Confidence       `json:"confidence"`
	Score          int              `json:"score"`
	RequiresReview bool             `json:"requires_review"`
	Candidates     []MatchCandidate `json:"candidates"`
	Payment        *paymentdomain.Payment `json:"payment,omitempty"`
	Invoice        *invoicedomain.Invoice `json:"invoice,omitempty"`
	// DuplicateOf points at the earlier payment when the notification
	// was recognized as a replay.
	DuplicateOf *snowflake.ID `json:"duplicate_of,string,omitempty"`
}

type CreateFromMatchRequest struct {
	OrgID          snowflake.ID
	InvoiceID      snowflake.ID
	Notification   TransferNotification
	Operator       string
	IdempotencyKey string
}

type Repository interface {
	// LoadCustomers resolves the customer read model for a candidate
	// set, keyed by customer ID.
	LoadCustomers(ctx context.Context, db *gorm.DB, orgID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]CandidateCustomer, error)
}

type Service interface {
	// MatchTransfer scores a notification against open invoices and
	// either applies it, queues it for review, or flags a duplicate.
	MatchTransfer(ctx context.Context, notif TransferNotification) (*MatchResult, error)

	// CreatePaymentFromMatch records an operator's manual resolution of
	// a reviewed notification against a chosen invoice.
	CreatePaymentFromMatch(ctx context.Context, req CreateFromMatchRequest) (*MatchResult, error)
}

var (
	ErrInvalidNotification = errors.New("invalid_notification")
	ErrDuplicateTransfer   = errors.New("duplicate_transfer")
)
