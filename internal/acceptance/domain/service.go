package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	quotedomain "github.com/smallbiznis/finvo/internal/quote/domain"
	"gorm.io/gorm"
)

var (
	ErrTokenNotFound    = errors.New("token_not_found")
	ErrTokenExpired     = errors.New("token_expired")
	ErrTokenInvalidated = errors.New("token_invalidated")
	ErrTokenAlreadyUsed = errors.New("token_already_used")
	ErrInvalidPurpose   = errors.New("invalid_purpose")
)

type IssueTokenRequest struct {
	OrgID   snowflake.ID
	QuoteID snowflake.ID
	Purpose TokenPurpose
	TTL     time.Duration
}

// IssuedToken carries the raw secret exactly once, at issuance.
type IssuedToken struct {
	Token  *AcceptanceToken
	Secret string
}

type RedeemTokenRequest struct {
	Secret  string
	Purpose TokenPurpose
	// Actor identifies who redeemed the token, e.g. a customer email.
	Actor string
	// Note is carried onto the quote for reject redemptions.
	Note string
}

type RedeemTokenResponse struct {
	Token *AcceptanceToken
	Quote *quotedomain.Quote
	// FollowUp is the booking token provisioned after a successful
	// accept redemption, nil otherwise.
	FollowUp *IssuedToken
}

type InvalidateTokenRequest struct {
	OrgID   snowflake.ID
	TokenID snowflake.ID
	Note    string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, token *AcceptanceToken) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*AcceptanceToken, error)

	// MarkUsed flips ACTIVE to USED and reports whether this caller won
	// the transition. A false return with nil error means another
	// redemption already consumed the token.
	MarkUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, usedBy string, usedAt time.Time) (bool, error)

	// MarkInvalidated flips ACTIVE to INVALIDATED. Returns false when
	// the token was not ACTIVE.
	MarkInvalidated(ctx context.Context, db *gorm.DB, id snowflake.ID, note string, at time.Time) (bool, error)

	// InvalidateByQuote retires every ACTIVE token bound to a quote.
	InvalidateByQuote(ctx context.Context, db *gorm.DB, quoteID snowflake.ID, note string, at time.Time) (int64, error)

	// ExpireBefore flips ACTIVE tokens past their validity window to
	// EXPIRED and returns how many rows changed.
	ExpireBefore(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)
}

type Service interface {
	Issue(ctx context.Context, req IssueTokenRequest) (*IssuedToken, error)
	Redeem(ctx context.Context, req RedeemTokenRequest) (*RedeemTokenResponse, error)
	Invalidate(ctx context.Context, req InvalidateTokenRequest) error
	SweepExpired(ctx context.Context) (int64, error)
}
