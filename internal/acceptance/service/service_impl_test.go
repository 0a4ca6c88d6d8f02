package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/finvo/internal/acceptance/domain"
	"github.com/smallbiznis/finvo/internal/acceptance/repository"
	"github.com/smallbiznis/finvo/internal/clock"
	quotedomain "github.com/smallbiznis/finvo/internal/quote/domain"
	quoterepository "github.com/smallbiznis/finvo/internal/quote/repository"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type acceptanceFixture struct {
	db    *gorm.DB
	svc   domain.Service
	node  *snowflake.Node
	clock *clock.Fake
}

func setupAcceptance(t *testing.T) acceptanceFixture {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&domain.AcceptanceToken{}, &quotedomain.Quote{}))

	node, _ := snowflake.NewNode(1)
	fake := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		QuoteRepo: quoterepository.Provide(),
		Repo:      repository.Provide(repository.Params{}),
	})
	return acceptanceFixture{db: db, svc: svc, node: node, clock: fake}
}

func (f acceptanceFixture) seedQuote(t *testing.T, status quotedomain.QuoteStatus) *quotedomain.Quote {
	q := &quotedomain.Quote{
		ID:          f.node.Generate(),
		OrgID:       f.node.Generate(),
		CustomerID:  f.node.Generate(),
		QuoteNumber: "Q-" + f.node.Generate().String(),
		Status:      status,
		TotalAmount: 113000,
		Currency:    "EUR",
		Metadata:    datatypes.JSONMap{},
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	assert.NoError(t, f.db.Create(q).Error)
	return q
}

func TestIssueAndRedeemAccept(t *testing.T) {
	f := setupAcceptance(t)
	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusSent)

	issued, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID:   quote.OrgID,
		QuoteID: quote.ID,
		Purpose: domain.PurposeAccept,
	})
	assert.NoError(t, err)
	assert.NotEmpty(t, issued.Secret)
	assert.Equal(t, domain.TokenActive, issued.Token.Status)
	// The stored record never holds the raw secret.
	assert.NotContains(t, issued.Token.SecretHash, issued.Secret)

	resp, err := f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret:  issued.Secret,
		Purpose: domain.PurposeAccept,
		Actor:   "buyer@example.com",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.TokenUsed, resp.Token.Status)
	assert.Equal(t, quotedomain.QuoteStatusAccepted, resp.Quote.Status)
	assert.Equal(t, "buyer@example.com", *resp.Quote.AcceptedBy)

	// An accept redemption provisions the booking follow-up.
	assert.NotNil(t, resp.FollowUp)
	assert.Equal(t, domain.PurposeBooking, resp.FollowUp.Token.Purpose)
	assert.Equal(t, quote.ID, resp.FollowUp.Token.QuoteID)
}

func TestRedeemIsSingleUse(t *testing.T) {
	f := setupAcceptance(t)
	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusSent)

	issued, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeAccept,
	})
	assert.NoError(t, err)

	_, err = f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: issued.Secret, Purpose: domain.PurposeAccept, Actor: "first",
	})
	assert.NoError(t, err)

	_, err = f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: issued.Secret, Purpose: domain.PurposeAccept, Actor: "second",
	})
	assert.ErrorIs(t, err, domain.ErrTokenAlreadyUsed)
}

// rivalRepo hands back a stale snapshot on the first read while a rival
// consumes the token underneath, so the conditional update inside the
// redeem transaction finds it already taken.
type rivalRepo struct {
	domain.Repository
	rivalAt time.Time
	fired   bool
}

func (r *rivalRepo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.AcceptanceToken, error) {
	token, err := r.Repository.FindByID(ctx, db, id)
	if err != nil || r.fired {
		return token, err
	}
	r.fired = true
	won, err := r.Repository.MarkUsed(ctx, db, id, "rival@example.com", r.rivalAt)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, domain.ErrTokenAlreadyUsed
	}
	return token, nil
}

func TestRedeemConcurrentAttemptLosesCleanly(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&domain.AcceptanceToken{}, &quotedomain.Quote{}))

	node, _ := snowflake.NewNode(1)
	fake := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	racer := &rivalRepo{Repository: repository.Provide(repository.Params{}), rivalAt: fake.Now()}

	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		QuoteRepo: quoterepository.Provide(),
		Repo:      racer,
	})
	f := acceptanceFixture{db: db, svc: svc, node: node, clock: fake}

	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusSent)
	issued, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeAccept,
	})
	assert.NoError(t, err)

	_, err = f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: issued.Secret, Purpose: domain.PurposeAccept, Actor: "slow@example.com",
	})
	assert.ErrorIs(t, err, domain.ErrTokenAlreadyUsed)

	// The rival's consume stands; the loser's attempt committed nothing.
	var reloaded domain.AcceptanceToken
	assert.NoError(t, f.db.First(&reloaded, "id = ?", issued.Token.ID).Error)
	assert.Equal(t, domain.TokenUsed, reloaded.Status)
	assert.Equal(t, "rival@example.com", reloaded.UsedBy)

	var sameQuote quotedomain.Quote
	assert.NoError(t, f.db.First(&sameQuote, "id = ?", quote.ID).Error)
	assert.Equal(t, quotedomain.QuoteStatusSent, sameQuote.Status)
}

func TestRedeemRetiresSiblingTokens(t *testing.T) {
	f := setupAcceptance(t)
	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusSent)

	acceptTok, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeAccept,
	})
	assert.NoError(t, err)
	rejectTok, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeReject,
	})
	assert.NoError(t, err)

	_, err = f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: acceptTok.Secret, Purpose: domain.PurposeAccept, Actor: "buyer",
	})
	assert.NoError(t, err)

	// The sibling reject link is dead now.
	_, err = f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: rejectTok.Secret, Purpose: domain.PurposeReject, Actor: "buyer",
	})
	assert.ErrorIs(t, err, domain.ErrTokenInvalidated)
}

func TestRedeemRejectDeclinesQuote(t *testing.T) {
	f := setupAcceptance(t)
	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusViewed)

	issued, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeReject,
	})
	assert.NoError(t, err)

	resp, err := f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret:  issued.Secret,
		Purpose: domain.PurposeReject,
		Actor:   "buyer@example.com",
		Note:    "went with a competitor",
	})
	assert.NoError(t, err)
	assert.Equal(t, quotedomain.QuoteStatusRejected, resp.Quote.Status)
	assert.Equal(t, "went with a competitor", *resp.Quote.RejectionNote)
	// No booking follow-up on a reject.
	assert.Nil(t, resp.FollowUp)
}

func TestRedeemPurposeMismatchPresentsAsNotFound(t *testing.T) {
	f := setupAcceptance(t)
	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusSent)

	issued, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeAccept,
	})
	assert.NoError(t, err)

	_, err = f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: issued.Secret, Purpose: domain.PurposeReject, Actor: "buyer",
	})
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	// The failed attempt burned nothing.
	resp, err := f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: issued.Secret, Purpose: domain.PurposeAccept, Actor: "buyer",
	})
	assert.NoError(t, err)
	assert.Equal(t, quotedomain.QuoteStatusAccepted, resp.Quote.Status)
}

func TestRedeemRejectsTamperedSecret(t *testing.T) {
	f := setupAcceptance(t)
	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusSent)

	issued, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeAccept,
	})
	assert.NoError(t, err)

	_, err = f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: issued.Token.ID.String() + ".forged-material", Purpose: domain.PurposeAccept,
	})
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)

	_, err = f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: "garbage", Purpose: domain.PurposeAccept,
	})
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestRedeemExpiredToken(t *testing.T) {
	f := setupAcceptance(t)
	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusSent)

	issued, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeAccept, TTL: time.Hour,
	})
	assert.NoError(t, err)

	f.clock.Advance(2 * time.Hour)

	_, err = f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: issued.Secret, Purpose: domain.PurposeAccept,
	})
	assert.ErrorIs(t, err, domain.ErrTokenExpired)
}

func TestInvalidateIsIdempotent(t *testing.T) {
	f := setupAcceptance(t)
	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusSent)

	issued, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeAccept,
	})
	assert.NoError(t, err)

	req := domain.InvalidateTokenRequest{
		OrgID: quote.OrgID, TokenID: issued.Token.ID, Note: "resent with new terms",
	}
	assert.NoError(t, f.svc.Invalidate(ctx, req))
	assert.NoError(t, f.svc.Invalidate(ctx, req))

	_, err = f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: issued.Secret, Purpose: domain.PurposeAccept,
	})
	assert.ErrorIs(t, err, domain.ErrTokenInvalidated)
}

func TestInvalidateUsedTokenFails(t *testing.T) {
	f := setupAcceptance(t)
	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusSent)

	issued, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeAccept,
	})
	assert.NoError(t, err)

	_, err = f.svc.Redeem(ctx, domain.RedeemTokenRequest{
		Secret: issued.Secret, Purpose: domain.PurposeAccept, Actor: "buyer",
	})
	assert.NoError(t, err)

	err = f.svc.Invalidate(ctx, domain.InvalidateTokenRequest{
		OrgID: quote.OrgID, TokenID: issued.Token.ID,
	})
	assert.ErrorIs(t, err, domain.ErrTokenAlreadyUsed)
}

func TestInvalidateScopedToOrg(t *testing.T) {
	f := setupAcceptance(t)
	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusSent)

	issued, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeAccept,
	})
	assert.NoError(t, err)

	err = f.svc.Invalidate(ctx, domain.InvalidateTokenRequest{
		OrgID: f.node.Generate(), TokenID: issued.Token.ID,
	})
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestSweepExpiredTokens(t *testing.T) {
	f := setupAcceptance(t)
	ctx := context.Background()
	quote := f.seedQuote(t, quotedomain.QuoteStatusSent)

	short, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeAccept, TTL: time.Hour,
	})
	assert.NoError(t, err)
	long, err := f.svc.Issue(ctx, domain.IssueTokenRequest{
		OrgID: quote.OrgID, QuoteID: quote.ID, Purpose: domain.PurposeReject, TTL: 48 * time.Hour,
	})
	assert.NoError(t, err)

	f.clock.Advance(2 * time.Hour)

	count, err := f.svc.SweepExpired(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var reloaded domain.AcceptanceToken
	assert.NoError(t, f.db.First(&reloaded, "id = ?", short.Token.ID).Error)
	assert.Equal(t, domain.TokenExpired, reloaded.Status)

	var reloadedLong domain.AcceptanceToken
	assert.NoError(t, f.db.First(&reloadedLong, "id = ?", long.Token.ID).Error)
	assert.Equal(t, domain.TokenActive, reloadedLong.Status)
}
