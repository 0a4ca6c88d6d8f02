package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finvo/internal/acceptance/domain"
	"github.com/smallbiznis/finvo/internal/acceptance/secret"
	auditdomain "github.com/smallbiznis/finvo/internal/audit/domain"
	"github.com/smallbiznis/finvo/internal/clock"
	"github.com/smallbiznis/finvo/internal/notify"
	"github.com/smallbiznis/finvo/internal/observability/metrics"
	quotedomain "github.com/smallbiznis/finvo/internal/quote/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultTokenTTL = 14 * 24 * time.Hour

// followUpTTL bounds the booking token handed out after an accept.
const followUpTTL = 7 * 24 * time.Hour

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	AuditSvc  auditdomain.Service
	QuoteRepo quotedomain.Repository
	Notifier  notify.Notifier `optional:"true"`
	Repo      domain.Repository
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	auditSvc  auditdomain.Service
	quoteRepo quotedomain.Repository
	notifier  notify.Notifier
	repo      domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("acceptance.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		auditSvc:  p.AuditSvc,
		quoteRepo: p.QuoteRepo,
		notifier:  p.Notifier,
		repo:      p.Repo,
	}
}

func (s *Service) Issue(ctx context.Context, req domain.IssueTokenRequest) (*domain.IssuedToken, error) {
	if !domain.ValidPurpose(req.Purpose) {
		return nil, domain.ErrInvalidPurpose
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	issued, err := s.issueToken(ctx, s.db, req.OrgID, req.QuoteID, req.Purpose, ttl)
	if err != nil {
		return nil, err
	}

	s.writeAuditLog(ctx, "acceptance.token_issued", issued.Token, nil)
	return issued, nil
}

func (s *Service) issueToken(ctx context.Context, db *gorm.DB, orgID, quoteID snowflake.ID, purpose domain.TokenPurpose, ttl time.Duration) (*domain.IssuedToken, error) {
	now := s.clock.Now()
	id := s.genID.Generate()

	raw, encodedHash, err := secret.Generate(id)
	if err != nil {
		return nil, err
	}

	token := &domain.AcceptanceToken{
		ID:         id,
		OrgID:      orgID,
		QuoteID:    quoteID,
		Purpose:    purpose,
		SecretHash: encodedHash,
		Status:     domain.TokenActive,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if err := s.repo.Insert(ctx, db, token); err != nil {
		return nil, err
	}
	return &domain.IssuedToken{Token: token, Secret: raw}, nil
}

// Redeem consumes a token and applies the bound quote decision. The
// status flip and the quote transition commit together, so a token is
// never burned without its effect, and a raced duplicate loses cleanly.
func (s *Service) Redeem(ctx context.Context, req domain.RedeemTokenRequest) (*domain.RedeemTokenResponse, error) {
	now := s.clock.Now()

	tokenID, material, ok := secret.Parse(req.Secret)
	if !ok {
		s.observeRedemption(req.Purpose, "not_found")
		return nil, domain.ErrTokenNotFound
	}

	token, err := s.repo.FindByID(ctx, s.db, tokenID)
	if err != nil {
		if err == domain.ErrTokenNotFound {
			s.observeRedemption(req.Purpose, "not_found")
		}
		return nil, err
	}

	// A bad secret or a purpose mismatch both present as an unknown
	// token so callers cannot probe for live token IDs.
	if !secret.Verify(material, token.SecretHash) || token.Purpose != req.Purpose {
		s.observeRedemption(req.Purpose, "not_found")
		return nil, domain.ErrTokenNotFound
	}

	if err := redeemableGuard(token, now); err != nil {
		s.observeRedemption(req.Purpose, guardOutcome(err))
		return nil, err
	}

	var resp domain.RedeemTokenResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		won, err := s.repo.MarkUsed(ctx, tx, token.ID, req.Actor, now)
		if err != nil {
			return err
		}
		if !won {
			// Lost the race, or the token was retired between the
			// pre-check and the update. Re-read to report precisely.
			current, ferr := s.repo.FindByID(ctx, tx, token.ID)
			if ferr != nil {
				return ferr
			}
			if gerr := redeemableGuard(current, now); gerr != nil {
				return gerr
			}
			return domain.ErrTokenAlreadyUsed
		}

		quote, err := s.quoteRepo.FindByIDForUpdate(ctx, tx, token.OrgID, token.QuoteID)
		if err != nil {
			return err
		}
		if quote == nil {
			return quotedomain.ErrQuoteNotFound
		}

		var next quotedomain.Quote
		switch token.Purpose {
		case domain.PurposeAccept:
			next, err = quotedomain.Accept(*quote, req.Actor, now)
		case domain.PurposeReject:
			next, err = quotedomain.Reject(*quote, req.Note, now)
		default:
			return domain.ErrInvalidPurpose
		}
		if err != nil {
			return err
		}
		if err := s.quoteRepo.Update(ctx, tx, &next); err != nil {
			return err
		}

		// The decision retires every other outstanding token for this
		// quote, including the sibling accept/reject link.
		if _, err := s.repo.InvalidateByQuote(ctx, tx, token.QuoteID, "quote_decided", now); err != nil {
			return err
		}

		if token.Purpose == domain.PurposeAccept {
			followUp, err := s.issueToken(ctx, tx, token.OrgID, token.QuoteID, domain.PurposeBooking, followUpTTL)
			if err != nil {
				return err
			}
			resp.FollowUp = followUp
		}

		used := *token
		used.Status = domain.TokenUsed
		used.UsedAt = &now
		used.UsedBy = req.Actor
		resp.Token = &used
		resp.Quote = &next
		return nil
	})
	if err != nil {
		s.observeRedemption(req.Purpose, guardOutcome(err))
		return nil, err
	}

	s.observeRedemption(req.Purpose, "redeemed")
	s.writeAuditLog(ctx, "acceptance.token_redeemed", resp.Token, map[string]any{
		"quote_status": string(resp.Quote.Status),
		"actor":        req.Actor,
	})
	if s.notifier != nil {
		s.notifier.QuoteDecided(ctx, notify.QuoteDecisionEvent{
			OrgID:    resp.Quote.OrgID,
			QuoteID:  resp.Quote.ID,
			Accepted: token.Purpose == domain.PurposeAccept,
			Actor:    req.Actor,
		})
	}
	return &resp, nil
}

func (s *Service) Invalidate(ctx context.Context, req domain.InvalidateTokenRequest) error {
	now := s.clock.Now()

	token, err := s.repo.FindByID(ctx, s.db, req.TokenID)
	if err != nil {
		return err
	}
	if token.OrgID != req.OrgID {
		return domain.ErrTokenNotFound
	}

	changed, err := s.repo.MarkInvalidated(ctx, s.db, req.TokenID, req.Note, now)
	if err != nil {
		return err
	}
	if !changed {
		// Repeat invalidation is a no-op, but a consumed token stays
		// consumed.
		if token.Status == domain.TokenUsed {
			return domain.ErrTokenAlreadyUsed
		}
		return nil
	}

	token.Status = domain.TokenInvalidated
	token.InvalidatedAt = &now
	s.writeAuditLog(ctx, "acceptance.token_invalidated", token, map[string]any{"note": req.Note})
	return nil
}

func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	count, err := s.repo.ExpireBefore(ctx, s.db, now)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.log.Info("expired acceptance tokens", zap.Int64("count", count))
	}
	return count, nil
}

func redeemableGuard(token *domain.AcceptanceToken, now time.Time) error {
	switch token.Status {
	case domain.TokenUsed:
		return domain.ErrTokenAlreadyUsed
	case domain.TokenInvalidated:
		return domain.ErrTokenInvalidated
	}
	if token.Expired(now) {
		return domain.ErrTokenExpired
	}
	return nil
}

func guardOutcome(err error) string {
	switch err {
	case domain.ErrTokenAlreadyUsed:
		return "already_used"
	case domain.ErrTokenExpired:
		return "expired"
	case domain.ErrTokenInvalidated:
		return "invalidated"
	case domain.ErrTokenNotFound:
		return "not_found"
	default:
		return "error"
	}
}

func (s *Service) observeRedemption(purpose domain.TokenPurpose, outcome string) {
	metrics.Reconcile().IncTokenRedemption(string(purpose), outcome)
}

func (s *Service) writeAuditLog(ctx context.Context, action string, token *domain.AcceptanceToken, extra map[string]any) {
	if s.auditSvc == nil || token == nil {
		return
	}
	metadata := map[string]any{
		"quote_id": token.QuoteID.String(),
		"purpose":  string(token.Purpose),
		"status":   string(token.Status),
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	targetID := token.ID.String()
	orgID := token.OrgID
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "acceptance_token", &targetID, metadata); err != nil {
		s.log.Warn("failed to write token audit log", zap.String("action", action), zap.Error(err))
	}
}
