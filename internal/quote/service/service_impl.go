package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/finvo/internal/audit/domain"
	"github.com/smallbiznis/finvo/internal/clock"
	quotedomain "github.com/smallbiznis/finvo/internal/quote/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	AuditSvc auditdomain.Service
	Repo     quotedomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service
	repo     quotedomain.Repository
}

func NewService(p Params) quotedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("quote.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
		repo:     p.Repo,
	}
}

func (s *Service) GetByID(ctx context.Context, orgID, id snowflake.ID) (*quotedomain.Quote, error) {
	item, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, quotedomain.ErrQuoteNotFound
	}
	return item, nil
}

func (s *Service) Estimate(ctx context.Context, orgID, id snowflake.ID) (*quotedomain.Quote, error) {
	return s.transition(ctx, orgID, id, "quote.estimated", func(q quotedomain.Quote, now time.Time) (quotedomain.Quote, error) {
		return quotedomain.Estimate(q, now)
	})
}

func (s *Service) Send(ctx context.Context, orgID, id snowflake.ID) (*quotedomain.Quote, error) {
	return s.transition(ctx, orgID, id, "quote.sent", func(q quotedomain.Quote, now time.Time) (quotedomain.Quote, error) {
		return quotedomain.Send(q, now)
	})
}

func (s *Service) View(ctx context.Context, orgID, id snowflake.ID) (*quotedomain.Quote, error) {
	return s.transition(ctx, orgID, id, "quote.viewed", func(q quotedomain.Quote, now time.Time) (quotedomain.Quote, error) {
		return quotedomain.View(q, now)
	})
}

func (s *Service) Accept(ctx context.Context, orgID, id snowflake.ID, actor string) (*quotedomain.Quote, error) {
	return s.transition(ctx, orgID, id, "quote.accepted", func(q quotedomain.Quote, now time.Time) (quotedomain.Quote, error) {
		return quotedomain.Accept(q, actor, now)
	})
}

func (s *Service) Reject(ctx context.Context, orgID, id snowflake.ID, note string) (*quotedomain.Quote, error) {
	return s.transition(ctx, orgID, id, "quote.rejected", func(q quotedomain.Quote, now time.Time) (quotedomain.Quote, error) {
		return quotedomain.Reject(q, note, now)
	})
}

// transition loads the quote under a row lock, applies the pure guard, and
// writes the full next snapshot in a single transaction.
func (s *Service) transition(
	ctx context.Context,
	orgID, id snowflake.ID,
	action string,
	fn func(quotedomain.Quote, time.Time) (quotedomain.Quote, error),
) (*quotedomain.Quote, error) {
	now := s.clock.Now()

	var next quotedomain.Quote
	var before quotedomain.QuoteStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if current == nil {
			return quotedomain.ErrQuoteNotFound
		}
		before = current.Status

		next, err = fn(*current, now)
		if err != nil {
			return err
		}
		return s.repo.Update(ctx, tx, &next)
	})
	if err != nil {
		return nil, err
	}

	s.writeAuditLog(ctx, action, &next, before)
	return &next, nil
}

func (s *Service) SweepExpired(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()

	candidates, err := s.repo.ListExpirable(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.repo.FindByIDForUpdate(ctx, tx, candidate.OrgID, candidate.ID)
			if err != nil {
				return err
			}
			if current == nil {
				return nil
			}
			next, err := quotedomain.MarkExpired(*current, now)
			if err != nil {
				// Raced with an accept/reject; leave it be.
				return nil
			}
			if err := s.repo.Update(ctx, tx, &next); err != nil {
				return err
			}
			expired++
			s.writeAuditLog(ctx, "quote.expired", &next, current.Status)
			return nil
		})
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

func (s *Service) writeAuditLog(ctx context.Context, action string, quote *quotedomain.Quote, before quotedomain.QuoteStatus) {
	if s.auditSvc == nil || quote == nil {
		return
	}
	targetID := quote.ID.String()
	orgID := quote.OrgID
	metadata := map[string]any{
		"quote_number":  quote.QuoteNumber,
		"status_before": string(before),
		"status_after":  string(quote.Status),
		"total_amount":  quote.TotalAmount,
		"currency":      quote.Currency,
	}
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "quote", &targetID, metadata); err != nil {
		s.log.Warn("failed to write quote audit log", zap.String("action", action), zap.Error(err))
	}
}
