// Package scheduler runs the periodic sweeps: quote expiry, acceptance
// token expiry, and approval timeout escalation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	acceptancedomain "github.com/smallbiznis/finvo/internal/acceptance/domain"
	approvaldomain "github.com/smallbiznis/finvo/internal/approval/domain"
	auditdomain "github.com/smallbiznis/finvo/internal/audit/domain"
	"github.com/smallbiznis/finvo/internal/auditcontext"
	"github.com/smallbiznis/finvo/internal/clock"
	"github.com/smallbiznis/finvo/internal/observability/metrics"
	quotedomain "github.com/smallbiznis/finvo/internal/quote/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log           *zap.Logger
	Clock         clock.Clock
	QuoteSvc      quotedomain.Service
	AcceptanceSvc acceptancedomain.Service
	ApprovalSvc   approvaldomain.Service
	Config        Config `optional:"true"`
}

type Scheduler struct {
	log           *zap.Logger
	cfg           Config
	clock         clock.Clock
	quoteSvc      quotedomain.Service
	acceptanceSvc acceptancedomain.Service
	approvalSvc   approvaldomain.Service
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.QuoteSvc == nil || p.AcceptanceSvc == nil || p.ApprovalSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:           p.Log.Named("scheduler"),
		cfg:           p.Config.withDefaults(),
		clock:         p.Clock,
		quoteSvc:      p.QuoteSvc,
		acceptanceSvc: p.AcceptanceSvc,
		approvalSvc:   p.ApprovalSvc,
	}, nil
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")

	reconcileMetrics := metrics.Reconcile()
	reconcileMetrics.IncSweepRun(name)

	err := fn(ctx)
	reconcileMetrics.ObserveSweepDuration(name, time.Since(start).Seconds())
	if err == nil {
		return nil
	}

	reconcileMetrics.IncSweepError(name)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.log.Warn("sweep timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"quote_expiry", s.QuoteExpiryJob},
		{"token_expiry", s.TokenExpiryJob},
		{"approval_escalation", s.ApprovalEscalationJob},
	}

	var err error
	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

func (s *Scheduler) QuoteExpiryJob(ctx context.Context) error {
	count, err := s.quoteSvc.SweepExpired(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if count > 0 {
		s.log.Info("expired quotes", zap.Int("count", count))
	}
	return nil
}

func (s *Scheduler) TokenExpiryJob(ctx context.Context) error {
	_, err := s.acceptanceSvc.SweepExpired(ctx)
	return err
}

func (s *Scheduler) ApprovalEscalationJob(ctx context.Context) error {
	_, err := s.approvalSvc.SweepOverdue(ctx)
	return err
}
