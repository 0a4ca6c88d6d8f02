package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	acceptancedomain "github.com/smallbiznis/finvo/internal/acceptance/domain"
	approvaldomain "github.com/smallbiznis/finvo/internal/approval/domain"
	"github.com/smallbiznis/finvo/internal/clock"
	quotedomain "github.com/smallbiznis/finvo/internal/quote/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// The stubs embed the domain interfaces so only the sweep entry points
// need bodies.

type quoteSvcStub struct {
	quotedomain.Service
	calls int
	err   error
}

func (s *quoteSvcStub) SweepExpired(ctx context.Context, limit int) (int, error) {
	s.calls++
	return 2, s.err
}

type acceptanceSvcStub struct {
	acceptancedomain.Service
	calls int
	err   error
}

func (s *acceptanceSvcStub) SweepExpired(ctx context.Context) (int64, error) {
	s.calls++
	return 1, s.err
}

type approvalSvcStub struct {
	approvaldomain.Service
	calls int
	err   error
}

func (s *approvalSvcStub) SweepOverdue(ctx context.Context) (int64, error) {
	s.calls++
	return 1, s.err
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *quoteSvcStub, *acceptanceSvcStub, *approvalSvcStub) {
	quotes := &quoteSvcStub{}
	tokens := &acceptanceSvcStub{}
	approvals := &approvalSvcStub{}

	s, err := New(Params{
		Log:           zap.NewNop(),
		Clock:         clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)),
		QuoteSvc:      quotes,
		AcceptanceSvc: tokens,
		ApprovalSvc:   approvals,
		Config:        cfg,
	})
	assert.NoError(t, err)
	return s, quotes, tokens, approvals
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRunsEverySweep(t *testing.T) {
	s, quotes, tokens, approvals := newTestScheduler(t, Config{})

	assert.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, quotes.calls)
	assert.Equal(t, 1, tokens.calls)
	assert.Equal(t, 1, approvals.calls)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	s, quotes, tokens, approvals := newTestScheduler(t, Config{
		EnabledJobs: []string{"quote_expiry", "APPROVAL_ESCALATION"},
	})

	assert.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, quotes.calls)
	assert.Equal(t, 0, tokens.calls)
	assert.Equal(t, 1, approvals.calls)
}

func TestRunOnceJoinsSweepErrors(t *testing.T) {
	s, quotes, tokens, approvals := newTestScheduler(t, Config{})
	boom := errors.New("db gone")
	quotes.err = boom

	err := s.RunOnce(context.Background())
	assert.ErrorIs(t, err, boom)
	// One failing sweep never blocks the others.
	assert.Equal(t, 1, tokens.calls)
	assert.Equal(t, 1, approvals.calls)
}

func TestRunOnceSwallowsTimeouts(t *testing.T) {
	s, _, tokens, _ := newTestScheduler(t, Config{})
	tokens.err = context.DeadlineExceeded

	assert.NoError(t, s.RunOnce(context.Background()))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, time.Minute, cfg.RunInterval)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.JobTimeout)

	custom := Config{BatchSize: 10}.withDefaults()
	assert.Equal(t, 10, custom.BatchSize)
	assert.Equal(t, time.Minute, custom.RunInterval)
}
