package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/finvo/internal/approval/domain"
	"github.com/smallbiznis/finvo/internal/approval/repository"
	"github.com/smallbiznis/finvo/internal/clock"
	"github.com/smallbiznis/finvo/internal/config"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type approvalFixture struct {
	db    *gorm.DB
	svc   domain.Service
	node  *snowflake.Node
	clock *clock.Fake
	orgID snowflake.ID
}

func setupApproval(t *testing.T) *approvalFixture {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&domain.ApprovalRequest{},
		&domain.ApprovalRecord{},
		&domain.Delegation{},
	))

	node, _ := snowflake.NewNode(1)
	fake := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		CfgHolder: config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig()),
		Repo:      repository.Provide(repository.Params{}),
	})

	return &approvalFixture{db: db, svc: svc, node: node, clock: fake, orgID: node.Generate()}
}

func (f *approvalFixture) submit(t *testing.T, amount int64) *domain.ApprovalRequest {
	request, err := f.svc.SubmitForApproval(context.Background(), domain.SubmitRequest{
		OrgID:       f.orgID,
		TargetType:  "invoice",
		TargetID:    f.node.Generate(),
		Amount:      amount,
		Currency:    "EUR",
		RequestedBy: "alice",
	})
	assert.NoError(t, err)
	assert.NotNil(t, request)
	return request
}

func TestSubmitUnderFloorAutoApproves(t *testing.T) {
	f := setupApproval(t)

	request, err := f.svc.SubmitForApproval(context.Background(), domain.SubmitRequest{
		OrgID:       f.orgID,
		TargetType:  "invoice",
		TargetID:    f.node.Generate(),
		Amount:      50_000,
		Currency:    "EUR",
		RequestedBy: "alice",
	})
	assert.NoError(t, err)
	assert.Nil(t, request)

	// Nothing is recorded for auto-approved amounts.
	var count int64
	f.db.Model(&domain.ApprovalRequest{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestSubmitRejectsBadInput(t *testing.T) {
	f := setupApproval(t)

	_, err := f.svc.SubmitForApproval(context.Background(), domain.SubmitRequest{
		OrgID: f.orgID, TargetID: f.node.Generate(), Amount: 150_000, Currency: "EUR",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidApprovalRequest)

	_, err = f.svc.SubmitForApproval(context.Background(), domain.SubmitRequest{
		OrgID: f.orgID, TargetID: f.node.Generate(), Amount: -1, Currency: "EUR", RequestedBy: "alice",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidApprovalRequest)
}

func TestSingleLevelApproval(t *testing.T) {
	f := setupApproval(t)
	ctx := context.Background()

	request := f.submit(t, 150_000)
	assert.Equal(t, domain.ApprovalPending, request.Status)
	assert.Len(t, request.Levels, 1)
	assert.Equal(t, domain.RoleManager, request.Levels[0].Role)
	assert.Equal(t, f.clock.Now().Add(48*time.Hour), *request.CurrentDeadline)

	decided, err := f.svc.Approve(ctx, domain.ActionRequest{
		OrgID:     f.orgID,
		RequestID: request.ID,
		ActorID:   "bob",
		ActorRole: domain.RoleManager,
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, decided.Status)
	assert.NotNil(t, decided.DecidedAt)
	assert.Nil(t, decided.CurrentDeadline)

	history, err := f.svc.History(ctx, f.orgID, request.ID)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, domain.ActionApprove, history[0].Action)
	assert.Equal(t, "bob", history[0].ActorID)
}

func TestTwoLevelChainAdvancesThenApproves(t *testing.T) {
	f := setupApproval(t)
	ctx := context.Background()

	request := f.submit(t, 2_000_000)
	assert.Len(t, request.Levels, 2)
	assert.Equal(t, domain.RoleManager, request.Levels[0].Role)
	assert.Equal(t, domain.RoleAdmin, request.Levels[1].Role)

	f.clock.Advance(time.Hour)
	afterFirst, err := f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "bob", ActorRole: domain.RoleManager,
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.ApprovalPending, afterFirst.Status)
	assert.Equal(t, 2, afterFirst.CurrentLevel)
	// The next level's clock starts when it becomes current.
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), *afterFirst.CurrentDeadline)

	decided, err := f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "carol", ActorRole: domain.RoleAdmin,
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, decided.Status)

	history, err := f.svc.History(ctx, f.orgID, request.ID)
	assert.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Level)
	assert.Equal(t, 2, history[1].Level)
}

func TestApproveWithWrongRole(t *testing.T) {
	f := setupApproval(t)

	request := f.submit(t, 2_000_000)
	_, err := f.svc.Approve(context.Background(), domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "carol", ActorRole: domain.RoleAdmin,
	})
	assert.ErrorIs(t, err, domain.ErrWrongLevel)
}

func TestRequesterCannotApproveOwnRequest(t *testing.T) {
	f := setupApproval(t)

	request := f.submit(t, 150_000)
	_, err := f.svc.Approve(context.Background(), domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "alice", ActorRole: domain.RoleManager,
	})
	assert.ErrorIs(t, err, domain.ErrSelfApproval)
}

func TestRejectIsTerminal(t *testing.T) {
	f := setupApproval(t)
	ctx := context.Background()

	request := f.submit(t, 150_000)
	rejected, err := f.svc.Reject(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "bob", ActorRole: domain.RoleManager,
		Note: "amount disputed by customer",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, rejected.Status)
	assert.NotNil(t, rejected.DecidedAt)

	_, err = f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "carol", ActorRole: domain.RoleManager,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)

	history, err := f.svc.History(ctx, f.orgID, request.ID)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, "amount disputed by customer", history[0].Note)
}

func TestDelegatedApproval(t *testing.T) {
	f := setupApproval(t)
	ctx := context.Background()

	request := f.submit(t, 150_000)
	_, err := f.svc.Delegate(ctx, domain.DelegateRequest{
		OrgID:     f.orgID,
		Principal: "bob",
		Delegate:  "dave",
		Role:      domain.RoleManager,
	})
	assert.NoError(t, err)

	// Dave carries Bob's role; his own role is irrelevant.
	decided, err := f.svc.Approve(ctx, domain.ActionRequest{
		OrgID:      f.orgID,
		RequestID:  request.ID,
		ActorID:    "dave",
		OnBehalfOf: "bob",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, decided.Status)

	history, err := f.svc.History(ctx, f.orgID, request.ID)
	assert.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, "dave", history[0].ActorID)
	assert.Equal(t, "bob", history[0].OnBehalfOf)
	assert.Equal(t, domain.RoleManager, history[0].ActorRole)
}

func TestDelegationAmountCap(t *testing.T) {
	f := setupApproval(t)
	ctx := context.Background()

	request := f.submit(t, 150_000)
	limit := int64(100_000)
	_, err := f.svc.Delegate(ctx, domain.DelegateRequest{
		OrgID:     f.orgID,
		Principal: "bob",
		Delegate:  "dave",
		Role:      domain.RoleManager,
		MaxAmount: &limit,
	})
	assert.NoError(t, err)

	_, err = f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "dave", OnBehalfOf: "bob",
	})
	assert.ErrorIs(t, err, domain.ErrDelegationLimitExceeded)
}

func TestDelegationCategoryAllowlist(t *testing.T) {
	f := setupApproval(t)
	ctx := context.Background()

	request := f.submit(t, 150_000)
	_, err := f.svc.Delegate(ctx, domain.DelegateRequest{
		OrgID:      f.orgID,
		Principal:  "bob",
		Delegate:   "dave",
		Role:       domain.RoleManager,
		Categories: []string{"payment"},
	})
	assert.NoError(t, err)

	// The delegation covers payments only; the request gates an invoice.
	_, err = f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "dave", OnBehalfOf: "bob",
	})
	assert.ErrorIs(t, err, domain.ErrDelegationCategoryDenied)

	f.clock.Advance(time.Minute)
	_, err = f.svc.Delegate(ctx, domain.DelegateRequest{
		OrgID:      f.orgID,
		Principal:  "bob",
		Delegate:   "dave",
		Role:       domain.RoleManager,
		Categories: []string{"payment", "INVOICE"},
	})
	assert.NoError(t, err)

	decided, err := f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "dave", OnBehalfOf: "bob",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, decided.Status)
}

func TestDelegationMissingOrExpired(t *testing.T) {
	f := setupApproval(t)
	ctx := context.Background()

	request := f.submit(t, 150_000)
	_, err := f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "dave", OnBehalfOf: "bob",
	})
	assert.ErrorIs(t, err, domain.ErrDelegationNotFound)

	expiry := f.clock.Now().Add(time.Hour)
	_, err = f.svc.Delegate(ctx, domain.DelegateRequest{
		OrgID:     f.orgID,
		Principal: "bob",
		Delegate:  "dave",
		Role:      domain.RoleManager,
		ExpiresAt: &expiry,
	})
	assert.NoError(t, err)

	f.clock.Advance(2 * time.Hour)
	_, err = f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "dave", OnBehalfOf: "bob",
	})
	assert.ErrorIs(t, err, domain.ErrDelegationNotFound)
}

func TestDelegationDoesNotBypassSelfApproval(t *testing.T) {
	f := setupApproval(t)
	ctx := context.Background()

	request := f.submit(t, 150_000)
	_, err := f.svc.Delegate(ctx, domain.DelegateRequest{
		OrgID:     f.orgID,
		Principal: "alice",
		Delegate:  "dave",
		Role:      domain.RoleManager,
	})
	assert.NoError(t, err)

	_, err = f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "dave", OnBehalfOf: "alice",
	})
	assert.ErrorIs(t, err, domain.ErrSelfApproval)
}

func TestDelegateRejectsSelfDelegation(t *testing.T) {
	f := setupApproval(t)

	_, err := f.svc.Delegate(context.Background(), domain.DelegateRequest{
		OrgID: f.orgID, Principal: "bob", Delegate: "bob", Role: domain.RoleManager,
	})
	assert.ErrorIs(t, err, domain.ErrSelfApproval)
}

func TestSweepOverdueClimbsTheLadder(t *testing.T) {
	f := setupApproval(t)
	ctx := context.Background()

	request := f.submit(t, 2_000_000)

	// Nothing to do while the deadline is in the future.
	count, err := f.svc.SweepOverdue(ctx)
	assert.NoError(t, err)
	assert.Zero(t, count)

	f.clock.Advance(25 * time.Hour)
	count, err = f.svc.SweepOverdue(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	escalated, err := f.svc.GetByID(ctx, f.orgID, request.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.ApprovalEscalated, escalated.Status)
	assert.Equal(t, domain.RoleAdmin, escalated.ActiveLevel().Role)
	assert.Equal(t, domain.RoleExecutive, escalated.ActiveLevel().EscalationRole)

	// The manager can no longer act at the escalated level.
	_, err = f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "bob", ActorRole: domain.RoleManager,
	})
	assert.ErrorIs(t, err, domain.ErrWrongLevel)

	f.clock.Advance(25 * time.Hour)
	_, err = f.svc.SweepOverdue(ctx)
	assert.NoError(t, err)
	stale, err := f.svc.GetByID(ctx, f.orgID, request.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.RoleExecutive, stale.ActiveLevel().Role)
	assert.Empty(t, stale.ActiveLevel().EscalationRole)

	// With no rung left the request expires.
	f.clock.Advance(25 * time.Hour)
	count, err = f.svc.SweepOverdue(ctx)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	expired, err := f.svc.GetByID(ctx, f.orgID, request.ID)
	assert.NoError(t, err)
	assert.Equal(t, domain.ApprovalExpired, expired.Status)
	assert.Nil(t, expired.CurrentDeadline)

	_, err = f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "eve", ActorRole: domain.RoleExecutive,
	})
	assert.ErrorIs(t, err, domain.ErrAlreadyDecided)
}

func TestEscalatedRequestApprovableByNewRole(t *testing.T) {
	f := setupApproval(t)
	ctx := context.Background()

	request := f.submit(t, 150_000)
	f.clock.Advance(49 * time.Hour)
	_, err := f.svc.SweepOverdue(ctx)
	assert.NoError(t, err)

	decided, err := f.svc.Approve(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: request.ID, ActorID: "carol", ActorRole: domain.RoleAdmin,
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.ApprovalApproved, decided.Status)

	history, err := f.svc.History(ctx, f.orgID, request.ID)
	assert.NoError(t, err)
	assert.Len(t, history, 2)
	assert.Equal(t, domain.ActionEscalate, history[0].Action)
	assert.Equal(t, domain.ActionApprove, history[1].Action)
}

func TestListPendingIncludesEscalated(t *testing.T) {
	f := setupApproval(t)
	ctx := context.Background()

	first := f.submit(t, 150_000)
	second := f.submit(t, 2_000_000)

	f.clock.Advance(49 * time.Hour)
	_, err := f.svc.SweepOverdue(ctx)
	assert.NoError(t, err)

	pending, err := f.svc.ListPending(ctx, f.orgID, 10)
	assert.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = f.svc.Reject(ctx, domain.ActionRequest{
		OrgID: f.orgID, RequestID: first.ID, ActorID: "carol", ActorRole: domain.RoleAdmin,
	})
	assert.NoError(t, err)

	pending, err = f.svc.ListPending(ctx, f.orgID, 10)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}
