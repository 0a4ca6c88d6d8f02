package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finvo/internal/approval/domain"
	auditdomain "github.com/smallbiznis/finvo/internal/audit/domain"
	"github.com/smallbiznis/finvo/internal/clock"
	"github.com/smallbiznis/finvo/internal/config"
	"github.com/smallbiznis/finvo/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sweepBatchSize = 100

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	CfgHolder *config.ReconcileConfigHolder
	AuditSvc  auditdomain.Service
	Repo      domain.Repository
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	cfgHolder *config.ReconcileConfigHolder
	auditSvc  auditdomain.Service
	repo      domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("approval.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		cfgHolder: p.CfgHolder,
		auditSvc:  p.AuditSvc,
		repo:      p.Repo,
	}
}

func (s *Service) SubmitForApproval(ctx context.Context, req domain.SubmitRequest) (*domain.ApprovalRequest, error) {
	if req.OrgID == 0 || req.TargetID == 0 || req.Amount < 0 || req.RequestedBy == "" {
		return nil, domain.ErrInvalidApprovalRequest
	}

	threshold := thresholdFor(s.cfgHolder.Get(), req.Amount)
	if threshold == nil || threshold.AutoApprove || len(threshold.Levels) == 0 {
		// Under the auto-approve floor nothing is recorded; the caller
		// proceeds directly.
		metrics.Reconcile().IncApprovalAction("submit", "auto_approved")
		return nil, nil
	}

	now := s.clock.Now()
	levels := make([]domain.LevelSpec, len(threshold.Levels))
	for i, lvl := range threshold.Levels {
		levels[i] = domain.LevelSpec{
			Level:          i + 1,
			Role:           lvl.Role,
			Timeout:        lvl.Timeout,
			EscalationRole: lvl.EscalationRole,
		}
	}
	deadline := now.Add(levels[0].Timeout)
	levels[0].Deadline = &deadline

	request := &domain.ApprovalRequest{
		ID:              s.genID.Generate(),
		OrgID:           req.OrgID,
		TargetType:      req.TargetType,
		TargetID:        req.TargetID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Status:          domain.ApprovalPending,
		CurrentLevel:    1,
		CurrentDeadline: &deadline,
		Levels:          levels,
		RequestedBy:     req.RequestedBy,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, request); err != nil {
		return nil, err
	}

	metrics.Reconcile().IncApprovalAction("submit", "pending")
	s.writeAuditLog(ctx, "approval.submitted", request, map[string]any{"levels": len(levels)})
	return request, nil
}

func (s *Service) GetByID(ctx context.Context, orgID, id snowflake.ID) (*domain.ApprovalRequest, error) {
	request, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, domain.ErrApprovalNotFound
	}
	return request, nil
}

func (s *Service) ListPending(ctx context.Context, orgID snowflake.ID, limit int) ([]*domain.ApprovalRequest, error) {
	return s.repo.ListPending(ctx, s.db, orgID, limit)
}

func (s *Service) History(ctx context.Context, orgID, requestID snowflake.ID) ([]*domain.ApprovalRecord, error) {
	return s.repo.ListRecords(ctx, s.db, orgID, requestID)
}

func (s *Service) LatestForTarget(ctx context.Context, orgID snowflake.ID, targetType string, targetID snowflake.ID) (*domain.ApprovalRequest, error) {
	return s.repo.FindLatestByTarget(ctx, s.db, orgID, targetType, targetID)
}

func (s *Service) Approve(ctx context.Context, req domain.ActionRequest) (*domain.ApprovalRequest, error) {
	request, err := s.act(ctx, req, domain.ActionApprove)
	if err != nil {
		metrics.Reconcile().IncApprovalAction("approve", outcomeLabel(err))
		return nil, err
	}
	metrics.Reconcile().IncApprovalAction("approve", "ok")
	return request, nil
}

func (s *Service) Reject(ctx context.Context, req domain.ActionRequest) (*domain.ApprovalRequest, error) {
	request, err := s.act(ctx, req, domain.ActionReject)
	if err != nil {
		metrics.Reconcile().IncApprovalAction("reject", outcomeLabel(err))
		return nil, err
	}
	metrics.Reconcile().IncApprovalAction("reject", "ok")
	return request, nil
}

// act runs the shared lock-check-record path for approve and reject.
func (s *Service) act(ctx context.Context, req domain.ActionRequest, action domain.ApprovalAction) (*domain.ApprovalRequest, error) {
	now := s.clock.Now()

	var next *domain.ApprovalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := s.repo.FindByIDForUpdate(ctx, tx, req.OrgID, req.RequestID)
		if err != nil {
			return err
		}
		if request == nil {
			return domain.ErrApprovalNotFound
		}
		if request.Status.Terminal() {
			return domain.ErrAlreadyDecided
		}

		level := request.ActiveLevel()
		if level == nil {
			return domain.ErrInvalidApprovalRequest
		}

		actorRole := req.ActorRole
		if req.OnBehalfOf != "" {
			delegation, err := s.resolveDelegation(ctx, tx, req, request, now)
			if err != nil {
				return err
			}
			actorRole = delegation.Role
		}

		// The requester cannot move their own request, directly or
		// through a delegation.
		if req.ActorID == request.RequestedBy || req.OnBehalfOf == request.RequestedBy {
			return domain.ErrSelfApproval
		}
		if actorRole != level.Role {
			return domain.ErrWrongLevel
		}

		record := &domain.ApprovalRecord{
			ID:         s.genID.Generate(),
			OrgID:      req.OrgID,
			RequestID:  request.ID,
			Level:      request.CurrentLevel,
			Action:     action,
			ActorID:    req.ActorID,
			ActorRole:  actorRole,
			OnBehalfOf: req.OnBehalfOf,
			Note:       req.Note,
			CreatedAt:  now,
		}
		if err := s.repo.InsertRecord(ctx, tx, record); err != nil {
			return err
		}

		switch action {
		case domain.ActionReject:
			request.Status = domain.ApprovalRejected
			request.DecidedAt = &now
			request.CurrentDeadline = nil
		case domain.ActionApprove:
			if request.CurrentLevel >= len(request.Levels) {
				request.Status = domain.ApprovalApproved
				request.DecidedAt = &now
				request.CurrentDeadline = nil
			} else {
				request.CurrentLevel++
				nextLevel := request.ActiveLevel()
				deadline := now.Add(nextLevel.Timeout)
				nextLevel.Deadline = &deadline
				request.Status = domain.ApprovalPending
				request.CurrentDeadline = &deadline
			}
		}
		request.UpdatedAt = now

		if err := s.repo.Update(ctx, tx, request); err != nil {
			return err
		}
		next = request
		return nil
	})
	if err != nil {
		return nil, err
	}

	auditAction := "approval.approved_level"
	if action == domain.ActionReject {
		auditAction = "approval.rejected"
	} else if next.Status == domain.ApprovalApproved {
		auditAction = "approval.approved"
	}
	s.writeAuditLog(ctx, auditAction, next, map[string]any{"actor": req.ActorID})
	return next, nil
}

func (s *Service) resolveDelegation(ctx context.Context, tx *gorm.DB, req domain.ActionRequest, request *domain.ApprovalRequest, now time.Time) (*domain.Delegation, error) {
	delegation, err := s.repo.FindDelegation(ctx, tx, req.OrgID, req.OnBehalfOf, req.ActorID)
	if err != nil {
		return nil, err
	}
	if delegation == nil || !delegation.Active(now) {
		return nil, domain.ErrDelegationNotFound
	}
	if delegation.MaxAmount != nil && request.Amount > *delegation.MaxAmount {
		return nil, domain.ErrDelegationLimitExceeded
	}
	if !delegation.Covers(request.TargetType) {
		return nil, domain.ErrDelegationCategoryDenied
	}
	return delegation, nil
}

func (s *Service) Escalate(ctx context.Context, req domain.ActionRequest) (*domain.ApprovalRequest, error) {
	now := s.clock.Now()

	var next *domain.ApprovalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		request, err := s.repo.FindByIDForUpdate(ctx, tx, req.OrgID, req.RequestID)
		if err != nil {
			return err
		}
		if request == nil {
			return domain.ErrApprovalNotFound
		}

		next, err = s.escalateLocked(ctx, tx, request, req.ActorID, req.Note, now)
		return err
	})
	if err != nil {
		metrics.Reconcile().IncApprovalAction("escalate", outcomeLabel(err))
		return nil, err
	}

	metrics.Reconcile().IncApprovalAction("escalate", "ok")
	s.writeAuditLog(ctx, "approval.escalated", next, map[string]any{"actor": req.ActorID})
	return next, nil
}

// escalateLocked rewrites the active level to its escalation role and
// restarts its deadline. The caller holds the row lock.
func (s *Service) escalateLocked(ctx context.Context, tx *gorm.DB, request *domain.ApprovalRequest, actorID, note string, now time.Time) (*domain.ApprovalRequest, error) {
	if request.Status.Terminal() {
		return nil, domain.ErrAlreadyDecided
	}
	level := request.ActiveLevel()
	if level == nil {
		return nil, domain.ErrInvalidApprovalRequest
	}
	if level.EscalationRole == "" {
		// Nowhere to go; the request sits until someone acts or it is
		// expired administratively.
		request.Status = domain.ApprovalExpired
		request.DecidedAt = &now
		request.CurrentDeadline = nil
		request.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, request); err != nil {
			return nil, err
		}
		return request, nil
	}

	record := &domain.ApprovalRecord{
		ID:        s.genID.Generate(),
		OrgID:     request.OrgID,
		RequestID: request.ID,
		Level:     request.CurrentLevel,
		Action:    domain.ActionEscalate,
		ActorID:   actorID,
		ActorRole: level.Role,
		Note:      note,
		CreatedAt: now,
	}
	if err := s.repo.InsertRecord(ctx, tx, record); err != nil {
		return nil, err
	}

	level.Role = level.EscalationRole
	level.EscalationRole = escalationRoleAbove(level.Role)
	deadline := now.Add(level.Timeout)
	level.Deadline = &deadline

	request.Status = domain.ApprovalEscalated
	request.CurrentDeadline = &deadline
	request.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, request); err != nil {
		return nil, err
	}
	return request, nil
}

// escalationRoleAbove gives the next rung after an escalation consumed
// the configured one, so repeated timeouts keep climbing.
func escalationRoleAbove(role string) string {
	switch role {
	case domain.RoleManager:
		return domain.RoleAdmin
	case domain.RoleAdmin:
		return domain.RoleExecutive
	default:
		return ""
	}
}

func (s *Service) Delegate(ctx context.Context, req domain.DelegateRequest) (*domain.Delegation, error) {
	if req.OrgID == 0 || req.Principal == "" || req.Delegate == "" || req.Role == "" {
		return nil, domain.ErrInvalidApprovalRequest
	}
	if req.Principal == req.Delegate {
		return nil, domain.ErrSelfApproval
	}
	now := s.clock.Now()

	delegation := &domain.Delegation{
		ID:         s.genID.Generate(),
		OrgID:      req.OrgID,
		Principal:  req.Principal,
		Delegate:   req.Delegate,
		Role:       req.Role,
		MaxAmount:  req.MaxAmount,
		Categories: req.Categories,
		ExpiresAt:  req.ExpiresAt,
		CreatedAt:  now,
	}
	if err := s.repo.InsertDelegation(ctx, s.db, delegation); err != nil {
		return nil, err
	}
	return delegation, nil
}

func (s *Service) SweepOverdue(ctx context.Context) (int64, error) {
	now := s.clock.Now()

	overdue, err := s.repo.ListOverdue(ctx, s.db, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	var escalated int64
	for _, stale := range overdue {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			request, err := s.repo.FindByIDForUpdate(ctx, tx, stale.OrgID, stale.ID)
			if err != nil {
				return err
			}
			// Someone may have acted between the list and the lock.
			if request == nil || request.Status.Terminal() ||
				request.CurrentDeadline == nil || !request.CurrentDeadline.Before(now) {
				return nil
			}
			next, err := s.escalateLocked(ctx, tx, request, "system", "level timeout", now)
			if err != nil {
				return err
			}
			if next.Status == domain.ApprovalEscalated || next.Status == domain.ApprovalExpired {
				escalated++
			}
			return nil
		})
		if err != nil {
			s.log.Warn("failed to escalate overdue approval",
				zap.String("request_id", stale.ID.String()), zap.Error(err))
		}
	}

	if escalated > 0 {
		s.log.Info("escalated overdue approvals", zap.Int64("count", escalated))
	}
	return escalated, nil
}

func thresholdFor(cfg config.ReconcileConfig, amount int64) *config.ApprovalThreshold {
	for i := range cfg.ApprovalThresholds {
		t := &cfg.ApprovalThresholds[i]
		if amount < t.MinAmount {
			continue
		}
		if t.MaxAmount != nil && amount >= *t.MaxAmount {
			continue
		}
		return t
	}
	return nil
}

func outcomeLabel(err error) string {
	switch err {
	case domain.ErrWrongLevel:
		return "wrong_level"
	case domain.ErrSelfApproval:
		return "self_approval"
	case domain.ErrDelegationNotFound, domain.ErrDelegationLimitExceeded, domain.ErrDelegationCategoryDenied:
		return "delegation_denied"
	case domain.ErrAlreadyDecided:
		return "already_decided"
	case domain.ErrApprovalNotFound:
		return "not_found"
	default:
		return "error"
	}
}

func (s *Service) writeAuditLog(ctx context.Context, action string, request *domain.ApprovalRequest, extra map[string]any) {
	if s.auditSvc == nil || request == nil {
		return
	}
	metadata := map[string]any{
		"target_type":   request.TargetType,
		"target_id":     request.TargetID.String(),
		"amount":        request.Amount,
		"currency":      request.Currency,
		"status":        string(request.Status),
		"current_level": request.CurrentLevel,
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	targetID := request.ID.String()
	orgID := request.OrgID
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "approval_request", &targetID, metadata); err != nil {
		s.log.Warn("failed to write approval audit log", zap.String("action", action), zap.Error(err))
	}
}
