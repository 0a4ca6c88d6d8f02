package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	approvaldomain "github.com/smallbiznis/finvo/internal/approval/domain"
	auditdomain "github.com/smallbiznis/finvo/internal/audit/domain"
	"github.com/smallbiznis/finvo/internal/clock"
	invoicedomain "github.com/smallbiznis/finvo/internal/invoice/domain"
	"github.com/smallbiznis/finvo/internal/notify"
	paymentdomain "github.com/smallbiznis/finvo/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	AuditSvc    auditdomain.Service
	ApprovalSvc approvaldomain.Service `optional:"true"`
	InvoiceSvc  invoicedomain.Service
	Notifier    notify.Notifier `optional:"true"`
	Repo        paymentdomain.Repository
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	auditSvc    auditdomain.Service
	approvalSvc approvaldomain.Service
	invoiceSvc  invoicedomain.Service
	notifier    notify.Notifier
	repo        paymentdomain.Repository
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payment.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		auditSvc:    p.AuditSvc,
		approvalSvc: p.ApprovalSvc,
		invoiceSvc:  p.InvoiceSvc,
		notifier:    p.Notifier,
		repo:        p.Repo,
	}
}

func (s *Service) GetByID(ctx context.Context, orgID, id snowflake.ID) (*paymentdomain.Payment, error) {
	item, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	return item, nil
}

func (s *Service) ListReviewQueue(ctx context.Context, orgID snowflake.ID, limit int) ([]*paymentdomain.Payment, error) {
	return s.repo.ListByStatus(ctx, s.db, orgID, paymentdomain.PaymentStatusPendingReview, limit)
}

func (s *Service) ResolveReview(ctx context.Context, orgID, id snowflake.ID, approve bool, reviewer, note string) (*paymentdomain.Payment, error) {
	now := s.clock.Now()

	outcome := paymentdomain.PaymentStatusFailed
	if approve {
		outcome = paymentdomain.PaymentStatusCompleted
	}

	// Completion of a queued payment is gated by the approval workflow:
	// above the auto-approve floor the linked request must be APPROVED
	// before the review can settle anything.
	if approve && s.approvalSvc != nil {
		current, err := s.repo.FindByID(ctx, s.db, orgID, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, paymentdomain.ErrPaymentNotFound
		}
		if current.Status == paymentdomain.PaymentStatusPendingReview {
			if err := s.approvalGate(ctx, current); err != nil {
				return nil, err
			}
		}
	}

	var next paymentdomain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if current == nil {
			return paymentdomain.ErrPaymentNotFound
		}

		next, err = paymentdomain.Resolve(*current, outcome, reviewer, note, now)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, tx, &next); err != nil {
			return err
		}

		// A completed review settles the linked invoice in the same unit.
		if approve && next.InvoiceID != nil && *next.InvoiceID != 0 {
			if _, err := s.invoiceSvc.ApplyPaymentWithin(ctx, tx, orgID, *next.InvoiceID, next.Amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	action := "payment.review_rejected"
	if approve {
		action = "payment.review_approved"
	}
	s.writeAuditLog(ctx, action, &next, map[string]any{"reviewer": reviewer})
	return &next, nil
}

// approvalGate checks the request gating a payment's completion. When
// none was opened yet it submits one, so a payment seeded outside the
// match path still cannot skip the chain.
func (s *Service) approvalGate(ctx context.Context, payment *paymentdomain.Payment) error {
	request, err := s.approvalSvc.LatestForTarget(ctx, payment.OrgID, approvaldomain.TargetTypePayment, payment.ID)
	if err != nil {
		return err
	}
	if request == nil {
		request, err = s.approvalSvc.SubmitForApproval(ctx, approvaldomain.SubmitRequest{
			OrgID:       payment.OrgID,
			TargetType:  approvaldomain.TargetTypePayment,
			TargetID:    payment.ID,
			Amount:      payment.Amount,
			Currency:    payment.Currency,
			RequestedBy: "system",
		})
		if err != nil {
			return err
		}
	}
	// nil here means the amount sits in an auto-approve band.
	if request != nil && request.Status != approvaldomain.ApprovalApproved {
		return paymentdomain.ErrApprovalRequired
	}
	return nil
}

func (s *Service) Refund(ctx context.Context, orgID, id snowflake.ID, actor string) (*paymentdomain.Payment, error) {
	now := s.clock.Now()

	var next paymentdomain.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if current == nil {
			return paymentdomain.ErrPaymentNotFound
		}

		next, err = paymentdomain.MarkRefunded(*current, now)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, tx, &next); err != nil {
			return err
		}

		if next.InvoiceID != nil && *next.InvoiceID != 0 {
			if _, err := s.invoiceSvc.ApplyRefundWithin(ctx, tx, orgID, *next.InvoiceID, next.Amount); err != nil {
				return err
			}
		}

		refund := paymentdomain.Payment{
			ID:         s.genID.Generate(),
			OrgID:      orgID,
			CustomerID: next.CustomerID,
			InvoiceID:  next.InvoiceID,
			Amount:     -next.Amount,
			Currency:   next.Currency,
			Method:     next.Method,
			Status:     paymentdomain.PaymentStatusCompleted,
			RefundOfID: &next.ID,
			Metadata:   datatypes.JSONMap{},
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if _, err := s.repo.Insert(ctx, tx, &refund); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.writeAuditLog(ctx, "payment.refunded", &next, map[string]any{"actor": actor})
	if s.notifier != nil {
		s.notifier.PaymentRefunded(ctx, notify.PaymentRefundedEvent{
			OrgID:     next.OrgID,
			PaymentID: next.ID,
			Amount:    next.Amount,
			Currency:  next.Currency,
		})
	}
	return &next, nil
}

func (s *Service) writeAuditLog(ctx context.Context, action string, payment *paymentdomain.Payment, extra map[string]any) {
	if s.auditSvc == nil || payment == nil {
		return
	}
	metadata := map[string]any{
		"amount":   payment.Amount,
		"currency": payment.Currency,
		"status":   string(payment.Status),
		"method":   payment.Method,
	}
	if payment.InvoiceID != nil && *payment.InvoiceID != 0 {
		metadata["invoice_id"] = payment.InvoiceID.String()
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	targetID := payment.ID.String()
	orgID := payment.OrgID
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "payment", &targetID, metadata); err != nil {
		s.log.Warn("failed to write payment audit log", zap.String("action", action), zap.Error(err))
	}
}
