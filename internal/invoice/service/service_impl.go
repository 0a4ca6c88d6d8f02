package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/finvo/internal/audit/domain"
	"github.com/smallbiznis/finvo/internal/clock"
	invoicedomain "github.com/smallbiznis/finvo/internal/invoice/domain"
	"github.com/smallbiznis/finvo/internal/ledger"
	"github.com/smallbiznis/finvo/internal/lifecycle"
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
	Repo     invoicedomain.Repository
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	auditSvc auditdomain.Service
	repo     invoicedomain.Repository
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoice.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
		repo:     p.Repo,
	}
}

func (s *Service) GetByID(ctx context.Context, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	item, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return item, nil
}

// Send is the one manual lifecycle transition: DRAFT to SENT, guarded on
// item presence and a positive total.
func (s *Service) Send(ctx context.Context, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	now := s.clock.Now()

	var next invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if current == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if current.Status.Terminal() {
			return lifecycle.ErrAlreadyTerminal
		}
		if current.Status != ledger.StatusDraft {
			return lifecycle.ErrInvalidState
		}
		if current.TotalAmount <= 0 {
			return invoicedomain.ErrEmptyInvoice
		}
		count, err := s.repo.CountItems(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if count == 0 {
			return invoicedomain.ErrEmptyInvoice
		}

		next = *current
		next.Status = ledger.StatusSent
		next.SentAt = &now
		next.UpdatedAt = now
		return s.repo.UpdateLifecycle(ctx, tx, &next)
	})
	if err != nil {
		return nil, err
	}

	s.writeAuditLog(ctx, "invoice.sent", &next, nil)
	return &next, nil
}

func (s *Service) ApplyPayment(ctx context.Context, orgID, id snowflake.ID, amount int64) (*invoicedomain.Invoice, error) {
	var out *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settled, err := s.ApplyPaymentWithin(ctx, tx, orgID, id, amount)
		if err != nil {
			return err
		}
		out = settled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ApplyRefund(ctx context.Context, orgID, id snowflake.ID, amount int64) (*invoicedomain.Invoice, error) {
	var out *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settled, err := s.ApplyRefundWithin(ctx, tx, orgID, id, amount)
		if err != nil {
			return err
		}
		out = settled
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ApplyPaymentWithin(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, amount int64) (*invoicedomain.Invoice, error) {
	return s.settle(ctx, tx, orgID, id, amount, false)
}

func (s *Service) ApplyRefundWithin(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, amount int64) (*invoicedomain.Invoice, error) {
	return s.settle(ctx, tx, orgID, id, amount, true)
}

// settle linearizes balance mutations per invoice: the row lock plus the
// version check guarantee no interleaving write between read and write.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, amount int64, refund bool) (*invoicedomain.Invoice, error) {
	now := s.clock.Now()

	current, err := s.repo.FindByIDForUpdate(ctx, tx, orgID, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}

	var snap ledger.Snapshot
	if refund {
		snap, err = ledger.ApplyRefund(current.Snapshot(), amount)
	} else {
		snap, err = ledger.ApplyPayment(current.Snapshot(), amount)
	}
	if err != nil {
		return nil, err
	}

	next := *current
	next.AmountPaid = snap.AmountPaid
	next.BalanceAmount = snap.Balance
	next.Status = snap.Status
	next.UpdatedAt = now
	if snap.Status == ledger.StatusPaid {
		if next.PaidAt == nil {
			next.PaidAt = &now
		}
	} else {
		next.PaidAt = nil
	}

	updated, err := s.repo.UpdateSettlement(ctx, tx, &next, current.Version)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, invoicedomain.ErrConcurrentWrite
	}
	next.Version = current.Version + 1

	action := "invoice.payment_applied"
	if refund {
		action = "invoice.refund_applied"
	}
	s.writeAuditLog(ctx, action, &next, map[string]any{
		"amount":             amount,
		"amount_paid_before": current.AmountPaid,
	})

	return &next, nil
}

func (s *Service) writeAuditLog(ctx context.Context, action string, invoice *invoicedomain.Invoice, extra map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	metadata := map[string]any{
		"invoice_number": invoice.InvoiceNumber,
		"status":         string(invoice.Status),
		"total_amount":   invoice.TotalAmount,
		"amount_paid":    invoice.AmountPaid,
		"balance_amount": invoice.BalanceAmount,
		"currency":       invoice.Currency,
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}
	targetID := invoice.ID.String()
	orgID := invoice.OrgID
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("failed to write invoice audit log", zap.String("action", action), zap.Error(err))
	}
}
