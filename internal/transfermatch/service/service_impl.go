package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	approvaldomain "github.com/smallbiznis/finvo/internal/approval/domain"
	auditdomain "github.com/smallbiznis/finvo/internal/audit/domain"
	"github.com/smallbiznis/finvo/internal/clock"
	"github.com/smallbiznis/finvo/internal/config"
	invoicedomain "github.com/smallbiznis/finvo/internal/invoice/domain"
	"github.com/smallbiznis/finvo/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/finvo/internal/payment/domain"
	"github.com/smallbiznis/finvo/internal/transfermatch/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const transferMethod = "bank_transfer"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	CfgHolder   *config.ReconcileConfigHolder
	AuditSvc    auditdomain.Service
	ApprovalSvc approvaldomain.Service `optional:"true"`
	InvoiceRepo invoicedomain.Repository
	InvoiceSvc  invoicedomain.Service
	PaymentRepo paymentdomain.Repository
	Repo        domain.Repository
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfgHolder   *config.ReconcileConfigHolder
	auditSvc    auditdomain.Service
	approvalSvc approvaldomain.Service
	invoiceRepo invoicedomain.Repository
	invoiceSvc  invoicedomain.Service
	paymentRepo paymentdomain.Repository
	repo        domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("transfermatch.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfgHolder:   p.CfgHolder,
		auditSvc:    p.AuditSvc,
		approvalSvc: p.ApprovalSvc,
		invoiceRepo: p.InvoiceRepo,
		invoiceSvc:  p.InvoiceSvc,
		paymentRepo: p.PaymentRepo,
		repo:        p.Repo,
	}
}

func (s *Service) MatchTransfer(ctx context.Context, notif domain.TransferNotification) (*domain.MatchResult, error) {
	if notif.OrgID == 0 || notif.Amount <= 0 || notif.Currency == "" {
		return nil, domain.ErrInvalidNotification
	}

	cfg := s.cfgHolder.Get()
	now := s.clock.Now()

	if dup, err := s.findDuplicate(ctx, notif, cfg, now); err != nil {
		return nil, err
	} else if dup != nil {
		metrics.Reconcile().IncDuplicateTransfer()
		metrics.Reconcile().IncMatchDecision(string(domain.ConfidenceNone), string(domain.DispositionDuplicate))
		s.log.Info("duplicate transfer notification",
			zap.String("org_id", notif.OrgID.String()),
			zap.String("payment_id", dup.ID.String()),
		)
		return &domain.MatchResult{
			Disposition: domain.DispositionDuplicate,
			Confidence:  domain.ConfidenceNone,
			Payment:     dup,
			DuplicateOf: &dup.ID,
		}, nil
	}

	candidates, err := s.rank(ctx, notif, cfg)
	if err != nil {
		return nil, err
	}

	disposition, confidence := domain.Decide(notif, candidates, cfg)

	result := &domain.MatchResult{
		Disposition: disposition,
		Confidence:  confidence,
		Candidates:  candidates,
	}
	if len(candidates) > 0 {
		result.Score = candidates[0].Score
	}

	payment := s.buildPayment(notif, candidates, disposition, now)
	result.RequiresReview = payment.Status == paymentdomain.PaymentStatusPendingReview
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.paymentRepo.Insert(ctx, tx, payment)
		if err != nil {
			return err
		}
		if !inserted {
			// Lost an idempotency-key race since the probe above.
			return domain.ErrDuplicateTransfer
		}

		if disposition == domain.DispositionAutoApplied {
			invoice, err := s.invoiceSvc.ApplyPaymentWithin(ctx, tx, notif.OrgID, *payment.InvoiceID, payment.Amount)
			if err != nil {
				return err
			}
			result.Invoice = invoice
		}
		return nil
	})
	if err == domain.ErrDuplicateTransfer {
		existing, ferr := s.paymentRepo.FindByIdempotencyKey(ctx, s.db, notif.OrgID, notif.IdempotencyKey)
		if ferr != nil || existing == nil {
			return nil, err
		}
		metrics.Reconcile().IncDuplicateTransfer()
		return &domain.MatchResult{
			Disposition: domain.DispositionDuplicate,
			Confidence:  domain.ConfidenceNone,
			Payment:     existing,
			DuplicateOf: &existing.ID,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	result.Payment = payment
	metrics.Reconcile().IncMatchDecision(string(confidence), string(disposition))
	if disposition == domain.DispositionAutoApplied {
		metrics.Reconcile().IncPaymentApplied("auto_match")
	}
	if result.RequiresReview {
		s.submitForApproval(ctx, payment)
	}

	s.writeAuditLog(ctx, "transfer.matched", notif.OrgID, payment, map[string]any{
		"disposition": string(disposition),
		"confidence":  string(confidence),
		"candidates":  len(candidates),
	})
	return result, nil
}

func (s *Service) CreatePaymentFromMatch(ctx context.Context, req domain.CreateFromMatchRequest) (*domain.MatchResult, error) {
	if req.OrgID == 0 || req.InvoiceID == 0 || req.Notification.Amount <= 0 {
		return nil, domain.ErrInvalidNotification
	}
	cfg := s.cfgHolder.Get()
	now := s.clock.Now()

	notif := req.Notification
	notif.OrgID = req.OrgID
	key := req.IdempotencyKey
	if key == "" {
		key = notif.IdempotencyKey
	}
	notif.IdempotencyKey = key

	// The manual path runs the same duplicate guard as the feed path, so
	// a keyless replay of an already recorded transfer cannot apply the
	// invoice twice.
	if dup, err := s.findDuplicate(ctx, notif, cfg, now); err != nil {
		return nil, err
	} else if dup != nil {
		metrics.Reconcile().IncDuplicateTransfer()
		return &domain.MatchResult{
			Disposition: domain.DispositionDuplicate,
			Confidence:  domain.ConfidenceNone,
			Payment:     dup,
			DuplicateOf: &dup.ID,
		}, nil
	}

	payment := &paymentdomain.Payment{
		ID:              s.genID.Generate(),
		OrgID:           req.OrgID,
		InvoiceID:       &req.InvoiceID,
		Amount:          notif.Amount,
		Currency:        notif.Currency,
		Method:          transferMethod,
		Status:          paymentdomain.PaymentStatusCompleted,
		SenderName:      notif.SenderName,
		SenderEmail:     notif.SenderEmail,
		ReferenceNumber: notif.ReferenceNumber,
		TransferDate:    notif.TransferDate,
		Metadata:        datatypes.JSONMap{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if key != "" {
		payment.IdempotencyKey = &key
	}

	result := &domain.MatchResult{
		Disposition: domain.DispositionAutoApplied,
		Confidence:  domain.ConfidenceNone,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.paymentRepo.Insert(ctx, tx, payment)
		if err != nil {
			return err
		}
		if !inserted {
			return domain.ErrDuplicateTransfer
		}

		invoice, err := s.invoiceSvc.ApplyPaymentWithin(ctx, tx, req.OrgID, req.InvoiceID, payment.Amount)
		if err != nil {
			return err
		}
		payment.CustomerID = invoice.CustomerID
		result.Invoice = invoice
		return nil
	})
	if err == domain.ErrDuplicateTransfer && key != "" {
		existing, ferr := s.paymentRepo.FindByIdempotencyKey(ctx, s.db, req.OrgID, key)
		if ferr == nil && existing != nil {
			metrics.Reconcile().IncDuplicateTransfer()
			return &domain.MatchResult{
				Disposition: domain.DispositionDuplicate,
				Confidence:  domain.ConfidenceNone,
				Payment:     existing,
				DuplicateOf: &existing.ID,
			}, nil
		}
	}
	if err != nil {
		return nil, err
	}

	result.Payment = payment
	metrics.Reconcile().IncPaymentApplied("manual_match")
	s.writeAuditLog(ctx, "transfer.manually_matched", req.OrgID, payment, map[string]any{
		"operator":   req.Operator,
		"invoice_id": req.InvoiceID.String(),
	})
	return result, nil
}

func (s *Service) findDuplicate(ctx context.Context, notif domain.TransferNotification, cfg config.ReconcileConfig, now time.Time) (*paymentdomain.Payment, error) {
	if notif.IdempotencyKey != "" {
		existing, err := s.paymentRepo.FindByIdempotencyKey(ctx, s.db, notif.OrgID, notif.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}
	return s.paymentRepo.FindDuplicate(ctx, s.db, paymentdomain.DuplicateProbe{
		OrgID:       notif.OrgID,
		Amount:      notif.Amount,
		SenderEmail: notif.SenderEmail,
		SenderName:  notif.SenderName,
		Window:      time.Duration(cfg.DuplicateWindowMinutes) * time.Minute,
		Now:         now,
	})
}

func (s *Service) rank(ctx context.Context, notif domain.TransferNotification, cfg config.ReconcileConfig) ([]domain.MatchCandidate, error) {
	invoices, err := s.invoiceRepo.ListOpen(ctx, s.db, notif.OrgID)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, nil
	}

	ids := make([]snowflake.ID, 0, len(invoices))
	seen := make(map[snowflake.ID]struct{}, len(invoices))
	for _, inv := range invoices {
		if _, ok := seen[inv.CustomerID]; ok {
			continue
		}
		seen[inv.CustomerID] = struct{}{}
		ids = append(ids, inv.CustomerID)
	}

	customers, err := s.repo.LoadCustomers(ctx, s.db, notif.OrgID, ids)
	if err != nil {
		return nil, err
	}

	return domain.RankCandidates(notif, invoices, func(inv *invoicedomain.Invoice) domain.CandidateCustomer {
		return customers[inv.CustomerID]
	}, cfg.Weights), nil
}

func (s *Service) buildPayment(notif domain.TransferNotification, candidates []domain.MatchCandidate, disposition domain.Disposition, now time.Time) *paymentdomain.Payment {
	payment := &paymentdomain.Payment{
		ID:              s.genID.Generate(),
		OrgID:           notif.OrgID,
		Amount:          notif.Amount,
		Currency:        notif.Currency,
		Method:          transferMethod,
		Status:          paymentdomain.PaymentStatusPendingReview,
		SenderName:      notif.SenderName,
		SenderEmail:     notif.SenderEmail,
		ReferenceNumber: notif.ReferenceNumber,
		TransferDate:    notif.TransferDate,
		Metadata:        datatypes.JSONMap{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if notif.IdempotencyKey != "" {
		key := notif.IdempotencyKey
		payment.IdempotencyKey = &key
	}

	if len(candidates) > 0 {
		best := candidates[0]
		score := best.Score
		payment.MatchScore = &score
		// The best candidate is attached even on review, so approving
		// the queued payment settles that invoice.
		payment.InvoiceID = &best.Invoice.ID
		payment.CustomerID = best.Invoice.CustomerID
	}
	if disposition == domain.DispositionAutoApplied {
		payment.Status = paymentdomain.PaymentStatusCompleted
	}
	return payment
}

// submitForApproval opens the approval chain for a payment headed to
// the review queue. The configured thresholds decide whether anything
// is recorded; a failure here does not undo the match.
func (s *Service) submitForApproval(ctx context.Context, payment *paymentdomain.Payment) {
	if s.approvalSvc == nil {
		return
	}
	_, err := s.approvalSvc.SubmitForApproval(ctx, approvaldomain.SubmitRequest{
		OrgID:       payment.OrgID,
		TargetType:  approvaldomain.TargetTypePayment,
		TargetID:    payment.ID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		RequestedBy: "system",
	})
	if err != nil {
		s.log.Warn("failed to open approval for queued payment",
			zap.String("payment_id", payment.ID.String()), zap.Error(err))
	}
}

func (s *Service) writeAuditLog(ctx context.Context, action string, orgID snowflake.ID, payment *paymentdomain.Payment, extra map[string]any) {
	if s.auditSvc == nil || payment == nil {
		return
	}
	metadata := map[string]any{
		"amount":    payment.Amount,
		"currency":  payment.Currency,
		"status":    string(payment.Status),
		"reference": payment.ReferenceNumber,
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
	if err := s.auditSvc.AuditLog(ctx, &orgID, "", nil, action, "payment", &targetID, metadata); err != nil {
		s.log.Warn("failed to write match audit log", zap.String("action", action), zap.Error(err))
	}
}
