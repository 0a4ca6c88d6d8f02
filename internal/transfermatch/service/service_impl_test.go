package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	approvaldomain "github.com/smallbiznis/finvo/internal/approval/domain"
	approvalrepository "github.com/smallbiznis/finvo/internal/approval/repository"
	approvalservice "github.com/smallbiznis/finvo/internal/approval/service"
	"github.com/smallbiznis/finvo/internal/clock"
	"github.com/smallbiznis/finvo/internal/config"
	customerdomain "github.com/smallbiznis/finvo/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/finvo/internal/invoice/domain"
	invoicerepository "github.com/smallbiznis/finvo/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/finvo/internal/invoice/service"
	"github.com/smallbiznis/finvo/internal/ledger"
	paymentdomain "github.com/smallbiznis/finvo/internal/payment/domain"
	paymentrepository "github.com/smallbiznis/finvo/internal/payment/repository"
	"github.com/smallbiznis/finvo/internal/transfermatch/domain"
	"github.com/smallbiznis/finvo/internal/transfermatch/repository"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type matchFixture struct {
	db    *gorm.DB
	svc   domain.Service
	node  *snowflake.Node
	clock *clock.Fake
	orgID snowflake.ID
}

func matchConfig() config.ReconcileConfig {
	cfg := config.DefaultReconcileConfig()
	cfg.HighValueThreshold = 1_000_000
	return cfg
}

func setupMatch(t *testing.T) *matchFixture {
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&paymentdomain.Payment{},
		&customerdomain.Customer{},
		&customerdomain.ContactEmail{},
		&approvaldomain.ApprovalRequest{},
		&approvaldomain.ApprovalRecord{},
		&approvaldomain.Delegation{},
	))

	node, _ := snowflake.NewNode(1)
	fake := clock.NewFake(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	holder := config.NewStaticReconcileConfigHolder(matchConfig())
	invoiceRepo := invoicerepository.Provide()

	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  invoiceRepo,
	})
	approvalSvc := approvalservice.NewService(approvalservice.Params{
		DB:        db,
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     fake,
		CfgHolder: holder,
		Repo:      approvalrepository.Provide(approvalrepository.Params{}),
	})

	svc := NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       fake,
		CfgHolder:   holder,
		ApprovalSvc: approvalSvc,
		InvoiceRepo: invoiceRepo,
		InvoiceSvc:  invoiceSvc,
		PaymentRepo: paymentrepository.Provide(),
		Repo:        repository.Provide(repository.Params{}),
	})

	return &matchFixture{db: db, svc: svc, node: node, clock: fake, orgID: node.Generate()}
}

func (f *matchFixture) seedCustomer(t *testing.T, name, email string) snowflake.ID {
	id := f.node.Generate()
	assert.NoError(t, f.db.Create(&customerdomain.Customer{
		ID:        id,
		OrgID:     f.orgID,
		Name:      name,
		Email:     email,
		CreatedAt: f.clock.Now(),
		UpdatedAt: f.clock.Now(),
	}).Error)
	return id
}

func (f *matchFixture) seedOpenInvoice(t *testing.T, customerID snowflake.ID, number string, balance int64) *invoicedomain.Invoice {
	inv := &invoicedomain.Invoice{
		ID:            f.node.Generate(),
		OrgID:         f.orgID,
		CustomerID:    customerID,
		InvoiceNumber: number,
		Status:        ledger.StatusSent,
		TotalAmount:   balance,
		BalanceAmount: balance,
		Currency:      "EUR",
		Metadata:      datatypes.JSONMap{},
		CreatedAt:     f.clock.Now(),
		UpdatedAt:     f.clock.Now(),
	}
	assert.NoError(t, f.db.Create(inv).Error)
	return inv
}

func TestMatchTransferAutoApplies(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	custID := f.seedCustomer(t, "José García S.A.", "jose@garcia.example")
	inv := f.seedOpenInvoice(t, custID, "INV-2024-0042", 113000)

	result, err := f.svc.MatchTransfer(ctx, domain.TransferNotification{
		OrgID:           f.orgID,
		Amount:          113000,
		Currency:        "EUR",
		SenderName:      "Jose Garcia",
		SenderEmail:     "jose@garcia.example",
		ReferenceNumber: "inv 2024 0042",
		IdempotencyKey:  "feed-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.DispositionAutoApplied, result.Disposition)
	assert.Equal(t, domain.ConfidenceHigh, result.Confidence)
	assert.False(t, result.RequiresReview)
	assert.Equal(t, 100, result.Score)
	assert.Equal(t, paymentdomain.PaymentStatusCompleted, result.Payment.Status)
	assert.Equal(t, inv.ID, *result.Payment.InvoiceID)

	// The invoice settled in the same transaction.
	assert.Equal(t, ledger.StatusPaid, result.Invoice.Status)
	assert.Equal(t, int64(0), result.Invoice.BalanceAmount)
}

func TestMatchTransferWeakSignalGoesToReview(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	custID := f.seedCustomer(t, "Acme GmbH", "billing@acme.example")
	inv := f.seedOpenInvoice(t, custID, "INV-2024-0050", 50000)

	result, err := f.svc.MatchTransfer(ctx, domain.TransferNotification{
		OrgID:       f.orgID,
		Amount:      49900,
		Currency:    "EUR",
		SenderEmail: "billing@acme.example",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.DispositionReview, result.Disposition)
	assert.True(t, result.RequiresReview)
	assert.Equal(t, 20, result.Score)
	assert.Equal(t, paymentdomain.PaymentStatusPendingReview, result.Payment.Status)
	// The best candidate rides along so a reviewer's approval settles it.
	assert.Equal(t, inv.ID, *result.Payment.InvoiceID)

	// The invoice is untouched until a human decides.
	var reloaded invoicedomain.Invoice
	assert.NoError(t, f.db.First(&reloaded, "id = ?", inv.ID).Error)
	assert.Equal(t, ledger.StatusSent, reloaded.Status)
	assert.Equal(t, int64(50000), reloaded.BalanceAmount)
}

func TestMatchTransferAmbiguousCandidates(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	alphaID := f.seedCustomer(t, "Alpha Trading", "alpha@example.com")
	betaID := f.seedCustomer(t, "Beta Logistics", "beta@example.com")
	f.seedOpenInvoice(t, alphaID, "INV-A-1", 25000)
	f.seedOpenInvoice(t, betaID, "INV-B-1", 25000)

	result, err := f.svc.MatchTransfer(ctx, domain.TransferNotification{
		OrgID:    f.orgID,
		Amount:   25000,
		Currency: "EUR",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.DispositionReview, result.Disposition)
	assert.Len(t, result.Candidates, 2)
	assert.Equal(t, paymentdomain.PaymentStatusPendingReview, result.Payment.Status)
}

func TestMatchTransferHighValueNeverAutoApplies(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	custID := f.seedCustomer(t, "Big Corp", "ap@bigcorp.example")
	f.seedOpenInvoice(t, custID, "INV-2024-0099", 5_000_000)

	result, err := f.svc.MatchTransfer(ctx, domain.TransferNotification{
		OrgID:           f.orgID,
		Amount:          5_000_000,
		Currency:        "EUR",
		SenderEmail:     "ap@bigcorp.example",
		ReferenceNumber: "INV-2024-0099",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.DispositionReview, result.Disposition)
	assert.Equal(t, domain.ConfidenceHigh, result.Confidence)
	assert.Equal(t, paymentdomain.PaymentStatusPendingReview, result.Payment.Status)
}

func TestMatchTransferNoCandidates(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	result, err := f.svc.MatchTransfer(ctx, domain.TransferNotification{
		OrgID:      f.orgID,
		Amount:     7000,
		Currency:   "EUR",
		SenderName: "Unknown Sender",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.DispositionNoMatch, result.Disposition)
	assert.Equal(t, domain.ConfidenceNone, result.Confidence)
	// The money still lands in the review queue; it just has no lead.
	assert.Equal(t, paymentdomain.PaymentStatusPendingReview, result.Payment.Status)
	assert.Nil(t, result.Payment.InvoiceID)
}

func TestMatchTransferDuplicateByIdempotencyKey(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	custID := f.seedCustomer(t, "José García S.A.", "jose@garcia.example")
	f.seedOpenInvoice(t, custID, "INV-2024-0042", 113000)

	notif := domain.TransferNotification{
		OrgID:           f.orgID,
		Amount:          113000,
		Currency:        "EUR",
		SenderEmail:     "jose@garcia.example",
		ReferenceNumber: "INV-2024-0042",
		IdempotencyKey:  "feed-42",
	}

	first, err := f.svc.MatchTransfer(ctx, notif)
	assert.NoError(t, err)
	assert.Equal(t, domain.DispositionAutoApplied, first.Disposition)

	second, err := f.svc.MatchTransfer(ctx, notif)
	assert.NoError(t, err)
	assert.Equal(t, domain.DispositionDuplicate, second.Disposition)
	assert.Equal(t, first.Payment.ID, *second.DuplicateOf)

	// No second payment, no double settlement.
	var count int64
	f.db.Model(&paymentdomain.Payment{}).Where("org_id = ?", f.orgID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestMatchTransferDuplicateBySenderWindow(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	custID := f.seedCustomer(t, "Acme GmbH", "billing@acme.example")
	f.seedOpenInvoice(t, custID, "INV-2024-0050", 50000)

	notif := domain.TransferNotification{
		OrgID:       f.orgID,
		Amount:      50000,
		Currency:    "EUR",
		SenderEmail: "billing@acme.example",
		SenderName:  "Acme GmbH",
	}

	_, err := f.svc.MatchTransfer(ctx, notif)
	assert.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	second, err := f.svc.MatchTransfer(ctx, notif)
	assert.NoError(t, err)
	assert.Equal(t, domain.DispositionDuplicate, second.Disposition)
}

func TestMatchTransferRejectsInvalidNotification(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	_, err := f.svc.MatchTransfer(ctx, domain.TransferNotification{OrgID: f.orgID, Amount: 0, Currency: "EUR"})
	assert.ErrorIs(t, err, domain.ErrInvalidNotification)

	_, err = f.svc.MatchTransfer(ctx, domain.TransferNotification{OrgID: f.orgID, Amount: -5, Currency: "EUR"})
	assert.ErrorIs(t, err, domain.ErrInvalidNotification)

	_, err = f.svc.MatchTransfer(ctx, domain.TransferNotification{OrgID: f.orgID, Amount: 100})
	assert.ErrorIs(t, err, domain.ErrInvalidNotification)
}

func TestCreatePaymentFromMatch(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	custID := f.seedCustomer(t, "Acme GmbH", "billing@acme.example")
	inv := f.seedOpenInvoice(t, custID, "INV-2024-0050", 50000)

	result, err := f.svc.CreatePaymentFromMatch(ctx, domain.CreateFromMatchRequest{
		OrgID:     f.orgID,
		InvoiceID: inv.ID,
		Notification: domain.TransferNotification{
			OrgID:    f.orgID,
			Amount:   50000,
			Currency: "EUR",
		},
		Operator:       "ops@example.com",
		IdempotencyKey: "manual-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, paymentdomain.PaymentStatusCompleted, result.Payment.Status)
	assert.Equal(t, custID, result.Payment.CustomerID)
	assert.Equal(t, ledger.StatusPaid, result.Invoice.Status)

	// Replaying the manual apply reports the original payment.
	replay, err := f.svc.CreatePaymentFromMatch(ctx, domain.CreateFromMatchRequest{
		OrgID:     f.orgID,
		InvoiceID: inv.ID,
		Notification: domain.TransferNotification{
			OrgID: f.orgID, Amount: 50000, Currency: "EUR",
		},
		IdempotencyKey: "manual-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.DispositionDuplicate, replay.Disposition)
	assert.Equal(t, result.Payment.ID, *replay.DuplicateOf)
}

func TestCreatePaymentFromMatchKeylessReplay(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	custID := f.seedCustomer(t, "Acme GmbH", "billing@acme.example")
	inv := f.seedOpenInvoice(t, custID, "INV-2024-0060", 50000)

	notif := domain.TransferNotification{
		Amount:      50000,
		Currency:    "EUR",
		SenderName:  "Acme GmbH",
		SenderEmail: "billing@acme.example",
	}

	first, err := f.svc.CreatePaymentFromMatch(ctx, domain.CreateFromMatchRequest{
		OrgID: f.orgID, InvoiceID: inv.ID, Notification: notif, Operator: "ops@example.com",
	})
	assert.NoError(t, err)
	assert.Equal(t, ledger.StatusPaid, first.Invoice.Status)

	// Without an idempotency key the sender+amount window still catches
	// the replay; the invoice is not settled twice.
	f.clock.Advance(10 * time.Minute)
	second, err := f.svc.CreatePaymentFromMatch(ctx, domain.CreateFromMatchRequest{
		OrgID: f.orgID, InvoiceID: inv.ID, Notification: notif, Operator: "ops@example.com",
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.DispositionDuplicate, second.Disposition)
	assert.Equal(t, first.Payment.ID, *second.DuplicateOf)

	var count int64
	f.db.Model(&paymentdomain.Payment{}).Where("org_id = ?", f.orgID).Count(&count)
	assert.Equal(t, int64(1), count)

	var reloaded invoicedomain.Invoice
	assert.NoError(t, f.db.First(&reloaded, "id = ?", inv.ID).Error)
	assert.Equal(t, ledger.StatusPaid, reloaded.Status)
	assert.Equal(t, int64(0), reloaded.BalanceAmount)
	assert.Equal(t, int64(50000), reloaded.AmountPaid)
}

func TestMatchTransferReviewOpensApprovalChain(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	custID := f.seedCustomer(t, "Acme GmbH", "billing@acme.example")
	f.seedOpenInvoice(t, custID, "INV-2024-0070", 150000)

	result, err := f.svc.MatchTransfer(ctx, domain.TransferNotification{
		OrgID:       f.orgID,
		Amount:      149000,
		Currency:    "EUR",
		SenderEmail: "billing@acme.example",
	})
	assert.NoError(t, err)
	assert.True(t, result.RequiresReview)

	// Above the auto-approve floor the queued payment gets an approval
	// request at level 1.
	var request approvaldomain.ApprovalRequest
	assert.NoError(t, f.db.First(&request, "org_id = ? AND target_id = ?", f.orgID, result.Payment.ID).Error)
	assert.Equal(t, approvaldomain.TargetTypePayment, request.TargetType)
	assert.Equal(t, approvaldomain.ApprovalPending, request.Status)
	assert.Equal(t, 1, request.CurrentLevel)
}

func TestMatchTransferSmallReviewSkipsApproval(t *testing.T) {
	f := setupMatch(t)
	ctx := context.Background()

	custID := f.seedCustomer(t, "Acme GmbH", "billing@acme.example")
	f.seedOpenInvoice(t, custID, "INV-2024-0080", 50000)

	result, err := f.svc.MatchTransfer(ctx, domain.TransferNotification{
		OrgID:       f.orgID,
		Amount:      49900,
		Currency:    "EUR",
		SenderEmail: "billing@acme.example",
	})
	assert.NoError(t, err)
	assert.True(t, result.RequiresReview)

	// Under the floor the review queue needs no approval chain.
	var count int64
	f.db.Model(&approvaldomain.ApprovalRequest{}).Where("org_id = ?", f.orgID).Count(&count)
	assert.Equal(t, int64(0), count)
}
