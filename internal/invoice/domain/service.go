package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Invoice, error)
	CountItems(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (int64, error)
	UpdateSettlement(ctx context.Context, db *gorm.DB, invoice *Invoice, expectedVersion int64) (bool, error)
	UpdateLifecycle(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	ListOpen(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*Invoice, error)
}

type Service interface {
	GetByID(ctx context.Context, orgID, id snowflake.ID) (*Invoice, error)
	Send(ctx context.Context, orgID, id snowflake.ID) (*Invoice, error)
	ApplyPayment(ctx context.Context, orgID, id snowflake.ID, amount int64) (*Invoice, error)
	ApplyRefund(ctx context.Context, orgID, id snowflake.ID, amount int64) (*Invoice, error)

	// ApplyPaymentWithin settles amount against the invoice inside the
	// caller's transaction, so payment creation and balance mutation
	// commit or roll back together.
	ApplyPaymentWithin(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, amount int64) (*Invoice, error)
	ApplyRefundWithin(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID, amount int64) (*Invoice, error)
}

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrEmptyInvoice    = errors.New("empty_invoice")
	ErrConcurrentWrite = errors.New("concurrent_write")
)
