package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finvo/internal/invoice/domain"
	"github.com/smallbiznis/finvo/internal/ledger"
	pkgdb "github.com/smallbiznis/finvo/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const invoiceColumns = `id, org_id, customer_id, quote_id, invoice_number, status,
	subtotal_amount, tax_amount, total_amount, amount_paid, balance_amount,
	deposit_required, currency, version, sent_at, viewed_at, paid_at,
	metadata, created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	var item domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE org_id = ? AND id = ?
		 LIMIT 1`,
		orgID,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Invoice, error) {
	var item domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE org_id = ? AND id = ?`+pkgdb.RowLockClause(db),
		orgID,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) CountItems(ctx context.Context, db *gorm.DB, orgID, invoiceID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM invoice_items
		 WHERE org_id = ? AND invoice_id = ?`,
		orgID,
		invoiceID,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateSettlement writes the money fields guarded by the version column.
// Returns false when another writer got there first.
func (r *repo) UpdateSettlement(ctx context.Context, db *gorm.DB, invoice *domain.Invoice, expectedVersion int64) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, amount_paid = ?, balance_amount = ?, paid_at = ?,
			 version = version + 1, updated_at = ?
		 WHERE id = ? AND org_id = ? AND version = ?`,
		invoice.Status,
		invoice.AmountPaid,
		invoice.BalanceAmount,
		invoice.PaidAt,
		invoice.UpdatedAt,
		invoice.ID,
		invoice.OrgID,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, sent_at = ?, viewed_at = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		invoice.Status,
		invoice.SentAt,
		invoice.ViewedAt,
		invoice.UpdatedAt,
		invoice.ID,
		invoice.OrgID,
	).Error
}

func (r *repo) ListOpen(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]*domain.Invoice, error) {
	var items []*domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE org_id = ?
		   AND status IN (?, ?)
		   AND balance_amount > 0
		 ORDER BY created_at ASC`,
		orgID,
		ledger.StatusSent,
		ledger.StatusPartiallyPaid,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
