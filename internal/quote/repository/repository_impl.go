package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finvo/internal/quote/domain"
	pkgdb "github.com/smallbiznis/finvo/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const quoteColumns = `id, org_id, customer_id, quote_number, status,
	subtotal_amount, tax_amount, total_amount, currency,
	valid_until, sent_at, viewed_at, accepted_at, rejected_at,
	accepted_by, rejection_note, metadata, created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Quote, error) {
	var item domain.Quote
	err := db.WithContext(ctx).Raw(
		`SELECT `+quoteColumns+`
		 FROM quotes
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

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Quote, error) {
	var item domain.Quote
	err := db.WithContext(ctx).Raw(
		`SELECT `+quoteColumns+`
		 FROM quotes
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

func (r *repo) Update(ctx context.Context, db *gorm.DB, quote *domain.Quote) error {
	return db.WithContext(ctx).Exec(
		`UPDATE quotes
		 SET status = ?, sent_at = ?, viewed_at = ?, accepted_at = ?, rejected_at = ?,
			 accepted_by = ?, rejection_note = ?, metadata = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		quote.Status,
		quote.SentAt,
		quote.ViewedAt,
		quote.AcceptedAt,
		quote.RejectedAt,
		quote.AcceptedBy,
		quote.RejectionNote,
		quote.Metadata,
		quote.UpdatedAt,
		quote.ID,
		quote.OrgID,
	).Error
}

func (r *repo) ListExpirable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.Quote, error) {
	if limit <= 0 {
		limit = 100
	}
	var items []*domain.Quote
	err := db.WithContext(ctx).Raw(
		`SELECT `+quoteColumns+`
		 FROM quotes
		 WHERE status IN (?, ?, ?, ?)
		   AND valid_until IS NOT NULL
		   AND valid_until < ?
		 ORDER BY valid_until ASC
		 LIMIT ?`,
		domain.QuoteStatusDraft,
		domain.QuoteStatusEstimated,
		domain.QuoteStatusSent,
		domain.QuoteStatusViewed,
		now.UTC(),
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
