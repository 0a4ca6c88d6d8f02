package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finvo/internal/payment/domain"
	pkgdb "github.com/smallbiznis/finvo/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, org_id, customer_id, invoice_id, amount, currency, method,
	status, processor_ref, idempotency_key, sender_name, sender_email,
	reference_number, transfer_date, refund_of_id, match_score,
	reviewed_by, review_note, metadata, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, org_id, customer_id, invoice_id, amount, currency, method,
			status, processor_ref, idempotency_key, sender_name, sender_email,
			reference_number, transfer_date, refund_of_id, match_score,
			reviewed_by, review_note, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (org_id, idempotency_key) DO NOTHING`,
		payment.ID,
		payment.OrgID,
		payment.CustomerID,
		payment.InvoiceID,
		payment.Amount,
		payment.Currency,
		payment.Method,
		payment.Status,
		payment.ProcessorRef,
		payment.IdempotencyKey,
		payment.SenderName,
		payment.SenderEmail,
		payment.ReferenceNumber,
		payment.TransferDate,
		payment.RefundOfID,
		payment.MatchScore,
		payment.ReviewedBy,
		payment.ReviewNote,
		payment.Metadata,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
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

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
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

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, orgID snowflake.ID, key string) (*domain.Payment, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE org_id = ? AND idempotency_key = ?
		 LIMIT 1`,
		orgID,
		key,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// FindDuplicate locates a prior payment for the same physical transfer when
// no idempotency key is present: same org, amount, and sender inside the
// probe window.
func (r *repo) FindDuplicate(ctx context.Context, db *gorm.DB, probe domain.DuplicateProbe) (*domain.Payment, error) {
	if key := strings.TrimSpace(probe.IdempotencyKey); key != "" {
		return r.FindByIdempotencyKey(ctx, db, probe.OrgID, key)
	}

	since := probe.Now.Add(-probe.Window)
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE org_id = ?
		   AND amount = ?
		   AND (LOWER(sender_email) = LOWER(?) OR LOWER(sender_name) = LOWER(?))
		   AND created_at >= ?
		   AND status != ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		probe.OrgID,
		probe.Amount,
		strings.TrimSpace(probe.SenderEmail),
		strings.TrimSpace(probe.SenderName),
		since.UTC(),
		domain.PaymentStatusCancelled,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET status = ?, reviewed_by = ?, review_note = ?, refund_of_id = ?, updated_at = ?
		 WHERE id = ? AND org_id = ?`,
		payment.Status,
		payment.ReviewedBy,
		payment.ReviewNote,
		payment.RefundOfID,
		payment.UpdatedAt,
		payment.ID,
		payment.OrgID,
	).Error
}

func (r *repo) ListByStatus(ctx context.Context, db *gorm.DB, orgID snowflake.ID, status domain.PaymentStatus, limit int) ([]*domain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []*domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE org_id = ? AND status = ?
		 ORDER BY created_at ASC
		 LIMIT ?`,
		orgID,
		status,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
