package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finvo/internal/approval/domain"
	pkgdb "github.com/smallbiznis/finvo/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type repo struct{}

type Params struct {
	fx.In
}

func Provide(p Params) domain.Repository {
	return &repo{}
}

// Requests go through gorm's model path rather than raw SQL because the
// level chain column relies on the JSON serializer.

func (r *repo) Insert(ctx context.Context, db *gorm.DB, req *domain.ApprovalRequest) error {
	return db.WithContext(ctx).Create(req).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	err := pkgdb.ForUpdate(db.WithContext(ctx)).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, req *domain.ApprovalRequest) error {
	return db.WithContext(ctx).Save(req).Error
}

func (r *repo) ListPending(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit int) ([]*domain.ApprovalRequest, error) {
	var out []*domain.ApprovalRequest
	q := db.WithContext(ctx).
		Where("org_id = ? AND status IN ?", orgID, []domain.ApprovalStatus{domain.ApprovalPending, domain.ApprovalEscalated}).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) FindLatestByTarget(ctx context.Context, db *gorm.DB, orgID snowflake.ID, targetType string, targetID snowflake.ID) (*domain.ApprovalRequest, error) {
	var req domain.ApprovalRequest
	err := db.WithContext(ctx).
		Where("org_id = ? AND target_type = ? AND target_id = ?", orgID, targetType, targetID).
		Order("created_at DESC, id DESC").
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &req, nil
}

func (r *repo) ListOverdue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*domain.ApprovalRequest, error) {
	var out []*domain.ApprovalRequest
	q := db.WithContext(ctx).
		Where("status IN ? AND current_deadline IS NOT NULL AND current_deadline < ?",
			[]domain.ApprovalStatus{domain.ApprovalPending, domain.ApprovalEscalated}, now).
		Order("current_deadline ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) InsertRecord(ctx context.Context, db *gorm.DB, record *domain.ApprovalRecord) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO approval_records (id, org_id, request_id, level, action, actor_id, actor_role, on_behalf_of, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID, record.OrgID, record.RequestID, record.Level, record.Action,
		record.ActorID, record.ActorRole, record.OnBehalfOf, record.Note, record.CreatedAt,
	).Error
}

func (r *repo) ListRecords(ctx context.Context, db *gorm.DB, orgID, requestID snowflake.ID) ([]*domain.ApprovalRecord, error) {
	var out []*domain.ApprovalRecord
	err := db.WithContext(ctx).Raw(`
		SELECT id, org_id, request_id, level, action, actor_id, actor_role, on_behalf_of, note, created_at
		FROM approval_records
		WHERE org_id = ? AND request_id = ?
		ORDER BY created_at ASC, id ASC
	`, orgID, requestID).Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delegations also ride the model path; the categories allowlist is a
// JSON serializer column.

func (r *repo) InsertDelegation(ctx context.Context, db *gorm.DB, delegation *domain.Delegation) error {
	return db.WithContext(ctx).Create(delegation).Error
}

func (r *repo) FindDelegation(ctx context.Context, db *gorm.DB, orgID snowflake.ID, principal, delegate string) (*domain.Delegation, error) {
	var delegation domain.Delegation
	err := db.WithContext(ctx).
		Where("org_id = ? AND principal = ? AND delegate = ? AND revoked_at IS NULL", orgID, principal, delegate).
		Order("created_at DESC").
		First(&delegation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &delegation, nil
}

func (r *repo) RevokeDelegation(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE approval_delegations
		SET revoked_at = ?
		WHERE org_id = ? AND id = ? AND revoked_at IS NULL
	`, at, orgID, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
