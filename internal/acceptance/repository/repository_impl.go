package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finvo/internal/acceptance/domain"
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

const tokenColumns = `id, org_id, quote_id, purpose, secret_hash, status, expires_at, used_at, used_by, invalidated_at, invalidated_note, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, token *domain.AcceptanceToken) error {
	return db.WithContext(ctx).Exec(`
		INSERT INTO acceptance_tokens (`+tokenColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		token.ID, token.OrgID, token.QuoteID, token.Purpose, token.SecretHash,
		token.Status, token.ExpiresAt, token.UsedAt, token.UsedBy,
		token.InvalidatedAt, token.InvalidatedNote, token.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.AcceptanceToken, error) {
	var token domain.AcceptanceToken
	err := db.WithContext(ctx).Raw(`
		SELECT `+tokenColumns+`
		FROM acceptance_tokens
		WHERE id = ?
	`, id).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrTokenNotFound
		}
		return nil, err
	}
	return &token, nil
}

func (r *repo) MarkUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, usedBy string, usedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE acceptance_tokens
		SET status = ?, used_at = ?, used_by = ?
		WHERE id = ? AND status = ?
	`, domain.TokenUsed, usedAt, usedBy, id, domain.TokenActive)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) MarkInvalidated(ctx context.Context, db *gorm.DB, id snowflake.ID, note string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE acceptance_tokens
		SET status = ?, invalidated_at = ?, invalidated_note = ?
		WHERE id = ? AND status = ?
	`, domain.TokenInvalidated, at, note, id, domain.TokenActive)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repo) InvalidateByQuote(ctx context.Context, db *gorm.DB, quoteID snowflake.ID, note string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE acceptance_tokens
		SET status = ?, invalidated_at = ?, invalidated_note = ?
		WHERE quote_id = ? AND status = ?
	`, domain.TokenInvalidated, at, note, quoteID, domain.TokenActive)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ExpireBefore(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(`
		UPDATE acceptance_tokens
		SET status = ?
		WHERE status = ? AND expires_at < ?
	`, domain.TokenExpired, domain.TokenActive, now)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
