package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Quote, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Quote, error)
	Update(ctx context.Context, db *gorm.DB, quote *Quote) error
	ListExpirable(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*Quote, error)
}

type Service interface {
	GetByID(ctx context.Context, orgID, id snowflake.ID) (*Quote, error)
	Estimate(ctx context.Context, orgID, id snowflake.ID) (*Quote, error)
	Send(ctx context.Context, orgID, id snowflake.ID) (*Quote, error)
	View(ctx context.Context, orgID, id snowflake.ID) (*Quote, error)
	Accept(ctx context.Context, orgID, id snowflake.ID, actor string) (*Quote, error)
	Reject(ctx context.Context, orgID, id snowflake.ID, note string) (*Quote, error)
	SweepExpired(ctx context.Context, limit int) (int, error)
}

var (
	ErrQuoteNotFound = errors.New("quote_not_found")
)
