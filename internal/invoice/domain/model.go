// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/finvo/internal/ledger"
	"gorm.io/datatypes"
)

// Invoice represents a billing document, optionally derived from an
// accepted quote. Status, amount_paid, and balance_amount are owned by
// the ledger primitives; no caller writes them directly.
type Invoice struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	OrgID           snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_invoices_org_number,priority:1"`
	CustomerID      snowflake.ID      `gorm:"not null;index"`
	QuoteID         *snowflake.ID     `gorm:"index"`
	InvoiceNumber   string            `gorm:"type:text;not null;uniqueIndex:ux_invoices_org_number,priority:2"`
	Status          ledger.Status     `gorm:"type:text;not null;default:'DRAFT'"`
	SubtotalAmount  int64             `gorm:"not null;default:0"`
	TaxAmount       int64             `gorm:"not null;default:0"`
	TotalAmount     int64             `gorm:"not null;default:0"`
	AmountPaid      int64             `gorm:"not null;default:0"`
	BalanceAmount   int64             `gorm:"not null;default:0"`
	DepositRequired int64             `gorm:"not null;default:0"`
	Currency        string            `gorm:"type:text;not null"`
	Version         int64             `gorm:"not null;default:0"`
	SentAt          *time.Time        `gorm:""`
	ViewedAt        *time.Time        `gorm:""`
	PaidAt          *time.Time        `gorm:""`
	Metadata        datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Snapshot returns the invoice's money view for the ledger primitives.
func (i Invoice) Snapshot() ledger.Snapshot {
	return ledger.Snapshot{
		Total:      i.TotalAmount,
		AmountPaid: i.AmountPaid,
		Balance:    i.BalanceAmount,
		Status:     i.Status,
	}
}

// InvoiceItem represents a line on an invoice.
type InvoiceItem struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	OrgID       snowflake.ID      `gorm:"not null;index"`
	InvoiceID   snowflake.ID      `gorm:"not null;index"`
	Description string            `gorm:"type:text"`
	Quantity    int64             `gorm:"not null"`
	UnitAmount  int64             `gorm:"not null"`
	Amount      int64             `gorm:"not null"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
