// Package domain holds the customer read model consumed by matching and
// document services. Customer management itself lives outside this core.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer is the billing contact an invoice is addressed to.
type Customer struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrgID       snowflake.ID `gorm:"not null;index"`
	Name        string       `gorm:"type:text;not null"`
	Email       string       `gorm:"type:text;not null"`
	BillingName string       `gorm:"type:text"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }

// ContactEmail is an additional known address for a customer, consulted
// by the transfer auto-match engine.
type ContactEmail struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrgID      snowflake.ID `gorm:"not null;index"`
	CustomerID snowflake.ID `gorm:"not null;index"`
	Email      string       `gorm:"type:text;not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ContactEmail) TableName() string { return "customer_contact_emails" }
