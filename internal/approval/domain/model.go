// Package domain implements the multi-level approval workflow used for
// high-value documents: threshold-driven approval chains, role checks,
// delegation, and timeout escalation.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "PENDING"
	ApprovalEscalated ApprovalStatus = "ESCALATED"
	ApprovalApproved  ApprovalStatus = "APPROVED"
	ApprovalRejected  ApprovalStatus = "REJECTED"
	ApprovalExpired   ApprovalStatus = "EXPIRED"
)

func (s ApprovalStatus) Terminal() bool {
	switch s {
	case ApprovalApproved, ApprovalRejected, ApprovalExpired:
		return true
	}
	return false
}

type ApprovalAction string

const (
	ActionApprove  ApprovalAction = "APPROVE"
	ActionReject   ApprovalAction = "REJECT"
	ActionEscalate ApprovalAction = "ESCALATE"
)

const (
	RoleManager   = "MANAGER"
	RoleAdmin     = "ADMIN"
	RoleExecutive = "EXECUTIVE"
)

// Target types a request can gate.
const (
	TargetTypePayment = "payment"
	TargetTypeInvoice = "invoice"
)

// LevelSpec is one step of the chain, snapshotted at submission so a
// config reload never rewrites an in-flight request. Deadline is set
// when the level becomes current.
type LevelSpec struct {
	Level          int           `json:"level"`
	Role           string        `json:"role"`
	Timeout        time.Duration `json:"timeout"`
	EscalationRole string        `json:"escalation_role,omitempty"`
	Deadline       *time.Time    `json:"deadline,omitempty"`
}

// ApprovalRequest tracks one document through its approval chain.
// CurrentLevel is 1-based; CurrentDeadline mirrors the active level's
// deadline so the escalation sweep can query it directly.
type ApprovalRequest struct {
	ID              snowflake.ID   `json:"id,string" gorm:"primaryKey"`
	OrgID           snowflake.ID   `json:"org_id,string" gorm:"not null;index"`
	TargetType      string         `json:"target_type" gorm:"type:text;not null"`
	TargetID        snowflake.ID   `json:"target_id,string" gorm:"not null;index"`
	Amount          int64          `json:"amount" gorm:"not null"`
	Currency        string         `json:"currency" gorm:"type:text;not null"`
	Status          ApprovalStatus `json:"status" gorm:"type:text;not null;default:'PENDING'"`
	CurrentLevel    int            `json:"current_level" gorm:"not null;default:1"`
	CurrentDeadline *time.Time     `json:"current_deadline,omitempty" gorm:"index"`
	Levels          []LevelSpec    `json:"levels" gorm:"serializer:json"`
	RequestedBy     string         `json:"requested_by" gorm:"type:text;not null"`
	DecidedAt       *time.Time     `json:"decided_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ApprovalRequest) TableName() string { return "approval_requests" }

// ActiveLevel returns the spec of the level awaiting action.
func (r *ApprovalRequest) ActiveLevel() *LevelSpec {
	idx := r.CurrentLevel - 1
	if idx < 0 || idx >= len(r.Levels) {
		return nil
	}
	return &r.Levels[idx]
}

// ApprovalRecord is one action taken on a request, append-only.
type ApprovalRecord struct {
	ID         snowflake.ID   `json:"id,string" gorm:"primaryKey"`
	OrgID      snowflake.ID   `json:"org_id,string" gorm:"not null;index"`
	RequestID  snowflake.ID   `json:"request_id,string" gorm:"not null;index"`
	Level      int            `json:"level" gorm:"not null"`
	Action     ApprovalAction `json:"action" gorm:"type:text;not null"`
	ActorID    string         `json:"actor_id" gorm:"type:text;not null"`
	ActorRole  string         `json:"actor_role" gorm:"type:text"`
	OnBehalfOf string         `json:"on_behalf_of,omitempty" gorm:"type:text"`
	Note       string         `json:"note,omitempty" gorm:"type:text"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ApprovalRecord) TableName() string { return "approval_records" }

// Delegation lets Delegate act with Principal's role, optionally capped
// by MaxAmount, scoped to Categories of target types, and bounded by
// ExpiresAt. An empty Categories list covers every target type.
type Delegation struct {
	ID         snowflake.ID `json:"id,string" gorm:"primaryKey"`
	OrgID      snowflake.ID `json:"org_id,string" gorm:"not null;index"`
	Principal  string       `json:"principal" gorm:"type:text;not null;index"`
	Delegate   string       `json:"delegate" gorm:"type:text;not null;index"`
	Role       string       `json:"role" gorm:"type:text;not null"`
	MaxAmount  *int64       `json:"max_amount,omitempty"`
	Categories []string     `json:"categories,omitempty" gorm:"serializer:json"`
	ExpiresAt  *time.Time   `json:"expires_at,omitempty"`
	RevokedAt  *time.Time   `json:"revoked_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Delegation) TableName() string { return "approval_delegations" }

// Active reports whether the delegation can be exercised at now.
func (d *Delegation) Active(now time.Time) bool {
	if d.RevokedAt != nil {
		return false
	}
	return d.ExpiresAt == nil || now.Before(*d.ExpiresAt)
}

// Covers reports whether the delegation extends to the given target
// type. An empty allowlist covers everything.
func (d *Delegation) Covers(targetType string) bool {
	if len(d.Categories) == 0 {
		return true
	}
	for _, category := range d.Categories {
		if strings.EqualFold(category, targetType) {
			return true
		}
	}
	return false
}
