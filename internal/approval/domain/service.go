package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrApprovalNotFound         = errors.New("approval_not_found")
	ErrAlreadyDecided           = errors.New("already_decided")
	ErrWrongLevel               = errors.New("wrong_level")
	ErrSelfApproval             = errors.New("self_approval")
	ErrDelegationNotFound       = errors.New("delegation_not_found")
	ErrDelegationLimitExceeded  = errors.New("delegation_limit_exceeded")
	ErrDelegationCategoryDenied = errors.New("delegation_category_denied")
	ErrEscalationNotConfigured  = errors.New("escalation_not_configured")
	ErrInvalidApprovalRequest   = errors.New("invalid_approval_request")
)

type SubmitRequest struct {
	OrgID       snowflake.ID
	TargetType  string
	TargetID    snowflake.ID
	Amount      int64
	Currency    string
	RequestedBy string
}

// ActionRequest carries who is acting on a request. OnBehalfOf names
// the principal when the actor exercises a delegation.
type ActionRequest struct {
	OrgID      snowflake.ID
	RequestID  snowflake.ID
	ActorID    string
	ActorRole  string
	OnBehalfOf string
	Note       string
}

type DelegateRequest struct {
	OrgID      snowflake.ID
	Principal  string
	Delegate   string
	Role       string
	MaxAmount  *int64
	Categories []string
	ExpiresAt  *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, req *ApprovalRequest) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*ApprovalRequest, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*ApprovalRequest, error)
	Update(ctx context.Context, db *gorm.DB, req *ApprovalRequest) error
	ListPending(ctx context.Context, db *gorm.DB, orgID snowflake.ID, limit int) ([]*ApprovalRequest, error)

	// FindLatestByTarget returns the newest request gating the target,
	// or nil when none was ever opened.
	FindLatestByTarget(ctx context.Context, db *gorm.DB, orgID snowflake.ID, targetType string, targetID snowflake.ID) (*ApprovalRequest, error)

	// ListOverdue returns open requests whose active level's deadline
	// has passed, for the escalation sweep.
	ListOverdue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]*ApprovalRequest, error)

	InsertRecord(ctx context.Context, db *gorm.DB, record *ApprovalRecord) error
	ListRecords(ctx context.Context, db *gorm.DB, orgID, requestID snowflake.ID) ([]*ApprovalRecord, error)

	InsertDelegation(ctx context.Context, db *gorm.DB, delegation *Delegation) error
	// FindDelegation returns the newest unrevoked delegation from
	// principal to delegate, or nil.
	FindDelegation(ctx context.Context, db *gorm.DB, orgID snowflake.ID, principal, delegate string) (*Delegation, error)
	RevokeDelegation(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, at time.Time) (bool, error)
}

type Service interface {
	// SubmitForApproval builds the chain the configured threshold
	// demands. It returns nil with no error when the amount falls in an
	// auto-approve band and no review is required.
	SubmitForApproval(ctx context.Context, req SubmitRequest) (*ApprovalRequest, error)

	GetByID(ctx context.Context, orgID, id snowflake.ID) (*ApprovalRequest, error)
	ListPending(ctx context.Context, orgID snowflake.ID, limit int) ([]*ApprovalRequest, error)
	History(ctx context.Context, orgID, requestID snowflake.ID) ([]*ApprovalRecord, error)

	// LatestForTarget reports the request currently gating a document,
	// nil when none exists. Callers completing a gated document must see
	// an APPROVED request first.
	LatestForTarget(ctx context.Context, orgID snowflake.ID, targetType string, targetID snowflake.ID) (*ApprovalRequest, error)

	Approve(ctx context.Context, req ActionRequest) (*ApprovalRequest, error)
	Reject(ctx context.Context, req ActionRequest) (*ApprovalRequest, error)
	Escalate(ctx context.Context, req ActionRequest) (*ApprovalRequest, error)

	Delegate(ctx context.Context, req DelegateRequest) (*Delegation, error)

	// SweepOverdue escalates requests whose active level timed out.
	SweepOverdue(ctx context.Context) (int64, error)
}
