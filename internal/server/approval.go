package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	approvaldomain "github.com/smallbiznis/finvo/internal/approval/domain"
	"github.com/smallbiznis/finvo/internal/orgcontext"
)

type submitApprovalRequest struct {
	TargetType  string `json:"target_type" binding:"required"`
	TargetID    string `json:"target_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required"`
	Currency    string `json:"currency" binding:"required"`
	RequestedBy string `json:"requested_by" binding:"required"`
}

func (s *Server) SubmitForApproval(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req submitApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "target, amount, currency and requested_by are required"))
		return
	}

	targetID, err := snowflake.ParseString(strings.TrimSpace(req.TargetID))
	if err != nil {
		AbortWithError(c, newValidationError("target_id", "invalid_id", "invalid target id"))
		return
	}

	request, err := s.approvalSvc.SubmitForApproval(c.Request.Context(), approvaldomain.SubmitRequest{
		OrgID:       orgID,
		TargetType:  strings.TrimSpace(req.TargetType),
		TargetID:    targetID,
		Amount:      req.Amount,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		RequestedBy: strings.TrimSpace(req.RequestedBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if request == nil {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "AUTO_APPROVED"}})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": request})
}

func (s *Server) GetApprovalByID(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	request, err := s.approvalSvc.GetByID(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": request})
}

func (s *Server) ListPendingApprovals(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be between 1 and 200"))
			return
		}
		limit = parsed
	}

	items, err := s.approvalSvc.ListPending(c.Request.Context(), orgID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetApprovalHistory(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	records, err := s.approvalSvc.History(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

type approvalActionRequest struct {
	ActorID    string `json:"actor_id" binding:"required"`
	ActorRole  string `json:"actor_role"`
	OnBehalfOf string `json:"on_behalf_of"`
	Note       string `json:"note"`
}

func (r approvalActionRequest) toDomain(orgID, requestID snowflake.ID) approvaldomain.ActionRequest {
	return approvaldomain.ActionRequest{
		OrgID:      orgID,
		RequestID:  requestID,
		ActorID:    strings.TrimSpace(r.ActorID),
		ActorRole:  strings.ToUpper(strings.TrimSpace(r.ActorRole)),
		OnBehalfOf: strings.TrimSpace(r.OnBehalfOf),
		Note:       strings.TrimSpace(r.Note),
	}
}

func (s *Server) ApproveRequest(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	var req approvalActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("actor_id", "invalid_request", "actor_id is required"))
		return
	}

	request, err := s.approvalSvc.Approve(c.Request.Context(), req.toDomain(orgID, id))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": request})
}

func (s *Server) RejectRequest(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	var req approvalActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("actor_id", "invalid_request", "actor_id is required"))
		return
	}

	request, err := s.approvalSvc.Reject(c.Request.Context(), req.toDomain(orgID, id))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": request})
}

func (s *Server) EscalateRequest(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	var req approvalActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("actor_id", "invalid_request", "actor_id is required"))
		return
	}

	request, err := s.approvalSvc.Escalate(c.Request.Context(), req.toDomain(orgID, id))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": request})
}

type createDelegationRequest struct {
	Principal  string     `json:"principal" binding:"required"`
	Delegate   string     `json:"delegate" binding:"required"`
	Role       string     `json:"role" binding:"required"`
	MaxAmount  *int64     `json:"max_amount"`
	Categories []string   `json:"categories"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

func (s *Server) CreateDelegation(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createDelegationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "principal, delegate and role are required"))
		return
	}

	categories := make([]string, 0, len(req.Categories))
	for _, category := range req.Categories {
		if trimmed := strings.ToLower(strings.TrimSpace(category)); trimmed != "" {
			categories = append(categories, trimmed)
		}
	}

	delegation, err := s.approvalSvc.Delegate(c.Request.Context(), approvaldomain.DelegateRequest{
		OrgID:      orgID,
		Principal:  strings.TrimSpace(req.Principal),
		Delegate:   strings.TrimSpace(req.Delegate),
		Role:       strings.ToUpper(strings.TrimSpace(req.Role)),
		MaxAmount:  req.MaxAmount,
		Categories: categories,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": delegation})
}
