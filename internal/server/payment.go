package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/finvo/internal/orgcontext"
)

func (s *Server) GetPaymentByID(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	item, err := s.paymentSvc.GetByID(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ListReviewQueue(c *gin.Context) {
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

	items, err := s.paymentSvc.ListReviewQueue(c.Request.Context(), orgID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

type resolveReviewRequest struct {
	Approve  bool   `json:"approve"`
	Reviewer string `json:"reviewer" binding:"required"`
	Note     string `json:"note"`
}

func (s *Server) ResolvePaymentReview(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	var req resolveReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("reviewer", "invalid_request", "reviewer is required"))
		return
	}

	item, err := s.paymentSvc.ResolveReview(c.Request.Context(), orgID, id, req.Approve, strings.TrimSpace(req.Reviewer), strings.TrimSpace(req.Note))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

type refundRequest struct {
	Actor string `json:"actor"`
}

func (s *Server) RefundPayment(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	var req refundRequest
	_ = c.ShouldBindJSON(&req)

	item, err := s.paymentSvc.Refund(c.Request.Context(), orgID, id, strings.TrimSpace(req.Actor))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}
