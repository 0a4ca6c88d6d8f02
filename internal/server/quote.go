package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	acceptancedomain "github.com/smallbiznis/finvo/internal/acceptance/domain"
	"github.com/smallbiznis/finvo/internal/orgcontext"
)

// orgAndID pulls the organization from context and parses the :id path
// parameter. On failure the request is already aborted.
func orgAndID(c *gin.Context) (snowflake.ID, snowflake.ID, bool) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return 0, 0, false
	}

	raw := strings.TrimSpace(c.Param("id"))
	id, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, 0, false
	}
	return orgID, id, true
}

func (s *Server) GetQuoteByID(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	item, err := s.quoteSvc.GetByID(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) EstimateQuote(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	item, err := s.quoteSvc.Estimate(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) SendQuote(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	item, err := s.quoteSvc.Send(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) ViewQuote(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	item, err := s.quoteSvc.View(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

type quoteDecisionRequest struct {
	Actor string `json:"actor"`
	Note  string `json:"note"`
}

func (s *Server) AcceptQuote(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	var req quoteDecisionRequest
	_ = c.ShouldBindJSON(&req)

	item, err := s.quoteSvc.Accept(c.Request.Context(), orgID, id, strings.TrimSpace(req.Actor))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) RejectQuote(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	var req quoteDecisionRequest
	_ = c.ShouldBindJSON(&req)

	item, err := s.quoteSvc.Reject(c.Request.Context(), orgID, id, strings.TrimSpace(req.Note))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

type issueTokenRequest struct {
	Purpose    string `json:"purpose" binding:"required"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

func (s *Server) IssueAcceptanceToken(c *gin.Context) {
	orgID, quoteID, ok := orgAndID(c)
	if !ok {
		return
	}

	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("purpose", "invalid_request", "purpose is required"))
		return
	}

	issued, err := s.acceptanceSvc.Issue(c.Request.Context(), acceptancedomain.IssueTokenRequest{
		OrgID:   orgID,
		QuoteID: quoteID,
		Purpose: acceptancedomain.TokenPurpose(strings.ToLower(strings.TrimSpace(req.Purpose))),
		TTL:     time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// The raw secret appears in this response only; it cannot be
	// retrieved again.
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"token":  issued.Token,
		"secret": issued.Secret,
	}})
}
