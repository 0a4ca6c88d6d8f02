package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	acceptancedomain "github.com/smallbiznis/finvo/internal/acceptance/domain"
)

type redeemTokenRequest struct {
	Token   string `json:"token" binding:"required"`
	Purpose string `json:"purpose" binding:"required"`
	Actor   string `json:"actor"`
	Note    string `json:"note"`
}

// RedeemAcceptanceToken is the public endpoint behind the accept/reject
// links embedded in quote emails.
func (s *Server) RedeemAcceptanceToken(c *gin.Context) {
	var req redeemTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("token", "invalid_request", "token and purpose are required"))
		return
	}

	resp, err := s.acceptanceSvc.Redeem(c.Request.Context(), acceptancedomain.RedeemTokenRequest{
		Secret:  strings.TrimSpace(req.Token),
		Purpose: acceptancedomain.TokenPurpose(strings.ToLower(strings.TrimSpace(req.Purpose))),
		Actor:   strings.TrimSpace(req.Actor),
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	payload := gin.H{
		"quote": resp.Quote,
	}
	if resp.FollowUp != nil {
		payload["follow_up"] = gin.H{
			"token":  resp.FollowUp.Token,
			"secret": resp.FollowUp.Secret,
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": payload})
}

type invalidateTokenRequest struct {
	Note string `json:"note"`
}

func (s *Server) InvalidateAcceptanceToken(c *gin.Context) {
	orgID, tokenID, ok := orgAndID(c)
	if !ok {
		return
	}

	var req invalidateTokenRequest
	_ = c.ShouldBindJSON(&req)

	err := s.acceptanceSvc.Invalidate(c.Request.Context(), acceptancedomain.InvalidateTokenRequest{
		OrgID:   orgID,
		TokenID: tokenID,
		Note:    strings.TrimSpace(req.Note),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "invalidated"}})
}
