package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/finvo/internal/orgcontext"
	transferdomain "github.com/smallbiznis/finvo/internal/transfermatch/domain"
)

type transferNotificationRequest struct {
	Amount          int64      `json:"amount" binding:"required"`
	Currency        string     `json:"currency" binding:"required"`
	SenderName      string     `json:"sender_name"`
	SenderEmail     string     `json:"sender_email"`
	ReferenceNumber string     `json:"reference_number"`
	TransferDate    *time.Time `json:"transfer_date"`
	IdempotencyKey  string     `json:"idempotency_key"`
}

func (r transferNotificationRequest) toDomain(orgID snowflake.ID) transferdomain.TransferNotification {
	return transferdomain.TransferNotification{
		OrgID:           orgID,
		Amount:          r.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(r.Currency)),
		SenderName:      strings.TrimSpace(r.SenderName),
		SenderEmail:     strings.TrimSpace(r.SenderEmail),
		ReferenceNumber: strings.TrimSpace(r.ReferenceNumber),
		TransferDate:    r.TransferDate,
		IdempotencyKey:  strings.TrimSpace(r.IdempotencyKey),
	}
}

// MatchTransfer feeds one bank transfer notification through the
// auto-match engine.
func (s *Server) MatchTransfer(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req transferNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "amount and currency are required"))
		return
	}

	result, err := s.matchSvc.MatchTransfer(c.Request.Context(), req.toDomain(orgID))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}

type createFromMatchRequest struct {
	InvoiceID    string                      `json:"invoice_id" binding:"required"`
	Operator     string                      `json:"operator"`
	Notification transferNotificationRequest `json:"notification" binding:"required"`
}

// CreatePaymentFromMatch records an operator's resolution of a reviewed
// transfer against the invoice they chose.
func (s *Server) CreatePaymentFromMatch(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createFromMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("request", "invalid_request", "invoice_id and notification are required"))
		return
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		AbortWithError(c, newValidationError("invoice_id", "invalid_id", "invalid invoice id"))
		return
	}

	result, err := s.matchSvc.CreatePaymentFromMatch(c.Request.Context(), transferdomain.CreateFromMatchRequest{
		OrgID:        orgID,
		InvoiceID:    invoiceID,
		Notification: req.Notification.toDomain(orgID),
		Operator:     strings.TrimSpace(req.Operator),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": result})
}
