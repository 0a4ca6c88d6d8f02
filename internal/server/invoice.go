package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) GetInvoiceByID(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	item, err := s.invoiceSvc.GetByID(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) SendInvoice(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	item, err := s.invoiceSvc.Send(c.Request.Context(), orgID, id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

type applyPaymentRequest struct {
	Amount int64 `json:"amount" binding:"required"`
}

// ApplyInvoicePayment records an out-of-band settlement, e.g. cash or a
// processor callback handled elsewhere.
func (s *Server) ApplyInvoicePayment(c *gin.Context) {
	orgID, id, ok := orgAndID(c)
	if !ok {
		return
	}

	var req applyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("amount", "invalid_request", "amount is required"))
		return
	}

	item, err := s.invoiceSvc.ApplyPayment(c.Request.Context(), orgID, id, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}
