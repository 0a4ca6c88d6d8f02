package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	acceptancedomain "github.com/smallbiznis/finvo/internal/acceptance/domain"
	approvaldomain "github.com/smallbiznis/finvo/internal/approval/domain"
	auditdomain "github.com/smallbiznis/finvo/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/finvo/internal/invoice/domain"
	"github.com/smallbiznis/finvo/internal/ledger"
	"github.com/smallbiznis/finvo/internal/lifecycle"
	paymentdomain "github.com/smallbiznis/finvo/internal/payment/domain"
	quotedomain "github.com/smallbiznis/finvo/internal/quote/domain"
	transferdomain "github.com/smallbiznis/finvo/internal/transfermatch/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrRateLimited    = errors.New("rate_limited")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isForbiddenError(err):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isGoneError(err):
		return http.StatusGone, errorPayload{
			Type:    "expired",
			Message: err.Error(),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrRefundExceedsPaid),
		errors.Is(err, invoicedomain.ErrEmptyInvoice),
		errors.Is(err, paymentdomain.ErrInvalidPayment),
		errors.Is(err, transferdomain.ErrInvalidNotification),
		errors.Is(err, acceptancedomain.ErrInvalidPurpose),
		errors.Is(err, approvaldomain.ErrInvalidApprovalRequest),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, auditdomain.ErrInvalidOrganization):
		return true
	}
	return false
}

func isForbiddenError(err error) bool {
	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, approvaldomain.ErrWrongLevel),
		errors.Is(err, approvaldomain.ErrSelfApproval),
		errors.Is(err, approvaldomain.ErrDelegationNotFound),
		errors.Is(err, approvaldomain.ErrDelegationLimitExceeded),
		errors.Is(err, approvaldomain.ErrDelegationCategoryDenied):
		return true
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, quotedomain.ErrQuoteNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, acceptancedomain.ErrTokenNotFound),
		errors.Is(err, approvaldomain.ErrApprovalNotFound):
		return true
	}
	return false
}

func isGoneError(err error) bool {
	switch {
	case errors.Is(err, lifecycle.ErrExpired),
		errors.Is(err, acceptancedomain.ErrTokenExpired):
		return true
	}
	return false
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, lifecycle.ErrInvalidState),
		errors.Is(err, lifecycle.ErrAlreadyTerminal),
		errors.Is(err, invoicedomain.ErrConcurrentWrite),
		errors.Is(err, acceptancedomain.ErrTokenAlreadyUsed),
		errors.Is(err, acceptancedomain.ErrTokenInvalidated),
		errors.Is(err, approvaldomain.ErrAlreadyDecided),
		errors.Is(err, paymentdomain.ErrApprovalRequired),
		errors.Is(err, transferdomain.ErrDuplicateTransfer):
		return true
	}
	return false
}
