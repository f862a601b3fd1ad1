package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	gatewaydomain "github.com/smallbiznis/checkout/internal/gateway/domain"
	sessiondomain "github.com/smallbiznis/checkout/internal/session/domain"
	txdomain "github.com/smallbiznis/checkout/internal/transaction/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
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

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, gatewaydomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "webhook_authentication_failed",
			Message: "webhook authentication failed",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, sessiondomain.ErrInvalidStateTransition),
		errors.Is(err, txdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "invalid_state_transition",
			Message: err.Error(),
		}
	case errors.Is(err, sessiondomain.ErrConcurrentModification),
		errors.Is(err, txdomain.ErrConcurrentModification):
		return http.StatusConflict, errorPayload{
			Type:    "concurrent_modification",
			Message: "resource was modified concurrently, retry",
		}
	case errors.Is(err, sessiondomain.ErrSessionExpired):
		return http.StatusGone, errorPayload{
			Type:    "session_expired",
			Message: "checkout session has expired",
		}
	case errors.Is(err, sessiondomain.ErrPaymentNotConfirmed),
		errors.Is(err, sessiondomain.ErrPaymentInitiationFailed),
		errors.Is(err, gatewaydomain.ErrUnsupportedOperation):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "payment_error",
			Message: err.Error(),
		}
	case errors.Is(err, gatewaydomain.ErrGatewayUnavailable):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_unavailable",
			Message: "payment gateway unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, sessiondomain.ErrInvalidRequest),
		errors.Is(err, gatewaydomain.ErrInvalidPayload),
		errors.Is(err, gatewaydomain.ErrInvalidConfig):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, sessiondomain.ErrNotFound),
		errors.Is(err, txdomain.ErrNotFound),
		errors.Is(err, gatewaydomain.ErrProviderNotFound),
		errors.Is(err, gatewaydomain.ErrConfigNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
