package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	bookingdomain "github.com/samujjwal/rental-sub004/internal/booking/domain"
	depositdomain "github.com/samujjwal/rental-sub004/internal/deposit/domain"
	disputedomain "github.com/samujjwal/rental-sub004/internal/dispute/domain"
	ledgerdomain "github.com/samujjwal/rental-sub004/internal/ledger/domain"
	"github.com/samujjwal/rental-sub004/internal/locks"
	paymentdomain "github.com/samujjwal/rental-sub004/internal/payment/domain"
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

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
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
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

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
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, bookingdomain.ErrActionRestricted):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: err.Error(),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case isUnprocessableError(err):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Message: err.Error(),
		}
	case errors.Is(err, paymentdomain.ErrExternalFailed):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_failed",
			Message: err.Error(),
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
		errors.Is(err, bookingdomain.ErrInvalidPricing),
		errors.Is(err, ledgerdomain.ErrInvalidBooking),
		errors.Is(err, ledgerdomain.ErrInvalidCurrency),
		errors.Is(err, ledgerdomain.ErrInvalidTxType),
		errors.Is(err, ledgerdomain.ErrInvalidKey),
		errors.Is(err, ledgerdomain.ErrInvalidLegs),
		errors.Is(err, ledgerdomain.ErrInvalidLegAmount),
		errors.Is(err, ledgerdomain.ErrInvalidLegSide),
		errors.Is(err, depositdomain.ErrInvalidBooking),
		errors.Is(err, depositdomain.ErrInvalidAmount),
		errors.Is(err, depositdomain.ErrInvalidCurrency),
		errors.Is(err, disputedomain.ErrInvalidAmount),
		errors.Is(err, disputedomain.ErrInvalidOutcome),
		errors.Is(err, paymentdomain.ErrInvalidAmount):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, bookingdomain.ErrBookingNotFound),
		errors.Is(err, disputedomain.ErrDisputeNotFound),
		errors.Is(err, depositdomain.ErrHoldNotFound),
		errors.Is(err, ledgerdomain.ErrPostingNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, bookingdomain.ErrInvalidTransition),
		errors.Is(err, bookingdomain.ErrVersionConflict),
		errors.Is(err, bookingdomain.ErrDeadlineNotReached),
		errors.Is(err, bookingdomain.ErrCheckInNotReached),
		errors.Is(err, locks.ErrBookingBusy),
		errors.Is(err, disputedomain.ErrDisputeAlreadyOpen),
		errors.Is(err, disputedomain.ErrBookingNotDisputable),
		errors.Is(err, disputedomain.ErrFilingWindowClosed),
		errors.Is(err, disputedomain.ErrAlreadyResolved),
		errors.Is(err, disputedomain.ErrInvalidStatusChange),
		errors.Is(err, depositdomain.ErrHoldAlreadyActive),
		errors.Is(err, depositdomain.ErrHoldNotActive):
		return true
	default:
		return false
	}
}

func isUnprocessableError(err error) bool {
	switch {
	case errors.Is(err, ledgerdomain.ErrUnbalancedPosting),
		errors.Is(err, ledgerdomain.ErrIdempotencyConflict),
		errors.Is(err, ledgerdomain.ErrPostingSettled),
		errors.Is(err, depositdomain.ErrDeductionExceedsHold):
		return true
	default:
		return false
	}
}
