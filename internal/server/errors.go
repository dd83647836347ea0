package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	appointmentdomain "github.com/smallbiznis/agencyledger/internal/appointment/domain"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	"github.com/smallbiznis/agencyledger/internal/authorization"
	customerdomain "github.com/smallbiznis/agencyledger/internal/customer/domain"
	"github.com/smallbiznis/agencyledger/internal/export"
	"github.com/smallbiznis/agencyledger/internal/idempotency"
	invoicedomain "github.com/smallbiznis/agencyledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/money"
	receiptdomain "github.com/smallbiznis/agencyledger/internal/receipt/domain"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
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
	Type      string            `json:"type"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message"`
	Errors    []ValidationError `json:"errors,omitempty"`
	Retryable bool              `json:"retryable,omitempty"`
	Details   map[string]any    `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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

	var shortfall *ledgerdomain.InsufficientBalanceError
	if errors.As(err, &shortfall) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "insufficient_balance",
			Code:    ledgerdomain.ErrInsufficientBalance.Error(),
			Message: "insufficient " + string(shortfall.Method) + " balance",
			Details: map[string]any{
				"payment_method": shortfall.Method,
				"available":      money.Format(shortfall.Available),
				"requested":      money.Format(shortfall.Requested),
				"shortfall":      money.Format(shortfall.Shortfall()),
			},
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ledgerdomain.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    rootCode(err),
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    rootCode(err),
			Message: err.Error(),
		}
	case errors.Is(err, idempotency.ErrKeyReused):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "idempotency_error",
			Code:    idempotency.ErrKeyReused.Error(),
			Message: "idempotency key was used with a different request",
		}
	case ledgerdomain.IsRetryable(err),
		errors.Is(err, idempotency.ErrUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:      "service_unavailable",
			Message:   "service unavailable, nothing was recorded",
			Retryable: true,
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger's error_type and error_code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
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
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, ledgerdomain.ErrInvalidKind),
		errors.Is(err, ledgerdomain.ErrInvalidPaymentMethod),
		errors.Is(err, ledgerdomain.ErrInvalidDocument),
		errors.Is(err, ledgerdomain.ErrInvalidReason),
		errors.Is(err, ledgerdomain.ErrInvalidDescription),
		errors.Is(err, receiptdomain.ErrInvalidCustomer),
		errors.Is(err, receiptdomain.ErrInvalidReason),
		errors.Is(err, receiptdomain.ErrInvalidStatus),
		errors.Is(err, invoicedomain.ErrInvalidInvoiceType),
		errors.Is(err, invoicedomain.ErrInvalidCustomer),
		errors.Is(err, invoicedomain.ErrInvalidLineItems),
		errors.Is(err, invoicedomain.ErrInvalidDiscount),
		errors.Is(err, invoicedomain.ErrInvalidTaxRate),
		errors.Is(err, invoicedomain.ErrInvalidTotal),
		errors.Is(err, invoicedomain.ErrInvalidAmount),
		errors.Is(err, invoicedomain.ErrOverpayment),
		errors.Is(err, invoicedomain.ErrInvalidReason),
		errors.Is(err, invoicedomain.ErrInvalidStatus),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, auditdomain.ErrInvalidEntity),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, export.ErrInvalidRange),
		errors.Is(err, idempotency.ErrInvalidKey),
		errors.Is(err, money.ErrInvalidAmount),
		errors.Is(err, money.ErrTooManyDecimals):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrTransactionNotFound),
		errors.Is(err, receiptdomain.ErrReceiptNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, invoicedomain.ErrPaymentNotFound),
		errors.Is(err, customerdomain.ErrCustomerNotFound),
		errors.Is(err, appointmentdomain.ErrAppointmentNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ledgerdomain.ErrInvalidStateTransition),
		errors.Is(err, ledgerdomain.ErrAlreadyReversed),
		errors.Is(err, ledgerdomain.ErrAutomaticOriginNotDirectlyReversible),
		errors.Is(err, ledgerdomain.ErrTransactionNotOwned),
		errors.Is(err, ledgerdomain.ErrReversalNotReversible),
		errors.Is(err, receiptdomain.ErrAlreadyConverted),
		errors.Is(err, invoicedomain.ErrAlreadyRefunded),
		errors.Is(err, invoicedomain.ErrPaymentNotOnInvoice),
		errors.Is(err, idempotency.ErrInProgress):
		return true
	default:
		return false
	}
}

// rootCode returns the snake_case code of the innermost error.
func rootCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return rootCode(err)
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case invoicedomain.ErrOverpayment.Error():
		return "payment exceeds the remaining amount"
	default:
		return "invalid value"
	}
}
