package server

import (
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/money"
)

var registerOnce sync.Once

// registerValidators adds the ledger tags to gin's validator and reports
// fields by their JSON name.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
		_ = v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
			return ledgerdomain.PaymentMethod(strings.ToLower(strings.TrimSpace(fl.Field().String()))).Valid()
		})
		_ = v.RegisterValidation("money", func(fl validator.FieldLevel) bool {
			amount, err := money.Parse(fl.Field().String())
			return err == nil && amount >= 0
		})
	})
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		AbortWithError(c, bindError(err))
		return false
	}
	return true
}

func bindError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		if errors.Is(err, io.EOF) {
			return newValidationError("body", "empty_body", "request body is required")
		}
		return invalidRequestError()
	}
	out := &ValidationErrors{}
	for _, fe := range fieldErrs {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fe.Field(),
			Code:    fe.Tag(),
			Message: fieldMessage(fe),
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "payment_method":
		return "payment_method must be cash, card or transfer"
	case "money":
		return fe.Field() + " must be a non-negative amount with at most two decimals"
	case "oneof":
		return fe.Field() + " must be one of " + fe.Param()
	default:
		return "invalid " + fe.Field()
	}
}

type auditWarning struct {
	Code       string `json:"code"`
	Action     string `json:"action"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// respond writes data for a successful or committed operation. A committed
// operation whose audit entry failed still succeeds and carries warnings.
func respond(c *gin.Context, status int, data any, err error) {
	if err != nil && !auditdomain.IsCommitted(err) {
		AbortWithError(c, err)
		return
	}
	body := gin.H{"data": data}
	if incomplete := auditdomain.Incomplete(err); len(incomplete) > 0 {
		warnings := make([]auditWarning, 0, len(incomplete))
		for _, w := range incomplete {
			warnings = append(warnings, auditWarning{
				Code:       auditdomain.ErrAuditIncomplete.Error(),
				Action:     string(w.Action),
				EntityType: w.EntityType,
				EntityID:   w.EntityID,
			})
		}
		body["warnings"] = warnings
	}
	c.JSON(status, body)
}

func attachment(c *gin.Context, contentType, filename string, body []byte) {
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, contentType, body)
}
