package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/coursemart/internal/authorization"
	catalogdomain "github.com/smallbiznis/coursemart/internal/catalog/domain"
	enrollmentdomain "github.com/smallbiznis/coursemart/internal/enrollment/domain"
	identitydomain "github.com/smallbiznis/coursemart/internal/identity/domain"
	paymentdomain "github.com/smallbiznis/coursemart/internal/payment/domain"
	purchasedomain "github.com/smallbiznis/coursemart/internal/purchase/domain"
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
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
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
		if status == http.StatusTooManyRequests {
			c.Header("Retry-After", "1")
		}
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
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "unauthorized"}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{Type: "forbidden", Message: "forbidden"}
	case errors.Is(err, purchasedomain.ErrAlreadyEnrolled),
		errors.Is(err, purchasedomain.ErrDuplicatePending):
		return http.StatusConflict, errorPayload{Type: err.Error(), Message: conflictMessage(err)}
	case errors.Is(err, purchasedomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{Type: "rate_limited", Message: "too many checkout attempts"}
	case errors.Is(err, catalogdomain.ErrCourseNotFound),
		errors.Is(err, catalogdomain.ErrCourseNotForSale):
		return http.StatusNotFound, errorPayload{Type: "course_not_found", Message: "course not found"}
	case errors.Is(err, purchasedomain.ErrPurchaseNotFound):
		return http.StatusNotFound, errorPayload{Type: "purchase_not_found", Message: "purchase not found"}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "not found"}
	case isValidationError(err):
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

	if status, payload, ok := mapPaymentError(err); ok {
		return status, payload
	}
	if status, payload, ok := mapIdentityError(err); ok {
		return status, payload
	}

	if errors.Is(err, ErrServiceUnavailable) {
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "service unavailable"}
	}
	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

// mapPaymentError classifies processor and webhook failures by category.
// Unknown correlation is checked before its validation category.
func mapPaymentError(err error) (int, errorPayload, bool) {
	code := paymentdomain.CodeOf(err)
	switch {
	case errors.Is(err, paymentdomain.ErrUnknownCorrelation):
		return http.StatusUnprocessableEntity, errorPayload{Type: code, Message: "event does not match any purchase"}, true
	case errors.Is(err, paymentdomain.ErrUpstreamUnauthorized),
		errors.Is(err, paymentdomain.ErrUpstreamRejected):
		return http.StatusBadGateway, errorPayload{Type: "upstream_error", Message: "payment processor rejected the request"}, true
	case errors.Is(err, paymentdomain.ErrAuthenticationFailure):
		return http.StatusBadRequest, errorPayload{Type: "authentication_failure", Message: code}, true
	case errors.Is(err, paymentdomain.ErrValidationFailure):
		return http.StatusBadRequest, errorPayload{Type: "validation_failure", Message: code}, true
	case errors.Is(err, paymentdomain.ErrTransientUpstream):
		return http.StatusServiceUnavailable, errorPayload{Type: "transient_upstream", Message: code}, true
	case errors.Is(err, paymentdomain.ErrConflictingState):
		return http.StatusConflict, errorPayload{Type: "conflicting_state", Message: code}, true
	default:
		return 0, errorPayload{}, false
	}
}

func mapIdentityError(err error) (int, errorPayload, bool) {
	switch {
	case errors.Is(err, identitydomain.ErrInvalidSignature),
		errors.Is(err, identitydomain.ErrStaleTimestamp):
		return http.StatusBadRequest, errorPayload{Type: "authentication_failure", Message: err.Error()}, true
	case errors.Is(err, identitydomain.ErrMalformedPayload):
		return http.StatusBadRequest, errorPayload{Type: "validation_failure", Message: "malformed_payload"}, true
	case errors.Is(err, identitydomain.ErrLearnerNotFound):
		return http.StatusNotFound, errorPayload{Type: "learner_not_found", Message: "learner not found"}, true
	default:
		return 0, errorPayload{}, false
	}
}

func conflictMessage(err error) string {
	if errors.Is(err, purchasedomain.ErrAlreadyEnrolled) {
		return "learner is already enrolled in this course"
	}
	return "a checkout for this course is already in progress"
}

// classifyErrorForLog returns the response type and a stable code for the
// access log.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	if code := paymentdomain.CodeOf(err); code != "" {
		return payload.Type, code
	}
	if vErr := asValidationErrors(err); vErr != nil && len(vErr.Errors) > 0 {
		return payload.Type, vErr.Errors[0].Code
	}
	if payload.Type == "internal_error" {
		return payload.Type, "internal"
	}
	return payload.Type, err.Error()
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
		errors.Is(err, purchasedomain.ErrInvalidCourse),
		errors.Is(err, purchasedomain.ErrInvalidLearner),
		errors.Is(err, purchasedomain.ErrInvalidPageToken),
		errors.Is(err, enrollmentdomain.ErrInvalidLearner),
		errors.Is(err, enrollmentdomain.ErrInvalidCourse):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
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
	default:
		return "invalid value"
	}
}
