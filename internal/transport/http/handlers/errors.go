package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dota-pilot1/dota-admin-backend/internal/infra/logger"
	"github.com/dota-pilot1/dota-admin-backend/internal/transport/http/middleware"
)

// Error codes carried by the error envelope.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeInvalidArgument      = "INVALID_ARGUMENT"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeNotAuthenticated     = "NOT_AUTHENTICATED"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeInternalServerError  = "INTERNAL_SERVER_ERROR"
)

const timestampLayout = "2006-01-02T15:04:05"

// ErrorResponse is the error envelope shared by handlers and middleware.
type ErrorResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	ErrorCode string   `json:"errorCode"`
	Details   []string `json:"details,omitempty"`
	Timestamp string   `json:"timestamp"`
	TraceID   string   `json:"traceId,omitempty"`
}

// NewErrorResponse creates an error envelope stamped with the request trace ID.
func NewErrorResponse(c *gin.Context, code, message string, details ...string) ErrorResponse {
	return ErrorResponse{
		Success:   false,
		Message:   message,
		ErrorCode: code,
		Details:   details,
		Timestamp: time.Now().Format(timestampLayout),
		TraceID:   middleware.GetTraceID(c),
	}
}

// ErrorCase maps a sentinel error to an HTTP status code, error code and message.
type ErrorCase struct {
	Err     error
	Status  int
	Code    string
	Message string
}

// RespondError resolves err against the ordered cases. Unmatched errors are
// logged and answered with a generic 500.
func RespondError(c *gin.Context, err error, cases ...ErrorCase) {
	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Code, cs.Message))
			return
		}
	}

	logger.WithContext(c.Request.Context()).Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError,
		NewErrorResponse(c, CodeInternalServerError, "An unexpected error occurred"))
}

// RespondBindingError answers a request whose body failed to bind.
func RespondBindingError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		details := make([]string, 0, len(validationErrs))
		for _, fieldErr := range validationErrs {
			details = append(details, describeFieldError(fieldErr))
		}
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, CodeValidationError, "Validation failed", details...))
		return
	}

	message := "Malformed request body"
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		message = "Request body is required"
	case errors.As(err, &typeErr):
		message = fmt.Sprintf("Invalid value for field %s", typeErr.Field)
	case errors.As(err, &syntaxErr):
		message = "Malformed JSON"
	}
	c.JSON(http.StatusBadRequest, NewErrorResponse(c, CodeInvalidArgument, message))
}

func describeFieldError(fe validator.FieldError) string {
	field := lowerFirst(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + ": must not be blank"
	case "email":
		return field + ": must be a well-formed email address"
	case "max":
		return fmt.Sprintf("%s: size must be at most %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s: size must be at least %s", field, fe.Param())
	case "username":
		return field + ": " + usernameRuleDescription
	default:
		return fmt.Sprintf("%s: failed %s validation", field, fe.Tag())
	}
}

func lowerFirst(value string) string {
	if value == "" {
		return value
	}
	return strings.ToLower(value[:1]) + value[1:]
}
