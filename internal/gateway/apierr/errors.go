// Package apierr defines the typed errors the request pipeline returns and
// renders them in the OpenAI or Anthropic error envelope.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/mrmushfiq/llm0-claude-gateway/internal/shared/models"
)

// Error types, as sent in the OpenAI-style envelope.
const (
	TypeAuth           = "auth_error"
	TypeInvalidRequest = "invalid_request_error"
	TypeRateLimit      = "rate_limit_error"
	TypeUpstream       = "upstream_error"
	TypeServer         = "server_error"
)

// Error codes for failures clients may want to branch on.
const (
	CodeUnmappedExternalKey   = "unmapped_external_key"
	CodeQuotaExceeded         = "quota_exceeded"
	CodeRateLimited           = "rate_limited"
	CodeNoValidMessages       = "no_valid_messages"
	CodeUpstreamNotConfigured = "upstream_not_configured"
)

// Error is a pipeline failure with the HTTP status it maps to.
type Error struct {
	Status  int
	Type    string
	Code    string
	Message string
	Details map[string]any

	// Measured and Limit are set on quota failures.
	Measured float64
	Limit    float64
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s/%s] %s (status=%d)", e.Type, e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("[%s] %s (status=%d)", e.Type, e.Message, e.Status)
}

// Unauthenticated is returned when no credential was presented.
func Unauthenticated(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Type: TypeAuth, Message: message}
}

// Forbidden is returned for unknown or disabled credentials.
func Forbidden(message string) *Error {
	return &Error{Status: http.StatusForbidden, Type: TypeAuth, Message: message}
}

// UnmappedExternalKey is returned when an external-format key has no mapping.
func UnmappedExternalKey() *Error {
	return &Error{
		Status: http.StatusUnauthorized,
		Type:   TypeAuth,
		Code:   CodeUnmappedExternalKey,
		Message: "This API key is not mapped to a gateway key. " +
			"Ask an administrator to map it (gateway map-key <external-key> <gateway-key>), " +
			"or send your gateway key as \"Authorization: Bearer <key>\".",
	}
}

// QuotaExceeded is returned when a principal is over its monthly budget.
func QuotaExceeded(message string, measured, limit float64) *Error {
	return &Error{
		Status:   http.StatusTooManyRequests,
		Type:     TypeRateLimit,
		Code:     CodeQuotaExceeded,
		Message:  message,
		Measured: measured,
		Limit:    limit,
		Details:  map[string]any{"measured": measured, "limit": limit},
	}
}

// RateLimited is returned when the per-minute request limit is hit.
func RateLimited(limit int) *Error {
	return &Error{
		Status:  http.StatusTooManyRequests,
		Type:    TypeRateLimit,
		Code:    CodeRateLimited,
		Message: fmt.Sprintf("Rate limit exceeded (%d requests per minute)", limit),
		Limit:   float64(limit),
	}
}

// Validation reports payload shape errors keyed by field.
func Validation(fieldErrors map[string][]string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Type:    TypeInvalidRequest,
		Message: "Invalid request",
		Details: map[string]any{"fieldErrors": fieldErrors},
	}
}

// InvalidRequest is a 400 with a free-form message.
func InvalidRequest(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Type: TypeInvalidRequest, Message: message}
}

// RequestTooLarge is returned when the body exceeds the size limit.
func RequestTooLarge(limitBytes int64) *Error {
	return &Error{
		Status:  http.StatusRequestEntityTooLarge,
		Type:    TypeInvalidRequest,
		Message: fmt.Sprintf("Request body exceeds %d bytes", limitBytes),
	}
}

// NoValidMessages is returned when sanitization leaves nothing to send.
func NoValidMessages() *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Type:    TypeInvalidRequest,
		Code:    CodeNoValidMessages,
		Message: "No valid messages after sanitization. At least one valid message is required.",
	}
}

// UpstreamNotConfigured is returned when the provider credential is missing.
func UpstreamNotConfigured() *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Type:    TypeServer,
		Code:    CodeUpstreamNotConfigured,
		Message: "ANTHROPIC_API_KEY is not configured",
	}
}

// Upstream mirrors a provider failure. A status outside 4xx/5xx becomes 500.
func Upstream(status int, message string) *Error {
	if status < 400 || status > 599 {
		status = http.StatusInternalServerError
	}
	return &Error{Status: status, Type: TypeUpstream, Message: message}
}

// Internal is a 500 for store faults and other unexpected failures.
func Internal(message string) *Error {
	return &Error{Status: http.StatusInternalServerError, Type: TypeServer, Message: message}
}

// As returns err as an *Error, wrapping anything else as Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err.Error())
}

type openAIBody struct {
	Message string         `json:"message"`
	Type    string         `json:"type"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

type anthropicBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// AnthropicType maps a status onto the Anthropic error type vocabulary.
func AnthropicType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusNotFound:
		return "not_found_error"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case 529:
		return "overloaded_error"
	default:
		return "api_error"
	}
}

// Body returns the JSON envelope for err in the given dialect.
func Body(d models.Dialect, err *Error) any {
	if d == models.DialectAnthropic {
		return struct {
			Type  string        `json:"type"`
			Error anthropicBody `json:"error"`
		}{
			Type:  "error",
			Error: anthropicBody{Type: AnthropicType(err.Status), Message: err.Message},
		}
	}
	return struct {
		Error openAIBody `json:"error"`
	}{
		Error: openAIBody{Message: err.Message, Type: err.Type, Code: err.Code, Details: err.Details},
	}
}

// Write renders err as a JSON response in the given dialect.
func Write(w http.ResponseWriter, d models.Dialect, err error) {
	e := As(err)
	data, mErr := json.Marshal(Body(d, e))
	if mErr != nil {
		http.Error(w, e.Message, e.Status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	w.Write(data)
}
