// Package codec owns the uniform error payload and the extraction of error
// details from upstream response bodies.
package codec

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/isaacmorgado/clauded/internal/types"
)

// Error types of the uniform error payload.
const (
	TypeRateLimit      = "rate_limit_error"
	TypeAuthentication = "authentication_error"
	TypeAPI            = "api_error"
	TypeInvalidRequest = "invalid_request_error"
	TypeContextLength  = "context_length_exceeded"
)

// GatewayError is the one error shape that crosses the admission,
// translation and compaction boundaries. Everything internal converts into
// it before reaching the caller.
type GatewayError struct {
	Type    string
	Message string
	Status  int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Envelope renders the uniform wire payload.
func (e *GatewayError) Envelope() types.ErrorEnvelope {
	return types.ErrorEnvelope{
		Type:  "error",
		Error: types.ErrorBody{Type: e.Type, Message: e.Message},
	}
}

// NewError builds a GatewayError with the canonical HTTP status for its type.
func NewError(errType, message string) *GatewayError {
	return &GatewayError{Type: errType, Message: message, Status: statusFor(errType)}
}

func statusFor(errType string) int {
	switch errType {
	case TypeRateLimit:
		return http.StatusTooManyRequests
	case TypeAuthentication:
		return http.StatusUnauthorized
	case TypeInvalidRequest, TypeContextLength:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// FromUpstreamStatus classifies a non-2xx upstream reply into the uniform
// taxonomy, preserving the upstream message verbatim when one is found.
func FromUpstreamStatus(status int, body []byte) *GatewayError {
	msg := ExtractUpstreamMessage(body)
	if msg == "" {
		msg = fmt.Sprintf("upstream returned HTTP %d %s", status, http.StatusText(status))
	}

	var errType string
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		errType = TypeAuthentication
	case status == http.StatusTooManyRequests:
		errType = TypeRateLimit
	case status >= 400 && status < 500:
		errType = TypeInvalidRequest
	default:
		errType = TypeAPI
	}
	return &GatewayError{Type: errType, Message: msg, Status: status}
}

// upstreamMessagePaths are probed in order against the raw error body.
// Providers disagree on nesting, so the common shapes are tried explicitly.
var upstreamMessagePaths = []string{
	"error.message",
	"error.error.message",
	"message",
	"detail",
	"error_description",
	"errors.0.message",
	"error",
}

// ExtractUpstreamMessage pulls a human-readable message out of an arbitrary
// provider error body. Returns "" when nothing usable is found.
func ExtractUpstreamMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || !gjson.Valid(trimmed) {
		return compactPreview(trimmed, 280)
	}
	for _, path := range upstreamMessagePaths {
		if v := gjson.Get(trimmed, path); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

// RetryableStatus reports whether an upstream status is worth retrying.
func RetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

func compactPreview(s string, maxLen int) string {
	clean := strings.Join(strings.Fields(s), " ")
	if len(clean) <= maxLen {
		return clean
	}
	return clean[:maxLen] + "..."
}
