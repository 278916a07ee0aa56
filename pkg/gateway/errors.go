package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error is returned for non-2xx gateway responses.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway: http %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a gateway 404.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err is a gateway 401 or 403.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized) || hasStatus(err, http.StatusForbidden)
}

func hasStatus(err error, status int) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.StatusCode == status
	}
	return false
}

func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

// parseError builds an *Error from a response body, accepting
// {"error":{"code","message"}}, {"code","message"} or plain text.
func parseError(status int, requestID string, body []byte) *Error {
	out := &Error{StatusCode: status, RequestID: requestID}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		out.Message = strings.TrimSpace(string(body))
		if out.Message == "" {
			out.Message = http.StatusText(status)
		}
		return out
	}
	if inner, ok := obj["error"].(map[string]any); ok {
		obj = inner
	} else if s, ok := obj["error"].(string); ok {
		out.Message = s
	}
	if c, ok := obj["code"].(string); ok {
		out.Code = c
	}
	if m, ok := obj["message"].(string); ok {
		out.Message = m
	}
	if id, ok := obj["request_id"].(string); ok && id != "" {
		out.RequestID = id
	}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}
