package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind classifies a transport failure. UI layers render the fixed Message
// for the kind; backend internals and stack traces never leak through.
type Kind string

const (
	// KindValidation is bad local input, rejected before any network call.
	KindValidation Kind = "validation"

	// KindNetwork is a request that got no response (DNS, refused, timeout).
	KindNetwork Kind = "network"

	// KindAuth covers 401 and 403: invalid, expired or insufficient credentials.
	KindAuth Kind = "auth"

	// KindBadRequest is a 400 from the backend (server-side validation).
	KindBadRequest Kind = "bad_request"

	// KindRateLimit is a 429.
	KindRateLimit Kind = "rate_limited"

	// KindServer is any 5xx.
	KindServer Kind = "server"

	// KindCircuitOpen is a fail-fast rejection while the breaker is open.
	KindCircuitOpen Kind = "circuit_open"

	// KindUnknown is the fallback for anything unclassified.
	KindUnknown Kind = "unknown"
)

// messages are the user-visible strings for each kind.
var messages = map[Kind]string{
	KindValidation:  "invalid input",
	KindNetwork:     "network error, please check your connection",
	KindAuth:        "authentication failed",
	KindBadRequest:  "the server rejected the request",
	KindRateLimit:   "too many requests, please slow down",
	KindServer:      "the server encountered an error",
	KindCircuitOpen: "service temporarily unavailable",
	KindUnknown:     "an unexpected error occurred",
}

// Error is the normalized error every transport failure resolves to.
type Error struct {
	Kind       Kind
	StatusCode int    // 0 when no response was received
	Message    string // human-readable, from the fixed taxonomy
	Code       string // backend error code when the body parsed, for logs only
	RequestID  string // X-Request-ID of the failing request, when known
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the failure class is worth retrying: network
// failures (including timeouts) and 408/429/5xx. 400/401/403/404 never are.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindServer, KindRateLimit:
		return true
	default:
		return e.StatusCode == http.StatusRequestTimeout
	}
}

// NewError builds an Error of the given kind with its taxonomy message.
func NewError(kind Kind, statusCode int) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Message: messages[kind]}
}

// errorBody is the backend's error response shape.
type errorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ClassifyStatus maps an HTTP status code onto the taxonomy. The response
// body, when it parses as a backend error payload, refines the message for
// logs but the user-visible Message stays within the taxonomy.
func ClassifyStatus(statusCode int, body []byte) *Error {
	var kind Kind
	switch {
	case statusCode == http.StatusBadRequest:
		kind = KindBadRequest
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		kind = KindAuth
	case statusCode == http.StatusRequestTimeout:
		kind = KindNetwork
	case statusCode == http.StatusTooManyRequests:
		kind = KindRateLimit
	case statusCode >= 500:
		kind = KindServer
	default:
		kind = KindUnknown
	}

	err := NewError(kind, statusCode)

	// Keep the backend's error code if the body parses; descriptions are
	// backend internals and stay out of the user-visible message.
	var parsed errorBody
	if jsonErr := json.Unmarshal(body, &parsed); jsonErr == nil && parsed.Error != "" {
		err.Code = parsed.Error
	}

	return err
}

// NetworkError wraps a transport-level failure (no response received).
func NetworkError() *Error {
	return NewError(KindNetwork, 0)
}
