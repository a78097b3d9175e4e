package worker

import (
	"context"
	"errors"
	"net/http"
)

// Translation keys attached to FETCH_ERROR so the display layer can show a
// localized message.
const (
	KeyNoConnection = "MODULE_ERROR_NO_CONNECTION"
	KeyUnauthorized = "MODULE_ERROR_UNAUTHORIZED"
	KeyRateLimited  = "MODULE_ERROR_RATE_LIMITED"
	KeyServerError  = "MODULE_ERROR_SERVER_ERROR"
	KeyClientError  = "MODULE_ERROR_CLIENT_ERROR"
	KeyCancelled    = "MODULE_ERROR_CANCELLED"
	KeyUnspecified  = "MODULE_ERROR_UNSPECIFIED"
)

// classifyStatus maps an HTTP status to a translation key. Success maps to "".
func classifyStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return ""
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KeyUnauthorized
	case code == http.StatusTooManyRequests:
		return KeyRateLimited
	case code >= 500:
		return KeyServerError
	case code >= 400:
		return KeyClientError
	default:
		return KeyUnspecified
	}
}

// classifyError maps a transport-level failure to a translation key.
func classifyError(err error) string {
	if errors.Is(err, context.Canceled) {
		return KeyCancelled
	}
	return KeyNoConnection
}
