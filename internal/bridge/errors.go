package bridge

import (
	"fmt"

	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
)

// FetchError is a failure reported by the worker: a network error or an
// unsuccessful HTTP status. TranslationKey classifies it for display.
type FetchError struct {
	Message        string
	TranslationKey string
}

func (e *FetchError) Error() string {
	if e.TranslationKey == "" {
		return "fetch failed: " + e.Message
	}
	return fmt.Sprintf("fetch failed (%s): %s", e.TranslationKey, e.Message)
}

// ParseError means the worker delivered a body that could not be decoded as
// the requested content type.
type ParseError struct {
	Type protocol.ContentType
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s payload: %v", e.Type, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
