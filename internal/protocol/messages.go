// Package protocol defines the messages exchanged between the presentation
// side and the privileged fetch worker. Both sides import this package so the
// wire shapes stay in lockstep.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies the kind of message on the wire.
type MessageType string

const (
	// Presentation → Worker
	MsgFetchWeatherAlerts MessageType = "FETCH_WEATHER_ALERTS"
	MsgStopFetcher        MessageType = "STOP_FETCHER"

	// Worker → Presentation
	MsgWeatherAlertsData MessageType = "WEATHER_ALERTS_DATA"
	MsgFetchError        MessageType = "FETCH_ERROR"

	// Presentation → Listeners
	MsgWeatherAlertsUpdated MessageType = "WEATHER_ALERTS_UPDATED"
)

// ContentType selects how a fetched body is decoded.
type ContentType string

const (
	ContentJSON ContentType = "json"
	ContentXML  ContentType = "xml"
)

// Envelope wraps every message on the wire.
type Envelope struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps payload in an envelope with a fresh ID.
func NewEnvelope(msgType MessageType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Header is one outbound HTTP request header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// FetchRequest asks the worker to GET a URL on behalf of a stream.
type FetchRequest struct {
	URL            string      `json:"url"`
	Identifier     string      `json:"identifier"`
	RequestID      string      `json:"requestId,omitempty"`
	Type           ContentType `json:"type"`
	RequestHeaders []Header    `json:"requestHeaders,omitempty"`
}

// AlertsData carries a fetched body back to the requesting stream. JSON
// bodies are embedded verbatim; XML bodies are embedded as a JSON string.
type AlertsData struct {
	Identifier string          `json:"identifier"`
	RequestID  string          `json:"requestId,omitempty"`
	Data       json.RawMessage `json:"data"`
	Type       ContentType     `json:"type"`
}

// FetchError reports a failed fetch.
type FetchError struct {
	Identifier     string `json:"identifier"`
	RequestID      string `json:"requestId,omitempty"`
	Error          string `json:"error"`
	TranslationKey string `json:"translationKey,omitempty"`
}

// StopFetcher tears down the stream for an identifier.
type StopFetcher struct {
	Identifier string `json:"identifier"`
}
