package bridge

import (
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
)

// Payload is a decoded worker reply. JSON bodies keep their raw bytes; XML
// bodies keep the source text and a generic element tree.
type Payload struct {
	Type     protocol.ContentType
	Raw      json.RawMessage
	Text     string
	Document *XMLNode
}

// XMLNode is one element of a parsed XML document.
type XMLNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Text     string     `xml:",chardata"`
	Children []XMLNode  `xml:",any"`
}

// Decode unmarshals the payload into v using the payload's content type.
func (p Payload) Decode(v any) error {
	switch p.Type {
	case protocol.ContentXML:
		if err := xml.Unmarshal([]byte(p.Text), v); err != nil {
			return fmt.Errorf("decode xml payload: %w", err)
		}
	default:
		if err := json.Unmarshal(p.Raw, v); err != nil {
			return fmt.Errorf("decode json payload: %w", err)
		}
	}
	return nil
}

// JSONPayload wraps raw bytes as a JSON payload after validating them.
func JSONPayload(raw []byte) (Payload, error) {
	if len(raw) == 0 {
		return Payload{}, &ParseError{Type: protocol.ContentJSON, Err: errors.New("empty body")}
	}
	if !json.Valid(raw) {
		return Payload{}, &ParseError{Type: protocol.ContentJSON, Err: errors.New("invalid JSON")}
	}
	return Payload{Type: protocol.ContentJSON, Raw: json.RawMessage(raw)}, nil
}

// XMLPayload parses text into an element tree.
func XMLPayload(text string) (Payload, error) {
	var doc XMLNode
	if err := xml.Unmarshal([]byte(text), &doc); err != nil {
		return Payload{}, &ParseError{Type: protocol.ContentXML, Err: err}
	}
	return Payload{Type: protocol.ContentXML, Text: text, Document: &doc}, nil
}

func decodePayload(data protocol.AlertsData) (Payload, error) {
	if data.Type != protocol.ContentXML {
		return JSONPayload(data.Data)
	}
	var text string
	if err := json.Unmarshal(data.Data, &text); err != nil {
		return Payload{}, &ParseError{Type: protocol.ContentXML, Err: err}
	}
	return XMLPayload(text)
}
