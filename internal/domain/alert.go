package domain

import (
	"strings"
	"time"
)

// Alert is the normalized representation of one upstream weather alert.
// Provider payloads of any shape are mapped onto this struct before anything
// downstream sees them.
type Alert struct {
	Event             string          `json:"event"`
	Description       string          `json:"description"`
	ParsedDescription LabeledSections `json:"parsedDescription"`
	SenderName        string          `json:"senderName"`
	Start             time.Time       `json:"start"`
	End               time.Time       `json:"end"`
	Tags              []string        `json:"tags,omitempty"`
	Details           *AlertDetails   `json:"details,omitempty"`
}

// AlertDetails carries the CAP-style attributes some providers report
// alongside the core fields.
type AlertDetails struct {
	Headline    string `json:"headline,omitempty"`
	MsgType     string `json:"msgType,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Urgency     string `json:"urgency,omitempty"`
	Certainty   string `json:"certainty,omitempty"`
	Category    string `json:"category,omitempty"`
	Areas       string `json:"areas,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// FlatAlert is the published shape of an Alert: timestamps become epoch
// milliseconds and the color code is materialized.
type FlatAlert struct {
	Event             string          `json:"event"`
	Description       string          `json:"description"`
	ParsedDescription LabeledSections `json:"parsedDescription"`
	SenderName        string          `json:"senderName"`
	Start             int64           `json:"start"`
	End               int64           `json:"end"`
	Tags              []string        `json:"tags,omitempty"`
	Details           *AlertDetails   `json:"details,omitempty"`
	ColorCode         string          `json:"colorCode"`
}

// AlertsUpdate is the payload of a WEATHER_ALERTS_UPDATED notification.
type AlertsUpdate struct {
	CurrentWeatherAlerts []FlatAlert `json:"currentWeatherAlerts"`
	LocationName         string      `json:"locationName"`
	ProviderName         string      `json:"providerName"`
}

// NewAlert builds an Alert and enforces the window invariants: a missing
// start falls back to now, a missing end collapses onto start, and an end
// before start is clamped to start.
func NewAlert(event, description string, sections LabeledSections, sender string, start, end time.Time) Alert {
	if start.IsZero() {
		start = clock.Now()
	}
	if end.IsZero() || end.Before(start) {
		end = start
	}
	return Alert{
		Event:             event,
		Description:       description,
		ParsedDescription: sections,
		SenderName:        sender,
		Start:             start,
		End:               end,
	}
}

// ColorCode derives a CSS-safe slug from the event name, e.g.
// "Flood Warning" -> "flood-warning" and "3rd Alert" -> "_3rd-alert".
func (a Alert) ColorCode() string {
	if a.Event == "" {
		return ""
	}
	code := strings.ReplaceAll(strings.ToLower(a.Event), " ", "-")
	if !isASCIILetter(a.Event[0]) {
		code = "_" + code
	}
	return code
}

func isASCIILetter(b byte) bool {
	return ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// Flatten converts the alert to its published shape.
func (a Alert) Flatten() FlatAlert {
	return FlatAlert{
		Event:             a.Event,
		Description:       a.Description,
		ParsedDescription: a.ParsedDescription,
		SenderName:        a.SenderName,
		Start:             a.Start.UnixMilli(),
		End:               a.End.UnixMilli(),
		Tags:              a.Tags,
		Details:           a.Details,
		ColorCode:         a.ColorCode(),
	}
}

// FlattenAll flattens every alert, always returning a non-nil slice so the
// published JSON carries [] rather than null.
func FlattenAll(alerts []Alert) []FlatAlert {
	out := make([]FlatAlert, 0, len(alerts))
	for i := range alerts {
		out = append(out, alerts[i].Flatten())
	}
	return out
}

// Limit returns at most max alerts. A max of zero or less means unlimited.
func Limit(alerts []Alert, max int) []Alert {
	if max <= 0 || len(alerts) <= max {
		return alerts
	}
	return alerts[:max]
}
