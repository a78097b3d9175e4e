package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata" // tz_id lookups must not depend on the host zoneinfo

	"github.com/couchcryptid/weather-alerts-service/internal/bridge"
	"github.com/couchcryptid/weather-alerts-service/internal/domain"
)

// WeatherAPIID is the registry identifier of the WeatherAPI.com provider.
const WeatherAPIID = "weatherapi"

// WeatherAPIDefaults are merged under caller configuration.
var WeatherAPIDefaults = Config{
	APIBase:         "https://api.weatherapi.com/v1/",
	WeatherEndpoint: "forecast.json",
}

var (
	// issuedByRe extracts the issuing office from a note such as
	// "Issued by NWS Los Angeles" -> "NWS Los Angeles".
	issuedByRe = regexp.MustCompile(`(?i)Issued by (.*)`)

	// Zone-less timestamp layouts, interpreted in the location's tz_id.
	weatherAPILocalLayouts = []string{
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
)

const defaultWeatherAPISender = "Weather Agency"

// WeatherAPI fetches alerts from the WeatherAPI.com forecast endpoint. Its
// alerts carry discrete CAP fields, so descriptions are parsed with the
// structured strategy.
type WeatherAPI struct {
	*base
}

// NewWeatherAPI builds a WeatherAPI provider. It satisfies Factory.
func NewWeatherAPI(cfg Config, deps Deps) Provider {
	cfg = cfg.WithDefaults(WeatherAPIDefaults).WithDefaults(Defaults)
	return &WeatherAPI{base: newBase("WeatherAPI", cfg, deps)}
}

// FetchCurrentWeatherAlerts implements Provider.
func (p *WeatherAPI) FetchCurrentWeatherAlerts(ctx context.Context, fallback *domain.Location, done func(domain.FetchResult)) {
	p.run(ctx, fallback, done, p.url, p.parse)
}

func (p *WeatherAPI) url(_ context.Context, fallback *domain.Location) (string, error) {
	t, err := p.resolveTarget(fallback)
	if err != nil {
		return "", err
	}

	var q string
	switch {
	case t.geo != nil:
		q = t.geo.String()
	case t.id != "":
		q = url.QueryEscape("id:" + t.id)
	default:
		q = url.QueryEscape(t.name)
	}

	var b strings.Builder
	b.WriteString(p.cfg.APIBase)
	b.WriteString(p.cfg.WeatherEndpoint)
	b.WriteString("?key=")
	b.WriteString(url.QueryEscape(p.cfg.APIKey))
	b.WriteString("&q=")
	b.WriteString(q)
	b.WriteString("&alerts=yes&aqi=no&days=1")
	if p.cfg.Lang != "" && p.cfg.Lang != "en" {
		b.WriteString("&lang=")
		b.WriteString(url.QueryEscape(p.cfg.Lang))
	}
	return b.String(), nil
}

// WeatherAPI response types.

type weatherAPIResponse struct {
	Location *weatherAPILocation `json:"location"`
	Alerts   *struct {
		Alert json.RawMessage `json:"alert"`
	} `json:"alerts"`
}

type weatherAPILocation struct {
	Name    string `json:"name"`
	Region  string `json:"region"`
	Country string `json:"country"`
	TzID    string `json:"tz_id"`
}

type weatherAPIAlert struct {
	Headline    string `json:"headline"`
	MsgType     string `json:"msgtype"`
	Severity    string `json:"severity"`
	Urgency     string `json:"urgency"`
	Areas       string `json:"areas"`
	Category    string `json:"category"`
	Certainty   string `json:"certainty"`
	Event       string `json:"event"`
	Note        string `json:"note"`
	Effective   string `json:"effective"`
	Expires     string `json:"expires"`
	Desc        string `json:"desc"`
	Instruction string `json:"instruction"`
}

func (p *WeatherAPI) parse(_ context.Context, payload bridge.Payload) ([]domain.Alert, string, error) {
	var resp weatherAPIResponse
	if err := payload.Decode(&resp); err != nil {
		return nil, "", err
	}

	zone := time.UTC
	locationName := ""
	if resp.Location != nil {
		locationName = fmt.Sprintf("%s, %s, %s", resp.Location.Name, resp.Location.Region, resp.Location.Country)
		if resp.Location.TzID != "" {
			if z, err := time.LoadLocation(resp.Location.TzID); err == nil {
				zone = z
			} else {
				p.logger.Debug("unknown tz_id, using UTC", "tz_id", resp.Location.TzID)
			}
		}
	}

	var raw json.RawMessage
	if resp.Alerts != nil {
		raw = resp.Alerts.Alert
	}
	items := decodeList[weatherAPIAlert](raw, p.logger)

	alerts := make([]domain.Alert, 0, len(items))
	for _, item := range items {
		alerts = append(alerts, p.toAlert(item, zone))
	}
	return alerts, locationName, nil
}

func (p *WeatherAPI) toAlert(a weatherAPIAlert, zone *time.Location) domain.Alert {
	event := firstNonEmpty(a.Event, a.Headline, defaultEvent)
	description := firstNonEmpty(a.Desc, a.Instruction)

	alert := domain.NewAlert(
		event,
		description,
		domain.LabeledSections{},
		senderFromNote(a.Note),
		parseWeatherAPITime(a.Effective, zone),
		parseWeatherAPITime(a.Expires, zone),
	)
	alert.ParsedDescription = domain.ParseStructuredDescription(domain.StructuredFields{
		Headline:    a.Headline,
		Event:       event,
		Areas:       a.Areas,
		Start:       alert.Start.In(zone),
		End:         alert.End.In(zone),
		Description: a.Desc,
		Instruction: a.Instruction,
	})
	alert.Tags = splitAreas(a.Areas)
	alert.Details = &domain.AlertDetails{
		Headline:    a.Headline,
		MsgType:     a.MsgType,
		Severity:    a.Severity,
		Urgency:     a.Urgency,
		Certainty:   a.Certainty,
		Category:    a.Category,
		Areas:       a.Areas,
		Instruction: a.Instruction,
	}
	return alert
}

// senderFromNote returns the office named after "Issued by", the whole note
// when there is no such phrase, or a generic placeholder for an empty note.
func senderFromNote(note string) string {
	if m := issuedByRe.FindStringSubmatch(note); m != nil {
		if sender := strings.TrimSpace(m[1]); sender != "" {
			return sender
		}
	}
	if strings.TrimSpace(note) != "" {
		return note
	}
	return defaultWeatherAPISender
}

// parseWeatherAPITime accepts RFC 3339 timestamps and zone-less local
// timestamps. Unparseable input yields the zero time.
func parseWeatherAPITime(s string, zone *time.Location) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	for _, layout := range weatherAPILocalLayouts {
		if t, err := time.ParseInLocation(layout, s, zone); err == nil {
			return t
		}
	}
	return time.Time{}
}

func splitAreas(areas string) []string {
	var out []string
	for _, a := range strings.Split(areas, ";") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
