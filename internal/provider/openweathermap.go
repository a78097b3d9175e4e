package provider

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-alerts-service/internal/bridge"
	"github.com/couchcryptid/weather-alerts-service/internal/domain"
)

// OpenWeatherMapID is the registry identifier of the OpenWeatherMap provider.
const OpenWeatherMapID = "openweathermap"

const oneCallEndpoint = "/onecall"

// OpenWeatherMapDefaults are merged under caller configuration.
var OpenWeatherMapDefaults = Config{
	APIBase:         "https://api.openweathermap.org/data/",
	APIVersion:      "3.0",
	WeatherEndpoint: oneCallEndpoint,
}

// OpenWeatherMap fetches alerts from the One Call API. Its descriptions are
// free NWS text, so they are parsed with the segmented strategy.
type OpenWeatherMap struct {
	*base
}

// NewOpenWeatherMap builds an OpenWeatherMap provider. It satisfies Factory.
func NewOpenWeatherMap(cfg Config, deps Deps) Provider {
	cfg = cfg.WithDefaults(OpenWeatherMapDefaults).WithDefaults(Defaults)
	return &OpenWeatherMap{base: newBase("OpenWeatherMap", cfg, deps)}
}

// FetchCurrentWeatherAlerts implements Provider.
func (p *OpenWeatherMap) FetchCurrentWeatherAlerts(ctx context.Context, fallback *domain.Location, done func(domain.FetchResult)) {
	p.run(ctx, fallback, done, p.url, p.parse)
}

func (p *OpenWeatherMap) url(ctx context.Context, fallback *domain.Location) (string, error) {
	t, err := p.resolveTarget(fallback)
	if err != nil {
		return "", err
	}

	// One Call only accepts coordinates.
	if t.geo == nil && t.name != "" {
		if geo, ok := domain.ResolveGeo(ctx, t.name, p.geocoder, p.logger); ok {
			t.geo = &geo
		}
	}

	var b strings.Builder
	b.WriteString(p.cfg.APIBase)
	b.WriteString(p.cfg.APIVersion)
	b.WriteString(p.cfg.WeatherEndpoint)
	b.WriteString("?")
	switch {
	case t.geo != nil:
		b.WriteString("lat=" + formatCoord(t.geo.Lat))
		b.WriteString("&lon=" + formatCoord(t.geo.Lon))
		if p.cfg.WeatherEndpoint == oneCallEndpoint {
			b.WriteString("&exclude=minutely")
		}
	case t.id != "":
		b.WriteString("id=" + url.QueryEscape(t.id))
	default:
		b.WriteString("q=" + url.QueryEscape(t.name))
	}
	b.WriteString("&units=" + url.QueryEscape(p.cfg.Units))
	b.WriteString("&lang=" + url.QueryEscape(p.cfg.Lang))
	b.WriteString("&APPID=" + url.QueryEscape(p.cfg.APIKey))
	return b.String(), nil
}

// One Call response types.

type oneCallResponse struct {
	Lat            float64         `json:"lat"`
	Lon            float64         `json:"lon"`
	Timezone       string          `json:"timezone"`
	TimezoneOffset int             `json:"timezone_offset"`
	Alerts         json.RawMessage `json:"alerts"`
}

type oneCallAlert struct {
	SenderName  string   `json:"sender_name"`
	Event       string   `json:"event"`
	Start       int64    `json:"start"`
	End         int64    `json:"end"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

func (p *OpenWeatherMap) parse(ctx context.Context, payload bridge.Payload) ([]domain.Alert, string, error) {
	if p.cfg.WeatherEndpoint != oneCallEndpoint {
		p.logger.Info("alerts can only be fetched from the /onecall endpoint", "endpoint", p.cfg.WeatherEndpoint)
		return []domain.Alert{}, "", nil
	}

	var resp oneCallResponse
	if err := payload.Decode(&resp); err != nil {
		return nil, "", err
	}

	zone := time.FixedZone(resp.Timezone, resp.TimezoneOffset)
	items := decodeList[oneCallAlert](resp.Alerts, p.logger)

	alerts := make([]domain.Alert, 0, len(items))
	for _, item := range items {
		alerts = append(alerts, toOneCallAlert(item, zone))
	}

	locationName := resp.Timezone
	if name, ok := domain.DescribeGeo(ctx, domain.Geo{Lat: resp.Lat, Lon: resp.Lon}, p.geocoder, p.logger); ok {
		locationName = name
	}
	return alerts, locationName, nil
}

func toOneCallAlert(a oneCallAlert, zone *time.Location) domain.Alert {
	var start, end time.Time
	if a.Start != 0 {
		start = time.Unix(a.Start, 0).In(zone)
	}
	if a.End != 0 {
		end = time.Unix(a.End, 0).In(zone)
	}

	alert := domain.NewAlert(
		firstNonEmpty(a.Event, defaultEvent),
		a.Description,
		domain.ParseSegmentedDescription(a.Description),
		a.SenderName,
		start,
		end,
	)
	alert.Tags = a.Tags
	return alert
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
