// Package provider adapts third-party weather APIs to the normalized alert
// model. Each variant knows how to build its request URL and how to map its
// payload; the shared fetch protocol lives in base.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/couchcryptid/weather-alerts-service/internal/bridge"
	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
)

// Provider fetches and holds the current alert set for one location.
type Provider interface {
	// Name is the human-readable provider name published with updates.
	Name() string

	// FetchCurrentWeatherAlerts runs one fetch. done is called exactly once,
	// on success and on every failure path. fallback is used when the
	// configuration names no location; it may be nil.
	FetchCurrentWeatherAlerts(ctx context.Context, fallback *domain.Location, done func(domain.FetchResult))

	// CurrentWeatherAlerts returns the most recent successful alert set.
	CurrentWeatherAlerts() []domain.Alert

	// FetchedLocation returns the location name reported by the last payload.
	FetchedLocation() string
}

// Fetcher performs a privileged fetch. *bridge.Bridge implements it.
type Fetcher interface {
	Request(ctx context.Context, url string, opts bridge.RequestOptions) (bridge.Payload, error)
}

// Deps are the collaborators a provider needs. Geocoder is optional.
type Deps struct {
	Fetcher  Fetcher
	Geocoder domain.Geocoder
	Logger   *slog.Logger
}

// defaultEvent names alerts whose payload carries no event or headline.
const defaultEvent = "Weather Alert"

// target is the resolved place a request is made for.
type target struct {
	geo  *domain.Geo
	id   string
	name string
}

type base struct {
	name     string
	cfg      Config
	fetcher  Fetcher
	geocoder domain.Geocoder
	logger   *slog.Logger

	mu       sync.RWMutex
	alerts   []domain.Alert
	location string
}

func newBase(name string, cfg Config, deps Deps) *base {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &base{
		name:     name,
		cfg:      cfg,
		fetcher:  deps.Fetcher,
		geocoder: deps.Geocoder,
		logger:   logger.With("provider", name),
	}
}

func (b *base) Name() string { return b.name }

// Config returns the merged configuration the provider runs with.
func (b *base) Config() Config { return b.cfg }

func (b *base) CurrentWeatherAlerts() []domain.Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Alert, len(b.alerts))
	copy(out, b.alerts)
	return out
}

func (b *base) FetchedLocation() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.location
}

// replace swaps in a new alert set. An empty location keeps the previous one.
func (b *base) replace(alerts []domain.Alert, location string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.alerts = alerts
	if location != "" {
		b.location = location
	}
}

// run is the fetch protocol shared by every variant: build the URL, fetch,
// map, store, and always report completion. A failed cycle keeps the
// previous alert set.
func (b *base) run(
	ctx context.Context,
	fallback *domain.Location,
	done func(domain.FetchResult),
	buildURL func(ctx context.Context, fallback *domain.Location) (string, error),
	parse func(ctx context.Context, payload bridge.Payload) ([]domain.Alert, string, error),
) {
	var result domain.FetchResult
	defer func() { done(result) }()

	url := ""
	if b.cfg.MockData == "" {
		u, err := buildURL(ctx, fallback)
		if err != nil {
			if errors.Is(err, ErrNoLocation) {
				b.logger.Warn("no location available, skipping fetch")
			} else {
				b.logger.Error("build request url failed", "error", err)
			}
			result.Err = err
			return
		}
		url = u
	}

	payload, err := b.fetchData(ctx, url)
	if err != nil {
		b.logger.Error("could not load data", "error", err)
		result.Err = fmt.Errorf("fetch %s alerts: %w", b.name, err)
		return
	}

	alerts, location, err := parse(ctx, payload)
	if err != nil {
		b.logger.Error("could not parse data", "error", err)
		result.Err = fmt.Errorf("parse %s alerts: %w", b.name, err)
		return
	}

	b.replace(alerts, location)
	result.Alerts = len(alerts)
}

// fetchData returns the configured mock payload or asks the fetcher.
func (b *base) fetchData(ctx context.Context, url string) (bridge.Payload, error) {
	if b.cfg.MockData != "" {
		return MockPayload(b.cfg.MockData)
	}
	if b.fetcher == nil {
		return bridge.Payload{}, errors.New("no fetcher configured")
	}
	return b.fetcher.Request(ctx, url, bridge.RequestOptions{Type: protocol.ContentJSON})
}

// resolveTarget applies location precedence: explicit coordinates, then a
// configured location ID or name, then the fallback location.
func (b *base) resolveTarget(fallback *domain.Location) (target, error) {
	switch {
	case b.cfg.Lat != nil && b.cfg.Lon != nil:
		return target{geo: &domain.Geo{Lat: *b.cfg.Lat, Lon: *b.cfg.Lon}}, nil
	case b.cfg.LocationID != "":
		return target{id: b.cfg.LocationID}, nil
	case b.cfg.Location != "":
		return target{name: b.cfg.Location}, nil
	case fallback != nil && fallback.Geo != nil:
		geo := *fallback.Geo
		return target{geo: &geo}, nil
	case fallback != nil && fallback.Name != "":
		return target{name: fallback.Name}, nil
	default:
		return target{}, ErrNoLocation
	}
}

// MockPayload decodes inline mock data. Configuration files conventionally
// wrap the JSON in one pair of quote characters, which are stripped.
func MockPayload(mock string) (bridge.Payload, error) {
	return bridge.JSONPayload([]byte(unquoteMock(mock)))
}

func unquoteMock(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	first, last := s[0], s[len(s)-1]
	if first == last && strings.IndexByte("'\"`", first) >= 0 {
		return s[1 : len(s)-1]
	}
	return s
}

// decodeList unmarshals a JSON array element by element, skipping elements
// that do not fit T. A missing or non-array value yields no elements.
func decodeList[T any](raw json.RawMessage, logger *slog.Logger) []T {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		logger.Warn("alert list is not an array, treating as empty", "error", err)
		return nil
	}
	out := make([]T, 0, len(items))
	for i, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			logger.Warn("skipping malformed alert", "index", i, "error", err)
			continue
		}
		out = append(out, v)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
