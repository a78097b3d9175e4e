package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/observability"
	"github.com/couchcryptid/weather-alerts-service/internal/provider"
	"github.com/couchcryptid/weather-alerts-service/internal/scheduler"
)

// Listener receives the WEATHER_ALERTS_UPDATED notification after every
// fetch cycle, successful or not.
type Listener interface {
	// Name labels the listener in logs and metrics.
	Name() string
	WeatherAlertsUpdated(ctx context.Context, update domain.AlertsUpdate) error
}

// Snapshot is the presentation view of the most recent cycle. Alerts are
// truncated to the configured maximum; Hidden tells the display to stay out
// of sight.
type Snapshot struct {
	Alerts       []domain.FlatAlert `json:"currentWeatherAlerts"`
	LocationName string             `json:"locationName"`
	ProviderName string             `json:"providerName"`
	Hidden       bool               `json:"hidden"`
	UpdatedAt    time.Time          `json:"updatedAt"`
}

// Options configure a Pipeline.
type Options struct {
	// Type must be "alerts"; any other value makes every cycle fail.
	Type string
	// MaxNumberOfAlerts caps Snapshot.Alerts. Zero means unlimited.
	MaxNumberOfAlerts int
	// Fallback is used by providers when no location is configured.
	Fallback *domain.Location
}

// Pipeline coordinates the fetch loop: the scheduler starts a cycle, the
// provider fetches, and on completion the pipeline refreshes its snapshot,
// notifies listeners, and lets the scheduler re-arm.
type Pipeline struct {
	provider  provider.Provider
	scheduler *scheduler.Scheduler
	listeners []Listener
	logger    *slog.Logger
	metrics   *observability.Metrics
	alertType string
	maxAlerts int
	ready     atomic.Bool

	mu       sync.RWMutex
	fallback *domain.Location
	snapshot Snapshot
}

// New creates a Pipeline around one provider instance.
func New(p provider.Provider, s *scheduler.Scheduler, opts Options, logger *slog.Logger, metrics *observability.Metrics, listeners ...Listener) *Pipeline {
	if opts.Type == "" {
		opts.Type = provider.TypeAlerts
	}
	pl := &Pipeline{
		provider:  p,
		scheduler: s,
		listeners: listeners,
		logger:    logger,
		metrics:   metrics,
		alertType: opts.Type,
		maxAlerts: opts.MaxNumberOfAlerts,
		snapshot: Snapshot{
			Alerts:       []domain.FlatAlert{},
			ProviderName: p.Name(),
			Hidden:       true,
		},
	}
	pl.SetFallbackLocation(opts.Fallback)
	return pl
}

// CheckReadiness returns nil once at least one fetch cycle has completed,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no fetch cycle has completed yet")
	}
	return nil
}

// Run drives fetch cycles until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started",
		"provider", p.provider.Name(),
		"listeners", len(p.listeners),
		"max_alerts", p.maxAlerts,
	)
	return p.scheduler.Run(ctx, p.Cycle)
}

// Cycle runs one fetch and calls done once listeners have been notified.
// It satisfies scheduler.Cycle.
func (p *Pipeline) Cycle(ctx context.Context, done func(domain.FetchResult)) {
	if !strings.EqualFold(p.alertType, provider.TypeAlerts) {
		err := fmt.Errorf("invalid type %q configured (must be %q)", p.alertType, provider.TypeAlerts)
		p.logger.Error("skipping fetch cycle", "error", err)
		p.metrics.FetchCycles.WithLabelValues("error").Inc()
		done(domain.FetchResult{Err: err})
		return
	}

	start := time.Now()
	p.provider.FetchCurrentWeatherAlerts(ctx, p.FallbackLocation(), func(result domain.FetchResult) {
		p.metrics.FetchCycleDuration.Observe(time.Since(start).Seconds())
		p.updateAvailable(ctx, result)
		done(result)
	})
}

// Snapshot returns the latest presentation view.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.snapshot
	s.Alerts = append([]domain.FlatAlert(nil), p.snapshot.Alerts...)
	if s.Alerts == nil {
		s.Alerts = []domain.FlatAlert{}
	}
	return s
}

// SetFallbackLocation sets the location providers use when none is
// configured. Pass nil to clear it.
func (p *Pipeline) SetFallbackLocation(loc *domain.Location) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if loc == nil || loc.IsZero() {
		p.fallback = nil
		return
	}
	c := copyLocation(*loc)
	p.fallback = &c
}

// FallbackLocation returns a copy of the current fallback, or nil.
func (p *Pipeline) FallbackLocation() *domain.Location {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.fallback == nil {
		return nil
	}
	c := copyLocation(*p.fallback)
	return &c
}

// updateAvailable refreshes the snapshot and notifies every listener. It
// runs on every completed cycle so a failed fetch republishes the last-good
// set.
func (p *Pipeline) updateAvailable(ctx context.Context, result domain.FetchResult) {
	alerts := p.provider.CurrentWeatherAlerts()
	noLocation := errors.Is(result.Err, provider.ErrNoLocation)

	p.metrics.FetchCycles.WithLabelValues(cycleOutcome(result)).Inc()
	p.metrics.AlertsCurrent.Set(float64(len(alerts)))
	p.logAlerts(alerts, noLocation)

	update := domain.AlertsUpdate{
		CurrentWeatherAlerts: domain.FlattenAll(alerts),
		LocationName:         p.provider.FetchedLocation(),
		ProviderName:         p.provider.Name(),
	}

	p.mu.Lock()
	p.snapshot = Snapshot{
		Alerts:       domain.FlattenAll(domain.Limit(alerts, p.maxAlerts)),
		LocationName: update.LocationName,
		ProviderName: update.ProviderName,
		Hidden:       noLocation || len(alerts) == 0,
		UpdatedAt:    domain.Now(),
	}
	p.mu.Unlock()
	p.ready.Store(true)

	p.publish(ctx, update)
}

// publish fans the update out to every listener. A failing listener is
// logged and does not stop the others.
func (p *Pipeline) publish(ctx context.Context, update domain.AlertsUpdate) {
	for _, l := range p.listeners {
		if err := l.WeatherAlertsUpdated(ctx, update); err != nil {
			p.logger.Warn("notify listener failed", "listener", l.Name(), "error", err)
			p.metrics.UpdatesPublished.WithLabelValues(l.Name(), "error").Inc()
			continue
		}
		p.metrics.UpdatesPublished.WithLabelValues(l.Name(), "success").Inc()
	}
}

func (p *Pipeline) logAlerts(alerts []domain.Alert, noLocation bool) {
	switch {
	case noLocation:
		p.logger.Info("no location available, display hidden")
	case len(alerts) == 0:
		p.logger.Info("no active alerts for this location, display hidden")
	default:
		p.logger.Info("weather alerts updated", "count", len(alerts))
		for _, a := range alerts {
			p.logger.Debug("alert", "event", a.Event, "start", a.Start, "end", a.End)
		}
	}
}

func cycleOutcome(r domain.FetchResult) string {
	switch {
	case r.Err == nil:
		return "success"
	case errors.Is(r.Err, provider.ErrNoLocation):
		return "no_location"
	default:
		return "error"
	}
}

func copyLocation(loc domain.Location) domain.Location {
	if loc.Geo != nil {
		g := *loc.Geo
		loc.Geo = &g
	}
	return loc
}
