package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/observability"
	"github.com/couchcryptid/weather-alerts-service/internal/pipeline"
	"github.com/couchcryptid/weather-alerts-service/internal/provider"
	"github.com/couchcryptid/weather-alerts-service/internal/scheduler"
)

// --- mocks ---

type stubProvider struct {
	mu        sync.Mutex
	alerts    []domain.Alert
	location  string
	err       error
	calls     int
	fallbacks []*domain.Location
}

func (s *stubProvider) Name() string { return "Stub" }

func (s *stubProvider) FetchCurrentWeatherAlerts(_ context.Context, fallback *domain.Location, done func(domain.FetchResult)) {
	s.mu.Lock()
	s.calls++
	s.fallbacks = append(s.fallbacks, fallback)
	result := domain.FetchResult{Alerts: len(s.alerts), Err: s.err}
	s.mu.Unlock()
	done(result)
}

func (s *stubProvider) CurrentWeatherAlerts() []domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Alert(nil), s.alerts...)
}

func (s *stubProvider) FetchedLocation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

type mockListener struct {
	mock.Mock
	name string
}

func (m *mockListener) Name() string { return m.name }

func (m *mockListener) WeatherAlertsUpdated(ctx context.Context, update domain.AlertsUpdate) error {
	args := m.Called(ctx, update)
	return args.Error(0)
}

// chanListener forwards every update to a channel.
type chanListener chan domain.AlertsUpdate

func (c chanListener) Name() string { return "chan" }

func (c chanListener) WeatherAlertsUpdated(_ context.Context, update domain.AlertsUpdate) error {
	c <- update
	return nil
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func newPipeline(p provider.Provider, opts pipeline.Options, metrics *observability.Metrics, listeners ...pipeline.Listener) *pipeline.Pipeline {
	s := scheduler.New(time.Minute, 0, clockwork.NewFakeClock(), discardLogger(), metrics)
	return pipeline.New(p, s, opts, discardLogger(), metrics, listeners...)
}

func makeAlerts(events ...string) []domain.Alert {
	start := time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)
	out := make([]domain.Alert, 0, len(events))
	for _, e := range events {
		out = append(out, domain.NewAlert(e, e+" description", domain.LabeledSections{}, "NWS", start, start.Add(time.Hour)))
	}
	return out
}

// runCycle runs one cycle and asserts the completion callback fires once.
func runCycle(t *testing.T, p *pipeline.Pipeline) domain.FetchResult {
	t.Helper()
	var calls int
	var result domain.FetchResult
	p.Cycle(context.Background(), func(r domain.FetchResult) {
		calls++
		result = r
	})
	require.Equal(t, 1, calls)
	return result
}

// --- tests ---

func TestPipeline_Cycle_PublishesUpdate(t *testing.T) {
	stub := &stubProvider{alerts: makeAlerts("Flood Warning", "Wind Advisory", "Heat Advisory"), location: "Boise, Idaho, USA"}
	listener := &mockListener{name: "mock"}
	listener.On("WeatherAlertsUpdated", mock.Anything, mock.MatchedBy(func(u domain.AlertsUpdate) bool {
		return len(u.CurrentWeatherAlerts) == 3 &&
			u.CurrentWeatherAlerts[0].ColorCode == "flood-warning" &&
			u.LocationName == "Boise, Idaho, USA" &&
			u.ProviderName == "Stub"
	})).Return(nil).Once()
	metrics := newTestMetrics()

	p := newPipeline(stub, pipeline.Options{MaxNumberOfAlerts: 2}, metrics, listener)
	require.Error(t, p.CheckReadiness(context.Background()))

	result := runCycle(t, p)

	require.NoError(t, result.Err)
	listener.AssertExpectations(t)
	require.NoError(t, p.CheckReadiness(context.Background()))

	snap := p.Snapshot()
	require.Len(t, snap.Alerts, 2, "snapshot is truncated to MaxNumberOfAlerts")
	assert.Equal(t, "Flood Warning", snap.Alerts[0].Event)
	assert.Equal(t, "Wind Advisory", snap.Alerts[1].Event)
	assert.False(t, snap.Hidden)
	assert.Equal(t, "Boise, Idaho, USA", snap.LocationName)

	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FetchCycles.WithLabelValues("success")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(metrics.AlertsCurrent), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.UpdatesPublished.WithLabelValues("mock", "success")), 0)
}

func TestPipeline_Cycle_NoLocationHides(t *testing.T) {
	stub := &stubProvider{err: provider.ErrNoLocation}
	updates := make(chanListener, 1)
	metrics := newTestMetrics()

	p := newPipeline(stub, pipeline.Options{}, metrics, updates)
	result := runCycle(t, p)

	require.ErrorIs(t, result.Err, provider.ErrNoLocation)

	update := <-updates
	body, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, `{"currentWeatherAlerts":[],"locationName":"","providerName":"Stub"}`, string(body))

	assert.True(t, p.Snapshot().Hidden)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FetchCycles.WithLabelValues("no_location")), 0)
}

func TestPipeline_Cycle_EmptySetHides(t *testing.T) {
	stub := &stubProvider{location: "Boise, Idaho, USA"}

	p := newPipeline(stub, pipeline.Options{}, newTestMetrics())
	require.NoError(t, runCycle(t, p).Err)

	snap := p.Snapshot()
	assert.True(t, snap.Hidden)
	assert.NotNil(t, snap.Alerts)
	assert.Empty(t, snap.Alerts)
}

func TestPipeline_Cycle_FailureRepublishesLastGood(t *testing.T) {
	stub := &stubProvider{alerts: makeAlerts("Flood Warning"), err: errors.New("fetch failed")}
	updates := make(chanListener, 1)
	metrics := newTestMetrics()

	p := newPipeline(stub, pipeline.Options{}, metrics, updates)
	result := runCycle(t, p)

	require.Error(t, result.Err)
	update := <-updates
	require.Len(t, update.CurrentWeatherAlerts, 1)
	assert.False(t, p.Snapshot().Hidden)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.FetchCycles.WithLabelValues("error")), 0)
}

func TestPipeline_Cycle_ListenerErrorDoesNotStopOthers(t *testing.T) {
	stub := &stubProvider{alerts: makeAlerts("Flood Warning")}
	failing := &mockListener{name: "failing"}
	failing.On("WeatherAlertsUpdated", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	healthy := &mockListener{name: "healthy"}
	healthy.On("WeatherAlertsUpdated", mock.Anything, mock.Anything).Return(nil).Once()
	metrics := newTestMetrics()

	p := newPipeline(stub, pipeline.Options{}, metrics, failing, healthy)
	require.NoError(t, runCycle(t, p).Err)

	failing.AssertExpectations(t)
	healthy.AssertExpectations(t)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.UpdatesPublished.WithLabelValues("failing", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.UpdatesPublished.WithLabelValues("healthy", "success")), 0)
}

func TestPipeline_Cycle_InvalidType(t *testing.T) {
	stub := &stubProvider{alerts: makeAlerts("Flood Warning")}
	listener := &mockListener{name: "mock"}

	p := newPipeline(stub, pipeline.Options{Type: "forecast"}, newTestMetrics(), listener)
	result := runCycle(t, p)

	require.Error(t, result.Err)
	assert.Contains(t, result.Err.Error(), `"forecast"`)
	assert.Zero(t, stub.calls)
	listener.AssertNotCalled(t, "WeatherAlertsUpdated", mock.Anything, mock.Anything)
}

func TestPipeline_FallbackLocation(t *testing.T) {
	stub := &stubProvider{}
	p := newPipeline(stub, pipeline.Options{Fallback: &domain.Location{Name: "Denver"}}, newTestMetrics())

	runCycle(t, p)
	require.Len(t, stub.fallbacks, 1)
	require.NotNil(t, stub.fallbacks[0])
	assert.Equal(t, "Denver", stub.fallbacks[0].Name)

	p.SetFallbackLocation(&domain.Location{Geo: &domain.Geo{Lat: 39.74, Lon: -104.99}})
	got := p.FallbackLocation()
	require.NotNil(t, got)
	got.Geo.Lat = 0
	assert.InDelta(t, 39.74, p.FallbackLocation().Geo.Lat, 0, "callers receive a copy")

	p.SetFallbackLocation(&domain.Location{})
	assert.Nil(t, p.FallbackLocation())
}

func TestPipeline_Run_RepeatsOnSchedule(t *testing.T) {
	clock := clockwork.NewFakeClock()
	metrics := newTestMetrics()
	stub := &stubProvider{alerts: makeAlerts("Flood Warning")}
	updates := make(chanListener, 4)

	s := scheduler.New(time.Minute, 0, clock, discardLogger(), metrics)
	p := pipeline.New(stub, s, pipeline.Options{}, discardLogger(), metrics, updates)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	receive := func() domain.AlertsUpdate {
		select {
		case u := <-updates:
			return u
		case <-time.After(2 * time.Second):
			t.Fatal("expected an update")
			return domain.AlertsUpdate{}
		}
	}

	receive()
	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	clock.Advance(time.Minute)
	receive()

	cancel()
	require.NoError(t, <-errCh)
}

func TestSnapshot_JSONShape(t *testing.T) {
	stub := &stubProvider{alerts: makeAlerts("Flood Warning"), location: "Boise"}
	fake := clockwork.NewFakeClockAt(time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	t.Cleanup(func() { domain.SetClock(nil) })

	p := newPipeline(stub, pipeline.Options{}, newTestMetrics())
	runCycle(t, p)

	body, err := json.Marshal(p.Snapshot())
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Boise", got["locationName"])
	assert.Equal(t, "Stub", got["providerName"])
	assert.Equal(t, false, got["hidden"])
	assert.Equal(t, "2024-01-15T12:00:00Z", got["updatedAt"])
	require.Len(t, got["currentWeatherAlerts"], 1)
}
