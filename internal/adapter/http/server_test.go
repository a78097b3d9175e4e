package http_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/weather-alerts-service/internal/adapter/http"
	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/pipeline"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, slog.Default())
}

func TestProbeEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		readyErr error
		wantCode int
		wantBody map[string]string
	}{
		{
			name:     "liveness ignores readiness",
			path:     "/healthz",
			readyErr: fmt.Errorf("no fetch cycle has completed yet"),
			wantCode: http.StatusOK,
			wantBody: map[string]string{"status": "healthy"},
		},
		{
			name:     "ready",
			path:     "/readyz",
			wantCode: http.StatusOK,
			wantBody: map[string]string{"status": "ready"},
		},
		{
			name:     "not ready",
			path:     "/readyz",
			readyErr: fmt.Errorf("fetch worker not connected"),
			wantCode: http.StatusServiceUnavailable,
			wantBody: map[string]string{"status": "not ready", "error": "fetch worker not connected"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newTestServer(tt.readyErr).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			for k, v := range tt.wantBody {
				assert.Equal(t, v, body[k], k)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

type staticSnapshot pipeline.Snapshot

func (s staticSnapshot) Snapshot() pipeline.Snapshot { return pipeline.Snapshot(s) }

func TestAlertsEndpoint(t *testing.T) {
	srv := newTestServer(nil)
	srv.Handle("GET /api/alerts", httpadapter.AlertsHandler(staticSnapshot{
		Alerts: []domain.FlatAlert{{
			Event:      "Flood Warning",
			SenderName: "NWS",
			Start:      1705341060000,
			End:        1705370400000,
			ColorCode:  "flood-warning",
		}},
		LocationName: "Los Angeles, California, USA",
		ProviderName: "WeatherAPI",
	}))
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)

	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var body pipeline.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Alerts, 1)
	assert.Equal(t, "flood-warning", body.Alerts[0].ColorCode)
	assert.Equal(t, int64(1705341060000), body.Alerts[0].Start)
	assert.Equal(t, "WeatherAPI", body.ProviderName)
	assert.False(t, body.Hidden)
}

func TestAlertsEndpoint_Hidden(t *testing.T) {
	srv := newTestServer(nil)
	srv.Handle("GET /api/alerts", httpadapter.AlertsHandler(staticSnapshot{
		Alerts:       []domain.FlatAlert{},
		ProviderName: "WeatherAPI",
		Hidden:       true,
	}))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alerts", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"currentWeatherAlerts":[]`)
	assert.Contains(t, rec.Body.String(), `"hidden":true`)
}

func TestAlertsEndpoint_RejectsPost(t *testing.T) {
	srv := newTestServer(nil)
	srv.Handle("GET /api/alerts", httpadapter.AlertsHandler(staticSnapshot{}))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/alerts", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestReadinessChecks(t *testing.T) {
	notReady := fmt.Errorf("fetch worker not connected")

	assert.NoError(t, httpadapter.ReadinessChecks{}.CheckReadiness(context.Background()))
	assert.NoError(t, httpadapter.ReadinessChecks{&mockReadiness{}, &mockReadiness{}}.CheckReadiness(context.Background()))
	assert.Equal(t, notReady, httpadapter.ReadinessChecks{&mockReadiness{}, &mockReadiness{err: notReady}}.CheckReadiness(context.Background()))
}

func TestReadyzCombinesChecks(t *testing.T) {
	checks := httpadapter.ReadinessChecks{&mockReadiness{}, &mockReadiness{err: fmt.Errorf("no fetch cycle has completed yet")}}
	srv := httpadapter.NewServer(":0", checks, slog.Default())
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "no fetch cycle has completed yet")
}
