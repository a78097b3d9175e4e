package pipeline_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/pipeline"
	"github.com/couchcryptid/weather-alerts-service/internal/provider"
)

func readMockData(t *testing.T, name string) string {
	t.Helper()

	path := filepath.Join("..", "..", "data", "mock", name)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// runMockProvider drives one cycle of a registry-built provider fed from a
// fixture file and returns the published update.
func runMockProvider(t *testing.T, id, fixture string, maxAlerts int) (domain.AlertsUpdate, *pipeline.Pipeline) {
	t.Helper()

	registry := provider.NewDefaultRegistry(discardLogger())
	p := registry.Initialize(id, provider.Config{MockData: readMockData(t, fixture)}, provider.Deps{})

	updates := make(chanListener, 1)
	pl := newPipeline(p, pipeline.Options{MaxNumberOfAlerts: maxAlerts}, newTestMetrics(), updates)
	require.NoError(t, runCycle(t, pl).Err)
	return <-updates, pl
}

func TestWeatherAPI_WithMockData(t *testing.T) {
	update, pl := runMockProvider(t, provider.WeatherAPIID, "weatherapi_forecast_alerts.json", 2)

	assert.Equal(t, "WeatherAPI", update.ProviderName)
	assert.Equal(t, "Los Angeles, California, United States of America", update.LocationName)
	require.Len(t, update.CurrentWeatherAlerts, 3)

	flood := update.CurrentWeatherAlerts[0]
	assert.Equal(t, "Flood Warning", flood.Event)
	assert.Equal(t, "NWS Los Angeles", flood.SenderName)
	assert.Equal(t, "flood-warning", flood.ColorCode)
	assert.Equal(t, time.Date(2024, 1, 15, 17, 51, 0, 0, time.UTC).UnixMilli(), flood.Start)
	assert.Equal(t, time.Date(2024, 1, 16, 2, 0, 0, 0, time.UTC).UnixMilli(), flood.End)
	assert.Equal(t, []string{"Los Angeles County Coast", "San Gabriel Valley"}, flood.Tags)
	assert.Equal(t, "Minor flooding in low-lying and poor drainage areas.", flood.ParsedDescription.Impacts)
	assert.Equal(t, "January 15, 2024 9:51 AM - January 15, 2024 6:00 PM", flood.ParsedDescription.When)
	require.NotNil(t, flood.Details)
	assert.Equal(t, "Severe", flood.Details.Severity)

	wind := update.CurrentWeatherAlerts[1]
	assert.Equal(t, "Gusty winds will blow around unsecured objects.", wind.ParsedDescription.Impacts)

	beach := update.CurrentWeatherAlerts[2]
	assert.Equal(t, "Beach Hazards Statement", beach.Event, "headline stands in for a missing event")
	assert.Equal(t, "Remain out of the water.", beach.Description, "instruction stands in for a missing desc")
	assert.Equal(t, "Weather Agency", beach.SenderName)
	assert.Equal(t, time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC).UnixMilli(), beach.Start)
	assert.Equal(t, beach.Start, beach.End)
	assert.Empty(t, beach.Tags)

	snap := pl.Snapshot()
	assert.Len(t, snap.Alerts, 2)
	assert.False(t, snap.Hidden)
}

func TestOpenWeatherMap_WithMockData(t *testing.T) {
	update, pl := runMockProvider(t, provider.OpenWeatherMapID, "openweathermap_onecall_alerts.json", 0)

	assert.Equal(t, "OpenWeatherMap", update.ProviderName)
	assert.Equal(t, "America/Chicago", update.LocationName)
	require.Len(t, update.CurrentWeatherAlerts, 2)

	heat := update.CurrentWeatherAlerts[0]
	assert.Equal(t, "Heat Advisory", heat.Event)
	assert.Equal(t, "NWS Shreveport LA", heat.SenderName)
	assert.Equal(t, int64(1684952747000), heat.Start)
	assert.Equal(t, int64(1684988747000), heat.End)
	assert.Equal(t, []string{"Extreme temperature value"}, heat.Tags)

	sections := heat.ParsedDescription
	assert.True(t, strings.HasPrefix(sections.Header, "...HEAT ADVISORY REMAINS IN EFFECT"))
	assert.True(t, strings.HasPrefix(sections.What, " WHAT...Heat index values"))
	assert.True(t, strings.HasPrefix(sections.Where, " WHERE...Portions of Northwest Louisiana"))
	assert.True(t, strings.HasPrefix(sections.When, " WHEN...From 1 PM"))
	assert.True(t, strings.HasPrefix(sections.Impacts, " IMPACTS...Hot temperatures"))
	assert.Empty(t, sections.Other)

	// Sections concatenated in segment order reproduce the text without "*".
	joined := sections.Header + sections.What + sections.Where + sections.When + sections.Impacts
	assert.Equal(t, strings.ReplaceAll(heat.Description, "*", ""), joined)

	watch := update.CurrentWeatherAlerts[1]
	assert.Equal(t, "severe-thunderstorm-watch", watch.ColorCode)
	assert.Equal(t, watch.Description, watch.ParsedDescription.Header)

	assert.Len(t, pl.Snapshot().Alerts, 2)
}
