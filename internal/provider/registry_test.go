package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Initialize(t *testing.T) {
	r := NewDefaultRegistry(discardLogger())

	tests := []struct {
		id   string
		want string
	}{
		{id: "weatherapi", want: "WeatherAPI"},
		{id: "OpenWeatherMap", want: "OpenWeatherMap"},
		{id: "acme", want: "WeatherAPI"},
		{id: "", want: "WeatherAPI"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			p := r.Initialize(tt.id, Config{}, Deps{})
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestRegistry_UnknownProviderFallsBackAndFetches(t *testing.T) {
	r := NewDefaultRegistry(discardLogger())

	p := r.Initialize("acme", Config{Lat: ptr(34.05), Lon: ptr(-118.24), MockData: floodWarningPayload}, Deps{})
	result := fetchOnce(t, p, nil)

	require.NoError(t, result.Err)
	assert.Equal(t, "WeatherAPI", p.Name())
	assert.Len(t, p.CurrentWeatherAlerts(), 1)
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewDefaultRegistry(discardLogger())

	_, err := r.Lookup("acme")
	var unknown *UnknownProviderError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "acme", unknown.ID)

	_, err = r.Lookup("WEATHERAPI")
	require.NoError(t, err)
}

func TestRegistry_RegisterCustom(t *testing.T) {
	r := NewRegistry("stub", discardLogger())
	r.Register("Stub", func(cfg Config, deps Deps) Provider {
		return NewWeatherAPI(cfg, deps)
	})

	assert.Equal(t, []string{"stub"}, r.IDs())
	assert.Equal(t, "WeatherAPI", r.Initialize("stub", Config{}, Deps{}).Name())
}

func TestRegistry_UnregisteredDefault(t *testing.T) {
	r := NewRegistry("stub", discardLogger())
	r.Register(WeatherAPIID, NewWeatherAPI)

	assert.Equal(t, "WeatherAPI", r.Initialize("weatherapi", Config{}, Deps{}).Name())
	assert.PanicsWithValue(t, `provider: default provider "stub" is not registered`, func() {
		r.Initialize("acme", Config{}, Deps{})
	})
}

func TestRegistry_AppliesVariantDefaults(t *testing.T) {
	r := NewDefaultRegistry(discardLogger())

	p := r.Initialize(OpenWeatherMapID, Config{}, Deps{})
	owm, ok := p.(*OpenWeatherMap)
	require.True(t, ok)

	cfg := owm.Config()
	assert.Equal(t, "https://api.openweathermap.org/data/", cfg.APIBase)
	assert.Equal(t, "3.0", cfg.APIVersion)
	assert.Equal(t, "/onecall", cfg.WeatherEndpoint)
	assert.Equal(t, "en", cfg.Lang)
}
