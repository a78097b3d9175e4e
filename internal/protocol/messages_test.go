package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope_RoundTrip(t *testing.T) {
	env, err := NewEnvelope(MsgFetchWeatherAlerts, FetchRequest{
		URL:        "https://api.weatherapi.com/v1/forecast.json?key=k",
		Identifier: "module_1",
		RequestID:  "req-1",
		Type:       ContentJSON,
		RequestHeaders: []Header{
			{Name: "Accept", Value: "application/json"},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, env.ID)
	assert.False(t, env.Timestamp.IsZero())

	wire, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(wire), `"type":"FETCH_WEATHER_ALERTS"`)
	assert.Contains(t, string(wire), `"requestId":"req-1"`)

	var back Envelope
	require.NoError(t, json.Unmarshal(wire, &back))

	var req FetchRequest
	require.NoError(t, back.Decode(&req))
	assert.Equal(t, "module_1", req.Identifier)
	assert.Equal(t, ContentJSON, req.Type)
	assert.Equal(t, []Header{{Name: "Accept", Value: "application/json"}}, req.RequestHeaders)
}

func TestEnvelope_DecodeInvalidPayload(t *testing.T) {
	env := Envelope{Type: MsgFetchError, Payload: json.RawMessage(`"not an object"`)}

	var fe FetchError
	err := env.Decode(&fe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCH_ERROR")
}

func TestAlertsData_EmbedsRawJSON(t *testing.T) {
	env, err := NewEnvelope(MsgWeatherAlertsData, AlertsData{
		Identifier: "module_1",
		Data:       json.RawMessage(`{"alerts":{"alert":[]}}`),
		Type:       ContentJSON,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"identifier":"module_1","data":{"alerts":{"alert":[]}},"type":"json"}`, string(env.Payload))
}
