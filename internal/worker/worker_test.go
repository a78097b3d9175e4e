package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/weather-alerts-service/internal/observability"
	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
)

// --- fake emitter ---

type channelEmitter struct {
	out chan protocol.Envelope
}

func (c *channelEmitter) Send(_ context.Context, env protocol.Envelope) error {
	c.out <- env
	return nil
}

func (c *channelEmitter) next(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case env := <-c.out:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("no envelope emitted")
		return protocol.Envelope{}
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorker(retryMax int) (*Worker, *channelEmitter, *observability.Metrics) {
	em := &channelEmitter{out: make(chan protocol.Envelope, 8)}
	m := observability.NewMetricsForTesting()
	client := NewHTTPClient(5*time.Second, retryMax, discardLogger())
	return New(client, em, discardLogger(), m), em, m
}

func decodeData(t *testing.T, env protocol.Envelope) protocol.AlertsData {
	t.Helper()
	require.Equal(t, protocol.MsgWeatherAlertsData, env.Type)
	var data protocol.AlertsData
	require.NoError(t, env.Decode(&data))
	return data
}

func decodeError(t *testing.T, env protocol.Envelope) protocol.FetchError {
	t.Helper()
	require.Equal(t, protocol.MsgFetchError, env.Type)
	var fe protocol.FetchError
	require.NoError(t, env.Decode(&fe))
	return fe
}

// --- tests ---

func TestWorker_FetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "weather-alerts", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"alerts":{"alert":[{"event":"Flood Warning"}]}}`))
	}))
	defer srv.Close()

	w, em, m := newTestWorker(0)
	w.Start(context.Background(), protocol.FetchRequest{
		URL:            srv.URL,
		Identifier:     "m1",
		RequestID:      "req-1",
		Type:           protocol.ContentJSON,
		RequestHeaders: []protocol.Header{{Name: "User-Agent", Value: "weather-alerts"}},
	})

	data := decodeData(t, em.next(t))
	assert.Equal(t, "m1", data.Identifier)
	assert.Equal(t, "req-1", data.RequestID)
	assert.JSONEq(t, `{"alerts":{"alert":[{"event":"Flood Warning"}]}}`, string(data.Data))

	w.Close()
	assert.InDelta(t, 1, testutil.ToFloat64(m.WorkerFetches.WithLabelValues("success")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.WorkerStreams), 0)
}

func TestWorker_FetchXML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<alerts><alert/></alerts>`))
	}))
	defer srv.Close()

	w, em, _ := newTestWorker(0)
	defer w.Close()
	w.Start(context.Background(), protocol.FetchRequest{URL: srv.URL, Identifier: "m1", Type: protocol.ContentXML})

	data := decodeData(t, em.next(t))
	assert.Equal(t, protocol.ContentXML, data.Type)

	var text string
	require.NoError(t, json.Unmarshal(data.Data, &text))
	assert.Equal(t, `<alerts><alert/></alerts>`, text)
}

func TestWorker_InvalidJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>oops</html>`))
	}))
	defer srv.Close()

	w, em, _ := newTestWorker(0)
	defer w.Close()
	w.Start(context.Background(), protocol.FetchRequest{URL: srv.URL, Identifier: "m1", RequestID: "r", Type: protocol.ContentJSON})

	fe := decodeError(t, em.next(t))
	assert.Equal(t, KeyUnspecified, fe.TranslationKey)
	assert.Equal(t, "r", fe.RequestID)
	assert.Equal(t, errInvalidJSON.Error(), fe.Error)
}

func TestWorker_HTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{status: http.StatusUnauthorized, want: KeyUnauthorized},
		{status: http.StatusForbidden, want: KeyUnauthorized},
		{status: http.StatusTooManyRequests, want: KeyRateLimited},
		{status: http.StatusInternalServerError, want: KeyServerError},
		{status: http.StatusNotFound, want: KeyClientError},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			w, em, _ := newTestWorker(0)
			defer w.Close()
			w.Start(context.Background(), protocol.FetchRequest{URL: srv.URL, Identifier: "m1", Type: protocol.ContentJSON})

			fe := decodeError(t, em.next(t))
			assert.Equal(t, tt.want, fe.TranslationKey)
			assert.Contains(t, fe.Error, http.StatusText(tt.status))
		})
	}
}

func TestWorker_NoConnection(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	w, em, _ := newTestWorker(0)
	defer w.Close()
	w.Start(context.Background(), protocol.FetchRequest{URL: url, Identifier: "m1", Type: protocol.ContentJSON})

	fe := decodeError(t, em.next(t))
	assert.Equal(t, KeyNoConnection, fe.TranslationKey)
}

func TestWorker_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	w, em, _ := newTestWorker(1)
	defer w.Close()
	w.Start(context.Background(), protocol.FetchRequest{URL: srv.URL, Identifier: "m1", Type: protocol.ContentJSON})

	decodeData(t, em.next(t))
	assert.Equal(t, int32(2), calls.Load())
}

func TestWorker_StartSupersedesSameIdentifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			<-r.Context().Done()
			return
		}
		_, _ = w.Write([]byte(`{"fresh":true}`))
	}))
	defer srv.Close()

	w, em, _ := newTestWorker(0)
	defer w.Close()

	w.Start(context.Background(), protocol.FetchRequest{URL: srv.URL + "/slow", Identifier: "m1", RequestID: "old", Type: protocol.ContentJSON})
	w.Start(context.Background(), protocol.FetchRequest{URL: srv.URL + "/fast", Identifier: "m1", RequestID: "new", Type: protocol.ContentJSON})

	results := map[string]protocol.MessageType{}
	for range 2 {
		env := em.next(t)
		switch env.Type {
		case protocol.MsgFetchError:
			fe := decodeError(t, env)
			assert.Equal(t, KeyCancelled, fe.TranslationKey)
			results[fe.RequestID] = env.Type
		case protocol.MsgWeatherAlertsData:
			results[decodeData(t, env).RequestID] = env.Type
		}
	}

	assert.Equal(t, protocol.MsgFetchError, results["old"])
	assert.Equal(t, protocol.MsgWeatherAlertsData, results["new"])
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	w, em, _ := newTestWorker(0)
	defer w.Close()

	w.Stop("unknown")
	w.Start(context.Background(), protocol.FetchRequest{URL: srv.URL, Identifier: "m1", Type: protocol.ContentJSON})
	w.Stop("m1")
	w.Stop("m1")

	fe := decodeError(t, em.next(t))
	assert.Equal(t, KeyCancelled, fe.TranslationKey)
}

func TestWorker_Serve_DispatchesEnvelopes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	w, em, _ := newTestWorker(0)
	inbox := make(chan protocol.Envelope, 2)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Serve(ctx, inbox)
		close(done)
	}()

	env, err := protocol.NewEnvelope(protocol.MsgFetchWeatherAlerts, protocol.FetchRequest{
		URL: srv.URL, Identifier: "m1", RequestID: "r1", Type: protocol.ContentJSON,
	})
	require.NoError(t, err)
	inbox <- env

	assert.Equal(t, "r1", decodeData(t, em.next(t)).RequestID)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestClassifyStatus(t *testing.T) {
	assert.Empty(t, classifyStatus(http.StatusOK))
	assert.Empty(t, classifyStatus(http.StatusNoContent))
	assert.Equal(t, KeyUnspecified, classifyStatus(http.StatusNotModified))
	assert.Equal(t, KeyServerError, classifyStatus(http.StatusBadGateway))
	assert.Equal(t, KeyClientError, classifyStatus(http.StatusBadRequest))
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, KeyCancelled, classifyError(context.Canceled))
	assert.Equal(t, KeyNoConnection, classifyError(context.DeadlineExceeded))
}
