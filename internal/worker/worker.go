// Package worker is the privileged side of the fetch protocol. It performs
// the HTTP requests the presentation side cannot make itself and reports
// each outcome as exactly one WEATHER_ALERTS_DATA or FETCH_ERROR message.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/couchcryptid/weather-alerts-service/internal/observability"
	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
)

const (
	maxBodyBytes = 8 << 20
	emitTimeout  = 5 * time.Second
)

var errInvalidJSON = errors.New("response body is not valid JSON")

// Emitter delivers worker replies to the presentation side.
type Emitter interface {
	Send(ctx context.Context, env protocol.Envelope) error
}

// NewHTTPClient returns a retrying HTTP client. The last response is passed
// through once retries are exhausted so its status can be classified.
func NewHTTPClient(timeout time.Duration, retryMax int, logger *slog.Logger) *http.Client {
	rc := retryablehttp.NewClient()
	rc.Logger = logger
	rc.RetryMax = retryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := rc.StandardClient()
	client.Timeout = timeout
	return client
}

type stream struct {
	identifier string
	requestID  string
	cancel     context.CancelFunc
}

// Worker runs at most one fetch per stream identifier.
type Worker struct {
	client  *http.Client
	emitter Emitter
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	streams map[string]*stream
	wg      sync.WaitGroup
}

// New creates a Worker that fetches with client and replies through emitter.
func New(client *http.Client, emitter Emitter, logger *slog.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		client:  client,
		emitter: emitter,
		logger:  logger,
		metrics: metrics,
		streams: make(map[string]*stream),
	}
}

// Serve handles envelopes from inbox until ctx ends or inbox closes, then
// stops every stream.
func (w *Worker) Serve(ctx context.Context, inbox <-chan protocol.Envelope) {
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbox:
			if !ok {
				return
			}
			w.Handle(ctx, env)
		}
	}
}

// Handle dispatches one inbound envelope.
func (w *Worker) Handle(ctx context.Context, env protocol.Envelope) {
	switch env.Type {
	case protocol.MsgFetchWeatherAlerts:
		var req protocol.FetchRequest
		if err := env.Decode(&req); err != nil {
			w.logger.Warn("invalid fetch request", "error", err)
			return
		}
		w.Start(ctx, req)
	case protocol.MsgStopFetcher:
		var stop protocol.StopFetcher
		if err := env.Decode(&stop); err != nil {
			w.logger.Warn("invalid stop request", "error", err)
			return
		}
		w.Stop(stop.Identifier)
	default:
		w.logger.Debug("ignoring message", "type", env.Type)
	}
}

// Start launches a fetch for req, first stopping any fetch already running
// for the same identifier.
func (w *Worker) Start(ctx context.Context, req protocol.FetchRequest) {
	fetchCtx, cancel := context.WithCancel(ctx)
	s := &stream{identifier: req.Identifier, requestID: req.RequestID, cancel: cancel}

	w.mu.Lock()
	if prev, ok := w.streams[req.Identifier]; ok {
		w.logger.Debug("superseding fetch", "identifier", req.Identifier, "request_id", prev.requestID)
		prev.cancel()
	}
	w.streams[req.Identifier] = s
	w.metrics.WorkerStreams.Set(float64(len(w.streams)))
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.release(s)
		w.fetch(fetchCtx, req)
	}()
}

// Stop cancels the fetch for identifier. Stopping an unknown or already
// stopped identifier is a no-op.
func (w *Worker) Stop(identifier string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.streams[identifier]
	if !ok {
		return
	}
	s.cancel()
	delete(w.streams, identifier)
	w.metrics.WorkerStreams.Set(float64(len(w.streams)))
	w.logger.Info("fetcher stopped", "identifier", identifier)
}

// Close cancels every stream and waits for their terminal events.
func (w *Worker) Close() {
	w.mu.Lock()
	for id, s := range w.streams {
		s.cancel()
		delete(w.streams, id)
	}
	w.metrics.WorkerStreams.Set(0)
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *Worker) release(s *stream) {
	s.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.streams[s.identifier] == s {
		delete(w.streams, s.identifier)
		w.metrics.WorkerStreams.Set(float64(len(w.streams)))
	}
}

func (w *Worker) fetch(ctx context.Context, req protocol.FetchRequest) {
	start := time.Now()
	env, outcome := w.do(ctx, req)
	w.metrics.WorkerFetchDuration.Observe(time.Since(start).Seconds())
	w.metrics.WorkerFetches.WithLabelValues(outcome).Inc()

	emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
	defer cancel()
	if err := w.emitter.Send(emitCtx, env); err != nil {
		w.logger.Error("emit fetch result failed",
			"identifier", req.Identifier,
			"request_id", req.RequestID,
			"error", err,
		)
	}
}

// do performs the request and builds the single terminal envelope for it.
// The second return value is the outcome label for metrics.
func (w *Worker) do(ctx context.Context, req protocol.FetchRequest) (protocol.Envelope, string) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return w.failure(req, KeyUnspecified, fmt.Errorf("create request: %w", err))
	}
	for _, h := range req.RequestHeaders {
		httpReq.Header.Set(h.Name, h.Value)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return w.failure(req, classifyError(err), err)
	}
	defer resp.Body.Close()

	if key := classifyStatus(resp.StatusCode); key != "" {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return w.failure(req, key, fmt.Errorf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return w.failure(req, classifyError(err), fmt.Errorf("read body: %w", err))
	}

	var data json.RawMessage
	switch req.Type {
	case protocol.ContentXML:
		data, err = json.Marshal(string(body))
		if err != nil {
			return w.failure(req, KeyUnspecified, fmt.Errorf("encode xml body: %w", err))
		}
	default:
		if !json.Valid(body) {
			return w.failure(req, KeyUnspecified, errInvalidJSON)
		}
		data = body
	}

	env, err := protocol.NewEnvelope(protocol.MsgWeatherAlertsData, protocol.AlertsData{
		Identifier: req.Identifier,
		RequestID:  req.RequestID,
		Data:       data,
		Type:       req.Type,
	})
	if err != nil {
		return w.failure(req, KeyUnspecified, err)
	}
	w.logger.Debug("fetch succeeded", "identifier", req.Identifier, "request_id", req.RequestID, "bytes", len(body))
	return env, "success"
}

func (w *Worker) failure(req protocol.FetchRequest, key string, cause error) (protocol.Envelope, string) {
	if key == KeyCancelled {
		w.logger.Debug("fetch cancelled", "identifier", req.Identifier, "request_id", req.RequestID)
	} else {
		w.logger.Warn("fetch failed",
			"identifier", req.Identifier,
			"request_id", req.RequestID,
			"translation_key", key,
			"error", cause,
		)
	}

	env, _ := protocol.NewEnvelope(protocol.MsgFetchError, protocol.FetchError{ //nolint:errcheck // string-only payload
		Identifier:     req.Identifier,
		RequestID:      req.RequestID,
		Error:          cause.Error(),
		TranslationKey: key,
	})
	return env, key
}
