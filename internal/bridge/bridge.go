// Package bridge correlates fetch requests sent across the process boundary
// with the replies the fetch worker sends back. A caller blocks in Request
// until the matching WEATHER_ALERTS_DATA or FETCH_ERROR arrives.
//
// Replies are matched by the requestId token each request carries. Replies
// without a token resolve the oldest outstanding request, which keeps older
// workers that do not echo tokens working as long as they answer in order.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/weather-alerts-service/internal/observability"
	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
)

// ErrClosed is returned for requests outstanding when the bridge is closed,
// and for requests issued afterwards.
var ErrClosed = errors.New("fetch bridge closed")

// Transport delivers envelopes to the worker side of the boundary.
type Transport interface {
	Send(ctx context.Context, env protocol.Envelope) error
}

// RequestOptions controls how a fetched body is requested and decoded.
type RequestOptions struct {
	Type    protocol.ContentType
	Headers []protocol.Header
}

type pendingRequest struct {
	requestID string
	submitted time.Time
	result    chan outcome
}

type outcome struct {
	payload Payload
	err     error
}

// Bridge is the presentation side of the fetch protocol. One Bridge serves
// one stream identifier.
type Bridge struct {
	identifier string
	transport  Transport
	logger     *slog.Logger
	metrics    *observability.Metrics
	timeout    time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRequest // keyed by requestId
	order   []string                   // requestIds, oldest first
	closed  bool
}

// New creates a Bridge that sends requests for identifier over transport.
func New(identifier string, transport Transport, logger *slog.Logger, metrics *observability.Metrics) *Bridge {
	return &Bridge{
		identifier: identifier,
		transport:  transport,
		logger:     logger,
		metrics:    metrics,
		pending:    make(map[string]*pendingRequest),
	}
}

// SetReplyTimeout bounds how long Request waits for the worker's reply.
// Zero waits until the caller's context ends.
func (b *Bridge) SetReplyTimeout(d time.Duration) { b.timeout = d }

// Identifier returns the stream identifier replies must carry.
func (b *Bridge) Identifier() string { return b.identifier }

// Request asks the worker to fetch url and waits for the decoded reply.
func (b *Bridge) Request(ctx context.Context, url string, opts RequestOptions) (Payload, error) {
	if opts.Type == "" {
		opts.Type = protocol.ContentJSON
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	p := &pendingRequest{
		requestID: uuid.NewString(),
		submitted: time.Now().UTC(),
		result:    make(chan outcome, 1),
	}
	if err := b.track(p); err != nil {
		return Payload{}, err
	}

	env, err := protocol.NewEnvelope(protocol.MsgFetchWeatherAlerts, protocol.FetchRequest{
		URL:            url,
		Identifier:     b.identifier,
		RequestID:      p.requestID,
		Type:           opts.Type,
		RequestHeaders: opts.Headers,
	})
	if err != nil {
		b.forget(p.requestID)
		return Payload{}, err
	}
	if err := b.transport.Send(ctx, env); err != nil {
		b.forget(p.requestID)
		return Payload{}, fmt.Errorf("send fetch request: %w", err)
	}

	select {
	case o := <-p.result:
		return o.payload, o.err
	case <-ctx.Done():
		b.forget(p.requestID)
		return Payload{}, ctx.Err()
	}
}

// Stop asks the worker to tear down this bridge's stream.
func (b *Bridge) Stop(ctx context.Context) error {
	env, err := protocol.NewEnvelope(protocol.MsgStopFetcher, protocol.StopFetcher{Identifier: b.identifier})
	if err != nil {
		return err
	}
	if err := b.transport.Send(ctx, env); err != nil {
		return fmt.Errorf("send stop fetcher: %w", err)
	}
	return nil
}

// Listen delivers envelopes from inbox until ctx ends or inbox closes.
func (b *Bridge) Listen(ctx context.Context, inbox <-chan protocol.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbox:
			if !ok {
				return
			}
			b.Deliver(env)
		}
	}
}

// Deliver routes one inbound envelope to the request it answers. Messages
// for other identifiers and unrelated message types are ignored.
func (b *Bridge) Deliver(env protocol.Envelope) {
	switch env.Type {
	case protocol.MsgWeatherAlertsData:
		var data protocol.AlertsData
		if err := env.Decode(&data); err != nil {
			b.logger.Warn("invalid worker reply", "error", err)
			return
		}
		if data.Identifier != b.identifier {
			return
		}
		p := b.take(data.RequestID)
		if p == nil {
			b.unmatched(env.Type, data.RequestID)
			return
		}
		payload, err := decodePayload(data)
		b.resolve(p, outcome{payload: payload, err: err})

	case protocol.MsgFetchError:
		var fe protocol.FetchError
		if err := env.Decode(&fe); err != nil {
			b.logger.Warn("invalid worker reply", "error", err)
			return
		}
		if fe.Identifier != b.identifier {
			return
		}
		p := b.take(fe.RequestID)
		if p == nil {
			b.unmatched(env.Type, fe.RequestID)
			return
		}
		b.resolve(p, outcome{err: &FetchError{Message: fe.Error, TranslationKey: fe.TranslationKey}})
	}
}

func (b *Bridge) resolve(p *pendingRequest, o outcome) {
	b.logger.Debug("worker reply received",
		"identifier", b.identifier,
		"request_id", p.requestID,
		"waited", time.Since(p.submitted),
		"error", o.err,
	)
	p.result <- o
}

// Close rejects every outstanding request with ErrClosed and refuses new ones.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, p := range b.pending {
		p.result <- outcome{err: ErrClosed}
		delete(b.pending, id)
	}
	b.order = nil
	b.metrics.BridgePending.Set(0)
}

// InFlight returns the number of requests awaiting a reply.
func (b *Bridge) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) track(p *pendingRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.pending[p.requestID] = p
	b.order = append(b.order, p.requestID)
	b.metrics.BridgePending.Set(float64(len(b.pending)))
	return nil
}

// take removes and returns the request a reply answers: the one with the
// echoed requestId, or the oldest one when the reply carries no token.
func (b *Bridge) take(requestID string) *pendingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	if requestID == "" {
		if len(b.order) == 0 {
			return nil
		}
		requestID = b.order[0]
	}
	p, ok := b.pending[requestID]
	if !ok {
		return nil
	}
	b.removeLocked(requestID)
	return p
}

func (b *Bridge) forget(requestID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(requestID)
}

func (b *Bridge) removeLocked(requestID string) {
	delete(b.pending, requestID)
	for i, id := range b.order {
		if id == requestID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.metrics.BridgePending.Set(float64(len(b.pending)))
}

func (b *Bridge) unmatched(msgType protocol.MessageType, requestID string) {
	b.metrics.BridgeUnmatched.Inc()
	b.logger.Warn("worker reply matched no pending request",
		"type", msgType,
		"identifier", b.identifier,
		"request_id", requestID,
	)
}
