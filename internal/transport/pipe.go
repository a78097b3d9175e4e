// Package transport provides an in-process message boundary between the
// presentation side and the fetch worker. Envelopes cross the pipe as
// encoded JSON, so the two sides never share memory, exactly as if they ran
// in separate processes.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
)

// ErrPipeClosed is returned by Send after the pipe is closed.
var ErrPipeClosed = errors.New("pipe closed")

// Endpoint is one side of a Pipe.
type Endpoint struct {
	name   string
	out    chan<- []byte
	in     <-chan []byte
	pipe   *Pipe
	logger *slog.Logger
}

// Pipe connects two endpoints with buffered channels.
type Pipe struct {
	once sync.Once
	done chan struct{}
	a, b chan []byte
}

// NewPipe returns connected endpoints: presentation for the bridge and
// worker for the fetch worker.
func NewPipe(buffer int, logger *slog.Logger) (presentation, worker *Endpoint) {
	p := &Pipe{
		done: make(chan struct{}),
		a:    make(chan []byte, buffer),
		b:    make(chan []byte, buffer),
	}
	presentation = &Endpoint{name: "presentation", out: p.a, in: p.b, pipe: p, logger: logger}
	worker = &Endpoint{name: "worker", out: p.b, in: p.a, pipe: p, logger: logger}
	return presentation, worker
}

// Send encodes env and hands it to the other side.
func (e *Endpoint) Send(ctx context.Context, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	select {
	case <-e.pipe.done:
		return ErrPipeClosed
	default:
	}

	select {
	case e.out <- data:
		return nil
	case <-e.pipe.done:
		return ErrPipeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages decodes inbound envelopes onto the returned channel until ctx
// ends or the pipe closes.
func (e *Endpoint) Messages(ctx context.Context) <-chan protocol.Envelope {
	out := make(chan protocol.Envelope)
	go func() {
		defer close(out)
		for {
			var data []byte
			select {
			case <-ctx.Done():
				return
			case <-e.pipe.done:
				return
			case data = <-e.in:
			}

			var env protocol.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				e.logger.Warn("invalid message on pipe", "endpoint", e.name, "error", err)
				continue
			}

			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Close shuts the pipe for both endpoints. It is safe to call more than once.
func (e *Endpoint) Close() {
	e.pipe.once.Do(func() { close(e.pipe.done) })
}
