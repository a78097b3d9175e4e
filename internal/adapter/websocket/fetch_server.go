package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/couchcryptid/weather-alerts-service/internal/observability"
	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
	"github.com/couchcryptid/weather-alerts-service/internal/worker"
)

// FetchServer exposes a fetch worker at /ws/fetch. Every connection gets its
// own worker, so a presentation process that disconnects takes its streams
// down with it.
type FetchServer struct {
	client  *http.Client
	logger  *slog.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewFetchServer creates a FetchServer whose workers fetch with client.
func NewFetchServer(client *http.Client, logger *slog.Logger, metrics *observability.Metrics) *FetchServer {
	return &FetchServer{
		client:  client,
		logger:  logger,
		metrics: metrics,
		conns:   make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and runs a worker for the connection.
func (s *FetchServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("fetch websocket upgrade failed", "error", err)
		return
	}
	s.track(conn)
	defer s.untrack(conn)
	s.logger.Info("presentation connected", "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	inbox := make(chan protocol.Envelope, 16)
	wk := worker.New(s.client, &peer{conn: conn}, s.logger, s.metrics)

	served := make(chan struct{})
	go func() {
		defer close(served)
		wk.Serve(ctx, inbox)
	}()

	s.readLoop(ctx, conn, inbox)

	cancel()
	<-served
	conn.Close()
	s.logger.Info("presentation disconnected", "remote_addr", r.RemoteAddr)
}

// Close disconnects every presentation process.
func (s *FetchServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *FetchServer) readLoop(ctx context.Context, conn *websocket.Conn, inbox chan<- protocol.Envelope) {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("fetch connection read failed", "error", err)
			}
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.logger.Warn("invalid message from presentation", "error", err)
			continue
		}

		select {
		case inbox <- env:
		case <-ctx.Done():
			return
		}
	}
}

func (s *FetchServer) track(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
	s.metrics.WebsocketConnections.WithLabelValues("fetch").Inc()
}

func (s *FetchServer) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
	s.metrics.WebsocketConnections.WithLabelValues("fetch").Dec()
}

// peer writes worker replies back over the connection.
type peer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *peer) Send(ctx context.Context, env protocol.Envelope) error {
	return writeEnvelope(ctx, &p.mu, p.conn, env)
}

// writeEnvelope encodes env and writes it under mu, honoring the earlier of
// the context deadline and writeTimeout.
func writeEnvelope(ctx context.Context, mu *sync.Mutex, conn *websocket.Conn, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}
