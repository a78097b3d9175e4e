// Package websocket carries the service's two WebSocket surfaces: the
// /ws/alerts fan-out that pushes WEATHER_ALERTS_UPDATED to presenters, and
// the /ws/fetch boundary between the presentation process and a remote fetch
// worker.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/observability"
	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	readLimit    = 1 << 20
	sendBuffer   = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Presenters are served from arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts alert updates to every connected presenter. A presenter
// that connects late receives the most recent update first.
type Hub struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu   sync.Mutex
	subs map[*subscriber]struct{}
	last []byte
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		logger:  logger,
		metrics: metrics,
		subs:    make(map[*subscriber]struct{}),
	}
}

// Name labels the hub in listener logs and metrics.
func (h *Hub) Name() string { return "websocket" }

// WeatherAlertsUpdated broadcasts update. Presenters whose send buffer is
// full miss this update; they still get the next one.
func (h *Hub) WeatherAlertsUpdated(_ context.Context, update domain.AlertsUpdate) error {
	env, err := protocol.NewEnvelope(protocol.MsgWeatherAlertsUpdated, update)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = data
	for s := range h.subs {
		select {
		case s.send <- data:
		default:
			h.logger.Warn("presenter too slow, update dropped", "remote_addr", s.conn.RemoteAddr().String())
		}
	}
	return nil
}

// Subscribers returns the number of connected presenters.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request and streams updates until the presenter
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("alerts websocket upgrade failed", "error", err)
		return
	}

	s := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	h.add(s)
	h.logger.Debug("presenter connected", "remote_addr", r.RemoteAddr)

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(s, done)
	}()

	readUntilClosed(conn)

	h.remove(s)
	close(done)
	<-writerDone
	conn.Close()
	h.logger.Debug("presenter disconnected", "remote_addr", r.RemoteAddr)
}

// Close disconnects every presenter.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		_ = s.conn.Close()
	}
}

func (h *Hub) add(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[s] = struct{}{}
	if h.last != nil {
		s.send <- h.last
	}
	h.metrics.WebsocketConnections.WithLabelValues("alerts").Inc()
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		h.metrics.WebsocketConnections.WithLabelValues("alerts").Dec()
	}
}

func (h *Hub) writeLoop(s *subscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// Unblocks the read loop.
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

// readUntilClosed discards inbound frames, keeping the read deadline fresh
// on pongs, and returns once the connection fails.
func readUntilClosed(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
