package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/gorilla/websocket"

	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
)

const (
	initialReconnectDelay = time.Second
	maxReconnectDelay     = time.Minute
)

// ErrNotConnected is returned by Send while no fetch worker connection is up.
var ErrNotConnected = errors.New("fetch worker not connected")

// Client is the presentation side of the /ws/fetch boundary. It keeps a
// connection to a remote fetch worker alive and satisfies bridge.Transport.
type Client struct {
	url    string
	logger *slog.Logger
	inbox  chan protocol.Envelope

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

// NewClient creates a client for the worker at url (ws:// or wss://).
func NewClient(url string, logger *slog.Logger) *Client {
	return &Client{
		url:    url,
		logger: logger,
		inbox:  make(chan protocol.Envelope, 64),
	}
}

// Inbox returns worker replies. Feed it to bridge.Listen.
func (c *Client) Inbox() <-chan protocol.Envelope {
	return c.inbox
}

// Connected reports whether a worker connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// CheckReadiness reports an error while the worker is unreachable.
func (c *Client) CheckReadiness(_ context.Context) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return nil
}

// Send writes env to the worker.
func (c *Client) Send(ctx context.Context, env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return writeEnvelope(ctx, &c.mu, conn, env)
}

// Run connects and keeps reconnecting with jittered exponential backoff
// until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	delay := initialReconnectDelay

	for {
		wasConnected, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if wasConnected {
			delay = initialReconnectDelay
		}

		c.logger.Warn("fetch worker connection lost, reconnecting",
			"url", c.url,
			"error", err,
			"backoff", delay,
		)
		if !retry.SleepWithContext(ctx, jitter(delay)) {
			return nil
		}
		delay = retry.NextBackoff(delay, maxReconnectDelay)
	}
}

// jitter adds up to 50% to d.
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	return d + rand.N(d/2)
}

func (c *Client) connectAndServe(ctx context.Context) (bool, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("connected to fetch worker", "url", c.url)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx, conn)

	// A cancelled context must unblock ReadMessage.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		// Any inbound frame proves the worker is alive.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var env protocol.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			c.logger.Warn("invalid message from fetch worker", "error", err)
			continue
		}

		select {
		case c.inbox <- env:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debug("fetch worker ping failed", "error", err)
				return
			}
		}
	}
}
