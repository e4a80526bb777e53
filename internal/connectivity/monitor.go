// Package connectivity tells the sync engine whether the server is
// reachable and whether the user has asked to work offline.
package connectivity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/api"
	"github.com/coder/websocket"
)

const (
	// DefaultHeartbeat is how often the monitor pings the server.
	DefaultHeartbeat = 10 * time.Second

	reconnectMin = 1 * time.Second
	reconnectMax = 30 * time.Second

	// jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2

	reconnectBackoffMultiplier = 2

	readLimit = 4 * 1024
)

// wsConn is the subset of *websocket.Conn the monitor uses.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Monitor holds a heartbeat websocket open to the server and reports the
// server reachable while pongs keep arriving.
type Monitor struct {
	url       string
	heartbeat time.Duration
	timeout   time.Duration
	minWait   time.Duration
	maxWait   time.Duration
	logger    *slog.Logger
	dial      func(ctx context.Context, url string) (wsConn, error)

	online atomic.Bool
	events chan struct{}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithHeartbeat sets the ping interval. The pong timeout follows it.
func WithHeartbeat(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.heartbeat = d
			m.timeout = d
		}
	}
}

// WithBackoff sets the reconnect backoff bounds.
func WithBackoff(lo, hi time.Duration) MonitorOption {
	return func(m *Monitor) {
		if lo > 0 && hi >= lo {
			m.minWait, m.maxWait = lo, hi
		}
	}
}

// NewMonitor returns a monitor for the server at baseURL (http or https).
func NewMonitor(baseURL string, logger *slog.Logger, opts ...MonitorOption) (*Monitor, error) {
	wsURL, err := heartbeatURL(baseURL)
	if err != nil {
		return nil, err
	}

	m := &Monitor{
		url:       wsURL,
		heartbeat: DefaultHeartbeat,
		timeout:   DefaultHeartbeat,
		minWait:   reconnectMin,
		maxWait:   reconnectMax,
		logger:    logger,
		dial:      dialWS,
		events:    make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

func heartbeatURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing server url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}

	u.Path += api.PathWS

	return u.String(), nil
}

func dialWS(ctx context.Context, url string) (wsConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil) //nolint:bodyclose // websocket.Dial closes the response body internally
	if err != nil {
		return nil, err
	}

	conn.SetReadLimit(readLimit)

	return conn, nil
}

// Online reports whether the last heartbeat succeeded.
func (m *Monitor) Online() bool { return m.online.Load() }

// Events fires each time the server becomes reachable again. Bursts
// coalesce.
func (m *Monitor) Events() <-chan struct{} { return m.events }

func (m *Monitor) setOnline(on bool) {
	if m.online.Swap(on) == on {
		return
	}

	if !on {
		m.logger.Warn("server unreachable")
		return
	}

	m.logger.Info("server reachable", slog.String("url", m.url))

	select {
	case m.events <- struct{}{}:
	default:
	}
}

// Run keeps the heartbeat connection alive until ctx is cancelled,
// reconnecting with jittered exponential backoff.
func (m *Monitor) Run(ctx context.Context) error {
	backoff := m.minWait

	for {
		healthy, err := m.session(ctx)
		m.setOnline(false)

		if ctx.Err() != nil {
			return nil
		}

		if healthy {
			backoff = m.minWait
		}

		m.logger.Debug("heartbeat connection ended",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff)/jitterDivisor + 1)) //nolint:gosec // G404: math/rand is fine for reconnect jitter

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if !healthy {
			backoff = min(backoff*reconnectBackoffMultiplier, m.maxWait)
		}
	}
}

// session runs one connection. healthy reports whether at least one pong
// arrived before it ended.
func (m *Monitor) session(ctx context.Context) (healthy bool, err error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.timeout)
	conn, err := m.dial(dialCtx, m.url)
	cancel()

	if err != nil {
		return false, fmt.Errorf("dialing %s: %w", m.url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ticker := time.NewTicker(m.heartbeat)
	defer ticker.Stop()

	for {
		if err := m.ping(ctx, conn); err != nil {
			return healthy, err
		}

		healthy = true
		m.setOnline(true)

		select {
		case <-ctx.Done():
			return healthy, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) ping(ctx context.Context, conn wsConn) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	msg, err := json.Marshal(api.Heartbeat{Op: "ping"})
	if err != nil {
		return err
	}

	if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("sending ping: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("waiting for pong: %w", err)
	}

	var reply api.Heartbeat
	if err := json.Unmarshal(data, &reply); err != nil || reply.Op != "pong" {
		return fmt.Errorf("unexpected heartbeat reply %q", data)
	}

	return nil
}
