// Package server coordinates connection admission, message broadcast, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/chatrelay/internal/metrics"
)

// ErrHubClosed is returned by Connect once the hub has been shut down.
var ErrHubClosed = errors.New("hub closed")

// Hub owns the registry of live connections and relays every message it
// receives to all of them, the sender included.
type Hub struct {
	cfg      Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *Registry
	welcome  atomic.Value // string

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub from cfg. A nil cfg uses NewConfig defaults, a nil
// logger uses slog.Default and a nil m gets a private metrics registry.
func NewHub(cfg *Config, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if cfg == nil {
		cfg = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:      sanitizeConfig(*cfg),
		log:      logger,
		metrics:  m,
		registry: NewRegistry(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	h.welcome.Store(cfg.WelcomeMessage)
	return h
}

// WelcomeMessage returns the text sent to each newly admitted connection.
func (h *Hub) WelcomeMessage() string {
	return h.welcome.Load().(string)
}

// SetWelcomeMessage replaces the welcome text for connections admitted from
// now on. An empty string disables the welcome message.
func (h *Hub) SetWelcomeMessage(text string) {
	h.welcome.Store(text)
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// Connect admits c: it moves c to StateOpen, queues the welcome message for
// c alone and adds c to the registry.
func (h *Hub) Connect(c *Connection) error {
	if h.ctx.Err() != nil {
		return ErrHubClosed
	}
	if err := c.open(); err != nil {
		return err
	}

	if welcome := h.WelcomeMessage(); welcome != "" {
		if err := c.Send(TextMessage(welcome)); err != nil {
			h.log.Warn("Failed to queue welcome message", "id", c.id, "err", err)
		}
	}

	h.registry.Add(c)
	if h.ctx.Err() != nil {
		// Shutdown may have drained the registry before the Add above.
		h.registry.Remove(c)
		c.beginClose()
		return ErrHubClosed
	}
	h.metrics.Incr("websockets", 1)
	h.metrics.Incr("conn.accepted", 1)
	h.log.Info("Client connected", "id", c.id, "addr", c.addr, "clients", h.registry.Len())
	return nil
}

// Disconnect removes c from the registry and stops any further delivery to
// it. It is safe to call more than once and reports whether this call
// removed c.
func (h *Hub) Disconnect(c *Connection) bool {
	c.beginClose()
	if !h.registry.Remove(c) {
		return false
	}

	h.metrics.Decr("websockets", 1)
	h.log.Info("Client disconnected", "id", c.id, "addr", c.addr, "clients", h.registry.Len())
	return true
}

type failedSend struct {
	conn *Connection
	err  error
}

// Broadcast queues msg unchanged on every open connection, including sender,
// and returns the number of connections it was queued on. Connections that
// cannot take the message are disconnected without affecting the others.
// sender may be nil for server-originated messages.
func (h *Hub) Broadcast(sender *Connection, msg Message) int {
	if sender != nil {
		h.log.Info("Received", "id", sender.id, "payload", string(msg.Payload))
	} else {
		h.log.Info("Received", "payload", string(msg.Payload))
	}
	h.metrics.Incr("conn.recv", 1)

	var failed []failedSend
	delivered := 0
	h.registry.ForEachOpen(func(c *Connection) {
		if err := c.Send(msg); err != nil {
			failed = append(failed, failedSend{conn: c, err: err})
			return
		}
		delivered++
	})

	h.removeFailedConnections(failed)
	h.log.Debug("Broadcast complete", "delivered", delivered, "failed", len(failed))
	return delivered
}

// removeFailedConnections disconnects recipients that could not take a message
func (h *Hub) removeFailedConnections(failed []failedSend) {
	for _, f := range failed {
		if h.Disconnect(f.conn) {
			h.metrics.Incr("conn.drops", 1)
			h.log.Info("Client removed after failed send", "id", f.conn.id, "addr", f.conn.addr, "err", f.err)
		}
	}
}

// serve admits c and starts its pumps. The hub tracks both goroutines so
// Shutdown can wait for them.
func (h *Hub) serve(c *Connection) error {
	if err := h.Connect(c); err != nil {
		return err
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		c.writePump()
	}()
	go func() {
		defer h.wg.Done()
		c.readPump()
	}()
	return nil
}

// Run blocks until ctx is cancelled or Shutdown is called, then closes every
// remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	select {
	case <-ctx.Done():
	case <-h.ctx.Done():
	}
	h.cancel()
	h.shutdownConnections()
}

// shutdownConnections closes all registered connections. Each write pump
// sends a close frame before releasing its socket.
func (h *Hub) shutdownConnections() {
	h.log.Info("Shutting down all client connections...")

	conns := h.registry.drain()
	for _, c := range conns {
		c.beginClose()
		h.metrics.Decr("websockets", 1)
	}

	h.log.Info("Closed client connections", "count", len(conns))
}

// Shutdown stops the hub and waits for all connection goroutines to finish,
// or until timeout elapses. Run must have been started.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown...")
	h.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		h.log.Warn("Hub shutdown timeout reached before connections were closed")
		return context.DeadlineExceeded
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-timer.C:
		h.log.Warn("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
