// Package hub implements the websocket fan-out server. Subscribers connect,
// receive a snapshot of the live polled spots, and from then on every spot
// event as it happens. Streamed spots are only delivered to subscribers that
// installed a matching filter; installing a filter also triggers a one-shot
// history replay.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/manuelkasper/sotlas-api/component"
	"github.com/manuelkasper/sotlas-api/config"
	"github.com/manuelkasper/sotlas-api/errors"
	"github.com/manuelkasper/sotlas-api/metric"
	"github.com/manuelkasper/sotlas-api/spot"
	"github.com/manuelkasper/sotlas-api/wire"
)

const (
	defaultPingInterval = 30 * time.Second
	writeDeadline       = 10 * time.Second
	maxControlSize      = 4096
)

// SnapshotProvider supplies the current live polled spots for the snapshot
// sent to every new subscriber.
type SnapshotProvider func() []spot.Spot

// HistoryProvider supplies recent streamed spots matching a filter, newest
// first, for the replay sent after a filter update.
type HistoryProvider func(filter *wire.RBNFilter) []spot.RBNSpot

// Deps holds the dependencies for constructing a Hub
type Deps struct {
	Config          config.HTTPConfig
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Hub is the websocket fan-out server
type Hub struct {
	host string
	port int
	path string

	server   *http.Server
	upgrader websocket.Upgrader

	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	snapshotProvider SnapshotProvider
	historyProvider  HistoryProvider

	pingInterval time.Duration

	// Lifecycle management
	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          *sync.WaitGroup

	logger  *slog.Logger
	metrics *Metrics
}

var _ component.Discoverable = (*Hub)(nil)
var _ component.LifecycleComponent = (*Hub)(nil)

// New creates a new Hub from its dependencies
func New(deps Deps) *Hub {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Hub{
		host: deps.Config.Host,
		port: deps.Config.Port,
		path: deps.Config.Path,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Public feed, any origin may subscribe
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:      make(map[*client]struct{}),
		pingInterval: defaultPingInterval,
		logger:       logger.With("component", "hub"),
		metrics:      newMetrics(deps.MetricsRegistry),
	}
}

// SetSnapshotProvider installs the snapshot source. Must be called before
// Start.
func (h *Hub) SetSnapshotProvider(p SnapshotProvider) {
	h.snapshotProvider = p
}

// SetHistoryProvider installs the history source. Must be called before
// Start.
func (h *Hub) SetHistoryProvider(p HistoryProvider) {
	h.historyProvider = p
}

// Meta implements component.Discoverable
func (h *Hub) Meta() component.Metadata {
	return component.Metadata{
		Name:        "hub",
		Type:        "hub",
		Description: "Websocket fan-out server for live spot events",
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (h *Hub) Health() component.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:   h.running,
		LastCheck: time.Now(),
	}
	if h.running {
		status.Uptime = time.Since(h.startTime)
	}
	return status
}

// DataFlow implements component.Discoverable
func (h *Hub) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{LastActivity: time.Now()}
}

// ClientCount returns the number of currently connected subscribers
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Initialize validates the hub configuration
func (h *Hub) Initialize() error {
	if h.port < 1 || h.port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Hub", "Initialize",
			fmt.Sprintf("port %d out of range", h.port))
	}
	if h.path == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Hub", "Initialize", "path cannot be empty")
	}
	return nil
}

// Start begins serving websocket subscribers
func (h *Hub) Start(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Hub", "Start", "start hub")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Hub", "Start", "context already cancelled")
	}

	h.shutdown = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc(h.path, h.handleWebSocket)
	h.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", h.host, h.port),
		Handler: mux,
	}

	h.running = true
	h.startTime = time.Now()

	h.wg = &sync.WaitGroup{}
	h.wg.Add(2)
	go h.runServer()
	go h.maintainClients(ctx)

	h.logger.Info("hub started", "addr", h.server.Addr, "path", h.path)
	return nil
}

// Stop shuts the server down and closes all client connections
func (h *Hub) Stop(timeout time.Duration) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = false
	close(h.shutdown)
	wg := h.wg
	server := h.server
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		h.logger.Warn("server shutdown failed", "error", err)
	}

	h.closeAllClients()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Hub", "Stop", "wait for goroutines")
	}

	h.logger.Info("hub stopped")
	return nil
}

// BroadcastAll sends a message to every connected subscriber
func (h *Hub) BroadcastAll(msg wire.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast failed", "error", err)
		h.metrics.recordError()
		return
	}

	for _, c := range h.clientSnapshot() {
		h.sendTo(c, data, messageType(msg))
	}
}

// BroadcastRBN sends a streamed spot to subscribers whose filter matches it
func (h *Hub) BroadcastRBN(s *spot.RBNSpot) {
	data, err := json.Marshal(wire.Message{RBNSpot: s})
	if err != nil {
		h.logger.Error("marshal rbn broadcast failed", "error", err)
		h.metrics.recordError()
		return
	}

	for _, c := range h.clientSnapshot() {
		if c.getFilter().Matches(s) {
			h.sendTo(c, data, "rbnSpot")
		}
	}
}

// clientSnapshot copies the client set so sends happen outside the lock
func (h *Hub) clientSnapshot() []*client {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	return clients
}

func (h *Hub) sendTo(c *client, data []byte, msgType string) {
	if c.closed.Load() {
		return
	}
	if err := c.send(data, writeDeadline); err != nil {
		h.logger.Debug("send failed, dropping client", "client", c.id, "error", err)
		h.metrics.recordError()
		h.removeClient(c, "send_error")
		return
	}
	h.metrics.recordSend(msgType, len(data))
}

func messageType(msg wire.Message) string {
	switch {
	case msg.Spot != nil:
		return "spot"
	case msg.DeleteSpot != nil:
		return "deleteSpot"
	case msg.RBNSpot != nil:
		return "rbnSpot"
	case msg.Spots != nil:
		return "snapshot"
	case msg.RBNSpotHistory != nil:
		return "history"
	default:
		return "other"
	}
}

func (h *Hub) runServer() {
	defer h.wg.Done()

	err := h.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		h.logger.Error("websocket server failed", "error", err)
	}
}

// handleWebSocket upgrades the connection, sends the snapshot and enters the
// read loop.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	running := h.running
	h.mu.RUnlock()
	if !running {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxControlSize)

	c := newClient(conn)
	h.clientsMu.Lock()
	h.clients[c] = struct{}{}
	h.clientsMu.Unlock()
	h.metrics.recordConnect()

	h.logger.Debug("client connected", "client", c.id, "remote", r.RemoteAddr)

	h.sendSnapshot(c)

	go h.readClient(c)
}

// sendSnapshot sends the current live polled spots to a new subscriber. An
// empty cache still yields a snapshot message so clients can tell they are
// in sync.
func (h *Hub) sendSnapshot(c *client) {
	var spots []spot.Spot
	if h.snapshotProvider != nil {
		spots = h.snapshotProvider()
	}
	if spots == nil {
		spots = []spot.Spot{}
	}

	n, err := c.sendJSON(wire.Message{Spots: spots}, writeDeadline)
	if err != nil {
		h.metrics.recordError()
		h.removeClient(c, "send_error")
		return
	}
	h.metrics.recordSend("snapshot", n)
}

// readClient consumes inbound control messages until the connection drops
func (h *Hub) readClient(c *client) {
	defer h.removeClient(c, "client_closed")

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var ctrl wire.Control
		if err := json.Unmarshal(data, &ctrl); err != nil {
			h.logger.Debug("bad control message", "client", c.id, "error", err)
			h.metrics.recordError()
			continue
		}

		if ctrl.RBNFilter != nil {
			h.applyFilter(c, ctrl.RBNFilter)
		}
	}
}

// applyFilter installs a new stream filter and replays matching history.
// An empty filter stops the stream without a replay.
func (h *Hub) applyFilter(c *client, filter *wire.RBNFilter) {
	c.setFilter(filter)

	if filter.Empty() || h.historyProvider == nil {
		return
	}

	history := h.historyProvider(filter)
	if history == nil {
		history = []spot.RBNSpot{}
	}

	n, err := c.sendJSON(wire.Message{RBNSpotHistory: history, ViewID: filter.ViewID}, writeDeadline)
	if err != nil {
		h.metrics.recordError()
		h.removeClient(c, "send_error")
		return
	}
	h.metrics.recordSend("history", n)
}

func (h *Hub) removeClient(c *client, reason string) {
	h.clientsMu.Lock()
	_, present := h.clients[c]
	if present {
		delete(h.clients, c)
	}
	h.clientsMu.Unlock()

	c.close()

	if present {
		h.metrics.recordDisconnect(reason)
		h.logger.Debug("client removed", "client", c.id, "reason", reason)
	}
}

// maintainClients pings all clients periodically and evicts those that did
// not answer the previous ping.
func (h *Hub) maintainClients(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.pingClients()
		case <-ctx.Done():
			return
		case <-h.shutdown:
			return
		}
	}
}

func (h *Hub) pingClients() {
	for _, c := range h.clientSnapshot() {
		if !c.alive.Load() {
			h.logger.Debug("client missed heartbeat", "client", c.id)
			h.removeClient(c, "heartbeat_timeout")
			continue
		}
		c.alive.Store(false)
		if err := c.ping(writeDeadline); err != nil {
			h.removeClient(c, "send_error")
		}
	}
}

func (h *Hub) closeAllClients() {
	for _, c := range h.clientSnapshot() {
		h.removeClient(c, "server_shutdown")
	}
}
