// Package rbn ingests the Reverse Beacon Network telnet stream. It holds a
// persistent line-oriented TCP connection guarded by a read watchdog,
// normalizes spot lines into canonical streamed spots, keeps a bounded
// history for late subscribers, and fans new spots out to the hub.
package rbn

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/manuelkasper/sotlas-api/component"
	"github.com/manuelkasper/sotlas-api/config"
	"github.com/manuelkasper/sotlas-api/errors"
	"github.com/manuelkasper/sotlas-api/metric"
	"github.com/manuelkasper/sotlas-api/pkg/retry"
	"github.com/manuelkasper/sotlas-api/refdata"
	"github.com/manuelkasper/sotlas-api/spot"
	"github.com/manuelkasper/sotlas-api/wire"
)

const dialTimeout = 10 * time.Second

// ConnState represents the state of the stream connection
type ConnState int32

// Possible connection states
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the string representation of ConnState
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Broadcaster delivers streamed spots to subscribers
type Broadcaster interface {
	BroadcastRBN(s *spot.RBNSpot)
}

// Publisher republishes streamed spots to the message bus. Nil disables it.
type Publisher interface {
	PublishRBN(s *spot.RBNSpot) error
}

// Deps holds the dependencies for constructing the RBN input
type Deps struct {
	Config          config.RBNConfig
	Broadcaster     Broadcaster
	Activators      refdata.ActivatorSet
	Publisher       Publisher
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Input is the RBN stream ingestor
type Input struct {
	cfg         config.RBNConfig
	broadcaster Broadcaster
	activators  refdata.ActivatorSet
	publisher   Publisher

	cache  *spot.Cache[spot.RBNSpot]
	nextID atomic.Int64

	state atomic.Int32 // stores ConnState

	conn   net.Conn
	connMu sync.Mutex

	// Lifecycle management
	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          *sync.WaitGroup

	errorCount atomic.Int64
	lastError  atomic.Value // stores string

	logger  *slog.Logger
	metrics *Metrics
}

var _ component.Discoverable = (*Input)(nil)
var _ component.LifecycleComponent = (*Input)(nil)

// New creates a new RBN input from its dependencies
func New(deps Deps) *Input {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Input{
		cfg:         deps.Config,
		broadcaster: deps.Broadcaster,
		activators:  deps.Activators,
		publisher:   deps.Publisher,
		// Streamed spots have no update semantics, any id collision is a bug
		cache:   spot.NewCache[spot.RBNSpot](nil),
		logger:  logger.With("component", "rbn"),
		metrics: newMetrics(deps.MetricsRegistry),
	}
}

// Meta implements component.Discoverable
func (i *Input) Meta() component.Metadata {
	return component.Metadata{
		Name:        "rbn",
		Type:        "input",
		Description: "Reverse Beacon Network telnet stream ingestor",
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (i *Input) Health() component.HealthStatus {
	i.mu.RLock()
	defer i.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:    i.running && i.State() == StateConnected,
		LastCheck:  time.Now(),
		ErrorCount: int(i.errorCount.Load()),
	}
	if lastErr, ok := i.lastError.Load().(string); ok {
		status.LastError = lastErr
	}
	if i.running {
		status.Uptime = time.Since(i.startTime)
	}
	return status
}

// DataFlow implements component.Discoverable
func (i *Input) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{LastActivity: time.Now()}
}

// State returns the current connection state
func (i *Input) State() ConnState {
	return ConnState(i.state.Load())
}

func (i *Input) setState(state ConnState) {
	i.state.Store(int32(state))
	i.metrics.recordState(state)
}

// Initialize validates the input configuration
func (i *Input) Initialize() error {
	if i.cfg.Host == "" || i.cfg.Port < 1 || i.cfg.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Input", "Initialize", "host/port")
	}
	if i.cfg.Login == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Input", "Initialize", "login")
	}
	if i.cfg.ReadTimeout.Std() <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Input", "Initialize", "read timeout")
	}
	if i.broadcaster == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Input", "Initialize", "broadcaster")
	}
	return nil
}

// Start begins the connection loop
func (i *Input) Start(ctx context.Context) error {
	i.lifecycleMu.Lock()
	defer i.lifecycleMu.Unlock()

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Input", "Start", "start rbn input")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Input", "Start", "context already cancelled")
	}

	i.shutdown = make(chan struct{})
	i.running = true
	i.startTime = time.Now()

	i.wg = &sync.WaitGroup{}
	i.wg.Add(1)
	go i.run(ctx)

	i.logger.Info("rbn input started", "addr", i.cfg.Addr())
	return nil
}

// Stop terminates the connection loop
func (i *Input) Stop(timeout time.Duration) error {
	i.lifecycleMu.Lock()
	defer i.lifecycleMu.Unlock()

	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return nil
	}
	i.running = false
	close(i.shutdown)
	wg := i.wg
	i.mu.Unlock()

	// Unblock any read in progress
	i.closeConn()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Input", "Stop", "wait for goroutines")
	}

	i.setState(StateDisconnected)
	i.logger.Info("rbn input stopped")
	return nil
}

// History returns cached streamed spots matching the filter, newest first,
// bounded by the filter's history age and capped at MaxSpotHistory matches.
// An empty filter yields nothing.
func (i *Input) History(filter *wire.RBNFilter) []spot.RBNSpot {
	if filter.Empty() {
		return nil
	}

	cutoff := time.Now().Add(-filter.HistoryAge())
	snapshot := i.cache.Snapshot()

	var out []spot.RBNSpot
	for idx := len(snapshot) - 1; idx >= 0; idx-- {
		s := snapshot[idx]
		if s.Timestamp.Before(cutoff) {
			continue
		}
		if filter.Matches(&s) {
			out = append(out, s)
			if i.cfg.MaxSpotHistory > 0 && len(out) >= i.cfg.MaxSpotHistory {
				break
			}
		}
	}
	return out
}

// run drives the connect/read/reconnect loop until shutdown
func (i *Input) run(ctx context.Context) {
	defer i.wg.Done()

	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-i.shutdown:
			return
		default:
		}

		if !first {
			i.setState(StateReconnecting)
			i.metrics.recordReconnect()
		}
		first = false

		conn, err := i.connect(ctx)
		if err != nil {
			if i.stopping(ctx) {
				return
			}
			// Backoff exhausted, start a fresh round
			i.logger.Error("connection attempts exhausted, restarting backoff", "error", err)
			i.recordError(err)
			continue
		}

		i.setState(StateConnected)
		i.logger.Info("connected", "addr", i.cfg.Addr())

		err = i.readLoop(ctx, conn)
		i.closeConn()
		if i.stopping(ctx) {
			return
		}
		i.logger.Warn("connection lost", "error", err)
		i.recordError(err)
	}
}

func (i *Input) stopping(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-i.shutdown:
		return true
	default:
		return false
	}
}

func (i *Input) recordError(err error) {
	i.errorCount.Add(1)
	if err != nil {
		i.lastError.Store(err.Error())
	}
}

// connect dials with exponential backoff and performs the login handshake
func (i *Input) connect(ctx context.Context) (net.Conn, error) {
	i.setState(StateConnecting)

	return retry.DoWithResult(ctx, retry.Persistent(), func() (net.Conn, error) {
		select {
		case <-i.shutdown:
			return nil, retry.NonRetryable(errors.ErrShuttingDown)
		default:
		}

		conn, err := net.DialTimeout("tcp", i.cfg.Addr(), dialTimeout)
		if err != nil {
			return nil, errors.WrapTransient(err, "Input", "connect", "dial "+i.cfg.Addr())
		}

		if err := i.login(conn); err != nil {
			_ = conn.Close()
			return nil, err
		}

		i.connMu.Lock()
		i.conn = conn
		i.connMu.Unlock()
		return conn, nil
	})
}

// login sends the callsign and any configured cluster commands
func (i *Input) login(conn net.Conn) error {
	lines := append([]string{i.cfg.Login}, i.cfg.Commands...)
	for _, line := range lines {
		if err := conn.SetWriteDeadline(time.Now().Add(dialTimeout)); err != nil {
			return errors.WrapTransient(err, "Input", "login", "set write deadline")
		}
		if _, err := fmt.Fprintf(conn, "%s\r\n", line); err != nil {
			return errors.WrapTransient(err, "Input", "login", "send login")
		}
	}
	return nil
}

func (i *Input) closeConn() {
	i.connMu.Lock()
	if i.conn != nil {
		_ = i.conn.Close()
		i.conn = nil
	}
	i.connMu.Unlock()
}

// readLoop consumes lines until the connection drops or the watchdog fires.
// The read deadline is reset before every read, so any line (including
// keepalives) feeds the watchdog.
func (i *Input) readLoop(ctx context.Context, conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), 65536)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(i.cfg.ReadTimeout.Std())); err != nil {
			return errors.WrapTransient(err, "Input", "readLoop", "set read deadline")
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					return errors.WrapTransient(errors.ErrWatchdogExpired, "Input", "readLoop",
						fmt.Sprintf("no data for %v", i.cfg.ReadTimeout.Std()))
				}
				return errors.WrapTransient(err, "Input", "readLoop", "read line")
			}
			return errors.WrapTransient(errors.ErrConnectionLost, "Input", "readLoop", "stream closed")
		}

		i.handleLine(ctx, scanner.Text())
	}
}

// handleLine parses one stream line and publishes the resulting spot
func (i *Input) handleLine(ctx context.Context, line string) {
	i.metrics.recordLine()

	s, err := parseLine(line, time.Now())
	if err != nil {
		i.metrics.recordParseError()
		i.logger.Debug("unparseable spot line", "line", line, "error", err)
		return
	}
	if s == nil {
		return
	}

	s.ID = i.nextID.Add(1)
	s.IsActivator = i.isActivator(ctx, s.HomeCallsign)

	i.cache.Upsert(*s)
	i.cache.TrimToSize(i.cfg.MaxSpotHistory)
	i.cache.RemoveOlderThan(i.cfg.MaxSpotAge.Std(), time.Now())
	i.metrics.recordSpot(i.cache.Len())

	i.broadcaster.BroadcastRBN(s)

	if i.publisher != nil {
		if err := i.publisher.PublishRBN(s); err != nil {
			i.logger.Warn("republish failed", "error", err)
		}
	}
}

// isActivator checks all regional variants of the home callsign against the
// known activator set.
func (i *Input) isActivator(ctx context.Context, homeCallsign string) bool {
	if i.activators == nil {
		return false
	}
	for _, variation := range spot.CallsignVariations(homeCallsign) {
		if i.activators.IsActivator(ctx, variation) {
			return true
		}
	}
	return false
}
