// Package sotawatch polls the SOTAwatch spot feed and maintains the live
// cache of current spots. Each poll fetches a cheap epoch token first and
// only loads a batch when the token changed. Full loads additionally
// reconcile upstream deletions; every poll expires overaged spots.
package sotawatch

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
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

// Broadcaster delivers spot events to subscribers
type Broadcaster interface {
	BroadcastAll(msg wire.Message)
}

// Publisher republishes spot events to the message bus. Nil disables it.
type Publisher interface {
	PublishSpot(s *spot.Spot) error
	PublishDelete(id int64) error
}

// Deps holds the dependencies for constructing the poller
type Deps struct {
	Config          config.SotaSpotsConfig
	Broadcaster     Broadcaster
	Summits         refdata.SummitLookup
	Publisher       Publisher
	HTTPClient      *http.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}

// Poller is the SOTAwatch feed ingestor
type Poller struct {
	cfg         config.SotaSpotsConfig
	feed        *feedClient
	broadcaster Broadcaster
	summits     refdata.SummitLookup
	publisher   Publisher

	cache *spot.Cache[spot.Spot]

	// Poll state, touched only by the poll goroutine
	lastEpoch    string
	lastFullLoad time.Time

	// Lifecycle management
	shutdown    chan struct{}
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          *sync.WaitGroup

	errorCount int
	lastError  string

	logger  *slog.Logger
	metrics *Metrics
}

var _ component.Discoverable = (*Poller)(nil)
var _ component.LifecycleComponent = (*Poller)(nil)

// New creates a new poller from its dependencies
func New(deps Deps) *Poller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Poller{
		cfg:         deps.Config,
		feed:        newFeedClient(deps.Config.URL, deps.HTTPClient),
		broadcaster: deps.Broadcaster,
		summits:     deps.Summits,
		publisher:   deps.Publisher,
		cache:       spot.NewCache[spot.Spot](func(a, b spot.Spot) bool { return a.Equal(b) }),
		logger:      logger.With("component", "sotawatch"),
		metrics:     newMetrics(deps.MetricsRegistry),
	}
}

// Meta implements component.Discoverable
func (p *Poller) Meta() component.Metadata {
	return component.Metadata{
		Name:        "sotawatch",
		Type:        "input",
		Description: "SOTAwatch spot feed poller",
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (p *Poller) Health() component.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := component.HealthStatus{
		Healthy:    p.running,
		LastCheck:  time.Now(),
		ErrorCount: p.errorCount,
		LastError:  p.lastError,
	}
	if p.running {
		status.Uptime = time.Since(p.startTime)
	}
	return status
}

// DataFlow implements component.Discoverable
func (p *Poller) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{LastActivity: time.Now()}
}

// Snapshot returns the current live spots ordered by ascending id
func (p *Poller) Snapshot() []spot.Spot {
	return p.cache.Snapshot()
}

// Initialize validates the poller configuration
func (p *Poller) Initialize() error {
	if p.cfg.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Poller", "Initialize", "url")
	}
	if p.cfg.UpdateInterval.Std() <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Poller", "Initialize", "update interval")
	}
	if p.cfg.FullLoadSpots <= 0 || p.cfg.PeriodicLoadSpots <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Poller", "Initialize", "load sizes")
	}
	if p.broadcaster == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Poller", "Initialize", "broadcaster")
	}
	return nil
}

// Start begins polling. The first poll happens immediately.
func (p *Poller) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Poller", "Start", "start poller")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "Poller", "Start", "context already cancelled")
	}

	p.shutdown = make(chan struct{})
	p.running = true
	p.startTime = time.Now()

	p.wg = &sync.WaitGroup{}
	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("poller started", "url", p.cfg.URL, "interval", p.cfg.UpdateInterval.Std())
	return nil
}

// Stop terminates the poll loop
func (p *Poller) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.shutdown)
	wg := p.wg
	p.mu.Unlock()

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Poller", "Stop", "wait for goroutines")
	}

	p.logger.Info("poller stopped")
	return nil
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	p.poll(ctx)

	ticker := time.NewTicker(p.cfg.UpdateInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		}
	}
}

// poll performs one poll cycle. Errors are recorded and retried on the next
// tick; a failed poll never touches the cache.
func (p *Poller) poll(ctx context.Context) {
	outcome, err := p.pollOnce(ctx)
	if err != nil {
		p.mu.Lock()
		p.errorCount++
		p.lastError = err.Error()
		p.mu.Unlock()
		p.logger.Warn("poll failed", "error", err)
		outcome = "error"
	}
	p.metrics.recordPoll(outcome, p.cache.Len(), float64(time.Now().Unix()))
}

func (p *Poller) pollOnce(ctx context.Context) (string, error) {
	// A full load covers enough of the feed to reconcile deletions. It is
	// needed when the cache cannot be trusted to be complete: on the first
	// poll, after a restart with an empty cache, and periodically to catch
	// deletions of spots outside the incremental window.
	isFullLoad := p.cache.Len() == 0 ||
		p.lastFullLoad.IsZero() ||
		time.Since(p.lastFullLoad) > p.cfg.FullLoadInterval.Std()

	numSpots := p.cfg.PeriodicLoadSpots
	if isFullLoad {
		numSpots = p.cfg.FullLoadSpots
	}

	epoch, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (string, error) {
		return p.feed.epoch(ctx)
	})
	if err != nil {
		return "", err
	}
	if epoch == p.lastEpoch {
		return "skipped", nil
	}

	batch, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() ([]feedSpot, error) {
		return p.feed.batch(ctx, numSpots)
	})
	if err != nil {
		return "", err
	}
	if len(batch) < p.cfg.MinBatchSize {
		return "", errors.WrapTransient(errors.ErrBatchTooSmall, "Poller", "pollOnce", "suspiciously small batch")
	}

	p.logger.Debug("loading spots", "count", len(batch), "full", isFullLoad)

	minID := int64(0)
	present := make(map[int64]struct{}, len(batch))
	for _, fs := range batch {
		p.lastEpoch = fs.Epoch

		s, err := normalize(fs)
		if err != nil {
			p.logger.Warn("skipping malformed spot", "id", fs.ID, "error", err)
			continue
		}

		p.applySpot(ctx, s)

		present[s.ID] = struct{}{}
		if minID == 0 || s.ID < minID {
			minID = s.ID
		}
	}

	outcome := "incremental"
	if isFullLoad {
		p.reconcileDeletions(minID, present)
		p.lastFullLoad = time.Now()
		outcome = "full"
	}

	p.expireSpots()
	return outcome, nil
}

// applySpot enriches and upserts one spot, broadcasting on real change
func (p *Poller) applySpot(ctx context.Context, s spot.Spot) {
	// Equality ignores enrichment, so compare before the lookups to avoid
	// hitting the directory for unchanged spots
	if existing, ok := p.cache.Get(s.ID); ok && existing.Equal(s) {
		return
	}

	p.enrich(ctx, &s)

	kind := p.cache.Upsert(s)
	if kind == spot.Unchanged {
		return
	}

	p.metrics.recordEvent(kind.String())
	p.logger.Debug("spot changed", "id", s.ID, "kind", kind.String())
	p.broadcaster.BroadcastAll(wire.Message{Spot: &s})

	if p.publisher != nil {
		if err := p.publisher.PublishSpot(&s); err != nil {
			p.logger.Warn("republish failed", "id", s.ID, "error", err)
		}
	}
}

// enrich merges summit directory data into the spot. Lookup misses leave the
// bare summit code in place.
func (p *Poller) enrich(ctx context.Context, s *spot.Spot) {
	if p.summits == nil {
		return
	}

	summit, err := p.summits.Summit(ctx, s.Summit.Code)
	if err != nil {
		if !errors.IsNotFound(err) {
			p.logger.Warn("summit lookup failed", "code", s.Summit.Code, "error", err)
		}
		return
	}
	s.Summit.Name = summit.Name
	s.Summit.Altitude = summit.Altitude
	s.Summit.Points = summit.Points
	s.Summit.ActivationCount = summit.ActivationCount

	assocCode := spot.AssociationCode(s.Summit.Code)
	if assocCode == "" {
		return
	}
	assoc, err := p.summits.Association(ctx, assocCode)
	if err != nil {
		if !errors.IsNotFound(err) {
			p.logger.Warn("association lookup failed", "code", assocCode, "error", err)
		}
		return
	}
	s.Summit.IsoCode = assoc.IsoCode
	s.Summit.Continent = assoc.Continent
}

// reconcileDeletions removes cached spots that vanished from a full load and
// announces each deletion.
func (p *Poller) reconcileDeletions(minID int64, present map[int64]struct{}) {
	if minID == 0 {
		return
	}
	for _, id := range p.cache.RemoveMissing(minID, present) {
		p.metrics.recordEvent("deleted")
		p.logger.Debug("spot deleted upstream", "id", id)
		p.broadcaster.BroadcastAll(wire.Message{DeleteSpot: &wire.DeleteSpot{ID: id}})

		if p.publisher != nil {
			if err := p.publisher.PublishDelete(id); err != nil {
				p.logger.Warn("republish delete failed", "id", id, "error", err)
			}
		}
	}
}

// expireSpots silently drops overaged spots. Expiry is not a deletion event;
// clients apply the same age bound locally.
func (p *Poller) expireSpots() {
	for _, id := range p.cache.RemoveOlderThan(p.cfg.MaxSpotAge.Std(), time.Now()) {
		p.metrics.recordEvent("expired")
		p.logger.Debug("spot expired", "id", id)
	}
}
