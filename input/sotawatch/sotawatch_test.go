package sotawatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuelkasper/sotlas-api/config"
	"github.com/manuelkasper/sotlas-api/refdata"
	"github.com/manuelkasper/sotlas-api/spot"
	"github.com/manuelkasper/sotlas-api/wire"
)

type fakeBroadcaster struct {
	messages []wire.Message
}

func (f *fakeBroadcaster) BroadcastAll(msg wire.Message) {
	f.messages = append(f.messages, msg)
}

func (f *fakeBroadcaster) reset() { f.messages = nil }

func (f *fakeBroadcaster) spots() []wire.Message {
	var out []wire.Message
	for _, m := range f.messages {
		if m.Spot != nil {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeBroadcaster) deletes() []int64 {
	var out []int64
	for _, m := range f.messages {
		if m.DeleteSpot != nil {
			out = append(out, m.DeleteSpot.ID)
		}
	}
	return out
}

// fakeFeed serves the epoch and batch endpoints of the upstream API
type fakeFeed struct {
	epoch        atomic.Value // string
	batch        atomic.Value // []map[string]any
	batchFetches atomic.Int32
	server       *httptest.Server
}

func newFakeFeed(t *testing.T) *fakeFeed {
	t.Helper()

	f := &fakeFeed{}
	f.epoch.Store("e1")
	f.batch.Store([]map[string]any{})

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/epoch") {
			fmt.Fprintf(w, "%q", f.epoch.Load().(string))
			return
		}
		f.batchFetches.Add(1)
		_ = json.NewEncoder(w).Encode(f.batch.Load())
	}))
	t.Cleanup(f.server.Close)
	return f
}

func feedRecord(id int64, ts time.Time, mutate func(map[string]any)) map[string]any {
	rec := map[string]any{
		"id":                id,
		"userID":            55,
		"timeStamp":         ts.UTC().Format("2006-01-02T15:04:05"),
		"comments":          "cq cq",
		"callsign":          "HB9DQM",
		"activatorCallsign": "hb9xyz/p",
		"summitCode":        "hb/zh-015 ",
		"frequency":         14.062,
		"mode":              "cw",
		"epoch":             "e1",
	}
	if mutate != nil {
		mutate(rec)
	}
	return rec
}

func newTestPoller(t *testing.T, feed *fakeFeed, broadcaster *fakeBroadcaster, summits refdata.SummitLookup) *Poller {
	t.Helper()

	p := New(Deps{
		Config: config.SotaSpotsConfig{
			URL:               feed.server.URL,
			UpdateInterval:    config.Duration(30 * time.Second),
			FullLoadInterval:  config.Duration(5 * time.Minute),
			FullLoadSpots:     100,
			PeriodicLoadSpots: 20,
			MaxSpotAge:        config.Duration(24 * time.Hour),
			MinBatchSize:      1,
		},
		Broadcaster: broadcaster,
		Summits:     summits,
	})
	require.NoError(t, p.Initialize())
	return p
}

func TestInitialFullLoad(t *testing.T) {
	feed := newFakeFeed(t)
	now := time.Now()
	feed.batch.Store([]map[string]any{
		feedRecord(2, now, nil),
		feedRecord(1, now, func(r map[string]any) { r["comments"] = "(null)" }),
	})

	summits := refdata.NewStatic()
	summits.Summits["HB/ZH-015"] = &refdata.Summit{Code: "HB/ZH-015", Name: "Uetliberg", Altitude: 869, Points: 1}
	summits.Associations["HB"] = &refdata.Association{Code: "HB", IsoCode: "CH", Continent: "EU"}

	broadcaster := &fakeBroadcaster{}
	p := newTestPoller(t, feed, broadcaster, summits)

	outcome, err := p.pollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "full", outcome)

	require.Len(t, broadcaster.spots(), 2)

	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, int64(1), snap[0].ID)
	// Normalization
	assert.Equal(t, "HB9XYZ/P", snap[0].ActivatorCallsign)
	assert.Equal(t, "HB/ZH-015", snap[0].Summit.Code)
	assert.Empty(t, snap[0].Comments)
	// Enrichment
	assert.Equal(t, "Uetliberg", snap[0].Summit.Name)
	assert.Equal(t, "CH", snap[0].Summit.IsoCode)
	assert.Equal(t, "EU", snap[0].Summit.Continent)
}

func TestRepeatedBatchIsIdempotent(t *testing.T) {
	feed := newFakeFeed(t)
	now := time.Now()
	feed.batch.Store([]map[string]any{feedRecord(1, now, nil)})

	broadcaster := &fakeBroadcaster{}
	p := newTestPoller(t, feed, broadcaster, nil)

	_, err := p.pollOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, broadcaster.messages, 1)

	// Same batch under a new epoch must produce zero events
	broadcaster.reset()
	feed.epoch.Store("e2")
	_, err = p.pollOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, broadcaster.messages)
}

func TestUnchangedEpochSkipsBatchFetch(t *testing.T) {
	feed := newFakeFeed(t)
	feed.batch.Store([]map[string]any{feedRecord(1, time.Now(), nil)})

	broadcaster := &fakeBroadcaster{}
	p := newTestPoller(t, feed, broadcaster, nil)

	_, err := p.pollOnce(context.Background())
	require.NoError(t, err)
	fetches := feed.batchFetches.Load()

	outcome, err := p.pollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "skipped", outcome)
	assert.Equal(t, fetches, feed.batchFetches.Load())
}

func TestCoreFieldChangeBroadcastsUpdate(t *testing.T) {
	feed := newFakeFeed(t)
	now := time.Now()
	feed.batch.Store([]map[string]any{feedRecord(1, now, nil)})

	broadcaster := &fakeBroadcaster{}
	p := newTestPoller(t, feed, broadcaster, nil)

	_, err := p.pollOnce(context.Background())
	require.NoError(t, err)

	broadcaster.reset()
	feed.epoch.Store("e2")
	feed.batch.Store([]map[string]any{
		feedRecord(1, now, func(r map[string]any) { r["comments"] = "QRT" }),
	})

	_, err = p.pollOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, broadcaster.spots(), 1)
	assert.Equal(t, "QRT", broadcaster.spots()[0].Spot.Comments)
	assert.Equal(t, 1, p.cache.Len())
}

func TestFullLoadReconcilesDeletions(t *testing.T) {
	feed := newFakeFeed(t)
	now := time.Now()
	feed.batch.Store([]map[string]any{
		feedRecord(10, now, nil),
		feedRecord(11, now, nil),
		feedRecord(12, now, nil),
	})

	broadcaster := &fakeBroadcaster{}
	p := newTestPoller(t, feed, broadcaster, nil)

	_, err := p.pollOnce(context.Background())
	require.NoError(t, err)

	// Spot 5 predates the reload window and must survive reconciliation
	p.cache.Upsert(mustSpot(t, feedRecord(5, now, nil)))

	// Force another full load with spot 11 gone
	broadcaster.reset()
	p.lastFullLoad = time.Time{}
	feed.epoch.Store("e2")
	feed.batch.Store([]map[string]any{
		feedRecord(10, now, nil),
		feedRecord(12, now, nil),
	})

	outcome, err := p.pollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "full", outcome)

	assert.Equal(t, []int64{11}, broadcaster.deletes())
	_, ok := p.cache.Get(5)
	assert.True(t, ok)
}

func TestIncrementalLoadSkipsReconciliation(t *testing.T) {
	feed := newFakeFeed(t)
	now := time.Now()
	feed.batch.Store([]map[string]any{
		feedRecord(10, now, nil),
		feedRecord(11, now, nil),
	})

	broadcaster := &fakeBroadcaster{}
	p := newTestPoller(t, feed, broadcaster, nil)

	_, err := p.pollOnce(context.Background())
	require.NoError(t, err)

	// Next poll is incremental: spot 10 missing from the batch is not deleted
	broadcaster.reset()
	feed.epoch.Store("e2")
	feed.batch.Store([]map[string]any{feedRecord(11, now, nil)})

	outcome, err := p.pollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "incremental", outcome)
	assert.Empty(t, broadcaster.deletes())
	assert.Equal(t, 2, p.cache.Len())
}

func TestExpiryDropsSpotsSilently(t *testing.T) {
	feed := newFakeFeed(t)
	now := time.Now()
	feed.batch.Store([]map[string]any{
		feedRecord(1, now.Add(-25*time.Hour), nil),
		feedRecord(2, now, nil),
	})

	broadcaster := &fakeBroadcaster{}
	p := newTestPoller(t, feed, broadcaster, nil)

	_, err := p.pollOnce(context.Background())
	require.NoError(t, err)

	// Both spots were broadcast on creation, but only the young one survives
	// and no deleteSpot is emitted for the expired one
	assert.Empty(t, broadcaster.deletes())
	assert.Equal(t, 1, p.cache.Len())
	_, ok := p.cache.Get(2)
	assert.True(t, ok)
}

func TestSuspiciouslySmallBatchRejected(t *testing.T) {
	feed := newFakeFeed(t)
	feed.batch.Store([]map[string]any{})

	broadcaster := &fakeBroadcaster{}
	p := newTestPoller(t, feed, broadcaster, nil)

	_, err := p.pollOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, p.cache.Len())
}

func TestSummitLookupMissKeepsBareCode(t *testing.T) {
	feed := newFakeFeed(t)
	feed.batch.Store([]map[string]any{feedRecord(1, time.Now(), nil)})

	broadcaster := &fakeBroadcaster{}
	p := newTestPoller(t, feed, broadcaster, refdata.NewStatic())

	_, err := p.pollOnce(context.Background())
	require.NoError(t, err)

	snap := p.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "HB/ZH-015", snap[0].Summit.Code)
	assert.Empty(t, snap[0].Summit.Name)
}

func TestLifecycle(t *testing.T) {
	feed := newFakeFeed(t)
	feed.batch.Store([]map[string]any{feedRecord(1, time.Now(), nil)})

	broadcaster := &fakeBroadcaster{}
	p := newTestPoller(t, feed, broadcaster, nil)

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))

	require.Eventually(t, func() bool { return p.cache.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, p.Stop(2*time.Second))
	assert.NoError(t, p.Stop(2*time.Second))
}

func mustSpot(t *testing.T, rec map[string]any) spot.Spot {
	t.Helper()

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	var fs feedSpot
	require.NoError(t, json.Unmarshal(data, &fs))
	out, err := normalize(fs)
	require.NoError(t, err)
	return out
}
