package rbn

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
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
	spots chan *spot.RBNSpot
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{spots: make(chan *spot.RBNSpot, 64)}
}

func (f *fakeBroadcaster) BroadcastRBN(s *spot.RBNSpot) {
	f.spots <- s
}

// fakeCluster is a minimal telnet cluster: it expects the login line and then
// replays the given spot lines.
func fakeCluster(t *testing.T, lines []string) (host string, port int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				reader := bufio.NewReader(conn)
				login, err := reader.ReadString('\n')
				if err != nil || !strings.HasPrefix(login, "HB9TEST") {
					_ = conn.Close()
					return
				}
				for _, line := range lines {
					if _, err := fmt.Fprintf(conn, "%s\r\n", line); err != nil {
						break
					}
				}
				// Keep the connection open so the watchdog governs teardown
				time.Sleep(10 * time.Second)
				_ = conn.Close()
			}(conn)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

func testConfig(host string, port int) config.RBNConfig {
	return config.RBNConfig{
		Host:           host,
		Port:           port,
		Login:          "HB9TEST",
		ReadTimeout:    config.Duration(5 * time.Second),
		MaxSpotHistory: 1000,
		MaxSpotAge:     config.Duration(24 * time.Hour),
	}
}

func TestStreamIngestion(t *testing.T) {
	host, port := fakeCluster(t, []string{
		"Welcome to the RBN telnet server",
		"DX de DL1XYZ-#:  14062.0  HB9ABC/P      CW    12 dB  22 WPM  CQ      1434Z",
		"DX de W3LPL-#:    7032.5  GM4ABC        CW    25 dB  18 WPM  CQ      1435Z",
	})

	activators := refdata.NewStatic()
	activators.Activators["HB9ABC"] = true

	broadcaster := newFakeBroadcaster()
	input := New(Deps{
		Config:      testConfig(host, port),
		Broadcaster: broadcaster,
		Activators:  activators,
	})
	require.NoError(t, input.Initialize())
	require.NoError(t, input.Start(context.Background()))
	defer func() { _ = input.Stop(2 * time.Second) }()

	first := receiveSpot(t, broadcaster)
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "HB9ABC/P", first.Callsign)
	assert.Equal(t, "HB9ABC", first.HomeCallsign)
	assert.True(t, first.IsActivator)

	second := receiveSpot(t, broadcaster)
	assert.Equal(t, int64(2), second.ID)
	// GM prefix collapses to the G root
	assert.Equal(t, "G4ABC", second.HomeCallsign)
	assert.False(t, second.IsActivator)

	assert.Equal(t, StateConnected, input.State())
	assert.Equal(t, 2, input.cache.Len())
}

func TestActivatorMatchesRegionalVariant(t *testing.T) {
	host, port := fakeCluster(t, []string{
		// Operator known as MM0XYZ, spotted under the M root after
		// normalization both refer to the same licence
		"DX de DL1XYZ:  14062.0  M0XYZ         CW    12 dB  22 WPM  CQ      1434Z",
	})

	activators := refdata.NewStatic()
	activators.Activators["MM0XYZ"] = true

	broadcaster := newFakeBroadcaster()
	input := New(Deps{
		Config:      testConfig(host, port),
		Broadcaster: broadcaster,
		Activators:  activators,
	})
	require.NoError(t, input.Start(context.Background()))
	defer func() { _ = input.Stop(2 * time.Second) }()

	s := receiveSpot(t, broadcaster)
	assert.True(t, s.IsActivator)
}

func TestWatchdogTriggersReconnect(t *testing.T) {
	host, port := fakeCluster(t, []string{
		"DX de DL1XYZ:  14062.0  HB9ABC        CW    12 dB  22 WPM  CQ      1434Z",
	})

	cfg := testConfig(host, port)
	cfg.ReadTimeout = config.Duration(200 * time.Millisecond)

	broadcaster := newFakeBroadcaster()
	input := New(Deps{Config: cfg, Broadcaster: broadcaster})
	require.NoError(t, input.Start(context.Background()))
	defer func() { _ = input.Stop(2 * time.Second) }()

	receiveSpot(t, broadcaster)

	// The silent connection must expire and be redialed, replaying the line
	s := receiveSpot(t, broadcaster)
	assert.Equal(t, "HB9ABC", s.Callsign)
	assert.GreaterOrEqual(t, input.Health().ErrorCount, 1)
}

func TestHistoryFiltering(t *testing.T) {
	input := New(Deps{
		Config:      testConfig("127.0.0.1", 7000),
		Broadcaster: newFakeBroadcaster(),
	})

	now := time.Now()
	input.cache.Upsert(spot.RBNSpot{ID: 1, Timestamp: now.Add(-2 * time.Hour), HomeCallsign: "HB9XYZ"})
	input.cache.Upsert(spot.RBNSpot{ID: 2, Timestamp: now.Add(-10 * time.Minute), HomeCallsign: "HB9XYZ"})
	input.cache.Upsert(spot.RBNSpot{ID: 3, Timestamp: now.Add(-5 * time.Minute), HomeCallsign: "DL1ABC"})
	input.cache.Upsert(spot.RBNSpot{ID: 4, Timestamp: now.Add(-time.Minute), HomeCallsign: "HB9XYZ", IsActivator: true})

	// Empty filter yields nothing
	assert.Nil(t, input.History(&wire.RBNFilter{}))

	// Callsign filter, default age bound excludes the two hour old spot
	got := input.History(&wire.RBNFilter{HomeCallsign: []string{"HB9XYZ"}})
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[0].ID, "newest spot must come first")
	assert.Equal(t, int64(2), got[1].ID)

	// Tight age bound
	got = input.History(&wire.RBNFilter{HomeCallsign: []string{"HB9XYZ"}, MaxAge: 120000})
	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].ID)

	// Activator filter
	got = input.History(&wire.RBNFilter{IsActivator: true})
	require.Len(t, got, 1)
	assert.Equal(t, int64(4), got[0].ID)
}

func TestHistoryNewestFirst(t *testing.T) {
	input := New(Deps{
		Config:      testConfig("127.0.0.1", 7000),
		Broadcaster: newFakeBroadcaster(),
	})

	now := time.Now()
	input.cache.Upsert(spot.RBNSpot{ID: 1, Timestamp: now.Add(-10 * time.Minute), HomeCallsign: "HB9XYZ"})
	input.cache.Upsert(spot.RBNSpot{ID: 2, Timestamp: now.Add(-time.Minute), HomeCallsign: "HB9XYZ"})

	got := input.History(&wire.RBNFilter{HomeCallsign: []string{"HB9XYZ"}})
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID, "newest spot must come first")
	assert.Equal(t, int64(1), got[1].ID)
}

func TestHistoryBounded(t *testing.T) {
	cfg := testConfig("127.0.0.1", 7000)
	cfg.MaxSpotHistory = 3

	input := New(Deps{Config: cfg, Broadcaster: newFakeBroadcaster()})
	now := time.Now()
	for id := int64(1); id <= 5; id++ {
		input.cache.Upsert(spot.RBNSpot{ID: id, Timestamp: now, HomeCallsign: "HB9XYZ"})
	}

	// The replay is capped independently of the cache size and keeps the
	// newest matches
	got := input.History(&wire.RBNFilter{HomeCallsign: []string{"HB9XYZ"}})
	require.Len(t, got, 3)
	assert.Equal(t, int64(5), got[0].ID)
	assert.Equal(t, int64(3), got[2].ID)
}

func TestInitializeValidation(t *testing.T) {
	base := testConfig("127.0.0.1", 7000)

	testCases := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"missing login", func(d *Deps) { d.Config.Login = "" }},
		{"missing host", func(d *Deps) { d.Config.Host = "" }},
		{"zero read timeout", func(d *Deps) { d.Config.ReadTimeout = 0 }},
		{"missing broadcaster", func(d *Deps) { d.Broadcaster = nil }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			deps := Deps{Config: base, Broadcaster: newFakeBroadcaster()}
			tc.mutate(&deps)
			assert.Error(t, New(deps).Initialize())
		})
	}
}

func TestStopWithoutStart(t *testing.T) {
	input := New(Deps{Config: testConfig("127.0.0.1", 7000), Broadcaster: newFakeBroadcaster()})
	assert.NoError(t, input.Stop(time.Second))
}

func receiveSpot(t *testing.T, b *fakeBroadcaster) *spot.RBNSpot {
	t.Helper()

	select {
	case s := <-b.spots:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for spot")
		return nil
	}
}
