// Package main implements the entry point for the sotlas-api service: it
// aggregates SOTA spots from the polled SOTAwatch feed and the Reverse
// Beacon Network stream and fans them out to websocket subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/manuelkasper/sotlas-api/component"
	"github.com/manuelkasper/sotlas-api/config"
	"github.com/manuelkasper/sotlas-api/hub"
	"github.com/manuelkasper/sotlas-api/input/rbn"
	"github.com/manuelkasper/sotlas-api/input/sotawatch"
	"github.com/manuelkasper/sotlas-api/metric"
	"github.com/manuelkasper/sotlas-api/natsclient"
	"github.com/manuelkasper/sotlas-api/output/natspub"
	"github.com/manuelkasper/sotlas-api/refdata"
)

// Build information constants
const (
	Version = "1.0.0"
	appName = "sotlas-api"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		flag.PrintDefaults()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.NewLoader().LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("starting", "config", cliCfg.ConfigPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	var metricsRegistry *metric.MetricsRegistry
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsRegistry = metric.NewMetricsRegistry()
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() { _ = metricsServer.Stop(5 * time.Second) }()
	}

	// NATS: reference data lookups and the republish bridge. The service
	// runs degraded without it.
	var natsClient *natsclient.Client
	var summits refdata.SummitLookup
	var activators refdata.ActivatorSet
	if cfg.NATS.Enabled {
		natsClient = natsclient.NewClient(cfg.NATS.URL,
			natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
			natsclient.WithToken(cfg.NATS.Token),
			natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
			natsclient.WithReconnectWait(cfg.NATS.ReconnectWait.Std()),
			natsclient.WithName(appName),
			natsclient.WithLogger(logger),
		)
		connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
		err := natsClient.Connect(connectCtx)
		connectCancel()
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer natsClient.Close()

		lookup, err := refdata.NewKVLookup(ctx, natsClient, refdata.KVBuckets{
			Summits:      cfg.RefData.SummitsBucket,
			Associations: cfg.RefData.AssociationsBucket,
			Activators:   cfg.RefData.ActivatorsBucket,
		})
		if err != nil {
			return fmt.Errorf("bind reference data: %w", err)
		}
		summits = lookup
		activators = lookup
	}

	publisher := natspub.New(natsClient, cfg.Publish, logger)

	// Components, wired explicitly. The hub starts first so ingestors never
	// broadcast into nothing; shutdown runs in reverse.
	subscriberHub := hub.New(hub.Deps{
		Config:          cfg.HTTP,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})

	poller := sotawatch.New(sotawatch.Deps{
		Config:          cfg.SotaSpots,
		Broadcaster:     subscriberHub,
		Summits:         summits,
		Publisher:       pollerPublisher(publisher),
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})

	rbnInput := rbn.New(rbn.Deps{
		Config:          cfg.RBN,
		Broadcaster:     subscriberHub,
		Activators:      activators,
		Publisher:       rbnPublisher(publisher),
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})

	subscriberHub.SetSnapshotProvider(poller.Snapshot)
	subscriberHub.SetHistoryProvider(rbnInput.History)

	components := []component.LifecycleComponent{subscriberHub, poller, rbnInput}
	for _, c := range components {
		if err := c.Initialize(); err != nil {
			return fmt.Errorf("initialize: %w", err)
		}
	}

	started := make([]component.LifecycleComponent, 0, len(components))
	for _, c := range components {
		if err := c.Start(ctx); err != nil {
			stopAll(started, cliCfg.ShutdownTimeout, logger)
			return fmt.Errorf("start: %w", err)
		}
		started = append(started, c)
	}

	logger.Info("service started",
		"ws_addr", fmt.Sprintf("%s:%d%s", cfg.HTTP.Host, cfg.HTTP.Port, cfg.HTTP.Path))

	// Block until a termination signal arrives
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	cancel()
	stopAll(started, cliCfg.ShutdownTimeout, logger)
	return nil
}

// stopAll stops components in reverse start order
func stopAll(components []component.LifecycleComponent, timeout time.Duration, logger *slog.Logger) {
	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		if err := c.Stop(timeout); err != nil {
			logger.Warn("component stop failed", "component", c.(component.Discoverable).Meta().Name, "error", err)
		}
	}
}

// pollerPublisher adapts the nil-able publisher to the poller's interface.
// A typed nil must become an untyped nil for the ingestor's nil check.
func pollerPublisher(p *natspub.Publisher) sotawatch.Publisher {
	if p == nil {
		return nil
	}
	return p
}

func rbnPublisher(p *natspub.Publisher) rbn.Publisher {
	if p == nil {
		return nil
	}
	return p
}
