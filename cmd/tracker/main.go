package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethan0sc4r/codmar001/config"
	"github.com/ethan0sc4r/codmar001/fanout"
	"github.com/ethan0sc4r/codmar001/internal/metrics"
	"github.com/ethan0sc4r/codmar001/processor"
	"github.com/ethan0sc4r/codmar001/source"
	"github.com/ethan0sc4r/codmar001/state"
	"github.com/ethan0sc4r/codmar001/watchlist"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "tracker.json", "path to the tracker configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	dedup := state.NewDedupStore(state.DedupConfig{
		Window:        cfg.DedupWindow(),
		TTLMultiplier: cfg.Dedup.TTLMultiplier,
	})
	vessels := state.NewVesselStore(state.VesselConfig{TTL: cfg.VesselTTL()})

	disabledPools := make([]fanout.Pool, 0, len(cfg.WebSocket.DisabledPools))
	for _, pool := range cfg.WebSocket.DisabledPools {
		disabledPools = append(disabledPools, fanout.Pool(pool))
	}
	server := fanout.NewServer(fanout.ServerConfig{
		MaxClients:    cfg.WebSocket.MaxClients,
		MaxClientsGeo: cfg.WebSocket.MaxClientsGeo,
		MaxConnsPerIP: cfg.WebSocket.MaxConnsPerIP,
		RateLimit:     cfg.WebSocket.RateLimit,
		RateWindow:    cfg.RateWindow(),
		SendBuffer:    cfg.WebSocket.SendBuffer,
		AuthToken:     cfg.WebSocket.AuthToken,
		DisabledPools: disabledPools,
	}, logger, m)

	wlRegistry, wlStore := buildWatchlist(cfg, logger, m)
	defer func() {
		if wlStore != nil {
			wlStore.Close()
		}
	}()

	manager, err := source.NewManager(cfg.Sources, logger, m)
	if err != nil {
		logger.Fatal("source setup failed", zap.Error(err))
	}

	proc := processor.New(processor.Config{
		CleanupInterval: cfg.CleanupInterval(),
		BroadcastRaw:    cfg.WebSocket.BroadcastRaw,
	}, dedup, vessels, wlRegistry, wlStore, server, logger, m)

	var wg sync.WaitGroup
	runGoroutine := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}

	runGoroutine(func() { proc.Run(ctx) })
	runGoroutine(func() { manager.Run(ctx, proc) })
	runGoroutine(func() { server.RunHeartbeat(ctx, cfg.Heartbeat()) })

	if wlRegistry != nil && cfg.Watchlist.Enabled {
		if cfg.Watchlist.SyncOnStart {
			runGoroutine(func() {
				report := wlRegistry.Sync(ctx)
				observeSync(m, server, report)
			})
		}
		runGoroutine(func() { runScheduledSync(ctx, wlRegistry, server, m, cfg.SyncInterval()) })
	}

	httpServer := &http.Server{
		Addr: cfg.Server.Listen,
		Handler: server.Handler(fanout.APIConfig{
			Gatherer:   registry,
			ExtraStats: func() map[string]any { return extraStats(proc, manager, vessels, wlRegistry) },
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	runGoroutine(func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
			cancel()
		}
	})

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()
	server.CloseAll()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	wg.Wait()
	logger.Info("stopped")
}

func buildLogger(cfg config.Logging) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// buildWatchlist wires the provider client, the durable store and the
// matching registry. A disabled watchlist still gets a memory store so
// detection recording stays wired.
func buildWatchlist(cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*watchlist.Registry, watchlist.Store) {
	if !cfg.Watchlist.Enabled {
		return nil, watchlist.NewMemoryStore()
	}

	var store watchlist.Store
	if cfg.Watchlist.DBPath != "" {
		bunt, err := watchlist.OpenBuntStore(cfg.Watchlist.DBPath)
		if err != nil {
			logger.Fatal("watchlist store open failed", zap.Error(err))
		}
		store = bunt
	} else {
		store = watchlist.NewMemoryStore()
	}

	client := watchlist.NewClient(watchlist.ClientConfig{
		BaseURL:         cfg.Watchlist.APIURL,
		VesselsEndpoint: cfg.Watchlist.VesselsEndpoint,
		ListsEndpoint:   cfg.Watchlist.ListsEndpoint,
		AuthType:        cfg.Watchlist.AuthType,
		AuthToken:       cfg.Watchlist.AuthToken,
	}, logger)

	registry := watchlist.NewRegistry(client, store, logger, watchlist.RegistryConfig{
		PushUpdates: cfg.Watchlist.PushUpdates,
		Metrics:     m,
	})
	if err := registry.LoadFromStore(); err != nil {
		logger.Warn("watchlist store load failed", zap.Error(err))
	}
	stats := registry.Stats()
	m.WatchlistVessels.Set(float64(stats.MMSIEntries + stats.IMOEntries))
	return registry, store
}

// runScheduledSync syncs on the configured interval and announces each
// outcome to connected subscribers.
func runScheduledSync(ctx context.Context, registry *watchlist.Registry, server *fanout.Server, m *metrics.Metrics, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observeSync(m, server, registry.Sync(ctx))
		}
	}
}

func observeSync(m *metrics.Metrics, server *fanout.Server, report watchlist.SyncReport) {
	if report.Success {
		m.WatchlistSyncs.WithLabelValues("success").Inc()
		m.WatchlistVessels.Set(float64(report.Vessels))
	} else {
		m.WatchlistSyncs.WithLabelValues("failure").Inc()
	}
	server.BroadcastWatchlistSync(report.Vessels, report.Lists, report.Success)
}

func extraStats(proc *processor.Processor, manager *source.Manager, vessels *state.VesselStore, registry *watchlist.Registry) map[string]any {
	stats := map[string]any{
		"pipeline":       proc.Stats(),
		"sources":        manager.Stats(),
		"active_vessels": len(vessels.ActiveVessels()),
	}
	if registry != nil {
		stats["watchlist"] = registry.Stats()
	}
	return stats
}
