// Command edgequeue-worker runs an edgequeue consumer loop against a
// configured storage adapter, wiring in OpenTelemetry and an optional HTTP
// connectivity poller, then waits for a termination signal.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lattiqo/edgequeue"
	"github.com/lattiqo/edgequeue/internal/config"
	"github.com/lattiqo/edgequeue/internal/network"
	"github.com/lattiqo/edgequeue/internal/storage/memory"
	sqlstorage "github.com/lattiqo/edgequeue/internal/storage/sql"
	"github.com/lattiqo/edgequeue/pkg/observability"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadWorkerConfig()
	if err != nil {
		log.Fatalf("failed to load worker config: %v", err)
	}

	providers, err := observability.Bootstrap(ctx, observability.Config{
		ServiceName:     cfg.Observability.ServiceName,
		Enabled:         cfg.Observability.OTelEnabled,
		ExporterTimeout: cfg.Observability.ExporterTimeout,
		BatchTimeout:    cfg.Observability.BatchTimeout,
		MetricInterval:  cfg.Observability.MetricInterval,
	})
	if err != nil {
		log.Fatalf("failed to bootstrap observability providers: %v", err)
	}
	defer providers.Shutdown(ctx)
	logger := providers.Log
	slog.SetDefault(logger)

	adapter, closeAdapter, err := openAdapter(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to open storage adapter: %v", err)
	}
	defer closeAdapter()

	opts := []edgequeue.Option{
		edgequeue.WithConcurrency(cfg.Concurrency),
		edgequeue.WithLogger(logger),
		edgequeue.WithMeter(providers.Meter.Meter(cfg.Observability.ServiceName)),
	}

	if cfg.ProbeURL != "" {
		poller := network.NewPoller(network.PollerConfig{
			ProbeURL: cfg.ProbeURL,
			Interval: cfg.ProbeInterval,
			Logger:   logger,
		})
		pollerCtx, stopPoller := context.WithCancel(ctx)
		defer stopPoller()
		go poller.Run(pollerCtx)
		opts = append(opts, edgequeue.WithNetworkMonitor(poller))
	}

	queue, err := edgequeue.New(adapter, opts...)
	if err != nil {
		log.Fatalf("failed to construct queue: %v", err)
	}

	if err := queue.Start(ctx); err != nil {
		log.Fatalf("failed to start queue: %v", err)
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.InfoContext(ctx, "edgequeue worker started",
		"driver", cfg.Database.Driver,
		"concurrency", cfg.Concurrency,
		"online_gating", cfg.ProbeURL != "")

	<-sigCtx.Done()
	slog.InfoContext(ctx, "received shutdown signal, draining in-flight jobs",
		"timeout", cfg.ShutdownTimeout)

	queue.Stop()
	time.Sleep(cfg.ShutdownTimeout)
	slog.InfoContext(ctx, "edgequeue worker exited")
}

// openAdapter constructs the storage adapter selected by cfg.Driver. The
// returned close func must be called on shutdown; it is a no-op for the
// in-process memory adapter.
func openAdapter(ctx context.Context, cfg config.DatabaseConfig) (edgequeue.Adapter, func(), error) {
	switch cfg.Driver {
	case "memory":
		return memory.NewStore(), func() {}, nil
	case "postgres":
		store, err := sqlstorage.NewStore(ctx, sqlstorage.DBConfig{
			Driver:          "pgx",
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetime) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTime) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	case "sqlite":
		store, err := sqlstorage.NewStore(ctx, sqlstorage.DBConfig{
			Driver:          "sqlite",
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetime) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTime) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	default:
		log.Fatalf("unknown EDGEQUEUE_DB_DRIVER %q (want memory, postgres, or sqlite)", cfg.Driver)
		return nil, nil, nil
	}
}
