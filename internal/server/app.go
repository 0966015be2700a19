// Package server wires the homesync server: the authoritative store, the
// sync gRPC endpoint, the operational HTTP endpoint and the tombstone
// sweeper, and runs them until the context ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/homesync/internal/archive"
	"github.com/dmitrijs2005/homesync/internal/common"
	"github.com/dmitrijs2005/homesync/internal/domain"
	"github.com/dmitrijs2005/homesync/internal/logging"
	"github.com/dmitrijs2005/homesync/internal/mutation"
	"github.com/dmitrijs2005/homesync/internal/reconcile"
	"github.com/dmitrijs2005/homesync/internal/server/config"
	"github.com/dmitrijs2005/homesync/internal/server/httpserver"
	"github.com/dmitrijs2005/homesync/internal/store"
	"github.com/dmitrijs2005/homesync/internal/store/memory"
	"github.com/dmitrijs2005/homesync/internal/store/postgres"
	"github.com/dmitrijs2005/homesync/internal/store/sqlite"
	"github.com/dmitrijs2005/homesync/internal/store/sqlstore"
	"github.com/dmitrijs2005/homesync/internal/telemetry"
	"github.com/dmitrijs2005/homesync/internal/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	gs "github.com/dmitrijs2005/homesync/internal/server/grpc"
)

const serviceName = "homesync-server"

type App struct {
	config          *config.Config
	logger          logging.Logger
	registry        *prometheus.Registry
	backend         store.Store
	store           store.Store
	grpc            *gs.GRPCServer
	sweeper         *mutation.Sweeper
	shutdownTracing func(context.Context) error
}

// NewApp opens the store and builds every component. The caller must
// Close the app.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(os.Stdout, "json", c.LogLevel)

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, c.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry init error: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	backend, err := openStore(ctx, c)
	if err != nil {
		_ = shutdownTracing(ctx)
		return nil, fmt.Errorf("db init error: %w", err)
	}
	st := store.Instrument(backend, c.StoreDriver, store.NewMetrics(registry), otel.GetTracerProvider())

	guard := tenant.NewGuard(st)
	manager := mutation.NewManager(guard,
		mutation.WithLogger(logger),
		mutation.WithCanonicalizer(domain.Canonicalize),
		mutation.WithValidator(domain.Validate),
	)
	reconciler := reconcile.New(guard,
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(reconcile.NewMetrics(registry)),
	)

	sweepOpts := []mutation.SweepOption{
		mutation.WithBatch(c.SweepBatch),
		mutation.WithSweepLogger(logger),
	}
	if c.S3Bucket != "" {
		client, err := archive.NewS3Client(ctx, archive.S3Config{
			Region:       c.S3Region,
			AccessKey:    c.S3RootUser,
			SecretKey:    c.S3RootPassword,
			BaseEndpoint: c.S3BaseEndpoint,
			Bucket:       c.S3Bucket,
			Prefix:       c.S3Prefix,
		})
		if err != nil {
			_ = backend.Close()
			_ = shutdownTracing(ctx)
			return nil, fmt.Errorf("archive init error: %w", err)
		}
		sweepOpts = append(sweepOpts, mutation.WithArchiver(archive.NewS3Archiver(client, c.S3Bucket, c.S3Prefix)))
	}

	server := gs.NewGRPCServer(c.EndpointAddrGRPC, logger, st, manager, reconciler, c.SecretKey,
		gs.WithServerOptions(grpc.StatsHandler(otelgrpc.NewServerHandler())),
	)

	return &App{
		config:          c,
		logger:          logger,
		registry:        registry,
		backend:         backend,
		store:           st,
		grpc:            server,
		sweeper:         mutation.NewSweeper(st, c.TombstoneRetention, sweepOpts...),
		shutdownTracing: shutdownTracing,
	}, nil
}

func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.StoreDriver {
	case config.DriverPostgres:
		return postgres.Open(ctx, c.DatabaseDSN, sqlstore.WithOpTimeout(c.StoreTimeout))
	case config.DriverSQLite:
		return sqlite.Open(ctx, c.DatabaseDSN, sqlstore.WithOpTimeout(c.StoreTimeout))
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
}

// ready checks the backend with a point read.
func (app *App) ready(ctx context.Context) error {
	_, err := app.backend.Get(ctx, "_health", "ping")
	if err == nil || errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	return err
}

// Run serves until ctx ends or a component fails, then stops the others.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...", "store", app.config.StoreDriver)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.grpc.Run(ctx)
	})

	if app.config.EndpointAddrHTTP != "" {
		srv := httpserver.New(app.config.EndpointAddrHTTP, httpserver.NewRouter(app.registry, app.ready))
		g.Go(func() error {
			return httpserver.Run(ctx, srv, app.logger)
		})
	}

	if app.config.SweepInterval > 0 {
		g.Go(func() error {
			app.sweepLoop(ctx)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (app *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(app.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := app.sweeper.Sweep(ctx, domain.Kinds())
			if err != nil && ctx.Err() == nil {
				app.logger.Error(ctx, "tombstone sweep failed", "error", err)
				continue
			}
			app.logger.Info(ctx, "tombstone sweep done", "purged", purged)
		}
	}
}

// Close releases the store and flushes traces.
func (app *App) Close(ctx context.Context) error {
	return errors.Join(app.store.Close(), app.shutdownTracing(ctx))
}
