// Package app wires the pricing worker together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-pricing/internal/domain/discount"
	"github.com/xenking/storefront-pricing/internal/reconcile"
	"github.com/xenking/storefront-pricing/internal/storage/postgres"
	"github.com/xenking/storefront-pricing/pkg/health"
	"github.com/xenking/storefront-pricing/pkg/httpmiddleware"
)

var (
	_ reconcile.Store        = (*postgres.Store)(nil)
	_ discount.TxRunner      = (*postgres.Store)(nil)
	_ reconcile.Synchronizer = (*discount.Synchronizer)(nil)
	_ reconcile.Lock         = (*postgres.AdvisoryLock)(nil)
)

// Telemetry provides tracing and metrics. It is satisfied by the
// go-faster/sdk app.Telemetry.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

// Run creates all dependencies, starts the reconcile loop and the probe
// server, and handles graceful shutdown.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.Duration("reconcile_interval", cfg.Reconcile.Interval),
	)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store := postgres.NewStore(pool, m.TracerProvider())
	metrics, err := reconcile.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create reconcile metrics")
	}
	reconciler, err := reconcile.NewReconciler(reconcile.ReconcilerParams{
		Store:     store,
		Runner:    store,
		Sync:      discount.NewSynchronizer(),
		Metrics:   metrics,
		BatchSize: cfg.Reconcile.BatchSize,
	})
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(store.Ping))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	lock, closeLock, err := newLock(cfg, pool, healthSvc)
	if err != nil {
		return err
	}
	defer closeLock()

	svc, err := reconcile.NewService(reconcile.ServiceParams{
		Runner:   reconciler,
		Lock:     lock,
		Interval: cfg.Reconcile.Interval,
	})
	if err != nil {
		return errors.Wrap(err, "create reconcile service")
	}
	// Allow for the first run plus one interval before reporting staleness.
	healthSvc.AddLivenessCheck("reconcile", time.Second,
		health.FreshnessCheck(svc.LastSuccess, cfg.Reconcile.StaleAfter, cfg.Reconcile.StaleAfter+svc.Interval()),
		health.WithFailureThreshold(1),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(healthSvc.Handler(), "probe",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.LogRequests(),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := svc.Run(gCtx); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "reconcile service")
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Probe server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "probe server")
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gCtx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down probe server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Probe server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}

// newLock picks the Redis lock when Redis is configured and the PostgreSQL
// advisory lock otherwise. The returned func closes the Redis client.
func newLock(cfg *Config, pool *pgxpool.Pool, h *health.Health) (reconcile.Lock, func(), error) {
	if cfg.Redis.Addr == "" {
		return postgres.NewAdvisoryLock(pool, cfg.Redis.LockKey), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	h.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))

	lock, err := reconcile.NewRedisLock(client, cfg.Redis.LockKey, cfg.Redis.LockTTL)
	if err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "create redis lock")
	}
	return lock, func() { _ = client.Close() }, nil
}
