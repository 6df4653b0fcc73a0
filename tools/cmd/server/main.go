package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/patrickwarner/adselect/internal/api"
	"github.com/patrickwarner/adselect/internal/config"
	"github.com/patrickwarner/adselect/internal/db"
	"github.com/patrickwarner/adselect/internal/lifecycle"
	"github.com/patrickwarner/adselect/internal/logic"
	"github.com/patrickwarner/adselect/internal/logic/selectors"
	"github.com/patrickwarner/adselect/internal/models"
	"github.com/patrickwarner/adselect/internal/observability"
	"github.com/patrickwarner/adselect/internal/partitioning"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := observability.InitLoggerWithService(cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to sync logger: %v\n", err)
		}
	}()

	if err := run(logger, cfg); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}

func run(logger *zap.Logger, cfg config.Config) error {

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, logger, cfg.ServiceName, cfg.TempoEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer shutdown()
	}

	strategy := partitioning.NewStrategy(cfg.InventoryPartitions)
	store, err := db.InitRedis(ctx, cfg.RedisAddrs, strategy)
	if err != nil {
		return fmt.Errorf("failed to connect redis: %w", err)
	}
	defer store.Close()
	store.Logger = logger
	store.Concurrency = cfg.DeactivationConcurrency

	metricsRegistry := observability.NewPrometheusRegistry()

	// Profiles always live in Redis; inventory may live in either backend.
	var inventory models.ZoneInventoryStore = store
	var pg *db.PostgresInventory
	if cfg.InventoryBackend == config.BackendPostgres {
		pg, err = db.InitPostgres(ctx, cfg.PostgresDSN, cfg.InventoryPartitions,
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)
		if err != nil {
			return fmt.Errorf("failed to connect postgres: %w", err)
		}
		defer pg.Close()
		inventory = pg
	}
	logger.Info("inventory backend selected",
		zap.String("backend", cfg.InventoryBackend),
		zap.Int("partitions", strategy.Partitions))

	breakerCfg := db.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		Logger:           logger,
	}
	zones := db.NewZoneBreaker(inventory, breakerCfg)
	profiles := db.NewProfileBreaker(store, breakerCfg)

	selector := selectors.NewAdSelector(zones, profiles)
	selector.SetLogger(logger)
	selector.SetMetrics(metricsRegistry)
	selector.SetRandomSource(logic.NewRandomSource(cfg.ShuffleSeed))
	selector.SetFrequencyCap(logic.NewFrequencyCap(cfg.FrequencyWindow))
	selector.SetTimeouts(cfg.ZoneFetchTimeout, cfg.ProfileFetchTimeout)

	manager := lifecycle.NewManager(zones, logger, metricsRegistry)
	manager.SetRetry(cfg.DeactivationMaxAttempts, cfg.DeactivationRetryInterval)

	srvDeps := api.NewServer(logger, selector, manager, metricsRegistry, cfg)
	srvDeps.AddHealthCheck("redis", func(ctx context.Context) error {
		return store.Client.Ping(ctx).Err()
	})
	if pg != nil {
		srvDeps.AddHealthCheck("postgres", func(ctx context.Context) error {
			return pg.DB.PingContext(ctx)
		})
	}
	r := srvDeps.Router()

	addr := ":" + cfg.Port

	srv := &http.Server{
		Addr:         addr,
		Handler:      otelhttp.NewHandler(r, "adselect"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	logger.Info("Ad server running", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("listen: %w", err)
		}
	}()

	if cfg.LifecycleChannel != "" {
		go func() {
			if err := manager.Listen(ctx, store.Client, cfg.LifecycleChannel); err != nil {
				logger.Error("lifecycle listener stopped", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}
