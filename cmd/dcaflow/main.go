// Command dcaflow launches the DCAFlow execution daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/dcaflow/internal/config"
	"github.com/coachpo/dcaflow/internal/engine"
	"github.com/coachpo/dcaflow/internal/infra/persistence"
	"github.com/coachpo/dcaflow/internal/infra/persistence/migrations"
	"github.com/coachpo/dcaflow/internal/infra/persistence/postgres"
	"github.com/coachpo/dcaflow/internal/ledger"
	"github.com/coachpo/dcaflow/internal/market"
	"github.com/coachpo/dcaflow/internal/observability"
	"github.com/coachpo/dcaflow/internal/schedule"
	httpserver "github.com/coachpo/dcaflow/internal/server/http"
	"github.com/coachpo/dcaflow/internal/strategy"
	"github.com/coachpo/dcaflow/internal/swap"
	"github.com/coachpo/dcaflow/lib/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	daemonLoggerPrefix       = "dcaflow "
	meterName                = "dcaflow"
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 5 * time.Second
	lifecycleShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	serverReadHeaderTimeout  = 5 * time.Second
	dueScanInterval          = 2 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := log.New(os.Stdout, daemonLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
	observability.SetLogger(observability.StdLogger{Out: logger})

	appCfg, loadedFromFile, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, assets=%d, pairs=%d",
		appCfg.Environment, len(appCfg.Assets), len(appCfg.Pairs))

	telemetryShutdown, err := initTelemetry(ctx, logger, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialise telemetry: %v", err)
	}

	registry := buildRegistry(appCfg)

	var lifecycle conc.WaitGroup
	oracle := buildOracle(ctx, logger, appCfg.Oracle, &lifecycle)

	balances := ledger.New()
	store := strategy.NewStore(strategy.Limits{
		MinExecutionAmount: appCfg.Engine.MinExecutionAmount,
		MaxSlippageBps:     appCfg.Engine.MaxSlippageBps,
	}, balances, registry, registry)
	executor := swap.NewExecutor(oracle, registry)
	clock := schedule.NewTickClock(appCfg.Engine.StartTick)

	recorder, pool, err := initPersistence(ctx, logger, appCfg.Database, store, balances)
	if err != nil {
		logger.Fatalf("initialise persistence: %v", err)
	}

	controller := engine.NewController(engine.Config{
		PlatformAccount:    appCfg.Engine.PlatformAccount,
		PlatformFeeRateBps: appCfg.Engine.PlatformFeeRateBps,
		MaxBatchSize:       appCfg.Engine.MaxBatchSize,
		Paused:             appCfg.Engine.Paused,
	}, store, balances, executor, oracle, clock, recorder)
	gateway := engine.NewGateway(balances, market.NoopTransfer{}, appCfg.Engine.PlatformAccount, recorder)

	startDueExecutor(ctx, &lifecycle, controller, logger)

	server := &http.Server{
		Addr:              appCfg.Server.ListenAddress,
		Handler:           httpserver.NewHandler(store, controller, gateway, clock),
		ReadHeaderTimeout: serverReadHeaderTimeout,
	}
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("control server: %v", err)
		}
	})
	logger.Printf("control API listening on %s", server.Addr)

	logger.Print("daemon started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:            server,
		mainCancel:        cancel,
		lifecycle:         &lifecycle,
		pool:              pool,
		telemetryShutdown: telemetryShutdown,
	})
	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() string {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()
	if *cfgPath != "" {
		return *cfgPath
	}
	return filepath.Clean(defaultConfigPath)
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func initTelemetry(ctx context.Context, logger *log.Logger, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	_, shutdown, err := telemetry.Init(ctx, cfg)
	if err != nil {
		return nil, err
	}
	observability.SetMetrics(observability.NewOtelMetrics(meterName))
	if cfg.OTLPEndpoint != "" {
		logger.Printf("telemetry initialised: endpoint=%s, service=%s", cfg.OTLPEndpoint, cfg.ServiceName)
	} else {
		logger.Print("telemetry exporter disabled")
	}
	return shutdown, nil
}

func buildRegistry(cfg config.AppConfig) *market.MemoryRegistry {
	registry := market.NewMemoryRegistry()
	for _, asset := range cfg.Assets {
		registry.AddAsset(asset)
	}
	for _, pair := range cfg.Pairs {
		registry.AddPair(market.Pair{
			AssetIn:    pair.AssetIn,
			AssetOut:   pair.AssetOut,
			FeeRateBps: pair.FeeRateBps,
			Active:     pair.Active,
		})
	}
	return registry
}

// buildOracle prefers the streaming feed, falls back to polling over HTTP, and
// otherwise serves only prices pushed through the in-memory cache.
func buildOracle(ctx context.Context, logger *log.Logger, cfg config.OracleConfig, lifecycle *conc.WaitGroup) market.Oracle {
	switch {
	case cfg.FeedEndpoint != "":
		cache := market.NewMemoryOracle()
		feed := market.NewPriceFeed(cfg.FeedEndpoint, cache, cfg.PriceScale)
		lifecycle.Go(func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Printf("price feed stopped: %v", err)
			}
		})
		logger.Printf("price feed subscribed: %s", cfg.FeedEndpoint)
		return cache
	case cfg.HTTPEndpoint != "":
		logger.Printf("price oracle polling: %s", cfg.HTTPEndpoint)
		return market.NewHTTPOracle(cfg.HTTPEndpoint,
			market.WithPriceScale(cfg.PriceScale),
			market.WithRequestsPerSecond(cfg.RequestsPerSecond))
	default:
		logger.Print("no oracle endpoint configured; using empty in-memory oracle")
		return market.NewMemoryOracle()
	}
}

func initPersistence(ctx context.Context, logger *log.Logger, cfg config.DatabaseConfig, store *strategy.Store, balances *ledger.Ledger) (engine.Recorder, *pgxpool.Pool, error) {
	if cfg.DSN == "" {
		logger.Print("no database configured; running memory-only")
		return nil, nil, nil
	}

	if cfg.MigrationsDir != "" {
		if err := migrations.Apply(ctx, cfg.DSN, cfg.MigrationsDir); err != nil {
			return nil, nil, fmt.Errorf("apply migrations: %w", err)
		}
	} else {
		if err := migrations.ApplyEmbedded(ctx, cfg.DSN); err != nil {
			return nil, nil, fmt.Errorf("apply embedded migrations: %w", err)
		}
	}

	pool, err := persistence.Connect(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	pgStore := postgres.NewStore(pool)

	records, err := pgStore.LoadStrategies(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("hydrate strategies: %w", err)
	}
	store.Restore(records)
	entries, err := pgStore.LoadBalances(ctx)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("hydrate balances: %w", err)
	}
	balances.Restore(entries)
	logger.Printf("state hydrated: strategies=%d, balances=%d", len(records), len(entries))
	return pgStore, pool, nil
}

// startDueExecutor scans for due strategies on a fixed cadence and runs them
// as a batch. Per-item failures are already counted and logged by the engine.
func startDueExecutor(ctx context.Context, lifecycle *conc.WaitGroup, controller *engine.Controller, logger *log.Logger) {
	lifecycle.Go(func() {
		ticker := time.NewTicker(dueScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			due := controller.DueStrategies()
			if len(due) == 0 {
				continue
			}
			items, err := controller.ExecuteBatch(ctx, due)
			if err != nil {
				logger.Printf("due batch rejected: %v", err)
				continue
			}
			executed := 0
			for _, item := range items {
				if item.Err == nil {
					executed++
				}
			}
			logger.Printf("due scan executed %d/%d strategies", executed, len(items))
		}
	})
}

type gracefulShutdownConfig struct {
	server            *http.Server
	mainCancel        context.CancelFunc
	lifecycle         *conc.WaitGroup
	pool              *pgxpool.Pool
	telemetryShutdown func(context.Context) error
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping control server", serverShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for lifecycle goroutines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.pool != nil {
		logger.Print("shutdown: closing database pool")
		cfg.pool.Close()
	}

	if cfg.telemetryShutdown != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetryShutdown)
	}
}
