// Command coreflow runs the CoreFlow orchestration and pricing API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/coreflow360/core/internal/adapter/erpnext"
	"github.com/coreflow360/core/internal/adapter/fingpt"
	"github.com/coreflow360/core/internal/adapter/finrobot"
	cfhttp "github.com/coreflow360/core/internal/adapter/http"
	cfnats "github.com/coreflow360/core/internal/adapter/nats"
	cfotel "github.com/coreflow360/core/internal/adapter/otel"
	"github.com/coreflow360/core/internal/adapter/postgres"
	"github.com/coreflow360/core/internal/adapter/ristretto"
	"github.com/coreflow360/core/internal/config"
	"github.com/coreflow360/core/internal/logger"
	"github.com/coreflow360/core/internal/middleware"
	"github.com/coreflow360/core/internal/service"
)

const serviceName = "coreflow-core"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"catalog", cfg.Catalog.Path,
		"downgrade_policy", cfg.Ledger.DowngradePolicy,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownMeter, err := cfotel.InitMeter(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMeter(shutdownCtx)
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	publisher, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = publisher.Close() }()

	cache, err := ristretto.New(cfg.Cache.MaxSizeBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// --- Backends and gateway ---

	gateway := service.NewGateway(*cfg, publisher, log)
	gateway.Register(fingpt.NewClient(cfg.Backends.FinGPT), cfg.Backends.FinGPT.APIKeyEnv)
	gateway.Register(finrobot.NewClient(cfg.Backends.FinRobot), cfg.Backends.FinRobot.APIKeyEnv)
	gateway.Register(erpnext.NewClient(cfg.Backends.ERPNext), cfg.Backends.ERPNext.APIKeyEnv)

	// --- Catalog and services ---

	registry, err := service.LoadRegistry(cfg.Catalog.Path, gateway.BackendIDs())
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	slog.Info("catalog loaded", "bundles", len(registry.Bundles()))

	store := postgres.NewStore(pool)
	entitlements := service.NewEntitlementService(store, registry, cache, publisher, log, *cfg)
	ledger := service.NewLedgerService(store, registry, entitlements, publisher, log)
	orchestrator := service.NewOrchestrator(registry, entitlements, ledger, gateway, log, cfg.Ledger.InvokeTimeout)

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Orchestrator: orchestrator,
		Entitlements: entitlements,
		Ledger:       ledger,
		Gateway:      gateway,
		Registry:     registry,
		Metrics:      metrics,
		Ready:        pool.Ping,
	}

	r := chi.NewRouter()
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cfotel.HTTPMiddleware(serviceName))

	cfhttp.MountRoutes(r, handlers, cfg.Webhook)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return gateway.RunHealthLoop(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
