// Conrisk - Contract management with risk and key date analysis.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/conrisk/internal/analysis"
	"github.com/opensource-finance/conrisk/internal/api"
	"github.com/opensource-finance/conrisk/internal/auth"
	"github.com/opensource-finance/conrisk/internal/bus"
	"github.com/opensource-finance/conrisk/internal/cache"
	"github.com/opensource-finance/conrisk/internal/config"
	"github.com/opensource-finance/conrisk/internal/domain"
	"github.com/opensource-finance/conrisk/internal/pipeline"
	"github.com/opensource-finance/conrisk/internal/policy"
	"github.com/opensource-finance/conrisk/internal/repository"
	"github.com/opensource-finance/conrisk/internal/scheduler"
	"github.com/opensource-finance/conrisk/internal/storage"
	"github.com/opensource-finance/conrisk/internal/summary"
	"github.com/opensource-finance/conrisk/internal/throttle"
	"github.com/opensource-finance/conrisk/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file (default: ./config.yaml or /etc/conrisk/config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(config.NewLogger(cfg.Logging))

	slog.Info("starting conrisk",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"storage", cfg.Storage.Type,
		"async", cfg.Analysis.Async,
		"tracing", cfg.Tracing.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize file storage
	store, err := storage.New(cfg.Storage)
	if err != nil {
		slog.Error("failed to initialize file storage", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "type", cfg.Storage.Type)

	// Initialize the analysis engine with configured phrase overrides
	categories, err := analysis.WithOverrides(analysis.DefaultPatterns(), cfg.Analysis.Patterns)
	if err != nil {
		slog.Error("invalid analysis patterns", "error", err)
		os.Exit(1)
	}
	engine, err := analysis.NewEngine(analysis.Options{Categories: categories})
	if err != nil {
		slog.Error("failed to initialize analysis engine", "error", err)
		os.Exit(1)
	}
	slog.Info("analysis engine initialized", "categories", len(categories))

	// Alert policies are loaded per organization on first evaluation
	policies, err := policy.NewEngine(4)
	if err != nil {
		slog.Error("failed to initialize policy engine", "error", err)
		os.Exit(1)
	}

	processor := summary.NewProcessor(cfg.Analysis.AlertLevel)
	slog.Info("summary processor initialized", "alert_level", processor.AlertLevel)

	p, err := pipeline.New(pipeline.Deps{
		Repo:        repo,
		Store:       store,
		Bus:         busImpl,
		Cache:       cacheImpl,
		Engine:      engine,
		Policies:    policies,
		Processor:   processor,
		MaxFileSize: cfg.Upload.MaxFileSize,
	})
	if err != nil {
		slog.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		slog.Error("failed to initialize auth", "error", err)
		os.Exit(1)
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Analysis.Async {
		asyncWorker = worker.NewWorker(busImpl, p)

		workerCfg := worker.Config{
			TenantIDs:   cfg.Analysis.Tenants,
			WorkerCount: cfg.Analysis.WorkerCount,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			os.Exit(1)
		}
		slog.Info("async worker started",
			"tenant_count", len(workerCfg.TenantIDs),
			"workers", workerCfg.WorkerCount,
		)
	}

	// Initialize periodic jobs
	var jobs *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		jobs, err = scheduler.New(repo, busImpl, cfg.Scheduler)
		if err != nil {
			slog.Error("failed to initialize scheduler", "error", err)
			os.Exit(1)
		}
		jobs.Start()
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Store:    store,
		Pipeline: p,
		Policies: policies,
		Auth:     authManager,
		Throttle: throttle.NewService(cacheImpl, cfg.Auth),
		Upload:   cfg.Upload,
		Async:    cfg.Analysis.Async,
		Version:  Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("conrisk is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting requests before draining background work
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if jobs != nil {
		if err := jobs.Stop(shutdownCtx); err != nil {
			slog.Error("failed to stop scheduler", "error", err)
		}
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	slog.Info("conrisk shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 CONRISK                   ║")
	fmt.Println("  ║     Contract Risk & Key Date Analysis     ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /api/auth/register             - Register an organization")
	fmt.Println("    POST   /api/auth/login                - Sign in")
	fmt.Println("    GET    /api/organizations             - Organization and members")
	fmt.Println("    POST   /api/contracts/analyze         - Upload and preview a contract")
	fmt.Println("    POST   /api/contracts                 - Create and analyze a contract")
	fmt.Println("    GET    /api/contracts/{id}            - Contract with risks and key dates")
	fmt.Println("    GET    /api/contracts/{id}/summary    - Risk summary")
	fmt.Println("    POST   /api/contracts/{id}/reanalyze  - Re-run the analysis")
	fmt.Println("    GET    /api/key-dates/upcoming        - Upcoming key dates")
	fmt.Println("    GET    /api/dashboard                 - Dashboard counters")
	fmt.Println("    GET    /api/policies                  - Alert policies")
	fmt.Println("    GET    /health                        - Health check")
	fmt.Println()
}
