// Kestrel - Fraud alert triage for bank transfers.
// Copyright (c) 2026 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/kestrel/internal/alerting"
	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/casestore"
	"github.com/opensource-finance/kestrel/internal/classify"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/investigation"
	"github.com/opensource-finance/kestrel/internal/monitoring"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("KESTREL_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Log startup
	slog.Info("starting kestrel",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()

	// Check for Pro tier via environment
	if os.Getenv("KESTREL_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
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

	// Initialize the classifier with the built-in signal set.
	// Additional signals can be added via POST /signals.
	engine, err := classify.NewEngine(cfg.Pipeline.FlaggedThreshold, cfg.Pipeline.InvestigateThreshold, 100)
	if err != nil {
		slog.Error("failed to initialize classifier", "error", err)
		os.Exit(1)
	}
	if err := engine.LoadSignals(classify.DefaultSignals()); err != nil {
		slog.Error("failed to load signals", "error", err)
		os.Exit(1)
	}
	slog.Info("classifier initialized", "signals_count", engine.SignalsCount())

	// Initialize the case store
	store := casestore.NewStore(repo)
	slog.Info("case store initialized")

	// Evidence sources read the repository through the cache
	sources := investigation.NewStoreSources(repo, cacheImpl, cfg.Pipeline.BeneficiaryWindow)

	// Classifier timeouts retry with backoff before an alert stalls
	classifier := classify.WithRetry(engine, classify.RetryConfig{
		Timeout:  cfg.Pipeline.ClassifyTimeout,
		Attempts: cfg.Pipeline.ClassifyAttempts,
		Backoff:  cfg.Pipeline.RetryBackoff,
	})

	// Assemble the triage pipeline
	p := pipeline.New(
		features.NewExtractor(cfg.Pipeline),
		alerting.NewStage(classifier),
		monitoring.NewStage(store, cfg.Pipeline),
		investigation.NewStage(sources, store, cfg.Pipeline),
		repo,
		busImpl,
		cfg.Pipeline,
	)
	slog.Info("pipeline assembled",
		"confidence_threshold", cfg.Pipeline.ConfidenceThreshold,
		"escalation_wins", cfg.Pipeline.EscalationWins,
	)

	// Ingest mode: sync triages inside the request, async hands off to
	// the bus worker.
	mode := api.ModeSync
	if os.Getenv("KESTREL_INGEST_MODE") == "async" {
		mode = api.ModeAsync
	}

	// Initialize async Worker (Pro tier or explicit async ingestion)
	var asyncWorker *pipeline.Worker
	if cfg.Tier == domain.TierPro || mode == api.ModeAsync {
		asyncWorker = pipeline.NewWorker(busImpl, p)

		tenantIDs := []string{}
		if envTenants := os.Getenv("KESTREL_TENANTS"); envTenants != "" {
			tenantIDs = strings.Split(envTenants, ",")
		}

		if err := asyncWorker.Start(pipeline.WorkerConfig{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start pipeline worker", "error", err)
		} else {
			slog.Info("pipeline worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, p, store, Version, mode)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("kestrel is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"ingest_mode", mode,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop pipeline worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("kestrel shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 KESTREL                  ║")
	fmt.Println("  ║       Fraud Alert Triage Pipeline         ║")
	fmt.Println("  ║    Every alert lands on the right desk.   ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /transactions         - Submit a transaction for triage")
	fmt.Println("    GET  /transactions/{id}    - Get transaction by ID")
	fmt.Println("    GET  /alerts/{id}          - Get alert by ID")
	fmt.Println("    GET  /cases                - List cases (filter by ?status=)")
	fmt.Println("    GET  /cases/{id}           - Get case with founding alert")
	fmt.Println("    POST /cases/{id}/signoff   - Compliance sign-off on escalated case")
	fmt.Println("    GET  /stats                - Pipeline outcome counters")
	fmt.Println("    GET  /signals              - List classification signals")
	fmt.Println("    POST /signals              - Add a classification signal")
	fmt.Println("    POST /signals/reload       - Restore built-in signals")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
