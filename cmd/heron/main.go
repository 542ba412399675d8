// Heron - Sanctions screening and AML alerting for every transaction.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/heron/internal/alerting"
	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/audit"
	"github.com/opensource-finance/heron/internal/behavior"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/casemgmt"
	"github.com/opensource-finance/heron/internal/config"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/evaluator"
	"github.com/opensource-finance/heron/internal/history"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/risk"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/sanctions"
	"github.com/opensource-finance/heron/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	opts := &slog.HandlerOptions{Level: config.LogLevel(cfg)}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"auth", cfg.Auth.JWTSecret != "",
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	m := metrics.New()
	auditor := audit.NewLogger(repo)

	// Sanctions
	store, err := loadSanctionsStore(cfg.Sanctions)
	if err != nil {
		slog.Error("failed to load sanctions lists", "error", err)
		os.Exit(1)
	}
	m.SanctionsRefreshed("local", true, store.Count())

	var screener *sanctions.Screener
	if cfg.Sanctions.FeedURL != "" {
		feed := sanctions.NewOFACFeed(cfg.Sanctions.FeedURL, &http.Client{Timeout: cfg.Sanctions.FetchTimeout})
		screener = sanctions.NewScreener(feed, sanctions.ScreenerConfig{
			Threshold:    cfg.Sanctions.FuzzyThreshold,
			FetchTimeout: cfg.Sanctions.FetchTimeout,
			Cache:        cacheImpl,
			OnRefresh: func(source string, ok bool, count int) {
				m.SanctionsRefreshed(source, ok, count)
				auditor.LogEvent(ctx, audit.EventSanctionsRefresh, audit.SystemActor,
					fmt.Sprintf("source=%s ok=%t entities=%d", source, ok, count))
			},
		})
		if warmed, err := screener.Warm(ctx); err != nil {
			slog.Warn("failed to warm sanctions cache", "error", err)
		} else if warmed {
			slog.Info("sanctions cache warmed from snapshot", "entities", screener.Count())
		}
		go screener.Run(ctx, cfg.Sanctions.RefreshInterval)
	}

	// Rules
	catalogue, err := rules.NewCatalogue()
	if err != nil {
		slog.Error("failed to initialize rule catalogue", "error", err)
		os.Exit(1)
	}
	manager := rules.NewManager(rules.NewEngine(), rules.NewLoader(catalogue), repo, rules.ManagerConfig{
		Builtin:         cfg.Rules.Builtin,
		DefinitionsPath: cfg.Rules.DefinitionsPath,
	})
	count, errs := manager.Reload(ctx)
	for _, err := range errs {
		slog.Warn("rule definition skipped", "error", err)
	}
	m.SetRulesLoaded(count)
	slog.Info("rule engine initialized", "rules_count", count)

	// Scoring and alerting
	hist := history.NewService(repo, cacheImpl, history.Config{
		FrequencyWindow:    cfg.Risk.FrequencyWindow,
		FrequencyThreshold: cfg.Risk.FrequencyThreshold,
		HistoryWindow:      cfg.Risk.HistoryWindow,
	})
	alerts := alerting.NewEngine(alerting.Config{
		SanctionsCooldown: cfg.Alerting.SanctionsCooldown,
		HighCooldown:      cfg.Alerting.HighCooldown,
		DefaultCooldown:   cfg.Alerting.DefaultCooldown,
		FingerprintTTL:    cfg.Alerting.FingerprintTTL,
	},
		alerting.WithStore(repo),
		alerting.WithCache(cacheImpl),
		alerting.WithAuditor(auditor),
		alerting.WithReviewer(casemgmt.NewReviewer(busImpl)),
	)
	go alerts.Run(ctx, time.Minute)

	deps := evaluator.Deps{
		Sanctions: store,
		Rules:     manager.Engine(),
		Scorer:    risk.NewScorer(cfg.Risk.HighAmountThreshold, store, hist),
		Detector:  behavior.NewDetector(),
		History:   hist,
		Alerts:    alerts,
		Audit:     auditor,
		Observer:  m,
	}
	if screener != nil {
		deps.Screener = screener
	}
	eval, err := evaluator.New(deps)
	if err != nil {
		slog.Error("failed to initialize evaluator", "error", err)
		os.Exit(1)
	}

	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, eval)
		if err := asyncWorker.Start(); err != nil {
			slog.Error("failed to start async worker", "error", err)
		}
	}

	srv, err := api.NewServer(ctx, cfg.Server, cfg.Auth, api.Deps{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Evaluator: eval,
		Rules:     manager,
		Alerts:    alerts,
		Screener:  screener,
		Sanctions: store,
		Metrics:   m,
		Version:   Version,
	})
	if err != nil {
		slog.Error("failed to initialize server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("heron shutdown complete")
}

// loadSanctionsStore builds the local list and country sets from the
// configured files. Missing paths leave the defaults in place.
func loadSanctionsStore(cfg domain.SanctionsConfig) (*sanctions.Store, error) {
	var list sanctions.LocalList
	if cfg.LocalListPath != "" {
		loaded, err := sanctions.LoadLocalList(cfg.LocalListPath)
		if err != nil {
			return nil, err
		}
		list = loaded
	}
	if cfg.HighRiskCountriesPath != "" {
		countries, err := sanctions.LoadCountryFile(cfg.HighRiskCountriesPath)
		if err != nil {
			return nil, err
		}
		list.HighRiskCountries = countries
	}

	store := sanctions.NewStore()
	store.Load(list)
	slog.Info("sanctions lists loaded",
		"entities", store.Count(),
		"high_risk_countries", len(store.HighRiskCountries()),
	)
	return store, nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                  HERON                    |")
	fmt.Println("  |   Sanctions Screening and AML Alerting    |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /evaluate             - Evaluate a transaction")
	fmt.Println("    POST   /ingest               - Queue a transaction")
	fmt.Println("    GET    /alerts/{id}          - Get alert by ID")
	fmt.Println("    GET    /alerts/stream        - Live alert websocket")
	fmt.Println("    GET    /cooldowns            - Active cooldowns")
	fmt.Println("    GET    /rules                - List active rules")
	fmt.Println("    POST   /rules                - Define a rule")
	fmt.Println("    POST   /rules/reload         - Reload rules from all sources")
	fmt.Println("    GET    /sanctions/search     - Search sanctions lists")
	fmt.Println("    POST   /sanctions/refresh    - Refresh the OFAC feed")
	fmt.Println("    GET    /metrics              - Prometheus metrics")
	fmt.Println("    GET    /health               - Health check")
	fmt.Println()
}
