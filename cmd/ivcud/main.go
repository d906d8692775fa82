// Copyright 2025 Certen Protocol
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/axiom-labs/ivcud/pkg/bandit"
	"github.com/axiom-labs/ivcud/pkg/cache"
	"github.com/axiom-labs/ivcud/pkg/certificate"
	"github.com/axiom-labs/ivcud/pkg/config"
	"github.com/axiom-labs/ivcud/pkg/events"
	"github.com/axiom-labs/ivcud/pkg/llm"
	"github.com/axiom-labs/ivcud/pkg/orchestrator"
	"github.com/axiom-labs/ivcud/pkg/policy"
	"github.com/axiom-labs/ivcud/pkg/projection"
	"github.com/axiom-labs/ivcud/pkg/router"
	"github.com/axiom-labs/ivcud/pkg/verify"
)

// Exit codes: 0 success/clean shutdown, 1 fatal startup failure after
// configuration was otherwise valid, 2 configuration error.
const (
	exitOK          = 0
	exitFatal       = 1
	exitConfigError = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.New(os.Stderr, "[ivcud] ", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Printf("loading configuration: %v", err)
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		logger.Printf("invalid configuration: %v", err)
		return exitConfigError
	}

	store, closeStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Printf("building event store: %v", err)
		return exitFatal
	}
	defer closeStore()

	bus := projection.NewChannelBus()
	kv := projection.NewMemoryKV()
	engine := projection.New(bus, kv, 5*time.Minute)
	registerHandlers(engine, logger)

	semanticCache := cache.New(cfg.CacheMaxEntries, time.Duration(cfg.CacheDefaultTTLSeconds)*time.Second, cfg.CacheSimilarityThresh)
	if err := semanticCache.StartSweeper(cfg.CacheSweepIntervalCron); err != nil {
		logger.Printf("starting cache sweeper: %v", err)
		return exitFatal
	}
	defer semanticCache.Stop()

	banditPath := cfg.BanditStatePath
	strategySelector, err := bandit.LoadJSON(banditPath)
	if err != nil {
		logger.Printf("loading bandit state: %v", err)
		return exitFatal
	}

	certAuthority, err := certificate.LoadOrCreate(cfg.DataDir + "/certificate_authority.seed")
	if err != nil {
		logger.Printf("loading certificate authority key: %v", err)
		return exitFatal
	}

	metrics := router.NewMetrics()
	registry := prometheus.NewRegistry()
	for _, c := range metrics.Collectors() {
		if err := registry.Register(c); err != nil {
			logger.Printf("registering metric: %v", err)
			return exitFatal
		}
	}

	llmRouter := router.New(metrics)
	registerProviders(cfg, llmRouter)

	policyGate := policy.New(policy.DefaultRules()...)
	llmRouter.SetPolicy(func(ctx context.Context, prompt string) error {
		_, err := policyGate.Check(ctx, policy.PhasePre, prompt)
		return err
	})

	oracle := router.NewOracle(0)

	orch := orchestrator.New()
	orch.Store = store
	orch.Cache = semanticCache
	orch.Policy = policyGate
	orch.Oracle = oracle
	orch.Router = llmRouter
	orch.Bandit = strategySelector
	orch.Verifier = &verify.Orchestra{}
	orch.Authority = certAuthority
	orch.Log = logger
	_ = orch // wired for use by a transport layer outside this scope

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("projection engine stopped: %v", err)
		}
	}()

	snapshotStop := startBanditSnapshotLoop(ctx, strategySelector, banditPath, cfg.BanditSnapshotCron, logger)
	defer snapshotStop()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(semanticCache, llmRouter))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		logger.Printf("listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
	}

	if err := strategySelector.SaveJSON(banditPath); err != nil {
		logger.Printf("saving bandit state: %v", err)
	}

	logger.Printf("stopped")
	return exitOK
}

func buildStore(cfg *config.Config, logger *log.Logger) (events.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Printf("DATABASE_URL not set, using in-memory event store")
		return events.NewMemoryStore(), func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := events.NewPostgresStore(
		ctx,
		cfg.DatabaseURL,
		cfg.DatabaseMaxConns,
		cfg.DatabaseMinConns,
		time.Duration(cfg.DatabaseMaxIdleTime)*time.Second,
		time.Duration(cfg.DatabaseMaxLifetime)*time.Second,
		events.WithLogger(log.New(logger.Writer(), "[events] ", log.LstdFlags)),
	)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func registerProviders(cfg *config.Config, r *router.Router) {
	r.RegisterProvider(llm.NewMockProvider())
	// Only the mock provider is registered. No real provider (OpenAI,
	// Anthropic, DeepSeek, Google) is registered, even when its API key is
	// set in cfg; requests routed to those providers are served by the mock
	// provider as the router's fallback.
}

func registerHandlers(engine *projection.Engine, logger *log.Logger) {
	engine.Register(&projection.IntentCreatedHandler{
		Log: logger.Printf,
	})
	engine.Register(&projection.VerificationCompletedHandler{
		Log: logger.Printf,
	})
	engine.Register(&projection.CostIncurredHandler{
		Log: logger.Printf,
	})
}

func startBanditSnapshotLoop(ctx context.Context, b *bandit.Bandit, path, cronSpec string, logger *log.Logger) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		schedule, err := cron.ParseStandard(cronSpec)
		if err != nil {
			logger.Printf("bandit snapshot schedule %q: %v", cronSpec, err)
			return
		}
		for {
			timer := time.NewTimer(time.Until(schedule.Next(time.Now())))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				if err := b.SaveJSON(path); err != nil {
					logger.Printf("bandit snapshot: %v", err)
				}
			}
		}
	}()
	return func() { <-done }
}

func healthHandler(c *cache.Cache, r *router.Router) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		stats := c.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"cache_size": stats.Entries,
			"hit_rate":   stats.HitRate(),
			"providers":  r.HealthCheck(req.Context()),
		})
	}
}
