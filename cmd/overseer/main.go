package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/overseer/internal/api"
	"github.com/nidhogg/overseer/internal/bus"
	"github.com/nidhogg/overseer/internal/capability"
	"github.com/nidhogg/overseer/internal/checkpoint"
	"github.com/nidhogg/overseer/internal/config"
	"github.com/nidhogg/overseer/internal/orchestrator"
	"github.com/nidhogg/overseer/internal/plan"
	"github.com/nidhogg/overseer/internal/provider"
	"go.uber.org/zap"
)

// workerRoles seeds the system prompt for each worker type.
var workerRoles = map[plan.WorkerType]string{
	plan.WorkerSales:   "You are a sales assistant. Answer product questions, check availability, and help the customer decide what to buy.",
	plan.WorkerPayment: "You are a payment assistant. Handle pricing, invoices, payment links, and refund requests.",
	plan.WorkerAdmin:   "You are a back-office assistant. Handle order records, delivery scheduling, and account changes.",
	plan.WorkerSupport: "You are a support assistant. Handle complaints, troubleshooting, and follow-ups on existing orders.",
}

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Overseer...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/overseer.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	// Apply caller routing: capability bindings, fallback chains and the
	// default provider.
	if cfg.Routing.Default != "" {
		router.SetDefault(cfg.Routing.Default)
	}
	for caller, providerID := range cfg.Routing.Bindings {
		router.Bind(caller, providerID)
	}
	for caller, chain := range cfg.Routing.Fallbacks {
		router.SetFallbacks(caller, chain)
	}
	logger.Info("provider routing configured",
		zap.String("default", router.DefaultID()),
		zap.Int("bindings", len(cfg.Routing.Bindings)))

	// Startup health probe, warn-only: a provider may come up later.
	for _, p := range router.ListProviders() {
		hctx, hcancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := p.HealthCheck(hctx); err != nil {
			logger.Warn("provider health check failed", zap.String("id", p.ID()), zap.Error(err))
		}
		hcancel()
	}

	// Initialize checkpoint store
	var cpStore *checkpoint.Store
	if cfg.Database.Postgres.DSN != "" {
		cs, pgErr := checkpoint.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			if mErr := cs.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			cpStore = cs
		}
	}

	// Initialize event bus
	var events *bus.EventBus
	if cfg.Database.Redis.URL != "" {
		eb, busErr := bus.New(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without run events", zap.Error(busErr))
		} else {
			events = eb
		}
	}

	// Build capabilities
	planner := capability.NewLLMPlanner(router, cfg.Models.Planner, logger)
	verifier := capability.NewLLMVerifier(router, cfg.Models.Verifier, logger)
	judge := capability.NewLLMConflictJudge(router, cfg.Models.Conflict, logger)

	// Initialize run engine
	opts := orchestrator.Options{
		MaxRetries:      cfg.Engine.MaxRetries,
		ExecTimeout:     cfg.Engine.ExecTimeout(),
		VerifyTimeout:   cfg.Engine.VerifyTimeoutDuration(),
		ConflictTimeout: cfg.Engine.ConflictTimeoutDuration(),
	}
	engine := orchestrator.NewEngine(verifier, judge, opts, logger)
	for wt, role := range workerRoles {
		engine.RegisterExecutor(wt, capability.NewLLMWorker(wt, role, router, cfg.Models.Worker, logger))
	}
	if events != nil {
		engine.SetEventPublisher(events)
	}
	if cpStore != nil {
		engine.SetCheckpointSaver(cpStore)

		// Resume runs interrupted by the previous shutdown
		runIDs, rErr := cpStore.ListResumable(context.Background())
		if rErr != nil {
			logger.Warn("failed to list resumable runs", zap.Error(rErr))
		}
		for _, runID := range runIDs {
			cp, lErr := cpStore.LoadCheckpoint(context.Background(), runID)
			if lErr != nil {
				logger.Warn("failed to load checkpoint", zap.String("run_id", runID), zap.Error(lErr))
				continue
			}
			logger.Info("Resuming run", zap.String("run_id", runID))
			go func(cp *orchestrator.Checkpoint) {
				if _, resErr := engine.Resume(context.Background(), cp); resErr != nil {
					logger.Warn("resume failed", zap.String("run_id", cp.RunID), zap.Error(resErr))
				}
			}(cp)
		}
	}

	// Build HTTP handler
	handler := api.NewHandler(planner, engine, cpStore, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Overseer listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Overseer...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	if events != nil {
		events.Close()
	}
	if cpStore != nil {
		cpStore.Close()
	}
}
