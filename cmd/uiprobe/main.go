// UIProbe orchestrator server: provides the HTTP API, admits runs through
// the safety pipeline, and drives browser test runs through the bridge.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/uiprobe/uiprobe/pkg/admission"
	"github.com/uiprobe/uiprobe/pkg/api"
	"github.com/uiprobe/uiprobe/pkg/bridge"
	"github.com/uiprobe/uiprobe/pkg/config"
	"github.com/uiprobe/uiprobe/pkg/events"
	"github.com/uiprobe/uiprobe/pkg/llm"
	"github.com/uiprobe/uiprobe/pkg/obstacle"
	"github.com/uiprobe/uiprobe/pkg/planner"
	"github.com/uiprobe/uiprobe/pkg/runner"
	"github.com/uiprobe/uiprobe/pkg/safety"
	"github.com/uiprobe/uiprobe/pkg/selector"
	"github.com/uiprobe/uiprobe/pkg/store"
	"github.com/uiprobe/uiprobe/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting UIProbe",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize storage. Without DB_HOST the server runs on the
	// in-memory store (development mode).
	var (
		runStore   store.RunStore
		auditStore store.AuditStore
	)
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		pg, err := store.NewPostgresStore(ctx, store.PostgresConfig{
			Host:            dbHost,
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "uiprobe"),
			Password:        os.Getenv("DB_PASSWORD"),
			Database:        getEnv("DB_NAME", "uiprobe"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		})
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := pg.Close(); err != nil {
				slog.Error("Error closing database", "error", err)
			}
		}()
		runStore, auditStore = pg, pg
		slog.Info("Connected to PostgreSQL database", "host", dbHost)
	} else {
		mem := store.NewMemoryStore()
		runStore, auditStore = mem, mem
		slog.Warn("DB_HOST not set, using in-memory run store")
	}

	shots, err := store.NewFSScreenshotStore(getEnv("SCREENSHOT_DIR", "./data/screenshots"))
	if err != nil {
		slog.Error("Failed to initialize screenshot store", "error", err)
		os.Exit(1)
	}

	// 3. Create the model client for the default provider
	providerCfg, err := cfg.LLMProviderRegistry.Get(cfg.Runner.DefaultLLMProvider)
	if err != nil {
		slog.Error("Default LLM provider not configured",
			"provider", cfg.Runner.DefaultLLMProvider, "error", err)
		os.Exit(1)
	}
	llmClient, err := llm.NewClient(providerCfg)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized",
		"provider", cfg.Runner.DefaultLLMProvider, "model", providerCfg.Model)

	// 4. Bridge subprocess client and supervisor
	bridgeClient := bridge.NewClient(cfg.Bridge)
	supervisor := bridge.NewSupervisor(bridgeClient, cfg.Runner.ContextRetries, runner.CtxSleeper{})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := bridgeClient.Shutdown(shutdownCtx); err != nil {
			slog.Error("Error shutting down bridge", "error", err)
		}
	}()

	// 5. Safety pipeline and admission controls
	guard := safety.NewTargetGuard(cfg.Security)
	planSanitizer := safety.NewPlanSanitizer(cfg.Prompt)
	promptSanitizer := safety.NewPromptSanitizer(cfg.Prompt)

	limits := admission.NewConcurrentLimits(cfg.Limits)
	rates := admission.NewRateLimiter(cfg.Limits)
	audit := admission.NewAuditWriter(auditStore)
	defer audit.Close()

	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	limits.StartSweeper(sweepCtx)
	rates.StartSweeper(sweepCtx, cfg.Limits.SweepInterval)

	// 6. Run execution pipeline
	eventManager := events.NewManager()
	executor := runner.NewExecutor(runner.ExecutorDeps{
		Config:     cfg,
		Supervisor: supervisor,
		Planner:    planner.New(llmClient, planSanitizer),
		Resolver:   selector.NewResolver(selector.NewSmartDriver(), llmClient),
		Detector:   obstacle.NewDetector(llmClient),
		Reflector:  runner.NewReflector(llmClient, promptSanitizer),
		Suggester:  runner.NewSuggester(llmClient),
		RunStore:   runStore,
		Shots:      shots,
		Publisher:  eventManager,
	})

	service := runner.NewService(runner.ServiceDeps{
		Guard:    guard,
		Limits:   limits,
		Rates:    rates,
		Audit:    audit,
		Executor: executor,
		RunStore: runStore,
	})

	// 7. HTTP server
	server := api.NewServer(service)
	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("UIProbe started successfully")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop accepting requests, then wait for
	// in-flight runs to reach terminal states.
	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Run shutdown timeout exceeded", "error", err)
	}

	slog.Info("UIProbe shutdown complete")
}
