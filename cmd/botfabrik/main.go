// botfabrik runtime server: webhook ingest, DSL engine, broadcast workers
// and the management API.
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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/botfabrik/botfabrik/pkg/api"
	"github.com/botfabrik/botfabrik/pkg/broadcast"
	"github.com/botfabrik/botfabrik/pkg/cleanup"
	"github.com/botfabrik/botfabrik/pkg/config"
	"github.com/botfabrik/botfabrik/pkg/database"
	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/engine"
	"github.com/botfabrik/botfabrik/pkg/events"
	"github.com/botfabrik/botfabrik/pkg/i18n"
	"github.com/botfabrik/botfabrik/pkg/llm"
	"github.com/botfabrik/botfabrik/pkg/masking"
	"github.com/botfabrik/botfabrik/pkg/metrics"
	"github.com/botfabrik/botfabrik/pkg/services"
	"github.com/botfabrik/botfabrik/pkg/state"
	"github.com/botfabrik/botfabrik/pkg/telegram"
	"github.com/botfabrik/botfabrik/pkg/version"
)

func logLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	envFile := flag.String("env-file", ".env", "Path to an optional .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	})))

	slog.Info("Starting botfabrik",
		"version", version.Full(),
		"http_port", cfg.HTTPPort,
		"llm_enabled", cfg.LLM.Enabled)

	ctx := context.Background()

	// 2. Database (runs embedded migrations)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Redis
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("Invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	defer func() { _ = rdb.Close() }()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to Redis")

	// 4. Observability and domain services
	recorder := metrics.NewRecorder()
	masker := masking.NewService(cfg.MaskSensitiveData)
	eventLogger := events.NewLogger(dbClient.DB(), masker)

	botService := services.NewBotService(dbClient.DB())
	userService := services.NewUserService(dbClient.DB())
	specService := services.NewSpecService(dbClient)
	purgeService := services.NewPurgeService(dbClient, rdb)

	specCache := dsl.NewCache(specService)
	stateStore := state.NewStore(rdb)
	resolver := i18n.NewResolver(dbClient.DB())
	llmClient := llm.NewClient(cfg.LLM, rdb, recorder)
	sender := telegram.NewClient(os.Getenv("TELEGRAM_API_URL"))
	slog.Info("Services initialized")

	// 5. Cross-pod spec reload listener
	reloadListener := events.NewReloadListener(cfg.DatabaseURL, func(botID string) {
		specCache.Invalidate(botID)
		resolver.Invalidate(botID)
	})
	if err := reloadListener.Start(ctx); err != nil {
		slog.Error("Failed to start reload listener", "error", err)
		os.Exit(1)
	}
	defer reloadListener.Stop(ctx)

	// 6. Engine
	eng := engine.New(dbClient, rdb, specCache, stateStore, resolver, llmClient, eventLogger, recorder)

	// 7. Broadcast pool (before the HTTP server so enqueued work is consumed)
	pool := broadcast.NewPool(cfg.Broadcast.Workers, dbClient, rdb, sender, resolver, eventLogger, recorder)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start broadcast pool", "error", err)
		os.Exit(1)
	}
	broadcastService := services.NewBroadcastService(dbClient.DB(), pool, eventLogger)

	// 8. Event retention sweeper
	sweeper := cleanup.NewService(cfg.Retention, eventLogger)
	sweeper.Start(ctx)

	// 9. HTTP server
	httpServer := api.NewServer(cfg, api.Deps{
		DB:        dbClient,
		Redis:     rdb,
		Bots:      botService,
		Users:     userService,
		Specs:     specService,
		Broadcast: broadcastService,
		Purge:     purgeService,
		SpecCache: specCache,
		I18n:      resolver,
		Engine:    eng,
		LLM:       llmClient,
		Sender:    sender,
		Metrics:   recorder,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("botfabrik started successfully", "broadcast_workers", cfg.Broadcast.Workers)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop intake first, then drain the workers.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	sweeper.Stop()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Broadcast pool stopped gracefully")
	case <-time.After(cfg.ShutdownTimeout):
		slog.Warn("Shutdown timeout exceeded, interrupted broadcasts resume on next start")
	}

	slog.Info("Shutdown complete")
}
