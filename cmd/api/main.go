package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/linebridge/line-ai-bridge/internal/api/router"
	"github.com/linebridge/line-ai-bridge/internal/chatlog"
	appconfig "github.com/linebridge/line-ai-bridge/internal/config"
	"github.com/linebridge/line-ai-bridge/internal/conversation"
	"github.com/linebridge/line-ai-bridge/internal/events"
	"github.com/linebridge/line-ai-bridge/internal/http/handlers"
	"github.com/linebridge/line-ai-bridge/internal/observability/metrics"
	"github.com/linebridge/line-ai-bridge/internal/settings"
	"github.com/linebridge/line-ai-bridge/internal/state"
	"github.com/linebridge/line-ai-bridge/pkg/logging"
)

func main() {
	// Load .env if present (local development)
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting line-ai-bridge API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	webhookMetrics := metrics.NewWebhookMetrics(registry)

	// Stores
	settingsStore := settings.NewStore(pool)
	stateStore := state.NewStore(pool)
	transcriptStore := chatlog.NewStore(pool)
	processedStore := events.NewProcessedStore(redisClient, cfg.WebhookDedupTTL)

	// AI provider clients share one HTTP client and reference fetcher
	httpClient := &http.Client{Timeout: cfg.HTTPClientTimeout}
	fetcher := conversation.NewFetcher(httpClient, logger)
	gptClient := conversation.NewGPTClient(conversation.GPTClientConfig{
		BaseURL:    cfg.OpenAIBaseURL,
		HTTPClient: httpClient,
		Fetcher:    fetcher,
		Logger:     logger,
	})
	geminiClient := conversation.NewGeminiClient(conversation.GeminiClientConfig{
		BaseURL:    cfg.GeminiBaseURL,
		HTTPClient: httpClient,
		Fetcher:    fetcher,
		Logger:     logger,
	})

	engine := conversation.NewEngine(conversation.EngineConfig{
		States:     stateStore,
		Transcript: transcriptStore,
		GPT:        gptClient,
		Gemini:     geminiClient,
		Logger:     logger,
		Metrics:    webhookMetrics,
	})

	// Handlers
	webhookHandler := handlers.NewLineWebhookHandler(handlers.LineWebhookConfig{
		Settings:    settingsStore,
		Processed:   processedStore,
		Engine:      engine,
		Logger:      logger,
		Metrics:     webhookMetrics,
		LINEBaseURL: cfg.LINEBaseURL,
		HTTPClient:  httpClient,
	})
	adminHandler := handlers.NewAdminConversationsHandler(handlers.AdminConversationsConfig{
		States:     stateStore,
		Transcript: transcriptStore,
		Logger:     logger,
	})

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		LineWebhook:        webhookHandler,
		AdminConversations: adminHandler,
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
