package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/bloopai/model-router/config"
	"github.com/bloopai/model-router/internal/catalog"
	"github.com/bloopai/model-router/internal/logging"
	"github.com/bloopai/model-router/internal/provider/anthropic"
	"github.com/bloopai/model-router/internal/provider/gemini"
	"github.com/bloopai/model-router/internal/provider/openai"
	"github.com/bloopai/model-router/internal/proxy"
	"github.com/bloopai/model-router/internal/registry"
	"github.com/bloopai/model-router/internal/router"
	"github.com/bloopai/model-router/internal/telemetry"
	"github.com/bloopai/model-router/internal/usage"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init logger
	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 3. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("model-router", cfg)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()

	ctx := context.Background()

	// 4. Connect PostgreSQL (optional: request logging only)
	var usageStore usage.Store = usage.NopStore{}
	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("failed to connect postgres", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		logger.Info("PostgreSQL connected")
		usageStore = usage.NewPostgresStore(pool)
	}

	// 5. Register providers with configured credentials
	reg := registry.New()
	if cfg.GeminiAPIKey != "" {
		if err := reg.Register(gemini.New(cfg.GeminiAPIKey)); err != nil {
			logger.Fatal("failed to register gemini", zap.Error(err))
		}
	}
	if cfg.OpenAIAPIKey != "" {
		if err := reg.Register(openai.New(cfg.OpenAIAPIKey)); err != nil {
			logger.Fatal("failed to register openai", zap.Error(err))
		}
	}
	if cfg.AnthropicAPIKey != "" {
		if err := reg.Register(anthropic.New(cfg.AnthropicAPIKey)); err != nil {
			logger.Fatal("failed to register anthropic", zap.Error(err))
		}
	}
	logger.Info("providers registered", zap.Int("count", reg.Count()))

	// 6. Build the catalog, sharing a snapshot through redis when
	// configured: instances with adapters publish, bare instances warm
	// up from the last published snapshot.
	cat := reg.Catalog()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to ping redis", zap.Error(err))
		}
		logger.Info("Redis connected")

		cache := catalog.NewCache(rdb, 10*time.Minute)
		if cat.Len() > 0 {
			if err := cache.Publish(ctx, cat); err != nil {
				logger.Warn("failed to publish catalog snapshot", zap.Error(err))
			}
		} else if snap, err := cache.Load(ctx); err != nil {
			logger.Warn("failed to load catalog snapshot", zap.Error(err))
		} else if snap != nil {
			logger.Info("catalog warmed from snapshot", zap.Int("models", snap.Len()))
			cat = snap
		}
	}

	// 7. Init router and handler
	rt := router.New(reg, cat, logger, cfg.ErrorTruncateLen)
	tracer := otel.GetTracerProvider().Tracer("model-router")
	handler := proxy.NewHandler(rt, reg, usageStore, tracer, logger)

	// 8. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", handler.HandleHealth)
	r.Get("/v1/models", handler.HandleModels)
	r.Get("/v1/usage/{provider}", handler.HandleProviderUsage)
	r.Post("/v1/chat/completions", handler.HandleComplete)
	r.Post("/v1/chat/completions/stream", handler.HandleCompleteStream)

	// 9. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses manage their own lifetime
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("model router starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}
