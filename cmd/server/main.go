// Call agent conversation server.
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

	"github.com/ashureev/callagent/internal/agentdef"
	"github.com/ashureev/callagent/internal/api"
	"github.com/ashureev/callagent/internal/callstream"
	"github.com/ashureev/callagent/internal/config"
	"github.com/ashureev/callagent/internal/conversation"
	"github.com/ashureev/callagent/internal/generator"
	"github.com/ashureev/callagent/internal/middleware"
	"github.com/ashureev/callagent/internal/observability"
	"github.com/ashureev/callagent/internal/store"
	"github.com/ashureev/callagent/internal/sweeper"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server", "port", cfg.Port, "generator", cfg.Generator.Backend, "postgres", cfg.UsePostgres())

	repo, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize session store: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close session store", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("session store health check: %w", err)
	}
	slog.Info("Session store connected")

	agents, err := agentdef.Load(cfg.AgentsFile)
	if err != nil {
		return fmt.Errorf("load agent definitions: %w", err)
	}
	slog.Info("Agent definitions loaded", "agents", agents.IDs())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	opts := []conversation.Option{
		conversation.WithLogger(logger),
		conversation.WithMetrics(metrics),
	}
	gen, closeGen, err := buildGenerator(cfg.Generator, logger)
	if err != nil {
		// The state machine works without a generator; replies stay canned.
		slog.Warn("Response generator unavailable, using canned replies", "error", err)
	} else if gen != nil {
		defer closeGen()
		opts = append(opts, conversation.WithGenerator(gen))
	}

	svc := conversation.NewService(repo, agents, opts...)

	sm := callstream.NewSessionManager()
	callHandler := api.NewCallHandler(svc, repo, cfg.MaxRequestBodySize)
	wsHandler := callstream.NewWebSocketHandler(svc, sm, metrics, cfg.AllowedOrigins)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		callHandler.RegisterRoutes(r)
		wsHandler.RegisterRoutes(r)
	})

	// Live calls hold their connection open, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	sw := sweeper.New(repo, cfg.SessionTTL, cfg.SweepInterval, sm.CloseSession, metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sw.Run(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := limiter.Evict(); n > 0 {
					slog.Debug("Evicted idle rate limiters", "count", n)
				}
			case <-gctx.Done():
				return nil
			}
		}
	})
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func openStore(ctx context.Context, cfg *config.Config) (store.SessionStore, error) {
	if cfg.UsePostgres() {
		return store.NewPostgres(ctx, cfg.DatabaseURL)
	}
	return store.NewSQLite(cfg.DBPath)
}

// buildGenerator returns a nil generator when generation is disabled.
func buildGenerator(cfg config.GeneratorConfig, logger *slog.Logger) (generator.Generator, func(), error) {
	noop := func() {}
	switch cfg.Backend {
	case config.GeneratorOpenAI:
		g := generator.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		return generator.WithRetry(g, cfg.Retries, cfg.RetryDelay), noop, nil
	case config.GeneratorGRPC:
		g, err := generator.NewGRPC(generator.DefaultGRPCConfig(cfg.GRPCAddr), logger)
		if err != nil {
			return nil, noop, err
		}
		return generator.WithRetry(g, cfg.Retries, cfg.RetryDelay), g.Close, nil
	default:
		return nil, noop, nil
	}
}
