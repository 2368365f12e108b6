package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lumenpay/backend-pay/internal/config"
	"github.com/lumenpay/backend-pay/internal/dispatch"
	"github.com/lumenpay/backend-pay/internal/ledger"
	"github.com/lumenpay/backend-pay/internal/obs"
	"github.com/lumenpay/backend-pay/internal/reconcile"
	"github.com/lumenpay/backend-pay/internal/resilience"
	"github.com/lumenpay/backend-pay/internal/store"
	"github.com/lumenpay/backend-pay/internal/task"
)

func main() {
	cfg := config.MustLoad()

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "listener").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer := mustInitTracing(ctx, cfg, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	obs.MustRegisterDomainMetrics("lumenpay", nil)

	if dir := strings.TrimSpace(os.Getenv("MIGRATIONS_DIR")); dir != "" {
		if err := store.Migrate(cfg.DatabaseURL, dir); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		logger.Info().Str("dir", dir).Msg("migrations applied")
	}

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	db := store.NewPostgres(pool)

	executor := &dispatch.Executor{
		Logs:        db,
		MaxAttempts: cfg.WebhookMaxAttempts,
		BackoffBase: cfg.WebhookBackoffBase,
		Jitter:      cfg.WebhookJitter,
		Timeout:     cfg.WebhookTimeout,
		Logger:      logger,
	}
	dispatcher := &dispatch.Engine{
		Store:    db,
		Executor: executor,
		Logger:   logger,
	}

	runner := &task.Runner{Logger: logger, Timeout: time.Minute}
	defer runner.Close()

	horizon := &ledger.Horizon{
		BaseURL: cfg.HorizonURL,
		HTTP: &resilience.HTTPClient{
			Client:      &http.Client{Timeout: cfg.LedgerTimeout},
			Breaker:     resilience.NewBreaker(cfg.CircuitLedgerMinReq, cfg.CircuitLedgerFailureRate, cfg.CircuitLedgerOpenFor),
			BaseBackoff: cfg.WebhookBackoffBase,
			MaxAttempts: cfg.LedgerMaxAttempts,
			Jitter:      cfg.WebhookJitter,
			Timeout:     cfg.LedgerTimeout,
			Target:      "horizon",
			Logger:      &logger,
		},
		Logger: logger,
	}

	engine := &reconcile.Engine{
		Store:     db,
		Ledger:    horizon,
		Dispatch:  dispatcher,
		Tasks:     runner,
		Replay:    reconcile.RedisReplayProtector{Client: redisClient},
		ReplayTTL: cfg.ReplayTTL,
		Logger:    logger,
	}

	listener := &reconcile.Listener{
		Engine:      engine,
		Ledger:      horizon,
		Checkouts:   db,
		Account:     cfg.LedgerAccount,
		Environment: cfg.LedgerEnvironment,
		Logger:      logger,
	}

	opsServer := startOpsServer(cfg, pool, redisClient, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown ops server")
		}
	}()

	logger.Info().
		Str("account", cfg.LedgerAccount).
		Str("environment", string(cfg.LedgerEnvironment)).
		Msg("listener starting")
	if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("listener stopped with error")
	} else {
		logger.Info().Msg("listener shutdown complete")
	}
}

func mustInitTracing(ctx context.Context, cfg *config.Config, logger zerolog.Logger) func(context.Context) error {
	if !cfg.TracingEnabled {
		return func(context.Context) error { return nil }
	}
	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:   "lumenpay-listener",
		Endpoint:      cfg.TracingEndpoint,
		SamplingRatio: cfg.TracingSampleRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("init tracer")
	}
	return shutdown
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

// startOpsServer exposes liveness, readiness and metrics on an internal port.
func startOpsServer(cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger zerolog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		checkCtx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(checkCtx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(checkCtx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.OpsAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("ops server stopped")
		}
	}()
	return srv
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
