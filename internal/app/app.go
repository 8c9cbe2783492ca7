// Package app wires the service together: config, storage, messaging,
// business logic, and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/streamtube/account-service/internal/auth"
	"github.com/streamtube/account-service/internal/config"
	"github.com/streamtube/account-service/internal/database"
	"github.com/streamtube/account-service/internal/event"
	handlerhttp "github.com/streamtube/account-service/internal/handler/http"
	"github.com/streamtube/account-service/internal/health"
	"github.com/streamtube/account-service/internal/httpx"
	"github.com/streamtube/account-service/internal/kafka"
	"github.com/streamtube/account-service/internal/media"
	"github.com/streamtube/account-service/internal/repository"
	"github.com/streamtube/account-service/internal/repository/postgres"
	"github.com/streamtube/account-service/internal/repository/redisstore"
	"github.com/streamtube/account-service/internal/service"
	"github.com/streamtube/account-service/internal/telemetry"
	"github.com/streamtube/account-service/migrations"
)

// App owns every long-lived component of the service.
type App struct {
	cfg          *config.Config
	logger       *slog.Logger
	pool         *pgxpool.Pool
	redisClient  *redis.Client
	producer     *kafka.Producer
	server       *http.Server
	stopTracing  telemetry.Shutdown
}

// New builds the application. It connects to every dependency eagerly so a
// misconfigured instance fails at startup instead of on the first request.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	stopTracing := telemetry.Shutdown(func(context.Context) error { return nil })
	if cfg.OTELEnabled {
		var err error
		stopTracing, err = telemetry.Init(ctx, "account-service", cfg.OTELEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
	}

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	refreshExpiry, err := cfg.RefreshExpiry()
	if err != nil {
		pool.Close()
		return nil, err
	}
	accessExpiry, err := cfg.AccessExpiry()
	if err != nil {
		pool.Close()
		return nil, err
	}

	var redisClient *redis.Client
	var sessions repository.SessionStore
	switch cfg.SessionStore {
	case "redis":
		redisClient, err = database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		sessions = redisstore.NewSessionStore(redisClient, refreshExpiry)
	default:
		sessions = postgres.NewSessionStore(pool)
	}

	producer := kafka.NewProducer(kafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)

	issuer := auth.NewTokenIssuer(
		cfg.AccessTokenSecret, cfg.RefreshTokenSecret,
		accessExpiry, refreshExpiry,
	)

	mediaClient := media.NewClient(
		cfg.MediaServiceURL,
		httpx.NewBreakerClient(
			httpx.NewClient(httpx.DefaultClientConfig()),
			httpx.DefaultBreakerConfig("media-service"),
			logger,
		),
		logger,
	)

	svc := service.NewAccountService(
		postgres.NewAccountRepository(pool),
		sessions,
		auth.NewPasswordHasher(),
		issuer,
		mediaClient,
		event.NewProducer(producer, logger),
		logger,
	)

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}
	healthHandler.RegisterNonCritical("kafka", producer.Ping)

	router := handlerhttp.NewRouter(handlerhttp.RouterConfig{
		Service:        svc,
		Issuer:         issuer,
		Health:         healthHandler,
		Logger:         logger,
		AllowedOrigins: cfg.CORSAllowedOrigins,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &App{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		redisClient: redisClient,
		producer:    producer,
		server:      server,
		stopTracing: stopTracing,
	}, nil
}

// Run serves HTTP until the context is canceled, then shuts everything down
// in dependency order.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown", slog.String("error", err.Error()))
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close", slog.String("error", err.Error()))
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Error("redis close", slog.String("error", err.Error()))
		}
	}

	a.pool.Close()

	if err := a.stopTracing(shutdownCtx); err != nil {
		a.logger.Error("tracing shutdown", slog.String("error", err.Error()))
	}

	a.logger.Info("shutdown complete")
	return nil
}
