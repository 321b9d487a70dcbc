// Package main is the entrypoint for the DevInsight API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/devinsight/devinsight/internal/auth"
	"github.com/devinsight/devinsight/internal/cache"
	"github.com/devinsight/devinsight/internal/config"
	"github.com/devinsight/devinsight/internal/gitprovider"
	"github.com/devinsight/devinsight/internal/handler"
	"github.com/devinsight/devinsight/internal/metrics"
	"github.com/devinsight/devinsight/internal/repository"
	"github.com/devinsight/devinsight/internal/server"
	"github.com/devinsight/devinsight/internal/service"
	"github.com/devinsight/devinsight/internal/syncqueue"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	secrets, err := auth.NewSecretBox(cfg.EncryptionKey)
	if err != nil {
		logger.Error("invalid encryption key", "error", err)
		os.Exit(1)
	}

	recorder := metrics.NewInMemory()
	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	providers := gitprovider.NewFactory(cfg.YunxiaoDomain, logger, recorder,
		gitprovider.WithAllowPrivateHosts(cfg.AllowPrivateProviderHosts))

	authService := service.NewAuthService(repo, cacheClient, tokens, logger, recorder)
	repoService := service.NewRepositoryService(service.RepositoryServiceConfig{
		Repository:   repo,
		Cache:        cacheClient,
		Secrets:      secrets,
		Providers:    providers,
		AllowPrivate: cfg.AllowPrivateProviderHosts,
		Logger:       logger,
		Metrics:      recorder,
	})
	syncService := service.NewSyncService(service.SyncServiceConfig{
		Store:     repo,
		Locks:     service.CacheLocker(cacheClient),
		Analytics: cacheClient,
		Secrets:   secrets,
		Providers: providers,
		Lookback:  cfg.SyncDefaultLookback,
		Logger:    logger,
		Metrics:   recorder,
	})
	analyticsService := service.NewAnalyticsService(repo, cacheClient, cfg.AnalyticsCacheTTL, logger, recorder)

	srv := server.New(
		setupRouter(routerDeps{
			cfg:          cfg,
			logger:       logger,
			cache:        cacheClient,
			authService:  authService,
			base:         handler.New(),
			health:       handler.NewHealthHandler(repo, cacheClient, logger),
			metrics:      handler.NewMetricsHandler(recorder),
			auth:         handler.NewAuthHandler(authService, logger),
			repositories: handler.NewRepositoryHandler(repoService, syncService, logger),
			analytics:    handler.NewAnalyticsHandler(analyticsService, logger),
		}),
		server.Config{
			Port:            cfg.AppPort,
			ReadTimeout:     cfg.ReadTimeout,
			WriteTimeout:    cfg.WriteTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
		logger,
	)

	if cfg.SyncWorkerEnabled {
		syncService.SetQueue(syncqueue.NewPublisher(cacheClient.Client(), logger))

		worker := syncqueue.NewWorker(cacheClient.Client(), syncService, logger, syncqueue.NewConsumerID(), recorder)
		srv.Go("sync_worker", worker.Run)
		srv.OnShutdown("sync_worker", worker.Shutdown)

		if cfg.SchedulerEnabled() {
			scheduler := syncqueue.NewScheduler(repo, syncService, logger, cfg.SyncScheduleInterval, cfg.SyncStaleAfter)
			srv.Go("sync_scheduler", scheduler.Run)
		}
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"sync_worker", cfg.SyncWorkerEnabled,
		"sync_schedule_interval", cfg.SyncScheduleInterval,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "devinsight-api")
	slog.SetDefault(logger)
	return logger
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s&]+`)

// redactURL strips the password from a connection URL.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		if username := parsed.User.Username(); username != "" {
			parsed.User = url.User(username)
		} else {
			parsed.User = url.User("redacted")
		}
	}
	return parsed.String()
}

// sanitizeError removes connection secrets from driver errors before they
// are logged.
func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}
	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
