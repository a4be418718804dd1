package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/sitemap-crawler/internal/adapter/postgres"
	redis_adapter "github.com/user/sitemap-crawler/internal/adapter/redis"
	"github.com/user/sitemap-crawler/internal/bootstrap"
	"github.com/user/sitemap-crawler/internal/delivery/http/handler"
	"github.com/user/sitemap-crawler/internal/delivery/http/router"
	"github.com/user/sitemap-crawler/internal/repository"
	"github.com/user/sitemap-crawler/internal/usecase"
	"github.com/user/sitemap-crawler/pkg/config"
	"github.com/user/sitemap-crawler/pkg/logger"
)

func main() {
	flags := pflag.NewFlagSet("api", pflag.ExitOnError)
	configPath := flags.String("config", "", "configuration file (defaults to .env when present)")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "json", "log format: json or console")
	_ = flags.Parse(os.Args[1:])

	// --- Configuration ---
	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		zap.NewExample().Fatal("Could not load config", zap.Error(err))
	}

	// --- Logger ---
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		zap.NewExample().Fatal("Could not build logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Server stopped with error", zap.Error(err))
	}
	log.Info("Server exiting")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}
	log.Info("Redis connection established", zap.String("addr", cfg.RedisAddr))

	// --- PostgreSQL (optional report store) ---
	var (
		failedURLRepo repository.FailedURLRepository
		reportRepo    repository.ReportWriter
	)
	if cfg.PostgresURL != "" {
		dbpool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer dbpool.Close()
		if err := postgres.EnsureSchema(ctx, dbpool); err != nil {
			return err
		}
		failedURLRepo = postgres.NewFailedURLRepo(dbpool)
		reportRepo = postgres.NewReportRepo(dbpool)
		log.Info("PostgreSQL connection pool established")
	} else {
		log.Warn("POSTGRES_URL not set, crawl reports are not persisted")
	}

	// --- Use Cases ---
	components, err := bootstrap.New(cfg.Crawl, log)
	if err != nil {
		return err
	}
	defer components.Close()

	jobManager := usecase.NewJobManager(
		components.Crawler(cfg.Crawl, log),
		components.Canon,
		redis_adapter.NewJobRepo(rdb, cfg.ResultTTL),
		redis_adapter.NewQueueRepo(rdb),
		redis_adapter.NewRecentCrawlRepo(rdb),
		failedURLRepo,
		reportRepo,
		usecase.JobManagerOptions{DeduplicationWindow: cfg.DeduplicationWindow},
		log,
	)

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router.New(handler.NewHandler(jobManager, log), log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 65 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	for i := 0; i < cfg.APIWorkers; i++ {
		g.Go(func() error {
			return jobManager.RunWorker(gctx)
		})
	}
	log.Info("Crawl workers started", zap.Int("workers", cfg.APIWorkers))

	return g.Wait()
}
