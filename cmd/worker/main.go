// Package main starts the sift background worker and the cron scheduler.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/dkrasnov/sift/internal/classify"
	"github.com/dkrasnov/sift/internal/config"
	"github.com/dkrasnov/sift/internal/database"
	"github.com/dkrasnov/sift/internal/provider"
	"github.com/dkrasnov/sift/internal/repository"
	"github.com/dkrasnov/sift/internal/review"
	"github.com/dkrasnov/sift/internal/s3blob"
	"github.com/dkrasnov/sift/internal/tasks"
	"github.com/dkrasnov/sift/internal/triage"
	"github.com/dkrasnov/sift/internal/worker"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	items := repository.NewItemRepository(pool)
	audits := repository.NewAuditRepository(pool)
	sessions := repository.NewSessionRepository(pool)
	settings := repository.NewSettingsRepository(pool)
	filing := repository.NewFilingRepository(pool)

	blobs, err := s3blob.New(cfg)
	if err != nil {
		logger.Error("init object storage", "error", err)
		os.Exit(1)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	queueClient := asynq.NewClient(redisOpt)
	defer queueClient.Close()

	classifier := provider.NewAnthropic(cfg.AnthropicAPIKey, cfg.ClassifierModel, cfg.ProviderTimeout, logger)
	ledger := classify.NewLedger(items, logger)
	indexer := tasks.NewIndexScheduler(queueClient)
	engine := classify.NewEngine(items, settings, filing, classifier, ledger, indexer, logger)

	triageSvc := triage.NewService(items, settings, filing, logger)
	reviews := review.NewService(items, audits, sessions, triageSvc, cfg.SessionTTL, logger)

	processor := worker.NewProcessor(engine, items, settings, sessions, reviews, blobs, cfg.IndexerURL, cfg.WorkerConcurrency, logger)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	scheduler := asynq.NewScheduler(redisOpt, nil)
	if err := worker.RegisterSweeps(scheduler); err != nil {
		logger.Error("register sweeps", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("scheduler stopped", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		scheduler.Shutdown()
		server.Shutdown()
	}()

	logger.Info("worker starting", "concurrency", cfg.WorkerConcurrency)
	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
