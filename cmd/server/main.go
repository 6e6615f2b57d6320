// Package main starts the sift HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/dkrasnov/sift/internal/api"
	"github.com/dkrasnov/sift/internal/classify"
	"github.com/dkrasnov/sift/internal/config"
	"github.com/dkrasnov/sift/internal/database"
	"github.com/dkrasnov/sift/internal/repository"
	"github.com/dkrasnov/sift/internal/review"
	"github.com/dkrasnov/sift/internal/s3blob"
	"github.com/dkrasnov/sift/internal/triage"
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

	if err := database.Migrate(ctx, cfg.DatabaseURL); err != nil {
		logger.Error("run migrations", "error", err)
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
	corrections := repository.NewCorrectionRepository(pool)
	filing := repository.NewFilingRepository(pool)

	blobs, err := s3blob.New(cfg)
	if err != nil {
		logger.Error("init object storage", "error", err)
		os.Exit(1)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		logger.Error("ensure bucket", "error", err)
		os.Exit(1)
	}

	queueClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer queueClient.Close()

	ledger := classify.NewLedger(items, logger)
	triageSvc := triage.NewService(items, settings, filing, logger)
	reviews := review.NewService(items, audits, sessions, triageSvc, cfg.SessionTTL, logger)

	srv := api.New(cfg, items, audits, settings, corrections, filing, triageSvc, reviews, ledger, blobs, queueClient, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
