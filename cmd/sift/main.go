// Package main is the sift ops CLI: migrations, dead letter inspection and
// manual retry/reclassify.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dkrasnov/sift/internal/classify"
	"github.com/dkrasnov/sift/internal/config"
	"github.com/dkrasnov/sift/internal/database"
	"github.com/dkrasnov/sift/internal/model"
	"github.com/dkrasnov/sift/internal/repository"
	"github.com/dkrasnov/sift/internal/tasks"
)

func main() {
	_ = godotenv.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "sift: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "sift",
		Short:        "sift ops CLI",
		Long:         `Operational commands for the sift inbox pipeline: run migrations, inspect dead letters, retry failed items and trigger reclassification.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newMigrateCmd(),
		newRetryCmd(),
		newReclassifyCmd(),
		newCountsCmd(),
		newDeadLettersCmd(),
	)
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newQueueClient(cfg *config.Config) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := database.Migrate(cmd.Context(), cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <item-id>",
		Short: "Reset an errored item and re-enqueue classification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			itemID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid item id: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			items := repository.NewItemRepository(pool)
			item, err := items.GetByID(ctx, itemID)
			if err != nil {
				return err
			}
			if item.Status == model.StatusError {
				if err := classify.NewLedger(items, nil).ResetForRetry(ctx, itemID); err != nil {
					return err
				}
			}
			client := newQueueClient(cfg)
			defer client.Close()
			if err := tasks.EnqueueClassify(ctx, client, item.ID); err != nil {
				return err
			}
			fmt.Printf("item %s enqueued\n", item.ID)
			return nil
		},
	}
}

func newReclassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reclassify <item-id> [item-id...]",
		Short: "Enqueue a classification batch for the given items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ids := make([]uuid.UUID, 0, len(args))
			for _, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					return fmt.Errorf("invalid item id %q: %w", arg, err)
				}
				ids = append(ids, id)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client := newQueueClient(cfg)
			defer client.Close()
			if err := tasks.EnqueueBatch(ctx, client, ids); err != nil {
				return err
			}
			fmt.Printf("%d items enqueued\n", len(ids))
			return nil
		},
	}
}

func newCountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counts <user-id>",
		Short: "Show queue counts for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			items := repository.NewItemRepository(pool)
			settings := repository.NewSettingsRepository(pool)
			userSettings, err := settings.Get(ctx, userID)
			if err != nil {
				return err
			}
			needsReview, err := items.CountNeedsReview(ctx, userID, userSettings.ConfidenceThreshold)
			if err != nil {
				return err
			}
			disagreements, err := items.CountDisagreements(ctx, userID)
			if err != nil {
				return err
			}
			fmt.Printf("needs review:   %d\ndisagreements:  %d\n", needsReview, disagreements)
			return nil
		},
	}
}

func newDeadLettersCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "deadletters",
		Short: "List recent dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			letters, err := repository.NewDeadLetterRepository(pool).List(ctx, limit)
			if err != nil {
				return err
			}
			if len(letters) == 0 {
				fmt.Println("no dead letters")
				return nil
			}
			for _, letter := range letters {
				fmt.Printf("%s  item=%s  retries=%d/%d  %s\n",
					letter.CreatedAt.Format("2006-01-02 15:04:05"),
					letter.ItemID, letter.RetryCount, letter.MaxRetries, letter.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum dead letters to list")
	return cmd
}
