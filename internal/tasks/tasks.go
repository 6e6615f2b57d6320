// Package tasks defines the asynq task types and their enqueue helpers.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/dkrasnov/sift/internal/model"
)

const (
	// ClassifyItemTask runs the classification engine for one item. Retry
	// scheduling lives inside the engine, so asynq retries stay disabled.
	ClassifyItemTask = "classify:item"

	// ClassifyBatchTask fans out classification over a set of items.
	ClassifyBatchTask = "classify:batch"

	// IndexItemTask pushes a classified item to the external search indexer.
	IndexItemTask = "search:index"

	// SweepArchiveTask auto-archives stale pending items, run on a cron.
	SweepArchiveTask = "sweep:archive"

	// SweepSessionsTask completes review sessions past their TTL.
	SweepSessionsTask = "sweep:sessions"
)

// ClassifyPayload identifies the item to classify.
type ClassifyPayload struct {
	ItemID uuid.UUID `json:"item_id"`
}

// BatchPayload identifies a set of items to classify concurrently.
type BatchPayload struct {
	ItemIDs []uuid.UUID `json:"item_ids"`
}

// IndexPayload identifies the item to index.
type IndexPayload struct {
	ItemID uuid.UUID `json:"item_id"`
}

// EnqueueClassify schedules classification for one item.
func EnqueueClassify(ctx context.Context, client *asynq.Client, itemID uuid.UUID) error {
	data, err := json.Marshal(ClassifyPayload{ItemID: itemID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ClassifyItemTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue classify task: %w", err)
	}
	return nil
}

// EnqueueBatch schedules classification for a set of items.
func EnqueueBatch(ctx context.Context, client *asynq.Client, itemIDs []uuid.UUID) error {
	data, err := json.Marshal(BatchPayload{ItemIDs: itemIDs})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ClassifyBatchTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("enqueue batch task: %w", err)
	}
	return nil
}

// EnqueueIndex schedules search indexing for a classified item. Indexing is
// best-effort and may be retried by asynq itself.
func EnqueueIndex(ctx context.Context, client *asynq.Client, itemID uuid.UUID) error {
	data, err := json.Marshal(IndexPayload{ItemID: itemID})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(IndexItemTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue index task: %w", err)
	}
	return nil
}

// IndexScheduler adapts an asynq client to the classification engine's
// indexing hook.
type IndexScheduler struct {
	client *asynq.Client
}

func NewIndexScheduler(client *asynq.Client) *IndexScheduler {
	return &IndexScheduler{client: client}
}

func (s *IndexScheduler) ScheduleIndex(ctx context.Context, item *model.Item) error {
	return EnqueueIndex(ctx, s.client, item.ID)
}
