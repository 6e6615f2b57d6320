package classify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dkrasnov/sift/internal/model"
)

const (
	// MaxRetries bounds classification attempts per item.
	MaxRetries = 3
	// deadLetterPayloadMax truncates the content copied into dead letters.
	deadLetterPayloadMax = 500
)

// RetryDelays is the fixed backoff schedule between attempts.
var RetryDelays = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// FailureResult tells the caller whether the item is still eligible for a
// retry. Recording eligibility does not schedule anything; the caller decides
// when to re-invoke.
type FailureResult struct {
	ShouldRetry bool
	RetryCount  int
	NextRetryAt time.Time
}

// Ledger tracks per-item retry state inside the classification blob and owns
// the permanent-failure path.
type Ledger struct {
	items  ItemStore
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger constructs a ledger.
func NewLedger(items ItemStore, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{items: items, logger: logger, now: time.Now}
}

// RecordFailure notes one failed attempt. Below MaxRetries it increments the
// retry count, computes the next-retry time and puts the item back to
// pending. At the limit it flips the item to error and writes the dead-letter
// record in the same transaction. overrideRetryCount replaces the stored
// count when non-nil.
func (l *Ledger) RecordFailure(ctx context.Context, itemID uuid.UUID, errMsg string, overrideRetryCount *int) (FailureResult, error) {
	item, err := l.items.GetByID(ctx, itemID)
	if err != nil {
		return FailureResult{}, err
	}
	meta := ensureProcessing(item)
	if item.Status == model.StatusError {
		// Already dead-lettered. Do not write a second record.
		return FailureResult{ShouldRetry: false, RetryCount: meta.RetryCount}, nil
	}
	retryCount := meta.RetryCount
	if overrideRetryCount != nil {
		retryCount = *overrideRetryCount
	}
	now := l.now().UTC()

	if retryCount < MaxRetries {
		meta.RetryCount = retryCount + 1
		meta.LastError = errMsg
		next := now.Add(RetryDelays[retryCount])
		meta.NextRetryAt = &next
		item.Classification.Error = errMsg
		item.Status = model.StatusPending
		if err := l.items.Update(ctx, item); err != nil {
			return FailureResult{}, err
		}
		l.logger.Warn("classification attempt failed",
			"item_id", itemID,
			"retry_count", meta.RetryCount,
			"next_retry_at", next,
			"error", errMsg,
		)
		return FailureResult{ShouldRetry: true, RetryCount: meta.RetryCount, NextRetryAt: next}, nil
	}

	meta.LastError = errMsg
	meta.FailedAt = &now
	meta.NextRetryAt = nil
	item.Classification.Error = errMsg
	item.Status = model.StatusError
	letter := &model.DeadLetter{
		ID:         uuid.New(),
		ItemID:     item.ID,
		UserID:     item.UserID,
		Kind:       "classification",
		Payload:    model.Clip(item.Content, deadLetterPayloadMax),
		Error:      errMsg,
		RetryCount: retryCount,
		MaxRetries: MaxRetries,
		CreatedAt:  now,
	}
	if err := l.items.MarkFailedPermanently(ctx, item, letter); err != nil {
		return FailureResult{}, err
	}
	l.logger.Error("classification failed permanently",
		"item_id", itemID,
		"retry_count", retryCount,
		"error", errMsg,
	)
	return FailureResult{ShouldRetry: false, RetryCount: retryCount}, nil
}

// ResetForRetry is the manual recovery path for an errored item. Any other
// status is rejected.
func (l *Ledger) ResetForRetry(ctx context.Context, itemID uuid.UUID) error {
	item, err := l.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status != model.StatusError {
		return fmt.Errorf("reset item %s in status %q: %w", itemID, item.Status, model.ErrInvalidState)
	}
	meta := ensureProcessing(item)
	meta.RetryCount = 0
	meta.LastError = ""
	meta.NextRetryAt = nil
	meta.FailedAt = nil
	item.Classification.Error = ""
	item.Status = model.StatusPending
	return l.items.Update(ctx, item)
}

// ensureProcessing guarantees the classification blob and its processing
// metadata exist before the ledger mutates them.
func ensureProcessing(item *model.Item) *model.ProcessingMeta {
	if item.Classification == nil {
		item.Classification = &model.Classification{}
	}
	if item.Classification.Processing == nil {
		item.Classification.Processing = &model.ProcessingMeta{}
	}
	return item.Classification.Processing
}
