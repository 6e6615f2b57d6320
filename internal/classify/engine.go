// Package classify orchestrates AI classification of inbox items: provider
// calls with bounded retries, total result normalization, the auto-filing
// decision and the retry ledger.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dkrasnov/sift/internal/model"
	"github.com/dkrasnov/sift/internal/provider"
)

// maxContentLength bounds the text sent to the provider.
const maxContentLength = 4000

// ErrPermanentFailure is returned once the retry budget is exhausted and the
// dead-letter record has been written.
var ErrPermanentFailure = errors.New("classification failed permanently")

// ItemStore is the persistence surface the engine and ledger need.
type ItemStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Item, error)
	Update(ctx context.Context, item *model.Item) error
	SaveClassification(ctx context.Context, item *model.Item, audit *model.Audit) error
	MarkFailedPermanently(ctx context.Context, item *model.Item, letter *model.DeadLetter) error
}

// SettingsSource reads the owning user's confidence threshold, fresh per
// classification.
type SettingsSource interface {
	Get(ctx context.Context, userID uuid.UUID) (model.Settings, error)
}

// ContextSource supplies the user's area and project names for the prompt.
type ContextSource interface {
	UserContext(ctx context.Context, userID uuid.UUID) (areas, projects []string, err error)
}

// IndexScheduler schedules content for search indexing. Best effort: the
// engine logs scheduling failures and moves on.
type IndexScheduler interface {
	ScheduleIndex(ctx context.Context, item *model.Item) error
}

// Engine classifies one item end to end.
type Engine struct {
	items    ItemStore
	settings SettingsSource
	context  ContextSource
	provider provider.Classifier
	ledger   *Ledger
	indexer  IndexScheduler
	logger   *slog.Logger

	// wait is swapped out in tests so backoff does not sleep for real.
	wait func(ctx context.Context, until time.Time) error
}

// NewEngine constructs an engine. indexer may be nil when indexing is
// disabled.
func NewEngine(items ItemStore, settings SettingsSource, contextSrc ContextSource, classifier provider.Classifier, ledger *Ledger, indexer IndexScheduler, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		items:    items,
		settings: settings,
		context:  contextSrc,
		provider: classifier,
		ledger:   ledger,
		indexer:  indexer,
		logger:   logger,
		wait:     waitUntil,
	}
}

// Classify runs the full classification flow for one item: mark processing,
// call the provider with bounded retries, normalize, decide auto-filing and
// persist the result with its audit record in one transaction. Provider
// errors stay inside; the only errors that escape are ErrPermanentFailure and
// storage failures on the initial load.
func (e *Engine) Classify(ctx context.Context, itemID uuid.UUID) (*model.Classification, error) {
	item, err := e.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}

	req, err := e.buildRequest(ctx, item)
	if err != nil {
		// Context building is not worth an attempt; treat as one failure.
		return e.recordAndMaybeAbort(ctx, itemID, err)
	}

	lastErr := "classification retries exhausted"
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if err := e.markProcessing(ctx, item); err != nil {
			return e.recordAndMaybeAbort(ctx, itemID, err)
		}

		started := time.Now()
		raw, callErr := e.provider.Classify(ctx, req)
		if callErr == nil {
			cls, persistErr := e.persistResult(ctx, item, raw, time.Since(started))
			if persistErr == nil {
				e.scheduleIndexing(ctx, item)
				return cls, nil
			}
			// Persistence problems count toward the retry budget rather
			// than crashing the background task.
			callErr = persistErr
		}

		lastErr = callErr.Error()
		res, recErr := e.ledger.RecordFailure(ctx, itemID, lastErr, nil)
		if recErr != nil {
			return nil, recErr
		}
		if !res.ShouldRetry {
			return nil, fmt.Errorf("item %s: %w", itemID, ErrPermanentFailure)
		}
		if attempt < MaxRetries-1 {
			if err := e.wait(ctx, res.NextRetryAt); err != nil {
				return nil, err
			}
			if item, err = e.items.GetByID(ctx, itemID); err != nil {
				return nil, err
			}
		}
	}

	// Attempts exhausted; the ledger's failure path flips the item to error
	// and writes the dead letter.
	if _, err := e.ledger.RecordFailure(ctx, itemID, lastErr, nil); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("item %s: %w", itemID, ErrPermanentFailure)
}

func (e *Engine) buildRequest(ctx context.Context, item *model.Item) (provider.Request, error) {
	areas, projects, err := e.context.UserContext(ctx, item.UserID)
	if err != nil {
		return provider.Request{}, fmt.Errorf("build classification context: %w", err)
	}
	return provider.Request{
		Content:  model.Clip(item.Content, maxContentLength),
		Source:   item.Source,
		Areas:    areas,
		Projects: projects,
	}, nil
}

// markProcessing moves the item to processing and stamps the attempt start.
// Safe to call repeatedly.
func (e *Engine) markProcessing(ctx context.Context, item *model.Item) error {
	meta := ensureProcessing(item)
	now := time.Now().UTC()
	meta.StartedAt = &now
	item.Status = model.StatusProcessing
	return e.items.Update(ctx, item)
}

func (e *Engine) persistResult(ctx context.Context, item *model.Item, raw *provider.RawResult, elapsed time.Duration) (*model.Classification, error) {
	norm := Normalize(raw)
	settings, err := e.settings.Get(ctx, item.UserID)
	if err != nil {
		return nil, fmt.Errorf("read user settings: %w", err)
	}

	meta := ensureProcessing(item)
	now := time.Now().UTC()
	meta.CompletedAt = &now
	meta.LastError = ""
	meta.NextRetryAt = nil

	cls := item.Classification
	cls.Category = norm.Category
	cls.Confidence = norm.Confidence
	cls.Reasoning = norm.Reasoning
	cls.Model = raw.Model
	cls.ProcessingTimeMs = elapsed.Milliseconds()
	cls.Error = ""

	item.ExtractedActions = norm.Actions
	item.Tags = norm.Tags

	if norm.Confidence >= settings.ConfidenceThreshold {
		cls.AutoFiled = true
		item.Status = model.StatusReviewed
		item.ReviewedAt = &now
	} else {
		cls.AutoFiled = false
		item.Status = model.StatusPending
	}

	audit := &model.Audit{
		ID:         uuid.New(),
		ItemID:     item.ID,
		UserID:     item.UserID,
		Category:   norm.Category,
		Confidence: norm.Confidence,
		Reasoning:  norm.Reasoning,
		Model:      raw.Model,
		CreatedAt:  now,
	}
	if err := e.items.SaveClassification(ctx, item, audit); err != nil {
		return nil, err
	}
	e.logger.Info("item classified",
		"item_id", item.ID,
		"category", norm.Category,
		"confidence", norm.Confidence,
		"auto_filed", cls.AutoFiled,
	)
	return cls, nil
}

// scheduleIndexing enqueues the item for search indexing. Failures are logged
// and never roll back or fail the classification.
func (e *Engine) scheduleIndexing(ctx context.Context, item *model.Item) {
	if e.indexer == nil {
		return
	}
	if err := e.indexer.ScheduleIndex(ctx, item); err != nil {
		e.logger.Warn("schedule search indexing failed", "item_id", item.ID, "error", err)
	}
}

// recordAndMaybeAbort funnels non-provider setup errors through the ledger so
// they count toward the retry budget.
func (e *Engine) recordAndMaybeAbort(ctx context.Context, itemID uuid.UUID, cause error) (*model.Classification, error) {
	res, err := e.ledger.RecordFailure(ctx, itemID, cause.Error(), nil)
	if err != nil {
		return nil, err
	}
	if !res.ShouldRetry {
		return nil, fmt.Errorf("item %s: %w", itemID, ErrPermanentFailure)
	}
	return nil, cause
}

// waitUntil blocks until the deadline or context cancellation, whichever
// comes first. Shutdown interrupts backoff without leaving partial writes.
func waitUntil(ctx context.Context, until time.Time) error {
	d := time.Until(until)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
