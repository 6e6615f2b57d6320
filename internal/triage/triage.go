// Package triage derives review queues from item state and runs the bulk
// queue operations (archive-all, file-all, inbox bankruptcy).
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dkrasnov/sift/internal/model"
)

// QueueLimit caps the number of items a single queue fetch returns.
const QueueLimit = 100

// ItemStore is the query surface the triage layer needs. Queues are derived
// on every call; nothing here is cached.
type ItemStore interface {
	NeedsReview(ctx context.Context, userID uuid.UUID, threshold float64, limit uint64) ([]model.Item, error)
	Disagreements(ctx context.Context, userID uuid.UUID, limit uint64) ([]model.Item, error)
	CountNeedsReview(ctx context.Context, userID uuid.UUID, threshold float64) (int, error)
	CountDisagreements(ctx context.Context, userID uuid.UUID) (int, error)
	ArchiveAllPending(ctx context.Context, userID uuid.UUID) (int64, error)
	Get(ctx context.Context, userID, id uuid.UUID) (*model.Item, error)
	Update(ctx context.Context, item *model.Item) error
}

// SettingsSource supplies the per-user confidence threshold.
type SettingsSource interface {
	Get(ctx context.Context, userID uuid.UUID) (model.Settings, error)
}

// FilingStore resolves filing targets and stores filed notes.
type FilingStore interface {
	GetTarget(ctx context.Context, userID, id uuid.UUID) (*model.FilingTarget, error)
	CreateNote(ctx context.Context, n *model.Note) error
}

// Counts summarizes both queues for the inbox badge.
type Counts struct {
	NeedsReview   int  `json:"needsReview"`
	Disagreements int  `json:"disagreements"`
	Mandatory     int  `json:"mandatory"`
	IsComplete    bool `json:"isComplete"`
}

// Service derives queues and applies bulk operations.
type Service struct {
	items    ItemStore
	settings SettingsSource
	filing   FilingStore
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(items ItemStore, settings SettingsSource, filing FilingStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{items: items, settings: settings, filing: filing, logger: logger, now: time.Now}
}

// NeedsReview returns pending items whose classification is missing or below
// the user's confidence threshold. The threshold is read fresh on every
// call so settings changes take effect immediately.
func (s *Service) NeedsReview(ctx context.Context, userID uuid.UUID) ([]model.Item, error) {
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.items.NeedsReview(ctx, userID, settings.ConfidenceThreshold, QueueLimit)
}

// Disagreements returns items the user flagged for correction, minus those
// deferred to the weekly review.
func (s *Service) Disagreements(ctx context.Context, userID uuid.UUID) ([]model.Item, error) {
	return s.items.Disagreements(ctx, userID, QueueLimit)
}

// Counts returns both queue sizes. Mandatory is their sum: every item in
// either queue blocks marking the inbox done.
func (s *Service) Counts(ctx context.Context, userID uuid.UUID) (Counts, error) {
	settings, err := s.settings.Get(ctx, userID)
	if err != nil {
		return Counts{}, err
	}
	needs, err := s.items.CountNeedsReview(ctx, userID, settings.ConfidenceThreshold)
	if err != nil {
		return Counts{}, err
	}
	disagreements, err := s.items.CountDisagreements(ctx, userID)
	if err != nil {
		return Counts{}, err
	}
	mandatory := needs + disagreements
	return Counts{
		NeedsReview:   needs,
		Disagreements: disagreements,
		Mandatory:     mandatory,
		IsComplete:    mandatory == 0,
	}, nil
}

// ArchiveAll archives every pending item for the user in one statement.
func (s *Service) ArchiveAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	n, err := s.items.ArchiveAllPending(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("archived pending items", "user_id", userID, "count", n)
	return n, nil
}

// FileAllTo files the current needs-review queue into a single target. Each
// item becomes a note under the target and is marked reviewed with agreeing
// feedback. The queue is re-derived here, not taken from the caller, so a
// stale client cannot file items that no longer qualify.
func (s *Service) FileAllTo(ctx context.Context, userID, targetID uuid.UUID) (int, error) {
	target, err := s.filing.GetTarget(ctx, userID, targetID)
	if err != nil {
		return 0, err
	}
	items, err := s.NeedsReview(ctx, userID)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()
	filed := 0
	for i := range items {
		item := &items[i]
		note := &model.Note{
			ID:        uuid.New(),
			UserID:    userID,
			TargetID:  target.ID,
			ItemID:    item.ID,
			Title:     noteTitle(item.Content),
			Body:      item.Content,
			CreatedAt: now,
		}
		if err := s.filing.CreateNote(ctx, note); err != nil {
			return filed, fmt.Errorf("filing item %s: %w", item.ID, err)
		}
		item.Status = model.StatusReviewed
		item.ReviewedAt = &now
		item.Feedback = &model.UserFeedback{Agreed: true}
		if err := s.items.Update(ctx, item); err != nil {
			return filed, fmt.Errorf("filing item %s: %w", item.ID, err)
		}
		filed++
	}
	s.logger.Info("filed queue", "user_id", userID, "target", target.Name, "count", filed)
	return filed, nil
}

// noteTitle takes the first line of the content, truncated to a sane length.
func noteTitle(content string) string {
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			content = content[:i]
			break
		}
	}
	return model.Clip(content, 80)
}

// Bankruptcy wipes the slate: everything pending is archived, including
// items awaiting correction.
func (s *Service) Bankruptcy(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.ArchiveAll(ctx, userID)
}
