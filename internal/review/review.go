// Package review applies human swipe verdicts to classified items and
// reverses them through single-shot undo.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dkrasnov/sift/internal/model"
)

// previewMax bounds the synthetic action created by an urgent swipe on an
// item with no extracted actions.
const previewMax = 100

// Direction is the raw swipe gesture.
type Direction string

const (
	DirectionRight Direction = "right"
	DirectionLeft  Direction = "left"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
)

var directionVerdicts = map[Direction]model.Verdict{
	DirectionRight: model.VerdictAgree,
	DirectionLeft:  model.VerdictDisagree,
	DirectionUp:    model.VerdictUrgent,
	DirectionDown:  model.VerdictHide,
}

// ItemStore is the item persistence surface the review layer needs.
type ItemStore interface {
	Get(ctx context.Context, userID, id uuid.UUID) (*model.Item, error)
	Update(ctx context.Context, item *model.Item) error
}

// AuditStore attaches and clears the human verdict on the audit trail.
type AuditStore interface {
	AttachReview(ctx context.Context, itemID uuid.UUID, action string, sessionID uuid.UUID, at time.Time) error
	ClearReview(ctx context.Context, itemID uuid.UUID) error
}

// SessionStore persists review sessions.
type SessionStore interface {
	Create(ctx context.Context, s *model.ReviewSession) error
	Update(ctx context.Context, s *model.ReviewSession) error
	GetByID(ctx context.Context, userID, id uuid.UUID) (*model.ReviewSession, error)
	GetActive(ctx context.Context, userID uuid.UUID) (*model.ReviewSession, error)
}

// QueueSource feeds new sessions from the needs-review queue.
type QueueSource interface {
	NeedsReview(ctx context.Context, userID uuid.UUID) ([]model.Item, error)
}

// VerdictResult is returned to the caller after a swipe.
type VerdictResult struct {
	Action   model.Verdict       `json:"action"`
	Message  string              `json:"message"`
	Undoable bool                `json:"undoable"`
	Previous model.PreviousState `json:"previousState"`
}

// Service implements swipe review and undo.
type Service struct {
	items    ItemStore
	audits   AuditStore
	sessions SessionStore
	queue    QueueSource
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the review service.
func NewService(items ItemStore, audits AuditStore, sessions SessionStore, queue QueueSource, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		items:    items,
		audits:   audits,
		sessions: sessions,
		queue:    queue,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// ApplyVerdict maps the swipe direction to a verdict, applies it to the item
// and appends it to the session's action log. The returned snapshot is enough
// to reverse the verdict exactly once.
func (s *Service) ApplyVerdict(ctx context.Context, userID, sessionID, itemID uuid.UUID, direction Direction) (*VerdictResult, error) {
	verdict, ok := directionVerdicts[direction]
	if !ok {
		return nil, fmt.Errorf("unknown swipe direction %q: %w", direction, model.ErrInvalidInput)
	}
	session, err := s.sessions.GetByID(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !session.Active(now) {
		return nil, fmt.Errorf("session %s is not active: %w", sessionID, model.ErrInvalidState)
	}
	item, err := s.items.Get(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	previous := snapshot(item)
	result := &VerdictResult{Action: verdict, Undoable: true, Previous: previous}

	switch verdict {
	case model.VerdictAgree:
		item.Status = model.StatusReviewed
		item.ReviewedAt = &now
		item.Feedback = &model.UserFeedback{Agreed: true}
		result.Message = "Marked as reviewed"
	case model.VerdictDisagree:
		// Status stays put; the correction flow finishes the job later.
		item.Feedback = &model.UserFeedback{Agreed: false, NeedsCorrection: true}
		result.Message = "Flagged for correction"
	case model.VerdictUrgent:
		item.Status = model.StatusReviewed
		item.ReviewedAt = &now
		item.Feedback = &model.UserFeedback{Agreed: true, MarkedUrgent: true}
		promoteUrgent(item)
		result.Message = "Marked urgent"
	case model.VerdictHide:
		item.Status = model.StatusArchived
		item.ArchivedAt = &now
		item.Feedback = &model.UserFeedback{Agreed: false, Hidden: true}
		result.Message = "Archived"
	}

	if err := s.items.Update(ctx, item); err != nil {
		return nil, err
	}
	if err := s.audits.AttachReview(ctx, item.ID, string(verdict), session.ID, now); err != nil {
		return nil, err
	}

	session.Actions = append(session.Actions, model.SessionAction{
		ItemID:   item.ID,
		Verdict:  verdict,
		At:       now,
		Previous: previous,
	})
	bumpStat(&session.Stats, verdict, 1)
	if session.CurrentIndex < len(session.ItemIDs) {
		session.CurrentIndex++
	}
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	s.logger.Info("verdict applied", "item_id", item.ID, "verdict", verdict, "session_id", session.ID)
	return result, nil
}

// Undo reverses the latest non-undone verdict on an item. The action log
// entry is marked undone rather than removed; a second undo fails.
func (s *Service) Undo(ctx context.Context, userID, sessionID, itemID uuid.UUID) (*model.Item, error) {
	session, err := s.sessions.GetByID(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	action := latestAction(session, itemID)
	if action == nil {
		return nil, fmt.Errorf("item %s in session %s: %w", itemID, sessionID, model.ErrNoActionToUndo)
	}
	item, err := s.items.Get(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}

	item.Status = action.Previous.Status
	item.ExtractedActions = action.Previous.ExtractedActions
	item.ReviewedAt = action.Previous.ReviewedAt
	item.ArchivedAt = action.Previous.ArchivedAt
	item.Feedback = nil
	if err := s.items.Update(ctx, item); err != nil {
		return nil, err
	}
	if err := s.audits.ClearReview(ctx, item.ID); err != nil {
		return nil, err
	}

	action.Undone = true
	bumpStat(&session.Stats, action.Verdict, -1)
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	s.logger.Info("verdict undone", "item_id", item.ID, "verdict", action.Verdict, "session_id", session.ID)
	return item, nil
}

// snapshot copies the state a verdict may touch.
func snapshot(item *model.Item) model.PreviousState {
	actions := make([]model.ExtractedAction, len(item.ExtractedActions))
	copy(actions, item.ExtractedActions)
	return model.PreviousState{
		Status:           item.Status,
		ExtractedActions: actions,
		ReviewedAt:       item.ReviewedAt,
		ArchivedAt:       item.ArchivedAt,
	}
}

// promoteUrgent bumps the first extracted action to urgent, or synthesizes
// one from a content preview when none exist.
func promoteUrgent(item *model.Item) {
	if len(item.ExtractedActions) > 0 {
		item.ExtractedActions[0].Priority = "urgent"
		return
	}
	item.ExtractedActions = []model.ExtractedAction{{
		Description: model.Clip(item.Content, previewMax),
		Confidence:  1,
		Priority:    "urgent",
	}}
}

// latestAction returns the newest non-undone log entry for an item.
func latestAction(session *model.ReviewSession, itemID uuid.UUID) *model.SessionAction {
	for i := len(session.Actions) - 1; i >= 0; i-- {
		a := &session.Actions[i]
		if a.ItemID == itemID && !a.Undone {
			return a
		}
	}
	return nil
}

func bumpStat(stats *model.SessionStats, verdict model.Verdict, delta int) {
	switch verdict {
	case model.VerdictAgree:
		stats.Agreed += delta
	case model.VerdictDisagree:
		stats.Disagreed += delta
	case model.VerdictUrgent:
		stats.Urgent += delta
	case model.VerdictHide:
		stats.Hidden += delta
	}
}
