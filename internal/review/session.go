package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dkrasnov/sift/internal/model"
)

// StartOrResume returns the user's active session, or creates a new one from
// the needs-review queue. An expired session found along the way is completed
// with stats.expired=true before the new one is built.
func (s *Service) StartOrResume(ctx context.Context, userID uuid.UUID) (*model.ReviewSession, error) {
	now := s.now().UTC()
	existing, err := s.sessions.GetActive(ctx, userID)
	switch {
	case err == nil:
		if existing.Active(now) {
			return existing, nil
		}
		if err := s.expire(ctx, existing, now); err != nil {
			return nil, err
		}
	case errors.Is(err, model.ErrNotFound):
	default:
		return nil, err
	}

	items, err := s.queue.NeedsReview(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("building session queue: %w", err)
	}
	ids := make([]uuid.UUID, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	session := &model.ReviewSession{
		ID:        uuid.New(),
		UserID:    userID,
		ItemIDs:   ids,
		Actions:   []model.SessionAction{},
		StartedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	s.logger.Info("review session started", "session_id", session.ID, "user_id", userID, "items", len(ids))
	return session, nil
}

// Complete finishes a session explicitly.
func (s *Service) Complete(ctx context.Context, userID, sessionID uuid.UUID) (*model.ReviewSession, error) {
	session, err := s.sessions.GetByID(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.CompletedAt != nil {
		return session, nil
	}
	now := s.now().UTC()
	session.CompletedAt = &now
	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// ExpiredLister enumerates sessions past their TTL.
type ExpiredLister interface {
	ListExpired(ctx context.Context, now time.Time) ([]model.ReviewSession, error)
}

// ExpireStale completes every session past its TTL. Reviewed items keep
// their verdicts; only the session record is closed out.
func (s *Service) ExpireStale(ctx context.Context, lister ExpiredLister) (int, error) {
	now := s.now().UTC()
	stale, err := lister.ListExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range stale {
		if err := s.expire(ctx, &stale[i], now); err != nil {
			s.logger.Error("expiring session", "session_id", stale[i].ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) expire(ctx context.Context, session *model.ReviewSession, now time.Time) error {
	session.Stats.Expired = true
	session.CompletedAt = &now
	if err := s.sessions.Update(ctx, session); err != nil {
		return err
	}
	s.logger.Info("review session expired", "session_id", session.ID, "user_id", session.UserID)
	return nil
}
