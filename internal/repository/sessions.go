package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dkrasnov/sift/internal/model"
)

const sessionColumns = `id, user_id, item_ids, current_index, actions, stats, started_at, expires_at, completed_at`

// SessionRepository persists review sessions. Item ids, the action log and
// stats live in JSONB columns; the log is append-only by contract.
type SessionRepository struct {
	db DB
}

// NewSessionRepository constructs a repository.
func NewSessionRepository(db DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, s *model.ReviewSession) error {
	itemIDs, err := marshalJSON(s.ItemIDs)
	if err != nil {
		return err
	}
	actions, err := marshalJSON(s.Actions)
	if err != nil {
		return err
	}
	stats, err := marshalJSON(s.Stats)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO review_sessions (id, user_id, item_ids, current_index, actions, stats, started_at, expires_at, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, s.ID, s.UserID, itemIDs, s.CurrentIndex, actions, stats, s.StartedAt, s.ExpiresAt, s.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Update writes the mutable session state back.
func (r *SessionRepository) Update(ctx context.Context, s *model.ReviewSession) error {
	actions, err := marshalJSON(s.Actions)
	if err != nil {
		return err
	}
	stats, err := marshalJSON(s.Stats)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE review_sessions
		SET current_index=$1, actions=$2, stats=$3, completed_at=$4
		WHERE id=$5
	`, s.CurrentIndex, actions, stats, s.CompletedAt, s.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// GetByID returns an owned session.
func (r *SessionRepository) GetByID(ctx context.Context, userID, id uuid.UUID) (*model.ReviewSession, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM review_sessions WHERE id=$1 AND user_id=$2`, id, userID)
	return scanSession(row)
}

// GetActive returns the user's single non-completed session, expired or not.
// Expiry is the caller's concern.
func (r *SessionRepository) GetActive(ctx context.Context, userID uuid.UUID) (*model.ReviewSession, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM review_sessions
		WHERE user_id=$1 AND completed_at IS NULL
		ORDER BY started_at DESC LIMIT 1
	`, userID)
	return scanSession(row)
}

// ListExpired returns non-completed sessions past their TTL, for the sweep.
func (r *SessionRepository) ListExpired(ctx context.Context, now time.Time) ([]model.ReviewSession, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM review_sessions
		WHERE completed_at IS NULL AND expires_at < $1
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired sessions: %w", err)
	}
	defer rows.Close()
	sessions := []model.ReviewSession{}
	for rows.Next() {
		s, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*model.ReviewSession, error) {
	s, err := scanSessionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

func scanSessionRow(row rowScanner) (*model.ReviewSession, error) {
	var (
		s           model.ReviewSession
		itemIDsJSON []byte
		actionsJSON []byte
		statsJSON   []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &itemIDsJSON, &s.CurrentIndex, &actionsJSON, &statsJSON,
		&s.StartedAt, &s.ExpiresAt, &s.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.ItemIDs = []uuid.UUID{}
	if err := unmarshalJSON(itemIDsJSON, &s.ItemIDs); err != nil {
		return nil, err
	}
	s.Actions = []model.SessionAction{}
	if err := unmarshalJSON(actionsJSON, &s.Actions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(statsJSON, &s.Stats); err != nil {
		return nil, err
	}
	return &s, nil
}
