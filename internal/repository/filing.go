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

// FilingRepository manages filing targets (projects and areas) and the notes
// created when items are filed. Target names also feed the classification
// prompt as user context.
type FilingRepository struct {
	db DB
}

// NewFilingRepository constructs a repository.
func NewFilingRepository(db DB) *FilingRepository {
	return &FilingRepository{db: db}
}

// CreateTarget inserts a filing target.
func (r *FilingRepository) CreateTarget(ctx context.Context, t *model.FilingTarget) error {
	t.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO filing_targets (id, user_id, kind, name, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, t.ID, t.UserID, t.Kind, t.Name, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert filing target: %w", err)
	}
	return nil
}

// GetTarget returns an owned filing target.
func (r *FilingRepository) GetTarget(ctx context.Context, userID, id uuid.UUID) (*model.FilingTarget, error) {
	var t model.FilingTarget
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, kind, name, created_at FROM filing_targets WHERE id=$1 AND user_id=$2
	`, id, userID).Scan(&t.ID, &t.UserID, &t.Kind, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("select filing target: %w", err)
	}
	return &t, nil
}

// ListTargets returns the user's filing targets.
func (r *FilingRepository) ListTargets(ctx context.Context, userID uuid.UUID) ([]model.FilingTarget, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, kind, name, created_at FROM filing_targets
		WHERE user_id=$1 ORDER BY kind, name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list filing targets: %w", err)
	}
	defer rows.Close()
	targets := []model.FilingTarget{}
	for rows.Next() {
		var t model.FilingTarget
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan filing target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// UserContext returns the user's area and project names for the
// classification prompt.
func (r *FilingRepository) UserContext(ctx context.Context, userID uuid.UUID) (areas, projects []string, err error) {
	targets, err := r.ListTargets(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	for _, t := range targets {
		switch t.Kind {
		case "area":
			areas = append(areas, t.Name)
		case "project":
			projects = append(projects, t.Name)
		}
	}
	return areas, projects, nil
}

// CreateNote records the note produced by filing an item to a target.
func (r *FilingRepository) CreateNote(ctx context.Context, n *model.Note) error {
	n.CreatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx, `
		INSERT INTO notes (id, user_id, item_id, target_id, title, body, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, n.ID, n.UserID, n.ItemID, n.TargetID, n.Title, n.Body, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}
