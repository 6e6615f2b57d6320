package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dkrasnov/sift/internal/model"
)

// CorrectionRepository appends immutable human-override records. Nothing in
// the pipeline reads them back; they exist for insight queries.
type CorrectionRepository struct {
	db DB
}

// NewCorrectionRepository constructs a repository.
func NewCorrectionRepository(db DB) *CorrectionRepository {
	return &CorrectionRepository{db: db}
}

// Create appends a correction record.
func (r *CorrectionRepository) Create(ctx context.Context, c *model.Correction) error {
	c.CreatedAt = time.Now().UTC()
	original, err := marshalJSON(orEmptyActions(c.OriginalActions))
	if err != nil {
		return err
	}
	corrected, err := marshalJSON(orEmptyActions(c.CorrectedActions))
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO corrections (id, item_id, user_id, original_category, corrected_category,
			original_actions, corrected_actions, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, c.ID, c.ItemID, c.UserID, c.OriginalCategory, c.CorrectedCategory, original, corrected, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	return nil
}

func orEmptyActions(actions []model.ExtractedAction) []model.ExtractedAction {
	if actions == nil {
		return []model.ExtractedAction{}
	}
	return actions
}
