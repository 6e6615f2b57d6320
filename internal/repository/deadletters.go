package repository

import (
	"context"
	"fmt"

	"github.com/dkrasnov/sift/internal/model"
)

// DeadLetterRepository reads the dead-letter table for operator visibility.
// Writes happen inside ItemRepository.MarkFailedPermanently so the record and
// the item's error status commit together.
type DeadLetterRepository struct {
	db DB
}

// NewDeadLetterRepository constructs a repository.
func NewDeadLetterRepository(db DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// List returns the most recent dead letters.
func (r *DeadLetterRepository) List(ctx context.Context, limit int) ([]model.DeadLetter, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, item_id, user_id, kind, payload, error, retry_count, max_retries, created_at
		FROM dead_letters ORDER BY created_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()
	letters := []model.DeadLetter{}
	for rows.Next() {
		var dl model.DeadLetter
		if err := rows.Scan(&dl.ID, &dl.ItemID, &dl.UserID, &dl.Kind, &dl.Payload, &dl.Error,
			&dl.RetryCount, &dl.MaxRetries, &dl.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}
