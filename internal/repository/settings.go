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

// SettingsRepository reads the per-user knobs. Missing rows fall back to
// defaults so the engine always gets a usable threshold.
type SettingsRepository struct {
	db DB
}

// NewSettingsRepository constructs a repository.
func NewSettingsRepository(db DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the user's settings, defaulted when absent. It is called fresh
// on every queue derivation so threshold changes take effect on the next read.
func (r *SettingsRepository) Get(ctx context.Context, userID uuid.UUID) (model.Settings, error) {
	s := model.Settings{
		UserID:              userID,
		ConfidenceThreshold: model.DefaultConfidenceThreshold,
		AutoArchiveDays:     model.DefaultAutoArchiveDays,
	}
	err := r.db.QueryRow(ctx, `
		SELECT confidence_threshold, auto_archive_days FROM user_settings WHERE user_id=$1
	`, userID).Scan(&s.ConfidenceThreshold, &s.AutoArchiveDays)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s, nil
		}
		return s, fmt.Errorf("select settings: %w", err)
	}
	// Zero is a valid threshold: it auto-files every classified item.
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		s.ConfidenceThreshold = model.DefaultConfidenceThreshold
	}
	if s.AutoArchiveDays <= 0 {
		s.AutoArchiveDays = model.DefaultAutoArchiveDays
	}
	return s, nil
}

// Upsert stores the user's settings.
func (r *SettingsRepository) Upsert(ctx context.Context, s model.Settings) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO user_settings (user_id, confidence_threshold, auto_archive_days, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id) DO UPDATE
		SET confidence_threshold=EXCLUDED.confidence_threshold,
			auto_archive_days=EXCLUDED.auto_archive_days,
			updated_at=EXCLUDED.updated_at
	`, s.UserID, s.ConfidenceThreshold, s.AutoArchiveDays, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}
