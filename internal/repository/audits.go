package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dkrasnov/sift/internal/model"
)

// AuditRepository reads and annotates the append-only classification audit
// trail. Inserts happen inside the item repository's transactions; the only
// mutation here is attaching or clearing the human verdict on the latest
// record.
type AuditRepository struct {
	db DB
}

// NewAuditRepository constructs a repository.
func NewAuditRepository(db DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// insertAudit appends an audit record inside an existing transaction.
func insertAudit(ctx context.Context, tx pgx.Tx, audit *model.Audit) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO classification_audits (id, item_id, user_id, category, confidence, reasoning, model, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, audit.ID, audit.ItemID, audit.UserID, audit.Category, audit.Confidence,
		audit.Reasoning, audit.Model, audit.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// AttachReview stamps the human verdict onto the item's latest audit record.
// Items reviewed before any classification completed have no audit row; that
// is not an error.
func (r *AuditRepository) AttachReview(ctx context.Context, itemID uuid.UUID, action string, sessionID uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE classification_audits
		SET user_action=$1, user_reviewed_at=$2, session_id=$3
		WHERE id = (
			SELECT id FROM classification_audits WHERE item_id=$4 ORDER BY created_at DESC LIMIT 1
		)
	`, action, at, sessionID, itemID)
	if err != nil {
		return fmt.Errorf("attach review to audit: %w", err)
	}
	return nil
}

// ClearReview removes the human verdict fields again after an undo.
func (r *AuditRepository) ClearReview(ctx context.Context, itemID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE classification_audits
		SET user_action=NULL, user_reviewed_at=NULL, session_id=NULL
		WHERE id = (
			SELECT id FROM classification_audits WHERE item_id=$1 ORDER BY created_at DESC LIMIT 1
		)
	`, itemID)
	if err != nil {
		return fmt.Errorf("clear review on audit: %w", err)
	}
	return nil
}

// ListForItem returns the item's audit trail, oldest first.
func (r *AuditRepository) ListForItem(ctx context.Context, itemID uuid.UUID) ([]model.Audit, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, item_id, user_id, category, confidence, reasoning, model,
			user_action, user_reviewed_at, session_id, created_at
		FROM classification_audits WHERE item_id=$1 ORDER BY created_at ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()
	audits := []model.Audit{}
	for rows.Next() {
		var a model.Audit
		if err := rows.Scan(&a.ID, &a.ItemID, &a.UserID, &a.Category, &a.Confidence,
			&a.Reasoning, &a.Model, &a.UserAction, &a.UserReviewedAt, &a.SessionID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}
