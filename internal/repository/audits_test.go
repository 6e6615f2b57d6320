package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var auditColumnNames = []string{
	"id", "item_id", "user_id", "category", "confidence", "reasoning", "model",
	"user_action", "user_reviewed_at", "session_id", "created_at",
}

func TestAuditRepositoryListForItem(t *testing.T) {
	mock := newMock(t)
	repo := NewAuditRepository(mock)

	itemID := uuid.New()
	userID := uuid.New()
	first := time.Now().UTC().Add(-time.Hour)
	second := time.Now().UTC()
	firstID := uuid.New()
	secondID := uuid.New()

	mock.ExpectQuery(`SELECT .* FROM classification_audits WHERE item_id=\$1 ORDER BY created_at ASC`).
		WithArgs(itemID).
		WillReturnRows(pgxmock.NewRows(auditColumnNames).
			AddRow(firstID, itemID, userID, "task", 0.8, "looks actionable", "m1", nil, nil, nil, first).
			AddRow(secondID, itemID, userID, "note", 0.4, "reclassified", "m1", nil, nil, nil, second))

	audits, err := repo.ListForItem(context.Background(), itemID)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, firstID, audits[0].ID)
	assert.Equal(t, "task", audits[0].Category)
	assert.Equal(t, secondID, audits[1].ID)
	assert.Equal(t, "note", audits[1].Category)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryListForItemEmpty(t *testing.T) {
	mock := newMock(t)
	repo := NewAuditRepository(mock)

	itemID := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM classification_audits WHERE item_id=\$1`).
		WithArgs(itemID).
		WillReturnRows(pgxmock.NewRows(auditColumnNames))

	audits, err := repo.ListForItem(context.Background(), itemID)
	require.NoError(t, err)
	assert.Empty(t, audits)
	assert.NotNil(t, audits)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepositoryAttachReview(t *testing.T) {
	mock := newMock(t)
	repo := NewAuditRepository(mock)

	itemID := uuid.New()
	sessionID := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec(`UPDATE classification_audits`).
		WithArgs("agree", at, sessionID, itemID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.AttachReview(context.Background(), itemID, "agree", sessionID, at))
	require.NoError(t, mock.ExpectationsWereMet())
}
