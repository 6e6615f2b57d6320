package review

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrasnov/sift/internal/model"
)

type fakeItems struct {
	items map[uuid.UUID]*model.Item
}

func (f *fakeItems) Get(_ context.Context, userID, id uuid.UUID) (*model.Item, error) {
	item, ok := f.items[id]
	if !ok || item.UserID != userID {
		return nil, model.ErrNotFound
	}
	return item, nil
}

func (f *fakeItems) Update(_ context.Context, item *model.Item) error {
	if _, ok := f.items[item.ID]; !ok {
		return model.ErrNotFound
	}
	f.items[item.ID] = item
	return nil
}

type auditCall struct {
	itemID    uuid.UUID
	action    string
	sessionID uuid.UUID
}

type fakeAudits struct {
	attached []auditCall
	cleared  []uuid.UUID
}

func (f *fakeAudits) AttachReview(_ context.Context, itemID uuid.UUID, action string, sessionID uuid.UUID, _ time.Time) error {
	f.attached = append(f.attached, auditCall{itemID: itemID, action: action, sessionID: sessionID})
	return nil
}

func (f *fakeAudits) ClearReview(_ context.Context, itemID uuid.UUID) error {
	f.cleared = append(f.cleared, itemID)
	return nil
}

type fakeSessions struct {
	sessions map[uuid.UUID]*model.ReviewSession
}

func (f *fakeSessions) Create(_ context.Context, s *model.ReviewSession) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessions) Update(_ context.Context, s *model.ReviewSession) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessions) GetByID(_ context.Context, userID, id uuid.UUID) (*model.ReviewSession, error) {
	s, ok := f.sessions[id]
	if !ok || s.UserID != userID {
		return nil, model.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) GetActive(_ context.Context, userID uuid.UUID) (*model.ReviewSession, error) {
	for _, s := range f.sessions {
		if s.UserID == userID && s.CompletedAt == nil {
			return s, nil
		}
	}
	return nil, model.ErrNotFound
}

type fakeQueue struct {
	items []model.Item
}

func (f *fakeQueue) NeedsReview(_ context.Context, _ uuid.UUID) ([]model.Item, error) {
	return f.items, nil
}

type fixture struct {
	svc      *Service
	items    *fakeItems
	audits   *fakeAudits
	sessions *fakeSessions
	queue    *fakeQueue
	userID   uuid.UUID
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		items:    &fakeItems{items: map[uuid.UUID]*model.Item{}},
		audits:   &fakeAudits{},
		sessions: &fakeSessions{sessions: map[uuid.UUID]*model.ReviewSession{}},
		queue:    &fakeQueue{},
		userID:   uuid.New(),
		now:      time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.items, f.audits, f.sessions, f.queue, 24*time.Hour, slog.New(slog.DiscardHandler))
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addItem(status model.ItemStatus) *model.Item {
	item := &model.Item{
		ID:      uuid.New(),
		UserID:  f.userID,
		Type:    model.TypeManual,
		Content: "schedule dentist appointment for next week",
		Status:  status,
		Classification: &model.Classification{
			Category:   "task",
			Confidence: 0.45,
			Reasoning:  "looks actionable",
		},
		ExtractedActions: []model.ExtractedAction{
			{Description: "schedule dentist", Confidence: 0.7, Priority: "medium"},
		},
	}
	f.items.items[item.ID] = item
	return item
}

func (f *fixture) addSession() *model.ReviewSession {
	s := &model.ReviewSession{
		ID:        uuid.New(),
		UserID:    f.userID,
		StartedAt: f.now,
		ExpiresAt: f.now.Add(24 * time.Hour),
	}
	f.sessions.sessions[s.ID] = s
	return s
}

func TestApplyVerdictAgree(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	session := f.addSession()

	res, err := f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, DirectionRight)
	require.NoError(t, err)
	assert.Equal(t, model.VerdictAgree, res.Action)
	assert.True(t, res.Undoable)
	assert.Equal(t, model.StatusPending, res.Previous.Status)

	got := f.items.items[item.ID]
	assert.Equal(t, model.StatusReviewed, got.Status)
	require.NotNil(t, got.ReviewedAt)
	require.NotNil(t, got.Feedback)
	assert.True(t, got.Feedback.Agreed)

	require.Len(t, f.audits.attached, 1)
	assert.Equal(t, "agree", f.audits.attached[0].action)
	assert.Equal(t, 1, f.sessions.sessions[session.ID].Stats.Agreed)
}

func TestApplyVerdictDisagreeKeepsStatus(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	session := f.addSession()

	_, err := f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, DirectionLeft)
	require.NoError(t, err)

	got := f.items.items[item.ID]
	assert.Equal(t, model.StatusPending, got.Status)
	require.NotNil(t, got.Feedback)
	assert.False(t, got.Feedback.Agreed)
	assert.True(t, got.Feedback.NeedsCorrection)
	assert.Equal(t, 1, f.sessions.sessions[session.ID].Stats.Disagreed)
}

func TestApplyVerdictUrgentPromotesAction(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	session := f.addSession()

	_, err := f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, DirectionUp)
	require.NoError(t, err)

	got := f.items.items[item.ID]
	assert.Equal(t, model.StatusReviewed, got.Status)
	assert.True(t, got.Feedback.MarkedUrgent)
	require.NotEmpty(t, got.ExtractedActions)
	assert.Equal(t, "urgent", got.ExtractedActions[0].Priority)
}

func TestApplyVerdictUrgentSynthesizesAction(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	item.ExtractedActions = nil
	session := f.addSession()

	_, err := f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, DirectionUp)
	require.NoError(t, err)

	got := f.items.items[item.ID]
	require.Len(t, got.ExtractedActions, 1)
	action := got.ExtractedActions[0]
	assert.Equal(t, "urgent", action.Priority)
	assert.LessOrEqual(t, len(action.Description), previewMax)
	assert.NotEmpty(t, action.Description)
}

func TestApplyVerdictUrgentSynthesizedActionStaysValidUTF8(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	item.ExtractedActions = nil
	item.Content = "a" + strings.Repeat("ü", previewMax)
	session := f.addSession()

	_, err := f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, DirectionUp)
	require.NoError(t, err)

	got := f.items.items[item.ID]
	require.Len(t, got.ExtractedActions, 1)
	desc := got.ExtractedActions[0].Description
	assert.True(t, utf8.ValidString(desc))
	assert.LessOrEqual(t, len(desc), previewMax)
}

func TestApplyVerdictHideArchives(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	session := f.addSession()

	_, err := f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, DirectionDown)
	require.NoError(t, err)

	got := f.items.items[item.ID]
	assert.Equal(t, model.StatusArchived, got.Status)
	require.NotNil(t, got.ArchivedAt)
	assert.True(t, got.Feedback.Hidden)
	assert.Equal(t, 1, f.sessions.sessions[session.ID].Stats.Hidden)
}

func TestApplyVerdictUnknownDirection(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	session := f.addSession()

	_, err := f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, Direction("diagonal"))
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestApplyVerdictExpiredSession(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	session := f.addSession()
	session.ExpiresAt = f.now.Add(-time.Minute)

	_, err := f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, DirectionRight)
	assert.True(t, errors.Is(err, model.ErrInvalidState))
}

func TestUndoRestoresSnapshot(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	originalActions := append([]model.ExtractedAction(nil), item.ExtractedActions...)
	session := f.addSession()

	_, err := f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, DirectionUp)
	require.NoError(t, err)

	restored, err := f.svc.Undo(context.Background(), f.userID, session.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, restored.Status)
	assert.Equal(t, originalActions, restored.ExtractedActions)
	assert.Nil(t, restored.ReviewedAt)
	assert.Nil(t, restored.Feedback)

	assert.Equal(t, []uuid.UUID{item.ID}, f.audits.cleared)
	got := f.sessions.sessions[session.ID]
	assert.Equal(t, 0, got.Stats.Urgent)
	require.Len(t, got.Actions, 1)
	assert.True(t, got.Actions[0].Undone)
}

func TestUndoIsSingleShot(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	session := f.addSession()

	_, err := f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, DirectionRight)
	require.NoError(t, err)
	_, err = f.svc.Undo(context.Background(), f.userID, session.ID, item.ID)
	require.NoError(t, err)

	_, err = f.svc.Undo(context.Background(), f.userID, session.ID, item.ID)
	assert.True(t, errors.Is(err, model.ErrNoActionToUndo))
}

func TestUndoWithoutVerdict(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	session := f.addSession()

	_, err := f.svc.Undo(context.Background(), f.userID, session.ID, item.ID)
	assert.True(t, errors.Is(err, model.ErrNoActionToUndo))
}

func TestReSwipeAfterUndoIsUndoableAgain(t *testing.T) {
	f := newFixture(t)
	item := f.addItem(model.StatusPending)
	session := f.addSession()

	_, err := f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, DirectionRight)
	require.NoError(t, err)
	_, err = f.svc.Undo(context.Background(), f.userID, session.ID, item.ID)
	require.NoError(t, err)

	_, err = f.svc.ApplyVerdict(context.Background(), f.userID, session.ID, item.ID, DirectionDown)
	require.NoError(t, err)
	restored, err := f.svc.Undo(context.Background(), f.userID, session.ID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, restored.Status)

	got := f.sessions.sessions[session.ID]
	require.Len(t, got.Actions, 2)
	assert.True(t, got.Actions[0].Undone)
	assert.True(t, got.Actions[1].Undone)
}
