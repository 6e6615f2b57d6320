package triage

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrasnov/sift/internal/model"
)

type fakeItems struct {
	needsReview    []model.Item
	disagreements  []model.Item
	archived       int64
	usedThresholds []float64
	updated        []*model.Item
}

func (f *fakeItems) NeedsReview(_ context.Context, _ uuid.UUID, threshold float64, _ uint64) ([]model.Item, error) {
	f.usedThresholds = append(f.usedThresholds, threshold)
	return f.needsReview, nil
}

func (f *fakeItems) Disagreements(_ context.Context, _ uuid.UUID, _ uint64) ([]model.Item, error) {
	return f.disagreements, nil
}

func (f *fakeItems) CountNeedsReview(_ context.Context, _ uuid.UUID, threshold float64) (int, error) {
	f.usedThresholds = append(f.usedThresholds, threshold)
	return len(f.needsReview), nil
}

func (f *fakeItems) CountDisagreements(_ context.Context, _ uuid.UUID) (int, error) {
	return len(f.disagreements), nil
}

func (f *fakeItems) ArchiveAllPending(_ context.Context, _ uuid.UUID) (int64, error) {
	return f.archived, nil
}

func (f *fakeItems) Get(_ context.Context, _, _ uuid.UUID) (*model.Item, error) {
	return nil, model.ErrNotFound
}

func (f *fakeItems) Update(_ context.Context, item *model.Item) error {
	f.updated = append(f.updated, item)
	return nil
}

type fakeSettings struct {
	threshold float64
}

func (f *fakeSettings) Get(_ context.Context, userID uuid.UUID) (model.Settings, error) {
	return model.Settings{UserID: userID, ConfidenceThreshold: f.threshold}, nil
}

type fakeFiling struct {
	targets map[uuid.UUID]*model.FilingTarget
	notes   []*model.Note
}

func (f *fakeFiling) GetTarget(_ context.Context, _, id uuid.UUID) (*model.FilingTarget, error) {
	target, ok := f.targets[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return target, nil
}

func (f *fakeFiling) CreateNote(_ context.Context, n *model.Note) error {
	f.notes = append(f.notes, n)
	return nil
}

func queueItem(userID uuid.UUID) model.Item {
	return model.Item{
		ID:      uuid.New(),
		UserID:  userID,
		Type:    model.TypeManual,
		Content: "review budget\nmore detail below",
		Status:  model.StatusPending,
	}
}

func TestNeedsReviewUsesFreshThreshold(t *testing.T) {
	items := &fakeItems{}
	settings := &fakeSettings{threshold: 0.6}
	svc := NewService(items, settings, &fakeFiling{}, slog.New(slog.DiscardHandler))
	userID := uuid.New()

	_, err := svc.NeedsReview(context.Background(), userID)
	require.NoError(t, err)

	settings.threshold = 0.9
	_, err = svc.NeedsReview(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, []float64{0.6, 0.9}, items.usedThresholds)
}

func TestCounts(t *testing.T) {
	userID := uuid.New()
	items := &fakeItems{
		needsReview:   []model.Item{queueItem(userID), queueItem(userID)},
		disagreements: []model.Item{queueItem(userID)},
	}
	svc := NewService(items, &fakeSettings{threshold: 0.6}, &fakeFiling{}, slog.New(slog.DiscardHandler))

	counts, err := svc.Counts(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.NeedsReview)
	assert.Equal(t, 1, counts.Disagreements)
	assert.Equal(t, 3, counts.Mandatory)
	assert.False(t, counts.IsComplete)
}

func TestCountsComplete(t *testing.T) {
	svc := NewService(&fakeItems{}, &fakeSettings{threshold: 0.6}, &fakeFiling{}, slog.New(slog.DiscardHandler))

	counts, err := svc.Counts(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, counts.IsComplete)
	assert.Zero(t, counts.NeedsReview)
	assert.Zero(t, counts.Mandatory)
}

func TestArchiveAll(t *testing.T) {
	items := &fakeItems{archived: 7}
	svc := NewService(items, &fakeSettings{threshold: 0.6}, &fakeFiling{}, slog.New(slog.DiscardHandler))

	n, err := svc.ArchiveAll(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestFileAllTo(t *testing.T) {
	userID := uuid.New()
	target := &model.FilingTarget{ID: uuid.New(), UserID: userID, Kind: "project", Name: "Apartment Move"}
	filing := &fakeFiling{targets: map[uuid.UUID]*model.FilingTarget{target.ID: target}}
	items := &fakeItems{needsReview: []model.Item{queueItem(userID), queueItem(userID)}}
	svc := NewService(items, &fakeSettings{threshold: 0.6}, filing, slog.New(slog.DiscardHandler))

	n, err := svc.FileAllTo(context.Background(), userID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, filing.notes, 2)
	assert.Equal(t, target.ID, filing.notes[0].TargetID)
	assert.Equal(t, "review budget", filing.notes[0].Title)
	assert.Equal(t, items.needsReview[0].Content, filing.notes[0].Body)

	require.Len(t, items.updated, 2)
	for _, item := range items.updated {
		assert.Equal(t, model.StatusReviewed, item.Status)
		require.NotNil(t, item.ReviewedAt)
		require.NotNil(t, item.Feedback)
		assert.True(t, item.Feedback.Agreed)
	}
}

func TestFileAllToUnknownTarget(t *testing.T) {
	svc := NewService(&fakeItems{}, &fakeSettings{threshold: 0.6}, &fakeFiling{targets: map[uuid.UUID]*model.FilingTarget{}}, slog.New(slog.DiscardHandler))

	_, err := svc.FileAllTo(context.Background(), uuid.New(), uuid.New())
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestNoteTitle(t *testing.T) {
	assert.Equal(t, "short", noteTitle("short"))
	assert.Equal(t, "first line", noteTitle("first line\nsecond line"))
	long := make([]byte, 120)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, noteTitle(string(long)), 80)
}
