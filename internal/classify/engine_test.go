package classify

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrasnov/sift/internal/model"
	"github.com/dkrasnov/sift/internal/provider"
)

// scriptedClassifier replays a fixed sequence of results and errors.
type scriptedClassifier struct {
	results []*provider.RawResult
	errs    []error
	calls   int
}

func (c *scriptedClassifier) Classify(_ context.Context, _ provider.Request) (*provider.RawResult, error) {
	i := c.calls
	c.calls++
	if i >= len(c.errs) {
		i = len(c.errs) - 1
	}
	return c.results[i], c.errs[i]
}

type fixedSettings struct {
	threshold float64
}

func (s fixedSettings) Get(_ context.Context, userID uuid.UUID) (model.Settings, error) {
	return model.Settings{
		UserID:              userID,
		ConfidenceThreshold: s.threshold,
		AutoArchiveDays:     model.DefaultAutoArchiveDays,
	}, nil
}

type fixedContext struct{}

func (fixedContext) UserContext(_ context.Context, _ uuid.UUID) ([]string, []string, error) {
	return []string{"Health"}, []string{"Apartment Move"}, nil
}

type recordingIndexer struct {
	itemIDs []uuid.UUID
}

func (r *recordingIndexer) ScheduleIndex(_ context.Context, item *model.Item) error {
	r.itemIDs = append(r.itemIDs, item.ID)
	return nil
}

func testEngine(store *fakeItemStore, classifier provider.Classifier, threshold float64, indexer IndexScheduler) *Engine {
	logger := slog.New(slog.DiscardHandler)
	engine := NewEngine(store, fixedSettings{threshold: threshold}, fixedContext{}, classifier, NewLedger(store, logger), indexer, logger)
	engine.wait = func(_ context.Context, _ time.Time) error { return nil }
	return engine
}

func TestClassifyAutoFilesHighConfidence(t *testing.T) {
	item := pendingItem()
	store := newFakeItemStore(item)
	classifier := &scriptedClassifier{
		results: []*provider.RawResult{{
			Category:   "task",
			Confidence: 0.92,
			Reasoning:  "clearly actionable",
			Model:      "claude-3-5-haiku-latest",
		}},
		errs: []error{nil},
	}
	indexer := &recordingIndexer{}
	engine := testEngine(store, classifier, 0.6, indexer)

	cls, err := engine.Classify(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, "task", cls.Category)
	assert.Equal(t, 0.92, cls.Confidence)
	assert.True(t, cls.AutoFiled)

	got := store.items[item.ID]
	assert.Equal(t, model.StatusReviewed, got.Status)
	require.NotNil(t, got.ReviewedAt)
	require.Len(t, store.audits, 1)
	assert.Equal(t, "task", store.audits[0].Category)
	assert.Equal(t, []uuid.UUID{item.ID}, indexer.itemIDs)
	assert.Equal(t, 1, classifier.calls)
}

func TestClassifyLowConfidenceStaysPending(t *testing.T) {
	item := pendingItem()
	store := newFakeItemStore(item)
	classifier := &scriptedClassifier{
		results: []*provider.RawResult{{Category: "idea", Confidence: 0.4, Reasoning: "ambiguous"}},
		errs:    []error{nil},
	}
	engine := testEngine(store, classifier, 0.6, nil)

	cls, err := engine.Classify(context.Background(), item.ID)
	require.NoError(t, err)
	assert.False(t, cls.AutoFiled)

	got := store.items[item.ID]
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.ReviewedAt)
	require.Len(t, store.audits, 1)
}

func TestClassifyRecoversAfterTransientFailure(t *testing.T) {
	item := pendingItem()
	store := newFakeItemStore(item)
	classifier := &scriptedClassifier{
		results: []*provider.RawResult{
			nil,
			{Category: "note", Confidence: 0.8, Reasoning: "ok"},
		},
		errs: []error{errors.New("provider timeout"), nil},
	}
	engine := testEngine(store, classifier, 0.6, nil)

	cls, err := engine.Classify(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, "note", cls.Category)
	assert.Equal(t, 2, classifier.calls)

	got := store.items[item.ID]
	assert.Equal(t, model.StatusReviewed, got.Status)
	assert.Equal(t, 1, got.Classification.Processing.RetryCount)
}

func TestClassifyExhaustsRetriesAndDeadLetters(t *testing.T) {
	item := pendingItem()
	store := newFakeItemStore(item)
	classifier := &scriptedClassifier{
		results: []*provider.RawResult{nil, nil, nil},
		errs: []error{
			errors.New("provider timeout"),
			errors.New("provider timeout"),
			errors.New("rate limited"),
		},
	}
	engine := testEngine(store, classifier, 0.6, nil)

	_, err := engine.Classify(context.Background(), item.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermanentFailure))
	assert.Equal(t, MaxRetries, classifier.calls)

	got := store.items[item.ID]
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, MaxRetries, got.Classification.Processing.RetryCount)
	require.Len(t, store.letters, 1)
	// The dead letter carries the last real provider error.
	assert.Equal(t, "rate limited", store.letters[0].Error)
	assert.Empty(t, store.audits)
}

func TestClassifyUnknownItem(t *testing.T) {
	engine := testEngine(newFakeItemStore(), &scriptedClassifier{results: []*provider.RawResult{nil}, errs: []error{nil}}, 0.6, nil)
	_, err := engine.Classify(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestBatchCollectsPerItemOutcomes(t *testing.T) {
	ok := pendingItem()
	store := newFakeItemStore(ok)
	classifier := &scriptedClassifier{
		results: []*provider.RawResult{{Category: "task", Confidence: 0.9, Reasoning: "ok"}},
		errs:    []error{nil},
	}
	engine := testEngine(store, classifier, 0.6, nil)

	missing := uuid.New()
	result := Batch(context.Background(), engine, []uuid.UUID{ok.ID, missing}, 2)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.True(t, errors.Is(result.Errors[missing], model.ErrNotFound))
}
