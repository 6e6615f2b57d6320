package classify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkrasnov/sift/internal/model"
)

// fakeItemStore backs the ledger and engine tests with an in-memory map.
type fakeItemStore struct {
	mu      sync.Mutex
	items   map[uuid.UUID]*model.Item
	letters []*model.DeadLetter
	audits  []*model.Audit
}

func newFakeItemStore(items ...*model.Item) *fakeItemStore {
	s := &fakeItemStore{items: map[uuid.UUID]*model.Item{}}
	for _, item := range items {
		s.items[item.ID] = item
	}
	return s
}

func (s *fakeItemStore) GetByID(_ context.Context, id uuid.UUID) (*model.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return item, nil
}

func (s *fakeItemStore) Update(_ context.Context, item *model.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		return model.ErrNotFound
	}
	s.items[item.ID] = item
	return nil
}

func (s *fakeItemStore) SaveClassification(_ context.Context, item *model.Item, audit *model.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	s.audits = append(s.audits, audit)
	return nil
}

func (s *fakeItemStore) MarkFailedPermanently(_ context.Context, item *model.Item, letter *model.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	s.letters = append(s.letters, letter)
	return nil
}

func pendingItem() *model.Item {
	return &model.Item{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		Type:    model.TypeManual,
		Content: "call the landlord about the lease",
		Status:  model.StatusPending,
	}
}

func testLedger(store *fakeItemStore, now time.Time) *Ledger {
	l := NewLedger(store, slog.New(slog.DiscardHandler))
	l.now = func() time.Time { return now }
	return l
}

func TestRecordFailureBackoffSchedule(t *testing.T) {
	item := pendingItem()
	store := newFakeItemStore(item)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ledger := testLedger(store, now)

	for i, wantDelay := range RetryDelays {
		res, err := ledger.RecordFailure(context.Background(), item.ID, "provider timeout", nil)
		require.NoError(t, err)
		assert.True(t, res.ShouldRetry)
		assert.Equal(t, i+1, res.RetryCount)
		assert.Equal(t, now.Add(wantDelay), res.NextRetryAt)

		got := store.items[item.ID]
		assert.Equal(t, model.StatusPending, got.Status)
		assert.Equal(t, "provider timeout", got.Classification.Processing.LastError)
	}
}

func TestRecordFailureFlipsPermanentAfterBudget(t *testing.T) {
	item := pendingItem()
	store := newFakeItemStore(item)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	ledger := testLedger(store, now)

	for range RetryDelays {
		_, err := ledger.RecordFailure(context.Background(), item.ID, "provider timeout", nil)
		require.NoError(t, err)
	}
	res, err := ledger.RecordFailure(context.Background(), item.ID, "provider timeout", nil)
	require.NoError(t, err)
	assert.False(t, res.ShouldRetry)
	assert.Equal(t, MaxRetries, res.RetryCount)

	got := store.items[item.ID]
	assert.Equal(t, model.StatusError, got.Status)
	meta := got.Classification.Processing
	assert.Equal(t, MaxRetries, meta.RetryCount)
	require.NotNil(t, meta.FailedAt)
	assert.Nil(t, meta.NextRetryAt)

	require.Len(t, store.letters, 1)
	letter := store.letters[0]
	assert.Equal(t, item.ID, letter.ItemID)
	assert.Equal(t, "classification", letter.Kind)
	assert.Equal(t, MaxRetries, letter.RetryCount)
	assert.Equal(t, "provider timeout", letter.Error)

	// Further calls keep reporting permanent failure without adding letters.
	res, err = ledger.RecordFailure(context.Background(), item.ID, "provider timeout", nil)
	require.NoError(t, err)
	assert.False(t, res.ShouldRetry)
	assert.Equal(t, MaxRetries, res.RetryCount)
	assert.Len(t, store.letters, 1)
}

func TestRecordFailureOverrideCount(t *testing.T) {
	item := pendingItem()
	store := newFakeItemStore(item)
	ledger := testLedger(store, time.Now())

	override := MaxRetries
	res, err := ledger.RecordFailure(context.Background(), item.ID, "boom", &override)
	require.NoError(t, err)
	assert.False(t, res.ShouldRetry)
	assert.Equal(t, model.StatusError, store.items[item.ID].Status)
}

func TestRecordFailureTruncatesDeadLetterPayload(t *testing.T) {
	item := pendingItem()
	item.Content = strings.Repeat("x", deadLetterPayloadMax+200)
	store := newFakeItemStore(item)
	ledger := testLedger(store, time.Now())

	override := MaxRetries
	_, err := ledger.RecordFailure(context.Background(), item.ID, "boom", &override)
	require.NoError(t, err)
	require.Len(t, store.letters, 1)
	assert.Len(t, store.letters[0].Payload, deadLetterPayloadMax)
}

func TestRecordFailureDeadLetterPayloadStaysValidUTF8(t *testing.T) {
	item := pendingItem()
	item.Content = "a" + strings.Repeat("é", deadLetterPayloadMax)
	store := newFakeItemStore(item)
	ledger := testLedger(store, time.Now())

	override := MaxRetries
	_, err := ledger.RecordFailure(context.Background(), item.ID, "boom", &override)
	require.NoError(t, err)
	require.Len(t, store.letters, 1)
	payload := store.letters[0].Payload
	assert.True(t, utf8.ValidString(payload))
	assert.LessOrEqual(t, len(payload), deadLetterPayloadMax)
}

func TestResetForRetry(t *testing.T) {
	item := pendingItem()
	item.Status = model.StatusError
	item.Classification = &model.Classification{
		Error: "provider timeout",
		Processing: &model.ProcessingMeta{
			RetryCount: MaxRetries,
			LastError:  "provider timeout",
		},
	}
	store := newFakeItemStore(item)
	ledger := testLedger(store, time.Now())

	require.NoError(t, ledger.ResetForRetry(context.Background(), item.ID))
	got := store.items[item.ID]
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Zero(t, got.Classification.Processing.RetryCount)
	assert.Empty(t, got.Classification.Error)
	assert.Nil(t, got.Classification.Processing.FailedAt)
}

func TestResetForRetryRejectsNonErrored(t *testing.T) {
	item := pendingItem()
	store := newFakeItemStore(item)
	ledger := testLedger(store, time.Now())

	err := ledger.ResetForRetry(context.Background(), item.ID)
	assert.True(t, errors.Is(err, model.ErrInvalidState))
}

func TestRecordFailureUnknownItem(t *testing.T) {
	ledger := testLedger(newFakeItemStore(), time.Now())
	_, err := ledger.RecordFailure(context.Background(), uuid.New(), "boom", nil)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
