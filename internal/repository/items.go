package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dkrasnov/sift/internal/model"
)

const itemColumns = `id, user_id, item_type, content, source, status, object_key,
	classification, extracted_actions, tags, user_feedback,
	created_at, updated_at, reviewed_at, archived_at`

// ItemRepository persists inbox items, including the transactional writes
// that pair an item update with its audit or dead-letter record.
type ItemRepository struct {
	db DB
}

// NewItemRepository constructs a repository.
func NewItemRepository(db DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// Create inserts a freshly captured item with status pending.
func (r *ItemRepository) Create(ctx context.Context, item *model.Item) error {
	now := time.Now().UTC()
	if item.Status == "" {
		item.Status = model.StatusPending
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	enc, err := encodeItemBlobs(item)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO items (id, user_id, item_type, content, source, status, object_key,
			classification, extracted_actions, tags, user_feedback,
			created_at, updated_at, reviewed_at, archived_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, item.ID, item.UserID, item.Type, item.Content, item.Source, item.Status, item.ObjectKey,
		enc.classification, enc.actions, enc.tags, enc.feedback,
		item.CreatedAt, item.UpdatedAt, item.ReviewedAt, item.ArchivedAt)
	if err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

// GetByID returns an item regardless of owner. Used by the worker, which is
// keyed by item id alone.
func (r *ItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Item, error) {
	row := r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, id)
	return scanItem(row)
}

// Get returns an item scoped to its owner.
func (r *ItemRepository) Get(ctx context.Context, userID, id uuid.UUID) (*model.Item, error) {
	row := r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 AND user_id=$2`, id, userID)
	return scanItem(row)
}

// Update writes every mutable field back to the row.
func (r *ItemRepository) Update(ctx context.Context, item *model.Item) error {
	item.UpdatedAt = time.Now().UTC()
	enc, err := encodeItemBlobs(item)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE items
		SET content=$1, status=$2, classification=$3, extracted_actions=$4, tags=$5,
			user_feedback=$6, updated_at=$7, reviewed_at=$8, archived_at=$9
		WHERE id=$10
	`, item.Content, item.Status, enc.classification, enc.actions, enc.tags,
		enc.feedback, item.UpdatedAt, item.ReviewedAt, item.ArchivedAt, item.ID)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// SaveClassification persists the item's classification outcome and its audit
// record in one transaction so no audit is ever orphaned from a status change.
func (r *ItemRepository) SaveClassification(ctx context.Context, item *model.Item, audit *model.Audit) error {
	item.UpdatedAt = time.Now().UTC()
	enc, err := encodeItemBlobs(item)
	if err != nil {
		return err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin classification tx: %w", err)
	}
	defer tx.Rollback(ctx)
	_, err = tx.Exec(ctx, `
		UPDATE items
		SET status=$1, classification=$2, extracted_actions=$3, tags=$4,
			updated_at=$5, reviewed_at=$6
		WHERE id=$7
	`, item.Status, enc.classification, enc.actions, enc.tags,
		item.UpdatedAt, item.ReviewedAt, item.ID)
	if err != nil {
		return fmt.Errorf("update classified item: %w", err)
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit classification tx: %w", err)
	}
	return nil
}

// MarkFailedPermanently flips the item to error and writes the dead-letter
// record in the same transaction.
func (r *ItemRepository) MarkFailedPermanently(ctx context.Context, item *model.Item, letter *model.DeadLetter) error {
	item.UpdatedAt = time.Now().UTC()
	enc, err := encodeItemBlobs(item)
	if err != nil {
		return err
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin failure tx: %w", err)
	}
	defer tx.Rollback(ctx)
	_, err = tx.Exec(ctx, `
		UPDATE items SET status=$1, classification=$2, updated_at=$3 WHERE id=$4
	`, item.Status, enc.classification, item.UpdatedAt, item.ID)
	if err != nil {
		return fmt.Errorf("update failed item: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO dead_letters (id, item_id, user_id, kind, payload, error, retry_count, max_retries, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, letter.ID, letter.ItemID, letter.UserID, letter.Kind, letter.Payload, letter.Error,
		letter.RetryCount, letter.MaxRetries, letter.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit failure tx: %w", err)
	}
	return nil
}

// UpdateContent replaces the item content. Used when the worker extracts text
// from a forwarded document before classification.
func (r *ItemRepository) UpdateContent(ctx context.Context, id uuid.UUID, content string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE items SET content=$1, updated_at=$2 WHERE id=$3
	`, content, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update item content: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// StatusView is the polling projection of an item.
type StatusView struct {
	ID         uuid.UUID        `json:"id"`
	Status     model.ItemStatus `json:"status"`
	Category   string           `json:"category,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
	LastError  string           `json:"lastError,omitempty"`
	RetryCount int              `json:"retryCount"`
}

// StatusPoll returns the classification status for a list of owned item ids.
func (r *ItemRepository) StatusPoll(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) ([]StatusView, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, status, classification FROM items WHERE user_id=$1 AND id = ANY($2)
	`, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("poll items: %w", err)
	}
	defer rows.Close()
	views := []StatusView{}
	for rows.Next() {
		var (
			v       StatusView
			clsJSON []byte
		)
		if err := rows.Scan(&v.ID, &v.Status, &clsJSON); err != nil {
			return nil, fmt.Errorf("scan status row: %w", err)
		}
		var cls model.Classification
		if len(clsJSON) > 0 {
			if err := unmarshalJSON(clsJSON, &cls); err != nil {
				return nil, err
			}
			v.Category = cls.Category
			confidence := cls.Confidence
			v.Confidence = &confidence
			if cls.Processing != nil {
				v.LastError = cls.Processing.LastError
				v.RetryCount = cls.Processing.RetryCount
			}
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

// NeedsReview returns pending items that are unclassified or scored below the
// user's threshold, oldest first.
func (r *ItemRepository) NeedsReview(ctx context.Context, userID uuid.UUID, threshold float64, limit uint64) ([]model.Item, error) {
	query := sq.Select(itemColumns).
		From("items").
		Where(sq.Eq{"user_id": userID, "status": model.StatusPending}).
		Where(sq.Or{
			sq.Expr("classification IS NULL"),
			sq.Expr("(classification->>'confidence')::float8 < ?", threshold),
		}).
		OrderBy("created_at ASC").
		Limit(limit).
		PlaceholderFormat(sq.Dollar)
	return r.queryItems(ctx, query)
}

// Disagreements returns pending items the user deferred to the weekly review.
func (r *ItemRepository) Disagreements(ctx context.Context, userID uuid.UUID, limit uint64) ([]model.Item, error) {
	query := sq.Select(itemColumns).
		From("items").
		Where(sq.Eq{"user_id": userID, "status": model.StatusPending}).
		Where(sq.Expr("user_feedback->>'deferredToWeekly' = 'true'")).
		OrderBy("created_at ASC").
		Limit(limit).
		PlaceholderFormat(sq.Dollar)
	return r.queryItems(ctx, query)
}

// CountNeedsReview counts queue membership without the cap.
func (r *ItemRepository) CountNeedsReview(ctx context.Context, userID uuid.UUID, threshold float64) (int, error) {
	query := sq.Select("COUNT(*)").
		From("items").
		Where(sq.Eq{"user_id": userID, "status": model.StatusPending}).
		Where(sq.Or{
			sq.Expr("classification IS NULL"),
			sq.Expr("(classification->>'confidence')::float8 < ?", threshold),
		}).
		PlaceholderFormat(sq.Dollar)
	return r.queryCount(ctx, query)
}

// CountDisagreements counts deferred items without the cap.
func (r *ItemRepository) CountDisagreements(ctx context.Context, userID uuid.UUID) (int, error) {
	query := sq.Select("COUNT(*)").
		From("items").
		Where(sq.Eq{"user_id": userID, "status": model.StatusPending}).
		Where(sq.Expr("user_feedback->>'deferredToWeekly' = 'true'")).
		PlaceholderFormat(sq.Dollar)
	return r.queryCount(ctx, query)
}

// ArchiveAllPending archives every pending item for a user (inbox bankruptcy).
func (r *ItemRepository) ArchiveAllPending(ctx context.Context, userID uuid.UUID) (int64, error) {
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, `
		UPDATE items SET status=$1, archived_at=$2, updated_at=$2
		WHERE user_id=$3 AND status=$4
	`, model.StatusArchived, now, userID, model.StatusPending)
	if err != nil {
		return 0, fmt.Errorf("archive pending items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ArchiveStale archives a user's pending items created before the cutoff.
func (r *ItemRepository) ArchiveStale(ctx context.Context, userID uuid.UUID, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	tag, err := r.db.Exec(ctx, `
		UPDATE items SET status=$1, archived_at=$2, updated_at=$2
		WHERE user_id=$3 AND status=$4 AND created_at < $5
	`, model.StatusArchived, now, userID, model.StatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive stale items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UsersWithPending lists the users the auto-archive sweep must visit.
func (r *ItemRepository) UsersWithPending(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT user_id FROM items WHERE status=$1`, model.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list users with pending items: %w", err)
	}
	defer rows.Close()
	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func (r *ItemRepository) queryItems(ctx context.Context, query sq.SelectBuilder) ([]model.Item, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build item query: %w", err)
	}
	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()
	items := []model.Item{}
	for rows.Next() {
		item, err := scanItemRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (r *ItemRepository) queryCount(ctx context.Context, query sq.SelectBuilder) (int, error) {
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var count int
	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count items: %w", err)
	}
	return count, nil
}

type encodedBlobs struct {
	classification []byte
	actions        []byte
	tags           []byte
	feedback       []byte
}

func encodeItemBlobs(item *model.Item) (*encodedBlobs, error) {
	enc := &encodedBlobs{}
	var err error
	if item.Classification != nil {
		if enc.classification, err = marshalJSON(item.Classification); err != nil {
			return nil, err
		}
	}
	actions := item.ExtractedActions
	if actions == nil {
		actions = []model.ExtractedAction{}
	}
	if enc.actions, err = marshalJSON(actions); err != nil {
		return nil, err
	}
	tags := item.Tags
	if tags == nil {
		tags = []model.Tag{}
	}
	if enc.tags, err = marshalJSON(tags); err != nil {
		return nil, err
	}
	if item.Feedback != nil {
		if enc.feedback, err = marshalJSON(item.Feedback); err != nil {
			return nil, err
		}
	}
	return enc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row pgx.Row) (*model.Item, error) {
	item, err := scanItemRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func scanItemRow(row rowScanner) (*model.Item, error) {
	var (
		item         model.Item
		clsJSON      []byte
		actionsJSON  []byte
		tagsJSON     []byte
		feedbackJSON []byte
	)
	err := row.Scan(
		&item.ID, &item.UserID, &item.Type, &item.Content, &item.Source, &item.Status, &item.ObjectKey,
		&clsJSON, &actionsJSON, &tagsJSON, &feedbackJSON,
		&item.CreatedAt, &item.UpdatedAt, &item.ReviewedAt, &item.ArchivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}
	if len(clsJSON) > 0 {
		item.Classification = &model.Classification{}
		if err := json.Unmarshal(clsJSON, item.Classification); err != nil {
			return nil, fmt.Errorf("decode classification blob: %w", err)
		}
	}
	item.ExtractedActions = []model.ExtractedAction{}
	if err := unmarshalJSON(actionsJSON, &item.ExtractedActions); err != nil {
		return nil, err
	}
	item.Tags = []model.Tag{}
	if err := unmarshalJSON(tagsJSON, &item.Tags); err != nil {
		return nil, err
	}
	if len(feedbackJSON) > 0 {
		item.Feedback = &model.UserFeedback{}
		if err := json.Unmarshal(feedbackJSON, item.Feedback); err != nil {
			return nil, fmt.Errorf("decode feedback blob: %w", err)
		}
	}
	return &item, nil
}
