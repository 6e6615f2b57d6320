// Package worker plugs the classification engine and the maintenance sweeps
// into the asynq worker loop.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/dkrasnov/sift/internal/classify"
	"github.com/dkrasnov/sift/internal/model"
	"github.com/dkrasnov/sift/internal/pdf"
	"github.com/dkrasnov/sift/internal/repository"
	"github.com/dkrasnov/sift/internal/review"
	"github.com/dkrasnov/sift/internal/s3blob"
	"github.com/dkrasnov/sift/internal/tasks"
)

const indexTimeout = 10 * time.Second

// Processor handles all task types.
type Processor struct {
	engine      *classify.Engine
	items       *repository.ItemRepository
	settings    *repository.SettingsRepository
	sessions    *repository.SessionRepository
	reviews     *review.Service
	blobs       *s3blob.Store
	indexerURL  string
	httpClient  *http.Client
	concurrency int
	logger      *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(
	engine *classify.Engine,
	items *repository.ItemRepository,
	settings *repository.SettingsRepository,
	sessions *repository.SessionRepository,
	reviews *review.Service,
	blobs *s3blob.Store,
	indexerURL string,
	concurrency int,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = classify.BatchConcurrency
	}
	return &Processor{
		engine:      engine,
		items:       items,
		settings:    settings,
		sessions:    sessions,
		reviews:     reviews,
		blobs:       blobs,
		indexerURL:  indexerURL,
		httpClient:  &http.Client{Timeout: indexTimeout},
		concurrency: concurrency,
		logger:      logger,
	}
}

// Handler registers all task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.ClassifyItemTask, p.handleClassify)
	mux.HandleFunc(tasks.ClassifyBatchTask, p.handleBatch)
	mux.HandleFunc(tasks.IndexItemTask, p.handleIndex)
	mux.HandleFunc(tasks.SweepArchiveTask, p.handleSweepArchive)
	mux.HandleFunc(tasks.SweepSessionsTask, p.handleSweepSessions)
	return mux
}

func (p *Processor) handleClassify(ctx context.Context, task *asynq.Task) error {
	var payload tasks.ClassifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := p.extractAttachment(ctx, payload.ItemID); err != nil {
		p.logger.Error("attachment extraction failed", "item_id", payload.ItemID, "error", err)
	}
	_, err := p.engine.Classify(ctx, payload.ItemID)
	if errors.Is(err, classify.ErrPermanentFailure) {
		// The engine already dead-lettered the item. Retrying the task
		// would only repeat the failure.
		p.logger.Error("item failed permanently", "item_id", payload.ItemID, "error", err)
		return nil
	}
	return err
}

func (p *Processor) handleBatch(ctx context.Context, task *asynq.Task) error {
	var payload tasks.BatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	result := classify.Batch(ctx, p.engine, payload.ItemIDs, p.concurrency)
	p.logger.Info("batch classified", "succeeded", result.Succeeded, "failed", result.Failed)
	return nil
}

// extractAttachment replaces a forwarded PDF's placeholder content with the
// extracted text before classification. Items without an attachment, or with
// a non-PDF attachment, pass through untouched.
func (p *Processor) extractAttachment(ctx context.Context, itemID uuid.UUID) error {
	if p.blobs == nil {
		return nil
	}
	item, err := p.items.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item.ObjectKey == nil || !strings.HasSuffix(strings.ToLower(*item.ObjectKey), ".pdf") {
		return nil
	}
	if item.Classification != nil {
		// Reclassification reuses the text extracted on the first pass.
		return nil
	}
	data, err := p.blobs.Download(ctx, *item.ObjectKey)
	if err != nil {
		return fmt.Errorf("download attachment: %w", err)
	}
	text, err := pdf.ExtractText(data)
	if err != nil {
		return fmt.Errorf("extract text: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if item.Content != "" {
		text = item.Content + "\n\n" + text
	}
	return p.items.UpdateContent(ctx, item.ID, text)
}

// indexDocument is the shape the external indexer accepts.
type indexDocument struct {
	SourceType string    `json:"sourceType"`
	SourceID   uuid.UUID `json:"sourceId"`
	UserID     uuid.UUID `json:"userId"`
	Title      string    `json:"title,omitempty"`
	Content    string    `json:"content"`
	Category   string    `json:"category,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
}

func (p *Processor) handleIndex(ctx context.Context, task *asynq.Task) error {
	if p.indexerURL == "" {
		return nil
	}
	var payload tasks.IndexPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	item, err := p.items.GetByID(ctx, payload.ItemID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil
		}
		return err
	}
	doc := indexDocument{
		SourceType: "INBOX_ITEM",
		SourceID:   item.ID,
		UserID:     item.UserID,
		Title:      itemTitle(item.Content),
		Content:    item.Content,
	}
	if item.Classification != nil {
		doc.Category = item.Classification.Category
	}
	for _, tag := range item.Tags {
		doc.Tags = append(doc.Tags, tag.Value)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.indexerURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build index request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post to indexer: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("indexer returned %d", resp.StatusCode)
	}
	return nil
}

// itemTitle takes the first line of the content, capped for the indexer.
func itemTitle(content string) string {
	line := content
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return model.Clip(strings.TrimSpace(line), 80)
}

func (p *Processor) handleSweepArchive(ctx context.Context, _ *asynq.Task) error {
	users, err := p.items.UsersWithPending(ctx)
	if err != nil {
		return err
	}
	var total int64
	for _, userID := range users {
		settings, err := p.settings.Get(ctx, userID)
		if err != nil {
			p.logger.Error("loading settings for sweep", "user_id", userID, "error", err)
			continue
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -settings.AutoArchiveDays)
		n, err := p.items.ArchiveStale(ctx, userID, cutoff)
		if err != nil {
			p.logger.Error("archiving stale items", "user_id", userID, "error", err)
			continue
		}
		total += n
	}
	if total > 0 {
		p.logger.Info("auto-archived stale items", "count", total)
	}
	return nil
}

func (p *Processor) handleSweepSessions(ctx context.Context, _ *asynq.Task) error {
	expired, err := p.reviews.ExpireStale(ctx, p.sessions)
	if err != nil {
		return err
	}
	if expired > 0 {
		p.logger.Info("expired stale sessions", "count", expired)
	}
	return nil
}

// RegisterSweeps wires the maintenance tasks onto the asynq scheduler.
func RegisterSweeps(scheduler *asynq.Scheduler) error {
	if _, err := scheduler.Register("@every 1h", asynq.NewTask(tasks.SweepArchiveTask, nil)); err != nil {
		return fmt.Errorf("register archive sweep: %w", err)
	}
	if _, err := scheduler.Register("@every 10m", asynq.NewTask(tasks.SweepSessionsTask, nil)); err != nil {
		return fmt.Errorf("register session sweep: %w", err)
	}
	return nil
}
