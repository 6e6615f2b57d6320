package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dkrasnov/sift/internal/model"
	"github.com/dkrasnov/sift/internal/tasks"
)

// attachmentURLTTL bounds how long a presigned attachment link stays valid.
const attachmentURLTTL = 15 * time.Minute

var captureTypes = map[model.ItemType]bool{
	model.TypeManual:  true,
	model.TypeImage:   true,
	model.TypeVoice:   true,
	model.TypeEmail:   true,
	model.TypeForward: true,
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.handleCapture(w, r)
}

type captureRequest struct {
	Type    model.ItemType `json:"type"`
	Content string         `json:"content"`
	Source  string         `json:"source,omitempty"`
}

// handleCapture accepts either a JSON body or a multipart form with an
// attachment. The item is stored pending and classification runs async; the
// 202 response carries only the id and status.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxCaptureBytes+1024)

	item := &model.Item{
		ID:     uuid.New(),
		UserID: uid,
		Status: model.StatusPending,
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := s.captureMultipart(r, item); err != nil {
			s.respondError(w, r, err)
			return
		}
	} else {
		var req captureRequest
		if err := decodeJSON(r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
		item.Type = req.Type
		item.Content = strings.TrimSpace(req.Content)
		item.Source = req.Source
	}
	if item.Type == "" {
		item.Type = model.TypeManual
	}
	if !captureTypes[item.Type] {
		s.respondError(w, r, fmt.Errorf("unknown capture type %q: %w", item.Type, model.ErrInvalidInput))
		return
	}
	if item.Content == "" && item.ObjectKey == nil {
		s.respondError(w, r, fmt.Errorf("content or attachment required: %w", model.ErrInvalidInput))
		return
	}
	if err := s.items.Create(r.Context(), item); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := tasks.EnqueueClassify(r.Context(), s.queue, item.ID); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     item.ID.String(),
		"status": string(item.Status),
	})
}

// captureMultipart reads the form fields and streams the first file part into
// object storage under captures/<itemID>/.
func (s *Server) captureMultipart(r *http.Request, item *model.Item) error {
	mr, err := r.MultipartReader()
	if err != nil {
		return fmt.Errorf("expecting multipart form: %w", model.ErrInvalidInput)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read form part: %w", model.ErrInvalidInput)
		}
		switch part.FormName() {
		case "type":
			value, err := readFormValue(part)
			if err != nil {
				return err
			}
			item.Type = model.ItemType(value)
		case "content":
			value, err := readFormValue(part)
			if err != nil {
				return err
			}
			item.Content = strings.TrimSpace(value)
		case "source":
			value, err := readFormValue(part)
			if err != nil {
				return err
			}
			item.Source = value
		case "file":
			if err := s.storeAttachment(r, part, item); err != nil {
				part.Close()
				return err
			}
		default:
			part.Close()
		}
	}
	return nil
}

func readFormValue(part *multipart.Part) (string, error) {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, 64*1024))
	if err != nil {
		return "", fmt.Errorf("read form field: %w", model.ErrInvalidInput)
	}
	return string(data), nil
}

func (s *Server) storeAttachment(r *http.Request, part *multipart.Part, item *model.Item) error {
	defer part.Close()
	if s.blobs == nil {
		return errors.New("attachment storage not configured")
	}
	data, err := io.ReadAll(io.LimitReader(part, s.cfg.MaxCaptureBytes+1))
	if err != nil {
		return fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxCaptureBytes {
		return fmt.Errorf("attachment exceeds %d bytes: %w", s.cfg.MaxCaptureBytes, model.ErrInvalidInput)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty attachment: %w", model.ErrInvalidInput)
	}
	filename := part.FileName()
	if filename == "" {
		filename = "attachment"
	}
	contentType := http.DetectContentType(data)
	objectKey := fmt.Sprintf("captures/%s/%s", item.ID, filepath.Base(filename))
	if err := s.blobs.UploadBytes(r.Context(), objectKey, data, contentType); err != nil {
		return fmt.Errorf("store attachment: %w", err)
	}
	item.ObjectKey = &objectKey
	return nil
}

// handleStatusPoll serves GET /items/status?ids=a,b,c for clients polling
// classification progress.
func (s *Server) handleStatusPoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	raw := strings.Split(r.URL.Query().Get("ids"), ",")
	ids := make([]uuid.UUID, 0, len(raw))
	for _, v := range raw {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			s.respondError(w, r, fmt.Errorf("invalid item id %q: %w", v, model.ErrInvalidInput))
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		s.respondError(w, r, fmt.Errorf("ids parameter required: %w", model.ErrInvalidInput))
		return
	}
	views, err := s.items.StatusPoll(r.Context(), uid, ids)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (s *Server) handleItemRoute(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r, "/items/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(parts[0])
	if err != nil {
		s.respondError(w, r, fmt.Errorf("invalid item id: %w", model.ErrInvalidInput))
		return
	}
	if len(parts) == 1 {
		s.handleItemGet(w, r, uid, itemID)
		return
	}
	if parts[1] == "audits" {
		s.handleItemAudits(w, r, uid, itemID)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "retry":
		s.handleRetry(w, r, uid, itemID)
	case "correction":
		s.handleCorrection(w, r, uid, itemID)
	case "defer":
		s.handleDefer(w, r, uid, itemID)
	case "archive":
		s.handleArchive(w, r, uid, itemID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleItemGet(w http.ResponseWriter, r *http.Request, uid, itemID uuid.UUID) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	item, err := s.items.Get(r.Context(), uid, itemID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	resp := struct {
		*model.Item
		AttachmentURL string `json:"attachmentUrl,omitempty"`
	}{Item: item}
	if item.ObjectKey != nil {
		u, err := s.blobs.PresignURL(r.Context(), *item.ObjectKey, attachmentURLTTL)
		if err != nil {
			s.logger.Warn("presign attachment", "item_id", item.ID, "error", err)
		} else {
			resp.AttachmentURL = u
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleItemAudits lists the item's classification audit trail, oldest first.
func (s *Server) handleItemAudits(w http.ResponseWriter, r *http.Request, uid, itemID uuid.UUID) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.items.Get(r.Context(), uid, itemID); err != nil {
		s.respondError(w, r, err)
		return
	}
	audits, err := s.audits.ListForItem(r.Context(), itemID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"audits": audits})
}

// handleRetry re-enqueues classification. Errored items are reset back to
// pending first so the engine accepts them.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, uid, itemID uuid.UUID) {
	item, err := s.items.Get(r.Context(), uid, itemID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if item.Status == model.StatusError {
		if err := s.ledger.ResetForRetry(r.Context(), item.ID); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	if err := tasks.EnqueueClassify(r.Context(), s.queue, item.ID); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     item.ID.String(),
		"status": string(model.StatusPending),
	})
}

type correctionRequest struct {
	Category string                  `json:"category"`
	Actions  []model.ExtractedAction `json:"extractedActions,omitempty"`
}

// handleCorrection records the human override and closes the disagreement:
// the item keeps the corrected category and is marked reviewed.
func (s *Server) handleCorrection(w http.ResponseWriter, r *http.Request, uid, itemID uuid.UUID) {
	var req correctionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	req.Category = strings.ToLower(strings.TrimSpace(req.Category))
	if req.Category == "" {
		s.respondError(w, r, fmt.Errorf("category required: %w", model.ErrInvalidInput))
		return
	}
	item, err := s.items.Get(r.Context(), uid, itemID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	correction := &model.Correction{
		ID:                uuid.New(),
		ItemID:            item.ID,
		UserID:            uid,
		CorrectedCategory: req.Category,
		OriginalActions:   item.ExtractedActions,
		CorrectedActions:  req.Actions,
	}
	if item.Classification != nil {
		correction.OriginalCategory = item.Classification.Category
	}
	if err := s.corrections.Create(r.Context(), correction); err != nil {
		s.respondError(w, r, err)
		return
	}

	now := time.Now().UTC()
	if item.Classification == nil {
		item.Classification = &model.Classification{Confidence: 1}
	}
	item.Classification.Category = req.Category
	if req.Actions != nil {
		item.ExtractedActions = req.Actions
	}
	item.Status = model.StatusReviewed
	item.ReviewedAt = &now
	item.Feedback = &model.UserFeedback{Agreed: false}
	if err := s.items.Update(r.Context(), item); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// handleDefer pushes a disagreement out of the mandatory queue and into the
// weekly review. The item itself stays pending.
func (s *Server) handleDefer(w http.ResponseWriter, r *http.Request, uid, itemID uuid.UUID) {
	item, err := s.items.Get(r.Context(), uid, itemID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	feedback := item.Feedback
	if feedback == nil {
		feedback = &model.UserFeedback{Agreed: false, NeedsCorrection: true}
	}
	feedback.DeferredToWeekly = true
	item.Feedback = feedback
	if err := s.items.Update(r.Context(), item); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request, uid, itemID uuid.UUID) {
	item, err := s.items.Get(r.Context(), uid, itemID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	now := time.Now().UTC()
	item.Status = model.StatusArchived
	item.ArchivedAt = &now
	if err := s.items.Update(r.Context(), item); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}
