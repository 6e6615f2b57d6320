package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/dkrasnov/sift/internal/model"
)

func (s *Server) handleQueueRoute(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r, "/queues/")
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	switch parts[0] {
	case "needs-review":
		s.handleNeedsReview(w, r, uid)
	case "disagreements":
		s.handleDisagreements(w, r, uid)
	case "counts":
		s.handleCounts(w, r, uid)
	case "archive-all":
		s.handleArchiveAll(w, r, uid)
	case "file-all":
		s.handleFileAll(w, r, uid)
	case "bankruptcy":
		s.handleBankruptcy(w, r, uid)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleNeedsReview(w http.ResponseWriter, r *http.Request, uid uuid.UUID) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items, err := s.triage.NeedsReview(r.Context(), uid)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleDisagreements(w http.ResponseWriter, r *http.Request, uid uuid.UUID) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	items, err := s.triage.Disagreements(r.Context(), uid)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request, uid uuid.UUID) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	counts, err := s.triage.Counts(r.Context(), uid)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

func (s *Server) handleArchiveAll(w http.ResponseWriter, r *http.Request, uid uuid.UUID) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := s.triage.ArchiveAll(r.Context(), uid)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"archived": n})
}

type fileAllRequest struct {
	TargetID uuid.UUID `json:"targetId"`
}

func (s *Server) handleFileAll(w http.ResponseWriter, r *http.Request, uid uuid.UUID) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req fileAllRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.TargetID == uuid.Nil {
		s.respondError(w, r, fmt.Errorf("targetId required: %w", model.ErrInvalidInput))
		return
	}
	n, err := s.triage.FileAllTo(r.Context(), uid, req.TargetID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"filed": n})
}

func (s *Server) handleBankruptcy(w http.ResponseWriter, r *http.Request, uid uuid.UUID) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n, err := s.triage.Bankruptcy(r.Context(), uid)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"archived": n})
}
