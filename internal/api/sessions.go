package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/dkrasnov/sift/internal/model"
	"github.com/dkrasnov/sift/internal/review"
)

// handleSessions starts a review session, or resumes the active one.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	session, err := s.reviews.StartOrResume(r.Context(), uid)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) handleSessionRoute(w http.ResponseWriter, r *http.Request) {
	parts := pathSegments(r, "/sessions/")
	if len(parts) == 0 {
		http.NotFound(w, r)
		return
	}
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	sessionID, err := uuid.Parse(parts[0])
	if err != nil {
		s.respondError(w, r, fmt.Errorf("invalid session id: %w", model.ErrInvalidInput))
		return
	}
	if r.Method != http.MethodPost || len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	switch parts[1] {
	case "swipe":
		s.handleSwipe(w, r, uid, sessionID)
	case "undo":
		s.handleUndo(w, r, uid, sessionID)
	case "complete":
		s.handleComplete(w, r, uid, sessionID)
	default:
		http.NotFound(w, r)
	}
}

type swipeRequest struct {
	ItemID    uuid.UUID        `json:"itemId"`
	Direction review.Direction `json:"direction"`
}

func (s *Server) handleSwipe(w http.ResponseWriter, r *http.Request, uid, sessionID uuid.UUID) {
	var req swipeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.ItemID == uuid.Nil {
		s.respondError(w, r, fmt.Errorf("itemId required: %w", model.ErrInvalidInput))
		return
	}
	result, err := s.reviews.ApplyVerdict(r.Context(), uid, sessionID, req.ItemID, req.Direction)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type undoRequest struct {
	ItemID uuid.UUID `json:"itemId"`
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request, uid, sessionID uuid.UUID) {
	var req undoRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.ItemID == uuid.Nil {
		s.respondError(w, r, fmt.Errorf("itemId required: %w", model.ErrInvalidInput))
		return
	}
	item, err := s.reviews.Undo(r.Context(), uid, sessionID, req.ItemID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, uid, sessionID uuid.UUID) {
	session, err := s.reviews.Complete(r.Context(), uid, sessionID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, session)
}
