package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dkrasnov/sift/internal/model"
)

func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		targets, err := s.filing.ListTargets(r.Context(), uid)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"targets": targets})
	case http.MethodPost:
		s.handleCreateTarget(w, r, uid)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type createTargetRequest struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

func (s *Server) handleCreateTarget(w http.ResponseWriter, r *http.Request, uid uuid.UUID) {
	var req createTargetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	req.Name = strings.TrimSpace(req.Name)
	if req.Kind != "project" && req.Kind != "area" {
		s.respondError(w, r, fmt.Errorf("kind must be project or area: %w", model.ErrInvalidInput))
		return
	}
	if req.Name == "" {
		s.respondError(w, r, fmt.Errorf("name required: %w", model.ErrInvalidInput))
		return
	}
	target := &model.FilingTarget{
		ID:     uuid.New(),
		UserID: uid,
		Kind:   req.Kind,
		Name:   req.Name,
	}
	if err := s.filing.CreateTarget(r.Context(), target); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, target)
}

type settingsRequest struct {
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
	AutoArchiveDays     int     `json:"autoArchiveDays"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	uid, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.Get(r.Context(), uid)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req settingsRequest
		if err := decodeJSON(r, &req); err != nil {
			s.respondError(w, r, err)
			return
		}
		if req.ConfidenceThreshold < 0 || req.ConfidenceThreshold > 1 {
			s.respondError(w, r, fmt.Errorf("confidenceThreshold must be within [0,1]: %w", model.ErrInvalidInput))
			return
		}
		if req.AutoArchiveDays <= 0 {
			req.AutoArchiveDays = model.DefaultAutoArchiveDays
		}
		settings := model.Settings{
			UserID:              uid,
			ConfidenceThreshold: req.ConfidenceThreshold,
			AutoArchiveDays:     req.AutoArchiveDays,
		}
		if err := s.settings.Upsert(r.Context(), settings); err != nil {
			s.respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, settings)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
