// Package api exposes the HTTP surface: capture, item lifecycle, queues and
// review sessions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/dkrasnov/sift/internal/classify"
	"github.com/dkrasnov/sift/internal/config"
	"github.com/dkrasnov/sift/internal/model"
	"github.com/dkrasnov/sift/internal/repository"
	"github.com/dkrasnov/sift/internal/review"
	"github.com/dkrasnov/sift/internal/s3blob"
	"github.com/dkrasnov/sift/internal/triage"
)

// userIDHeader carries the caller identity. Authentication proper lives in
// the gateway in front of this service.
const userIDHeader = "X-User-ID"

// Server hosts the HTTP handlers. It stitches together repositories, the
// triage and review services, object storage and the task queue.
type Server struct {
	cfg         *config.Config
	items       *repository.ItemRepository
	audits      *repository.AuditRepository
	settings    *repository.SettingsRepository
	corrections *repository.CorrectionRepository
	filing      *repository.FilingRepository
	triage      *triage.Service
	reviews     *review.Service
	ledger      *classify.Ledger
	blobs       *s3blob.Store
	queue       *asynq.Client
	logger      *slog.Logger
	server      *http.Server
	once        sync.Once
}

// New constructs a Server.
func New(
	cfg *config.Config,
	items *repository.ItemRepository,
	audits *repository.AuditRepository,
	settings *repository.SettingsRepository,
	corrections *repository.CorrectionRepository,
	filing *repository.FilingRepository,
	triageSvc *triage.Service,
	reviews *review.Service,
	ledger *classify.Ledger,
	blobs *s3blob.Store,
	queueClient *asynq.Client,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:         cfg,
		items:       items,
		audits:      audits,
		settings:    settings,
		corrections: corrections,
		filing:      filing,
		triage:      triageSvc,
		reviews:     reviews,
		ledger:      ledger,
		blobs:       blobs,
		queue:       queueClient,
		logger:      logger,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/items", s.handleItems)
		mux.HandleFunc("/items/status", s.handleStatusPoll)
		mux.HandleFunc("/items/", s.handleItemRoute)
		mux.HandleFunc("/queues/", s.handleQueueRoute)
		mux.HandleFunc("/sessions", s.handleSessions)
		mux.HandleFunc("/sessions/", s.handleSessionRoute)
		mux.HandleFunc("/targets", s.handleTargets)
		mux.HandleFunc("/settings", s.handleSettings)
		s.server = &http.Server{
			Addr:    s.cfg.HTTPAddr,
			Handler: corsMiddleware(s.loggingMiddleware(mux)),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.logger.Info("api listening", "addr", s.cfg.HTTPAddr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// userID extracts and validates the caller identity header.
func userID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.Header.Get(userIDHeader))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// requireUser writes a 401 and returns false when the identity header is
// missing or malformed.
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := userID(r)
	if !ok {
		http.Error(w, "missing or invalid "+userIDHeader+" header", http.StatusUnauthorized)
	}
	return id, ok
}

func pathSegments(r *http.Request, prefix string) []string {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(model.ErrInvalidInput, err)
	}
	return nil
}

// respondError maps domain errors onto HTTP status codes. Provider failures
// never reach here; callers observe them through item status instead.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrNoActionToUndo),
		errors.Is(err, model.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,"+userIDHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
