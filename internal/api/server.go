// Package api exposes the administrative HTTP surface: starting and stopping
// crawl tasks, listing them, browsing their documents, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/masahif/docharvest/internal/collect"
	"github.com/masahif/docharvest/internal/config"
	"github.com/masahif/docharvest/internal/crawler"
	"github.com/masahif/docharvest/internal/metrics"
	"github.com/masahif/docharvest/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// TaskManager is the task registry the handlers drive
type TaskManager interface {
	Start(ctx context.Context, tc config.TaskConfig) (string, error)
	Stop(id string) error
	List() []crawler.TaskStats
	Get(id string) (crawler.TaskStats, error)
	Documents(ctx context.Context, id string, page, size int) ([]storage.DocumentRow, int64, error)
	Document(ctx context.Context, id string, docID int64) (*storage.DocumentRow, error)
	DeleteDocument(ctx context.Context, id string, docID int64) error
	Running() int
}

// Server wires HTTP handlers to the task manager
type Server struct {
	router  chi.Router
	manager TaskManager
}

// NewServer constructs a Server with middleware and routes
func NewServer(manager TaskManager, cfg config.ServerConfig) *Server {
	s := &Server{manager: manager}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/collect", func(r chi.Router) {
		r.Post("/run", s.runTask)
		r.Get("/stop", s.stopTask)
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.listTasks)
			r.Route("/{taskId}", func(r chi.Router) {
				r.Get("/", s.getTask)
				r.Get("/docs", s.listDocuments)
				r.Get("/docs/{docId}", s.getDocument)
				r.Delete("/docs/{docId}", s.deleteDocument)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "runningTasks": s.manager.Running()})
}

func (s *Server) runTask(w http.ResponseWriter, r *http.Request) {
	var req config.TaskConfig
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	id, err := s.manager.Start(r.Context(), req)
	if err != nil {
		writeError(w, startStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": id, "status": "started"})
}

func startStatus(err error) int {
	switch {
	case errors.Is(err, config.ErrNoSeedURLs),
		errors.Is(err, config.ErrEmptyTaskID),
		errors.Is(err, config.ErrInvalidCrawlQuantity),
		errors.Is(err, config.ErrInvalidMaxFileSize):
		return http.StatusBadRequest
	case errors.Is(err, collect.ErrTaskLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, collect.ErrTaskExists), errors.Is(err, collect.ErrStoreInUse):
		return http.StatusConflict
	case errors.Is(err, collect.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) stopTask(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("taskId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "taskId is required")
		return
	}
	if err := s.manager.Stop(id); err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"taskId": id, "status": "stopping"})
}

func (s *Server) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tasks": s.manager.List()})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Get(chi.URLParam(r, "taskId"))
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	size, err := queryInt(r, "size", defaultPageSize)
	if err != nil || size < 1 || size > maxPageSize {
		writeError(w, http.StatusBadRequest, "size must be between 1 and "+strconv.Itoa(maxPageSize))
		return
	}

	rows, total, err := s.manager.Documents(r.Context(), chi.URLParam(r, "taskId"), page, size)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	if rows == nil {
		rows = []storage.DocumentRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"page":  page,
		"size":  size,
		"total": total,
		"docs":  rows,
	})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}
	row, err := s.manager.Document(r.Context(), chi.URLParam(r, "taskId"), docID)
	if err != nil {
		writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	docID, ok := docIDParam(w, r)
	if !ok {
		return
	}
	if err := s.manager.DeleteDocument(r.Context(), chi.URLParam(r, "taskId"), docID); err != nil {
		writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func docIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	docID, err := strconv.ParseInt(chi.URLParam(r, "docId"), 10, 64)
	if err != nil || docID < 1 {
		writeError(w, http.StatusBadRequest, "docId must be a positive integer")
		return 0, false
	}
	return docID, true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, collect.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found")
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "document not found")
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("write JSON failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
