// Package server exposes the job operations as JSON over HTTP. It is a
// thin layer: it validates input, persists the job as pending, and hands
// it to the queue. State transitions happen inside the pipeline.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/dpmorr/llm-structured-extraction/internal/common"
	"github.com/dpmorr/llm-structured-extraction/internal/export"
	"github.com/dpmorr/llm-structured-extraction/internal/pipeline"
	"github.com/dpmorr/llm-structured-extraction/internal/repository"
)

// Enqueuer is the queue boundary the server depends on.
type Enqueuer interface {
	Enqueue(jobID uuid.UUID) error
}

type Server struct {
	log        *slog.Logger
	store      repository.Store
	controller *pipeline.Controller
	queue      Enqueuer
	exporter   *export.Service
	cfg        *common.Config

	httpSrv *http.Server
}

func New(logger *slog.Logger, cfg *common.Config, store repository.Store,
	controller *pipeline.Controller, queue Enqueuer, exporter *export.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:        logger,
		store:      store,
		controller: controller,
		queue:      queue,
		exporter:   exporter,
		cfg:        cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /v1/jobs/{id}/results", s.handleJobResults)
	mux.HandleFunc("POST /v1/jobs/{id}/retry", s.handleRetryJob)
	mux.HandleFunc("GET /v1/jobs/{id}/export", s.handleExportJob)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	c := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.httpSrv = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.logRequests(c.Handler(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("http.listen", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the root handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("http.request", "method", r.Method, "path", r.URL.Path,
			"elapsed_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := "INTERNAL"
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrSchema):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrInvalidState), errors.Is(err, common.ErrRetryLimitExceeded):
		status = http.StatusConflict
	case errors.Is(err, common.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("http.error", "error", err)
	}
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}
