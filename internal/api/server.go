package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/export"
	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/MikeSquared-Agency/threadqa/internal/jobs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// JobService is the slice of the job manager the HTTP layer drives.
type JobService interface {
	Start(req extraction.Request) (*jobs.Job, error)
	Get(id string) (*jobs.Job, error)
	Cancel(id string) (*jobs.Job, error)
}

type Server struct {
	router *chi.Mux
	jobs   JobService
	logger *slog.Logger
	srv    *http.Server
}

func NewServer(port int, svc JobService, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		jobs:   svc,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Post("/extract", s.startExtraction)
		r.Get("/progress/{jobID}", s.streamProgress)
		r.Get("/jobs/{jobID}", s.getJob)
		r.Get("/jobs/{jobID}/export", s.exportJob)
		r.Delete("/jobs/{jobID}", s.cancelJob)
	})

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for open streams to end.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) startExtraction(w http.ResponseWriter, r *http.Request) {
	var req extraction.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	job, err := s.jobs.Start(req)
	if err != nil {
		var inputErr *extraction.InputError
		switch {
		case errors.As(err, &inputErr):
			writeError(w, http.StatusBadRequest, inputErr.Error())
		case errors.Is(err, jobs.ErrJobActive):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, jobs.ErrClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("failed to start job", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to start job")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID.String(),
		"status": string(job.Status()),
	})
}

// streamProgress relays the job's events as server-sent events until the
// terminal event or the client goes away.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := job.Follow(r.Context(), func(ev extraction.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("progress stream ended early", "job_id", job.ID, "error", err)
	}
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

func (s *Server) exportJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookup(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, done := job.Result()
	if !done {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status()))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", res.SubmissionID+"_qa"+format.Extension()))
	w.WriteHeader(http.StatusOK)
	if err := export.Render(w, format, res); err != nil {
		s.logger.Error("failed to render export", "job_id", job.ID, "format", format, "error", err)
	}
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusAccepted, job.View())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	job, err := s.jobs.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return nil, false
	}
	return job, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
