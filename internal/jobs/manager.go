// Package jobs runs extractions in the background and keeps them
// addressable by id until they expire from the registry.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrJobActive = errors.New("a job for this submission is already running")
	ErrNotFound  = errors.New("job not found")
	ErrClosed    = errors.New("job manager is shut down")
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threadqa",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Finished extraction jobs by final status",
		},
		[]string{"status"},
	)
	jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "threadqa",
			Subsystem: "jobs",
			Name:      "active",
			Help:      "Extraction jobs currently running",
		},
	)
)

var registerMetrics sync.Once

func init() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(jobsTotal, jobsActive)
	})
}

// Runner executes one extraction.
type Runner interface {
	Run(ctx context.Context, spec extraction.Spec, emit func(extraction.Event)) (*extraction.Result, error)
}

// Publisher forwards job events to subscribers outside the process.
type Publisher interface {
	PublishJobEvent(jobID string, ev extraction.Event) error
}

// ResultStore persists completed results.
type ResultStore interface {
	SaveExtraction(ctx context.Context, jobID uuid.UUID, req extraction.Request, res *extraction.Result) error
}

// Notifier announces completed results.
type Notifier interface {
	PostSummary(ctx context.Context, jobID string, res *extraction.Result) error
}

// Hooks are optional side effects of a job. Nil members are skipped.
type Hooks struct {
	Publisher Publisher
	Store     ResultStore
	Notifier  Notifier
}

type Manager struct {
	runner Runner
	hooks  Hooks
	logger *slog.Logger

	registry *cache.Cache

	mu     sync.Mutex
	active map[string]uuid.UUID

	ctx  context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// NewManager keeps finished jobs for ttl. Running jobs never expire.
func NewManager(runner Runner, hooks Hooks, ttl time.Duration, logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = time.Hour
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		runner:   runner,
		hooks:    hooks,
		logger:   logger,
		registry: cache.New(ttl, ttl/2),
		active:   make(map[string]uuid.UUID),
		ctx:      ctx,
		stop:     stop,
	}
}

// Start validates req and launches the job. Only one job per submission may
// run at a time; a second request fails with ErrJobActive.
func (m *Manager) Start(req extraction.Request) (*Job, error) {
	spec, err := extraction.ParseRequest(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if id, ok := m.active[spec.SubmissionID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: job %s", ErrJobActive, id)
	}
	job := newJob(m.ctx, req, spec.SubmissionID)
	m.active[spec.SubmissionID] = job.ID
	m.registry.Set(job.ID.String(), job, cache.NoExpiration)
	m.wg.Add(1)
	m.mu.Unlock()

	jobsActive.Inc()
	go m.run(job, spec)

	m.logger.Info("job started",
		"job_id", job.ID,
		"submission_id", spec.SubmissionID,
		"accounts", spec.WatchList.Len(),
	)
	return job, nil
}

func (m *Manager) run(job *Job, spec extraction.Spec) {
	defer m.wg.Done()
	defer job.cancel()

	res, err := m.runner.Run(job.ctx, spec, func(ev extraction.Event) {
		job.record(ev)
		if m.hooks.Publisher != nil {
			if perr := m.hooks.Publisher.PublishJobEvent(job.ID.String(), ev); perr != nil {
				m.logger.Warn("failed to publish job event", "job_id", job.ID, "type", ev.Type, "error", perr)
			}
		}
	})

	m.mu.Lock()
	delete(m.active, job.SubmissionID)
	m.registry.SetDefault(job.ID.String(), job)
	m.mu.Unlock()
	jobsActive.Dec()
	jobsTotal.WithLabelValues(string(job.Status())).Inc()

	if err != nil {
		m.logger.Warn("job finished without result", "job_id", job.ID, "status", job.Status(), "error", err)
		return
	}

	// Side effects outlive the job context but not the manager.
	ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancel()

	if m.hooks.Store != nil {
		if err := m.hooks.Store.SaveExtraction(ctx, job.ID, job.Request, res); err != nil {
			m.logger.Error("failed to persist result", "job_id", job.ID, "error", err)
		}
	}
	if m.hooks.Notifier != nil {
		if err := m.hooks.Notifier.PostSummary(ctx, job.ID.String(), res); err != nil {
			m.logger.Error("failed to post summary", "job_id", job.ID, "error", err)
		}
	}
}

// Get looks a job up by id.
func (m *Manager) Get(id string) (*Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	v, ok := m.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return v.(*Job), nil
}

// Cancel stops a running job. Cancelling a finished job is a no-op.
func (m *Manager) Cancel(id string) (*Job, error) {
	job, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	job.cancel()
	m.logger.Info("job cancel requested", "job_id", job.ID, "submission_id", job.SubmissionID)
	return job, nil
}

// CancelSubmission stops the running job for a submission, if any.
func (m *Manager) CancelSubmission(submissionID string) (*Job, error) {
	m.mu.Lock()
	id, ok := m.active[submissionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no running job for %s", ErrNotFound, submissionID)
	}
	return m.Cancel(id.String())
}

// Shutdown cancels every running job and waits for them to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	// Under mu, so a job is either counted by wg or refused with ErrClosed.
	m.mu.Lock()
	m.stop()
	m.mu.Unlock()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
