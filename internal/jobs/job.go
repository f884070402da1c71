package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/MikeSquared-Agency/threadqa/internal/progress"
	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

func (s Status) Done() bool {
	return s == StatusComplete || s == StatusError || s == StatusCancelled
}

// Job is one extraction tracked by the manager. Its state changes only
// through record; readers take snapshots or Follow the stream.
type Job struct {
	ID           uuid.UUID
	SubmissionID string
	Request      extraction.Request
	CreatedAt    time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	status     Status
	progress   progress.Snapshot
	version    int
	terminal   *extraction.Event
	result     *extraction.Result
	errMsg     string
	finishedAt time.Time
	changed    chan struct{}
}

func newJob(ctx context.Context, req extraction.Request, submissionID string) *Job {
	jctx, cancel := context.WithCancel(ctx)
	return &Job{
		ID:           uuid.New(),
		SubmissionID: submissionID,
		Request:      req,
		CreatedAt:    time.Now().UTC(),
		ctx:          jctx,
		cancel:       cancel,
		status:       StatusPending,
		progress:     progress.Snapshot{Phase: progress.PhaseIdle},
		changed:      make(chan struct{}),
	}
}

// record applies ev and wakes every follower.
func (j *Job) record(ev extraction.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.terminal != nil {
		return
	}
	switch ev.Type {
	case extraction.EventProgress:
		j.status = StatusRunning
		j.progress = ev.Progress
		j.version++
	case extraction.EventComplete:
		j.status = StatusComplete
		j.result = ev.Result
		j.progress.Phase = progress.PhaseComplete
		j.progress.Percent = 100
		if ev.Result != nil {
			j.progress.Resolved = ev.Result.TotalComments
			j.progress.Matches = ev.Result.AnswerCount()
		}
		j.terminal = &ev
	case extraction.EventError:
		j.status = StatusError
		j.progress.Phase = progress.PhaseError
		if j.ctx.Err() != nil {
			j.status = StatusCancelled
			j.progress.Phase = progress.PhaseCancelled
		}
		j.errMsg = ev.Message
		j.terminal = &ev
	}
	if j.terminal != nil {
		j.finishedAt = time.Now().UTC()
	}
	close(j.changed)
	j.changed = make(chan struct{})
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Result returns the assembled result once the job completed.
func (j *Job) Result() (*extraction.Result, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.result != nil
}

// View is the JSON representation of a job.
type View struct {
	ID           string             `json:"job_id"`
	Status       Status             `json:"status"`
	SubmissionID string             `json:"submission_id"`
	Accounts     []string           `json:"accounts"`
	CreatedAt    time.Time          `json:"created_at"`
	FinishedAt   *time.Time         `json:"finished_at,omitempty"`
	Progress     progress.Snapshot  `json:"progress"`
	Error        string             `json:"error,omitempty"`
	Result       *extraction.Result `json:"result,omitempty"`
}

func (j *Job) View() View {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := View{
		ID:           j.ID.String(),
		Status:       j.status,
		SubmissionID: j.SubmissionID,
		Accounts:     j.Request.Accounts,
		CreatedAt:    j.CreatedAt,
		Progress:     j.progress,
		Error:        j.errMsg,
		Result:       j.result,
	}
	if !j.finishedAt.IsZero() {
		at := j.finishedAt
		v.FinishedAt = &at
	}
	return v
}

// Follow calls fn with the latest progress event whenever it changes, then
// with the terminal event, and returns. Slow followers see coalesced
// snapshots; late followers see only the terminal event. It returns early if
// ctx ends or fn fails.
func (j *Job) Follow(ctx context.Context, fn func(extraction.Event) error) error {
	seen := -1
	for {
		j.mu.Lock()
		version, snap, terminal, changed := j.version, j.progress, j.terminal, j.changed
		j.mu.Unlock()

		if terminal == nil && version > seen && version > 0 {
			if err := fn(extraction.Event{Type: extraction.EventProgress, Progress: snap}); err != nil {
				return err
			}
			seen = version
		}
		if terminal != nil {
			return fn(*terminal)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
