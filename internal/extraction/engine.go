// Package extraction runs one job end to end: fetch the submission, expand
// every placeholder, pair questions with watched answers and assemble the
// result, reporting progress along the way.
package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/expander"
	"github.com/MikeSquared-Agency/threadqa/internal/forest"
	"github.com/MikeSquared-Agency/threadqa/internal/matcher"
	"github.com/MikeSquared-Agency/threadqa/internal/progress"
)

// ErrCancelled is reported when the caller abandons a job.
var ErrCancelled = errors.New("extraction cancelled")

// Client is the platform transport the engine needs.
type Client interface {
	Submission(ctx context.Context, id string) (forest.Submission, []forest.Item, error)
	expander.Fetcher
}

type Engine struct {
	client Client
	cfg    expander.Config
	logger *slog.Logger
}

func NewEngine(client Client, cfg expander.Config, logger *slog.Logger) *Engine {
	return &Engine{client: client, cfg: cfg, logger: logger}
}

// Run executes spec and calls emit for every event, ending with exactly one
// complete or error event. emit is only called from Run's goroutine.
func (e *Engine) Run(ctx context.Context, spec Spec, emit func(Event)) (*Result, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	rep := progress.NewReporter(func(s progress.Snapshot) {
		if !s.Phase.Terminal() {
			emit(Event{Type: EventProgress, Progress: s})
		}
	})

	if spec.SubmissionID == "" {
		return nil, e.fail(ctx, rep, emit, spec, &InputError{Field: "submission", Reason: "empty reference"})
	}
	if spec.WatchList.Len() == 0 {
		return nil, e.fail(ctx, rep, emit, spec, &InputError{Field: "accounts", Reason: "watch-list is empty"})
	}

	start := time.Now()
	logger := e.logger.With("submission_id", spec.SubmissionID)

	rep.Advance(progress.PhaseFetching)
	sub, items, err := e.client.Submission(ctx, spec.SubmissionID)
	if err != nil {
		return nil, e.fail(ctx, rep, emit, spec, fmt.Errorf("fetch submission: %w", err))
	}

	f := forest.New(sub, forest.Options{IncludeDeleted: spec.IncludeDeleted})
	stubs, err := f.Seed(items)
	if err != nil {
		return nil, e.fail(ctx, rep, emit, spec, fmt.Errorf("seed forest: %w", err))
	}
	rep.Fetched(f.Len(), f.PendingCount())
	logger.Info("submission fetched",
		"title", sub.Title,
		"comments", f.Len(),
		"placeholders", len(stubs),
	)

	rep.Advance(progress.PhaseExpanding)
	sched := expander.New(f, e.client, e.cfg, logger)
	sched.OnProgress(rep.Expanded)
	out, err := sched.Run(ctx, sub.ID, stubs)
	if err != nil {
		return nil, e.fail(ctx, rep, emit, spec, fmt.Errorf("expand comments: %w", err))
	}
	f.Freeze()
	if out.Truncated {
		logger.Warn("expansion ceiling reached, result is partial",
			"requests", out.Requests,
			"resolved", out.Resolved,
			"pending", out.Pending,
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, e.fail(ctx, rep, emit, spec, err)
	}
	rep.Advance(progress.PhaseMatching)
	pairs := matcher.Match(f, spec.WatchList, rep.Matched)

	res := assemble(sub, f.Len(), pairs, out.Truncated)
	rep.Advance(progress.PhaseComplete)
	emit(Event{Type: EventComplete, Result: res})

	stats := f.Stats()
	logger.Info("extraction complete",
		"comments", res.TotalComments,
		"pairs", len(res.Pairs),
		"answers", res.AnswerCount(),
		"requests", out.Requests,
		"duplicates", stats.Duplicates,
		"orphans", stats.Orphans,
		"truncated", res.Truncated,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return res, nil
}

func (e *Engine) fail(ctx context.Context, rep *progress.Reporter, emit func(Event), spec Spec, err error) error {
	if ctx.Err() != nil && !errors.As(err, new(*InputError)) {
		rep.Fail(progress.PhaseCancelled)
		emit(Event{Type: EventError, Message: ErrCancelled.Error()})
		e.logger.Info("extraction cancelled", "submission_id", spec.SubmissionID)
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	rep.Fail(progress.PhaseError)
	emit(Event{Type: EventError, Message: err.Error()})
	e.logger.Error("extraction failed", "submission_id", spec.SubmissionID, "error", err)
	return err
}

// Start runs spec in a new goroutine and streams its events. Progress events
// are dropped when the consumer falls behind; the terminal event is always
// delivered, after which the channel is closed. The consumer must drain the
// channel until it closes.
func (e *Engine) Start(ctx context.Context, spec Spec) <-chan Event {
	ch := make(chan Event, 64)
	go func() {
		defer close(ch)
		e.Run(ctx, spec, func(ev Event) {
			if ev.Terminal() {
				ch <- ev
				return
			}
			select {
			case ch <- ev:
			default:
			}
		})
	}()
	return ch
}
