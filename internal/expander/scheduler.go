// Package expander resolves pending placeholders in a comment forest with a
// small pool of workers. Placeholders are served breadth-first in discovery
// order; placeholders found inside a response join the back of the queue.
package expander

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/MikeSquared-Agency/threadqa/internal/forest"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the platform's per-call id limit.
const DefaultBatchSize = 100

// errBudget means a placeholder needs more requests than the ceiling leaves.
// The placeholder stays pending and the run ends truncated.
var errBudget = errors.New("request ceiling reached")

// Fetcher is the expansion transport.
type Fetcher interface {
	MoreChildren(ctx context.Context, submissionID string, ids []string) ([]forest.Item, error)
	ContinueThread(ctx context.Context, submissionID, commentID string) ([]forest.Item, error)
}

// Config bounds a run. Zero ceilings mean unlimited.
type Config struct {
	Workers     int
	BatchSize   int
	MaxRequests int
	MaxComments int
}

// Outcome summarises a finished run.
type Outcome struct {
	Truncated bool
	Requests  int
	Resolved  int
	Pending   int
}

// ProgressFunc receives the forest's counts after every resolved placeholder.
type ProgressFunc func(resolved, pending, estimate int)

type Scheduler struct {
	forest  *forest.Forest
	fetcher Fetcher
	cfg     Config
	logger  *slog.Logger
	onStep  ProgressFunc

	requests atomic.Int64
}

func New(f *forest.Forest, fetcher Fetcher, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > DefaultBatchSize {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Scheduler{
		forest:  f,
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger,
	}
}

// OnProgress registers fn. It is called from the coordinating goroutine only.
func (s *Scheduler) OnProgress(fn ProgressFunc) {
	s.onStep = fn
}

type result struct {
	ref    forest.StubRef
	nested []forest.StubRef
	err    error
}

// Run drains the queue seeded with seeds. It returns when no placeholder is
// queued or in flight, when a ceiling is reached (Outcome.Truncated), on the
// first failure, or when ctx ends. In-flight work always finishes before Run
// returns; no request is started after a failure or cancellation.
func (s *Scheduler) Run(ctx context.Context, submissionID string, seeds []forest.StubRef) (Outcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	done := make(chan result)

	queue := append([]forest.StubRef(nil), seeds...)
	inflight := 0
	truncated := false
	var firstErr error

	for {
		for firstErr == nil && !truncated && gctx.Err() == nil && inflight < s.cfg.Workers && len(queue) > 0 {
			if s.ceilingReached() {
				truncated = true
				s.logger.Info("expansion ceiling reached",
					"submission_id", submissionID,
					"requests", s.requests.Load(),
					"resolved", s.forest.Len(),
					"queued", len(queue),
				)
				break
			}
			ref := queue[0]
			queue = queue[1:]
			inflight++
			g.Go(func() error {
				nested, err := s.expand(gctx, submissionID, ref)
				done <- result{ref: ref, nested: nested, err: err}
				if errors.Is(err, errBudget) {
					return nil
				}
				return err
			})
		}

		if inflight == 0 {
			break
		}

		r := <-done
		inflight--
		if errors.Is(r.err, errBudget) {
			if !truncated {
				truncated = true
				s.logger.Info("expansion ceiling reached",
					"submission_id", submissionID,
					"requests", s.requests.Load(),
					"resolved", s.forest.Len(),
					"queued", len(queue)+1,
				)
			}
			continue
		}
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		queue = append(queue, r.nested...)
		if s.onStep != nil {
			s.onStep(s.forest.Len(), s.forest.PendingCount(), s.forest.PendingEstimate())
		}
	}
	g.Wait()

	out := Outcome{
		Truncated: truncated,
		Requests:  int(s.requests.Load()),
		Resolved:  s.forest.Len(),
		Pending:   s.forest.PendingCount(),
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	if firstErr != nil {
		return out, firstErr
	}
	return out, nil
}

// reserve claims n requests against MaxRequests. It claims all or nothing.
func (s *Scheduler) reserve(n int) bool {
	if s.cfg.MaxRequests <= 0 {
		s.requests.Add(int64(n))
		return true
	}
	for {
		cur := s.requests.Load()
		if int(cur)+n > s.cfg.MaxRequests {
			return false
		}
		if s.requests.CompareAndSwap(cur, cur+int64(n)) {
			return true
		}
	}
}

func (s *Scheduler) ceilingReached() bool {
	if s.cfg.MaxRequests > 0 && int(s.requests.Load()) >= s.cfg.MaxRequests {
		return true
	}
	return s.cfg.MaxComments > 0 && s.forest.Len() >= s.cfg.MaxComments
}

// expand fetches every batch of one placeholder and resolves it once all
// batches arrived, so a failure leaves the placeholder pending and intact.
// The placeholder's requests are reserved before the first one is sent.
func (s *Scheduler) expand(ctx context.Context, submissionID string, ref forest.StubRef) ([]forest.StubRef, error) {
	m, pending := s.forest.Stub(ref)
	if !pending {
		return nil, nil
	}

	var items []forest.Item
	switch {
	case m.ContinueThread() && m.ParentID == "":
		// Nothing to re-fetch for a top-level continuation marker.
	case m.ContinueThread():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.reserve(1) {
			return nil, errBudget
		}
		got, err := s.fetcher.ContinueThread(ctx, submissionID, m.ParentID)
		if err != nil {
			return nil, fmt.Errorf("continue thread %s: %w", m.ParentID, err)
		}
		items = got
	default:
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		calls := (len(m.Children) + s.cfg.BatchSize - 1) / s.cfg.BatchSize
		if !s.reserve(calls) {
			return nil, errBudget
		}
		for sent, start := 0, 0; start < len(m.Children); sent, start = sent+1, start+s.cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				// Hand back the requests that were never sent.
				s.requests.Add(-int64(calls - sent))
				return nil, err
			}
			end := min(start+s.cfg.BatchSize, len(m.Children))
			got, err := s.fetcher.MoreChildren(ctx, submissionID, m.Children[start:end])
			if err != nil {
				s.requests.Add(-int64(calls - sent - 1))
				return nil, fmt.Errorf("expand %s: %w", m.ID, err)
			}
			items = append(items, got...)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nested, err := s.forest.Resolve(ref, items)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", m.ID, err)
	}
	s.logger.Debug("placeholder resolved",
		"submission_id", submissionID,
		"placeholder", m.ID,
		"items", len(items),
		"nested", len(nested),
	)
	return nested, nil
}
