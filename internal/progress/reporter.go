// Package progress turns pipeline state changes into snapshots with a
// monotonically non-decreasing percent.
package progress

import (
	"fmt"
	"sync"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseFetching  Phase = "fetching-submission"
	PhaseExpanding Phase = "expanding-comments"
	PhaseMatching  Phase = "matching-answers"
	PhaseComplete  Phase = "complete"
	PhaseError     Phase = "error"
	PhaseCancelled Phase = "cancelled"
)

// Terminal reports whether no further snapshots follow p.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError || p == PhaseCancelled
}

var next = map[Phase]Phase{
	PhaseIdle:      PhaseFetching,
	PhaseFetching:  PhaseExpanding,
	PhaseExpanding: PhaseMatching,
	PhaseMatching:  PhaseComplete,
}

// Percent bands per phase.
const (
	fetchStart  = 0
	expandStart = 10
	matchStart  = 85
	matchEnd    = 99
)

// Snapshot is an immutable view of a job's progress.
type Snapshot struct {
	Phase    Phase   `json:"phase"`
	Resolved int     `json:"comments_fetched"`
	Pending  int     `json:"expansions_remaining"`
	Matches  int     `json:"matches_found"`
	Percent  float64 `json:"percent"`
}

// Reporter validates phase transitions and forwards snapshots to emit. It is
// safe for concurrent use; emit is called with the reporter's lock held, so
// snapshots arrive in order.
type Reporter struct {
	mu   sync.Mutex
	emit func(Snapshot)
	cur  Snapshot
}

func NewReporter(emit func(Snapshot)) *Reporter {
	if emit == nil {
		emit = func(Snapshot) {}
	}
	return &Reporter{emit: emit, cur: Snapshot{Phase: PhaseIdle}}
}

// Current returns the latest snapshot.
func (r *Reporter) Current() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

// Advance moves to the next phase in the pipeline. Only the successor of
// the current phase is accepted.
func (r *Reporter) Advance(to Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur.Phase.Terminal() {
		return fmt.Errorf("advance to %s: phase %s is terminal", to, r.cur.Phase)
	}
	if next[r.cur.Phase] != to {
		return fmt.Errorf("advance to %s: invalid from %s", to, r.cur.Phase)
	}

	r.cur.Phase = to
	switch to {
	case PhaseFetching:
		r.raise(fetchStart)
	case PhaseExpanding:
		r.raise(expandStart)
	case PhaseMatching:
		r.raise(matchStart)
	case PhaseComplete:
		r.raise(100)
	}
	r.emit(r.cur)
	return nil
}

// Fail moves to a terminal failure phase (error or cancelled) from any
// non-terminal phase. Later calls are ignored.
func (r *Reporter) Fail(to Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur.Phase.Terminal() || (to != PhaseError && to != PhaseCancelled) {
		return
	}
	r.cur.Phase = to
	r.emit(r.cur)
}

// Fetched records the seeded forest size.
func (r *Reporter) Fetched(resolved, pending int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur.Phase != PhaseFetching {
		return
	}
	r.cur.Resolved = resolved
	r.cur.Pending = pending
	r.raise(expandStart)
	r.emit(r.cur)
}

// Expanded records a resolved placeholder. estimate is the number of
// comments the outstanding placeholders are expected to yield; the expansion
// band is split by resolved/(resolved+estimate).
func (r *Reporter) Expanded(resolved, pending, estimate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur.Phase != PhaseExpanding {
		return
	}
	r.cur.Resolved = resolved
	r.cur.Pending = pending

	frac := 1.0
	if total := resolved + estimate; total > 0 {
		frac = float64(resolved) / float64(total)
	}
	r.raise(expandStart + frac*(matchStart-expandStart))
	r.emit(r.cur)
}

// Matched records the running match count while answers are collected.
// Each match nudges the percent toward the end of the matching band.
func (r *Reporter) Matched(matches int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur.Phase != PhaseMatching {
		return
	}
	r.cur.Matches = matches
	r.raise(matchEnd - (matchEnd-matchStart)/float64(matches+1))
	r.emit(r.cur)
}

// raise never lowers the percent. Caller holds mu.
func (r *Reporter) raise(p float64) {
	if p > 100 {
		p = 100
	}
	if p > r.cur.Percent {
		r.cur.Percent = p
	}
}
