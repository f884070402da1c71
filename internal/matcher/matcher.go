// Package matcher pairs top-level comments with watched replies.
package matcher

import "github.com/MikeSquared-Agency/threadqa/internal/forest"

// Pair is one question with its answers in pre-order discovery order.
type Pair struct {
	Question forest.Comment   `json:"question"`
	Answers  []forest.Comment `json:"answers"`
}

// Match walks the forest once in pre-order. Every top-level comment that is
// not a tombstone opens a question; every later descendant authored by a
// watched account is appended to it. Questions without answers are dropped.
// onMatch, when set, receives the running answer count after each match.
func Match(f *forest.Forest, wl WatchList, onMatch func(matches int)) []Pair {
	var (
		pairs   []Pair
		current *Pair
		matches int
	)
	flush := func() {
		if current != nil && len(current.Answers) > 0 {
			pairs = append(pairs, *current)
		}
		current = nil
	}

	f.Walk(func(c forest.Comment) {
		if c.Depth == 0 {
			flush()
			if !c.Tombstone {
				current = &Pair{Question: c}
			}
			return
		}
		if current == nil || c.Tombstone || !wl.Contains(c.Author) {
			return
		}
		current.Answers = append(current.Answers, c)
		matches++
		if onMatch != nil {
			onMatch(matches)
		}
	})
	flush()
	return pairs
}
