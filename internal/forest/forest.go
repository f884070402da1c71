// Package forest holds the comment tree of one submission. Every tree
// position is a slot in an index-addressed arena: either a resolved comment
// or a pending placeholder. Resolving a placeholder rewrites its slot in
// place, so sibling order never depends on when a response arrived.
package forest

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrFrozen     = errors.New("forest is frozen")
	ErrNotPending = errors.New("placeholder is not pending")
	ErrSeeded     = errors.New("forest already seeded")
)

// StubRef addresses a pending placeholder. It stays valid after the
// placeholder is resolved but can only be resolved once.
type StubRef int

type slotKind uint8

const (
	slotComment slotKind = iota
	slotPending
	slotResolved
)

const rootSlot = -1

type slot struct {
	kind     slotKind
	comment  Comment
	more     More
	parent   int
	depth    int
	hidden   bool
	children []int
}

// Options controls insertion policy.
type Options struct {
	// IncludeDeleted keeps tombstones as countable nodes. When false they are
	// still inserted so their replies stay reachable, but they are hidden
	// and not counted as resolved.
	IncludeDeleted bool
}

// Stats is a point-in-time view of the forest.
type Stats struct {
	Resolved   int
	Hidden     int
	Duplicates int
	Orphans    int
	Pending    int
}

// Forest is safe for concurrent use; mutations on disjoint placeholders may
// run from different goroutines.
type Forest struct {
	mu   sync.Mutex
	sub  Submission
	opts Options

	slots   []slot
	roots   []int
	byID    map[string]int
	pending map[int]struct{}

	resolved   int
	hidden     int
	duplicates int
	orphans    int
	seeded     bool
	frozen     bool
}

func New(sub Submission, opts Options) *Forest {
	return &Forest{
		sub:     sub,
		opts:    opts,
		byID:    make(map[string]int),
		pending: make(map[int]struct{}),
	}
}

func (f *Forest) Submission() Submission {
	return f.sub
}

// Seed inserts the initial top-level listing and returns the placeholders it
// contained, shallowest first and in discovery order within a depth.
func (f *Forest) Seed(items []Item) ([]StubRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.frozen {
		return nil, ErrFrozen
	}
	if f.seeded {
		return nil, ErrSeeded
	}
	f.seeded = true

	placed, stubs := f.insert(rootSlot, "", items)
	f.roots = append(f.roots, placed...)
	return f.byDepth(stubs), nil
}

// Resolve replaces a pending placeholder with the fetched items. Items whose
// parent is the placeholder's parent take the placeholder's position, in
// order; deeper items attach under their (possibly just inserted) parent.
// Nested placeholders found in items are returned for later expansion,
// ordered like Seed's.
func (f *Forest) Resolve(ref StubRef, items []Item) ([]StubRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.frozen {
		return nil, ErrFrozen
	}
	idx := int(ref)
	if _, ok := f.pending[idx]; !ok {
		return nil, fmt.Errorf("resolve %d: %w", idx, ErrNotPending)
	}

	parent := f.slots[idx].parent
	parentID := ""
	if parent != rootSlot {
		parentID = f.slots[parent].comment.ID
	}

	placed, stubs := f.insert(parent, parentID, items)

	siblings := f.childrenOf(parent)
	pos := indexOf(*siblings, idx)
	spliced := make([]int, 0, len(*siblings)-1+len(placed))
	spliced = append(spliced, (*siblings)[:pos]...)
	spliced = append(spliced, placed...)
	spliced = append(spliced, (*siblings)[pos+1:]...)
	*siblings = spliced

	f.slots[idx].kind = slotResolved
	delete(f.pending, idx)
	return f.byDepth(stubs), nil
}

// byDepth turns insert's pre-order stub list into level order. Caller holds mu.
func (f *Forest) byDepth(stubs []StubRef) []StubRef {
	slices.SortStableFunc(stubs, func(a, b StubRef) int {
		return cmp.Compare(f.slots[a].depth, f.slots[b].depth)
	})
	return stubs
}

// insert adds items in pre-order. Items whose parent is anchorID are
// returned as the anchor's new children; others attach below their parent.
// Caller holds mu.
func (f *Forest) insert(anchor int, anchorID string, items []Item) (placed []int, stubs []StubRef) {
	var visit func(items []Item, container string)
	visit = func(items []Item, container string) {
		for _, it := range items {
			parentID := container
			switch {
			case it.Comment != nil && it.Comment.ParentID != "":
				parentID = it.Comment.ParentID
			case it.More != nil && it.More.ParentID != "":
				parentID = it.More.ParentID
			}

			target, ok := f.target(anchor, anchorID, parentID)
			if !ok {
				f.orphans++
				continue
			}

			switch {
			case it.Comment != nil:
				if _, dup := f.byID[it.Comment.ID]; dup {
					f.duplicates++
					// Replies still attach to the copy already in the tree.
					visit(it.Replies, it.Comment.ID)
					continue
				}
				n := f.newComment(*it.Comment, target)
				if target == anchor {
					placed = append(placed, n)
				} else {
					f.slots[target].children = append(f.slots[target].children, n)
				}
				visit(it.Replies, it.Comment.ID)
			case it.More != nil:
				n := f.newPending(*it.More, target)
				if target == anchor {
					placed = append(placed, n)
				} else {
					f.slots[target].children = append(f.slots[target].children, n)
				}
				stubs = append(stubs, StubRef(n))
			}
		}
	}
	visit(items, anchorID)
	return placed, stubs
}

func (f *Forest) target(anchor int, anchorID, parentID string) (int, bool) {
	if parentID == anchorID {
		return anchor, true
	}
	if parentID == "" {
		// Top-level items only belong at the root anchor.
		return 0, false
	}
	n, ok := f.byID[parentID]
	return n, ok
}

func (f *Forest) newComment(c Comment, parent int) int {
	depth := 0
	if parent != rootSlot {
		depth = f.slots[parent].depth + 1
		c.ParentID = f.slots[parent].comment.ID
	} else {
		c.ParentID = ""
	}
	c.Depth = depth
	c.Tombstone = c.Tombstone || IsDeleted(c.Author, c.Body)

	s := slot{
		kind:    slotComment,
		comment: c,
		parent:  parent,
		depth:   depth,
		hidden:  c.Tombstone && !f.opts.IncludeDeleted,
	}
	f.slots = append(f.slots, s)
	n := len(f.slots) - 1
	f.byID[c.ID] = n
	if s.hidden {
		f.hidden++
	} else {
		f.resolved++
	}
	return n
}

func (f *Forest) newPending(m More, parent int) int {
	depth := 0
	if parent != rootSlot {
		depth = f.slots[parent].depth + 1
		m.ParentID = f.slots[parent].comment.ID
	} else {
		m.ParentID = ""
	}
	f.slots = append(f.slots, slot{kind: slotPending, more: m, parent: parent, depth: depth})
	n := len(f.slots) - 1
	f.pending[n] = struct{}{}
	return n
}

func (f *Forest) childrenOf(parent int) *[]int {
	if parent == rootSlot {
		return &f.roots
	}
	return &f.slots[parent].children
}

func indexOf(s []int, v int) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// Stub returns the placeholder behind ref and whether it is still pending.
func (f *Forest) Stub(ref StubRef) (More, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := int(ref)
	if idx < 0 || idx >= len(f.slots) {
		return More{}, false
	}
	_, ok := f.pending[idx]
	return f.slots[idx].more, ok
}

// Freeze makes the forest read-only.
func (f *Forest) Freeze() {
	f.mu.Lock()
	f.frozen = true
	f.mu.Unlock()
}

// Len is the number of resolved, countable comments.
func (f *Forest) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved
}

func (f *Forest) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// PendingEstimate is the number of comments the pending placeholders are
// expected to yield.
func (f *Forest) PendingEstimate() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for idx := range f.pending {
		m := f.slots[idx].more
		n := max(m.Count, len(m.Children))
		if n == 0 {
			n = 1
		}
		total += n
	}
	return total
}

func (f *Forest) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Resolved:   f.resolved,
		Hidden:     f.hidden,
		Duplicates: f.duplicates,
		Orphans:    f.orphans,
		Pending:    len(f.pending),
	}
}

// Walk visits every comment in pre-order, top-level comments in discovery
// order. Pending placeholders are skipped. Hidden tombstones are visited so
// callers can reach their replies.
func (f *Forest) Walk(fn func(c Comment)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var visit func(ids []int)
	visit = func(ids []int) {
		for _, n := range ids {
			s := &f.slots[n]
			if s.kind != slotComment {
				continue
			}
			fn(s.comment)
			visit(s.children)
		}
	}
	visit(f.roots)
}

// TopLevel returns the top-level comments in discovery order.
func (f *Forest) TopLevel() []Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Comment
	for _, n := range f.roots {
		if f.slots[n].kind == slotComment {
			out = append(out, f.slots[n].comment)
		}
	}
	return out
}

// Children returns the resolved children of a comment in order.
func (f *Forest) Children(id string) []Comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.byID[id]
	if !ok {
		return nil
	}
	var out []Comment
	for _, c := range f.slots[n].children {
		if f.slots[c].kind == slotComment {
			out = append(out, f.slots[c].comment)
		}
	}
	return out
}
