package matcher

import "strings"

// WatchList is the set of accounts whose replies count as answers.
type WatchList struct {
	names map[string]struct{}
	order []string
}

// NewWatchList normalizes names and drops empties and duplicates.
func NewWatchList(names []string) WatchList {
	wl := WatchList{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		key := Normalize(n)
		if key == "" {
			continue
		}
		if _, ok := wl.names[key]; ok {
			continue
		}
		wl.names[key] = struct{}{}
		wl.order = append(wl.order, key)
	}
	return wl
}

// Normalize trims, case-folds and strips a leading u/ or /u/ prefix.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(n, "/")
	n = strings.TrimPrefix(n, "u/")
	return strings.TrimSpace(n)
}

func (w WatchList) Contains(author string) bool {
	_, ok := w.names[Normalize(author)]
	return ok
}

func (w WatchList) Len() int { return len(w.order) }

// Names returns the normalized accounts in first-seen order.
func (w WatchList) Names() []string {
	return append([]string(nil), w.order...)
}
