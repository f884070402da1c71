package forest

import (
	"strings"
	"time"
)

// Submission is the root discussion post.
type Submission struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Subreddit   string    `json:"subreddit"`
	URL         string    `json:"url"`
	Permalink   string    `json:"permalink"`
	CreatedAt   time.Time `json:"created_at"`
	NumComments int       `json:"num_comments"`
}

// Comment is a resolved comment. ParentID is empty for top-level comments.
type Comment struct {
	ID          string    `json:"id"`
	ParentID    string    `json:"parent_id,omitempty"`
	Author      string    `json:"author"`
	Body        string    `json:"body"`
	Permalink   string    `json:"permalink"`
	CreatedAt   time.Time `json:"created_at"`
	Score       int       `json:"score"`
	IsSubmitter bool      `json:"is_submitter"`
	Depth       int       `json:"depth"`
	Tombstone   bool      `json:"tombstone,omitempty"`
}

// More is a server-side placeholder for comments not yet fetched. A More
// with no Children is a "continue this thread" marker for ParentID.
type More struct {
	ID       string
	ParentID string
	Children []string
	Count    int
}

// ContinueThread reports whether the placeholder can only be resolved by
// re-fetching the parent's subtree.
func (m More) ContinueThread() bool {
	return len(m.Children) == 0
}

// Item is one entry of a listing as delivered by the platform: exactly one
// of Comment or More is set. Replies holds nested entries when the platform
// inlined them.
type Item struct {
	Comment *Comment
	More    *More
	Replies []Item
}

// IsDeleted reports whether author identity or content was removed
// upstream. Such comments become tombstones.
func IsDeleted(author, body string) bool {
	a := strings.TrimSpace(author)
	if a == "" || a == "[deleted]" {
		return true
	}
	switch strings.TrimSpace(body) {
	case "[deleted]", "[removed]":
		return true
	}
	return false
}
