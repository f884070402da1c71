package extraction

import (
	"encoding/json"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/forest"
	"github.com/MikeSquared-Agency/threadqa/internal/matcher"
)

// Result is the outcome of one job. It is produced only by assemble and
// shares no memory with the forest it came from.
type Result struct {
	SubmissionID    string
	SubmissionTitle string
	Subreddit       string
	Permalink       string
	TotalComments   int
	Pairs           []matcher.Pair
	Truncated       bool
	CompletedAt     time.Time
}

func assemble(sub forest.Submission, total int, pairs []matcher.Pair, truncated bool) *Result {
	copied := make([]matcher.Pair, len(pairs))
	for i, p := range pairs {
		copied[i] = matcher.Pair{
			Question: p.Question,
			Answers:  append([]forest.Comment(nil), p.Answers...),
		}
	}
	return &Result{
		SubmissionID:    sub.ID,
		SubmissionTitle: sub.Title,
		Subreddit:       sub.Subreddit,
		Permalink:       sub.Permalink,
		TotalComments:   total,
		Pairs:           copied,
		Truncated:       truncated,
		CompletedAt:     time.Now().UTC(),
	}
}

// AnswerCount is the total number of answers across all pairs.
func (r *Result) AnswerCount() int {
	n := 0
	for _, p := range r.Pairs {
		n += len(p.Answers)
	}
	return n
}

type wireComment struct {
	ID         string  `json:"id"`
	Author     string  `json:"author"`
	Body       string  `json:"body"`
	CreatedUTC float64 `json:"created_utc"`
	Permalink  string  `json:"permalink"`
}

type wirePair struct {
	Question wireComment   `json:"question"`
	Answers  []wireComment `json:"answers"`
}

type wireResult struct {
	SubmissionID    string     `json:"submission_id"`
	SubmissionTitle string     `json:"submission_title"`
	TotalComments   int        `json:"total_comments"`
	Truncated       bool       `json:"truncated"`
	QAPairs         []wirePair `json:"qa_pairs"`
}

func toWire(c forest.Comment) wireComment {
	var created float64
	if !c.CreatedAt.IsZero() {
		created = float64(c.CreatedAt.Unix())
	}
	return wireComment{
		ID:         c.ID,
		Author:     c.Author,
		Body:       c.Body,
		CreatedUTC: created,
		Permalink:  c.Permalink,
	}
}

func (r *Result) wire() wireResult {
	w := wireResult{
		SubmissionID:    r.SubmissionID,
		SubmissionTitle: r.SubmissionTitle,
		TotalComments:   r.TotalComments,
		Truncated:       r.Truncated,
		QAPairs:         make([]wirePair, 0, len(r.Pairs)),
	}
	for _, p := range r.Pairs {
		wp := wirePair{Question: toWire(p.Question), Answers: make([]wireComment, 0, len(p.Answers))}
		for _, a := range p.Answers {
			wp.Answers = append(wp.Answers, toWire(a))
		}
		w.QAPairs = append(w.QAPairs, wp)
	}
	return w
}

// MarshalJSON renders the result in the public wire shape shared by the
// event stream and the JSON export.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}
