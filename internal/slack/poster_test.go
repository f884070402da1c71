package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/MikeSquared-Agency/threadqa/internal/forest"
	"github.com/MikeSquared-Agency/threadqa/internal/matcher"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleResult(questions int) *extraction.Result {
	res := &extraction.Result{
		SubmissionID:    "abc123",
		SubmissionTitle: "I build compilers, AMA",
		Subreddit:       "golang",
		TotalComments:   240,
	}
	for i := 0; i < questions; i++ {
		res.Pairs = append(res.Pairs, matcher.Pair{
			Question: forest.Comment{ID: fmt.Sprintf("q%d", i), Body: fmt.Sprintf("Question number %d?", i)},
			Answers:  []forest.Comment{{ID: fmt.Sprintf("a%d", i), Author: "alice", Body: "Answer."}},
		})
	}
	return res
}

func TestFormatSummary(t *testing.T) {
	msg := formatSummary("job-1", sampleResult(2))

	checks := []string{
		"I build compilers, AMA",
		"(r/golang)",
		"job-1",
		"Comments: 240 | Q&A pairs: 2 | Answers: 2",
		"1. Question number 0? (1 answers)",
		"2. Question number 1? (1 answers)",
	}
	for _, check := range checks {
		if !strings.Contains(msg, check) {
			t.Errorf("expected message to contain %q, got:\n%s", check, msg)
		}
	}
	if strings.Contains(msg, "Partial result") {
		t.Error("complete result should not be flagged partial")
	}
}

func TestFormatSummary_TruncatedAndCapped(t *testing.T) {
	res := sampleResult(8)
	res.Truncated = true
	msg := formatSummary("job-2", res)

	if !strings.Contains(msg, "Partial result") {
		t.Error("expected truncation notice")
	}
	if !strings.Contains(msg, "…and 3 more") {
		t.Errorf("expected overflow line, got:\n%s", msg)
	}
	if strings.Contains(msg, "6. ") {
		t.Error("expected at most five questions listed")
	}
}

func TestFormatSummary_Empty(t *testing.T) {
	msg := formatSummary("job-3", &extraction.Result{SubmissionID: "abc123"})

	if !strings.Contains(msg, "abc123") {
		t.Error("expected submission id as title fallback")
	}
	if !strings.Contains(msg, "No watched accounts replied") {
		t.Errorf("expected empty message, got %q", msg)
	}
}

func TestPreview(t *testing.T) {
	if got := preview("  many\n\nlines   here ", 80); got != "many lines here" {
		t.Errorf("unexpected preview %q", got)
	}
	if got := preview(strings.Repeat("é", 10), 5); got != "éééé…" {
		t.Errorf("unexpected preview %q", got)
	}
}

func TestPostSummary_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer xoxb-test" {
			t.Errorf("expected Bearer xoxb-test, got %q", r.Header.Get("Authorization"))
		}

		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		json.Unmarshal(body, &payload)

		if payload["channel"] != "C123" {
			t.Errorf("expected channel C123, got %v", payload["channel"])
		}
		if text, _ := payload["text"].(string); !strings.Contains(text, "Q&A pairs: 1") {
			t.Errorf("unexpected text %q", text)
		}

		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"ts": "1234567890.123456",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	if err := p.PostSummary(context.Background(), "job-1", sampleResult(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPostSummary_SlackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"ok":    false,
			"error": "channel_not_found",
		})
	}))
	defer server.Close()

	p := NewPoster("xoxb-test", "C123", discardLogger())
	p.apiURL = server.URL

	err := p.PostSummary(context.Background(), "job-1", sampleResult(0))
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("expected slack error, got %v", err)
	}
}
