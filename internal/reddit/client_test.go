package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/config"
	"github.com/MikeSquared-Agency/threadqa/internal/forest"
	"github.com/MikeSquared-Agency/threadqa/internal/ratelimit"
	"github.com/google/go-cmp/cmp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		PerMinute:   60000,
		Burst:       100,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
	})
}

func newTestClient(t *testing.T, baseURL string, opts Options) *Client {
	t.Helper()
	opts.BaseURL = baseURL
	return New(config.RedditConfig{UserAgent: "threadqa-test/1.0"}, fastLimiter(), opts, testLogger())
}

func thing(kind string, data map[string]any) map[string]any {
	return map[string]any{"kind": kind, "data": data}
}

func listing(children ...map[string]any) map[string]any {
	if children == nil {
		children = []map[string]any{}
	}
	return map[string]any{"kind": "Listing", "data": map[string]any{"children": children}}
}

func t1(id, parent, author string, replies ...map[string]any) map[string]any {
	data := map[string]any{
		"id":          id,
		"parent_id":   parent,
		"author":      author,
		"body":        "body of " + id,
		"permalink":   "/r/test/comments/abc123/_/" + id + "/",
		"created_utc": 1700000000.0,
		"score":       3,
		"replies":     "",
	}
	if len(replies) > 0 {
		data["replies"] = listing(replies...)
	}
	return thing("t1", data)
}

func moreThing(id, parent string, count int, children ...string) map[string]any {
	if children == nil {
		children = []string{}
	}
	return thing("more", map[string]any{
		"id":        id,
		"parent_id": parent,
		"count":     count,
		"children":  children,
	})
}

func submissionPage(comments ...map[string]any) []any {
	post := thing("t3", map[string]any{
		"id":           "abc123",
		"title":        "Ask me anything",
		"author":       "op",
		"subreddit":    "test",
		"url":          "https://www.reddit.com/r/test/comments/abc123/ama/",
		"permalink":    "/r/test/comments/abc123/ama/",
		"created_utc":  1700000000.0,
		"num_comments": 42,
	})
	return []any{listing(post), listing(comments...)}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestSubmission_ParsesListing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/comments/abc123.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("limit") != "500" || q.Get("depth") != "100" || q.Get("sort") != "old" || q.Get("raw_json") != "1" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		if ua := r.Header.Get("User-Agent"); ua != "threadqa-test/1.0" {
			t.Errorf("expected user agent, got %q", ua)
		}
		writeJSON(w, submissionPage(
			t1("c1", "t3_abc123", "Asker",
				t1("c2", "t1_c1", "alice"),
				moreThing("m1", "t1_c1", 12, "c3", "c4"),
			),
			moreThing("m0", "t3_abc123", 40, "c5"),
		))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	sub, items, err := c.Submission(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sub.ID != "abc123" || sub.Title != "Ask me anything" || sub.NumComments != 42 {
		t.Errorf("unexpected submission: %+v", sub)
	}
	if !sub.CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("unexpected created_at %s", sub.CreatedAt)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 top-level items, got %d", len(items))
	}

	top := items[0].Comment
	if top == nil || top.ID != "c1" || top.ParentID != "" || top.Author != "Asker" || top.Score != 3 {
		t.Errorf("unexpected top comment: %+v", top)
	}
	if len(items[0].Replies) != 2 {
		t.Fatalf("expected 2 replies, got %d", len(items[0].Replies))
	}
	if r := items[0].Replies[0].Comment; r == nil || r.ParentID != "c1" {
		t.Errorf("unexpected reply: %+v", r)
	}
	want := &forest.More{ID: "m1", ParentID: "c1", Children: []string{"c3", "c4"}, Count: 12}
	if diff := cmp.Diff(want, items[0].Replies[1].More); diff != "" {
		t.Errorf("nested placeholder mismatch (-want +got):\n%s", diff)
	}
	if m := items[1].More; m == nil || m.ParentID != "" || m.Count != 40 {
		t.Errorf("unexpected top-level placeholder: %+v", m)
	}
}

func TestSubmission_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	_, _, err := c.Submission(context.Background(), "zzz999")

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusNotFound || !errors.Is(err, ErrNotFound) {
		t.Errorf("unexpected upstream error: %v", upstream)
	}
}

func TestSubmission_Removed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := submissionPage()
		post := page[0].(map[string]any)["data"].(map[string]any)["children"].([]map[string]any)[0]
		post["data"].(map[string]any)["removed_by_category"] = "moderator"
		writeJSON(w, page)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	_, _, err := c.Submission(context.Background(), "abc123")
	if !errors.Is(err, ErrRemoved) {
		t.Errorf("expected ErrRemoved, got %v", err)
	}
}

func TestSubmission_MalformedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"not":"a listing"`))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	_, _, err := c.Submission(context.Background(), "abc123")

	var upstream *UpstreamError
	if !errors.As(err, &upstream) || !errors.Is(err, ErrMalformed) {
		t.Errorf("expected malformed UpstreamError, got %v", err)
	}
}

func TestMoreChildren_Query(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/morechildren.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("link_id") != "t3_abc123" || q.Get("children") != "c3,c4" || q.Get("api_type") != "json" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		writeJSON(w, map[string]any{
			"json": map[string]any{
				"errors": []any{},
				"data": map[string]any{
					"things": []map[string]any{
						t1("c3", "t1_c1", "bob"),
						t1("c3a", "t1_c3", "alice"),
						t1("c4", "t1_c1", "[deleted]"),
					},
				},
			},
		})
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	items, err := c.MoreChildren(context.Background(), "abc123", []string{"c3", "c4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []string
	for _, it := range items {
		got = append(got, it.Comment.ID+"<"+it.Comment.ParentID)
	}
	if diff := cmp.Diff([]string{"c3<c1", "c3a<c3", "c4<c1"}, got); diff != "" {
		t.Errorf("things mismatch (-want +got):\n%s", diff)
	}
}

func TestMoreChildren_BatchLimit(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", Options{})
	ids := make([]string, MaxBatch+1)
	for i := range ids {
		ids[i] = "x"
	}
	if _, err := c.MoreChildren(context.Background(), "abc123", ids); err == nil {
		t.Error("expected error for oversized batch")
	}
}

func TestContinueThread_Path(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/comments/abc123/_/c9.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		writeJSON(w, submissionPage(
			t1("c9", "t1_c8", "bob",
				t1("c10", "t1_c9", "alice"),
			),
		))
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	items, err := c.ContinueThread(context.Background(), "abc123", "c9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Comment.ID != "c9" || len(items[0].Replies) != 1 {
		t.Errorf("unexpected items: %+v", items)
	}
}

func TestGet_RetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.05")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, submissionPage())
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{})
	start := time.Now()
	if _, _, err := c.Submission(context.Background(), "abc123"); err != nil {
		t.Fatalf("expected rate limit to be absorbed, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", calls.Load())
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("expected Retry-After to be honoured, took %s", elapsed)
	}
}

func TestGet_ServerErrorsExhaustAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{MaxAttempts: 3})
	_, err := c.MoreChildren(context.Background(), "abc123", []string{"c1"})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestGet_ConsecutiveTimeouts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	c := newTestClient(t, server.URL, Options{Timeout: 30 * time.Millisecond, MaxTimeouts: 2, MaxAttempts: 5})
	_, err := c.MoreChildren(context.Background(), "abc123", []string{"c1"})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if errors.Is(err, ErrConnectionLost) {
		t.Errorf("timeouts must not be reported as connection loss: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestGet_ConnectionLost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := newTestClient(t, url, Options{})
	_, err := c.MoreChildren(context.Background(), "abc123", []string{"c1"})
	if !errors.Is(err, ErrConnectionLost) {
		t.Errorf("expected ErrConnectionLost, got %v", err)
	}
}

func TestGet_CancelledContextSendsNothing(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(t, server.URL, Options{})
	_, _, err := c.Submission(ctx, "abc123")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no requests, got %d", calls.Load())
	}
}

func TestAuthenticatedClient_UsesBearerToken(t *testing.T) {
	var tokenCalls atomic.Int32
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("expected client basic auth, got %q %q", user, pass)
		}
		r.ParseForm()
		if r.Form.Get("grant_type") != "password" || r.Form.Get("username") != "bot" || r.Form.Get("password") != "hunter2" {
			t.Errorf("unexpected token form: %v", r.Form)
		}
		if ua := r.Header.Get("User-Agent"); ua != "threadqa-test/1.0" {
			t.Errorf("token request missing user agent, got %q", ua)
		}
		writeJSON(w, map[string]any{"access_token": "tok-1", "token_type": "bearer", "expires_in": 3600})
	}))
	defer tokens.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("expected bearer token, got %q", got)
		}
		if strings.HasSuffix(r.URL.Path, ".json") {
			t.Errorf("authenticated requests must not use the .json suffix: %q", r.URL.Path)
		}
		writeJSON(w, submissionPage())
	}))
	defer api.Close()

	creds := config.RedditConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Username:     "bot",
		Password:     "hunter2",
		UserAgent:    "threadqa-test/1.0",
	}
	c := New(creds, fastLimiter(), Options{BaseURL: api.URL, TokenURL: tokens.URL}, testLogger())
	if !c.Authenticated() {
		t.Fatal("expected authenticated client")
	}

	for i := 0; i < 2; i++ {
		if _, _, err := c.Submission(context.Background(), "abc123"); err != nil {
			t.Fatalf("submission %d: %v", i, err)
		}
	}
	if tokenCalls.Load() != 1 {
		t.Errorf("expected token to be reused, got %d grants", tokenCalls.Load())
	}
}

func TestAuthenticatedClient_BadCredentials(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]any{"error": "invalid_grant"})
	}))
	defer tokens.Close()

	var apiCalls atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls.Add(1)
	}))
	defer api.Close()

	creds := config.RedditConfig{ClientID: "id", ClientSecret: "secret", Username: "bot", Password: "wrong"}
	c := New(creds, fastLimiter(), Options{BaseURL: api.URL, TokenURL: tokens.URL}, testLogger())

	_, _, err := c.Submission(context.Background(), "abc123")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) || !errors.Is(err, ErrAuth) {
		t.Errorf("expected auth UpstreamError, got %v", err)
	}
	if apiCalls.Load() != 0 {
		t.Errorf("expected no api calls, got %d", apiCalls.Load())
	}
}

func TestParentRef(t *testing.T) {
	cases := map[string]string{
		"t1_abc":    "abc",
		"t3_abc123": "",
		"":          "",
		"raw":       "raw",
	}
	for in, want := range cases {
		if got := parentRef(in); got != want {
			t.Errorf("parentRef(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("7"); got != 7*time.Second {
		t.Errorf("expected 7s, got %s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("expected 0, got %s", got)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 30*time.Second {
		t.Errorf("expected about a minute, got %s", got)
	}
}
