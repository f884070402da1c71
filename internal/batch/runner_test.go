package batch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/MikeSquared-Agency/threadqa/internal/forest"
	"github.com/MikeSquared-Agency/threadqa/internal/matcher"
	"github.com/google/uuid"
)

type fakeEngine struct {
	calls []string
	fail  map[string]error
}

func (e *fakeEngine) Run(ctx context.Context, spec extraction.Spec, emit func(extraction.Event)) (*extraction.Result, error) {
	e.calls = append(e.calls, spec.SubmissionID)
	if err := e.fail[spec.SubmissionID]; err != nil {
		return nil, err
	}
	return &extraction.Result{
		SubmissionID:    spec.SubmissionID,
		SubmissionTitle: "Title " + spec.SubmissionID,
		TotalComments:   4,
		Pairs: []matcher.Pair{{
			Question: forest.Comment{ID: "q1", Body: "Why?"},
			Answers:  []forest.Comment{{ID: "a1", Author: "alice", Body: "Because."}},
		}},
	}, nil
}

type countingStore struct{ saved int }

func (s *countingStore) SaveExtraction(ctx context.Context, jobID uuid.UUID, req extraction.Request, res *extraction.Result) error {
	s.saved++
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJobs(t *testing.T, dir, body string) *File {
	t.Helper()
	path := filepath.Join(dir, "jobs.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write jobs file: %v", err)
	}
	f, err := Load(path)
	if err != nil {
		t.Fatalf("load jobs file: %v", err)
	}
	return f
}

const twoJobs = `
jobs:
  - name: first
    description: First job
    submission: https://redd.it/abc123
    accounts: [alice]
    output:
      format: txt
      file: %OUT%/first.txt
  - name: second
    submission: def456
    accounts:
      - bob
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	f := writeJobs(t, dir, strings.ReplaceAll(twoJobs, "%OUT%", dir))

	if len(f.Jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(f.Jobs))
	}
	j, ok := f.Find("first")
	if !ok || j.Output.Format != "txt" || j.Accounts[0] != "alice" {
		t.Errorf("unexpected job: %+v", j)
	}
	if _, ok := f.Find("missing"); ok {
		t.Error("expected missing job lookup to fail")
	}

	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRunner_DryRun(t *testing.T) {
	dir := t.TempDir()
	f := writeJobs(t, dir, strings.ReplaceAll(twoJobs, "%OUT%", dir))
	engine := &fakeEngine{}
	var out bytes.Buffer

	r := NewRunner(Config{DryRun: true, StatePath: filepath.Join(dir, "state.json")}, engine, nil, &out, discardLogger())
	outcomes, err := r.Run(context.Background(), f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(engine.calls) != 0 {
		t.Errorf("dry run should not extract, got calls %v", engine.calls)
	}
	if len(outcomes) != 2 || !outcomes[0].OK || !outcomes[1].OK {
		t.Errorf("unexpected outcomes: %+v", outcomes)
	}
	if strings.Count(out.String(), "[DRY RUN] Would execute this job") != 2 {
		t.Errorf("expected dry run notice per job:\n%s", out.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "state.json")); !os.IsNotExist(err) {
		t.Error("dry run should not write state")
	}
}

func TestRunner_RunWritesOutputAndState(t *testing.T) {
	dir := t.TempDir()
	f := writeJobs(t, dir, strings.ReplaceAll(twoJobs, "%OUT%", dir))
	engine := &fakeEngine{}
	store := &countingStore{}
	statePath := filepath.Join(dir, "state.json")
	var out bytes.Buffer

	r := NewRunner(Config{StatePath: statePath}, engine, store, &out, discardLogger())
	if _, err := r.Run(context.Background(), f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(engine.calls) != 2 || engine.calls[0] != "abc123" || engine.calls[1] != "def456" {
		t.Errorf("unexpected calls: %v", engine.calls)
	}
	if store.saved != 2 {
		t.Errorf("expected 2 saves, got %d", store.saved)
	}

	data, err := os.ReadFile(filepath.Join(dir, "first.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "Q:\nWhy?\n\nA:\nBecause.\n\n" {
		t.Errorf("unexpected output file %q", data)
	}
	// The second job has no output file and prints to stdout.
	if !strings.Contains(out.String(), "Q:\nWhy?") {
		t.Error("expected stdout export for second job")
	}
	if !strings.Contains(out.String(), "✓ first") || !strings.Contains(out.String(), "✓ second") {
		t.Errorf("unexpected summary:\n%s", out.String())
	}

	state, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if !state.IsDone("first") || !state.IsDone("second") || state.Completed["first"].Pairs != 1 {
		t.Errorf("unexpected state: %+v", state.Completed)
	}
}

func TestRunner_SkipsCompletedUnlessForced(t *testing.T) {
	dir := t.TempDir()
	f := writeJobs(t, dir, strings.ReplaceAll(twoJobs, "%OUT%", dir))
	statePath := filepath.Join(dir, "state.json")

	state, _ := LoadState(statePath)
	state.MarkDone("first", CompletedJob{SubmissionID: "abc123"})
	if err := state.Save(); err != nil {
		t.Fatalf("save state: %v", err)
	}

	engine := &fakeEngine{}
	var out bytes.Buffer
	r := NewRunner(Config{StatePath: statePath}, engine, nil, &out, discardLogger())
	outcomes, err := r.Run(context.Background(), f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.calls) != 1 || engine.calls[0] != "def456" {
		t.Errorf("expected only second job to run, got %v", engine.calls)
	}
	if !outcomes[0].Skipped {
		t.Error("expected first job to be skipped")
	}

	engine = &fakeEngine{}
	r = NewRunner(Config{StatePath: statePath, Force: true, Job: "first"}, engine, nil, io.Discard, discardLogger())
	if _, err := r.Run(context.Background(), f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.calls) != 1 || engine.calls[0] != "abc123" {
		t.Errorf("expected forced rerun of first job, got %v", engine.calls)
	}
}

func TestRunner_FailureSummary(t *testing.T) {
	dir := t.TempDir()
	f := writeJobs(t, dir, `
jobs:
  - name: broken
    submission: abc123
    accounts: [alice]
  - name: no-accounts
    submission: def456
  - name: fine
    submission: ghi789
    accounts: [alice]
`)
	engine := &fakeEngine{fail: map[string]error{"abc123": errors.New("fetch submission: boom")}}
	var out bytes.Buffer

	r := NewRunner(Config{StatePath: filepath.Join(dir, "state.json")}, engine, nil, &out, discardLogger())
	outcomes, err := r.Run(context.Background(), f)
	if !errors.Is(err, ErrJobsFailed) {
		t.Fatalf("expected ErrJobsFailed, got %v", err)
	}
	if len(outcomes) != 3 || outcomes[0].OK || outcomes[1].OK || !outcomes[2].OK {
		t.Errorf("unexpected outcomes: %+v", outcomes)
	}
	var inputErr *extraction.InputError
	if !errors.As(outcomes[1].Err, &inputErr) {
		t.Errorf("expected InputError for job without accounts, got %v", outcomes[1].Err)
	}
	for _, want := range []string{"✗ broken", "✗ no-accounts", "✓ fine"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, out.String())
		}
	}
}

func TestRunner_UnknownJob(t *testing.T) {
	r := NewRunner(Config{Job: "missing", StatePath: filepath.Join(t.TempDir(), "s.json")}, &fakeEngine{}, nil, io.Discard, discardLogger())
	if _, err := r.Run(context.Background(), &File{}); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestRunner_List(t *testing.T) {
	var out bytes.Buffer
	r := NewRunner(Config{}, &fakeEngine{}, nil, &out, discardLogger())
	r.List(&File{Jobs: []Job{{Name: "a", Description: "Alpha"}, {Name: "b"}}})

	want := "Available jobs:\n  - a: Alpha\n  - b: No description\n"
	if out.String() != want {
		t.Errorf("got %q, want %q", out.String(), want)
	}
}
