package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/export"
	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/google/uuid"
)

// ErrJobsFailed is returned by Run when at least one job failed.
var ErrJobsFailed = errors.New("one or more jobs failed")

// Engine runs a single extraction.
type Engine interface {
	Run(ctx context.Context, spec extraction.Spec, emit func(extraction.Event)) (*extraction.Result, error)
}

// ResultStore optionally persists each result.
type ResultStore interface {
	SaveExtraction(ctx context.Context, jobID uuid.UUID, req extraction.Request, res *extraction.Result) error
}

// Config holds the run-jobs command configuration.
type Config struct {
	Job       string // run only the job with this name
	DryRun    bool
	Force     bool // rerun jobs the state file marks completed
	StatePath string
}

// Runner executes the jobs of one File.
type Runner struct {
	cfg    Config
	engine Engine
	store  ResultStore
	out    io.Writer
	logger *slog.Logger
}

// NewRunner creates a batch runner. store may be nil.
func NewRunner(cfg Config, engine Engine, store ResultStore, out io.Writer, logger *slog.Logger) *Runner {
	if out == nil {
		out = os.Stdout
	}
	return &Runner{cfg: cfg, engine: engine, store: store, out: out, logger: logger}
}

// Outcome is the result of one job in a run.
type Outcome struct {
	Name    string
	OK      bool
	Skipped bool
	Err     error
}

// List prints the available jobs.
func (r *Runner) List(f *File) {
	fmt.Fprintln(r.out, "Available jobs:")
	for _, j := range f.Jobs {
		desc := j.Description
		if desc == "" {
			desc = "No description"
		}
		fmt.Fprintf(r.out, "  - %s: %s\n", j.DisplayName(), desc)
	}
}

// Run executes the selected jobs in file order and prints a summary. It
// returns ErrJobsFailed if any job failed, or the context error if the run
// was interrupted.
func (r *Runner) Run(ctx context.Context, f *File) ([]Outcome, error) {
	jobs := f.Jobs
	if r.cfg.Job != "" {
		j, ok := f.Find(r.cfg.Job)
		if !ok {
			return nil, fmt.Errorf("job not found: %s", r.cfg.Job)
		}
		jobs = []Job{j}
	}

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	var outcomes []Outcome
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			r.logger.Info("run interrupted, saving state")
			_ = state.Save()
			return outcomes, err
		}

		o := r.runJob(ctx, j, state)
		outcomes = append(outcomes, o)
		if !r.cfg.DryRun {
			if err := state.Save(); err != nil {
				r.logger.Warn("failed to save state", "path", state.Path(), "error", err)
			}
		}
	}

	r.printSummary(outcomes)

	for _, o := range outcomes {
		if !o.OK {
			return outcomes, ErrJobsFailed
		}
	}
	return outcomes, nil
}

func (r *Runner) runJob(ctx context.Context, j Job, state *State) Outcome {
	name := j.DisplayName()
	o := Outcome{Name: name}
	rule := strings.Repeat("=", 60)

	fmt.Fprintf(r.out, "\n%s\n", rule)
	fmt.Fprintf(r.out, "Job: %s\n", name)
	if j.Description != "" {
		fmt.Fprintf(r.out, "Description: %s\n", j.Description)
	}
	fmt.Fprintf(r.out, "Submission: %s\n", j.Submission)
	fmt.Fprintf(r.out, "%s\n", rule)

	fail := func(err error) Outcome {
		fmt.Fprintf(r.out, "ERROR: %v\n", err)
		state.AddError(fmt.Sprintf("%s: %v", name, err))
		o.Err = err
		return o
	}

	req := j.Request()
	spec, err := extraction.ParseRequest(req)
	if err != nil {
		return fail(err)
	}
	format, err := export.ParseFormat(j.Output.Format)
	if err != nil {
		return fail(err)
	}

	if state.IsDone(name) && !r.cfg.Force {
		fmt.Fprintln(r.out, "Already completed, skipping (use --force to rerun)")
		o.OK, o.Skipped = true, true
		return o
	}
	if r.cfg.DryRun {
		fmt.Fprintln(r.out, "[DRY RUN] Would execute this job")
		o.OK = true
		return o
	}

	start := time.Now()
	res, err := r.engine.Run(ctx, spec, func(ev extraction.Event) {
		if ev.Type == extraction.EventProgress {
			r.logger.Debug("job progress",
				"job", name,
				"phase", ev.Progress.Phase,
				"percent", ev.Progress.Percent,
			)
		}
	})
	if err != nil {
		return fail(err)
	}

	fmt.Fprintf(r.out, "Title: %s\n", res.SubmissionTitle)
	fmt.Fprintf(r.out, "Comments retrieved: %d\n", res.TotalComments)
	fmt.Fprintf(r.out, "Filtering for authors: %s\n", strings.Join(spec.WatchList.Names(), ", "))
	fmt.Fprintf(r.out, "Q&A pairs found: %d\n", len(res.Pairs))
	if res.Truncated {
		fmt.Fprintln(r.out, "WARNING: expansion ceiling reached, result is partial")
	}

	if err := r.write(j.Output.File, format, res); err != nil {
		return fail(err)
	}

	if r.store != nil {
		if err := r.store.SaveExtraction(ctx, uuid.New(), req, res); err != nil {
			r.logger.Error("failed to persist result", "job", name, "error", err)
		}
	}

	state.MarkDone(name, CompletedJob{
		SubmissionID: res.SubmissionID,
		Pairs:        len(res.Pairs),
		Answers:      res.AnswerCount(),
		Truncated:    res.Truncated,
		Output:       j.Output.File,
		FinishedAt:   time.Now().UTC(),
	})
	r.logger.Info("job complete",
		"job", name,
		"submission_id", res.SubmissionID,
		"pairs", len(res.Pairs),
		"duration", time.Since(start).Round(time.Millisecond).String(),
	)
	o.OK = true
	return o
}

func (r *Runner) write(path string, format export.Format, res *extraction.Result) error {
	if path == "" {
		return export.Render(r.out, format, res)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := export.Render(f, format, res); err != nil {
		f.Close()
		return fmt.Errorf("render output: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	fmt.Fprintf(r.out, "Output written to: %s\n", path)
	return nil
}

func (r *Runner) printSummary(outcomes []Outcome) {
	fmt.Fprintf(r.out, "\n%s\n", strings.Repeat("=", 60))
	fmt.Fprintln(r.out, "Summary:")
	for _, o := range outcomes {
		mark := "✓"
		if !o.OK {
			mark = "✗"
		}
		suffix := ""
		if o.Skipped {
			suffix = " (skipped)"
		}
		fmt.Fprintf(r.out, "  %s %s%s\n", mark, o.Name, suffix)
	}
	if r.cfg.DryRun {
		fmt.Fprintln(r.out, "Mode: DRY RUN (nothing fetched)")
	}
}
