package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/MikeSquared-Agency/threadqa/internal/export"
	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/spf13/cobra"
)

var extractFlags struct {
	accounts       []string
	format         string
	output         string
	includeDeleted bool
	workers        int
	maxRequests    int
	maxComments    int
	quiet          bool
}

var extractCmd = &cobra.Command{
	Use:   "extract <submission-url-or-id>",
	Short: "Extract Q&A pairs from one submission",
	Example: "  threadqa extract https://www.reddit.com/r/golang/comments/abc123/ -a alice,bob\n" +
		"  threadqa extract abc123 -a alice -f json -o out/abc123.json",
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	f := extractCmd.Flags()
	f.StringSliceVarP(&extractFlags.accounts, "accounts", "a", nil, "Accounts whose replies count as answers (required)")
	f.StringVarP(&extractFlags.format, "format", "f", "markdown", "Output format: markdown, text or json")
	f.StringVarP(&extractFlags.output, "output", "o", "", "Write to this file instead of stdout")
	f.BoolVar(&extractFlags.includeDeleted, "include-deleted", cfg.Expansion.IncludeDeleted, "Count deleted or removed comments as resolved")
	f.IntVar(&extractFlags.workers, "workers", cfg.Expansion.Workers, "Concurrent expansion workers")
	f.IntVar(&extractFlags.maxRequests, "max-requests", cfg.Expansion.MaxRequests, "Stop expanding after this many requests (0 = unlimited)")
	f.IntVar(&extractFlags.maxComments, "max-comments", cfg.Expansion.MaxComments, "Stop expanding after this many comments (0 = unlimited)")
	f.BoolVarP(&extractFlags.quiet, "quiet", "q", false, "Do not print progress")

	_ = extractCmd.MarkFlagRequired("accounts")
}

func runExtract(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(extractFlags.format)
	if err != nil {
		return err
	}
	spec, err := extraction.ParseRequest(extraction.Request{
		SubmissionID:   args[0],
		Accounts:       extractFlags.accounts,
		IncludeDeleted: extractFlags.includeDeleted,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cfg
	c.Expansion.Workers = extractFlags.workers
	c.Expansion.MaxRequests = extractFlags.maxRequests
	c.Expansion.MaxComments = extractFlags.maxComments
	engine := newEngine(c, slog.Default())

	progressOut := cmd.ErrOrStderr()
	var res *extraction.Result
	for ev := range engine.Start(ctx, spec) {
		switch ev.Type {
		case extraction.EventProgress:
			if !extractFlags.quiet {
				printProgress(progressOut, ev)
			}
		case extraction.EventComplete:
			res = ev.Result
		case extraction.EventError:
			if !extractFlags.quiet {
				fmt.Fprintln(progressOut)
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return extraction.ErrCancelled
			}
			return errors.New(ev.Message)
		}
	}
	if res == nil {
		return errors.New("extraction ended without a result")
	}
	if !extractFlags.quiet {
		fmt.Fprintf(progressOut, "\nTitle: %s\nComments: %d | Q&A pairs: %d | Answers: %d\n",
			res.SubmissionTitle, res.TotalComments, len(res.Pairs), res.AnswerCount())
		if res.Truncated {
			fmt.Fprintln(progressOut, "WARNING: expansion ceiling reached, result is partial")
		}
	}

	return writeResult(cmd.OutOrStdout(), extractFlags.output, format, res)
}

func printProgress(w io.Writer, ev extraction.Event) {
	p := ev.Progress
	fmt.Fprintf(w, "\r%-20s %5.1f%%  comments %-6d pending %-4d matches %-4d",
		p.Phase, p.Percent, p.Resolved, p.Pending, p.Matches)
}

func writeResult(stdout io.Writer, path string, format export.Format, res *extraction.Result) error {
	if path == "" {
		return export.Render(stdout, format, res)
	}
	if filepath.Ext(path) == "" {
		path += format.Extension()
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
	return f.Close()
}
