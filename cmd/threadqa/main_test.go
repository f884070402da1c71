package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/threadqa/internal/export"
	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
)

func TestSetupLogging_Level(t *testing.T) {
	var buf bytes.Buffer
	setupLogging("warn", &buf)
	defer slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	slog.Info("hidden")
	slog.Warn("shown", "submission_id", "abc123")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line logged at warn level: %s", out)
	}
	if !strings.Contains(out, `"submission_id":"abc123"`) {
		t.Errorf("expected JSON warn line, got %s", out)
	}
	if !slog.Default().Enabled(context.Background(), slog.LevelWarn) {
		t.Error("warn should be enabled")
	}
}

func TestWriteResult_AddsExtension(t *testing.T) {
	dir := t.TempDir()
	res := &extraction.Result{SubmissionID: "abc123", SubmissionTitle: "T"}

	if err := writeResult(nil, filepath.Join(dir, "out", "abc123"), export.JSON, res); err != nil {
		t.Fatalf("writeResult: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "out", "abc123.json")); err != nil {
		t.Fatalf("expected file with .json extension: %v", err)
	}
}

func TestWriteResult_Stdout(t *testing.T) {
	var buf bytes.Buffer
	res := &extraction.Result{SubmissionID: "abc123"}
	if err := writeResult(&buf, "", export.JSON, res); err != nil {
		t.Fatalf("writeResult: %v", err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("got %q, want empty pair array", buf.String())
	}
}
