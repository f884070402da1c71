//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/MikeSquared-Agency/threadqa/internal/progress"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_PubSub(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()
	logger := slog.Default()

	client, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	received := make(chan map[string]string, 1)

	err = client.Subscribe("threadqa.test.>", func(subject string, data []byte) {
		var msg map[string]string
		json.Unmarshal(data, &msg)
		received <- msg
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Give subscription time to propagate
	time.Sleep(100 * time.Millisecond)

	err = client.Publish("threadqa.test.ping", map[string]string{
		"message": "hello from integration test",
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg["message"] != "hello from integration test" {
			t.Errorf("expected hello message, got %v", msg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestIntegration_JobEvents(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	client, err := NewClient(context.Background(), natsURL, os.Getenv("NATS_TOKEN"), slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	type received struct {
		subject string
		body    map[string]any
	}
	got := make(chan received, 2)
	if err := client.Subscribe(SubjectJobEvents, func(subject string, data []byte) {
		var body map[string]any
		json.Unmarshal(data, &body)
		got <- received{subject, body}
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	client.PublishJobEvent("job-1", extraction.Event{
		Type:     extraction.EventProgress,
		Progress: progress.Snapshot{Phase: progress.PhaseExpanding, Percent: 42},
	})

	select {
	case msg := <-got:
		if msg.subject != "threadqa.job.job-1.progress" {
			t.Errorf("unexpected subject %q", msg.subject)
		}
		if msg.body["type"] != "progress" || msg.body["phase"] != "expanding-comments" {
			t.Errorf("unexpected payload %v", msg.body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job event")
	}
}
