package hermes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/nats-io/nats.go"
)

const (
	// SubjectExtractRequested carries an extraction.Request to start a job.
	SubjectExtractRequested = "threadqa.extract.requested"
	// SubjectExtractCancel carries a CancelRequest.
	SubjectExtractCancel = "threadqa.extract.cancel"
	// SubjectExtractRejected reports requests that could not be started.
	SubjectExtractRejected = "threadqa.extract.rejected"
	// SubjectJobEvents matches every job event; see JobSubject.
	SubjectJobEvents = "threadqa.job.>"
)

// CancelRequest names the job to stop, either by id or by submission.
type CancelRequest struct {
	JobID        string `json:"job_id,omitempty"`
	SubmissionID string `json:"submission_id,omitempty"`
}

// JobSubject is the subject a job event is published on:
// threadqa.job.<id>.<type>.
func JobSubject(jobID string, t extraction.EventType) string {
	return fmt.Sprintf("threadqa.job.%s.%s", jobID, t)
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("threadqa"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

// PublishJobEvent forwards one job event with the same JSON shape the SSE
// stream uses.
func (c *Client) PublishJobEvent(jobID string, ev extraction.Event) error {
	if err := c.Publish(JobSubject(jobID, ev.Type), ev); err != nil {
		return fmt.Errorf("publish job event: %w", err)
	}
	return nil
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Close drains subscriptions and pending publishes before closing.
func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}
