package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
)

const defaultPostMessageURL = "https://slack.com/api/chat.postMessage"

// previewQuestions caps how many questions a summary lists.
const previewQuestions = 5

type Poster struct {
	token   string
	channel string
	client  *http.Client
	logger  *slog.Logger
	apiURL  string
}

func NewPoster(token, channel string, logger *slog.Logger) *Poster {
	return &Poster{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  defaultPostMessageURL,
		logger:  logger,
	}
}

// PostSummary announces a completed extraction.
func (p *Poster) PostSummary(ctx context.Context, jobID string, res *extraction.Result) error {
	text := formatSummary(jobID, res)
	ts, err := p.post(ctx, map[string]any{
		"channel":      p.channel,
		"text":         text,
		"unfurl_links": false,
		"blocks": []map[string]any{
			{
				"type": "section",
				"text": map[string]any{
					"type": "mrkdwn",
					"text": text,
				},
			},
			{
				"type": "context",
				"elements": []map[string]any{
					{
						"type": "mrkdwn",
						"text": "Export: `GET /api/jobs/" + jobID + "/export?format=md`",
					},
				},
			},
		},
	})
	if err != nil {
		return err
	}
	p.logger.Info("posted summary to slack", "ts", ts, "job_id", jobID, "submission_id", res.SubmissionID)
	return nil
}

func (p *Poster) post(ctx context.Context, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var slackResp struct {
		OK    bool   `json:"ok"`
		TS    string `json:"ts"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(respBody, &slackResp); err != nil {
		return "", fmt.Errorf("parse slack response: %w", err)
	}
	if !slackResp.OK {
		return "", fmt.Errorf("slack error: %s", slackResp.Error)
	}
	return slackResp.TS, nil
}

func formatSummary(jobID string, res *extraction.Result) string {
	var sb strings.Builder

	title := res.SubmissionTitle
	if title == "" {
		title = res.SubmissionID
	}
	fmt.Fprintf(&sb, "*Q&A extraction complete:* %s", title)
	if res.Subreddit != "" {
		fmt.Fprintf(&sb, " (r/%s)", res.Subreddit)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "*Job:* %s\n", jobID)
	fmt.Fprintf(&sb, "Comments: %d | Q&A pairs: %d | Answers: %d\n",
		res.TotalComments, len(res.Pairs), res.AnswerCount())
	if res.Truncated {
		sb.WriteString("_Partial result: an expansion ceiling was reached._\n")
	}

	if len(res.Pairs) == 0 {
		sb.WriteString("_No watched accounts replied in this thread._")
		return sb.String()
	}

	sb.WriteString("\n")
	for i, p := range res.Pairs {
		if i == previewQuestions {
			fmt.Fprintf(&sb, "…and %d more\n", len(res.Pairs)-previewQuestions)
			break
		}
		fmt.Fprintf(&sb, "%d. %s (%d answers)\n", i+1, preview(p.Question.Body, 80), len(p.Answers))
	}
	return sb.String()
}

// preview collapses whitespace and cuts s to at most n runes.
func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
