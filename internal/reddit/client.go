// Package reddit fetches submissions and expands comment placeholders. Every
// request passes through the shared rate limiter; throttles, server errors and
// timeouts are retried inside the client and never surface on success.
package reddit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/config"
	"github.com/MikeSquared-Agency/threadqa/internal/forest"
	"github.com/MikeSquared-Agency/threadqa/internal/ratelimit"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	publicBaseURL = "https://www.reddit.com"
	oauthBaseURL  = "https://oauth.reddit.com"

	// MaxBatch is the platform's limit on ids per morechildren call.
	MaxBatch = 100
)

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "threadqa",
		Subsystem: "reddit",
		Name:      "requests_total",
		Help:      "Outbound platform requests by operation and outcome",
	},
	[]string{"op", "outcome"},
)

var registerMetrics sync.Once

func init() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(requestsTotal)
	})
}

// Options tunes the transport. Zero values pick the defaults.
type Options struct {
	BaseURL     string
	TokenURL    string
	Timeout     time.Duration
	MaxTimeouts int
	MaxAttempts int
}

type Client struct {
	http    *resty.Client
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	public  bool

	maxTimeouts int
	maxAttempts int
	timeouts    atomic.Int32
}

// New builds an authenticated client when creds are complete, else a
// public one that reads the .json endpoints.
func New(creds config.RedditConfig, limiter *ratelimit.Limiter, opts Options, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxTimeouts <= 0 {
		opts.MaxTimeouts = 3
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.TokenURL == "" {
		opts.TokenURL = defaultTokenURL
	}
	if creds.UserAgent == "" {
		creds.UserAgent = "threadqa/1.0"
	}

	var base http.RoundTripper = &userAgentTransport{base: http.DefaultTransport, userAgent: creds.UserAgent}
	public := !creds.Authenticated()
	if public {
		if opts.BaseURL == "" {
			opts.BaseURL = publicBaseURL
		}
	} else {
		if opts.BaseURL == "" {
			opts.BaseURL = oauthBaseURL
		}
		tokenClient := &http.Client{Transport: base, Timeout: opts.Timeout}
		base = oauthTransport(opts.TokenURL, creds.ClientID, creds.ClientSecret, creds.Username, creds.Password, base, tokenClient)
	}

	hc := resty.NewWithClient(&http.Client{Transport: base})
	hc.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	hc.SetTimeout(opts.Timeout)
	hc.SetHeader("User-Agent", creds.UserAgent)

	return &Client{
		http:        hc,
		limiter:     limiter,
		logger:      logger,
		public:      public,
		maxTimeouts: opts.MaxTimeouts,
		maxAttempts: opts.MaxAttempts,
	}
}

// Authenticated reports whether requests carry an OAuth bearer token.
func (c *Client) Authenticated() bool {
	return !c.public
}

// Submission fetches the submission and its initial comment listing.
func (c *Client) Submission(ctx context.Context, id string) (forest.Submission, []forest.Item, error) {
	body, err := c.get(ctx, "submission", "/comments/"+id, map[string]string{
		"limit":    "500",
		"depth":    "100",
		"sort":     "old",
		"raw_json": "1",
	})
	if err != nil {
		return forest.Submission{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return forest.Submission{}, nil, err
	}

	sub, items, err := parseSubmission(body)
	if err != nil {
		return forest.Submission{}, nil, &UpstreamError{Op: "submission", Err: err}
	}
	return sub, items, nil
}

// MoreChildren resolves up to MaxBatch placeholder ids in one call.
func (c *Client) MoreChildren(ctx context.Context, submissionID string, ids []string) ([]forest.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxBatch {
		return nil, fmt.Errorf("morechildren: %d ids exceeds batch limit %d", len(ids), MaxBatch)
	}

	body, err := c.get(ctx, "morechildren", "/api/morechildren", map[string]string{
		"api_type": "json",
		"link_id":  "t3_" + submissionID,
		"children": strings.Join(ids, ","),
		"sort":     "old",
		"raw_json": "1",
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := parseMoreChildren(body)
	if err != nil {
		return nil, &UpstreamError{Op: "morechildren", Err: err}
	}
	return items, nil
}

// ContinueThread fetches the subtree rooted at commentID. The first item of
// the listing is the comment itself.
func (c *Client) ContinueThread(ctx context.Context, submissionID, commentID string) ([]forest.Item, error) {
	body, err := c.get(ctx, "continue", "/comments/"+submissionID+"/_/"+commentID, map[string]string{
		"limit":    "500",
		"depth":    "100",
		"sort":     "old",
		"raw_json": "1",
	})
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, items, err := parseSubmission(body)
	if err != nil {
		return nil, &UpstreamError{Op: "continue", Err: err}
	}
	return items, nil
}

func (c *Client) get(ctx context.Context, op, path string, params map[string]string) ([]byte, error) {
	if c.public {
		path += ".json"
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get(path)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, ErrAuth) {
				requestsTotal.WithLabelValues(op, "auth_error").Inc()
				return nil, &UpstreamError{Op: op, Err: err}
			}
			if isTimeout(err) {
				requestsTotal.WithLabelValues(op, "timeout").Inc()
				n := int(c.timeouts.Add(1))
				if n >= c.maxTimeouts {
					return nil, &UpstreamError{Op: op, Err: fmt.Errorf("%d consecutive timeouts: %w", n, err)}
				}
				d := c.limiter.Throttle(0)
				c.logger.Warn("request timed out, backing off", "op", op, "attempt", attempt, "backoff", d)
				lastErr = err
				continue
			}
			requestsTotal.WithLabelValues(op, "connection_error").Inc()
			return nil, fmt.Errorf("%s: %w: %w", op, ErrConnectionLost, err)
		}

		c.timeouts.Store(0)
		status := resp.StatusCode()
		switch {
		case status == http.StatusOK:
			requestsTotal.WithLabelValues(op, "ok").Inc()
			c.limiter.Succeed()
			return resp.Body(), nil
		case status == http.StatusTooManyRequests:
			requestsTotal.WithLabelValues(op, "throttled").Inc()
			ra := parseRetryAfter(resp.Header().Get("Retry-After"))
			d := c.limiter.Throttle(ra)
			c.logger.Warn("rate limited, backing off", "op", op, "attempt", attempt, "retry_after", ra, "backoff", d)
			lastErr = &RateLimitError{RetryAfter: ra}
		case status >= 500:
			requestsTotal.WithLabelValues(op, "server_error").Inc()
			d := c.limiter.Throttle(0)
			c.logger.Warn("server error, backing off", "op", op, "status", status, "attempt", attempt, "backoff", d)
			lastErr = fmt.Errorf("status %d", status)
		case status == http.StatusNotFound || status == http.StatusForbidden:
			requestsTotal.WithLabelValues(op, "not_found").Inc()
			return nil, &UpstreamError{Op: op, Status: status, Err: ErrNotFound}
		default:
			requestsTotal.WithLabelValues(op, "rejected").Inc()
			return nil, &UpstreamError{Op: op, Status: status, Err: fmt.Errorf("unexpected status")}
		}
	}

	return nil, &UpstreamError{Op: op, Err: fmt.Errorf("gave up after %d attempts: %w", c.maxAttempts, lastErr)}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
