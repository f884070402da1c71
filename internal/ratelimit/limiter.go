// Package ratelimit gates every outbound platform request behind one shared
// token bucket and a backoff window that opens on rate-limit signals.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	waitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "threadqa",
			Subsystem: "ratelimit",
			Name:      "wait_seconds",
			Help:      "Time callers spent suspended waiting for a request token",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 15, 60, 300},
		},
	)
	throttles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "threadqa",
			Subsystem: "ratelimit",
			Name:      "throttles_total",
			Help:      "Number of times the limiter entered backoff",
		},
		[]string{"source"},
	)
)

var registerMetrics sync.Once

func init() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(waitSeconds, throttles)
	})
}

// Config describes the bucket and the backoff schedule.
type Config struct {
	PerMinute   int
	Burst       int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultConfig matches the platform's published 60 requests/minute ceiling.
func DefaultConfig() Config {
	return Config{
		PerMinute:   60,
		Burst:       60,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  5 * time.Minute,
	}
}

// Limiter is safe for concurrent use. One instance is shared by every
// component that talks to the platform.
type Limiter struct {
	bucket *rate.Limiter

	mu    sync.Mutex
	sched *backoff.ExponentialBackOff
	until time.Time
}

func New(cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = def.PerMinute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.PerMinute
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = def.MaxBackoff
		if cfg.MaxBackoff < cfg.BaseBackoff {
			cfg.MaxBackoff = cfg.BaseBackoff
		}
	}

	sched := backoff.NewExponentialBackOff()
	sched.InitialInterval = cfg.BaseBackoff
	sched.Multiplier = 2
	sched.RandomizationFactor = 0
	sched.MaxInterval = cfg.MaxBackoff
	sched.MaxElapsedTime = 0
	sched.Reset()

	every := time.Minute / time.Duration(cfg.PerMinute)
	return &Limiter{
		bucket: rate.NewLimiter(rate.Every(every), cfg.Burst),
		sched:  sched,
	}
}

// Wait suspends until the caller holds a token and no backoff window is open.
// It returns the context error if ctx ends first.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() { waitSeconds.Observe(time.Since(start).Seconds()) }()

	if err := l.waitBackoff(ctx); err != nil {
		return err
	}
	if err := l.bucket.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	// A throttle may have landed while we were queued on the bucket.
	return l.waitBackoff(ctx)
}

func (l *Limiter) waitBackoff(ctx context.Context) error {
	for {
		l.mu.Lock()
		remaining := time.Until(l.until)
		l.mu.Unlock()
		if remaining <= 0 {
			return ctx.Err()
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Throttle opens a backoff window. The window is the next step of the
// exponential schedule, or retryAfter when the server asked for longer.
// It returns the chosen duration.
func (l *Limiter) Throttle(retryAfter time.Duration) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	d := l.sched.NextBackOff()
	source := "backoff"
	if retryAfter > d {
		d = retryAfter
		source = "retry_after"
	}
	if until := time.Now().Add(d); until.After(l.until) {
		l.until = until
	}
	throttles.WithLabelValues(source).Inc()
	return d
}

// Succeed resets the backoff schedule to its baseline.
func (l *Limiter) Succeed() {
	l.mu.Lock()
	l.sched.Reset()
	l.mu.Unlock()
}

// BackoffRemaining reports how long the current backoff window stays open.
func (l *Limiter) BackoffRemaining() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d := time.Until(l.until); d > 0 {
		return d
	}
	return 0
}
