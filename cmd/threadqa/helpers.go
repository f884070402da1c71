package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/config"
	"github.com/MikeSquared-Agency/threadqa/internal/expander"
	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/MikeSquared-Agency/threadqa/internal/ratelimit"
	"github.com/MikeSquared-Agency/threadqa/internal/reddit"
	"github.com/MikeSquared-Agency/threadqa/internal/store"
)

// newEngine wires the shared limiter, the platform client and the
// expansion settings into one engine.
func newEngine(c config.Config, logger *slog.Logger) *extraction.Engine {
	limiter := ratelimit.New(ratelimit.Config{
		PerMinute: c.Expansion.RatePerMinute,
		Burst:     c.Expansion.RateBurst,
	})
	client := reddit.New(c.Reddit, limiter, reddit.Options{
		Timeout:     c.Expansion.RequestTimeout,
		MaxTimeouts: c.Expansion.MaxTimeouts,
		MaxAttempts: c.Expansion.MaxAttempts,
	}, logger)
	if client.Authenticated() {
		logger.Info("reddit client ready", "mode", "oauth", "user", c.Reddit.Username)
	} else {
		logger.Info("reddit client ready", "mode", "public")
	}

	return extraction.NewEngine(client, expander.Config{
		Workers:     c.Expansion.Workers,
		MaxRequests: c.Expansion.MaxRequests,
		MaxComments: c.Expansion.MaxComments,
	}, logger)
}

// openStore connects to Postgres when DATABASE_URL is set. A nil store
// means results are not persisted.
func openStore(ctx context.Context, databaseURL string) (*store.Store, error) {
	if databaseURL == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db, err := store.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
