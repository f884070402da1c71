package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/api"
	"github.com/MikeSquared-Agency/threadqa/internal/hermes"
	"github.com/MikeSquared-Agency/threadqa/internal/jobs"
	"github.com/MikeSquared-Agency/threadqa/internal/processor"
	"github.com/MikeSquared-Agency/threadqa/internal/slack"
	"github.com/spf13/cobra"
)

var serveFlags struct {
	port   int
	jobTTL time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP job service and the NATS bridge",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.IntVar(&serveFlags.port, "port", cfg.Port, "HTTP listen port")
	f.DurationVar(&serveFlags.jobTTL, "job-ttl", time.Hour, "How long finished jobs stay queryable")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()
	logger.Info("threadqa starting", "port", serveFlags.port, "version", version)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	engine := newEngine(cfg, logger)
	var hooks jobs.Hooks

	// Database (optional, results are kept in memory only without it)
	db, err := openStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		hooks.Store = db
		logger.Info("database connected")
	} else {
		logger.Warn("DATABASE_URL not set, results will not be persisted")
	}

	// Slack poster (optional)
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		hooks.Notifier = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger)
		logger.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	// NATS/Hermes (optional)
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return err
		}
		defer hermesClient.Close()
		hooks.Publisher = hermesClient
		logger.Info("NATS connected", "url", cfg.NatsURL)
	}

	manager := jobs.NewManager(engine, hooks, serveFlags.jobTTL, logger)

	if hermesClient != nil {
		proc := processor.New(manager, hermesClient, logger)
		if err := hermesClient.Subscribe(hermes.SubjectExtractRequested, proc.HandleExtractRequested); err != nil {
			return err
		}
		if err := hermesClient.Subscribe(hermes.SubjectExtractCancel, proc.HandleCancelRequested); err != nil {
			return err
		}
		if err := hermesClient.Publish("threadqa.agent.registered", map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      serveFlags.port,
			"version":   version,
		}); err != nil {
			logger.Warn("failed to publish registration", "error", err)
		}
	}

	// HTTP API
	srv := api.NewServer(serveFlags.port, manager, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("threadqa ready", "port", serveFlags.port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			cancel()
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	// Cancel running jobs first so open progress streams see their terminal event.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("jobs did not stop in time", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	cancel()
	logger.Info("threadqa stopped")
	return nil
}
