package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MikeSquared-Agency/threadqa/internal/batch"
	"github.com/spf13/cobra"
)

var runJobsFlags struct {
	config string
	job    string
	dryRun bool
	list   bool
	force  bool
	state  string
}

var runJobsCmd = &cobra.Command{
	Use:   "run-jobs",
	Short: "Run extraction jobs from a YAML file",
	RunE:  runJobs,
}

func init() {
	f := runJobsCmd.Flags()
	f.StringVarP(&runJobsFlags.config, "config", "c", "jobs.yaml", "Path to the jobs file")
	f.StringVarP(&runJobsFlags.job, "job", "j", "", "Run only the job with this name")
	f.BoolVar(&runJobsFlags.dryRun, "dry-run", false, "Validate jobs without fetching anything")
	f.BoolVar(&runJobsFlags.list, "list", false, "List available jobs and exit")
	f.BoolVar(&runJobsFlags.force, "force", false, "Rerun jobs already marked complete in the state file")
	f.StringVar(&runJobsFlags.state, "state", batch.DefaultStatePath, "Path to the resumable state file")
}

func runJobs(cmd *cobra.Command, _ []string) error {
	file, err := batch.Load(runJobsFlags.config)
	if err != nil {
		return err
	}

	logger := slog.Default()
	out := cmd.OutOrStdout()
	cfgRun := batch.Config{
		Job:       runJobsFlags.job,
		DryRun:    runJobsFlags.dryRun,
		Force:     runJobsFlags.force,
		StatePath: runJobsFlags.state,
	}

	if runJobsFlags.list {
		batch.NewRunner(cfgRun, nil, nil, out, logger).List(file)
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store batch.ResultStore
	if !runJobsFlags.dryRun {
		db, err := openStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if db != nil {
			defer db.Close()
			store = db
		}
	}

	runner := batch.NewRunner(cfgRun, newEngine(cfg, logger), store, out, logger)
	_, err = runner.Run(ctx, file)
	return err
}
