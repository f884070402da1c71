package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MikeSquared-Agency/threadqa/internal/config"
	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	cfg      = config.Load()
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "threadqa",
	Short: "Extract question/answer pairs from Reddit comment trees",
	Long: "threadqa fetches the complete comment tree of a Reddit submission, expands every\n" +
		"\"more comments\" placeholder and pairs top-level questions with replies from a\n" +
		"watch-list of accounts.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		// Commands that print results keep stdout for them.
		w := cmd.ErrOrStderr()
		if cmd == serveCmd {
			w = os.Stdout
		}
		setupLogging(logLevel, w)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn or error")
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runJobsCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
