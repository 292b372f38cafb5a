package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "stockmetrics"
	version = "v1.0.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Daily cross-sectional stock metrics engine",
		Version: version,
		Long: `stockmetrics computes per-symbol trend, volatility and volume metrics for a
trading date, ranks the universe by weighted momentum into a 1-99 relative
strength rating and upserts the results into PostgreSQL.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			jsonLogs, _ := cmd.Flags().GetBool("json-logs")
			return setupLogging(level, jsonLogs)
		},
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Force JSON log output even on a terminal")

	rootCmd.AddCommand(
		newRunCmd(),
		newBackfillCmd(),
		newScheduleCmd(),
		newMonitorCmd(),
		newMigrateCmd(),
	)
	return rootCmd
}

// setupLogging writes human-readable logs to a terminal and JSON otherwise.
// An empty level is resolved later from the config file.
func setupLogging(level string, jsonLogs bool) error {
	zerolog.TimeFieldFormat = time.RFC3339

	if !jsonLogs && term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	if level == "" {
		return nil
	}
	return setLevel(level)
}

func setLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
