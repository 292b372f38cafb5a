package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/stockmetrics/internal/application/engine"
	monitor "github.com/sawpanic/stockmetrics/internal/interfaces/http"
	"github.com/sawpanic/stockmetrics/internal/scheduler"
)

const dateLayout = "2006-01-02"

// signalContext is cancelled on SIGINT or SIGTERM. The engine finishes the
// batch in flight before stopping.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func parseDate(flags *pflag.FlagSet, flag string) (time.Time, error) {
	v, _ := flags.GetString(flag)
	if v == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be YYYY-MM-DD: %w", flag, err)
	}
	return d, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute, rank and store metrics for one trading date",
		Long:  "Runs the engine once. Without --date the latest trading date in the price store is used.",
		RunE:  runMetrics,
	}
	cmd.Flags().String("date", "", "Calculation date (YYYY-MM-DD), defaults to the latest trading date")
	cmd.Flags().Int("batch-size", 0, "Symbols per compute batch, 0 uses the configured size")
	cmd.Flags().Bool("report", false, "Print the run report as JSON on stdout")
	return cmd
}

func runMetrics(cmd *cobra.Command, args []string) error {
	date, err := parseDate(cmd.Flags(), "date")
	if err != nil {
		return err
	}
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	printReport, _ := cmd.Flags().GetBool("report")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.preflight(ctx); err != nil {
		return err
	}

	report, runErr := a.engine.Run(ctx, engine.RunRequest{Date: date, BatchSize: batchSize})
	if report != nil && printReport {
		if err := printJSON(report); err != nil {
			return err
		}
	}
	return runErr
}

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Run the engine for every trading date in a range",
		RunE:  runBackfill,
	}
	cmd.Flags().String("start", "", "First date (YYYY-MM-DD)")
	cmd.Flags().String("end", "", "Last date (YYYY-MM-DD), defaults to today")
	cmd.Flags().Bool("skip-existing", true, "Skip dates whose last run completed")
	cmd.Flags().Bool("continue-on-error", false, "Keep going after a failed date")
	cmd.Flags().Int("batch-size", 0, "Symbols per compute batch, 0 uses the configured size")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func runBackfill(cmd *cobra.Command, args []string) error {
	start, err := parseDate(cmd.Flags(), "start")
	if err != nil {
		return err
	}
	end, err := parseDate(cmd.Flags(), "end")
	if err != nil {
		return err
	}
	if end.IsZero() {
		end = time.Now().UTC()
	}
	skip, _ := cmd.Flags().GetBool("skip-existing")
	cont, _ := cmd.Flags().GetBool("continue-on-error")
	batchSize, _ := cmd.Flags().GetInt("batch-size")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.preflight(ctx); err != nil {
		return err
	}

	report, err := a.engine.Backfill(ctx, engine.BackfillRequest{
		Start:           start,
		End:             end,
		SkipExisting:    skip,
		ContinueOnError: cont,
		BatchSize:       batchSize,
	})
	if report != nil {
		log.Info().
			Int("succeeded", len(report.Succeeded)).
			Int("skipped", len(report.Skipped)).
			Int("failed", len(report.Failed)).
			Msg("Backfill finished")
	}
	return err
}

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run configured jobs on their cron schedules",
		Long:  "Starts the scheduler and, unless --no-monitor is set, the monitor server alongside it.",
		RunE:  runSchedule,
	}
	cmd.Flags().String("job", "", "Run a single job now and exit")
	cmd.Flags().Bool("list", false, "List configured jobs and exit")
	cmd.Flags().Bool("no-monitor", false, "Do not start the monitor server")
	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
	jobName, _ := cmd.Flags().GetString("job")
	list, _ := cmd.Flags().GetBool("list")
	noMonitor, _ := cmd.Flags().GetBool("no-monitor")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if list {
		for _, job := range cfg.Scheduler.Jobs {
			status := "disabled"
			if job.Enabled {
				status = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-18s %-16s %-8s %s\n", job.Name, job.Type, job.Schedule, status, job.Description)
		}
		return nil
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.preflight(ctx); err != nil {
		return err
	}

	sched, err := scheduler.New(cfg.Scheduler, a.engine)
	if err != nil {
		return err
	}

	if jobName != "" {
		result, err := sched.RunJob(ctx, jobName)
		if err != nil {
			return err
		}
		if err := printJSON(result); err != nil {
			return err
		}
		if !result.Success {
			return errors.New(result.Error)
		}
		return nil
	}

	if !noMonitor {
		server, err := monitor.NewServer(cfg.Monitor, a.monitorDeps())
		if err != nil {
			return err
		}
		go func() {
			if err := server.Start(); err != nil {
				log.Error().Err(err).Msg("Monitor server failed")
			}
		}()
		defer shutdown(server)
	}

	return sched.Start(ctx)
}

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Start the read-only monitor server",
		Long:  "Serves /health, /metrics (Prometheus), /metrics/summary, /runs and stored metrics records.",
		RunE:  runMonitor,
	}
	cmd.Flags().String("host", "", "Listen host, overrides the config")
	cmd.Flags().Int("port", 0, "Listen port, overrides the config")
	return cmd
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Monitor.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Monitor.Port = port
	}

	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := monitor.NewServer(cfg.Monitor, a.monitorDeps())
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdown(server)
		return nil
	}
}

func shutdown(server *monitor.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Monitor shutdown failed")
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the metrics table, indexes and run ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.Migrate(ctx); err != nil {
				return err
			}
			log.Info().Msg("Schema migrated")
			return a.preflight(ctx)
		},
	}
}
