package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/stockmetrics/internal/application/engine"
	"github.com/sawpanic/stockmetrics/internal/domain/metrics"
)

// Job types
const (
	JobDaily    = "metrics.daily"    // run the latest trading date
	JobBackfill = "metrics.backfill" // run the trailing lookback window
)

// Job represents a scheduled job configuration
type Job struct {
	Name        string    `yaml:"name"`
	Schedule    string    `yaml:"schedule"` // standard 5-field cron or a descriptor such as "@daily"
	Type        string    `yaml:"type"`
	Description string    `yaml:"description"`
	Enabled     bool      `yaml:"enabled"`
	Config      JobConfig `yaml:"config"`
}

// JobConfig holds job-specific configuration
type JobConfig struct {
	BatchSize       int  `yaml:"batch_size"`        // 0 uses the engine default
	LookbackDays    int  `yaml:"lookback_days"`     // backfill window ending today
	SkipExisting    bool `yaml:"skip_existing"`     // backfill skips complete dates
	ContinueOnError bool `yaml:"continue_on_error"` // backfill keeps going after a failed date
}

// Config holds the scheduler configuration
type Config struct {
	Timezone string `yaml:"timezone"`
	Jobs     []Job  `yaml:"jobs"`
}

// DefaultConfig runs the daily job on weekday evenings after the close
func DefaultConfig() Config {
	return Config{
		Timezone: "America/New_York",
		Jobs: []Job{
			{
				Name:        "daily-metrics",
				Schedule:    "30 18 * * 1-5",
				Type:        JobDaily,
				Description: "Recompute metrics for the latest trading date",
				Enabled:     true,
			},
			{
				Name:        "weekly-gapfill",
				Schedule:    "0 6 * * 6",
				Type:        JobBackfill,
				Description: "Re-run any incomplete date of the last two weeks",
				Enabled:     true,
				Config:      JobConfig{LookbackDays: 14, SkipExisting: true, ContinueOnError: true},
			},
		},
	}
}

// LoadConfig reads a scheduler configuration from a YAML file
func LoadConfig(path string) (Config, error) {
	config := Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.Timezone == "" {
		config.Timezone = "UTC"
	}
	return config, config.Validate()
}

// Validate checks job names, types and schedules
func (c Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	seen := map[string]bool{}
	for _, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("job without a name")
		}
		if seen[job.Name] {
			return fmt.Errorf("duplicate job %q", job.Name)
		}
		seen[job.Name] = true

		switch job.Type {
		case JobDaily:
		case JobBackfill:
			if job.Config.LookbackDays <= 0 {
				return fmt.Errorf("job %q: lookback_days must be positive", job.Name)
			}
		default:
			return fmt.Errorf("job %q: unknown type %q", job.Name, job.Type)
		}

		if _, err := cron.ParseStandard(job.Schedule); err != nil {
			return fmt.Errorf("job %q: invalid schedule %q: %w", job.Name, job.Schedule, err)
		}
	}
	return nil
}

// Runner is the part of the engine the scheduler drives
type Runner interface {
	Run(ctx context.Context, req engine.RunRequest) (*engine.RunReport, error)
	Backfill(ctx context.Context, req engine.BackfillRequest) (*engine.BackfillReport, error)
}

// JobResult represents the result of a job execution
type JobResult struct {
	JobName   string        `json:"job_name"`
	Type      string        `json:"type"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Dates     []string      `json:"dates,omitempty"`
}

// Status represents scheduler status
type Status struct {
	Running      bool          `json:"running"`
	EnabledJobs  int           `json:"enabled_jobs"`
	DisabledJobs int           `json:"disabled_jobs"`
	NextRun      time.Time     `json:"next_run"`
	LastRun      time.Time     `json:"last_run"`
	Uptime       time.Duration `json:"uptime"`
}

// Scheduler runs engine jobs on cron schedules. A job that is still running
// when its next tick arrives is skipped for that tick.
type Scheduler struct {
	config   Config
	runner   Runner
	location *time.Location
	cron     *cron.Cron

	mu        sync.Mutex
	running   bool
	startTime time.Time
	lastRun   time.Time
	results   map[string]JobResult

	now func() time.Time
}

// New validates the configuration and creates a scheduler
func New(config Config, runner Runner) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		return nil, err
	}

	logger := cronLogger{}
	return &Scheduler{
		config:   config,
		runner:   runner,
		location: loc,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		results: map[string]JobResult{},
		now:     time.Now,
	}, nil
}

// ListJobs returns all configured jobs
func (s *Scheduler) ListJobs() []Job {
	return s.config.Jobs
}

// Start registers the enabled jobs and blocks until ctx is cancelled. Jobs
// in flight at cancellation finish before Start returns.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.mu.Unlock()

	for _, job := range s.config.Jobs {
		if !job.Enabled {
			log.Info().Str("job", job.Name).Msg("Job disabled, not scheduling")
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.execute(ctx, job) }); err != nil {
			return fmt.Errorf("register job %q: %w", job.Name, err)
		}
		log.Info().Str("job", job.Name).Str("schedule", job.Schedule).Str("type", job.Type).Msg("Job scheduled")
	}

	s.cron.Start()

	s.mu.Lock()
	s.running = true
	s.startTime = s.now()
	s.mu.Unlock()
	log.Info().Str("timezone", s.location.String()).Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")

	<-ctx.Done()

	stopped := s.cron.Stop()
	<-stopped.Done()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	log.Info().Msg("Scheduler stopped")
	return nil
}

// RunJob executes a job immediately, whether or not it is enabled
func (s *Scheduler) RunJob(ctx context.Context, name string) (*JobResult, error) {
	for _, job := range s.config.Jobs {
		if job.Name == name {
			result := s.execute(ctx, job)
			return &result, nil
		}
	}
	return nil, fmt.Errorf("job not found: %s", name)
}

// LastResult returns the most recent result of a job
func (s *Scheduler) LastResult(name string) (JobResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[name]
	return r, ok
}

// Status returns current scheduler status
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{Running: s.running, LastRun: s.lastRun}
	for _, job := range s.config.Jobs {
		if job.Enabled {
			status.EnabledJobs++
		} else {
			status.DisabledJobs++
		}
	}
	if s.running {
		status.Uptime = s.now().Sub(s.startTime)
		for _, e := range s.cron.Entries() {
			if status.NextRun.IsZero() || e.Next.Before(status.NextRun) {
				status.NextRun = e.Next
			}
		}
	}
	return status
}

func (s *Scheduler) execute(ctx context.Context, job Job) JobResult {
	result := JobResult{JobName: job.Name, Type: job.Type, StartTime: s.now()}
	log.Info().Str("job", job.Name).Str("type", job.Type).Msg("Executing job")

	var err error
	switch job.Type {
	case JobDaily:
		var report *engine.RunReport
		report, err = s.runner.Run(ctx, engine.RunRequest{BatchSize: job.Config.BatchSize})
		if report != nil {
			result.Dates = []string{report.Date.Format("2006-01-02")}
		}
	case JobBackfill:
		end := metrics.Day(s.now().In(s.location))
		var report *engine.BackfillReport
		report, err = s.runner.Backfill(ctx, engine.BackfillRequest{
			Start:           end.AddDate(0, 0, -job.Config.LookbackDays),
			End:             end,
			SkipExisting:    job.Config.SkipExisting,
			ContinueOnError: job.Config.ContinueOnError,
			BatchSize:       job.Config.BatchSize,
		})
		if report != nil {
			for _, d := range report.Succeeded {
				result.Dates = append(result.Dates, d.Format("2006-01-02"))
			}
		}
	default:
		err = fmt.Errorf("unknown job type: %s", job.Type)
	}

	result.EndTime = s.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Success = err == nil
	if err != nil {
		result.Error = err.Error()
	}

	s.mu.Lock()
	s.lastRun = result.StartTime
	s.results[job.Name] = result
	s.mu.Unlock()

	evt := log.Info()
	if err != nil {
		evt = log.Error().Err(err)
		if errors.Is(err, engine.ErrRunInProgress) {
			evt = log.Warn().Err(err)
		}
	}
	evt.Str("job", job.Name).
		Dur("duration", result.Duration).
		Strs("dates", result.Dates).
		Bool("success", result.Success).
		Msg("Job finished")

	return result
}

// cronLogger routes cron's internal logging through zerolog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}
