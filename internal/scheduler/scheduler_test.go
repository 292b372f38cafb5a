package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/stockmetrics/internal/application/engine"
)

type fakeRunner struct {
	mu        sync.Mutex
	runs      []engine.RunRequest
	backfills []engine.BackfillRequest
	runErr    error
}

func (f *fakeRunner) Run(ctx context.Context, req engine.RunRequest) (*engine.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, req)
	report := &engine.RunReport{Date: time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), State: engine.StateDone}
	if f.runErr != nil {
		report.State = engine.StateFailed
	}
	return report, f.runErr
}

func (f *fakeRunner) Backfill(ctx context.Context, req engine.BackfillRequest) (*engine.BackfillReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backfills = append(f.backfills, req)
	return &engine.BackfillReport{Succeeded: []time.Time{req.Start, req.End}}, nil
}

func (f *fakeRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func TestDefaultConfig_Valid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	daily := Job{Name: "d", Schedule: "30 18 * * 1-5", Type: JobDaily}

	tests := []struct {
		name   string
		config Config
		errMsg string
	}{
		{"ok", Config{Timezone: "UTC", Jobs: []Job{daily}}, ""},
		{"bad timezone", Config{Timezone: "Mars/Olympus", Jobs: []Job{daily}}, "invalid timezone"},
		{"duplicate", Config{Timezone: "UTC", Jobs: []Job{daily, daily}}, "duplicate job"},
		{"unnamed", Config{Timezone: "UTC", Jobs: []Job{{Schedule: "@daily", Type: JobDaily}}}, "without a name"},
		{"unknown type", Config{Timezone: "UTC", Jobs: []Job{{Name: "x", Schedule: "@daily", Type: "scan.hot"}}}, "unknown type"},
		{"bad schedule", Config{Timezone: "UTC", Jobs: []Job{{Name: "x", Schedule: "every day", Type: JobDaily}}}, "invalid schedule"},
		{"backfill without lookback", Config{Timezone: "UTC", Jobs: []Job{{Name: "x", Schedule: "@weekly", Type: JobBackfill}}}, "lookback_days"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
jobs:
  - name: nightly
    schedule: "0 22 * * 1-5"
    type: metrics.daily
    enabled: true
    config:
      batch_size: 250
  - name: gapfill
    schedule: "@weekly"
    type: metrics.backfill
    config:
      lookback_days: 10
      skip_existing: true
`), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "UTC", config.Timezone)
	require.Len(t, config.Jobs, 2)
	assert.Equal(t, 250, config.Jobs[0].Config.BatchSize)
	assert.False(t, config.Jobs[1].Enabled)
	assert.True(t, config.Jobs[1].Config.SkipExisting)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(), nil)
	assert.Error(t, err)

	_, err = New(Config{Timezone: "UTC", Jobs: []Job{{Name: "x", Type: JobDaily, Schedule: "nope"}}}, &fakeRunner{})
	assert.Error(t, err)
}

func TestRunJob_Daily(t *testing.T) {
	runner := &fakeRunner{}
	config := DefaultConfig()
	config.Jobs[0].Config.BatchSize = 100

	s, err := New(config, runner)
	require.NoError(t, err)

	result, err := s.RunJob(context.Background(), "daily-metrics")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"2025-06-30"}, result.Dates)
	require.Len(t, runner.runs, 1)
	assert.Equal(t, 100, runner.runs[0].BatchSize)
	assert.True(t, runner.runs[0].Date.IsZero())

	last, ok := s.LastResult("daily-metrics")
	require.True(t, ok)
	assert.Equal(t, *result, last)
	assert.Equal(t, result.StartTime, s.Status().LastRun)
}

func TestRunJob_DailyFailure(t *testing.T) {
	runner := &fakeRunner{runErr: engine.ErrIncompleteRun}
	s, err := New(DefaultConfig(), runner)
	require.NoError(t, err)

	result, err := s.RunJob(context.Background(), "daily-metrics")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, engine.ErrIncompleteRun.Error(), result.Error)
}

func TestRunJob_Backfill(t *testing.T) {
	runner := &fakeRunner{}
	s, err := New(DefaultConfig(), runner)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2025, 7, 5, 10, 0, 0, 0, time.UTC) }

	result, err := s.RunJob(context.Background(), "weekly-gapfill")
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, runner.backfills, 1)
	req := runner.backfills[0]
	assert.Equal(t, time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC), req.End)
	assert.Equal(t, time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC), req.Start)
	assert.True(t, req.SkipExisting)
	assert.True(t, req.ContinueOnError)
	assert.Equal(t, []string{"2025-06-21", "2025-07-05"}, result.Dates)
}

func TestRunJob_Unknown(t *testing.T) {
	s, err := New(DefaultConfig(), &fakeRunner{})
	require.NoError(t, err)

	_, err = s.RunJob(context.Background(), "hot-scan")
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	config := DefaultConfig()
	config.Jobs[1].Enabled = false

	s, err := New(config, &fakeRunner{})
	require.NoError(t, err)

	status := s.Status()
	assert.False(t, status.Running)
	assert.Equal(t, 1, status.EnabledJobs)
	assert.Equal(t, 1, status.DisabledJobs)
	assert.True(t, status.NextRun.IsZero())
}

func TestStart_RunsScheduledJobs(t *testing.T) {
	runner := &fakeRunner{}
	config := Config{
		Timezone: "UTC",
		Jobs: []Job{
			{Name: "fast", Schedule: "@every 1s", Type: JobDaily, Enabled: true},
			{Name: "off", Schedule: "@every 1s", Type: JobDaily, Enabled: false},
		},
	}
	s, err := New(config, runner)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Status().Running }, time.Second, 10*time.Millisecond)
	assert.False(t, s.Status().NextRun.IsZero())
	assert.Error(t, s.Start(ctx), "second start")

	require.Eventually(t, func() bool { return runner.runCount() >= 1 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, s.Status().Running)

	_, ok := s.LastResult("off")
	assert.False(t, ok)
}

func TestCronLogger(t *testing.T) {
	l := cronLogger{}
	l.Info("wake", "now", time.Now())
	l.Error(errors.New("boom"), "panic", "job", "x")
}
