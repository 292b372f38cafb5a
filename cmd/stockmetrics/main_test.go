package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"run", "backfill", "schedule", "monitor", "migrate"})
}

func TestParseDate(t *testing.T) {
	cmd := newRunCmd()

	d, err := parseDate(cmd.Flags(), "date")
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	require.NoError(t, cmd.Flags().Set("date", "2025-06-30"))
	d, err = parseDate(cmd.Flags(), "date")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), d)

	require.NoError(t, cmd.Flags().Set("date", "30/06/2025"))
	_, err = parseDate(cmd.Flags(), "date")
	assert.Error(t, err)
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	require.NoError(t, setupLogging("warn", true))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	assert.Error(t, setupLogging("chatty", true))
}

func TestScheduleList(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	defer os.Chdir(wd)

	path := filepath.Join(t.TempDir(), "stockmetrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheduler:
  timezone: UTC
  jobs:
    - name: nightly
      schedule: "0 22 * * 1-5"
      type: metrics.daily
      enabled: true
`), 0o644))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"schedule", "--list", "--json-logs", "--config", path})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "nightly")
	assert.Contains(t, out.String(), "metrics.daily")
	assert.Contains(t, out.String(), "enabled")
}
