package postgres

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/guregu/null/v6"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/stockmetrics/internal/persistence"
)

func TestRunsRepo_Save(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, 5*time.Second, "metrics_runs")
	started := time.Date(2025, 6, 30, 21, 0, 0, 0, time.UTC)

	run := persistence.RunRecord{
		ID:              "7f1c2b9e-3c1f-4d4b-9a57-1f0d8c9b6a11",
		CalculationDate: calcDate,
		State:           "failed",
		StartedAt:       started,
		FinishedAt:      null.TimeFrom(started.Add(time.Minute)),
		UniverseSize:    3,
		Computed:        3,
		Rated:           2,
		Written:         1,
		FailedSymbols:   []string{"BAD"},
		FailedBatches:   persistence.FailedBatches{{Index: 1, Symbols: []string{"MSFT"}, Error: "timeout"}},
		Error:           null.StringFrom("incomplete"),
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "metrics_runs"`)).
		WithArgs(run.ID, calcDate, "failed", started, run.FinishedAt, 3, 3, 2, 1,
			pq.Array([]string{"BAD"}), run.FailedBatches, run.Error).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunsRepo_LatestForDate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRunsRepo(db, 5*time.Second, "metrics_runs")
	cols := strings.Split(strings.Join(strings.Fields(runColumns), " "), ", ")
	started := time.Date(2025, 6, 30, 21, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE calculation_date = $1 ORDER BY started_at DESC LIMIT 1`)).
			WithArgs(calcDate).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(
				"run-1", calcDate, "done", started, started.Add(time.Minute), 2, 2, 2, 2,
				[]byte("{}"), []byte(`[]`), nil))

		run, err := repo.LatestForDate(context.Background(), calcDate)
		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, "done", run.State)
		assert.Empty(t, run.FailedSymbols)
		assert.Empty(t, run.FailedBatches)
		assert.False(t, run.Error.Valid)
	})

	t.Run("failed_batches_decoded", func(t *testing.T) {
		mock.ExpectQuery(`FROM "metrics_runs"`).
			WillReturnRows(sqlmock.NewRows(cols).AddRow(
				"run-2", calcDate, "failed", started, nil, 2, 2, 2, 0,
				[]byte("{BAD,WORSE}"), []byte(`[{"index":0,"symbols":["AAPL","MSFT"],"error":"deadlock"}]`), "incomplete"))

		run, err := repo.Latest(context.Background())
		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, []string{"BAD", "WORSE"}, run.FailedSymbols)
		require.Len(t, run.FailedBatches, 1)
		assert.Equal(t, []string{"AAPL", "MSFT"}, run.FailedBatches[0].Symbols)
		assert.False(t, run.FinishedAt.Valid)
		assert.Equal(t, "incomplete", run.Error.String)
	})

	t.Run("none", func(t *testing.T) {
		mock.ExpectQuery(`FROM "metrics_runs"`).WillReturnRows(sqlmock.NewRows(cols))

		run, err := repo.LatestForDate(context.Background(), calcDate)
		require.NoError(t, err)
		assert.Nil(t, run)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
