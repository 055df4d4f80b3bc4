package database_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bryan-buckman/ainews/internal/database"
	"github.com/bryan-buckman/ainews/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runStart = time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

func report(id string, offset time.Duration, failures map[string]string) model.RunReport {
	return model.RunReport{
		ID:           id,
		StartedAt:    runStart.Add(offset),
		FinishedAt:   runStart.Add(offset + 42*time.Second),
		Date:         "2026-10-18",
		Succeeded:    3,
		Failed:       len(failures),
		Skipped:      1,
		Fetched:      40,
		Added:        25,
		Deduplicated: 15,
		Failures:     failures,
	}
}

func TestSQLiteRecordAndListRuns(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "nested", "runs.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	assert.Equal(t, "SQLite", db.DatabaseType())

	latest, err := db.LatestRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first := report("run-1", 0, nil)
	second := report("run-2", 6*time.Hour, map[string]string{
		"slow-site": "timeout: context deadline exceeded",
		"bad-feed":  "parse error: unexpected EOF",
	})
	require.NoError(t, db.RecordRun(ctx, first))
	require.NoError(t, db.RecordRun(ctx, second))

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, second, runs[0])
	assert.Equal(t, first, runs[1])

	limited, err := db.ListRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	latest, err = db.LatestRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-2", latest.ID)
	assert.Equal(t, 42*time.Second, latest.Duration())
}

func TestSQLiteDuplicateRunIDFails(t *testing.T) {
	db, err := database.New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	require.NoError(t, db.RecordRun(ctx, report("same", 0, nil)))
	assert.Error(t, db.RecordRun(ctx, report("same", time.Hour, map[string]string{"x": "y"})))

	runs, err := db.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Failures, "failed transaction left nothing behind")
}

func TestOpen(t *testing.T) {
	store, err := database.Open(database.DriverNone, "")
	require.NoError(t, err)
	assert.Equal(t, "none", store.DatabaseType())
	require.NoError(t, store.RecordRun(context.Background(), report("x", 0, nil)))
	runs, err := store.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)

	store, err = database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	assert.Equal(t, "SQLite", store.DatabaseType())
	require.NoError(t, store.Close())

	_, err = database.Open("mongodb", "")
	assert.ErrorIs(t, err, database.ErrUnknownDriver)
}

func newMockPostgres(t *testing.T) (*database.PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs").WillReturnResult(sqlmock.NewResult(0, 0))
	db, err := database.NewPostgresFromDB(conn)
	require.NoError(t, err)
	return db, mock
}

func TestPostgresRecordRun(t *testing.T) {
	db, mock := newMockPostgres(t)
	r := report("run-9", 0, map[string]string{"b": "network error", "a": "timeout"})

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-9", r.StartedAt, r.FinishedAt, "2026-10-18", 3, 2, 1, 40, 25, 15).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO run_failures").
		WithArgs("run-9", "a", "timeout").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO run_failures").
		WithArgs("run-9", "b", "network error").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, db.RecordRun(context.Background(), r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordRunRollsBack(t *testing.T) {
	db, mock := newMockPostgres(t)
	r := report("run-9", 0, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := db.RecordRun(context.Background(), r)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListRuns(t *testing.T) {
	db, mock := newMockPostgres(t)
	r := report("run-3", 0, map[string]string{"down": "network error"})

	columns := []string{"id", "started_at", "finished_at", "date", "succeeded", "failed", "skipped", "fetched", "added", "deduplicated"}
	mock.ExpectQuery("SELECT (.+) FROM runs ORDER BY started_at DESC").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(r.ID, r.StartedAt, r.FinishedAt, r.Date, 3, 1, 1, 40, 25, 15))
	mock.ExpectQuery("SELECT source_id, reason FROM run_failures").
		WithArgs("run-3").
		WillReturnRows(sqlmock.NewRows([]string{"source_id", "reason"}).AddRow("down", "network error"))

	runs, err := db.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, r, runs[0])
	assert.Equal(t, "PostgreSQL", db.DatabaseType())
	assert.NoError(t, mock.ExpectationsWereMet())
}
