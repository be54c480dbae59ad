package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/formflow/internal/db"
	"github.com/sells-group/formflow/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS sessions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveSession(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	st := sampleState("s1", model.StatusInProgress)

	mock.ExpectExec(`INSERT INTO sessions .* ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("s1", "Trial", "in_progress", "validate", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveSession(context.Background(), st))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT state FROM sessions WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"state"}).
			AddRow([]byte(`{"session_id":"s1","status":"awaiting_review","stage":"human_review","attempt":2}`)))

	got, err := s.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingReview, got.Status)
	assert.Equal(t, 2, got.Attempt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT state FROM sessions`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSession(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSessions(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT state FROM sessions WHERE true AND status = \$1 ORDER BY updated_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("failed", 10, 5).
		WillReturnRows(pgxmock.NewRows([]string{"state"}).
			AddRow([]byte(`{"session_id":"a","status":"failed"}`)).
			AddRow([]byte(`{"session_id":"b","status":"failed"}`)))

	got, err := s.ListSessions(context.Background(), SessionFilter{Status: model.StatusFailed, Limit: 10, Offset: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].SessionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPlan(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT plan FROM plans WHERE task_name = \$1`).
		WithArgs("task_ab12cd34").
		WillReturnRows(pgxmock.NewRows([]string{"plan"}).
			AddRow([]byte(`{"task_name":"task_ab12cd34","units":[{"name":"U1","class_name":"U1","fields":[],"fallback":{"a":"NR"}}],"stages":[]}`)))

	plan, err := s.GetPlan(context.Background(), "task_ab12cd34")
	require.NoError(t, err)
	assert.Equal(t, "NR", plan.Units[0].Fallback["a"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "task_1", "doc-1", "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "task_1", "doc-1")
	require.NoError(t, err)
	assert.Len(t, run.ID, 36)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// expectUnitUpsert sets up the transaction BulkUpsert runs for run_units.
func expectUnitUpsert(m pgxmock.PgxPoolIface, n int64) {
	m.ExpectBegin()
	m.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	m.ExpectCopyFrom(pgx.Identifier{db.TempTable("run_units")}, runUnitColumns).WillReturnResult(n)
	m.ExpectExec(`INSERT INTO "run_units" .* ON CONFLICT \("run_id", "unit"\) DO UPDATE`).WillReturnResult(pgxmock.NewResult("INSERT", n))
	m.ExpectCommit()
}

func TestPostgresStore_CompleteRun_UpsertsUnits(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	result := &model.ExecutionResult{
		Status: model.RunStatusCompleted,
		Units: []model.UnitOutcome{
			{Unit: "U1", Stage: 0, Status: model.UnitSucceeded, DurationMs: 40},
			{Unit: "U2", Stage: 1, Status: model.UnitFailed, Error: "boom"},
		},
	}

	mock.ExpectExec(`UPDATE runs SET status = \$1, result = \$2, error = \$3, updated_at = \$4 WHERE id = \$5`).
		WithArgs("completed", pgxmock.AnyArg(), "", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	expectUnitUpsert(mock, 2)

	require.NoError(t, s.CompleteRun(context.Background(), "run-1", result, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_Twice(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	result := &model.ExecutionResult{
		Status: model.RunStatusCompleted,
		Units:  []model.UnitOutcome{{Unit: "U1", Status: model.UnitSucceeded}},
	}

	for range 2 {
		mock.ExpectExec(`UPDATE runs SET`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		expectUnitUpsert(mock, 1)
	}

	require.NoError(t, s.CompleteRun(context.Background(), "run-1", result, nil))
	require.NoError(t, s.CompleteRun(context.Background(), "run-1", result, nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET`).
		WithArgs("failed", pgxmock.AnyArg(), "boom", pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "missing", nil, errors.New("boom"))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, task_name, document_id, status, result, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "task_name", "document_id", "status", "result", "error", "created_at", "updated_at"}).
			AddRow("run-1", "task_1", "doc-1", "completed", []byte(`{"degraded":true,"fields":{"a":{"value":"NR"}}}`), nil, now, now))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, run.Status)
	require.NotNil(t, run.Result)
	assert.True(t, run.Result.Degraded)
	assert.True(t, run.Result.Fields["a"].IsNotReported())
	assert.Empty(t, run.Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, task_name`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM runs WHERE true AND task_name = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs("task_1", 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "task_name", "document_id", "status", "result", "error", "created_at", "updated_at"}).
			AddRow("run-1", "task_1", "doc-1", "running", nil, nil, now, now))

	runs, err := s.ListRuns(context.Background(), RunFilter{TaskName: "task_1"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Result)
	assert.NoError(t, mock.ExpectationsWereMet())
}
