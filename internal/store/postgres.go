package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/formflow/internal/db"
	"github.com/sells-group/formflow/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	form_name  TEXT NOT NULL,
	status     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	state      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS plans (
	task_name  TEXT PRIMARY KEY,
	session_id TEXT,
	plan       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	task_name   TEXT NOT NULL,
	document_id TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	result      JSONB,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_units (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	unit        TEXT NOT NULL,
	stage       INTEGER NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, unit)
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_runs_task_name ON runs(task_name);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

var runUnitColumns = []string{"run_id", "unit", "stage", "status", "error", "duration_ms"}

var runUnitUpsert = db.UpsertConfig{
	Table:        "run_units",
	Columns:      runUnitColumns,
	ConflictKeys: []string{"run_id", "unit"},
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, state *model.WorkflowState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, form_name, status, stage, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, stage = EXCLUDED.stage, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		state.SessionID, state.Form.Name, string(state.Status), string(state.Stage),
		stateJSON, state.CreatedAt.UTC(), state.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: save session %s", state.SessionID)
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*model.WorkflowState, error) {
	var stateJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT state FROM sessions WHERE id = $1`, sessionID).Scan(&stateJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "session %s", sessionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", sessionID)
	}
	return decodeSession(stateJSON)
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.WorkflowState, error) {
	query := `SELECT state FROM sessions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY updated_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var out []model.WorkflowState
	for rows.Next() {
		var stateJSON []byte
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		st, err := decodeSession(stateJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) SavePlan(ctx context.Context, plan *model.Plan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal plan")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO plans (task_name, session_id, plan, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (task_name) DO UPDATE SET session_id = EXCLUDED.session_id, plan = EXCLUDED.plan, created_at = EXCLUDED.created_at`,
		plan.TaskName, plan.SessionID, planJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save plan %s", plan.TaskName)
}

func (s *PostgresStore) GetPlan(ctx context.Context, taskName string) (*model.Plan, error) {
	var planJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT plan FROM plans WHERE task_name = $1`, taskName).Scan(&planJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "plan %s", taskName)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get plan %s", taskName)
	}
	var plan model.Plan
	if err := json.Unmarshal(planJSON, &plan); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal plan")
	}
	return &plan, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, taskName, documentID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, task_name, document_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, taskName, documentID, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:         id,
		TaskName:   taskName,
		DocumentID: documentID,
		Status:     model.RunStatusRunning,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// CompleteRun records the outcome of a run and upserts its per-unit
// outcomes into run_units, so completing the same run twice keeps one row
// per unit.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.ExecutionResult, runErr error) error {
	var resultJSON []byte
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal result")
		}
		resultJSON = b
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, result = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(runStatusFor(result, runErr)), resultJSON, errString(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}

	if result == nil {
		return nil
	}
	rows := make([][]any, 0, len(result.Units))
	for _, u := range result.Units {
		rows = append(rows, []any{runID, u.Unit, u.Stage, string(u.Status), u.Error, u.DurationMs})
	}
	if _, err := db.BulkUpsert(ctx, s.pool, runUnitUpsert, rows); err != nil {
		return eris.Wrapf(err, "postgres: record units for run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, task_name, document_id, status, result, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPgRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, task_name, document_id, status, result, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TaskName != "" {
		query += fmt.Sprintf(` AND task_name = $%d`, argIdx)
		args = append(args, filter.TaskName)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limitOrDefault(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var resultJSON []byte
	var errText *string

	if err := row.Scan(&r.ID, &r.TaskName, &r.DocumentID, &status, &resultJSON, &errText, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if errText != nil {
		r.Error = *errText
	}
	if len(resultJSON) > 0 {
		r.Result = &model.ExecutionResult{}
		if err := json.Unmarshal(resultJSON, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}
