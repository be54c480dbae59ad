package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/formflow/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	form_name  TEXT NOT NULL,
	status     TEXT NOT NULL,
	stage      TEXT NOT NULL,
	state      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS plans (
	task_name  TEXT PRIMARY KEY,
	session_id TEXT,
	plan       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	task_name   TEXT NOT NULL,
	document_id TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	result      TEXT,
	error       TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_units (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	unit        TEXT NOT NULL,
	stage       INTEGER NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, unit)
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_runs_task_name ON runs(task_name);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveSession(ctx context.Context, state *model.WorkflowState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, form_name, status, stage, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			stage = excluded.stage,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		state.SessionID, state.Form.Name, string(state.Status), string(state.Stage),
		string(stateJSON), state.CreatedAt.UTC(), state.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: save session %s", state.SessionID)
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*model.WorkflowState, error) {
	var stateJSON string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, sessionID).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "session %s", sessionID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", sessionID)
	}
	return decodeSession([]byte(stateJSON))
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.WorkflowState, error) {
	query := `SELECT state FROM sessions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var out []model.WorkflowState
	for rows.Next() {
		var stateJSON string
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		st, err := decodeSession([]byte(stateJSON))
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) SavePlan(ctx context.Context, plan *model.Plan) error {
	planJSON, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal plan")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (task_name, session_id, plan, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(task_name) DO UPDATE SET session_id = excluded.session_id, plan = excluded.plan, created_at = excluded.created_at`,
		plan.TaskName, plan.SessionID, string(planJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save plan %s", plan.TaskName)
}

func (s *SQLiteStore) GetPlan(ctx context.Context, taskName string) (*model.Plan, error) {
	var planJSON string
	err := s.db.QueryRowContext(ctx, `SELECT plan FROM plans WHERE task_name = ?`, taskName).Scan(&planJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "plan %s", taskName)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get plan %s", taskName)
	}
	var plan model.Plan
	if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal plan")
	}
	return &plan, nil
}

func (s *SQLiteStore) CreateRun(ctx context.Context, taskName, documentID string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, task_name, document_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, taskName, documentID, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
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

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.ExecutionResult, runErr error) error {
	var resultJSON sql.NullString
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal result")
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin complete run")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(runStatusFor(result, runErr)), resultJSON, errString(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	if err := checkRowsAffected(res, "run", runID); err != nil {
		return err
	}

	if result != nil {
		for _, u := range result.Units {
			_, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO run_units (run_id, unit, stage, status, error, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
				runID, u.Unit, u.Stage, string(u.Status), u.Error, u.DurationMs,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert run unit %s", u.Unit)
			}
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit complete run")
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task_name, document_id, status, result, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, task_name, document_id, status, result, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.TaskName != "" {
		query += ` AND task_name = ?`
		args = append(args, filter.TaskName)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limitOrDefault(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON, errText sql.NullString

	err := row.Scan(&r.ID, &r.TaskName, &r.DocumentID, &r.Status, &resultJSON, &errText, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Error = errText.String
	if resultJSON.Valid {
		r.Result = &model.ExecutionResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}

func decodeSession(b []byte) (*model.WorkflowState, error) {
	var st model.WorkflowState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal session")
	}
	return &st, nil
}
