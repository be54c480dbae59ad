package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formflow/internal/model"
)

// ErrNotFound is returned when a session, plan, or run does not exist.
var ErrNotFound = eris.New("store: not found")

// SessionFilter specifies criteria for listing workflow sessions.
type SessionFilter struct {
	Status model.WorkflowStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
	Offset int                  `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing document runs.
type RunFilter struct {
	TaskName string          `json:"task_name,omitempty"`
	Status   model.RunStatus `json:"status,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Offset   int             `json:"offset,omitempty"`
}

// Store persists workflow sessions, generated plans, and document runs.
type Store interface {
	// Sessions
	SaveSession(ctx context.Context, state *model.WorkflowState) error
	GetSession(ctx context.Context, sessionID string) (*model.WorkflowState, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.WorkflowState, error)

	// Plans
	SavePlan(ctx context.Context, plan *model.Plan) error
	GetPlan(ctx context.Context, taskName string) (*model.Plan, error)

	// Runs
	CreateRun(ctx context.Context, taskName, documentID string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.ExecutionResult, runErr error) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

// runStatusFor derives the final run status from the runtime's outcome.
func runStatusFor(result *model.ExecutionResult, runErr error) model.RunStatus {
	if runErr != nil || result == nil {
		return model.RunStatusFailed
	}
	if result.Status != "" {
		return result.Status
	}
	return model.RunStatusCompleted
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
