package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/formflow/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func sampleState(id string, status model.WorkflowStatus) *model.WorkflowState {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.WorkflowState{
		SessionID:   id,
		Form:        model.Form{Name: "Trial", Fields: []model.Field{{Name: "a", DataType: model.DataTypeText}}},
		Attempt:     1,
		MaxAttempts: 3,
		Decomposition: &model.Decomposition{Units: []model.ExtractionUnit{
			{Name: "U1", FieldNames: []string{"a"}},
		}},
		Stage:     model.StageValidate,
		Status:    status,
		Errors:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("SaveAndGetSession", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		st := sampleState("s1", model.StatusInProgress)
		require.NoError(t, s.SaveSession(ctx, st))

		got, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", got.SessionID)
		assert.Equal(t, model.StageValidate, got.Stage)
		require.NotNil(t, got.Decomposition)
		assert.Equal(t, []string{"a"}, got.Decomposition.Units[0].FieldNames)
	})

	t.Run("SaveSessionOverwrites", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		st := sampleState("s1", model.StatusInProgress)
		require.NoError(t, s.SaveSession(ctx, st))

		st.Status = model.StatusAwaitingReview
		st.Stage = model.StageHumanReview
		st.UpdatedAt = st.UpdatedAt.Add(time.Minute)
		require.NoError(t, s.SaveSession(ctx, st))

		got, err := s.GetSession(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, model.StatusAwaitingReview, got.Status)

		all, err := s.ListSessions(ctx, SessionFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("GetSessionNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetSession(context.Background(), "missing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("ListSessionsByStatus", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveSession(ctx, sampleState("s1", model.StatusCompleted)))
		require.NoError(t, s.SaveSession(ctx, sampleState("s2", model.StatusAwaitingReview)))
		require.NoError(t, s.SaveSession(ctx, sampleState("s3", model.StatusAwaitingReview)))

		waiting, err := s.ListSessions(ctx, SessionFilter{Status: model.StatusAwaitingReview})
		require.NoError(t, err)
		assert.Len(t, waiting, 2)

		limited, err := s.ListSessions(ctx, SessionFilter{Limit: 1})
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("SaveAndGetPlan", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		plan := &model.Plan{
			TaskName: "task_1234abcd",
			Units: []model.UnitSpec{{
				Name:      "U1",
				ClassName: "U1",
				Fields:    []model.Field{{Name: "a", DataType: model.DataTypeText}},
				Fallback:  map[string]any{"a": model.NotReported},
			}},
			Stages: []model.PipelineStage{{StageNumber: 0, Units: []string{"U1"}, ExecutionMode: model.ExecutionSequential}},
		}
		require.NoError(t, s.SavePlan(ctx, plan))
		require.NoError(t, s.SavePlan(ctx, plan), "saving twice replaces")

		got, err := s.GetPlan(ctx, "task_1234abcd")
		require.NoError(t, err)
		assert.Equal(t, plan.Stages, got.Stages)
		assert.Equal(t, model.NotReported, got.Units[0].Fallback["a"])

		_, err = s.GetPlan(ctx, "task_missing")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("RunLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "task_1", "doc-1")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusRunning, run.Status)

		result := &model.ExecutionResult{
			TaskName:   "task_1",
			DocumentID: "doc-1",
			Status:     model.RunStatusCompleted,
			Degraded:   true,
			Fields: map[string]model.FieldValue{
				"a": {Value: "yes"},
				"b": {Value: model.NotReported},
			},
			Units: []model.UnitOutcome{
				{Unit: "U1", Stage: 0, Status: model.UnitSucceeded, DurationMs: 12},
				{Unit: "U2", Stage: 1, Status: model.UnitFailed, Error: "timeout"},
			},
		}
		require.NoError(t, s.CompleteRun(ctx, run.ID, result, nil))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusCompleted, got.Status)
		require.NotNil(t, got.Result)
		assert.True(t, got.Result.Degraded)
		assert.Equal(t, []string{"U2"}, got.Result.FailedUnits())
		assert.True(t, got.Result.Fields["b"].IsNotReported())

		runs, err := s.ListRuns(ctx, RunFilter{TaskName: "task_1"})
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})

	t.Run("CompleteRunWithError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "task_1", "doc-2")
		require.NoError(t, err)
		require.NoError(t, s.CompleteRun(ctx, run.ID, nil, errors.New("plan has no stages")))

		got, err := s.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusFailed, got.Status)
		assert.Equal(t, "plan has no stages", got.Error)
		assert.Nil(t, got.Result)

		failed, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
		require.NoError(t, err)
		assert.Len(t, failed, 1)
	})

	t.Run("RunNotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.GetRun(ctx, "nope")
		assert.True(t, errors.Is(err, ErrNotFound))

		err = s.CompleteRun(ctx, "nope", nil, nil)
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func TestRunStatusFor(t *testing.T) {
	assert.Equal(t, model.RunStatusFailed, runStatusFor(nil, nil))
	assert.Equal(t, model.RunStatusFailed, runStatusFor(&model.ExecutionResult{}, errors.New("x")))
	assert.Equal(t, model.RunStatusCompleted, runStatusFor(&model.ExecutionResult{}, nil))
	assert.Equal(t, model.RunStatusFailed, runStatusFor(&model.ExecutionResult{Status: model.RunStatusFailed}, nil))
}
