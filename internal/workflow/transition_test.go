package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/validate"
)

func TestNewState(t *testing.T) {
	s := NewState("s1", abcForm(), 0, true)
	assert.Equal(t, 1, s.Attempt)
	assert.Equal(t, 1, s.RoundAttempt)
	assert.Equal(t, DefaultMaxAttempts, s.MaxAttempts)
	assert.Equal(t, model.StageDecompose, s.Stage)
	assert.Equal(t, model.StatusInProgress, s.Status)
	assert.True(t, s.HumanReview)
}

func TestTransition_DecomposeToValidate(t *testing.T) {
	s := NewState("s1", abcForm(), 3, false)

	next, err := Transition(s, Decomposed{Decomposition: goodDecomposition()})
	require.NoError(t, err)
	assert.Equal(t, model.StageValidate, next.Stage)
	assert.Len(t, next.Decomposition.Units, 2)
	assert.Nil(t, s.Decomposition, "input state is not modified")
}

func TestTransition_OracleFailureUsesEmptyDecomposition(t *testing.T) {
	s := NewState("s1", abcForm(), 3, false)

	next, err := Transition(s, Decomposed{Err: errors.New("timeout")})
	require.NoError(t, err)
	assert.Equal(t, model.StageValidate, next.Stage)
	require.NotNil(t, next.Decomposition)
	assert.Empty(t, next.Decomposition.Units)
	assert.Equal(t, []string{"attempt 1: timeout"}, next.Errors)

	res := validate.Validate(next.Decomposition, next.Form)
	assert.False(t, res.Valid)
}

func TestTransition_ValidGoesToGenerate(t *testing.T) {
	s := NewState("s1", abcForm(), 3, false)
	s, _ = Transition(s, Decomposed{Decomposition: goodDecomposition()})

	next, err := Transition(s, Validated{Result: validate.Validate(s.Decomposition, s.Form)})
	require.NoError(t, err)
	assert.Equal(t, model.StageGenerate, next.Stage)
	assert.Equal(t, model.StatusInProgress, next.Status)
	require.Len(t, next.History, 1)
	assert.Equal(t, model.SourceInitial, next.History[0].Source)
}

func TestTransition_ValidWithReviewSuspends(t *testing.T) {
	s := NewState("s1", abcForm(), 3, true)
	s, _ = Transition(s, Decomposed{Decomposition: goodDecomposition()})

	next, err := Transition(s, Validated{Result: validate.Validate(s.Decomposition, s.Form)})
	require.NoError(t, err)
	assert.Equal(t, model.StageHumanReview, next.Stage)
	assert.Equal(t, model.StatusAwaitingReview, next.Status)
}

func TestTransition_InvalidRetriesWithFeedback(t *testing.T) {
	s := NewState("s1", abcForm(), 3, false)
	s, _ = Transition(s, Decomposed{Decomposition: missingFieldDecomposition()})

	next, err := Transition(s, Validated{Result: validate.Validate(s.Decomposition, s.Form)})
	require.NoError(t, err)
	assert.Equal(t, model.StageDecompose, next.Stage)
	assert.Equal(t, 2, next.Attempt)
	assert.Equal(t, 2, next.RoundAttempt)
	assert.Equal(t, model.SourceRetry, next.FeedbackFrom)
	assert.Contains(t, next.Feedback, `missing field "c"`)
}

func TestTransition_InvalidAtLimitFails(t *testing.T) {
	s := NewState("s1", abcForm(), 1, false)
	s, _ = Transition(s, Decomposed{Decomposition: missingFieldDecomposition()})

	next, err := Transition(s, Validated{Result: validate.Validate(s.Decomposition, s.Form)})
	require.NoError(t, err)
	assert.Equal(t, model.StageFinalize, next.Stage)
	assert.Equal(t, model.StatusFailed, next.Status)
	assert.Contains(t, next.Errors, "validation failed after 1 attempts")
	assert.Contains(t, next.Errors, `attempt 1: missing field "c": not assigned to any unit`)
}

func TestTransition_Review(t *testing.T) {
	suspended := func() model.WorkflowState {
		s := NewState("s1", abcForm(), 3, true)
		s, _ = Transition(s, Decomposed{Decomposition: goodDecomposition()})
		s, _ = Transition(s, Validated{Result: validate.Validate(s.Decomposition, s.Form)})
		return s
	}

	t.Run("approve", func(t *testing.T) {
		next, err := Transition(suspended(), Reviewed{Approve: true})
		require.NoError(t, err)
		assert.Equal(t, model.StageGenerate, next.Stage)
		assert.Equal(t, model.StatusInProgress, next.Status)
		assert.Equal(t, 1, next.ReviewRounds)
	})

	t.Run("reject keeps attempt", func(t *testing.T) {
		next, err := Transition(suspended(), Reviewed{Feedback: "merge U1 and U2"})
		require.NoError(t, err)
		assert.Equal(t, model.StageDecompose, next.Stage)
		assert.Equal(t, 1, next.Attempt)
		assert.Equal(t, "merge U1 and U2", next.Feedback)
		assert.Equal(t, model.SourceReview, next.FeedbackFrom)
	})

	t.Run("reject without feedback", func(t *testing.T) {
		_, err := Transition(suspended(), Reviewed{})
		assert.ErrorIs(t, err, ErrFeedbackRequired)
	})
}

func TestTransition_RejectionResetsRetryBudget(t *testing.T) {
	validated := func(s model.WorkflowState, d *model.Decomposition) model.WorkflowState {
		t.Helper()
		s, err := Transition(s, Decomposed{Decomposition: d})
		require.NoError(t, err)
		s, err = Transition(s, Validated{Result: validate.Validate(s.Decomposition, s.Form)})
		require.NoError(t, err)
		return s
	}

	s := NewState("s1", abcForm(), 3, true)
	s = validated(s, missingFieldDecomposition())
	s = validated(s, missingFieldDecomposition())
	s = validated(s, goodDecomposition())
	require.Equal(t, model.StatusAwaitingReview, s.Status)
	require.Equal(t, 3, s.Attempt)

	s, err := Transition(s, Reviewed{Feedback: "split U2"})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Attempt, "attempt keeps counting across rounds")
	assert.Equal(t, 1, s.RoundAttempt)

	s = validated(s, missingFieldDecomposition())
	assert.Equal(t, model.StatusInProgress, s.Status, "a failed pass after rejection still has retries left")
	assert.Equal(t, model.StageDecompose, s.Stage)
	assert.Equal(t, 2, s.RoundAttempt)

	s = validated(s, missingFieldDecomposition())
	s = validated(s, missingFieldDecomposition())
	assert.Equal(t, model.StatusFailed, s.Status)
	assert.Contains(t, s.Errors, "validation failed after 3 attempts")
	assert.Len(t, s.History, 6)
}

func TestWorkflowState_AttemptsThisRound(t *testing.T) {
	legacy := model.WorkflowState{Attempt: 2}
	assert.Equal(t, 2, legacy.AttemptsThisRound(), "states saved without a round counter fall back to attempt")

	s := model.WorkflowState{Attempt: 4, RoundAttempt: 1}
	assert.Equal(t, 1, s.AttemptsThisRound())
}

func TestTransition_Generated(t *testing.T) {
	s := NewState("s1", abcForm(), 3, false)
	s.Stage = model.StageGenerate

	next, err := Transition(s, Generated{
		Stages:   []model.PipelineStage{{StageNumber: 0, Units: []string{"U1"}}},
		TaskName: "task_x",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, next.Status)
	assert.Equal(t, model.StageFinalize, next.Stage)
	assert.Equal(t, "task_x", next.TaskName)

	failed, err := Transition(s, Generated{Err: errors.New("template broke")})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, failed.Status)
	assert.Equal(t, []string{"generate: template broke"}, failed.Errors)
}

func TestTransition_RejectsMismatchedEvent(t *testing.T) {
	s := NewState("s1", abcForm(), 3, false)

	_, err := Transition(s, Validated{})
	assert.ErrorIs(t, err, ErrUnexpectedEvent)

	_, err = Transition(s, Reviewed{Approve: true})
	assert.ErrorIs(t, err, ErrUnexpectedEvent)

	_, err = Transition(s, nil)
	assert.ErrorIs(t, err, ErrUnexpectedEvent)

	s.Status = model.StatusCompleted
	_, err = Transition(s, Decomposed{})
	assert.ErrorIs(t, err, ErrUnexpectedEvent)
}
