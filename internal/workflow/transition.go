// Package workflow drives a form through decompose, validate, optional
// human review, and generate. State changes happen only in Transition, a
// pure function of the current state and one event; Machine performs the
// side effects that produce events and persists the state after each step.
package workflow

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/validate"
)

// DefaultMaxAttempts bounds automatic decompose/validate rounds.
const DefaultMaxAttempts = 3

var (
	// ErrUnexpectedEvent is returned when an event does not apply to the
	// state's current stage.
	ErrUnexpectedEvent = eris.New("workflow: event does not apply to current stage")

	// ErrFeedbackRequired is returned when a review rejection carries no
	// feedback for the oracle.
	ErrFeedbackRequired = eris.New("workflow: rejection requires feedback")
)

// Event is the outcome of the work done at one stage.
type Event interface {
	stage() model.WorkflowStage
}

// Decomposed carries the oracle's response. Err records an oracle failure.
type Decomposed struct {
	Decomposition *model.Decomposition
	Err           error
}

// Validated carries the validator's verdict on the current decomposition.
type Validated struct {
	Result model.ValidationResult
}

// Reviewed carries an operator decision for a suspended session.
type Reviewed struct {
	Approve  bool
	Feedback string
}

// Generated carries the stage plan and generated task, or the failure.
type Generated struct {
	Stages   []model.PipelineStage
	TaskName string
	Err      error
}

func (Decomposed) stage() model.WorkflowStage { return model.StageDecompose }
func (Validated) stage() model.WorkflowStage  { return model.StageValidate }
func (Reviewed) stage() model.WorkflowStage   { return model.StageHumanReview }
func (Generated) stage() model.WorkflowStage  { return model.StageGenerate }

// NewState returns the initial state for a session.
func NewState(sessionID string, form model.Form, maxAttempts int, humanReview bool) model.WorkflowState {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return model.WorkflowState{
		SessionID:    sessionID,
		Form:         form,
		Attempt:      1,
		RoundAttempt: 1,
		MaxAttempts:  maxAttempts,
		HumanReview:  humanReview,
		Stage:        model.StageDecompose,
		Status:       model.StatusInProgress,
		Errors:       []string{},
	}
}

// Transition applies ev to s and returns the next state. s is not modified.
func Transition(s model.WorkflowState, ev Event) (model.WorkflowState, error) {
	if s.Status.Terminal() {
		return s, eris.Wrapf(ErrUnexpectedEvent, "session %s is %s", s.SessionID, s.Status)
	}
	if ev == nil || ev.stage() != s.Stage {
		return s, eris.Wrapf(ErrUnexpectedEvent, "stage %s", s.Stage)
	}

	next := s.Clone()
	switch e := ev.(type) {
	case Decomposed:
		onDecomposed(&next, e)
	case Validated:
		onValidated(&next, e)
	case Reviewed:
		if s.Status != model.StatusAwaitingReview {
			return s, eris.Wrapf(ErrUnexpectedEvent, "session %s is not awaiting review", s.SessionID)
		}
		if !e.Approve && e.Feedback == "" {
			return s, ErrFeedbackRequired
		}
		onReviewed(&next, e)
	case Generated:
		onGenerated(&next, e)
	}
	return next, nil
}

func onDecomposed(s *model.WorkflowState, e Decomposed) {
	d := e.Decomposition
	if e.Err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("attempt %d: %v", s.Attempt, e.Err))
		d = nil
	}
	if d == nil {
		d = &model.Decomposition{}
	}
	s.Decomposition = d
	s.Validation = nil
	s.Stage = model.StageValidate
}

func onValidated(s *model.WorkflowState, e Validated) {
	res := e.Result
	s.Validation = &res

	source := s.FeedbackFrom
	if source == "" {
		source = model.SourceInitial
	}
	units := 0
	if s.Decomposition != nil {
		units = len(s.Decomposition.Units)
	}
	s.History = append(s.History, model.AttemptRecord{
		Attempt: s.Attempt,
		Units:   units,
		Valid:   res.Valid,
		Issues:  append([]string(nil), res.Issues...),
		Source:  source,
	})

	switch {
	case res.Valid && s.HumanReview:
		s.Stage = model.StageHumanReview
		s.Status = model.StatusAwaitingReview
	case res.Valid:
		s.Stage = model.StageGenerate
	case s.AttemptsThisRound() >= s.MaxAttempts:
		s.Errors = append(s.Errors, fmt.Sprintf("validation failed after %d attempts", s.AttemptsThisRound()))
		for _, issue := range res.Issues {
			s.Errors = append(s.Errors, fmt.Sprintf("attempt %d: %s", s.Attempt, issue))
		}
		s.Stage = model.StageFinalize
		s.Status = model.StatusFailed
	default:
		s.RoundAttempt = s.AttemptsThisRound() + 1
		s.Attempt++
		s.Feedback = validate.Feedback(res)
		s.FeedbackFrom = model.SourceRetry
		s.Stage = model.StageDecompose
	}
}

func onReviewed(s *model.WorkflowState, e Reviewed) {
	s.ReviewRounds++
	s.Status = model.StatusInProgress
	if e.Approve {
		s.Stage = model.StageGenerate
		return
	}
	// A rejection opens a new round with its own retry budget.
	s.RoundAttempt = 1
	s.Feedback = e.Feedback
	s.FeedbackFrom = model.SourceReview
	s.Stage = model.StageDecompose
}

func onGenerated(s *model.WorkflowState, e Generated) {
	s.Stage = model.StageFinalize
	if e.Err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("generate: %v", e.Err))
		s.Status = model.StatusFailed
		return
	}
	s.Plan = append([]model.PipelineStage(nil), e.Stages...)
	s.TaskName = e.TaskName
	s.Status = model.StatusCompleted
}
