package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/planner"
	"github.com/sells-group/formflow/internal/store"
	"github.com/sells-group/formflow/internal/validate"
)

var (
	// ErrSessionExists is returned by Start for a session ID already in use.
	ErrSessionExists = eris.New("workflow: session already exists")

	// ErrNotAwaitingReview is returned by Resume for a session that is not
	// suspended at human review.
	ErrNotAwaitingReview = eris.New("workflow: session is not awaiting review")

	// ErrNotContinuable is returned by Continue for a session that has
	// finished or is waiting on a review decision.
	ErrNotContinuable = eris.New("workflow: session cannot be continued")
)

// OracleRequest is the input to one decompose call.
type OracleRequest struct {
	Form     model.Form `json:"form"`
	Feedback string     `json:"feedback,omitempty"`
	Attempt  int        `json:"attempt"`
}

// Oracle proposes a decomposition for a form.
type Oracle interface {
	Decompose(ctx context.Context, req OracleRequest) (*model.Decomposition, error)
}

// GenerateRequest is handed to the generator once a decomposition is final.
type GenerateRequest struct {
	SessionID     string
	Form          model.Form
	Decomposition *model.Decomposition
	Stages        []model.PipelineStage
}

// Generator turns a finalized decomposition and stage plan into a plan artifact.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*model.Plan, error)
}

// SessionStore persists workflow state and generated plans.
type SessionStore interface {
	SaveSession(ctx context.Context, state *model.WorkflowState) error
	GetSession(ctx context.Context, sessionID string) (*model.WorkflowState, error)
	SavePlan(ctx context.Context, plan *model.Plan) error
}

// Config controls retry and review behaviour.
type Config struct {
	MaxAttempts int
	HumanReview bool
}

// Decision is an operator's verdict on a suspended session.
type Decision struct {
	Approve  bool   `json:"approve"`
	Feedback string `json:"feedback,omitempty"`
}

// Machine runs workflow sessions. Transitions within one session are
// serialised; distinct sessions may run concurrently.
type Machine struct {
	oracle    Oracle
	generator Generator
	sessions  SessionStore
	cfg       Config
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is a per-session mutex shared by the callers currently
// holding or waiting on it.
type sessionLock struct {
	sync.Mutex
	refs int
}

// NewMachine creates a Machine.
func NewMachine(oracle Oracle, generator Generator, sessions SessionStore, cfg Config) *Machine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Machine{
		oracle:    oracle,
		generator: generator,
		sessions:  sessions,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		locks:     make(map[string]*sessionLock),
	}
}

// Start creates a session for form and runs it until it completes, fails,
// or suspends for review. An empty sessionID gets a generated one.
func (m *Machine) Start(ctx context.Context, sessionID string, form model.Form) (*model.WorkflowState, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	unlock := m.lock(sessionID)
	defer unlock()

	existing, err := m.sessions.GetSession(ctx, sessionID)
	switch {
	case err == nil && existing != nil:
		return nil, eris.Wrapf(ErrSessionExists, "session %s", sessionID)
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, eris.Wrap(err, "workflow: lookup session")
	}

	state := NewState(sessionID, form, m.cfg.MaxAttempts, m.cfg.HumanReview)
	state.CreatedAt = m.now()
	if err := m.save(ctx, &state); err != nil {
		return nil, err
	}

	zap.L().Info("workflow: session started",
		zap.String("session", sessionID),
		zap.String("form", form.Name),
		zap.Int("fields", len(form.Fields)),
		zap.Bool("human_review", state.HumanReview),
	)
	return m.run(ctx, state)
}

// Resume applies an operator decision to a session suspended at review and
// continues running it.
func (m *Machine) Resume(ctx context.Context, sessionID string, d Decision) (*model.WorkflowState, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	state, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: load session %s", sessionID)
	}
	if state.Status != model.StatusAwaitingReview {
		return nil, eris.Wrapf(ErrNotAwaitingReview, "session %s is %s", sessionID, state.Status)
	}

	next, err := Transition(*state, Reviewed{Approve: d.Approve, Feedback: d.Feedback})
	if err != nil {
		return nil, err
	}
	if err := m.save(ctx, &next); err != nil {
		return nil, err
	}

	zap.L().Info("workflow: review decision applied",
		zap.String("session", sessionID),
		zap.Bool("approved", d.Approve),
		zap.Int("review_rounds", next.ReviewRounds),
	)
	return m.run(ctx, next)
}

// Continue re-enters the run loop for a session that was interrupted while
// in progress, picking up at its last persisted stage.
func (m *Machine) Continue(ctx context.Context, sessionID string) (*model.WorkflowState, error) {
	unlock := m.lock(sessionID)
	defer unlock()

	state, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: load session %s", sessionID)
	}
	if state.Status != model.StatusInProgress {
		return nil, eris.Wrapf(ErrNotContinuable, "session %s is %s", sessionID, state.Status)
	}

	zap.L().Info("workflow: continuing session",
		zap.String("session", sessionID),
		zap.String("stage", string(state.Stage)),
		zap.Int("attempt", state.Attempt),
	)
	return m.run(ctx, *state)
}

// Get returns the stored state of a session.
func (m *Machine) Get(ctx context.Context, sessionID string) (*model.WorkflowState, error) {
	state, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, eris.Wrapf(err, "workflow: load session %s", sessionID)
	}
	return state, nil
}

// run steps the session until it is terminal or awaiting review. The state
// is persisted after every transition. Cancellation stops the loop at the
// last persisted state.
func (m *Machine) run(ctx context.Context, state model.WorkflowState) (*model.WorkflowState, error) {
	log := zap.L().With(zap.String("session", state.SessionID))

	for !state.Status.Terminal() && state.Status != model.StatusAwaitingReview {
		if err := ctx.Err(); err != nil {
			return &state, eris.Wrap(err, "workflow: interrupted")
		}

		ev, err := m.step(ctx, state)
		if err != nil {
			return &state, err
		}
		next, err := Transition(state, ev)
		if err != nil {
			return &state, err
		}
		if err := m.save(ctx, &next); err != nil {
			return &state, err
		}

		log.Debug("workflow: transition",
			zap.String("from", string(state.Stage)),
			zap.String("stage", string(next.Stage)),
			zap.Int("attempt", next.Attempt),
			zap.String("status", string(next.Status)),
		)
		state = next
	}

	switch state.Status {
	case model.StatusCompleted:
		log.Info("workflow: session completed",
			zap.String("task", state.TaskName),
			zap.Int("stages", len(state.Plan)),
			zap.Int("attempts", state.Attempt),
		)
	case model.StatusFailed:
		log.Warn("workflow: session failed",
			zap.Int("attempts", state.Attempt),
			zap.Strings("errors", state.Errors),
		)
	case model.StatusAwaitingReview:
		log.Info("workflow: awaiting review", zap.Int("attempt", state.Attempt))
	}
	return &state, nil
}

// step performs the side effect for the current stage and reports its
// outcome as an event.
func (m *Machine) step(ctx context.Context, s model.WorkflowState) (Event, error) {
	switch s.Stage {
	case model.StageDecompose:
		d, err := m.oracle.Decompose(ctx, OracleRequest{Form: s.Form, Feedback: s.Feedback, Attempt: s.Attempt})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, eris.Wrap(ctxErr, "workflow: interrupted during decompose")
			}
			zap.L().Warn("workflow: oracle failed",
				zap.String("session", s.SessionID),
				zap.Int("attempt", s.Attempt),
				zap.Error(err),
			)
		}
		return Decomposed{Decomposition: d, Err: err}, nil

	case model.StageValidate:
		res := validate.Validate(s.Decomposition, s.Form)
		if !res.Valid {
			zap.L().Info("workflow: validation failed",
				zap.String("session", s.SessionID),
				zap.Int("attempt", s.Attempt),
				zap.Int("issues", len(res.Issues)),
			)
		}
		return Validated{Result: res}, nil

	case model.StageGenerate:
		return m.generate(ctx, s), nil

	default:
		return nil, eris.Wrapf(ErrUnexpectedEvent, "no work defined for stage %s", s.Stage)
	}
}

func (m *Machine) generate(ctx context.Context, s model.WorkflowState) Generated {
	stages, err := planner.Plan(s.Decomposition)
	if err != nil {
		return Generated{Err: eris.Wrap(err, "plan stages")}
	}

	plan, err := m.generator.Generate(ctx, GenerateRequest{
		SessionID:     s.SessionID,
		Form:          s.Form,
		Decomposition: s.Decomposition,
		Stages:        stages,
	})
	if err != nil {
		return Generated{Err: eris.Wrap(err, "generate plan")}
	}
	if err := m.sessions.SavePlan(ctx, plan); err != nil {
		return Generated{Err: eris.Wrap(err, "save plan")}
	}
	return Generated{Stages: stages, TaskName: plan.TaskName}
}

func (m *Machine) save(ctx context.Context, s *model.WorkflowState) error {
	s.UpdatedAt = m.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.UpdatedAt
	}
	if err := m.sessions.SaveSession(ctx, s); err != nil {
		return eris.Wrapf(err, "workflow: save session %s", s.SessionID)
	}
	return nil
}

// lock serialises work on sessionID. The entry is dropped once no caller
// holds or waits on it.
func (m *Machine) lock(sessionID string) func() {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}
}
