package workflow

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/store"
)

// MemoryStore is an in-process SessionStore. Values are stored as JSON so
// callers never share memory with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	plans    map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		plans:    make(map[string][]byte),
	}
}

func (m *MemoryStore) SaveSession(_ context.Context, state *model.WorkflowState) error {
	b, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "memory: marshal session")
	}
	m.mu.Lock()
	m.sessions[state.SessionID] = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*model.WorkflowState, error) {
	m.mu.RLock()
	b, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "session %s", sessionID)
	}
	var state model.WorkflowState
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, eris.Wrap(err, "memory: unmarshal session")
	}
	return &state, nil
}

func (m *MemoryStore) SavePlan(_ context.Context, plan *model.Plan) error {
	b, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "memory: marshal plan")
	}
	m.mu.Lock()
	m.plans[plan.TaskName] = b
	m.mu.Unlock()
	return nil
}

// GetPlan returns a previously saved plan.
func (m *MemoryStore) GetPlan(_ context.Context, taskName string) (*model.Plan, error) {
	m.mu.RLock()
	b, ok := m.plans[taskName]
	m.mu.RUnlock()
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "plan %s", taskName)
	}
	var plan model.Plan
	if err := json.Unmarshal(b, &plan); err != nil {
		return nil, eris.Wrap(err, "memory: unmarshal plan")
	}
	return &plan, nil
}
