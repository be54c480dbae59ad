package oracle

import "fmt"

// Phase names the step of a decomposition request that failed.
type Phase string

const (
	PhaseCall  Phase = "call"
	PhaseParse Phase = "parse"
)

// Error reports a failed decomposition request. The workflow records it
// against the attempt and moves on to validation with an empty result.
type Error struct {
	Attempt int
	Phase   Phase
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("oracle: %s failed on attempt %d: %v", e.Phase, e.Attempt, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
