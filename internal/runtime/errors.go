package runtime

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrPlanNotExecutable is returned when a plan's structure cannot be run.
var ErrPlanNotExecutable = eris.New("runtime: plan is not executable")

// UnitExecutionError reports the failure of one unit against one document.
// It is recorded on the unit's outcome and never aborts the run.
type UnitExecutionError struct {
	Unit    string
	Stage   int
	Timeout bool
	Err     error
}

func (e *UnitExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("unit %q (stage %d) timed out: %v", e.Unit, e.Stage, e.Err)
	}
	return fmt.Sprintf("unit %q (stage %d) failed: %v", e.Unit, e.Stage, e.Err)
}

func (e *UnitExecutionError) Unwrap() error { return e.Err }

func planError(taskName string, errs []error) error {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return eris.Wrapf(ErrPlanNotExecutable, "task %s: %s", taskName, strings.Join(msgs, "; "))
}
