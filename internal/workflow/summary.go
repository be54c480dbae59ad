package workflow

import (
	"fmt"
	"strings"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/planner"
)

// Summary renders a session for an operator deciding whether to approve it:
// the proposed units, the stages they would run in, and the validation
// outcome.
func Summary(s *model.WorkflowState) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session %s (%s)\n", s.SessionID, s.Status)
	fmt.Fprintf(&b, "Form: %s, %d fields\n", s.Form.Name, len(s.Form.Fields))
	fmt.Fprintf(&b, "Attempt %d of %d", s.Attempt, s.MaxAttempts)
	if s.ReviewRounds > 0 {
		fmt.Fprintf(&b, ", %d review round(s)", s.ReviewRounds)
	}
	b.WriteString("\n")

	d := s.Decomposition
	if d == nil || len(d.Units) == 0 {
		b.WriteString("\nNo decomposition.\n")
	} else {
		fmt.Fprintf(&b, "\nExtraction units (%d):\n", len(d.Units))
		for _, u := range d.Units {
			fmt.Fprintf(&b, "  %s: %s\n", u.Name, strings.Join(u.FieldNames, ", "))
			if len(u.DependsOn) > 0 {
				fmt.Fprintf(&b, "    depends on: %s\n", strings.Join(u.DependsOn, ", "))
			}
		}

		stages := s.Plan
		if len(stages) == 0 && s.Validation != nil && s.Validation.Valid {
			stages, _ = planner.Plan(d)
		}
		if len(stages) > 0 {
			fmt.Fprintf(&b, "\nExecution stages (%d):\n", len(stages))
			for _, st := range stages {
				fmt.Fprintf(&b, "  Stage %d (%s): %s\n", st.StageNumber, st.ExecutionMode, strings.Join(st.Units, ", "))
			}
		}

		if d.ReasoningTrace != "" {
			fmt.Fprintf(&b, "\nReasoning:\n  %s\n", strings.ReplaceAll(strings.TrimSpace(d.ReasoningTrace), "\n", "\n  "))
		}
	}

	if v := s.Validation; v != nil {
		if v.Valid {
			b.WriteString("\nValidation: passed\n")
		} else {
			fmt.Fprintf(&b, "\nValidation: %d issue(s)\n", len(v.Issues))
			for _, issue := range v.Issues {
				fmt.Fprintf(&b, "  - %s\n", issue)
			}
		}
	}

	if len(s.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}
	return b.String()
}
