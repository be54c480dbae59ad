package model

import "time"

// NotReported is the fixed placeholder substituted for every field whose
// extraction unit failed. Downstream consumers read it as "field absent".
const NotReported = "NR"

// Document is the input a plan is executed against.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// FieldValue is an extracted value with optional provenance text.
type FieldValue struct {
	Value      any    `json:"value"`
	Provenance string `json:"provenance,omitempty"`
}

// IsNotReported reports whether v holds the sentinel.
func (v FieldValue) IsNotReported() bool {
	s, ok := v.Value.(string)
	return ok && s == NotReported
}

// UnitStatus is the outcome of one unit execution.
type UnitStatus string

const (
	UnitSucceeded UnitStatus = "succeeded"
	UnitFailed    UnitStatus = "failed"
)

// UnitOutcome records how a single unit fared during a document run.
type UnitOutcome struct {
	Unit       string     `json:"unit"`
	Stage      int        `json:"stage"`
	Status     UnitStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Usage      TokenUsage `json:"usage"`
}

// ExecutionResult is created fresh for each document run.
type ExecutionResult struct {
	TaskName    string                `json:"task_name"`
	DocumentID  string                `json:"document_id"`
	Status      RunStatus             `json:"status"`
	Degraded    bool                  `json:"degraded"`
	Fields      map[string]FieldValue `json:"fields"`
	Units       []UnitOutcome         `json:"units"`
	Usage       TokenUsage            `json:"usage"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
}

// Values flattens Fields to name → value.
func (r *ExecutionResult) Values() map[string]any {
	out := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out[k] = v.Value
	}
	return out
}

// FailedUnits returns the names of units that fell back to the sentinel.
func (r *ExecutionResult) FailedUnits() []string {
	var out []string
	for _, u := range r.Units {
		if u.Status == UnitFailed {
			out = append(out, u.Unit)
		}
	}
	return out
}
