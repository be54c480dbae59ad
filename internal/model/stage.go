package model

// ExecutionMode says how the units of a stage are run.
type ExecutionMode string

const (
	ExecutionParallel   ExecutionMode = "parallel"
	ExecutionSequential ExecutionMode = "sequential"
)

// Valid reports whether m is a known mode.
func (m ExecutionMode) Valid() bool {
	return m == ExecutionParallel || m == ExecutionSequential
}

// PipelineStage is a set of units scheduled together. Stage numbers are
// contiguous from 0 and every unit appears in exactly one stage.
type PipelineStage struct {
	StageNumber    int           `json:"stage_number" yaml:"stage_number"`
	Units          []string      `json:"units" yaml:"units"`
	ExecutionMode  ExecutionMode `json:"execution_mode" yaml:"execution_mode"`
	WaitsForStages []int         `json:"waits_for_stages,omitempty" yaml:"waits_for_stages,omitempty"`
}
