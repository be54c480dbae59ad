package model

import "time"

// UnitSpec is the generated, executable description of one extraction unit.
type UnitSpec struct {
	Name      string         `json:"name" yaml:"name"`
	ClassName string         `json:"class_name" yaml:"class_name"`
	Fields    []Field        `json:"fields" yaml:"fields"`
	DependsOn []string       `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Fallback  map[string]any `json:"fallback" yaml:"fallback"`
}

// FieldNames returns the names of the fields the unit owns.
func (u UnitSpec) FieldNames() []string {
	out := make([]string, 0, len(u.Fields))
	for _, f := range u.Fields {
		out = append(out, f.Name)
	}
	return out
}

// Plan is the finalized artifact handed from generation time to document
// processing time: units plus their stage ordering.
type Plan struct {
	TaskName       string          `json:"task_name" yaml:"task_name"`
	Form           Form            `json:"form" yaml:"form"`
	Units          []UnitSpec      `json:"units" yaml:"units"`
	Stages         []PipelineStage `json:"stages" yaml:"stages"`
	ReasoningTrace string          `json:"reasoning_trace,omitempty" yaml:"reasoning_trace,omitempty"`
	SessionID      string          `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	GeneratedAt    time.Time       `json:"generated_at" yaml:"generated_at"`
}

// Unit returns the named unit.
func (p *Plan) Unit(name string) (UnitSpec, bool) {
	for _, u := range p.Units {
		if u.Name == name {
			return u, true
		}
	}
	return UnitSpec{}, false
}
