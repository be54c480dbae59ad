package model

// ExtractionUnit groups fields that share one extraction concern. DependsOn
// lists field names (not unit names) produced by other units.
type ExtractionUnit struct {
	Name       string   `json:"name" yaml:"name"`
	FieldNames []string `json:"field_names" yaml:"field_names"`
	DependsOn  []string `json:"depends_on" yaml:"depends_on"`
}

// Decomposition is one oracle-proposed grouping of a form's fields into units.
// Attempts are independent snapshots; a failed one is discarded, never edited.
type Decomposition struct {
	Units          []ExtractionUnit `json:"units" yaml:"units"`
	ReasoningTrace string           `json:"reasoning_trace,omitempty" yaml:"reasoning_trace,omitempty"`

	// Stages is an optional stage plan proposed alongside the units. When
	// present it is checked for well-formedness during validation.
	Stages []PipelineStage `json:"stages,omitempty" yaml:"stages,omitempty"`
}

// Unit returns the unit with the given name.
func (d *Decomposition) Unit(name string) (ExtractionUnit, bool) {
	if d == nil {
		return ExtractionUnit{}, false
	}
	for _, u := range d.Units {
		if u.Name == name {
			return u, true
		}
	}
	return ExtractionUnit{}, false
}

// UnitNames returns unit names in declaration order.
func (d *Decomposition) UnitNames() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.Units))
	for _, u := range d.Units {
		names = append(names, u.Name)
	}
	return names
}

// Producers maps each field name to the first unit that owns it.
func (d *Decomposition) Producers() map[string]string {
	out := make(map[string]string)
	if d == nil {
		return out
	}
	for _, u := range d.Units {
		for _, f := range u.FieldNames {
			if _, ok := out[f]; !ok {
				out[f] = u.Name
			}
		}
	}
	return out
}

// ValidationResult is derived from one validation pass and never outlives
// the attempt it describes.
type ValidationResult struct {
	Valid         bool              `json:"is_valid"`
	Issues        []string          `json:"issues"`
	FieldCoverage map[string]string `json:"field_coverage"`

	// Errors carries the typed form of each issue, in the same order.
	Errors []error `json:"-"`
}
