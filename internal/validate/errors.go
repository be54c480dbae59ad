package validate

import (
	"fmt"
	"strings"
)

// CoverageKind distinguishes the ways a decomposition can fail to partition
// the form's fields.
type CoverageKind string

const (
	CoverageMissing       CoverageKind = "missing"
	CoverageDuplicate     CoverageKind = "duplicate"
	CoverageUnknown       CoverageKind = "unknown"
	CoverageEmptyUnit     CoverageKind = "empty_unit"
	CoverageUnnamedUnit   CoverageKind = "unnamed_unit"
	CoverageDuplicateUnit CoverageKind = "duplicate_unit"
)

// CoverageError reports a missing, duplicated, or unknown field assignment,
// or a malformed unit that makes the assignment ambiguous.
type CoverageError struct {
	Kind  CoverageKind
	Field string
	Unit  string
	Units []string
	Index int
}

func (e *CoverageError) Error() string {
	switch e.Kind {
	case CoverageMissing:
		return fmt.Sprintf("missing field %q: not assigned to any unit", e.Field)
	case CoverageDuplicate:
		if distinct(e.Units) == 1 {
			return fmt.Sprintf("duplicate assignment: field %q is listed %d times in unit %q", e.Field, len(e.Units), e.Units[0])
		}
		return fmt.Sprintf("duplicate assignment: field %q is assigned to multiple units: %s", e.Field, strings.Join(e.Units, ", "))
	case CoverageUnknown:
		return fmt.Sprintf("unknown field %q in unit %q: the form has no such field", e.Field, e.Unit)
	case CoverageEmptyUnit:
		return fmt.Sprintf("unit %q has no fields", e.Unit)
	case CoverageUnnamedUnit:
		return fmt.Sprintf("unit at position %d has no name", e.Index)
	case CoverageDuplicateUnit:
		return fmt.Sprintf("unit name %q is used more than once", e.Unit)
	default:
		return fmt.Sprintf("coverage: field %q", e.Field)
	}
}

// UnresolvedDependencyError reports a depends_on entry that no other unit
// produces. Self reports a unit depending on one of its own fields.
type UnresolvedDependencyError struct {
	Unit  string
	Field string
	Self  bool
}

func (e *UnresolvedDependencyError) Error() string {
	if e.Self {
		return fmt.Sprintf("unit %q depends on its own field %q", e.Unit, e.Field)
	}
	return fmt.Sprintf("unit %q depends on field %q but no unit produces it", e.Unit, e.Field)
}

// CycleError reports a circular unit dependency. Path starts and ends with
// the same unit and follows the depends-on direction.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "circular dependency detected: " + strings.Join(e.Path, " -> ")
}

// StageStructureError reports an ill-formed stage plan.
type StageStructureError struct {
	Stage int
	Msg   string
}

func (e *StageStructureError) Error() string {
	return "stage plan: " + e.Msg
}

func stagef(stage int, format string, args ...any) error {
	return &StageStructureError{Stage: stage, Msg: fmt.Sprintf(format, args...)}
}

func distinct(items []string) int {
	seen := make(map[string]bool, len(items))
	for _, s := range items {
		seen[s] = true
	}
	return len(seen)
}
