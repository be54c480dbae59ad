// Package validate checks a candidate decomposition against the structural
// invariants an extraction plan depends on: complete coverage without
// duplication, resolvable dependencies, an acyclic unit graph, and (when a
// stage plan is attached) a valid topological layering.
//
// Validation is pure. Every check runs on every call and all issues are
// aggregated so a single retry round can address them together.
package validate

import (
	"strings"

	"github.com/sells-group/formflow/internal/model"
)

// Validate runs all checks against d for the given form.
func Validate(d *model.Decomposition, form model.Form) model.ValidationResult {
	if d == nil {
		d = &model.Decomposition{}
	}

	var errs []error

	coverageErrs, coverage := checkCoverage(d, form)
	errs = append(errs, coverageErrs...)
	errs = append(errs, checkDependencies(d)...)

	report := BuildGraph(d).DetectCycles()
	for _, path := range report.Cycles {
		errs = append(errs, &CycleError{Path: path})
	}

	if len(d.Stages) > 0 {
		errs = append(errs, CheckStages(d, d.Stages)...)
	}

	issues := make([]string, 0, len(errs))
	for _, err := range errs {
		issues = append(issues, err.Error())
	}

	return model.ValidationResult{
		Valid:         len(errs) == 0,
		Issues:        issues,
		FieldCoverage: coverage,
		Errors:        errs,
	}
}

// Feedback renders a result's issues as the retry feedback handed back to
// the oracle.
func Feedback(r model.ValidationResult) string {
	return strings.Join(r.Issues, "\n")
}

// checkCoverage compares the form's field set with the union of all units'
// fields. An empty form with no units is valid.
func checkCoverage(d *model.Decomposition, form model.Form) ([]error, map[string]string) {
	var errs []error
	formFields := form.FieldSet()

	owners := make(map[string][]string)
	var assigned []string
	seenUnit := make(map[string]bool, len(d.Units))

	for i, u := range d.Units {
		switch {
		case strings.TrimSpace(u.Name) == "":
			errs = append(errs, &CoverageError{Kind: CoverageUnnamedUnit, Index: i})
		case seenUnit[u.Name]:
			errs = append(errs, &CoverageError{Kind: CoverageDuplicateUnit, Unit: u.Name})
		}
		seenUnit[u.Name] = true

		if len(u.FieldNames) == 0 {
			errs = append(errs, &CoverageError{Kind: CoverageEmptyUnit, Unit: u.Name})
		}
		for _, f := range u.FieldNames {
			if len(owners[f]) == 0 {
				assigned = append(assigned, f)
			}
			owners[f] = append(owners[f], u.Name)
		}
	}

	coverage := make(map[string]string, len(form.Fields))
	for _, f := range form.FieldNames() {
		units := owners[f]
		if len(units) == 0 {
			errs = append(errs, &CoverageError{Kind: CoverageMissing, Field: f})
			continue
		}
		coverage[f] = units[0]
	}

	for _, f := range assigned {
		units := owners[f]
		if !formFields[f] {
			errs = append(errs, &CoverageError{Kind: CoverageUnknown, Field: f, Unit: units[0], Units: units})
		}
		if len(units) > 1 {
			errs = append(errs, &CoverageError{Kind: CoverageDuplicate, Field: f, Units: units})
		}
	}

	return errs, coverage
}

// checkDependencies requires every depends_on entry to name a field that
// some other unit produces.
func checkDependencies(d *model.Decomposition) []error {
	var errs []error
	producers := d.Producers()

	for _, u := range d.Units {
		own := make(map[string]bool, len(u.FieldNames))
		for _, f := range u.FieldNames {
			own[f] = true
		}
		seen := make(map[string]bool, len(u.DependsOn))
		for _, dep := range u.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true

			if own[dep] {
				errs = append(errs, &UnresolvedDependencyError{Unit: u.Name, Field: dep, Self: true})
				continue
			}
			if _, ok := producers[dep]; !ok {
				errs = append(errs, &UnresolvedDependencyError{Unit: u.Name, Field: dep})
			}
		}
	}
	return errs
}
