package validate

import (
	"sort"

	"github.com/sells-group/formflow/internal/model"
)

// CheckStages verifies that stages are a valid topological layering of the
// units in d: every unit in exactly one stage, numbers contiguous from 0, and
// each unit placed strictly after every unit it depends on.
func CheckStages(d *model.Decomposition, stages []model.PipelineStage) []error {
	var errs []error
	if d == nil {
		d = &model.Decomposition{}
	}

	if len(stages) == 0 {
		if len(d.Units) > 0 {
			errs = append(errs, stagef(-1, "no stages defined for %d units", len(d.Units)))
		}
		return errs
	}

	known := make(map[string]bool, len(d.Units))
	for _, u := range d.Units {
		known[u.Name] = true
	}

	stageOf := make(map[string]int)
	numbers := make(map[int]bool, len(stages))

	for _, s := range stages {
		n := s.StageNumber
		if n < 0 {
			errs = append(errs, stagef(n, "stage number %d is negative", n))
		}
		if numbers[n] {
			errs = append(errs, stagef(n, "duplicate stage number %d", n))
		}
		numbers[n] = true

		if len(s.Units) == 0 {
			errs = append(errs, stagef(n, "stage %d has no units", n))
		}
		if s.ExecutionMode != "" && !s.ExecutionMode.Valid() {
			errs = append(errs, stagef(n, "stage %d has unknown execution mode %q", n, s.ExecutionMode))
		}
		for _, w := range s.WaitsForStages {
			if w >= n {
				errs = append(errs, stagef(n, "stage %d waits for stage %d, which does not precede it", n, w))
			}
		}

		for _, u := range s.Units {
			if !known[u] {
				errs = append(errs, stagef(n, "stage %d references unknown unit %q", n, u))
				continue
			}
			if prev, ok := stageOf[u]; ok {
				errs = append(errs, stagef(n, "unit %q is assigned to stages %d and %d", u, prev, n))
				continue
			}
			stageOf[u] = n
		}
	}

	nums := make([]int, 0, len(numbers))
	for n := range numbers {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	for i, n := range nums {
		if n != i {
			errs = append(errs, stagef(n, "stage numbers are not contiguous from 0: expected stage %d, found %d", i, n))
			break
		}
	}

	for _, u := range d.UnitNames() {
		if _, ok := stageOf[u]; !ok {
			errs = append(errs, stagef(-1, "unit %q is not assigned to any stage", u))
		}
	}

	g := BuildGraph(d)
	for _, u := range g.Nodes() {
		su, ok := stageOf[u]
		if !ok {
			continue
		}
		for _, p := range g.Dependencies(u) {
			sp, ok := stageOf[p]
			if !ok {
				continue
			}
			if sp >= su {
				errs = append(errs, stagef(su, "unit %q in stage %d depends on unit %q in stage %d and must run in a later stage", u, su, p, sp))
			}
		}
	}

	return errs
}
