// Package planner layers a validated decomposition into execution stages.
package planner

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/validate"
)

// Plan computes a topological layering of d's units. Each layer becomes one
// stage: parallel when it holds several units, sequential otherwise. Units
// within a layer keep their declaration order.
//
// Plan expects a decomposition that has passed validation. A graph that
// cannot be fully layered yields a *validate.StageStructureError.
func Plan(d *model.Decomposition) ([]model.PipelineStage, error) {
	if d == nil || len(d.Units) == 0 {
		return nil, nil
	}

	g := validate.BuildGraph(d)
	nodes := g.Nodes()
	if len(nodes) != len(d.Units) {
		return nil, &validate.StageStructureError{Stage: -1, Msg: "unit names are not unique"}
	}

	indegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indegree[n] = len(g.Dependencies(n))
	}

	stageOf := make(map[string]int, len(nodes))
	var stages []model.PipelineStage

	for iter := 0; len(stageOf) < len(nodes); iter++ {
		if iter >= len(nodes) {
			return nil, unplaced(nodes, stageOf)
		}

		var layer []string
		for _, n := range nodes {
			if _, placed := stageOf[n]; !placed && indegree[n] == 0 {
				layer = append(layer, n)
			}
		}
		if len(layer) == 0 {
			return nil, unplaced(nodes, stageOf)
		}

		num := len(stages)
		waits := make(map[int]bool)
		for _, n := range layer {
			stageOf[n] = num
			for _, p := range g.Dependencies(n) {
				waits[stageOf[p]] = true
			}
		}
		for _, n := range layer {
			for _, dep := range g.Dependents(n) {
				indegree[dep]--
			}
		}

		mode := model.ExecutionParallel
		if len(layer) == 1 {
			mode = model.ExecutionSequential
		}
		stages = append(stages, model.PipelineStage{
			StageNumber:    num,
			Units:          layer,
			ExecutionMode:  mode,
			WaitsForStages: sortedKeys(waits),
		})
	}

	if errs := validate.CheckStages(d, stages); len(errs) > 0 {
		return nil, eris.Wrap(errs[0], "planner: layering failed self-check")
	}
	return stages, nil
}

func unplaced(nodes []string, stageOf map[string]int) error {
	var rest []string
	for _, n := range nodes {
		if _, ok := stageOf[n]; !ok {
			rest = append(rest, n)
		}
	}
	return &validate.StageStructureError{
		Stage: -1,
		Msg:   "dependency graph cannot be layered; unplaced units: " + strings.Join(rest, ", "),
	}
}

func sortedKeys(m map[int]bool) []int {
	if len(m) == 0 {
		return nil
	}
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
