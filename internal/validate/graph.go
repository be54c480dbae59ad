package validate

import "github.com/sells-group/formflow/internal/model"

// Graph is the unit-level dependency graph induced by a decomposition: unit
// U depends on unit P when U lists a field that P produces. Self edges are
// never recorded.
type Graph struct {
	nodes      []string
	deps       map[string][]string
	dependents map[string][]string
}

// BuildGraph derives the unit graph from d. Node and edge order follow
// declaration order so every traversal is deterministic.
func BuildGraph(d *model.Decomposition) *Graph {
	g := &Graph{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}
	if d == nil {
		return g
	}

	seen := make(map[string]bool, len(d.Units))
	for _, u := range d.Units {
		if seen[u.Name] {
			continue
		}
		seen[u.Name] = true
		g.nodes = append(g.nodes, u.Name)
	}

	producers := d.Producers()
	for _, u := range d.Units {
		for _, field := range u.DependsOn {
			p, ok := producers[field]
			if !ok || p == u.Name {
				continue
			}
			if contains(g.deps[u.Name], p) {
				continue
			}
			g.deps[u.Name] = append(g.deps[u.Name], p)
			g.dependents[p] = append(g.dependents[p], u.Name)
		}
	}
	return g
}

// Nodes returns unit names in declaration order.
func (g *Graph) Nodes() []string { return g.nodes }

// Dependencies returns the distinct units n depends on.
func (g *Graph) Dependencies(n string) []string { return g.deps[n] }

// Dependents returns the distinct units that depend on n.
func (g *Graph) Dependents(n string) []string { return g.dependents[n] }

// CycleReport is the tagged outcome of cycle detection: either Order is a
// dependency-first ordering of every node, or Cycles holds at least one path.
type CycleReport struct {
	Order  []string
	Cycles [][]string
}

// Acyclic reports whether no cycle was found.
func (r CycleReport) Acyclic() bool { return len(r.Cycles) == 0 }

// DetectCycles runs a depth-first search tracking the recursion stack. Each
// back edge to a node still on the stack yields one cycle path.
func (g *Graph) DetectCycles() CycleReport {
	const (
		white = iota
		gray
		black
	)

	color := make(map[string]int, len(g.nodes))
	var stack []string
	var report CycleReport

	var visit func(n string)
	visit = func(n string) {
		color[n] = gray
		stack = append(stack, n)
		for _, m := range g.deps[n] {
			switch color[m] {
			case white:
				visit(m)
			case gray:
				start := indexOf(stack, m)
				path := make([]string, 0, len(stack)-start+1)
				path = append(path, stack[start:]...)
				path = append(path, m)
				report.Cycles = append(report.Cycles, path)
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		report.Order = append(report.Order, n)
	}

	for _, n := range g.nodes {
		if color[n] == white {
			visit(n)
		}
	}

	if len(report.Cycles) > 0 {
		report.Order = nil
	}
	return report
}

func contains(items []string, s string) bool {
	return indexOf(items, s) >= 0
}

func indexOf(items []string, s string) int {
	for i, it := range items {
		if it == s {
			return i
		}
	}
	return -1
}
