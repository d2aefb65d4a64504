package task

import (
	"github.com/hpgtool/hpg/internal/hpgerr"
)

// Graph is the dependency DAG, built once from a frozen registry. Nodes are
// a flat array and edges are integer indices; an edge A → B means A depends
// on B, so B must run before A. Acyclicity is guaranteed by construction: a
// task can only name dependencies created by earlier task() calls.
type Graph struct {
	nodes []Task
	index map[Handle]int
	// deps[i] holds node indices of nodes[i]'s direct dependencies.
	deps [][]int
}

// NewGraph builds the DAG from every task in reg. A dependency handle with
// no registered record is a fatal build error.
func NewGraph(reg *Registry) (*Graph, error) {
	var nodes = reg.AllTasks()
	var g = &Graph{
		nodes: nodes,
		index: make(map[Handle]int, len(nodes)),
		deps:  make([][]int, len(nodes)),
	}
	for i, t := range nodes {
		g.index[t.ID] = i
	}
	for i, t := range nodes {
		for _, dep := range t.Deps {
			var j, ok = g.index[dep]
			if !ok {
				return nil, hpgerr.New(hpgerr.Task, "Unknown task %d", dep)
			}
			g.deps[i] = append(g.deps[i], j)
		}
	}
	return g, nil
}

// DirectParents returns h's direct dependencies: the tasks whose results
// gate whether h may run.
func (g *Graph) DirectParents(h Handle) []Handle {
	var i, ok = g.index[h]
	if !ok {
		return nil
	}
	var out = make([]Handle, 0, len(g.deps[i]))
	for _, j := range g.deps[i] {
		out = append(out, g.nodes[j].ID)
	}
	return out
}

// ExecutionFor returns the post-order depth-first traversal from h: each
// reachable node exactly once, deepest dependency first, h last.
func (g *Graph) ExecutionFor(h Handle) []Handle {
	var start, ok = g.index[h]
	if !ok {
		return nil
	}
	var visited = make([]bool, len(g.nodes))
	var out []Handle
	var visit func(int)
	visit = func(i int) {
		visited[i] = true
		for _, j := range g.deps[i] {
			if !visited[j] {
				visit(j)
			}
		}
		out = append(out, g.nodes[i].ID)
	}
	visit(start)
	return out
}

// ExecutionForMany concatenates the per-task orderings in input order, then
// removes duplicates keeping each handle's first occurrence. Dependencies
// therefore always precede their dependants in the result.
func (g *Graph) ExecutionForMany(hs []Handle) []Handle {
	var seen = make(map[Handle]struct{})
	var out []Handle
	for _, h := range hs {
		for _, x := range g.ExecutionFor(h) {
			if _, dup := seen[x]; !dup {
				seen[x] = struct{}{}
				out = append(out, x)
			}
		}
	}
	return out
}
