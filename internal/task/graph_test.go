package task

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpgtool/hpg/internal/hpgerr"
)

// buildFixture registers tasks from (description, deps-by-description)
// pairs and returns the registry plus a description → handle index.
func buildFixture(t *testing.T, defs [][2]interface{}) (*Registry, map[string]Handle) {
	t.Helper()
	var reg = NewRegistry()
	var byName = make(map[string]Handle)
	for _, def := range defs {
		var name = def[0].(string)
		var deps []Handle
		for _, dep := range def[1].([]string) {
			var h, ok = byName[dep]
			require.True(t, ok, "fixture dep %q must be declared first", dep)
			deps = append(deps, h)
		}
		var id = reg.NextID()
		reg.Register(Task{ID: id, Description: name, Deps: deps})
		reg.RegisterName(id, name)
		byName[name] = id
	}
	return reg, byName
}

func names(t *testing.T, reg *Registry, hs []Handle) []string {
	t.Helper()
	var out []string
	for _, h := range hs {
		var task, ok = reg.TaskByHandle(h)
		require.True(t, ok)
		out = append(out, task.Description)
	}
	return out
}

func TestDiamondOrdering(t *testing.T) {
	var reg, byName = buildFixture(t, [][2]interface{}{
		{"A", []string{}},
		{"B", []string{"A"}},
		{"C", []string{"A"}},
		{"D", []string{"B", "C"}},
	})
	var graph, err = NewGraph(reg)
	require.NoError(t, err)

	var ordering = graph.ExecutionFor(byName["D"])
	require.Equal(t, []string{"A", "B", "C", "D"}, names(t, reg, ordering))
}

func TestExecutionForManyDedups(t *testing.T) {
	var reg, byName = buildFixture(t, [][2]interface{}{
		{"A", []string{}},
		{"B", []string{"A"}},
		{"C", []string{"A"}},
		{"D", []string{"B"}},
		{"E", []string{"D", "C"}},
		{"F", []string{}},
		{"G", []string{"F"}},
	})
	var graph, err = NewGraph(reg)
	require.NoError(t, err)

	var ordering = graph.ExecutionForMany([]Handle{byName["E"], byName["B"], byName["G"]})

	// Each reachable task appears exactly once.
	var seen = make(map[Handle]int)
	for _, h := range ordering {
		seen[h]++
	}
	for _, name := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		require.Equal(t, 1, seen[byName[name]], "task %s", name)
	}

	// Every direct parent precedes its dependant.
	var index = make(map[Handle]int)
	for i, h := range ordering {
		index[h] = i
	}
	for _, h := range ordering {
		for _, p := range graph.DirectParents(h) {
			require.Less(t, index[p], index[h])
		}
	}
}

func TestDirectParents(t *testing.T) {
	var reg, byName = buildFixture(t, [][2]interface{}{
		{"A", []string{}},
		{"B", []string{"A"}},
		{"C", []string{"A", "B"}},
	})
	var graph, err = NewGraph(reg)
	require.NoError(t, err)

	require.Empty(t, graph.DirectParents(byName["A"]))
	require.Equal(t, []Handle{byName["A"], byName["B"]}, graph.DirectParents(byName["C"]))
}

func TestUnknownDependencyFailsBuild(t *testing.T) {
	var reg = NewRegistry()
	var id = reg.NextID()
	reg.Register(Task{ID: id, Description: "broken", Deps: []Handle{Handle(999)}})

	var _, err = NewGraph(reg)
	require.Error(t, err)
	require.True(t, hpgerr.IsKind(err, hpgerr.Task))
	require.Contains(t, err.Error(), "Unknown task")
}
