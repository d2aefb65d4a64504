package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlesAreMonotonic(t *testing.T) {
	var reg = NewRegistry()
	var prev = reg.NextID()
	for i := 0; i < 100; i++ {
		var next = reg.NextID()
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestFirstNameBindingWins(t *testing.T) {
	var reg = NewRegistry()
	var first = reg.NextID()
	var second = reg.NextID()
	reg.Register(Task{ID: first, Description: "first"})
	reg.Register(Task{ID: second, Description: "second"})

	reg.RegisterName(first, "shared")
	reg.RegisterName(second, "shared")

	var got, ok = reg.TaskByName("shared")
	require.True(t, ok)
	require.Equal(t, first, got.ID)
}

func TestHandleRecordNeverChanges(t *testing.T) {
	var reg = NewRegistry()
	var id = reg.NextID()
	reg.Register(Task{ID: id, Description: "original"})
	reg.Register(Task{ID: id, Description: "imposter"})

	var got, ok = reg.TaskByHandle(id)
	require.True(t, ok)
	require.Equal(t, "original", got.Description)
}

func TestNamedTasksSorted(t *testing.T) {
	var reg = NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		var id = reg.NextID()
		reg.Register(Task{ID: id, Description: name + " desc"})
		reg.RegisterName(id, name)
	}

	var named = reg.NamedTasks()
	require.Len(t, named, 3)
	require.Equal(t, "alpha", named[0].Name)
	require.Equal(t, "mid", named[1].Name)
	require.Equal(t, "zeta", named[2].Name)
}
