package chrono

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	l := NewLineage()
	require.NoError(t, l.Register("b1", Trunk, 5, 2))

	b, ok := l.Get("b1")
	require.True(t, ok)
	assert.Equal(t, Trunk, b.Parent)
	assert.Equal(t, int64(5), b.ParentTurn)
	assert.Equal(t, int64(2), b.ParentTick)
	assert.Equal(t, int64(5), b.EndTurn)
	assert.Equal(t, int64(2), b.EndTick)
}

func TestRegisterSelfParent(t *testing.T) {
	l := NewLineage()
	require.Error(t, l.Register("b1", "b1", 0, 0))
}

func TestRegisterUnknownParent(t *testing.T) {
	l := NewLineage()
	require.Error(t, l.Register("b1", "nope", 0, 0))
}

func TestRegisterIdempotent(t *testing.T) {
	l := NewLineage()
	require.NoError(t, l.Register("b1", Trunk, 5, 2))
	require.NoError(t, l.Register("b1", Trunk, 5, 2))
	require.Error(t, l.Register("b1", Trunk, 6, 0))
}

func TestExtend(t *testing.T) {
	l := NewLineage()
	l.Extend(Trunk, 3, 4)
	b, _ := l.Get(Trunk)
	assert.Equal(t, int64(3), b.EndTurn)
	assert.Equal(t, int64(4), b.EndTick)

	// Moving backwards is a no-op.
	l.Extend(Trunk, 2, 9)
	b, _ = l.Get(Trunk)
	assert.Equal(t, int64(3), b.EndTurn)
}

func TestAncestry(t *testing.T) {
	l := NewLineage()
	require.NoError(t, l.Register("b1", Trunk, 5, 2))
	require.NoError(t, l.Register("b2", "b1", 8, 1))

	chain := l.Ancestry(Time{Branch: "b2", Turn: 10, Tick: 3})
	require.Len(t, chain, 3)
	assert.Equal(t, Time{Branch: "b2", Turn: 10, Tick: 3}, chain[0])
	assert.Equal(t, Time{Branch: "b1", Turn: 8, Tick: 1}, chain[1])
	assert.Equal(t, Time{Branch: Trunk, Turn: 5, Tick: 2}, chain[2])
}

func TestAncestryClampsBelowFork(t *testing.T) {
	l := NewLineage()
	require.NoError(t, l.Register("b1", Trunk, 5, 2))

	// Asking b1 about turn 3 reads the parent at turn 3, not at the fork.
	chain := l.Ancestry(Time{Branch: "b1", Turn: 3, Tick: 0})
	require.Len(t, chain, 2)
	assert.Equal(t, Time{Branch: Trunk, Turn: 3, Tick: 0}, chain[1])
}

func TestIsAncestorOf(t *testing.T) {
	l := NewLineage()
	require.NoError(t, l.Register("b1", Trunk, 5, 2))
	require.NoError(t, l.Register("b2", "b1", 8, 1))

	assert.True(t, l.IsAncestorOf(Trunk, "b2"))
	assert.True(t, l.IsAncestorOf("b1", "b2"))
	assert.True(t, l.IsAncestorOf("b2", "b2"))
	assert.False(t, l.IsAncestorOf("b2", "b1"))
	assert.False(t, l.IsAncestorOf("b1", Trunk))
}

func TestCommonAncestorSiblings(t *testing.T) {
	l := NewLineage()
	require.NoError(t, l.Register("left", Trunk, 5, 2))
	require.NoError(t, l.Register("right", Trunk, 7, 0))

	shared, ta, tb, err := l.CommonAncestor(
		Time{Branch: "left", Turn: 9, Tick: 0},
		Time{Branch: "right", Turn: 9, Tick: 0},
	)
	require.NoError(t, err)
	assert.Equal(t, Trunk, shared)
	assert.Equal(t, Time{Branch: Trunk, Turn: 5, Tick: 2}, ta)
	assert.Equal(t, Time{Branch: Trunk, Turn: 7, Tick: 0}, tb)
}

func TestCommonAncestorLineal(t *testing.T) {
	l := NewLineage()
	require.NoError(t, l.Register("b1", Trunk, 5, 2))

	shared, ta, tb, err := l.CommonAncestor(
		Time{Branch: Trunk, Turn: 3, Tick: 0},
		Time{Branch: "b1", Turn: 9, Tick: 1},
	)
	require.NoError(t, err)
	assert.Equal(t, Trunk, shared)
	assert.Equal(t, Time{Branch: Trunk, Turn: 3, Tick: 0}, ta)
	assert.Equal(t, Time{Branch: Trunk, Turn: 5, Tick: 2}, tb)
}

func TestTimeOrdering(t *testing.T) {
	a := Time{Branch: Trunk, Turn: 2, Tick: 5}
	b := Time{Branch: Trunk, Turn: 3, Tick: 0}
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.True(t, a.AtOrBefore(a))
	assert.False(t, b.AtOrBefore(a))

	assert.Equal(t, -1, CmpTurnTick(1, 9, 2, 0))
	assert.Equal(t, 1, CmpTurnTick(2, 1, 2, 0))
	assert.Equal(t, 0, CmpTurnTick(2, 0, 2, 0))
}

func TestTurnMarkers(t *testing.T) {
	ts := NewTurns()
	_, ok := ts.Get(Trunk, 0)
	assert.False(t, ok)

	ts.Extend(Trunk, 0, 3)
	m, ok := ts.Get(Trunk, 0)
	require.True(t, ok)
	assert.Equal(t, int64(3), m.EndTick)
	assert.Equal(t, int64(3), m.PlanEndTick)

	ts.ExtendPlan(Trunk, 0, 7)
	m, _ = ts.Get(Trunk, 0)
	assert.Equal(t, int64(3), m.EndTick)
	assert.Equal(t, int64(7), m.PlanEndTick)

	// Committed catch-up never lowers the plan marker.
	ts.Extend(Trunk, 0, 5)
	m, _ = ts.Get(Trunk, 0)
	assert.Equal(t, int64(5), m.EndTick)
	assert.Equal(t, int64(7), m.PlanEndTick)
}
