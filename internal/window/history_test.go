package window

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

func at(turn, tick int64) chrono.Time {
	return chrono.Time{Branch: chrono.Trunk, Turn: turn, Tick: tick}
}

func atBranch(branch string, turn, tick int64) chrono.Time {
	return chrono.Time{Branch: branch, Turn: turn, Tick: tick}
}

func newHistory(t *testing.T) (*History, *chrono.Lineage) {
	t.Helper()
	l := chrono.NewLineage()
	return New(l, nil), l
}

func TestRetrieveAtOrBefore(t *testing.T) {
	h, _ := newHistory(t)
	k := graph.NodeValKey("world", "alice", "hp")
	require.NoError(t, h.Insert(k, at(1, 1), value.Int(10), false, ""))
	require.NoError(t, h.Insert(k, at(3, 2), value.Int(7), false, ""))

	_, err := h.Retrieve(k, at(0, 9))
	assert.True(t, errors.Is(err, ErrNotFound))

	v, err := h.Retrieve(k, at(1, 1))
	require.NoError(t, err)
	assert.Equal(t, value.Int(10), v)

	v, err = h.Retrieve(k, at(2, 0))
	require.NoError(t, err)
	assert.Equal(t, value.Int(10), v)

	v, err = h.Retrieve(k, at(9, 9))
	require.NoError(t, err)
	assert.Equal(t, value.Int(7), v)
}

func TestRetrieveTombstone(t *testing.T) {
	h, _ := newHistory(t)
	k := graph.NodeValKey("world", "alice", "hp")
	require.NoError(t, h.Insert(k, at(1, 1), value.Int(10), false, ""))
	require.NoError(t, h.Insert(k, at(2, 1), nil, true, ""))

	_, err := h.Retrieve(k, at(2, 5))
	assert.True(t, errors.Is(err, ErrAbsent))
	assert.False(t, errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.True(t, nf.Deleted)

	// The past is untouched.
	v, err := h.Retrieve(k, at(1, 9))
	require.NoError(t, err)
	assert.Equal(t, value.Int(10), v)
}

func TestInsertCollision(t *testing.T) {
	h, _ := newHistory(t)
	k := graph.GraphValKey("world", "name")
	require.NoError(t, h.Insert(k, at(1, 1), value.Str("a"), false, ""))

	err := h.Insert(k, at(1, 1), value.Str("b"), false, "")
	assert.True(t, errors.Is(err, ErrTimeCollision))

	var te *TimeError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, k, te.Key)
}

func TestInsertIntoThePast(t *testing.T) {
	h, _ := newHistory(t)
	k := graph.GraphValKey("world", "name")
	require.NoError(t, h.Insert(k, at(5, 1), value.Str("late"), false, ""))
	require.NoError(t, h.Insert(k, at(2, 1), value.Str("early"), false, ""))

	v, err := h.Retrieve(k, at(3, 0))
	require.NoError(t, err)
	assert.Equal(t, value.Str("early"), v)

	v, err = h.Retrieve(k, at(6, 0))
	require.NoError(t, err)
	assert.Equal(t, value.Str("late"), v)
}

func TestBranchInheritance(t *testing.T) {
	h, l := newHistory(t)
	require.NoError(t, l.Register("b1", chrono.Trunk, 3, 0))
	k := graph.NodeValKey("world", "alice", "hp")
	require.NoError(t, h.Insert(k, at(1, 1), value.Int(10), false, ""))

	// A child branch reads through to the parent below its fork.
	v, err := h.Retrieve(k, atBranch("b1", 5, 0))
	require.NoError(t, err)
	assert.Equal(t, value.Int(10), v)

	// A write on the child shadows the parent without touching it.
	require.NoError(t, h.Insert(k, atBranch("b1", 4, 1), value.Int(3), false, ""))
	v, err = h.Retrieve(k, atBranch("b1", 5, 0))
	require.NoError(t, err)
	assert.Equal(t, value.Int(3), v)

	v, err = h.Retrieve(k, at(5, 0))
	require.NoError(t, err)
	assert.Equal(t, value.Int(10), v)
}

func TestBranchReadBelowFork(t *testing.T) {
	h, l := newHistory(t)
	require.NoError(t, l.Register("b1", chrono.Trunk, 5, 0))
	k := graph.NodeValKey("world", "alice", "hp")
	require.NoError(t, h.Insert(k, at(2, 1), value.Int(10), false, ""))
	require.NoError(t, h.Insert(k, at(4, 1), value.Int(20), false, ""))

	// Asking the child about turn 3 sees the parent's state at turn 3,
	// not at the fork point.
	v, err := h.Retrieve(k, atBranch("b1", 3, 9))
	require.NoError(t, err)
	assert.Equal(t, value.Int(10), v)
}

func TestTurnBeforeAfter(t *testing.T) {
	h, l := newHistory(t)
	require.NoError(t, l.Register("b1", chrono.Trunk, 10, 0))
	k := graph.NodeValKey("world", "alice", "hp")
	require.NoError(t, h.Insert(k, at(2, 1), value.Int(1), false, ""))
	require.NoError(t, h.Insert(k, at(6, 1), value.Int(2), false, ""))
	require.NoError(t, h.Insert(k, atBranch("b1", 12, 1), value.Int(3), false, ""))

	turn, ok := h.TurnBefore(k, chrono.Trunk, 6)
	require.True(t, ok)
	assert.Equal(t, int64(2), turn)

	turn, ok = h.TurnAfter(k, chrono.Trunk, 2)
	require.True(t, ok)
	assert.Equal(t, int64(6), turn)

	// From the child branch, both its own and inherited records count.
	turn, ok = h.TurnAfter(k, "b1", 6)
	require.True(t, ok)
	assert.Equal(t, int64(12), turn)

	_, ok = h.TurnBefore(k, chrono.Trunk, 2)
	assert.False(t, ok)

	// Records past b1's fork are not visible from the trunk.
	_, ok = h.TurnAfter(k, chrono.Trunk, 6)
	assert.False(t, ok)
}

func TestEachRecordWindow(t *testing.T) {
	h, _ := newHistory(t)
	k := graph.NodeValKey("world", "alice", "hp")
	require.NoError(t, h.Insert(k, at(1, 1), value.Int(1), false, ""))
	require.NoError(t, h.Insert(k, at(2, 1), value.Int(2), false, ""))
	require.NoError(t, h.Insert(k, at(3, 1), value.Int(3), false, ""))

	var got []int64
	h.EachRecord(k, at(1, 1), at(3, 1), func(branch string, rec Record) {
		got = append(got, rec.Turn)
	})
	// from exclusive, to inclusive.
	assert.Equal(t, []int64{2, 3}, got)
}

func TestEachRecordCrossBranch(t *testing.T) {
	h, l := newHistory(t)
	require.NoError(t, l.Register("b1", chrono.Trunk, 2, 5))
	k := graph.NodeValKey("world", "alice", "hp")
	require.NoError(t, h.Insert(k, at(1, 1), value.Int(1), false, ""))
	require.NoError(t, h.Insert(k, at(2, 1), value.Int(2), false, ""))
	require.NoError(t, h.Insert(k, atBranch("b1", 3, 1), value.Int(3), false, ""))

	var got []struct {
		branch string
		turn   int64
	}
	h.EachRecord(k, at(1, 1), atBranch("b1", 5, 0), func(branch string, rec Record) {
		got = append(got, struct {
			branch string
			turn   int64
		}{branch, rec.Turn})
	})
	require.Len(t, got, 2)
	// Ancestor segment first, then the child's own records.
	assert.Equal(t, chrono.Trunk, got[0].branch)
	assert.Equal(t, int64(2), got[0].turn)
	assert.Equal(t, "b1", got[1].branch)
	assert.Equal(t, int64(3), got[1].turn)
}

func TestEachRecordFromBelowFork(t *testing.T) {
	h, l := newHistory(t)
	require.NoError(t, l.Register("b1", chrono.Trunk, 5, 2))
	k := graph.NodeValKey("world", "alice", "hp")
	require.NoError(t, h.Insert(k, at(1, 1), value.Int(1), false, ""))
	require.NoError(t, h.Insert(k, at(4, 1), value.Int(2), false, ""))
	require.NoError(t, h.Insert(k, at(6, 1), value.Int(9), false, ""))
	require.NoError(t, h.Insert(k, atBranch("b1", 7, 1), value.Int(3), false, ""))

	// A bound below the fork point still yields the parent records the
	// child inherits; the trunk write past the fork stays invisible.
	var got []int64
	h.EachRecord(k, atBranch("b1", 1, 1), atBranch("b1", 8, 0), func(_ string, rec Record) {
		got = append(got, rec.Turn)
	})
	assert.Equal(t, []int64{4, 7}, got)
}

func TestUnflushedAndMarkFlushed(t *testing.T) {
	h, _ := newHistory(t)
	k := graph.GraphValKey("world", "name")
	require.NoError(t, h.Insert(k, at(1, 1), value.Str("a"), false, ""))
	require.NoError(t, h.Insert(k, at(2, 1), value.Str("b"), false, "plan-1"))

	// Plan records flush only when their plan is flushable.
	pending := h.Unflushed(func(planID string) bool { return false })
	require.Len(t, pending, 1)
	assert.Equal(t, int64(1), pending[0].Record.Turn)

	pending = h.Unflushed(func(planID string) bool { return planID == "plan-1" })
	require.Len(t, pending, 2)

	h.MarkFlushed(pending)
	assert.Empty(t, h.Unflushed(func(string) bool { return true }))
}

func TestRemove(t *testing.T) {
	h, _ := newHistory(t)
	k := graph.GraphValKey("world", "name")
	require.NoError(t, h.Insert(k, at(1, 1), value.Str("a"), false, ""))
	require.NoError(t, h.Insert(k, at(2, 1), value.Str("b"), false, "plan-1"))

	assert.False(t, h.Remove(k, at(3, 3)), "removing a missing record")
	assert.True(t, h.Remove(k, at(2, 1)))

	_, err := h.Retrieve(k, at(2, 5))
	require.NoError(t, err)

	// Flushed committed history is immutable.
	h.MarkFlushed(h.Unflushed(nil))
	assert.False(t, h.Remove(k, at(1, 1)))
}

func TestLoadedSpans(t *testing.T) {
	h, _ := newHistory(t)
	assert.False(t, h.Loaded("world", chrono.Trunk, 0))

	h.MarkLoaded("world", chrono.Trunk, 0, 5)
	h.MarkLoaded("world", chrono.Trunk, 6, 10)
	assert.True(t, h.Loaded("world", chrono.Trunk, 3))
	assert.True(t, h.Loaded("world", chrono.Trunk, 10))
	assert.False(t, h.Loaded("world", chrono.Trunk, 11))
}

func TestUnloadBefore(t *testing.T) {
	h, _ := newHistory(t)
	k := graph.NodeValKey("world", "alice", "hp")
	require.NoError(t, h.Insert(k, at(1, 1), value.Int(1), false, ""))
	require.NoError(t, h.Insert(k, at(2, 1), value.Int(2), false, ""))
	require.NoError(t, h.Insert(k, at(5, 1), value.Int(5), false, ""))
	h.MarkLoaded("world", chrono.Trunk, 0, 10)

	// Only flushed records are evicted; turn 5 is unflushed.
	h.MarkFlushed([]PendingRecord{
		{Key: k, Branch: chrono.Trunk, Record: Record{Turn: 1, Tick: 1}},
		{Key: k, Branch: chrono.Trunk, Record: Record{Turn: 2, Tick: 1}},
	})
	h.UnloadBefore("world", at(4, 0))

	assert.False(t, h.Loaded("world", chrono.Trunk, 3))
	assert.True(t, h.Loaded("world", chrono.Trunk, 4))

	_, ok := h.RetrieveRecord(k, at(2, 5))
	assert.False(t, ok, "evicted record must be gone")

	v, err := h.Retrieve(k, at(5, 5))
	require.NoError(t, err)
	assert.Equal(t, value.Int(5), v)
}
