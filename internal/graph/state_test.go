package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

func TestApplyNodeLifecycle(t *testing.T) {
	s := NewState()
	s.Apply("g", NodeKey("g", "a"), value.Bool(true), false)
	s.Apply("g", NodeValKey("g", "a", "hp"), value.Int(10), false)
	assert.True(t, s.Nodes["a"])
	assert.True(t, value.Equal(value.Int(10), s.NodeVal["a"]["hp"]))

	// Removing the node drags its stats along.
	s.Apply("g", NodeKey("g", "a"), nil, true)
	assert.NotContains(t, s.Nodes, "a")
	assert.NotContains(t, s.NodeVal, "a")
}

func TestApplyEdgeLifecycle(t *testing.T) {
	s := NewState()
	ref := EdgeRef{Orig: "a", Dest: "b"}
	s.Apply("g", EdgeKey("g", ref), value.Bool(true), false)
	s.Apply("g", EdgeValKey("g", ref, "weight"), value.Int(3), false)
	assert.True(t, s.Edges[ref])

	s.Apply("g", EdgeKey("g", ref), nil, true)
	assert.NotContains(t, s.Edges, ref)
	assert.NotContains(t, s.EdgeVal, ref)
}

func TestApplyStatTombstones(t *testing.T) {
	s := NewState()
	s.Apply("g", GraphValKey("g", "name"), value.Str("x"), false)
	s.Apply("g", GraphValKey("g", "name"), nil, true)
	assert.NotContains(t, s.GraphVal, "name")

	s.Apply("g", NodeValKey("g", "a", "hp"), value.Int(1), false)
	s.Apply("g", NodeValKey("g", "a", "mp"), value.Int(2), false)
	s.Apply("g", NodeValKey("g", "a", "hp"), nil, true)
	assert.NotContains(t, s.NodeVal["a"], "hp")
	assert.Contains(t, s.NodeVal["a"], "mp")

	// The last stat going drops the whole entry.
	s.Apply("g", NodeValKey("g", "a", "mp"), nil, true)
	assert.NotContains(t, s.NodeVal, "a")
}

func TestCloneIsolation(t *testing.T) {
	s := NewState()
	s.Apply("g", NodeKey("g", "a"), value.Bool(true), false)
	s.Apply("g", NodeValKey("g", "a", "hp"), value.Int(1), false)

	c := s.Clone()
	c.Apply("g", NodeValKey("g", "a", "hp"), value.Int(9), false)
	c.Apply("g", NodeKey("g", "b"), value.Bool(true), false)

	assert.True(t, value.Equal(value.Int(1), s.NodeVal["a"]["hp"]))
	assert.NotContains(t, s.Nodes, "b")
}

func TestFlatten(t *testing.T) {
	s := NewState()
	ref := EdgeRef{Orig: "a", Dest: "b"}
	s.Apply("g", NodeKey("g", "a"), value.Bool(true), false)
	s.Apply("g", EdgeKey("g", ref), value.Bool(true), false)
	s.Apply("g", GraphValKey("g", "name"), value.Str("x"), false)
	s.Apply("g", NodeValKey("g", "a", "hp"), value.Int(1), false)
	s.Apply("g", EdgeValKey("g", ref, "weight"), value.Int(2), false)

	flat := s.Flatten("g")
	require.Len(t, flat, 5)
	assert.True(t, value.Equal(value.Bool(true), flat[NodeKey("g", "a")]))
	assert.True(t, value.Equal(value.Int(2), flat[EdgeValKey("g", ref, "weight")]))
}

func TestDeltaRecord(t *testing.T) {
	d := NewDelta()
	assert.True(t, d.Empty())

	k := NodeValKey("g", "a", "hp")
	d.Record(k, nil, value.Int(1))
	assert.True(t, value.Equal(value.Int(1), d.Added[k]))

	d = NewDelta()
	d.Record(k, value.Int(1), nil)
	assert.True(t, value.Equal(value.Int(1), d.Removed[k]))

	d = NewDelta()
	d.Record(k, value.Int(1), value.Int(2))
	pair := d.Changed[k]
	assert.True(t, value.Equal(value.Int(1), pair.Old))
	assert.True(t, value.Equal(value.Int(2), pair.New))

	// Identical old and new is not a change.
	d = NewDelta()
	d.Record(k, value.Int(1), value.Int(1))
	assert.True(t, d.Empty())
	assert.Zero(t, d.Len())
}

func TestDeltaEqual(t *testing.T) {
	k := NodeValKey("g", "a", "hp")
	a := NewDelta()
	a.Record(k, nil, value.Int(1))
	b := NewDelta()
	b.Record(k, nil, value.Int(1))
	assert.True(t, a.Equal(b))

	b = NewDelta()
	b.Record(k, nil, value.Int(2))
	assert.False(t, a.Equal(b))

	b = NewDelta()
	b.Record(k, value.Int(1), nil)
	assert.False(t, a.Equal(b))
}

func TestEdgeRefReversed(t *testing.T) {
	ref := EdgeRef{Orig: "a", Dest: "b", Idx: 2}
	rev := ref.Reversed()
	assert.Equal(t, EdgeRef{Orig: "b", Dest: "a", Idx: 2}, rev)
	assert.Equal(t, ref, rev.Reversed())
}
