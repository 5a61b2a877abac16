package keyframe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

func sampleState() *graph.State {
	s := graph.NewState()
	s.Nodes["alice"] = true
	s.Nodes["bob"] = true
	s.NodeVal["alice"] = map[string]value.Value{"hp": value.Int(10)}
	ref := graph.EdgeRef{Orig: "alice", Dest: "bob"}
	s.Edges[ref] = true
	s.EdgeVal[ref] = map[string]value.Value{"weight": value.Float(0.5)}
	s.GraphVal["name"] = value.Str("world")
	return s
}

func statesEqual(t *testing.T, want, got *graph.State) {
	t.Helper()
	wf := want.Flatten("g")
	gf := got.Flatten("g")
	require.Equal(t, len(wf), len(gf))
	for k, v := range wf {
		assert.True(t, value.Equal(v, gf[k]), "key %s", k)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	want := sampleState()
	payload, err := Marshal(want)
	require.NoError(t, err)

	got, err := Unmarshal(payload)
	require.NoError(t, err)
	statesEqual(t, want, got)
}

func TestMarshalDeterministic(t *testing.T) {
	a, err := Marshal(sampleState())
	require.NoError(t, err)
	b, err := Marshal(sampleState())
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte(`[1,2,3]`))
	require.Error(t, err)
	_, err = Unmarshal([]byte(`{`))
	require.Error(t, err)
}

func TestNearestAtOrBefore(t *testing.T) {
	l := chrono.NewLineage()
	s, err := New(l, 0, nil)
	require.NoError(t, err)

	early := graph.NewState()
	early.Nodes["alice"] = true
	late := sampleState()
	require.NoError(t, s.Snapshot("g", chrono.Time{Branch: chrono.Trunk, Turn: 2, Tick: 0}, early))
	require.NoError(t, s.Snapshot("g", chrono.Time{Branch: chrono.Trunk, Turn: 6, Tick: 0}, late))

	_, _, ok := s.NearestAtOrBefore("g", chrono.Time{Branch: chrono.Trunk, Turn: 1, Tick: 9})
	assert.False(t, ok)

	got, foundAt, ok := s.NearestAtOrBefore("g", chrono.Time{Branch: chrono.Trunk, Turn: 4, Tick: 0})
	require.True(t, ok)
	assert.Equal(t, int64(2), foundAt.Turn)
	statesEqual(t, early, got)

	got, foundAt, ok = s.NearestAtOrBefore("g", chrono.Time{Branch: chrono.Trunk, Turn: 6, Tick: 0})
	require.True(t, ok)
	assert.Equal(t, int64(6), foundAt.Turn)
	statesEqual(t, late, got)
}

func TestNearestAtOrBeforeFallsBackToParent(t *testing.T) {
	l := chrono.NewLineage()
	require.NoError(t, l.Register("b1", chrono.Trunk, 5, 0))
	s, err := New(l, 0, nil)
	require.NoError(t, err)

	base := sampleState()
	require.NoError(t, s.Snapshot("g", chrono.Time{Branch: chrono.Trunk, Turn: 3, Tick: 0}, base))

	got, foundAt, ok := s.NearestAtOrBefore("g", chrono.Time{Branch: "b1", Turn: 8, Tick: 0})
	require.True(t, ok)
	assert.Equal(t, chrono.Trunk, foundAt.Branch)
	assert.Equal(t, int64(3), foundAt.Turn)
	statesEqual(t, base, got)
}

func TestSnapshotReplacesSameTime(t *testing.T) {
	l := chrono.NewLineage()
	s, err := New(l, 0, nil)
	require.NoError(t, err)
	at := chrono.Time{Branch: chrono.Trunk, Turn: 1, Tick: 0}

	first := graph.NewState()
	first.Nodes["old"] = true
	require.NoError(t, s.Snapshot("g", at, first))

	second := graph.NewState()
	second.Nodes["new"] = true
	require.NoError(t, s.Snapshot("g", at, second))

	got, _, ok := s.NearestAtOrBefore("g", at)
	require.True(t, ok)
	statesEqual(t, second, got)
	assert.Len(t, s.Frames("g", chrono.Trunk), 1)
}

func TestReturnedStateIsAClone(t *testing.T) {
	l := chrono.NewLineage()
	s, err := New(l, 0, nil)
	require.NoError(t, err)
	at := chrono.Time{Branch: chrono.Trunk, Turn: 0, Tick: 0}
	require.NoError(t, s.Snapshot("g", at, sampleState()))

	got, _, ok := s.NearestAtOrBefore("g", at)
	require.True(t, ok)
	got.Nodes["mallory"] = true

	again, _, ok := s.NearestAtOrBefore("g", at)
	require.True(t, ok)
	assert.NotContains(t, again.Nodes, "mallory")
}

func TestLoadSkipsExistingFrame(t *testing.T) {
	l := chrono.NewLineage()
	s, err := New(l, 0, nil)
	require.NoError(t, err)
	at := chrono.Time{Branch: chrono.Trunk, Turn: 1, Tick: 0}
	require.NoError(t, s.Snapshot("g", at, sampleState()))

	s.Load("g", chrono.Trunk, Frame{Turn: 1, Tick: 0, Payload: []byte("garbage")})
	assert.Len(t, s.Frames("g", chrono.Trunk), 1)

	got, _, ok := s.NearestAtOrBefore("g", at)
	require.True(t, ok)
	statesEqual(t, sampleState(), got)
}
