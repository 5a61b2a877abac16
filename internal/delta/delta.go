// Package delta computes minimal state differences between two points
// in logical time, for synchronizing a remote consumer. Two algorithms:
// Slow replays full state at both ends and diffs structurally; Fast
// walks only the records between the two times. They must agree on
// every reachable pair of times, and the tests hold them to it.
package delta

import (
	"sort"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/keyframe"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
	"github.com/TacticalMetaphysics/eidetic/internal/window"
)

// Engine computes deltas from the history cache and keyframe store.
// It never touches the gateway; the caller ensures the relevant windows
// are loaded.
type Engine struct {
	hist    *window.History
	frames  *keyframe.Store
	lineage *chrono.Lineage
}

// New creates a delta engine over shared cache layers.
func New(hist *window.History, frames *keyframe.Store, lineage *chrono.Lineage) *Engine {
	return &Engine{hist: hist, frames: frames, lineage: lineage}
}

// StateAt reconstructs graphName's full state at t: nearest keyframe at
// or before t, then replay of every record between the keyframe and t.
func (e *Engine) StateAt(graphName string, t chrono.Time) *graph.State {
	state, baseTime, ok := e.frames.NearestAtOrBefore(graphName, t)
	if !ok {
		state = graph.NewState()
		baseTime = chrono.Time{}
	}
	// The node and edge tombstone cascade in Apply only removes stats
	// already present, so records must land in global time order, not
	// key by key.
	type timed struct {
		key graph.Key
		rec window.Record
	}
	var recs []timed
	for _, k := range e.hist.Keys() {
		if k.Graph != graphName {
			continue
		}
		e.hist.EachRecord(k, baseTime, t, func(_ string, rec window.Record) {
			recs = append(recs, timed{key: k, rec: rec})
		})
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return chrono.CmpTurnTick(recs[i].rec.Turn, recs[i].rec.Tick,
			recs[j].rec.Turn, recs[j].rec.Tick) < 0
	})
	for _, r := range recs {
		state.Apply(graphName, r.key, r.rec.Value, r.rec.Absent)
	}
	return state
}

// Slow computes the delta by full-state replay at both ends and a
// structural diff. O(state size); the reference the fast path is
// checked against.
func (e *Engine) Slow(graphName string, from, to chrono.Time) (*graph.Delta, error) {
	older := e.StateAt(graphName, from).Flatten(graphName)
	newer := e.StateAt(graphName, to).Flatten(graphName)

	d := graph.NewDelta()
	for k, ov := range older {
		d.Record(k, ov, newer[k])
	}
	for k, nv := range newer {
		if _, ok := older[k]; !ok {
			d.Record(k, nil, nv)
		}
	}
	return d, nil
}

// Fast computes the delta by walking only the records between the two
// times. Cross-branch pairs walk each side's segments down to the
// common-ancestor fork, then resolve each touched key with two point
// reads, most recent write winning. O(changes), not O(state size).
func (e *Engine) Fast(graphName string, from, to chrono.Time) (*graph.Delta, error) {
	_, clampFrom, clampTo, err := e.lineage.CommonAncestor(from, to)
	if err != nil {
		return nil, err
	}
	// Shared history ends at the earlier clamp; records after it on
	// either side are where the two views can differ.
	lo := clampFrom
	if chrono.CmpTurnTick(clampTo.Turn, clampTo.Tick, lo.Turn, lo.Tick) < 0 {
		lo = clampTo
	}

	keys := e.hist.Keys()
	touched := make(map[graph.Key]bool)
	touchedNodes := make(map[string]bool)
	touchedEdges := make(map[graph.EdgeRef]bool)
	for _, k := range keys {
		if k.Graph != graphName {
			continue
		}
		mark := func(_ string, _ window.Record) { touched[k] = true }
		e.hist.EachRecord(k, lo, from, mark)
		if !touched[k] {
			e.hist.EachRecord(k, lo, to, mark)
		}
		if touched[k] {
			switch k.Kind {
			case graph.KindNode:
				touchedNodes[k.Node] = true
			case graph.KindEdge:
				touchedEdges[k.Edge] = true
			}
		}
	}
	// A node or edge that came or went drags its stats along, even
	// when no stat record falls inside the window.
	for _, k := range keys {
		if k.Graph != graphName {
			continue
		}
		if k.Kind == graph.KindNodeVal && touchedNodes[k.Node] {
			touched[k] = true
		}
		if k.Kind == graph.KindEdgeVal && touchedEdges[k.Edge] {
			touched[k] = true
		}
	}

	d := graph.NewDelta()
	for k := range touched {
		older := e.valueOrNil(k, from)
		newer := e.valueOrNil(k, to)
		d.Record(k, older, newer)
	}
	return d, nil
}

// valueOrNil flattens tombstones and never-set keys to nil for diffing.
// A stat whose node or edge was tombstoned after the stat's last write
// reads as nil too, matching what full replay produces: the cascade
// erases the stat even when the node or edge comes back later, so any
// owner tombstone inside (write, t] counts, not just the latest owner
// record.
func (e *Engine) valueOrNil(k graph.Key, t chrono.Time) value.Value {
	rec, ok := e.hist.RetrieveRecord(k, t)
	if !ok || rec.Absent {
		return nil
	}
	var owner graph.Key
	switch k.Kind {
	case graph.KindNodeVal:
		owner = graph.NodeKey(k.Graph, k.Node)
	case graph.KindEdgeVal:
		owner = graph.EdgeKey(k.Graph, k.Edge)
	default:
		return rec.Value
	}
	wrote := chrono.Time{Branch: t.Branch, Turn: rec.Turn, Tick: rec.Tick}
	gone := false
	e.hist.EachRecord(owner, wrote, t, func(_ string, orec window.Record) {
		if orec.Absent {
			gone = true
		}
	})
	if gone {
		return nil
	}
	return rec.Value
}
