package engine

import (
	"fmt"
	"sort"

	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
	"github.com/TacticalMetaphysics/eidetic/internal/window"
)

// GraphStat reads a graph-level stat at the cursor.
func (e *Engine) GraphStat(g, stat string) (value.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureLoadedLocked(g); err != nil {
		return nil, err
	}
	return e.hist.Retrieve(graph.GraphValKey(g, stat), e.cursor)
}

// NodeExists reports whether the node is extant at the cursor.
func (e *Engine) NodeExists(g, node string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodeExistsLocked(g, node)
}

func (e *Engine) nodeExistsLocked(g, node string) (bool, error) {
	if err := e.ensureLoadedLocked(g); err != nil {
		return false, err
	}
	rec, ok := e.hist.RetrieveRecord(graph.NodeKey(g, node), e.cursor)
	return ok && !rec.Absent, nil
}

// NodeStat reads a node stat at the cursor. A removed node's stats are
// gone with it, whatever their own timelines say.
func (e *Engine) NodeStat(g, node, stat string) (value.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	extant, err := e.nodeExistsLocked(g, node)
	if err != nil {
		return nil, err
	}
	if !extant {
		return nil, &window.NotFoundError{Key: graph.NodeKey(g, node), Time: e.cursor, Deleted: true}
	}
	return e.hist.Retrieve(graph.NodeValKey(g, node, stat), e.cursor)
}

// EdgeExists reports whether the edge is extant at the cursor.
func (e *Engine) EdgeExists(g string, ref graph.EdgeRef) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edgeExistsLocked(g, ref)
}

func (e *Engine) edgeExistsLocked(g string, ref graph.EdgeRef) (bool, error) {
	if err := e.ensureLoadedLocked(g); err != nil {
		return false, err
	}
	rec, ok := e.hist.RetrieveRecord(graph.EdgeKey(g, ref), e.cursor)
	return ok && !rec.Absent, nil
}

// EdgeStat reads an edge stat at the cursor. If the edge is marked as a
// mirror, every stat except the marker itself resolves through the
// reversed edge.
func (e *Engine) EdgeStat(g string, ref graph.EdgeRef, stat string) (value.Value, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	extant, err := e.edgeExistsLocked(g, ref)
	if err != nil {
		return nil, err
	}
	if !extant {
		return nil, &window.NotFoundError{Key: graph.EdgeKey(g, ref), Time: e.cursor, Deleted: true}
	}
	if stat != mirrorStat {
		if rec, ok := e.hist.RetrieveRecord(graph.EdgeValKey(g, ref, mirrorStat), e.cursor); ok && !rec.Absent {
			if b, isBool := rec.Value.(value.Bool); isBool && bool(b) {
				return e.hist.Retrieve(graph.EdgeValKey(g, ref.Reversed(), stat), e.cursor)
			}
		}
	}
	return e.hist.Retrieve(graph.EdgeValKey(g, ref, stat), e.cursor)
}

// Nodes lists the extant nodes of g at the cursor, sorted by name.
func (e *Engine) Nodes(g string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.graphs[g] {
		return nil, fmt.Errorf("graph %q does not exist", g)
	}
	if err := e.ensureLoadedLocked(g); err != nil {
		return nil, err
	}
	state := e.deltas.StateAt(g, e.cursor)
	out := make([]string, 0, len(state.Nodes))
	for n := range state.Nodes {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// Edges lists the extant edges of g at the cursor, sorted by
// (orig, dest, idx).
func (e *Engine) Edges(g string) ([]graph.EdgeRef, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.graphs[g] {
		return nil, fmt.Errorf("graph %q does not exist", g)
	}
	if err := e.ensureLoadedLocked(g); err != nil {
		return nil, err
	}
	state := e.deltas.StateAt(g, e.cursor)
	out := make([]graph.EdgeRef, 0, len(state.Edges))
	for ref := range state.Edges {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Orig != b.Orig {
			return a.Orig < b.Orig
		}
		if a.Dest != b.Dest {
			return a.Dest < b.Dest
		}
		return a.Idx < b.Idx
	})
	return out, nil
}

// Successors lists extant edges leaving node at the cursor.
func (e *Engine) Successors(g, node string) ([]graph.EdgeRef, error) {
	all, err := e.Edges(g)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, ref := range all {
		if ref.Orig == node {
			out = append(out, ref)
		}
	}
	return out, nil
}

// ensureLoadedLocked reloads the durable window around the cursor when
// a prior Unload evicted it.
func (e *Engine) ensureLoadedLocked(g string) error {
	if !e.graphs[g] {
		return fmt.Errorf("graph %q does not exist", g)
	}
	if e.hist.Loaded(g, e.cursor.Branch, e.cursor.Turn) {
		return nil
	}
	e.mets.CacheMiss()
	return e.loadWindowLocked(g, e.cursor.Branch)
}
