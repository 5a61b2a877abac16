package graph

import (
	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

// State is one graph's full materialized state at a point in time:
// the payload of a keyframe, and the thing the slow delta diffs.
type State struct {
	Nodes    map[string]bool
	Edges    map[EdgeRef]bool
	GraphVal map[string]value.Value
	NodeVal  map[string]map[string]value.Value
	EdgeVal  map[EdgeRef]map[string]value.Value
}

// NewState returns an empty state with all maps allocated.
func NewState() *State {
	return &State{
		Nodes:    make(map[string]bool),
		Edges:    make(map[EdgeRef]bool),
		GraphVal: make(map[string]value.Value),
		NodeVal:  make(map[string]map[string]value.Value),
		EdgeVal:  make(map[EdgeRef]map[string]value.Value),
	}
}

// Clone deep-copies the state's maps. Values themselves are shared;
// they are immutable once stored.
func (s *State) Clone() *State {
	out := NewState()
	for n, ex := range s.Nodes {
		out.Nodes[n] = ex
	}
	for e, ex := range s.Edges {
		out.Edges[e] = ex
	}
	for k, v := range s.GraphVal {
		out.GraphVal[k] = v
	}
	for n, stats := range s.NodeVal {
		cp := make(map[string]value.Value, len(stats))
		for k, v := range stats {
			cp[k] = v
		}
		out.NodeVal[n] = cp
	}
	for e, stats := range s.EdgeVal {
		cp := make(map[string]value.Value, len(stats))
		for k, v := range stats {
			cp[k] = v
		}
		out.EdgeVal[e] = cp
	}
	return out
}

// Apply folds a single record into the state. A tombstone (absent=true)
// removes the entry; for existence keys it removes the node or edge and
// its stats with it.
func (s *State) Apply(graphName string, k Key, v value.Value, absent bool) {
	switch k.Kind {
	case KindGraphVal:
		if absent {
			delete(s.GraphVal, k.Stat)
		} else {
			s.GraphVal[k.Stat] = v
		}
	case KindNode:
		if absent {
			delete(s.Nodes, k.Node)
			delete(s.NodeVal, k.Node)
		} else {
			s.Nodes[k.Node] = true
		}
	case KindNodeVal:
		if absent {
			if stats, ok := s.NodeVal[k.Node]; ok {
				delete(stats, k.Stat)
				if len(stats) == 0 {
					delete(s.NodeVal, k.Node)
				}
			}
		} else {
			stats, ok := s.NodeVal[k.Node]
			if !ok {
				stats = make(map[string]value.Value)
				s.NodeVal[k.Node] = stats
			}
			stats[k.Stat] = v
		}
	case KindEdge:
		if absent {
			delete(s.Edges, k.Edge)
			delete(s.EdgeVal, k.Edge)
		} else {
			s.Edges[k.Edge] = true
		}
	case KindEdgeVal:
		if absent {
			if stats, ok := s.EdgeVal[k.Edge]; ok {
				delete(stats, k.Stat)
				if len(stats) == 0 {
					delete(s.EdgeVal, k.Edge)
				}
			}
		} else {
			stats, ok := s.EdgeVal[k.Edge]
			if !ok {
				stats = make(map[string]value.Value)
				s.EdgeVal[k.Edge] = stats
			}
			stats[k.Stat] = v
		}
	}
}

// Flatten expands the state into per-key entries, the common currency
// of the delta engine. Existence entries carry value.Bool(true).
func (s *State) Flatten(graphName string) map[Key]value.Value {
	out := make(map[Key]value.Value)
	for n := range s.Nodes {
		out[NodeKey(graphName, n)] = value.Bool(true)
	}
	for e := range s.Edges {
		out[EdgeKey(graphName, e)] = value.Bool(true)
	}
	for stat, v := range s.GraphVal {
		out[GraphValKey(graphName, stat)] = v
	}
	for n, stats := range s.NodeVal {
		for stat, v := range stats {
			out[NodeValKey(graphName, n, stat)] = v
		}
	}
	for e, stats := range s.EdgeVal {
		for stat, v := range stats {
			out[EdgeValKey(graphName, e, stat)] = v
		}
	}
	return out
}
