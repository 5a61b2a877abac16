package keyframe

import (
	"fmt"

	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

// Marshal encodes a graph state into the canonical value encoding.
// This is the payload format for both the gateway's keyframe table and
// the in-memory frame index.
func Marshal(s *graph.State) ([]byte, error) {
	nodes := make(value.Map, len(s.Nodes))
	for n := range s.Nodes {
		stats := value.Map{}
		for stat, v := range s.NodeVal[n] {
			stats[stat] = v
		}
		nodes[n] = stats
	}

	edges := make(value.List, 0, len(s.Edges))
	for e := range s.Edges {
		stats := value.Map{}
		for stat, v := range s.EdgeVal[e] {
			stats[stat] = v
		}
		edges = append(edges, value.Map{
			"orig":  value.Str(e.Orig),
			"dest":  value.Str(e.Dest),
			"idx":   value.Int(e.Idx),
			"stats": stats,
		})
	}

	gv := make(value.Map, len(s.GraphVal))
	for stat, v := range s.GraphVal {
		gv[stat] = v
	}

	return value.Encode(value.Map{
		"nodes":     nodes,
		"edges":     edges,
		"graph_val": gv,
	})
}

// Unmarshal decodes a keyframe payload back into a graph state.
func Unmarshal(data []byte) (*graph.State, error) {
	v, err := value.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("keyframe payload: %w", err)
	}
	top, ok := v.(value.Map)
	if !ok {
		return nil, fmt.Errorf("keyframe payload is %T, want map", v)
	}

	s := graph.NewState()

	if nodes, ok := top["nodes"].(value.Map); ok {
		for n, stats := range nodes {
			s.Nodes[n] = true
			sm, ok := stats.(value.Map)
			if !ok {
				return nil, fmt.Errorf("node %q stats are %T, want map", n, stats)
			}
			if len(sm) > 0 {
				dst := make(map[string]value.Value, len(sm))
				for stat, sv := range sm {
					dst[stat] = sv
				}
				s.NodeVal[n] = dst
			}
		}
	}

	if edges, ok := top["edges"].(value.List); ok {
		for i, ev := range edges {
			em, ok := ev.(value.Map)
			if !ok {
				return nil, fmt.Errorf("edge[%d] is %T, want map", i, ev)
			}
			orig, _ := em["orig"].(value.Str)
			dest, _ := em["dest"].(value.Str)
			idx, _ := em["idx"].(value.Int)
			ref := graph.EdgeRef{Orig: string(orig), Dest: string(dest), Idx: int64(idx)}
			s.Edges[ref] = true
			if sm, ok := em["stats"].(value.Map); ok && len(sm) > 0 {
				dst := make(map[string]value.Value, len(sm))
				for stat, sv := range sm {
					dst[stat] = sv
				}
				s.EdgeVal[ref] = dst
			}
		}
	}

	if gv, ok := top["graph_val"].(value.Map); ok {
		for stat, sv := range gv {
			s.GraphVal[stat] = sv
		}
	}

	return s, nil
}
