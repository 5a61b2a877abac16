// Package graph defines the entity addressing scheme shared by every
// cache layer: which graph, which node or edge, which stat. Keys are
// small comparable structs so they can index history maps directly,
// and entities reference each other by key, never by pointer.
package graph

import "fmt"

// Kind discriminates what a Key addresses.
type Kind uint8

const (
	// KindGraphVal addresses a graph-level stat.
	KindGraphVal Kind = iota + 1
	// KindNode addresses a node's existence.
	KindNode
	// KindNodeVal addresses a node stat.
	KindNodeVal
	// KindEdge addresses an edge's existence.
	KindEdge
	// KindEdgeVal addresses an edge stat.
	KindEdgeVal
)

func (k Kind) String() string {
	switch k {
	case KindGraphVal:
		return "graph_val"
	case KindNode:
		return "node"
	case KindNodeVal:
		return "node_val"
	case KindEdge:
		return "edge"
	case KindEdgeVal:
		return "edge_val"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// EdgeRef identifies one edge within a graph. Idx distinguishes
// parallel edges between the same endpoints.
type EdgeRef struct {
	Orig string
	Dest string
	Idx  int64
}

// Reversed returns the same edge pointing the other way, used to
// resolve mirror edges.
func (e EdgeRef) Reversed() EdgeRef {
	return EdgeRef{Orig: e.Dest, Dest: e.Orig, Idx: e.Idx}
}

func (e EdgeRef) String() string {
	return fmt.Sprintf("%s->%s[%d]", e.Orig, e.Dest, e.Idx)
}

// Key is the full address of one recorded entity: the unit of history.
// Unused fields stay zero, so Key is usable as a map key for any Kind.
type Key struct {
	Graph string
	Kind  Kind
	Node  string // KindNode, KindNodeVal
	Edge  EdgeRef // KindEdge, KindEdgeVal
	Stat  string // KindGraphVal, KindNodeVal, KindEdgeVal
}

// GraphValKey addresses a graph-level stat.
func GraphValKey(g, stat string) Key {
	return Key{Graph: g, Kind: KindGraphVal, Stat: stat}
}

// NodeKey addresses a node's existence.
func NodeKey(g, node string) Key {
	return Key{Graph: g, Kind: KindNode, Node: node}
}

// NodeValKey addresses a node stat.
func NodeValKey(g, node, stat string) Key {
	return Key{Graph: g, Kind: KindNodeVal, Node: node, Stat: stat}
}

// EdgeKey addresses an edge's existence.
func EdgeKey(g string, e EdgeRef) Key {
	return Key{Graph: g, Kind: KindEdge, Edge: e}
}

// EdgeValKey addresses an edge stat.
func EdgeValKey(g string, e EdgeRef, stat string) Key {
	return Key{Graph: g, Kind: KindEdgeVal, Edge: e, Stat: stat}
}

func (k Key) String() string {
	switch k.Kind {
	case KindGraphVal:
		return fmt.Sprintf("%s.%s", k.Graph, k.Stat)
	case KindNode:
		return fmt.Sprintf("%s/%s", k.Graph, k.Node)
	case KindNodeVal:
		return fmt.Sprintf("%s/%s.%s", k.Graph, k.Node, k.Stat)
	case KindEdge:
		return fmt.Sprintf("%s/%s", k.Graph, k.Edge)
	case KindEdgeVal:
		return fmt.Sprintf("%s/%s.%s", k.Graph, k.Edge, k.Stat)
	default:
		return fmt.Sprintf("%s?%s", k.Graph, k.Kind)
	}
}
