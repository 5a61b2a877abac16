package engine

import (
	"fmt"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

// AddGraph creates a named graph. Creation is eternal bookkeeping, not
// a timed record; an empty keyframe at the cursor bounds replay so
// early reads never walk before the graph existed.
func (e *Engine) AddGraph(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.graphs[name] {
		return fmt.Errorf("graph %q already exists", name)
	}
	e.graphs[name] = true
	e.dirtyGraphs[name] = true
	ft := chrono.Time{Branch: e.cursor.Branch, Turn: e.cursor.Turn, Tick: e.cursor.Tick}
	if err := e.frames.Snapshot(name, ft, graph.NewState()); err != nil {
		return err
	}
	e.newFrames = append(e.newFrames, frameRef{graph: name, time: ft})
	e.hist.MarkLoaded(name, e.cursor.Branch, 0, int64(1)<<60)
	e.lastAutoFrame[name] = e.cursor.Turn
	return nil
}

// HasGraph reports whether the named graph exists.
func (e *Engine) HasGraph(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.graphs[name]
}

// Graphs lists every known graph name.
func (e *Engine) Graphs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.graphs))
	for g := range e.graphs {
		out = append(out, g)
	}
	return out
}

// AddNode records a node as extant from the cursor's time onward.
func (e *Engine) AddNode(g, node string) error {
	return e.write(g, graph.NodeKey(g, node), value.Bool(true), false)
}

// RemoveNode tombstones a node. Its stats stop resolving from here on;
// edges touching it must be removed by the caller.
func (e *Engine) RemoveNode(g, node string) error {
	return e.write(g, graph.NodeKey(g, node), nil, true)
}

// AddEdge records an edge as extant from the cursor's time onward.
func (e *Engine) AddEdge(g string, ref graph.EdgeRef) error {
	return e.write(g, graph.EdgeKey(g, ref), value.Bool(true), false)
}

// RemoveEdge tombstones an edge.
func (e *Engine) RemoveEdge(g string, ref graph.EdgeRef) error {
	return e.write(g, graph.EdgeKey(g, ref), nil, true)
}

// SetGraphStat writes a graph-level stat at the cursor.
func (e *Engine) SetGraphStat(g, stat string, v value.Value) error {
	return e.write(g, graph.GraphValKey(g, stat), v, false)
}

// DelGraphStat tombstones a graph-level stat.
func (e *Engine) DelGraphStat(g, stat string) error {
	return e.write(g, graph.GraphValKey(g, stat), nil, true)
}

// SetNodeStat writes a node stat at the cursor.
func (e *Engine) SetNodeStat(g, node, stat string, v value.Value) error {
	return e.write(g, graph.NodeValKey(g, node, stat), v, false)
}

// DelNodeStat tombstones a node stat.
func (e *Engine) DelNodeStat(g, node, stat string) error {
	return e.write(g, graph.NodeValKey(g, node, stat), nil, true)
}

// SetEdgeStat writes an edge stat at the cursor.
func (e *Engine) SetEdgeStat(g string, ref graph.EdgeRef, stat string, v value.Value) error {
	return e.write(g, graph.EdgeValKey(g, ref, stat), v, false)
}

// DelEdgeStat tombstones an edge stat.
func (e *Engine) DelEdgeStat(g string, ref graph.EdgeRef, stat string) error {
	return e.write(g, graph.EdgeValKey(g, ref, stat), nil, true)
}

// MirrorEdge marks ref as reading through its reverse edge's stats.
// Mirrors are plain edge stats, so they version, branch and flush like
// any other write.
func (e *Engine) MirrorEdge(g string, ref graph.EdgeRef) error {
	if err := e.AddEdge(g, ref); err != nil {
		return err
	}
	return e.SetEdgeStat(g, ref, mirrorStat, value.Bool(true))
}

// mirrorStat is the reserved edge stat naming a mirror edge. Read
// accessors resolve stats of a mirror through the reversed edge.
const mirrorStat = "mirror_of"

// write stamps one record at the cursor's branch and turn, on the next
// free tick. Committed writes contradict overlapping plans; writes
// inside a plan scope are tagged and held from durability until the
// scope commits.
func (e *Engine) write(g string, k graph.Key, v value.Value, absent bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.graphs[g] {
		return fmt.Errorf("graph %q does not exist", g)
	}
	m, _ := e.turns.Get(e.cursor.Branch, e.cursor.Turn)
	tick := m.PlanEndTick + 1
	if e.cursor.Tick > tick {
		tick = e.cursor.Tick
	}
	t := chrono.Time{Branch: e.cursor.Branch, Turn: e.cursor.Turn, Tick: tick}
	if err := e.hist.Insert(k, t, v, absent, e.activePlan); err != nil {
		return err
	}
	if e.activePlan != "" {
		if err := e.sched.Record(e.activePlan, k, t); err != nil {
			e.hist.Remove(k, t)
			return err
		}
		e.turns.ExtendPlan(t.Branch, t.Turn, t.Tick)
	} else {
		e.turns.Extend(t.Branch, t.Turn, t.Tick)
		e.lineage.Extend(t.Branch, t.Turn, t.Tick)
		for _, vs := range e.sched.Contradict(k, t) {
			if vs.Flushed {
				e.planTickRows = append(e.planTickRows,
					[]any{vs.PlanID, vs.Time.Branch, vs.Time.Turn, vs.Time.Tick, int64(1)})
			}
		}
	}
	e.cursor.Tick = tick
	e.dirtyBranches[t.Branch] = true
	e.dirtyTurns[turnRef{branch: t.Branch, turn: t.Turn}] = true
	return nil
}
