package harness

import (
	"context"
	"fmt"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/engine"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

// TraceEvent is one executed step with the time it landed at.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Op     string `json:"op"`
	Target string `json:"target,omitempty"`
	Branch string `json:"branch"`
	Turn   int64  `json:"turn"`
	Tick   int64  `json:"tick"`
}

// Result carries the executed trace and the engine for assertions.
type Result struct {
	Trace  []TraceEvent
	engine *engine.Engine
}

// Run executes the scenario against a fresh in-memory engine and
// checks its assertions. The engine stays open in the result; callers
// own shutdown via Close.
func Run(s *Scenario) (*Result, error) {
	eng, err := engine.New(engine.Options{Path: ":memory:"})
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	res := &Result{engine: eng}
	var scope *engine.PlanScope
	for i, st := range s.Steps {
		target, err := res.apply(eng, &scope, st)
		if err != nil {
			eng.Close(context.Background())
			return nil, fmt.Errorf("scenario %s: step %d (%s): %w", s.Name, i, st.Op, err)
		}
		at := eng.Time()
		res.Trace = append(res.Trace, TraceEvent{
			Seq: i + 1, Op: st.Op, Target: target,
			Branch: at.Branch, Turn: at.Turn, Tick: at.Tick,
		})
	}
	for i, a := range s.Assertions {
		if err := res.check(eng, a); err != nil {
			eng.Close(context.Background())
			return nil, fmt.Errorf("scenario %s: assertion %d: %w", s.Name, i, err)
		}
	}
	return res, nil
}

// Close shuts the scenario's engine down.
func (r *Result) Close() error {
	return r.engine.Close(context.Background())
}

func (r *Result) apply(eng *engine.Engine, scope **engine.PlanScope, st Step) (string, error) {
	ref := graph.EdgeRef{Orig: st.Orig, Dest: st.Dest, Idx: st.Idx}
	switch st.Op {
	case OpAddGraph:
		return st.Graph, eng.AddGraph(st.Graph)
	case OpAddNode:
		return st.Graph + "/" + st.Node, eng.AddNode(st.Graph, st.Node)
	case OpRemoveNode:
		return st.Graph + "/" + st.Node, eng.RemoveNode(st.Graph, st.Node)
	case OpAddEdge:
		return st.Graph + "/" + ref.String(), eng.AddEdge(st.Graph, ref)
	case OpRemoveEdge:
		return st.Graph + "/" + ref.String(), eng.RemoveEdge(st.Graph, ref)
	case OpMirrorEdge:
		return st.Graph + "/" + ref.String(), eng.MirrorEdge(st.Graph, ref)
	case OpSetGraphStat:
		v, ok := value.FromAny(st.Value)
		if !ok {
			return "", fmt.Errorf("unrepresentable value %v", st.Value)
		}
		return st.Graph + "." + st.Stat, eng.SetGraphStat(st.Graph, st.Stat, v)
	case OpSetNodeStat:
		v, ok := value.FromAny(st.Value)
		if !ok {
			return "", fmt.Errorf("unrepresentable value %v", st.Value)
		}
		return st.Graph + "/" + st.Node + "." + st.Stat, eng.SetNodeStat(st.Graph, st.Node, st.Stat, v)
	case OpSetEdgeStat:
		v, ok := value.FromAny(st.Value)
		if !ok {
			return "", fmt.Errorf("unrepresentable value %v", st.Value)
		}
		return st.Graph + "/" + ref.String() + "." + st.Stat, eng.SetEdgeStat(st.Graph, ref, st.Stat, v)
	case OpDelNodeStat:
		return st.Graph + "/" + st.Node + "." + st.Stat, eng.DelNodeStat(st.Graph, st.Node, st.Stat)
	case OpNextTurn:
		eng.NextTurn()
		return "", nil
	case OpSetTurn:
		return fmt.Sprintf("turn %d", st.Turn), eng.SetTurn(st.Turn)
	case OpFork:
		return st.Branch, eng.Fork(st.Branch)
	case OpBeginPlan:
		if *scope != nil {
			return "", fmt.Errorf("plan scope already open")
		}
		sc, err := eng.BeginPlan()
		if err != nil {
			return "", err
		}
		*scope = sc
		return "", nil
	case OpCommitPlan:
		if *scope == nil {
			return "", fmt.Errorf("no open plan scope")
		}
		err := (*scope).Commit()
		*scope = nil
		return "", err
	case OpAbortPlan:
		if *scope == nil {
			return "", fmt.Errorf("no open plan scope")
		}
		(*scope).Abort()
		*scope = nil
		return "", nil
	case OpSnapshot:
		return st.Graph, eng.Snapshot(st.Graph)
	case OpFlush:
		return "", eng.Commit(context.Background())
	default:
		return "", fmt.Errorf("unknown op %q", st.Op)
	}
}

func (r *Result) check(eng *engine.Engine, a Assertion) error {
	ref := graph.EdgeRef{Orig: a.Orig, Dest: a.Dest, Idx: a.Idx}
	switch a.Type {
	case "graph_stat":
		return checkStat(a, func() (value.Value, error) { return eng.GraphStat(a.Graph, a.Stat) })
	case "node_stat":
		return checkStat(a, func() (value.Value, error) { return eng.NodeStat(a.Graph, a.Node, a.Stat) })
	case "edge_stat":
		return checkStat(a, func() (value.Value, error) { return eng.EdgeStat(a.Graph, ref, a.Stat) })
	case "node_exists":
		got, err := eng.NodeExists(a.Graph, a.Node)
		if err != nil {
			return err
		}
		if got != a.Exists {
			return fmt.Errorf("node %s/%s: exists=%v, want %v", a.Graph, a.Node, got, a.Exists)
		}
		return nil
	case "edge_exists":
		got, err := eng.EdgeExists(a.Graph, ref)
		if err != nil {
			return err
		}
		if got != a.Exists {
			return fmt.Errorf("edge %s/%s: exists=%v, want %v", a.Graph, ref, got, a.Exists)
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func checkStat(a Assertion, read func() (value.Value, error)) error {
	got, err := read()
	if a.Absent {
		if err == nil {
			return fmt.Errorf("%s: expected absent, got %v", a.Stat, value.ToAny(got))
		}
		return nil
	}
	if err != nil {
		return err
	}
	want, ok := value.FromAny(a.Equals)
	if !ok {
		return fmt.Errorf("%s: unrepresentable expectation %v", a.Stat, a.Equals)
	}
	if !value.Equal(got, want) {
		return fmt.Errorf("%s: got %v, want %v", a.Stat, value.ToAny(got), a.Equals)
	}
	return nil
}

// Time reports the engine's cursor, for tests that assert on position.
func (r *Result) Time() chrono.Time {
	return r.engine.Time()
}
