package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/keyframe"
	"github.com/TacticalMetaphysics/eidetic/internal/plan"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
	"github.com/TacticalMetaphysics/eidetic/internal/window"
)

// Cursor position keys in the global table, restored on cold start.
const (
	globalBranch = "branch"
	globalTurn   = "turn"
	globalTick   = "tick"
)

// Flush hands every unflushed committed record, plus the dirty
// bookkeeping around it, to the gateway worker. It returns once the
// batches are queued; gateway errors surface on Commit or Close.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked()
}

// Commit flushes and then blocks until the worker has drained, so any
// deferred gateway error comes back here.
func (e *Engine) Commit(ctx context.Context) error {
	e.mu.Lock()
	err := e.flushLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	return e.worker.Commit(ctx)
}

func (e *Engine) flushLocked() error {
	e.globals[globalBranch] = e.cursor.Branch
	e.globals[globalTurn] = strconv.FormatInt(e.cursor.Turn, 10)
	e.globals[globalTick] = strconv.FormatInt(e.cursor.Tick, 10)
	e.dirtyGlobals[globalBranch] = true
	e.dirtyGlobals[globalTurn] = true
	e.dirtyGlobals[globalTick] = true

	batches := make(map[string][][]any)
	for name := range e.dirtyBranches {
		b, ok := e.lineage.Get(name)
		if !ok {
			continue
		}
		parent := any(nil)
		if b.Parent != "" {
			parent = b.Parent
		}
		batches["branches"] = append(batches["branches"],
			[]any{b.Name, parent, b.ParentTurn, b.ParentTick, b.EndTurn, b.EndTick})
	}
	for ref := range e.dirtyTurns {
		m, ok := e.turns.Get(ref.branch, ref.turn)
		if !ok {
			continue
		}
		batches["turns"] = append(batches["turns"],
			[]any{ref.branch, ref.turn, m.EndTick, m.PlanEndTick})
	}
	for g := range e.dirtyGraphs {
		batches["graphs"] = append(batches["graphs"], []any{g, "DiGraph"})
	}
	for k := range e.dirtyGlobals {
		batches["global"] = append(batches["global"], []any{k, e.globals[k]})
	}
	for id, start := range e.newPlans {
		batches["plans"] = append(batches["plans"],
			[]any{id, start.Branch, start.Turn, start.Tick})
	}
	for _, fr := range e.newFrames {
		found := false
		for _, f := range e.frames.Frames(fr.graph, fr.time.Branch) {
			if f.Turn == fr.time.Turn && f.Tick == fr.time.Tick {
				batches["keyframes"] = append(batches["keyframes"],
					[]any{fr.graph, fr.time.Branch, fr.time.Turn, fr.time.Tick, string(f.Payload)})
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("keyframe %s at %s vanished before flush", fr.graph, fr.time)
		}
	}

	pending := e.hist.Unflushed(e.sched.Flushable)
	for _, p := range pending {
		table, row, err := historyRow(p)
		if err != nil {
			return err
		}
		batches[table] = append(batches[table], row)
		if p.Record.Plan != "" {
			batches["plan_ticks"] = append(batches["plan_ticks"],
				[]any{p.Record.Plan, p.Branch, p.Record.Turn, p.Record.Tick, int64(0)})
		}
	}
	batches["plan_ticks"] = append(batches["plan_ticks"], e.planTickRows...)

	for _, table := range flushOrder {
		rows := batches[table]
		if len(rows) == 0 {
			continue
		}
		if err := e.worker.EnqueueInsert(table, rows); err != nil {
			return fmt.Errorf("enqueue %s: %w", table, err)
		}
	}
	e.mets.FlushBatch(len(pending))

	e.hist.MarkFlushed(pending)
	for _, p := range pending {
		if p.Record.Plan != "" {
			e.sched.MarkFlushed(p.Record.Plan,
				p.Key, chrono.Time{Branch: p.Branch, Turn: p.Record.Turn, Tick: p.Record.Tick})
		}
	}
	e.dirtyBranches = make(map[string]bool)
	e.dirtyTurns = make(map[turnRef]bool)
	e.dirtyGraphs = make(map[string]bool)
	e.dirtyGlobals = make(map[string]bool)
	e.newFrames = nil
	e.newPlans = make(map[string]chrono.Time)
	e.planTickRows = nil
	return nil
}

// flushOrder keeps parents-before-children and bookkeeping-before-log,
// so a crash between batches leaves a loadable database.
var flushOrder = []string{
	"global", "graphs", "branches", "turns", "plans",
	"keyframes", "graph_val", "nodes", "node_val", "edges", "edge_val",
	"plan_ticks",
}

func historyRow(p window.PendingRecord) (string, []any, error) {
	var val any
	if !p.Record.Absent && p.Record.Value != nil {
		enc, err := value.Encode(p.Record.Value)
		if err != nil {
			return "", nil, fmt.Errorf("encode %s: %w", p.Key, err)
		}
		val = string(enc)
	}
	absent := int64(0)
	extant := int64(1)
	if p.Record.Absent {
		absent = 1
		extant = 0
	}
	k := p.Key
	switch k.Kind {
	case graph.KindGraphVal:
		return "graph_val", []any{k.Graph, k.Stat, p.Branch, p.Record.Turn, p.Record.Tick, val, absent, p.Record.Plan}, nil
	case graph.KindNode:
		return "nodes", []any{k.Graph, k.Node, p.Branch, p.Record.Turn, p.Record.Tick, extant, p.Record.Plan}, nil
	case graph.KindNodeVal:
		return "node_val", []any{k.Graph, k.Node, k.Stat, p.Branch, p.Record.Turn, p.Record.Tick, val, absent, p.Record.Plan}, nil
	case graph.KindEdge:
		return "edges", []any{k.Graph, k.Edge.Orig, k.Edge.Dest, k.Edge.Idx, p.Branch, p.Record.Turn, p.Record.Tick, extant, p.Record.Plan}, nil
	case graph.KindEdgeVal:
		return "edge_val", []any{k.Graph, k.Edge.Orig, k.Edge.Dest, k.Edge.Idx, k.Stat, p.Branch, p.Record.Turn, p.Record.Tick, val, absent, p.Record.Plan}, nil
	default:
		return "", nil, fmt.Errorf("record for %s has no table", k)
	}
}

// Unload flushes, bounds the past with a keyframe at the cursor, and
// evicts g's flushed records from before it. Later reads under the
// cutoff reload from the gateway on demand.
func (e *Engine) Unload(ctx context.Context, g string) error {
	e.mu.Lock()
	if !e.graphs[g] {
		e.mu.Unlock()
		return fmt.Errorf("graph %q does not exist", g)
	}
	if err := e.snapshotLocked(g); err != nil {
		e.mu.Unlock()
		return err
	}
	err := e.flushLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.worker.Commit(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.hist.UnloadBefore(g, e.cursor)
	e.mu.Unlock()
	return nil
}

// planTick identifies one durable plan step row.
type planTick struct {
	plan   string
	branch string
	turn   int64
	tick   int64
}

// loadWindowLocked reloads g's durable records after an Unload evicted
// them. Records already cached are skipped, so reloading is idempotent.
func (e *Engine) loadWindowLocked(g, branch string) error {
	ctx := context.Background()
	voided, err := e.loadPlanTicks(ctx)
	if err != nil {
		return err
	}
	if err := e.loadHistoryTables(ctx, g, voided, nil); err != nil {
		return err
	}
	e.hist.MarkLoaded(g, branch, 0, int64(1)<<60)
	return nil
}

// loadAll is the cold-start path: rebuild every cache from the durable
// log, in dependency order.
func (e *Engine) loadAll(ctx context.Context) error {
	rows, err := e.worker.Dump(ctx, "global")
	if err != nil {
		return err
	}
	for _, r := range rows {
		e.globals[asStr(r[0])] = asStr(r[1])
	}

	rows, err = e.worker.Dump(ctx, "graphs")
	if err != nil {
		return err
	}
	for _, r := range rows {
		e.graphs[asStr(r[0])] = true
	}

	rows, err = e.worker.Dump(ctx, "branches")
	if err != nil {
		return err
	}
	// Parents may sort after children; take passes until stable.
	remaining := rows
	for len(remaining) > 0 {
		var next [][]any
		for _, r := range remaining {
			name := asStr(r[0])
			parent := asStr(r[1])
			if parent == "" {
				e.lineage.Extend(name, asInt(r[4]), asInt(r[5]))
				continue
			}
			if !e.lineage.Exists(parent) {
				next = append(next, r)
				continue
			}
			if err := e.lineage.Register(name, parent, asInt(r[2]), asInt(r[3])); err != nil {
				return fmt.Errorf("load branch %q: %w", name, err)
			}
			e.lineage.Extend(name, asInt(r[4]), asInt(r[5]))
		}
		if len(next) == len(remaining) {
			return fmt.Errorf("branch table has %d rows with unknown parents", len(next))
		}
		remaining = next
	}

	rows, err = e.worker.Dump(ctx, "turns")
	if err != nil {
		return err
	}
	for _, r := range rows {
		e.turns.Set(asStr(r[0]), asInt(r[1]),
			chrono.TurnMarker{EndTick: asInt(r[2]), PlanEndTick: asInt(r[3])})
	}

	voided, err := e.loadPlanTicks(ctx)
	if err != nil {
		return err
	}

	rows, err = e.worker.Dump(ctx, "keyframes")
	if err != nil {
		return err
	}
	for _, r := range rows {
		e.frames.Load(asStr(r[0]), asStr(r[1]),
			keyframe.Frame{Turn: asInt(r[2]), Tick: asInt(r[3]), Payload: []byte(asStr(r[4]))})
	}

	planSteps := make(map[string][]plan.Step)
	if err := e.loadHistoryTables(ctx, "", voided, func(pt planTick, k graph.Key, vd bool) {
		planSteps[pt.plan] = append(planSteps[pt.plan], plan.Step{
			Key:     k,
			Time:    chrono.Time{Branch: pt.branch, Turn: pt.turn, Tick: pt.tick},
			Flushed: true,
			Voided:  vd,
		})
	}); err != nil {
		return err
	}

	rows, err = e.worker.Dump(ctx, "plans")
	if err != nil {
		return err
	}
	for _, r := range rows {
		id := asStr(r[0])
		e.sched.Restore(id,
			chrono.Time{Branch: asStr(r[1]), Turn: asInt(r[2]), Tick: asInt(r[3])},
			planSteps[id])
	}

	for g := range e.graphs {
		for _, b := range e.lineage.All() {
			e.hist.MarkLoaded(g, b.Name, 0, int64(1)<<60)
		}
	}

	if b, ok := e.globals[globalBranch]; ok && e.lineage.Exists(b) {
		turn, _ := strconv.ParseInt(e.globals[globalTurn], 10, 64)
		tick, _ := strconv.ParseInt(e.globals[globalTick], 10, 64)
		e.cursor = chrono.Time{Branch: b, Turn: turn, Tick: tick}
	}
	return nil
}

// loadPlanTicks dumps the plan step log and returns the voided set.
func (e *Engine) loadPlanTicks(ctx context.Context) (map[planTick]bool, error) {
	rows, err := e.worker.Dump(ctx, "plan_ticks")
	if err != nil {
		return nil, err
	}
	voided := make(map[planTick]bool)
	for _, r := range rows {
		if asInt(r[4]) != 0 {
			voided[planTick{plan: asStr(r[0]), branch: asStr(r[1]), turn: asInt(r[2]), tick: asInt(r[3])}] = true
		}
	}
	return voided, nil
}

// loadHistoryTables replays the five history tables into the cache.
// onlyGraph filters when non-empty. Rows belonging to a voided plan
// step are observed (for plan restore) but never loaded. onStep, when
// set, receives every plan-tagged row.
func (e *Engine) loadHistoryTables(ctx context.Context, onlyGraph string, voided map[planTick]bool, onStep func(planTick, graph.Key, bool)) error {
	load := func(table string, decode func(r []any) (graph.Key, window.Record, string)) error {
		rows, err := e.worker.Dump(ctx, table)
		if err != nil {
			return err
		}
		for _, r := range rows {
			k, rec, branch := decode(r)
			if onlyGraph != "" && k.Graph != onlyGraph {
				continue
			}
			vd := false
			if rec.Plan != "" {
				pt := planTick{plan: rec.Plan, branch: branch, turn: rec.Turn, tick: rec.Tick}
				vd = voided[pt]
				if onStep != nil {
					onStep(pt, k, vd)
				}
			}
			if vd {
				continue
			}
			e.hist.LoadRecord(k, branch, rec)
		}
		return nil
	}

	if err := load("graph_val", func(r []any) (graph.Key, window.Record, string) {
		return graph.GraphValKey(asStr(r[0]), asStr(r[1])),
			decodeRecord(r[3], r[4], r[5], r[6], r[7]), asStr(r[2])
	}); err != nil {
		return err
	}
	if err := load("nodes", func(r []any) (graph.Key, window.Record, string) {
		return graph.NodeKey(asStr(r[0]), asStr(r[1])),
			decodeExtant(r[3], r[4], r[5], r[6]), asStr(r[2])
	}); err != nil {
		return err
	}
	if err := load("node_val", func(r []any) (graph.Key, window.Record, string) {
		return graph.NodeValKey(asStr(r[0]), asStr(r[1]), asStr(r[2])),
			decodeRecord(r[4], r[5], r[6], r[7], r[8]), asStr(r[3])
	}); err != nil {
		return err
	}
	if err := load("edges", func(r []any) (graph.Key, window.Record, string) {
		ref := graph.EdgeRef{Orig: asStr(r[1]), Dest: asStr(r[2]), Idx: asInt(r[3])}
		return graph.EdgeKey(asStr(r[0]), ref),
			decodeExtant(r[5], r[6], r[7], r[8]), asStr(r[4])
	}); err != nil {
		return err
	}
	return load("edge_val", func(r []any) (graph.Key, window.Record, string) {
		ref := graph.EdgeRef{Orig: asStr(r[1]), Dest: asStr(r[2]), Idx: asInt(r[3])}
		return graph.EdgeValKey(asStr(r[0]), ref, asStr(r[4])),
			decodeRecord(r[6], r[7], r[8], r[9], r[10]), asStr(r[5])
	})
}

// decodeRecord builds a cache record from a value-table row's tail
// columns (turn, tick, value, absent, plan).
func decodeRecord(turn, tick, val, absent, planID any) window.Record {
	rec := window.Record{Turn: asInt(turn), Tick: asInt(tick), Plan: asStr(planID)}
	if asInt(absent) != 0 {
		rec.Absent = true
		return rec
	}
	if v, err := value.Decode([]byte(asStr(val))); err == nil {
		rec.Value = v
	}
	return rec
}

// decodeExtant builds a cache record from an existence-table row's
// tail columns (turn, tick, extant, plan).
func decodeExtant(turn, tick, extant, planID any) window.Record {
	rec := window.Record{Turn: asInt(turn), Tick: asInt(tick), Plan: asStr(planID)}
	if asInt(extant) == 0 {
		rec.Absent = true
	} else {
		rec.Value = value.Bool(true)
	}
	return rec
}

func asStr(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	case nil:
		return 0
	default:
		return 0
	}
}
