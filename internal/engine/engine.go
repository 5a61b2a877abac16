// Package engine is the consumer-facing façade over the temporal graph
// store: it stamps mutations with the time cursor, routes them through
// the windowed history cache, schedules flushes to the gateway worker,
// and exposes the delta, query, and plan engines.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/delta"
	"github.com/TacticalMetaphysics/eidetic/internal/gateway"
	"github.com/TacticalMetaphysics/eidetic/internal/keyframe"
	"github.com/TacticalMetaphysics/eidetic/internal/metrics"
	"github.com/TacticalMetaphysics/eidetic/internal/plan"
	"github.com/TacticalMetaphysics/eidetic/internal/query"
	"github.com/TacticalMetaphysics/eidetic/internal/window"
)

// Options configures an Engine.
type Options struct {
	// Path is the gateway database path; ":memory:" for ephemeral use.
	Path string
	// KeyframeInterval requests an automatic keyframe every N turns of
	// cursor advancement per graph. Zero disables automatic snapshots;
	// branch forks and unloads still materialize them.
	KeyframeInterval int64
	// DecodedKeyframes bounds the decoded-snapshot LRU.
	DecodedKeyframes int
	// Metrics receives store events; nil means none.
	Metrics metrics.Collector
}

// Engine owns the whole store. One Engine per database; safe for
// concurrent readers, with mutations serialized by the engine lock.
type Engine struct {
	mu sync.Mutex

	opts    Options
	lineage *chrono.Lineage
	turns   *chrono.Turns
	hist    *window.History
	frames  *keyframe.Store
	deltas  *delta.Engine
	queries *query.Engine
	sched   *plan.Scheduler
	worker  *gateway.Worker
	mets    metrics.Collector

	cursor     chrono.Time
	activePlan string
	graphs     map[string]bool

	// Dirty bookkeeping awaiting the next flush.
	dirtyBranches map[string]bool
	dirtyTurns    map[turnRef]bool
	dirtyGraphs   map[string]bool
	dirtyGlobals  map[string]bool
	newFrames     []frameRef
	newPlans      map[string]chrono.Time
	planTickRows  [][]any
	globals       map[string]string

	// Turn of the last automatic keyframe, per graph.
	lastAutoFrame map[string]int64
}

type turnRef struct {
	branch string
	turn   int64
}

type frameRef struct {
	graph string
	time  chrono.Time
}

// New opens the store at opts.Path, starts the gateway worker, and
// populates the caches from the durable log.
func New(opts Options) (*Engine, error) {
	if opts.Path == "" {
		opts.Path = ":memory:"
	}
	mets := opts.Metrics
	if mets == nil {
		mets = metrics.Noop{}
	}
	store, err := gateway.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open gateway: %w", err)
	}
	lineage := chrono.NewLineage()
	hist := window.New(lineage, mets)
	frames, err := keyframe.New(lineage, opts.DecodedKeyframes, mets)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("keyframe store: %w", err)
	}
	e := &Engine{
		opts:          opts,
		lineage:       lineage,
		turns:         chrono.NewTurns(),
		hist:          hist,
		frames:        frames,
		deltas:        delta.New(hist, frames, lineage),
		queries:       query.NewEngine(hist),
		sched:         plan.NewScheduler(hist, mets),
		worker:        gateway.NewWorker(store, mets),
		mets:          mets,
		cursor:        chrono.Time{Branch: chrono.Trunk},
		graphs:        make(map[string]bool),
		dirtyBranches: make(map[string]bool),
		dirtyTurns:    make(map[turnRef]bool),
		dirtyGraphs:   make(map[string]bool),
		dirtyGlobals:  make(map[string]bool),
		newPlans:      make(map[string]chrono.Time),
		globals:       make(map[string]string),
		lastAutoFrame: make(map[string]int64),
	}
	if err := e.loadAll(context.Background()); err != nil {
		e.worker.Shutdown(context.Background())
		return nil, fmt.Errorf("cold-start load: %w", err)
	}
	slog.Info("engine ready", "path", opts.Path, "graphs", len(e.graphs))
	return e, nil
}

// Close flushes everything pending and shuts the worker down. The
// error includes any deferred gateway failure; in-memory state stays
// authoritative regardless.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.activePlan != "" {
		e.mu.Unlock()
		return &plan.Error{PlanID: e.activePlan, Message: "close with open plan scope"}
	}
	err := e.flushLocked()
	e.mu.Unlock()
	serr := e.worker.Shutdown(ctx)
	if err != nil {
		return err
	}
	return serr
}

// Time returns the cursor position.
func (e *Engine) Time() chrono.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// SetTime moves the read/write position. It never mutates history; the
// target branch must exist (use Fork to create one).
func (e *Engine) SetTime(t chrono.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t.Turn < 0 || t.Tick < 0 {
		return fmt.Errorf("time %s: turn and tick must be non-negative", t)
	}
	if !e.lineage.Exists(t.Branch) {
		return fmt.Errorf("branch %q does not exist; fork it first", t.Branch)
	}
	e.cursor = t
	return nil
}

// SetTurn moves the cursor to the start of a turn on its branch.
func (e *Engine) SetTurn(turn int64) error {
	t := e.Time()
	t.Turn = turn
	t.Tick = 0
	return e.SetTime(t)
}

// NextTurn advances the cursor one turn, tick zero.
func (e *Engine) NextTurn() chrono.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cursor.Turn++
	e.cursor.Tick = 0
	e.maybeAutoFrameLocked()
	return e.cursor
}

// Fork creates a branch at the cursor and moves the cursor onto it.
// Every known graph gets a keyframe copying the parent state at the
// fork point, so reads on the child never replay past it.
func (e *Engine) Fork(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activePlan != "" {
		return &plan.Error{PlanID: e.activePlan, Message: "fork inside plan scope"}
	}
	at := e.cursor
	if err := e.lineage.Register(name, at.Branch, at.Turn, at.Tick); err != nil {
		return err
	}
	e.dirtyBranches[name] = true
	for g := range e.graphs {
		state := e.deltas.StateAt(g, at)
		ft := chrono.Time{Branch: name, Turn: at.Turn, Tick: at.Tick}
		if err := e.frames.Snapshot(g, ft, state); err != nil {
			return fmt.Errorf("fork keyframe for %q: %w", g, err)
		}
		e.newFrames = append(e.newFrames, frameRef{graph: g, time: ft})
		e.hist.MarkLoaded(g, name, 0, int64(1)<<60)
	}
	e.cursor = chrono.Time{Branch: name, Turn: at.Turn, Tick: at.Tick}
	slog.Info("branch forked", "branch", name, "parent", at.Branch, "turn", at.Turn, "tick", at.Tick)
	return nil
}

// Branches lists the lineage.
func (e *Engine) Branches() []chrono.Branch {
	return e.lineage.All()
}

// SetGlobal stores an engine-level eternal setting.
func (e *Engine) SetGlobal(key, val string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.globals[key] = val
	e.dirtyGlobals[key] = true
}

// Global reads an engine-level eternal setting.
func (e *Engine) Global(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.globals[key]
	return v, ok
}

// maybeAutoFrameLocked snapshots graphs whose last keyframe is more
// than KeyframeInterval turns behind the cursor.
func (e *Engine) maybeAutoFrameLocked() {
	if e.opts.KeyframeInterval <= 0 {
		return
	}
	for g := range e.graphs {
		last, ok := e.lastAutoFrame[g]
		if ok && e.cursor.Turn-last < e.opts.KeyframeInterval {
			continue
		}
		if err := e.snapshotLocked(g); err != nil {
			slog.Error("automatic keyframe failed", "graph", g, "error", err)
			continue
		}
		e.lastAutoFrame[g] = e.cursor.Turn
	}
}

// Snapshot materializes a keyframe of g at the cursor.
func (e *Engine) Snapshot(g string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(g)
}

func (e *Engine) snapshotLocked(g string) error {
	if !e.graphs[g] {
		return fmt.Errorf("graph %q does not exist", g)
	}
	state := e.deltas.StateAt(g, e.cursor)
	if err := e.frames.Snapshot(g, e.cursor, state); err != nil {
		return err
	}
	e.newFrames = append(e.newFrames, frameRef{graph: g, time: e.cursor})
	return nil
}
