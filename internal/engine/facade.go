package engine

import (
	"fmt"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/plan"
	"github.com/TacticalMetaphysics/eidetic/internal/query"
)

// PlanScope is the engine-level handle on an open plan. Writes made
// while it is open are speculative: visible to reads immediately, held
// from the gateway until Commit, rolled back wholesale on Abort.
type PlanScope struct {
	eng   *Engine
	scope *plan.Scope
}

// BeginPlan opens a plan scope at the cursor. Scopes do not nest.
func (e *Engine) BeginPlan() (*PlanScope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.activePlan != "" {
		return nil, &plan.Error{PlanID: e.activePlan, Message: "plan scope already open"}
	}
	sc := e.sched.Begin(e.cursor)
	e.activePlan = sc.ID()
	return &PlanScope{eng: e, scope: sc}, nil
}

// ID returns the plan id.
func (ps *PlanScope) ID() string { return ps.scope.ID() }

// Commit finalizes the scope; its surviving steps flush with the next
// Flush and stay contradictable by later committed writes.
func (ps *PlanScope) Commit() error {
	ps.eng.mu.Lock()
	defer ps.eng.mu.Unlock()
	if err := ps.scope.Commit(); err != nil {
		return err
	}
	if p, ok := ps.eng.sched.Get(ps.scope.ID()); ok {
		ps.eng.newPlans[p.ID] = p.Start
	}
	ps.eng.activePlan = ""
	return nil
}

// Abort rolls back every write recorded under the scope. Safe after
// Commit (then a no-op), so it can sit in a defer.
func (ps *PlanScope) Abort() {
	ps.eng.mu.Lock()
	defer ps.eng.mu.Unlock()
	ps.scope.Abort()
	if ps.eng.activePlan == ps.scope.ID() {
		ps.eng.activePlan = ""
	}
}

// Plan returns a snapshot of a plan's bookkeeping.
func (e *Engine) Plan(id string) (plan.Plan, bool) {
	return e.sched.Get(id)
}

// SnapshotDelta computes the net difference between two times using the
// touched-key walk, falling back to keyframe-bounded replay only for
// the endpoint states it needs.
func (e *Engine) SnapshotDelta(g string, from, to chrono.Time) (*graph.Delta, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.graphs[g] {
		return nil, fmt.Errorf("graph %q does not exist", g)
	}
	if err := e.ensureLoadedLocked(g); err != nil {
		return nil, err
	}
	return e.deltas.Fast(g, from, to)
}

// TurnsWhen evaluates a historical query over [fromTurn, toTurn] on the
// cursor's branch. With midTurn set, a condition holding at any tick of
// a turn counts; otherwise only the turn's final state does.
func (e *Engine) TurnsWhen(q query.Query, fromTurn, toTurn int64, midTurn bool) []int64 {
	e.mu.Lock()
	branch := e.cursor.Branch
	e.mu.Unlock()
	return e.queries.TurnsWhen(q, branch, fromTurn, toTurn, midTurn)
}
