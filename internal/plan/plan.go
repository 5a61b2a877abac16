// Package plan implements speculative multi-turn write scheduling.
// A plan is a scoped batch of future writes applied to the cache
// immediately but held back from durability until the scope commits.
// A later committed write that touches a planned key voids the plan's
// steps from that turn onward: earliest-committed-wins, never
// retroactive.
package plan

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/metrics"
	"github.com/TacticalMetaphysics/eidetic/internal/window"
)

// State is a plan's lifecycle position.
type State int

const (
	// StateOpen means the scope is active and accepting writes.
	StateOpen State = iota + 1
	// StateCommitted means the scope exited cleanly. Future steps can
	// still be voided by contradicting writes.
	StateCommitted
	// StatePartiallyVoided means a contradiction discarded some steps.
	StatePartiallyVoided
	// StateAborted means the scope exited via error and every recorded
	// write was rolled back.
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StatePartiallyVoided:
		return "partially_voided"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrScopeFinalized means an operation hit a scope that already
// committed or aborted.
var ErrScopeFinalized = errors.New("plan scope already finalized")

// Error is a plan-scope consistency violation. The scope that raised
// it aborts without partial application.
type Error struct {
	PlanID  string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("plan %s: %s", e.PlanID, e.Message)
}


// Step is one scheduled write within a plan.
type Step struct {
	Key     graph.Key
	Time    chrono.Time
	Flushed bool
	Voided  bool
}

// Plan tracks one plan's id, state and recorded steps.
type Plan struct {
	ID    string
	Start chrono.Time
	State State
	Steps []Step
}

// Scheduler owns every plan's bookkeeping. The engine routes writes
// through it: plan writes via Record, committed writes via Contradict.
type Scheduler struct {
	mu    sync.Mutex
	hist  *window.History
	mets  metrics.Collector
	plans map[string]*Plan
}

// NewScheduler creates an empty scheduler over the history cache.
func NewScheduler(hist *window.History, mets metrics.Collector) *Scheduler {
	if mets == nil {
		mets = metrics.Noop{}
	}
	return &Scheduler{hist: hist, mets: mets, plans: make(map[string]*Plan)}
}

// Begin opens a plan scope starting at the given time.
func (s *Scheduler) Begin(start chrono.Time) *Scope {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &Plan{ID: uuid.NewString(), Start: start, State: StateOpen}
	s.plans[p.ID] = p
	return &Scope{sched: s, plan: p}
}

// Restore re-registers a committed plan from the durable log during
// cold-start load, so its still-future steps stay contradictable.
// Voided steps arrive pre-marked.
func (s *Scheduler) Restore(planID string, start chrono.Time, steps []Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := StateCommitted
	for _, st := range steps {
		if st.Voided {
			state = StatePartiallyVoided
			break
		}
	}
	s.plans[planID] = &Plan{ID: planID, Start: start, State: state, Steps: steps}
}

// Record registers a step under an open plan, after the cache accepted
// the write. Recording against a finalized scope is a *Error.
func (s *Scheduler) Record(planID string, k graph.Key, t chrono.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return &Error{PlanID: planID, Message: "unknown plan"}
	}
	if p.State != StateOpen {
		return &Error{PlanID: planID, Message: "scope is " + p.State.String()}
	}
	if chrono.CmpTurnTick(t.Turn, t.Tick, p.Start.Turn, p.Start.Tick) < 0 {
		return &Error{PlanID: planID, Message: fmt.Sprintf("step at %s precedes plan start %s", t, p.Start)}
	}
	p.Steps = append(p.Steps, Step{Key: k, Time: t})
	return nil
}

// Flushable reports whether planID's records may go durable: only once
// the scope has committed. Suitable as the predicate for
// window.History.Unflushed.
func (s *Scheduler) Flushable(planID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return false
	}
	return p.State == StateCommitted || p.State == StatePartiallyVoided
}

// Get returns a snapshot of the plan's bookkeeping.
func (s *Scheduler) Get(planID string) (Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return Plan{}, false
	}
	cp := *p
	cp.Steps = append([]Step(nil), p.Steps...)
	return cp, true
}

// VoidedStep reports one discarded step, for gateway void markers when
// the step had already been flushed.
type VoidedStep struct {
	PlanID  string
	Key     graph.Key
	Time    chrono.Time
	Flushed bool
}

// Contradict applies earliest-committed-wins: a committed write to k at
// t voids, in every plan, the steps for k at turns >= t.Turn, rolling
// their records out of the cache. Steps before t's turn stay: a
// contradiction never erases already-committed past state. Returns the
// voided steps.
func (s *Scheduler) Contradict(k graph.Key, t chrono.Time) []VoidedStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	var voided []VoidedStep
	for _, p := range s.plans {
		if p.State == StateAborted {
			continue
		}
		n := 0
		for i := range p.Steps {
			st := &p.Steps[i]
			if st.Voided || st.Key != k || st.Time.Turn < t.Turn {
				continue
			}
			// The contradicting write itself lives at t; a plan record
			// at the exact same timestamp cannot exist (the cache
			// rejects same-time collisions), so every remaining step
			// here is strictly in the plan's future.
			st.Voided = true
			s.hist.Remove(st.Key, st.Time)
			voided = append(voided, VoidedStep{PlanID: p.ID, Key: st.Key, Time: st.Time, Flushed: st.Flushed})
			n++
		}
		if n > 0 {
			if p.State != StateOpen {
				p.State = StatePartiallyVoided
			}
			s.mets.PlanVoided(n)
		}
	}
	return voided
}

// MarkFlushed flags the given steps as durable, so later voids know to
// emit gateway markers.
func (s *Scheduler) MarkFlushed(planID string, k graph.Key, t chrono.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok {
		return
	}
	for i := range p.Steps {
		st := &p.Steps[i]
		if st.Key == k && st.Time == t {
			st.Flushed = true
		}
	}
}

// Scope is the handle a caller holds between begin and end of a plan.
type Scope struct {
	sched *Scheduler
	plan  *Plan
	done  bool
}

// ID returns the plan id writes are tagged with.
func (sc *Scope) ID() string { return sc.plan.ID }

// Commit finalizes the scope. The plan's surviving steps become
// eligible for the next flush.
func (sc *Scope) Commit() error {
	sc.sched.mu.Lock()
	defer sc.sched.mu.Unlock()
	if sc.done {
		return &Error{PlanID: sc.plan.ID, Message: "commit after finalize"}
	}
	sc.done = true
	if sc.plan.State == StateOpen {
		sc.plan.State = StateCommitted
		for _, st := range sc.plan.Steps {
			if st.Voided {
				sc.plan.State = StatePartiallyVoided
				break
			}
		}
	}
	return nil
}

// Abort rolls back exactly the writes recorded since Begin and
// finalizes the scope. Safe to call after Commit (then a no-op), so it
// can sit in a defer.
func (sc *Scope) Abort() {
	sc.sched.mu.Lock()
	defer sc.sched.mu.Unlock()
	if sc.done {
		return
	}
	sc.done = true
	sc.plan.State = StateAborted
	for i := len(sc.plan.Steps) - 1; i >= 0; i-- {
		st := sc.plan.Steps[i]
		if !st.Voided {
			sc.sched.hist.Remove(st.Key, st.Time)
		}
	}
}
