package chrono

import "sync"

// TurnMarker records the last tick written in a (branch, turn), split
// into committed writes (EndTick) and plan-scheduled writes (PlanEndTick).
// PlanEndTick >= EndTick always.
type TurnMarker struct {
	EndTick     int64
	PlanEndTick int64
}

type turnKey struct {
	branch string
	turn   int64
}

// Turns tracks per-(branch, turn) end markers.
// Safe for concurrent use.
type Turns struct {
	mu      sync.RWMutex
	markers map[turnKey]TurnMarker
}

// NewTurns creates an empty marker table.
func NewTurns() *Turns {
	return &Turns{markers: make(map[turnKey]TurnMarker)}
}

// Get returns the marker for (branch, turn); ok is false if the turn has
// never been written.
func (t *Turns) Get(branch string, turn int64) (TurnMarker, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.markers[turnKey{branch, turn}]
	return m, ok
}

// Extend advances the committed end marker; plan markers never trail
// committed ones.
func (t *Turns) Extend(branch string, turn, tick int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := turnKey{branch, turn}
	m := t.markers[k]
	if tick > m.EndTick {
		m.EndTick = tick
	}
	if m.PlanEndTick < m.EndTick {
		m.PlanEndTick = m.EndTick
	}
	t.markers[k] = m
}

// ExtendPlan advances only the plan end marker.
func (t *Turns) ExtendPlan(branch string, turn, tick int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := turnKey{branch, turn}
	m := t.markers[k]
	if tick > m.PlanEndTick {
		m.PlanEndTick = tick
	}
	t.markers[k] = m
}

// Set installs a marker verbatim, used during cold-start load.
func (t *Turns) Set(branch string, turn int64, m TurnMarker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markers[turnKey{branch, turn}] = m
}

// Each calls fn for every marker. Order is unspecified.
func (t *Turns) Each(fn func(branch string, turn int64, m TurnMarker)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for k, m := range t.markers {
		fn(k.branch, k.turn, m)
	}
}
