package graph

import (
	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

// ValuePair holds the before and after of a changed key.
type ValuePair struct {
	Old value.Value
	New value.Value
}

// Delta is the minimal per-key difference between two points in time.
// A key appears in at most one of the three maps.
type Delta struct {
	Added   map[Key]value.Value
	Removed map[Key]value.Value // value at the earlier time
	Changed map[Key]ValuePair
}

// NewDelta returns an empty delta.
func NewDelta() *Delta {
	return &Delta{
		Added:   make(map[Key]value.Value),
		Removed: make(map[Key]value.Value),
		Changed: make(map[Key]ValuePair),
	}
}

// Empty reports whether the delta contains no differences.
func (d *Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Len returns the number of differing keys.
func (d *Delta) Len() int {
	return len(d.Added) + len(d.Removed) + len(d.Changed)
}

// Record classifies one key's transition. Either side may be nil,
// meaning the key did not exist at that time.
func (d *Delta) Record(k Key, old, new value.Value) {
	switch {
	case old == nil && new == nil:
		// nothing to record
	case old == nil:
		d.Added[k] = new
	case new == nil:
		d.Removed[k] = old
	case !value.Equal(old, new):
		d.Changed[k] = ValuePair{Old: old, New: new}
	}
}

// Equal reports whether two deltas describe the same differences.
func (d *Delta) Equal(o *Delta) bool {
	if len(d.Added) != len(o.Added) || len(d.Removed) != len(o.Removed) || len(d.Changed) != len(o.Changed) {
		return false
	}
	for k, v := range d.Added {
		ov, ok := o.Added[k]
		if !ok || !value.Equal(v, ov) {
			return false
		}
	}
	for k, v := range d.Removed {
		ov, ok := o.Removed[k]
		if !ok || !value.Equal(v, ov) {
			return false
		}
	}
	for k, p := range d.Changed {
		op, ok := o.Changed[k]
		if !ok || !value.Equal(p.Old, op.Old) || !value.Equal(p.New, op.New) {
			return false
		}
	}
	return true
}
