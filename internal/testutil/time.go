// Package testutil provides shared helpers for tests across the store.
package testutil

import (
	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
)

// At builds a trunk time, the common case in tests.
func At(turn, tick int64) chrono.Time {
	return chrono.Time{Branch: chrono.Trunk, Turn: turn, Tick: tick}
}

// AtBranch builds a time on a named branch.
func AtBranch(branch string, turn, tick int64) chrono.Time {
	return chrono.Time{Branch: branch, Turn: turn, Tick: tick}
}

// TickSeq hands out monotonically increasing ticks within one turn.
//
// Tests that write several records to the same turn use it to avoid
// caring about exact tick values. The first call to Next() returns 1,
// leaving tick 0 for keyframes.
type TickSeq struct {
	tick int64
}

// Next increments and returns the next tick.
func (s *TickSeq) Next() int64 {
	s.tick++
	return s.tick
}

// Current returns the last handed-out tick without incrementing.
func (s *TickSeq) Current() int64 {
	return s.tick
}

// Reset rewinds the sequence, for reuse across turns.
func (s *TickSeq) Reset() {
	s.tick = 0
}
