package chrono

import "fmt"

// Time is the three-part logical clock position: branch, turn, tick.
//
// Ordering within a branch is lexicographic on (turn, tick). Cross-branch
// ordering is defined by Lineage: a child branch's times sort after its
// fork point in the parent.
type Time struct {
	Branch string
	Turn   int64
	Tick   int64
}

// String formats the time as branch@turn.tick for logs and errors.
func (t Time) String() string {
	return fmt.Sprintf("%s@%d.%d", t.Branch, t.Turn, t.Tick)
}

// Before reports whether t is strictly earlier than o, same branch assumed.
func (t Time) Before(o Time) bool {
	if t.Turn != o.Turn {
		return t.Turn < o.Turn
	}
	return t.Tick < o.Tick
}

// After reports whether t is strictly later than o, same branch assumed.
func (t Time) After(o Time) bool {
	return o.Before(t)
}

// AtOrBefore reports whether t is at or earlier than o, same branch assumed.
func (t Time) AtOrBefore(o Time) bool {
	return !o.Before(t)
}

// CmpTurnTick compares two (turn, tick) pairs lexicographically.
func CmpTurnTick(turnA, tickA, turnB, tickB int64) int {
	switch {
	case turnA < turnB:
		return -1
	case turnA > turnB:
		return 1
	case tickA < tickB:
		return -1
	case tickA > tickB:
		return 1
	default:
		return 0
	}
}
