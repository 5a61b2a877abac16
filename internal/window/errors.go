package window

import (
	"errors"
	"fmt"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
)

// ErrNotFound means no record exists at or before the queried time
// anywhere in the branch ancestry: the key was never set.
var ErrNotFound = errors.New("no record at or before time")

// ErrAbsent means the latest record at or before the queried time is a
// tombstone: the key was set and then deleted. Distinct from ErrNotFound
// so callers can tell "never existed" from "explicitly removed".
var ErrAbsent = errors.New("tombstoned at time")

// ErrTimeCollision means a second write landed on the exact same
// (key, branch, turn, tick) as an unflushed record. Two causally
// unordered writers must never silently overwrite each other.
var ErrTimeCollision = errors.New("write collides with existing record")

// NotFoundError carries the key and time of a failed retrieval.
type NotFoundError struct {
	Key  graph.Key
	Time chrono.Time
	// Deleted is true when a tombstone was found rather than nothing.
	Deleted bool
}

func (e *NotFoundError) Error() string {
	if e.Deleted {
		return fmt.Sprintf("%s deleted as of %s", e.Key, e.Time)
	}
	return fmt.Sprintf("%s has no record at or before %s", e.Key, e.Time)
}

// Unwrap maps the error onto ErrAbsent or ErrNotFound for errors.Is.
func (e *NotFoundError) Unwrap() error {
	if e.Deleted {
		return ErrAbsent
	}
	return ErrNotFound
}

// TimeError reports a same-timestamp write collision.
type TimeError struct {
	Key  graph.Key
	Time chrono.Time
}

func (e *TimeError) Error() string {
	return fmt.Sprintf("%s already written at %s", e.Key, e.Time)
}

func (e *TimeError) Unwrap() error { return ErrTimeCollision }
