package chrono

import (
	"fmt"
	"sync"
)

// Trunk is the root branch. It is the only branch without a parent.
const Trunk = "trunk"

// Branch describes one timeline in the lineage forest.
type Branch struct {
	Name       string
	Parent     string // empty only for the trunk
	ParentTurn int64  // fork point in the parent
	ParentTick int64
	EndTurn    int64 // latest time written on this branch
	EndTick    int64
}

// ForkPoint returns the branch's position in its parent as a Time.
func (b Branch) ForkPoint() Time {
	return Time{Branch: b.Parent, Turn: b.ParentTurn, Tick: b.ParentTick}
}

// Lineage is the branch forest rooted at the trunk.
//
// It answers ancestry questions for every cache: which branch inherits
// from which, where the fork points are, and where two branches share a
// common ancestor. It is safe for concurrent use; reads vastly outnumber
// writes (a branch is registered once, queried on every retrieval).
type Lineage struct {
	mu       sync.RWMutex
	branches map[string]Branch
}

// NewLineage creates a lineage containing only the trunk.
func NewLineage() *Lineage {
	return &Lineage{
		branches: map[string]Branch{
			Trunk: {Name: Trunk},
		},
	}
}

// Register adds a branch forked from parent at (turn, tick).
// The parent must already exist, and a branch never parents itself.
func (l *Lineage) Register(name, parent string, turn, tick int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if name == parent {
		return fmt.Errorf("branch %q cannot parent itself", name)
	}
	if _, ok := l.branches[parent]; !ok {
		return fmt.Errorf("parent branch %q not registered", parent)
	}
	if prev, ok := l.branches[name]; ok {
		if prev.Parent != parent || prev.ParentTurn != turn || prev.ParentTick != tick {
			return fmt.Errorf("branch %q already registered with a different fork point", name)
		}
		return nil
	}
	l.branches[name] = Branch{
		Name:       name,
		Parent:     parent,
		ParentTurn: turn,
		ParentTick: tick,
		EndTurn:    turn,
		EndTick:    tick,
	}
	return nil
}

// Get returns the branch record, if registered.
func (l *Lineage) Get(name string) (Branch, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.branches[name]
	return b, ok
}

// Exists reports whether the branch is registered.
func (l *Lineage) Exists(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// Extend advances a branch's end marker if (turn, tick) is past it.
func (l *Lineage) Extend(name string, turn, tick int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.branches[name]
	if !ok {
		return
	}
	if CmpTurnTick(turn, tick, b.EndTurn, b.EndTick) > 0 {
		b.EndTurn = turn
		b.EndTick = tick
		l.branches[name] = b
	}
}

// Parent returns the fork point of the branch in its parent.
// ok is false for the trunk and for unregistered branches.
func (l *Lineage) Parent(name string) (Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.branches[name]
	if !ok || b.Parent == "" {
		return Time{}, false
	}
	return b.ForkPoint(), true
}

// Ancestry returns the chain of times from t back to the trunk: t itself,
// then the fork point in each ancestor branch, clamped so each entry is
// at or before the previous one. The first entry is always t.
func (l *Lineage) Ancestry(t Time) []Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.ancestryLocked(t)
}

// IsAncestorOf reports whether branch a is an ancestor of (or equal to) b.
func (l *Lineage) IsAncestorOf(a, b string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cur := b
	for {
		if cur == a {
			return true
		}
		br, ok := l.branches[cur]
		if !ok || br.Parent == "" {
			return false
		}
		cur = br.Parent
	}
}

// CommonAncestor finds the latest branch shared by the ancestries of a
// and b, together with the fork times at which each side leaves it.
// When one branch is an ancestor of the other the shared branch is that
// ancestor itself.
func (l *Lineage) CommonAncestor(a, b Time) (string, Time, Time, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pathA := l.ancestryLocked(a)
	pathB := l.ancestryLocked(b)
	depthA := make(map[string]Time, len(pathA))
	for _, t := range pathA {
		// Keep the first (deepest) occurrence.
		if _, ok := depthA[t.Branch]; !ok {
			depthA[t.Branch] = t
		}
	}
	for _, tb := range pathB {
		if ta, ok := depthA[tb.Branch]; ok {
			return tb.Branch, ta, tb, nil
		}
	}
	return "", Time{}, Time{}, fmt.Errorf("branches %q and %q share no ancestor", a.Branch, b.Branch)
}

func (l *Lineage) ancestryLocked(t Time) []Time {
	chain := []Time{t}
	cur := t
	for {
		b, ok := l.branches[cur.Branch]
		if !ok || b.Parent == "" {
			return chain
		}
		fork := b.ForkPoint()
		// Reads below the fork point see the parent at the asked-for
		// time, not at the fork.
		if CmpTurnTick(cur.Turn, cur.Tick, b.ParentTurn, b.ParentTick) < 0 {
			fork.Turn, fork.Tick = cur.Turn, cur.Tick
		}
		chain = append(chain, fork)
		cur = fork
	}
}

// All returns every registered branch. Order is unspecified.
func (l *Lineage) All() []Branch {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Branch, 0, len(l.branches))
	for _, b := range l.branches {
		out = append(out, b)
	}
	return out
}
