// Package keyframe stores periodic full-state snapshots, bounding how
// far back any reconstruction has to replay. Frames are held encoded;
// decoded states live in an LRU so memory stays bounded no matter how
// many frames a long game accumulates.
package keyframe

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/metrics"
)

// DefaultDecodedFrames is the default LRU capacity for decoded states.
const DefaultDecodedFrames = 64

// Frame is one stored snapshot position with its encoded payload.
type Frame struct {
	Turn    int64
	Tick    int64
	Payload []byte
}

type frameKey struct {
	graph  string
	branch string
}

type decodedKey struct {
	graph  string
	branch string
	turn   int64
	tick   int64
}

// Store is the keyframe index. Shared read-only by the delta and query
// engines; the engine is its sole writer.
type Store struct {
	mu      sync.RWMutex
	lineage *chrono.Lineage
	frames  map[frameKey][]Frame
	decoded *lru.Cache[decodedKey, *graph.State]
	mets    metrics.Collector
}

// New creates an empty keyframe store. decodedCap bounds the decoded
// LRU; zero means DefaultDecodedFrames.
func New(lineage *chrono.Lineage, decodedCap int, mets metrics.Collector) (*Store, error) {
	if decodedCap <= 0 {
		decodedCap = DefaultDecodedFrames
	}
	if mets == nil {
		mets = metrics.Noop{}
	}
	cache, err := lru.New[decodedKey, *graph.State](decodedCap)
	if err != nil {
		return nil, err
	}
	return &Store{
		lineage: lineage,
		frames:  make(map[frameKey][]Frame),
		decoded: cache,
		mets:    mets,
	}, nil
}

// Snapshot stores a keyframe of graphName's state at t.
// Storing a second frame at the same time replaces the first; the state
// at one time is singular.
func (s *Store) Snapshot(graphName string, t chrono.Time, state *graph.State) error {
	payload, err := Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fk := frameKey{graphName, t.Branch}
	frames := s.frames[fk]
	i := sort.Search(len(frames), func(i int) bool {
		return chrono.CmpTurnTick(frames[i].Turn, frames[i].Tick, t.Turn, t.Tick) >= 0
	})
	f := Frame{Turn: t.Turn, Tick: t.Tick, Payload: payload}
	if i < len(frames) && frames[i].Turn == t.Turn && frames[i].Tick == t.Tick {
		frames[i] = f
	} else {
		frames = append(frames, Frame{})
		copy(frames[i+1:], frames[i:])
		frames[i] = f
	}
	s.frames[fk] = frames
	s.decoded.Add(decodedKey{graphName, t.Branch, t.Turn, t.Tick}, state.Clone())
	s.mets.KeyframeStored()
	return nil
}

// Load installs an already-encoded frame read back from the gateway.
func (s *Store) Load(graphName, branch string, f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fk := frameKey{graphName, branch}
	frames := s.frames[fk]
	i := sort.Search(len(frames), func(i int) bool {
		return chrono.CmpTurnTick(frames[i].Turn, frames[i].Tick, f.Turn, f.Tick) >= 0
	})
	if i < len(frames) && frames[i].Turn == f.Turn && frames[i].Tick == f.Tick {
		return
	}
	frames = append(frames, Frame{})
	copy(frames[i+1:], frames[i:])
	frames[i] = f
	s.frames[fk] = frames
}

// NearestAtOrBefore finds the closest keyframe of graphName at or
// before t, searching t's branch first and then ancestors at or before
// their fork points. Returns the decoded state (cloned for the caller),
// the frame's time, and ok=false when no frame bounds t.
func (s *Store) NearestAtOrBefore(graphName string, t chrono.Time) (*graph.State, chrono.Time, bool) {
	s.mu.RLock()
	chain := s.lineage.Ancestry(t)
	var (
		found   Frame
		foundAt chrono.Time
		ok      bool
	)
	for _, at := range chain {
		frames := s.frames[frameKey{graphName, at.Branch}]
		i := sort.Search(len(frames), func(i int) bool {
			return chrono.CmpTurnTick(frames[i].Turn, frames[i].Tick, at.Turn, at.Tick) > 0
		})
		if i > 0 {
			found = frames[i-1]
			foundAt = chrono.Time{Branch: at.Branch, Turn: found.Turn, Tick: found.Tick}
			ok = true
			break
		}
	}
	s.mu.RUnlock()
	if !ok {
		return nil, chrono.Time{}, false
	}

	dk := decodedKey{graphName, foundAt.Branch, foundAt.Turn, foundAt.Tick}
	if state, hit := s.decoded.Get(dk); hit {
		return state.Clone(), foundAt, true
	}
	state, err := Unmarshal(found.Payload)
	if err != nil {
		// A frame we wrote ourselves cannot fail to decode; a corrupt
		// loaded frame is treated as missing so replay falls back to
		// an earlier bound.
		return nil, chrono.Time{}, false
	}
	s.decoded.Add(dk, state)
	return state.Clone(), foundAt, true
}

// Has reports whether any frame exists for (graph, branch) at or before t.
func (s *Store) Has(graphName string, t chrono.Time) bool {
	_, _, ok := s.NearestAtOrBefore(graphName, t)
	return ok
}

// Frames returns the stored frame index for (graph, branch), for
// persistence walks. The returned slice must not be mutated.
func (s *Store) Frames(graphName, branch string) []Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frames[frameKey{graphName, branch}]
}

// Graphs returns every graph name with at least one frame.
func (s *Store) Graphs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for fk := range s.frames {
		if !seen[fk.graph] {
			seen[fk.graph] = true
			out = append(out, fk.graph)
		}
	}
	sort.Strings(out)
	return out
}
