// Package window implements the windowed history cache: one ordered
// value timeline per entity key per branch, with binary-search point
// reads that fall back through the branch ancestry. It is the source of
// truth between flushes; the gateway only ever sees what passed through
// here first.
package window

import (
	"sort"
	"sync"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/metrics"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
)

// Record is one recorded change to one key at one time within a branch.
type Record struct {
	Turn  int64
	Tick  int64
	Value value.Value
	// Absent marks a tombstone: the key reads as deleted from here on.
	Absent bool
	// Plan tags speculative writes with their plan id; empty for
	// committed writes.
	Plan string
	// Flushed is set once the record has been handed to the gateway.
	// Insert rejects a same-timestamp collision either way; re-loading
	// a flushed record through LoadRecord is the only tolerated
	// duplicate.
	Flushed bool
}

// timeline is a (turn, tick)-sorted run of records for one key on one
// branch. Appends at the tail are the common case; writes to the past
// insert in the middle.
type timeline struct {
	recs []Record
}

// search returns the index of the first record strictly after (turn, tick).
func (tl *timeline) search(turn, tick int64) int {
	return sort.Search(len(tl.recs), func(i int) bool {
		return chrono.CmpTurnTick(tl.recs[i].Turn, tl.recs[i].Tick, turn, tick) > 0
	})
}

// latestAtOrBefore returns the most recent record at or before (turn, tick).
func (tl *timeline) latestAtOrBefore(turn, tick int64) (Record, bool) {
	i := tl.search(turn, tick)
	if i == 0 {
		return Record{}, false
	}
	return tl.recs[i-1], true
}

// History is the windowed history cache. It exclusively owns its loaded
// (branch, window) record runs and is their sole writer. Reads
// reconstruct from the immutable record slices, so concurrent tail
// appends never invalidate an in-flight read at an earlier time.
type History struct {
	mu      sync.RWMutex
	lineage *chrono.Lineage
	keys    map[graph.Key]map[string]*timeline
	spans   map[spanKey][]span
	mets    metrics.Collector
}

type spanKey struct {
	graph  string
	branch string
}

// span is a loaded window of turns, inclusive on both ends.
type span struct {
	fromTurn, toTurn int64
}

// New creates an empty history over the given lineage.
func New(lineage *chrono.Lineage, mets metrics.Collector) *History {
	if mets == nil {
		mets = metrics.Noop{}
	}
	return &History{
		lineage: lineage,
		keys:    make(map[graph.Key]map[string]*timeline),
		spans:   make(map[spanKey][]span),
		mets:    mets,
	}
}

// Retrieve returns the value in effect for k at t: the latest record at
// or before t on t's branch, else recursively in ancestors at or before
// their fork points. Tombstones surface as ErrAbsent, never-set keys as
// ErrNotFound, both via *NotFoundError.
func (h *History) Retrieve(k graph.Key, t chrono.Time) (value.Value, error) {
	rec, ok := h.RetrieveRecord(k, t)
	if !ok {
		h.mets.CacheMiss()
		return nil, &NotFoundError{Key: k, Time: t}
	}
	h.mets.CacheHit()
	if rec.Absent {
		return nil, &NotFoundError{Key: k, Time: t, Deleted: true}
	}
	return rec.Value, nil
}

// RetrieveRecord is Retrieve without tombstone interpretation: it
// returns the governing record itself, tombstone or not.
func (h *History) RetrieveRecord(k graph.Key, t chrono.Time) (Record, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	branches, ok := h.keys[k]
	if !ok {
		return Record{}, false
	}
	for _, at := range h.lineage.Ancestry(t) {
		tl, ok := branches[at.Branch]
		if !ok {
			continue
		}
		if rec, ok := tl.latestAtOrBefore(at.Turn, at.Tick); ok {
			return rec, true
		}
	}
	return Record{}, false
}

// Insert records a new value for k at t. A second write to the same
// (key, branch, turn, tick) while the first is unflushed fails with a
// *TimeError; causally unordered writers must collide loudly.
func (h *History) Insert(k graph.Key, t chrono.Time, v value.Value, absent bool, planID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	tl := h.timelineFor(k, t.Branch)
	i := tl.search(t.Turn, t.Tick)
	if i > 0 {
		prev := tl.recs[i-1]
		// Flushed or not: replacing a same-timestamp record would either
		// silently reorder causally unordered writers or rewrite the log.
		if prev.Turn == t.Turn && prev.Tick == t.Tick {
			return &TimeError{Key: k, Time: t}
		}
	}
	rec := Record{Turn: t.Turn, Tick: t.Tick, Value: v, Absent: absent, Plan: planID}
	tl.recs = append(tl.recs, Record{})
	copy(tl.recs[i+1:], tl.recs[i:])
	tl.recs[i] = rec
	return nil
}

// LoadRecord installs a record read back from the gateway. Records
// already cached at the same timestamp are left alone: the log is
// append-only, so they cannot disagree.
func (h *History) LoadRecord(k graph.Key, branch string, rec Record) {
	rec.Flushed = true
	h.mu.Lock()
	defer h.mu.Unlock()
	tl := h.timelineFor(k, branch)
	i := tl.search(rec.Turn, rec.Tick)
	if i > 0 {
		prev := tl.recs[i-1]
		if prev.Turn == rec.Turn && prev.Tick == rec.Tick {
			return
		}
	}
	tl.recs = append(tl.recs, Record{})
	copy(tl.recs[i+1:], tl.recs[i:])
	tl.recs[i] = rec
}

// Remove deletes the exact record at t, if present. Used by plan
// voiding and scope rollback. Flushed committed history is immutable
// and is refused; flushed plan records may still be voided, the
// gateway records the void as a marker row rather than a rewrite.
func (h *History) Remove(k graph.Key, t chrono.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	branches, ok := h.keys[k]
	if !ok {
		return false
	}
	tl, ok := branches[t.Branch]
	if !ok {
		return false
	}
	i := tl.search(t.Turn, t.Tick)
	if i == 0 {
		return false
	}
	rec := tl.recs[i-1]
	if rec.Turn != t.Turn || rec.Tick != t.Tick {
		return false
	}
	if rec.Flushed && rec.Plan == "" {
		return false
	}
	tl.recs = append(tl.recs[:i-1], tl.recs[i:]...)
	return true
}

func (h *History) timelineFor(k graph.Key, branch string) *timeline {
	branches, ok := h.keys[k]
	if !ok {
		branches = make(map[string]*timeline)
		h.keys[k] = branches
	}
	tl, ok := branches[branch]
	if !ok {
		tl = &timeline{}
		branches[branch] = tl
	}
	return tl
}

// TurnBefore returns the nearest turn strictly before turn that has a
// record visible from the given branch.
func (h *History) TurnBefore(k graph.Key, branch string, turn int64) (int64, bool) {
	return h.nearestTurn(k, branch, turn, false)
}

// TurnAfter returns the nearest turn strictly after turn that has a
// record visible from the given branch.
func (h *History) TurnAfter(k graph.Key, branch string, turn int64) (int64, bool) {
	return h.nearestTurn(k, branch, turn, true)
}

func (h *History) nearestTurn(k graph.Key, branch string, turn int64, after bool) (int64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	branches, ok := h.keys[k]
	if !ok {
		return 0, false
	}
	// Visibility from (branch, maxTurn, maxTick) per ancestry entry:
	// all records at or before the clamp.
	best := int64(0)
	found := false
	top := chrono.Time{Branch: branch, Turn: int64(1) << 62, Tick: int64(1) << 62}
	for _, at := range h.lineage.Ancestry(top) {
		tl, ok := branches[at.Branch]
		if !ok {
			continue
		}
		limit := tl.search(at.Turn, at.Tick)
		for _, rec := range tl.recs[:limit] {
			if after {
				if rec.Turn > turn && (!found || rec.Turn < best) {
					best, found = rec.Turn, true
				}
			} else {
				if rec.Turn < turn && (!found || rec.Turn > best) {
					best, found = rec.Turn, true
				}
			}
		}
	}
	return best, found
}

// EachRecord calls fn for every record of k visible from `to` with
// time in (from, to]: from exclusive, to inclusive. Only from's turn
// and tick matter; from is a plain time bound, so records at or before
// it on any segment of to's ancestry are skipped as already folded
// into whatever state the caller replays from. Each ancestor segment
// stays clamped at its fork point, so a bound below the fork still
// lets the inherited parent run through. Records arrive in ascending
// time order per segment, oldest segment first, so folding them in
// order reproduces the view at `to`.
func (h *History) EachRecord(k graph.Key, from, to chrono.Time, fn func(branch string, rec Record)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	branches, ok := h.keys[k]
	if !ok {
		return
	}
	chain := h.lineage.Ancestry(to)
	// Ancestry runs child -> ancestor; emit ancestors first.
	for i := len(chain) - 1; i >= 0; i-- {
		at := chain[i]
		tl, ok := branches[at.Branch]
		if !ok {
			continue
		}
		hi := tl.search(at.Turn, at.Tick)
		for lo := tl.search(from.Turn, from.Tick); lo < hi; lo++ {
			fn(at.Branch, tl.recs[lo])
		}
	}
}

// Keys returns every key with any cached record.
func (h *History) Keys() []graph.Key {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]graph.Key, 0, len(h.keys))
	for k := range h.keys {
		out = append(out, k)
	}
	return out
}

// Unflushed returns all records not yet handed to the gateway, with
// their key and branch. Plan-tagged records are held back until their
// plan commits: flushable decides, given a plan id, whether that plan's
// records may go durable. Untagged records always flush.
func (h *History) Unflushed(flushable func(planID string) bool) []PendingRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []PendingRecord
	for k, branches := range h.keys {
		for branch, tl := range branches {
			for _, rec := range tl.recs {
				if rec.Flushed {
					continue
				}
				if rec.Plan != "" && (flushable == nil || !flushable(rec.Plan)) {
					continue
				}
				out = append(out, PendingRecord{Key: k, Branch: branch, Record: rec})
			}
		}
	}
	return out
}

// PendingRecord pairs a record with its address for flushing.
type PendingRecord struct {
	Key    graph.Key
	Branch string
	Record Record
}

// MarkFlushed flags records returned by Unflushed as durable.
// Call only after the gateway batch has been accepted.
func (h *History) MarkFlushed(pending []PendingRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range pending {
		branches, ok := h.keys[p.Key]
		if !ok {
			continue
		}
		tl, ok := branches[p.Branch]
		if !ok {
			continue
		}
		i := tl.search(p.Record.Turn, p.Record.Tick)
		if i > 0 && tl.recs[i-1].Turn == p.Record.Turn && tl.recs[i-1].Tick == p.Record.Tick {
			tl.recs[i-1].Flushed = true
		}
	}
}

// MarkLoaded records that the gateway has populated (graph, branch) for
// the inclusive turn window [fromTurn, toTurn].
func (h *History) MarkLoaded(graphName, branch string, fromTurn, toTurn int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sk := spanKey{graphName, branch}
	spans := append(h.spans[sk], span{fromTurn, toTurn})
	sort.Slice(spans, func(i, j int) bool { return spans[i].fromTurn < spans[j].fromTurn })
	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.fromTurn <= last.toTurn+1 {
			if s.toTurn > last.toTurn {
				last.toTurn = s.toTurn
			}
		} else {
			merged = append(merged, s)
		}
	}
	h.spans[sk] = merged
}

// Loaded reports whether (graph, branch) is cached at the given turn.
func (h *History) Loaded(graphName, branch string, turn int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.spans[spanKey{graphName, branch}] {
		if s.fromTurn <= turn && turn <= s.toTurn {
			return true
		}
	}
	return false
}

// UnloadBefore evicts flushed records of graphName strictly before the
// cutoff on its branch, and trims the loaded-span bookkeeping. The
// caller must flush first and must have materialized a keyframe at or
// after the cutoff; unflushed records are never dropped.
func (h *History) UnloadBefore(graphName string, cutoff chrono.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k, branches := range h.keys {
		if k.Graph != graphName {
			continue
		}
		tl, ok := branches[cutoff.Branch]
		if !ok {
			continue
		}
		kept := tl.recs[:0]
		for _, rec := range tl.recs {
			before := chrono.CmpTurnTick(rec.Turn, rec.Tick, cutoff.Turn, cutoff.Tick) < 0
			if before && rec.Flushed {
				continue
			}
			kept = append(kept, rec)
		}
		tl.recs = kept
	}
	sk := spanKey{graphName, cutoff.Branch}
	var trimmed []span
	for _, s := range h.spans[sk] {
		if s.toTurn < cutoff.Turn {
			continue
		}
		if s.fromTurn < cutoff.Turn {
			s.fromTurn = cutoff.Turn
		}
		trimmed = append(trimmed, s)
	}
	h.spans[sk] = trimmed
}
