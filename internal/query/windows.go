package query

import "sort"

// Window is a closed turn interval. A nil endpoint is unbounded: nil
// Start reaches back to the beginning of the branch, nil End means
// ongoing.
type Window struct {
	Start *int64
	End   *int64
}

// At returns a pointer to n, for building bounded windows.
func At(n int64) *int64 { return &n }

// Span builds a bounded window.
func Span(start, end int64) Window {
	return Window{Start: At(start), End: At(end)}
}

func startOf(w Window) int64 {
	if w.Start == nil {
		return minTurn
	}
	return *w.Start
}

func endOf(w Window) int64 {
	if w.End == nil {
		return maxTurn
	}
	return *w.End
}

const (
	minTurn = int64(-1) << 62
	maxTurn = int64(1) << 62
)

func sortWindows(ws []Window) {
	sort.SliceStable(ws, func(i, j int) bool {
		if startOf(ws[i]) != startOf(ws[j]) {
			return startOf(ws[i]) < startOf(ws[j])
		}
		return endOf(ws[i]) < endOf(ws[j])
	})
}

// Union returns a minimal window list covering the same turns.
// Windows merge when they overlap or meet at a shared turn: (0,3) and
// (2,5) become (0,5). Windows that merely neighbor without touching
// stay disjoint: (0,1) and (2,nil) do not merge.
func Union(windows []Window) []Window {
	if len(windows) <= 1 {
		return append([]Window(nil), windows...)
	}
	ws := append([]Window(nil), windows...)
	sortWindows(ws)
	res := ws[:1]
	for _, w := range ws[1:] {
		last := res[len(res)-1]
		if endOf(last) >= startOf(w) {
			if endOf(w) > endOf(last) {
				merged := Window{Start: last.Start, End: w.End}
				res[len(res)-1] = merged
			}
			continue
		}
		res = append(res, w)
	}
	return res
}

// Intersection folds every window in the list into their common
// overlap. An empty overlap anywhere yields an empty result:
// [(2,nil),(0,1)] -> []; [(1,2),(0,1)] -> [(1,1)]. A doubly-unbounded
// window is the identity element: [(nil,nil),(a,b)] -> [(a,b)].
func Intersection(windows []Window) []Window {
	if len(windows) <= 1 {
		return append([]Window(nil), windows...)
	}
	ws := append([]Window(nil), windows...)
	sortWindows(ws)
	done := ws[:1]
	for _, w := range ws[1:] {
		last := done[len(done)-1]
		done = done[:len(done)-1]
		if merged, ok := intersect2(last, w); ok {
			done = append(done, merged)
		}
	}
	return done
}

// intersect2 overlaps two windows, preserving unbounded endpoints when
// both sides leave them unbounded.
func intersect2(a, b Window) (Window, bool) {
	var out Window
	switch {
	case a.Start == nil && b.Start == nil:
		out.Start = nil
	case a.Start == nil:
		out.Start = b.Start
	case b.Start == nil:
		out.Start = a.Start
	default:
		if *a.Start >= *b.Start {
			out.Start = a.Start
		} else {
			out.Start = b.Start
		}
	}
	switch {
	case a.End == nil && b.End == nil:
		out.End = nil
	case a.End == nil:
		out.End = b.End
	case b.End == nil:
		out.End = a.End
	default:
		if *a.End <= *b.End {
			out.End = a.End
		} else {
			out.End = b.End
		}
	}
	if out.Start != nil && out.End != nil && *out.Start > *out.End {
		return Window{}, false
	}
	return out, true
}

// IntersectSets intersects two window sets pairwise and unions the
// overlaps: the AND of two already-evaluated query results.
func IntersectSets(a, b []Window) []Window {
	var out []Window
	for _, wa := range a {
		for _, wb := range b {
			if w, ok := intersect2(wa, wb); ok {
				out = append(out, w)
			}
		}
	}
	return Union(out)
}

// Complement returns the turns of [from, to] not covered by ws.
func Complement(ws []Window, from, to int64) []Window {
	ws = Union(ws)
	var out []Window
	cursor := from
	for _, w := range ws {
		s, e := startOf(w), endOf(w)
		if e < from || s > to {
			continue
		}
		if s > cursor {
			out = append(out, Span(cursor, s-1))
		}
		if e+1 > cursor {
			cursor = e + 1
		}
		if cursor > to {
			return out
		}
	}
	if cursor <= to {
		out = append(out, Span(cursor, to))
	}
	return out
}

// Turns expands a window list into a sorted, deduplicated turn list,
// clamped to [from, to].
func Turns(ws []Window, from, to int64) []int64 {
	seen := make(map[int64]bool)
	for _, w := range Union(ws) {
		s, e := startOf(w), endOf(w)
		if s < from {
			s = from
		}
		if e > to {
			e = to
		}
		for t := s; t <= e; t++ {
			seen[t] = true
		}
	}
	out := make([]int64, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
