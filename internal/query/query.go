// Package query evaluates boolean historical predicates ("was stat X
// equal to stat Y between turn A and B") by interval algebra over
// reconstructed value timelines. Each side of a comparison becomes a
// step function over logical time; the two are merge-joined, the
// operator runs on each overlap, and the true overlaps union into the
// answer.
package query

import (
	"sort"
	"strings"

	"github.com/TacticalMetaphysics/eidetic/internal/chrono"
	"github.com/TacticalMetaphysics/eidetic/internal/graph"
	"github.com/TacticalMetaphysics/eidetic/internal/value"
	"github.com/TacticalMetaphysics/eidetic/internal/window"
)

// Op is a comparison operator.
type Op int

const (
	OpEQ Op = iota + 1
	OpNE
	OpLT
	OpLE
	OpGT
	OpGE
)

func (o Op) String() string {
	switch o {
	case OpEQ:
		return "=="
	case OpNE:
		return "!="
	case OpLT:
		return "<"
	case OpLE:
		return "<="
	case OpGT:
		return ">"
	case OpGE:
		return ">="
	default:
		return "?"
	}
}

// Side is one side of a comparison: a historical stat or a constant.
type Side interface {
	// segments returns the side's value timeline over the evaluation
	// range as contiguous half-open spans. A span with ok=false means
	// the stat had no defined value there.
	segments(ctx *evalCtx) []segment
}

// Stat addresses a recorded stat's timeline.
type Stat struct {
	Key graph.Key
}

// Historical returns an accessor for a recorded stat.
func Historical(k graph.Key) Stat { return Stat{Key: k} }

// Const wraps a fixed value as a comparison side.
type Const struct {
	Value value.Value
}

// Constant returns a time-invariant side.
func Constant(v value.Value) Const { return Const{Value: v} }

// Query is an evaluated-on-demand predicate over history.
type Query interface {
	// Windows returns the closed turn windows where the predicate
	// holds within the evaluation range.
	Windows(ctx *evalCtx) []Window
}

// Comparison applies Op between two sides.
type Comparison struct {
	Left  Side
	Op    Op
	Right Side
}

// Compare builds a comparison query.
func Compare(left Side, op Op, right Side) *Comparison {
	return &Comparison{Left: left, Op: op, Right: right}
}

// EQ compares two sides for equality.
func EQ(left, right Side) *Comparison { return Compare(left, OpEQ, right) }

// NE compares two sides for inequality.
func NE(left, right Side) *Comparison { return Compare(left, OpNE, right) }

// LT compares left < right.
func LT(left, right Side) *Comparison { return Compare(left, OpLT, right) }

// GT compares left > right.
func GT(left, right Side) *Comparison { return Compare(left, OpGT, right) }

// LE compares left <= right.
func LE(left, right Side) *Comparison { return Compare(left, OpLE, right) }

// GE compares left >= right.
func GE(left, right Side) *Comparison { return Compare(left, OpGE, right) }

// And holds where both subqueries hold. Combines already-evaluated
// result windows; it never re-walks history.
type And struct{ A, B Query }

func (q And) Windows(ctx *evalCtx) []Window {
	return IntersectSets(q.A.Windows(ctx), q.B.Windows(ctx))
}

// Or holds where either subquery holds.
type Or struct{ A, B Query }

func (q Or) Windows(ctx *evalCtx) []Window {
	return Union(append(q.A.Windows(ctx), q.B.Windows(ctx)...))
}

// Not holds where the subquery does not.
type Not struct{ Q Query }

func (q Not) Windows(ctx *evalCtx) []Window {
	return Complement(q.Q.Windows(ctx), ctx.fromTurn, ctx.toTurn)
}

// Engine evaluates queries against the history cache.
type Engine struct {
	hist *window.History
}

// NewEngine creates a query engine over the shared history cache.
func NewEngine(hist *window.History) *Engine {
	return &Engine{hist: hist}
}

// evalCtx carries one evaluation's range and mode.
type evalCtx struct {
	hist     *window.History
	branch   string
	fromTurn int64
	toTurn   int64
	midTurn  bool
}

// TurnsWhen returns the ordered set of turns in [fromTurn, toTurn] on
// branch where q holds. End-of-turn mode compares the values in effect
// at each turn's end; mid-turn mode counts a turn when the predicate
// holds at any point within it. Querying a branch or range never
// recorded yields an empty result, not an error.
func (e *Engine) TurnsWhen(q Query, branch string, fromTurn, toTurn int64, midTurn bool) []int64 {
	if toTurn < fromTurn {
		return nil
	}
	ctx := &evalCtx{hist: e.hist, branch: branch, fromTurn: fromTurn, toTurn: toTurn, midTurn: midTurn}
	return Turns(q.Windows(ctx), fromTurn, toTurn)
}

// point is a (turn, tick) boundary in the merged timeline.
type point struct {
	turn int64
	tick int64
}

func pointLess(a, b point) bool {
	return chrono.CmpTurnTick(a.turn, a.tick, b.turn, b.tick) < 0
}

// segment is one constant-valued span of a side's step function,
// half-open: [start, next segment's start).
type segment struct {
	start point
	val   value.Value
	ok    bool // false when the stat has no value on this span
}

const endTick = int64(1) << 62

func (s Stat) segments(ctx *evalCtx) []segment {
	// Boundaries are the record times visible in range; the range
	// start seeds the walk with whatever was in effect before it.
	var bounds []point
	ctx.hist.EachRecord(s.Key,
		chrono.Time{Branch: ctx.branch, Turn: ctx.fromTurn, Tick: -1},
		chrono.Time{Branch: ctx.branch, Turn: ctx.toTurn, Tick: endTick},
		func(_ string, rec window.Record) {
			p := point{rec.Turn, rec.Tick}
			// Ancestor-branch records can predate the range; the
			// range-start seed already accounts for them.
			if pointLess(p, point{ctx.fromTurn, 0}) {
				return
			}
			bounds = append(bounds, p)
		})
	sort.Slice(bounds, func(a, b int) bool { return pointLess(bounds[a], bounds[b]) })

	segs := make([]segment, 0, len(bounds)+1)
	appendAt := func(p point) {
		at := chrono.Time{Branch: ctx.branch, Turn: p.turn, Tick: p.tick}
		v, err := ctx.hist.Retrieve(s.Key, at)
		segs = append(segs, segment{start: p, val: v, ok: err == nil})
	}
	appendAt(point{ctx.fromTurn, 0})
	for _, b := range bounds {
		if b.turn == ctx.fromTurn && b.tick == 0 {
			continue
		}
		appendAt(b)
	}
	return segs
}

func (c Const) segments(ctx *evalCtx) []segment {
	return []segment{{start: point{ctx.fromTurn, 0}, val: c.Value, ok: c.Value != nil}}
}

// Windows merge-joins the two sides' step functions and evaluates the
// operator on each overlap.
func (c *Comparison) Windows(ctx *evalCtx) []Window {
	left := c.Left.segments(ctx)
	right := c.Right.segments(ctx)

	// Merge boundary points from both sides, keeping them ordered and
	// unique. Both lists start at (fromTurn, 0).
	var bounds []point
	i, j := 0, 0
	for i < len(left) || j < len(right) {
		var next point
		switch {
		case i >= len(left):
			next = right[j].start
			j++
		case j >= len(right):
			next = left[i].start
			i++
		case pointLess(left[i].start, right[j].start):
			next = left[i].start
			i++
		case pointLess(right[j].start, left[i].start):
			next = right[j].start
			j++
		default:
			next = left[i].start
			i++
			j++
		}
		if len(bounds) == 0 || pointLess(bounds[len(bounds)-1], next) {
			bounds = append(bounds, next)
		}
	}

	valueAt := func(segs []segment, p point) (value.Value, bool) {
		// Last segment starting at or before p.
		idx := -1
		for k := range segs {
			if !pointLess(p, segs[k].start) {
				idx = k
			}
		}
		if idx < 0 || !segs[idx].ok {
			return nil, false
		}
		return segs[idx].val, true
	}

	var out []Window
	for bi, b := range bounds {
		lv, lok := valueAt(left, b)
		rv, rok := valueAt(right, b)
		if !lok || !rok || !apply(c.Op, lv, rv) {
			continue
		}
		// Map the true overlap [b, nextBound) onto the turns it
		// covers, honoring the precision mode.
		startTurn := b.turn
		endTurn := ctx.toTurn
		if bi+1 < len(bounds) {
			nb := bounds[bi+1]
			if nb.tick > 0 {
				endTurn = nb.turn
			} else {
				endTurn = nb.turn - 1
			}
		}
		if !ctx.midTurn {
			// End-of-turn: the overlap only counts for turns whose
			// final value falls inside it, i.e. turns it covers
			// through their end. A span ending mid-turn misses that
			// turn's end.
			if bi+1 < len(bounds) && bounds[bi+1].turn == endTurn {
				endTurn--
			}
		}
		if endTurn < startTurn || endTurn < ctx.fromTurn || startTurn > ctx.toTurn {
			continue
		}
		out = append(out, Span(startTurn, endTurn))
	}
	return Union(out)
}

// apply evaluates the operator. Equality is canonical-encoding
// equality; ordering is defined for numbers (Int and Float compare by
// magnitude) and strings, and is false for everything else. An
// undefined side never satisfies any operator, including equality with
// another undefined side.
func apply(op Op, l, r value.Value) bool {
	switch op {
	case OpEQ:
		return value.Equal(l, r)
	case OpNE:
		return !value.Equal(l, r)
	}
	cmp, ok := order(l, r)
	if !ok {
		return false
	}
	switch op {
	case OpLT:
		return cmp < 0
	case OpLE:
		return cmp <= 0
	case OpGT:
		return cmp > 0
	case OpGE:
		return cmp >= 0
	default:
		return false
	}
}

func order(l, r value.Value) (int, bool) {
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if lok && rok {
		switch {
		case lf < rf:
			return -1, true
		case lf > rf:
			return 1, true
		default:
			return 0, true
		}
	}
	ls, lok := l.(value.Str)
	rs, rok := r.(value.Str)
	if lok && rok {
		return strings.Compare(string(ls), string(rs)), true
	}
	return 0, false
}

func asFloat(v value.Value) (float64, bool) {
	switch n := v.(type) {
	case value.Int:
		return float64(n), true
	case value.Float:
		return float64(n), true
	default:
		return 0, false
	}
}
