package value

// Value is a sealed interface over the types a stat may hold.
// Only Null, Int, Float, Str, Bool, Bytes, List, and Map implement it.
// Values are treated as immutable once stored in a history cache; callers
// must not mutate a List or Map after handing it to the store.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null represents an explicitly stored null.
// Distinct from a tombstone: a Null stat exists and reads as null,
// a tombstoned stat reads as absent.
type Null struct{}

func (Null) value() {}

// Int is a 64-bit integer stat value.
type Int int64

func (Int) value() {}

// Float is a 64-bit float stat value.
type Float float64

func (Float) value() {}

// Str is a string stat value.
type Str string

func (Str) value() {}

// Bool is a boolean stat value.
type Bool bool

func (Bool) value() {}

// Bytes is an opaque binary stat value.
type Bytes []byte

func (Bytes) value() {}

// List is an ordered collection of Values.
type List []Value

func (List) value() {}

// Map is a string-keyed collection of Values.
// Use Encode for deterministic serialization; map iteration order is
// never relied upon.
type Map map[string]Value

func (Map) value() {}

// NewInt creates an Int value.
func NewInt(n int64) Int { return Int(n) }

// NewFloat creates a Float value.
func NewFloat(f float64) Float { return Float(f) }

// NewStr creates a Str value.
func NewStr(s string) Str { return Str(s) }

// NewBool creates a Bool value.
func NewBool(b bool) Bool { return Bool(b) }

// NewBytes creates a Bytes value from a copy of b.
func NewBytes(b []byte) Bytes {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Bytes(cp)
}

// Equal reports whether two Values are semantically equal.
// Equality is defined over the canonical encoding, so Int(1) != Float(1):
// a stat that changes representation changes value.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ea, errA := Encode(a)
	eb, errB := Encode(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ea) == string(eb)
}

// FromAny converts plain Go data (as produced by yaml/json/cue decoding)
// into a Value. Unsupported types return false.
func FromAny(v any) (Value, bool) {
	switch val := v.(type) {
	case nil:
		return Null{}, true
	case Value:
		return val, true
	case string:
		return Str(val), true
	case int:
		return Int(val), true
	case int64:
		return Int(val), true
	case float64:
		return Float(val), true
	case float32:
		return Float(val), true
	case bool:
		return Bool(val), true
	case []byte:
		return Bytes(val), true
	case []any:
		lst := make(List, len(val))
		for i, elem := range val {
			ev, ok := FromAny(elem)
			if !ok {
				return nil, false
			}
			lst[i] = ev
		}
		return lst, true
	case map[string]any:
		m := make(Map, len(val))
		for k, elem := range val {
			ev, ok := FromAny(elem)
			if !ok {
				return nil, false
			}
			m[k] = ev
		}
		return m, true
	default:
		return nil, false
	}
}

// ToAny converts a Value back to plain Go data, for handing to encoders
// that do not know the sealed types.
func ToAny(v Value) any {
	switch val := v.(type) {
	case Null:
		return nil
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case Str:
		return string(val)
	case Bool:
		return bool(val)
	case Bytes:
		return []byte(val)
	case List:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Map:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}
