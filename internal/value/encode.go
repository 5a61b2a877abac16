package value

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Encode produces the canonical serialization of a Value, used both for
// gateway persistence and for value equality.
//
// Properties:
//  1. Map keys sorted bytewise after NFC normalization
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. Floats use the shortest round-trip decimal form
//  5. Bytes are tagged base64 so they survive a JSON round trip
//
// Two Values are equal iff their encodings are byte-identical.
func Encode(v Value) ([]byte, error) {
	var sb strings.Builder
	if err := encode(&sb, v); err != nil {
		return nil, err
	}
	return []byte(sb.String()), nil
}

// bytesTag marks a one-key object as an encoded Bytes value.
// Stat values are arbitrary user data, so the tag is deliberately
// unlikely as a real map key.
const bytesTag = "\x00bytes"

func encode(sb *strings.Builder, v Value) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("cannot encode untyped nil; use value.Null")
	case Null:
		sb.WriteString("null")
	case Int:
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		// Shortest form that round-trips, so equal floats encode equally.
		// A whole float keeps its ".0" so it never collides with the Int
		// encoding: Int(1) and Float(1) are different values.
		s := strconv.FormatFloat(float64(val), 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		sb.WriteString(s)
	case Str:
		encodeString(sb, string(val))
	case Bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case Bytes:
		sb.WriteString(`{`)
		encodeString(sb, bytesTag)
		sb.WriteString(`:`)
		encodeString(sb, base64.StdEncoding.EncodeToString(val))
		sb.WriteString(`}`)
	case List:
		sb.WriteString("[")
		for i, elem := range val {
			if i > 0 {
				sb.WriteString(",")
			}
			if err := encode(sb, elem); err != nil {
				return fmt.Errorf("list[%d]: %w", i, err)
			}
		}
		sb.WriteString("]")
	case Map:
		// Sort by the normalized form but index with the original key;
		// an NFD key still addresses its own entry.
		type mapKey struct{ norm, orig string }
		keys := make([]mapKey, 0, len(val))
		for k := range val {
			keys = append(keys, mapKey{norm.NFC.String(k), k})
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].norm < keys[j].norm })
		sb.WriteString("{")
		for i, k := range keys {
			if i > 0 {
				if keys[i-1].norm == k.norm {
					return fmt.Errorf("map keys %q and %q collide after normalization", keys[i-1].orig, k.orig)
				}
				sb.WriteString(",")
			}
			encodeString(sb, k.norm)
			sb.WriteString(":")
			if err := encode(sb, val[k.orig]); err != nil {
				return fmt.Errorf("map[%q]: %w", k.norm, err)
			}
		}
		sb.WriteString("}")
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

// encodeString writes a JSON string literal with NFC normalization and
// without HTML escaping.
func encodeString(sb *strings.Builder, s string) {
	s = norm.NFC.String(s)
	sb.WriteString(`"`)
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(sb, `\u%04x`, r)
			} else {
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteString(`"`)
}

// Decode parses a canonical encoding back into a Value.
// Integers and floats are distinguished by surface form: a number with
// no '.', 'e' or 'E' decodes as Int.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return fromDecoded(raw)
}

func fromDecoded(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null{}, nil
	case string:
		return Str(val), nil
	case bool:
		return Bool(val), nil
	case json.Number:
		s := val.String()
		if !strings.ContainsAny(s, ".eE") {
			n, err := val.Int64()
			if err != nil {
				return nil, fmt.Errorf("decode int %q: %w", s, err)
			}
			return Int(n), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("decode float %q: %w", s, err)
		}
		return Float(f), nil
	case []any:
		lst := make(List, len(val))
		for i, elem := range val {
			ev, err := fromDecoded(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			lst[i] = ev
		}
		return lst, nil
	case map[string]any:
		if enc, ok := val[bytesTag]; ok && len(val) == 1 {
			s, ok := enc.(string)
			if !ok {
				return nil, fmt.Errorf("bytes tag holds %T, want string", enc)
			}
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("decode bytes: %w", err)
			}
			return Bytes(b), nil
		}
		m := make(Map, len(val))
		for k, elem := range val {
			ev, err := fromDecoded(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			m[k] = ev
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported decoded type %T", raw)
	}
}
