package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a normalized payload value holding exactly one of seven kinds:
// null, bool, int, float, string, list of Value, or map of string to Value.
// The zero Value is null.
//
// Payloads and snapshots are converted into Values at the system boundary
// (wire decode, snapshot decode) so merging and storage never deal with
// arbitrary decoded JSON. Integer and floating-point numbers stay distinct:
// a wire `1` decodes as an int, a wire `1.0` as a float.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Bool returns a bool Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int returns an int Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a float Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String returns a string Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List returns a list Value holding the given items.
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Map returns a map Value holding the given fields. The map is retained, not
// copied.
func Map(fields map[string]Value) Value { return Value{kind: KindMap, m: fields} }

// Kind reports which variant the Value holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the Value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Field returns the named entry of a map Value. The second return is false
// for missing fields and for non-map Values.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	f, ok := v.m[name]
	return f, ok
}

// Text renders a scalar Value as a string: strings as themselves, numbers in
// decimal, bools as "true"/"false". Null, lists and maps report false.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, true
	case KindInt:
		return strconv.FormatInt(v.i, 10), true
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64), true
	case KindBool:
		return strconv.FormatBool(v.b), true
	default:
		return "", false
	}
}

// Equal reports deep equality of two Values. Kinds must match exactly; an
// int never equals a float.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, f := range v.m {
			of, ok := o.m[k]
			if !ok || !f.Equal(of) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON renders the Value in its wire/storage JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %d", int(v.kind))
	}
}

// UnmarshalJSON parses JSON into a normalized Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := DecodeValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// DecodeValue parses JSON bytes into a Value. Numbers without a fraction or
// exponent that fit int64 decode as ints; all others decode as floats.
func DecodeValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}

	return normalize(raw)
}

// ValueOf converts an arbitrary JSON-marshalable Go value into a Value by
// round-tripping through JSON. Values pass through unchanged.
func ValueOf(x any) (Value, error) {
	if v, ok := x.(Value); ok {
		return v, nil
	}
	data, err := json.Marshal(x)
	if err != nil {
		return Value{}, fmt.Errorf("marshal value: %w", err)
	}
	return DecodeValue(data)
}

// normalize maps a decoded JSON tree (or plain Go scalars and containers)
// into the closed Value set. It recurses to arbitrary depth.
func normalize(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("unrepresentable number %q", string(t))
		}
		return Float(f), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		return normalizeUint(t)
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, raw := range t {
			item, err := normalize(raw)
			if err != nil {
				return Value{}, err
			}
			items[i] = item
		}
		return List(items...), nil
	case []Value:
		return List(t...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, raw := range t {
			field, err := normalize(raw)
			if err != nil {
				return Value{}, err
			}
			fields[k] = field
		}
		return Map(fields), nil
	case map[string]Value:
		return Map(t), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

func normalizeUint(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, fmt.Errorf("uint value %d overflows int64", u)
	}
	return Int(int64(u)), nil
}
