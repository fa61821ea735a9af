package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	ErrUnsupportedType = errors.New("unsupported type")
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrCommitFailed    = errors.New("failed to write preferences")
)

type Kind byte

const (
	_ Kind = iota
	KindBool
	KindFloat
	KindInt
	KindLong
	KindString
	KindStringSet
)

var kindNames = []string{"bool", "float", "int", "long", "string", "stringset"}

func (k Kind) String() string {
	if k < KindBool || k > KindStringSet {
		return fmt.Sprintf("Kind(%d)", k)
	}
	return kindNames[k-1]
}

func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s {
			return Kind(i + 1), nil
		}
	}
	return 0, fmt.Errorf("%w: kind %q", ErrUnsupportedType, s)
}

// StringSet is an unordered set of strings.
type StringSet map[string]struct{}

func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

func (s StringSet) Contains(item string) bool {
	_, ok := s[item]
	return ok
}

func (s StringSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for item := range s {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

func (s StringSet) Equal(o StringSet) bool {
	if len(s) != len(o) {
		return false
	}
	for item := range s {
		if !o.Contains(item) {
			return false
		}
	}
	return true
}

func (s StringSet) clone() StringSet {
	c := make(StringSet, len(s))
	for item := range s {
		c[item] = struct{}{}
	}
	return c
}

// Value is a preference value tagged with its kind. The zero Value has no
// kind and is never stored.
type Value struct {
	kind Kind
	b    bool
	f    float32
	n    int64
	s    string
	set  StringSet
}

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Float(f float32) Value { return Value{kind: KindFloat, f: f} }
func Int(i int32) Value { return Value{kind: KindInt, n: int64(i)} }
func Long(l int64) Value { return Value{kind: KindLong, n: l} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Set(set StringSet) Value { return Value{kind: KindStringSet, set: set.clone()} }

// Zero returns the zero payload of kind.
func Zero(kind Kind) (Value, error) {
	switch kind {
	case KindBool:
		return Bool(false), nil
	case KindFloat:
		return Float(0), nil
	case KindInt:
		return Int(0), nil
	case KindLong:
		return Long(0), nil
	case KindString:
		return String(""), nil
	case KindStringSet:
		return Set(nil), nil
	}
	return Value{}, fmt.Errorf("%w: kind %d", ErrUnsupportedType, kind)
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsZero() bool { return v.kind == 0 }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) AsFloat() (float32, bool) { return v.f, v.kind == KindFloat }
func (v Value) AsInt() (int32, bool) { return int32(v.n), v.kind == KindInt }
func (v Value) AsLong() (int64, bool) { return v.n, v.kind == KindLong }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

func (v Value) AsSet() (StringSet, bool) {
	if v.kind != KindStringSet {
		return nil, false
	}
	return v.set.clone(), true
}

// Interface returns the payload as bool, float32, int32, int64, string or
// StringSet.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindFloat:
		return v.f
	case KindInt:
		return int32(v.n)
	case KindLong:
		return v.n
	case KindString:
		return v.s
	case KindStringSet:
		return v.set.clone()
	}
	return nil
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindFloat:
		return v.f == o.f
	case KindInt, KindLong:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindStringSet:
		return v.set.Equal(o.set)
	}
	return true
}

// Encode renders the payload as text for transaction logs.
func (v Value) Encode() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindFloat:
		return strconv.FormatFloat(float64(v.f), 'g', -1, 32)
	case KindInt, KindLong:
		return strconv.FormatInt(v.n, 10)
	case KindString:
		return v.s
	case KindStringSet:
		raw, _ := json.Marshal(v.set.Sorted())
		return string(raw)
	}
	return ""
}

func ParseValue(kind Kind, s string) (Value, error) {
	switch kind {
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case KindFloat:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Value{}, err
		}
		return Float(float32(f)), nil
	case KindInt:
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return Value{}, err
		}
		return Int(int32(i)), nil
	case KindLong:
		l, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, err
		}
		return Long(l), nil
	case KindString:
		return String(s), nil
	case KindStringSet:
		var items []string
		if err := json.Unmarshal([]byte(s), &items); err != nil {
			return Value{}, err
		}
		return Set(NewStringSet(items...)), nil
	}
	return Value{}, fmt.Errorf("%w: kind %d", ErrUnsupportedType, kind)
}

// JSON returns the payload in the shape encoding/json produces for it.
func (v Value) JSON() any {
	switch v.kind {
	case KindFloat:
		return float64(v.f)
	case KindStringSet:
		return v.set.Sorted()
	}
	return v.Interface()
}

// FromJSON converts a generically decoded JSON value into a Value of kind.
// Integers keep full precision when given as json.Number (see
// json.Decoder.UseNumber) or as a decimal string; a float64 must be integral
// and in range.
func FromJSON(kind Kind, raw any) (Value, error) {
	switch kind {
	case KindBool:
		if b, ok := raw.(bool); ok {
			return Bool(b), nil
		}
	case KindFloat:
		switch t := raw.(type) {
		case float64:
			return Float(float32(t)), nil
		case json.Number:
			if f, err := strconv.ParseFloat(string(t), 32); err == nil {
				return Float(float32(f)), nil
			}
		}
	case KindInt:
		if n, ok := jsonInt(raw, math.MinInt32, math.MaxInt32); ok {
			return Int(int32(n)), nil
		}
	case KindLong:
		if n, ok := jsonInt(raw, math.MinInt64, math.MaxInt64); ok {
			return Long(n), nil
		}
	case KindString:
		if s, ok := raw.(string); ok {
			return String(s), nil
		}
	case KindStringSet:
		items, ok := raw.([]any)
		if !ok {
			break
		}
		set := make(StringSet, len(items))
		for _, item := range items {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("%w: sets must only contain strings", ErrUnsupportedType)
			}
			set[s] = struct{}{}
		}
		return Set(set), nil
	default:
		return Value{}, fmt.Errorf("%w: kind %d", ErrUnsupportedType, kind)
	}
	return Value{}, fmt.Errorf("%w: %v is not a %s", ErrTypeMismatch, raw, kind)
}

// ParseJSON decodes data as a JSON value of kind without passing integers
// through float64.
func ParseJSON(kind Kind, data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, err
	}
	return FromJSON(kind, raw)
}

const twoTo63 = 1 << 63

func jsonInt(raw any, lo, hi int64) (int64, bool) {
	var n int64
	switch t := raw.(type) {
	case json.Number:
		parsed, err := strconv.ParseInt(string(t), 10, 64)
		if err != nil {
			// 3.0 or 1e3 are still integers
			f, err := t.Float64()
			if err != nil {
				return 0, false
			}
			return jsonInt(f, lo, hi)
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	case float64:
		if t != math.Trunc(t) || t < -twoTo63 || t >= twoTo63 {
			return 0, false
		}
		n = int64(t)
	default:
		return 0, false
	}
	return n, n >= lo && n <= hi
}
