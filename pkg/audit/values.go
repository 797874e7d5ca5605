package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"regexp"
	"sort"
	"strconv"
)

// Kind identifies which member of the Value union is set
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an attribute value. The zero Value is null.
//
// Integers keep their exact decimal text next to the float, so ids beyond
// 2^53 diff and serialize without rounding.
type Value struct {
	kind Kind
	str  string
	num  float64
	lit  string
	b    bool
	list []Value
	m    *Attributes
}

// Null returns the null value
func Null() Value { return Value{} }

// String returns a string value
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a numeric value
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Int returns a numeric value from an integer
func Int(n int64) Value {
	return Value{kind: KindNumber, num: float64(n), lit: strconv.FormatInt(n, 10)}
}

// Uint returns a numeric value from an unsigned integer
func Uint(n uint64) Value {
	return Value{kind: KindNumber, num: float64(n), lit: strconv.FormatUint(n, 10)}
}

var (
	jsonNumber  = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)
	jsonInteger = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)
)

// ParseNumber parses a JSON number literal. Integer literals are kept
// exactly; fractions and exponents are held as float64.
func ParseNumber(s string) (Value, error) {
	if !jsonNumber.MatchString(s) {
		return Value{}, fmt.Errorf("invalid number %q", s)
	}
	if jsonInteger.MatchString(s) {
		if s == "-0" {
			s = "0"
		}
		f, _ := strconv.ParseFloat(s, 64)
		return Value{kind: KindNumber, num: f, lit: s}, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Number(f), nil
}

// Bool returns a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a list value holding a copy of items
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Map returns a nested map value holding a copy of attrs
func Map(attrs *Attributes) Value {
	if attrs == nil {
		attrs = NewAttributes()
	}
	return Value{kind: KindMap, m: attrs.Clone()}
}

// ValueOf converts a decoded Go value into a Value. Maps with string keys
// are ordered by key since Go maps carry no order of their own.
func ValueOf(v any) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Uint(uint64(t)), nil
	case uint32:
		return Uint(uint64(t)), nil
	case uint64:
		return Uint(t), nil
	case float32:
		return Number(float64(t)), nil
	case float64:
		return Number(t), nil
	case json.Number:
		return ParseNumber(t.String())
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			iv, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, iv)
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		attrs, err := AttributesOf(t)
		if err != nil {
			return Value{}, err
		}
		return Value{kind: KindMap, m: attrs}, nil
	case *Attributes:
		return Map(t), nil
	default:
		return Value{}, fmt.Errorf("unsupported attribute value type %T", v)
	}
}

// Kind returns the kind of the value
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string payload
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the numeric payload, rounded to the nearest float64
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Int64 returns the payload of an integer that fits in an int64
func (v Value) Int64() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	if v.lit != "" {
		n, err := strconv.ParseInt(v.lit, 10, 64)
		return n, err == nil
	}
	if v.num != math.Trunc(v.num) || v.num < math.MinInt64 || v.num >= math.MaxInt64 {
		return 0, false
	}
	return int64(v.num), true
}

// Boolean returns the boolean payload
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Items returns a copy of the list payload
func (v Value) Items() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// Fields returns a copy of the nested map payload
func (v Value) Fields() (*Attributes, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m.Clone(), true
}

// Equal reports deep equality. Numbers compare by exact value, nested maps
// compare by content regardless of key order.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return numbersEqual(v, o)
	case KindBool:
		return v.b == o.b
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
		return v.m.Equal(o.m)
	}
	return false
}

func numbersEqual(a, b Value) bool {
	switch {
	case a.lit == "" && b.lit == "":
		return a.num == b.num
	case a.lit != "" && b.lit != "":
		return a.lit == b.lit
	case a.lit == "":
		a, b = b, a
	}
	// a holds an exact integer, b a float
	if math.IsInf(b.num, 0) || math.IsNaN(b.num) || b.num != math.Trunc(b.num) {
		return false
	}
	exact, ok := new(big.Int).SetString(a.lit, 10)
	if !ok {
		return false
	}
	f, _ := new(big.Float).SetFloat64(b.num).Int(nil)
	return exact.Cmp(f) == 0
}

// Text renders scalars as plain text; lists and maps render as JSON
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.str
	case KindNumber:
		if v.lit != "" {
			return v.lit
		}
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// Interface converts the value back into plain Go values. Exact integers
// come back as json.Number.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		if v.lit != "" {
			return json.Number(v.lit)
		}
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		return v.m.ToMap()
	default:
		return nil
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return v.Text()
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		if v.lit != "" {
			return []byte(v.lit), nil
		}
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("unsupported number value %v", v.num)
		}
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindMap:
		return v.m.MarshalJSON()
	}
	return nil, fmt.Errorf("unknown value kind %s", v.kind)
}

// UnmarshalJSON implements json.Unmarshaler, keeping object key order
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	decoded, err := decodeValue(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected trailing data in attribute value")
	}
	*v = decoded
	return nil
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			items := make([]Value, 0)
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: KindList, list: items}, nil
		case '{':
			attrs, err := decodeObject(dec)
			if err != nil {
				return Value{}, err
			}
			return Value{kind: KindMap, m: attrs}, nil
		}
		return Value{}, fmt.Errorf("unexpected delimiter %q", t)
	default:
		return ValueOf(t)
	}
}

// decodeObject reads object members after the opening brace has been consumed
func decodeObject(dec *json.Decoder) (*Attributes, error) {
	attrs := NewAttributes()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", keyTok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		attrs.Set(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Attributes is an insertion-ordered mapping from field name to Value.
// It is not safe for concurrent mutation.
type Attributes struct {
	keys   []string
	values map[string]Value
}

// NewAttributes creates an empty attribute map
func NewAttributes() *Attributes {
	return &Attributes{values: make(map[string]Value)}
}

// AttributesOf builds attributes from a plain map, ordering keys lexically
func AttributesOf(m map[string]any) (*Attributes, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := NewAttributes()
	for _, k := range keys {
		v, err := ValueOf(m[k])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		attrs.Set(k, v)
	}
	return attrs, nil
}

// Set stores a value. Overwriting keeps the key's original position.
func (a *Attributes) Set(key string, v Value) *Attributes {
	if a.values == nil {
		a.values = make(map[string]Value)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = v
	return a
}

// Get returns the value stored under key
func (a *Attributes) Get(key string) (Value, bool) {
	if a == nil {
		return Value{}, false
	}
	v, ok := a.values[key]
	return v, ok
}

// Has reports whether key is present
func (a *Attributes) Has(key string) bool {
	_, ok := a.Get(key)
	return ok
}

// Delete removes key if present
func (a *Attributes) Delete(key string) {
	if a == nil {
		return
	}
	if _, ok := a.values[key]; !ok {
		return
	}
	delete(a.values, key)
	for i, k := range a.keys {
		if k == key {
			a.keys = append(a.keys[:i], a.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of attributes
func (a *Attributes) Len() int {
	if a == nil {
		return 0
	}
	return len(a.keys)
}

// Keys returns the keys in insertion order
func (a *Attributes) Keys() []string {
	if a == nil {
		return []string{}
	}
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

// Range calls fn for each attribute in insertion order until fn returns false
func (a *Attributes) Range(fn func(key string, v Value) bool) {
	if a == nil {
		return
	}
	for _, k := range a.keys {
		if !fn(k, a.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy
func (a *Attributes) Clone() *Attributes {
	out := NewAttributes()
	a.Range(func(k string, v Value) bool {
		out.Set(k, cloneValue(v))
		return true
	})
	return out
}

func cloneValue(v Value) Value {
	switch v.kind {
	case KindList:
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			items[i] = cloneValue(item)
		}
		return Value{kind: KindList, list: items}
	case KindMap:
		return Value{kind: KindMap, m: v.m.Clone()}
	default:
		return v
	}
}

// Equal reports whether both maps hold the same keys and values
func (a *Attributes) Equal(o *Attributes) bool {
	if a.Len() != o.Len() {
		return false
	}
	equal := true
	a.Range(func(k string, v Value) bool {
		ov, ok := o.Get(k)
		if !ok || !v.Equal(ov) {
			equal = false
		}
		return equal
	})
	return equal
}

// ToMap converts to a plain map for callers that do not care about order
func (a *Attributes) ToMap() map[string]any {
	out := make(map[string]any, a.Len())
	a.Range(func(k string, v Value) bool {
		out[k] = v.Interface()
		return true
	})
	return out
}

// MarshalJSON encodes the attributes as a JSON object in insertion order
func (a *Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	var err error
	a.Range(func(k string, v Value) bool {
		if !first {
			buf.WriteByte(',')
		}
		first = false

		var key, val []byte
		if key, err = json.Marshal(k); err != nil {
			return false
		}
		if val, err = v.MarshalJSON(); err != nil {
			err = fmt.Errorf("attribute %q: %w", k, err)
			return false
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping member order
func (a *Attributes) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*a = *NewAttributes()
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("attributes must be a JSON object")
	}
	decoded, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*a = *decoded
	return nil
}
