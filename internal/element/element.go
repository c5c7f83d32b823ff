// Package element implements the schema-described payload tree carried by
// requests and messages: named scalars, nested sequences, one-of-N choices and
// repeated arrays.
package element

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Kind describes what an element currently holds.
type Kind int

const (
	KindEmpty Kind = iota
	KindScalar
	KindSequence
	KindChoice
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindChoice:
		return "choice"
	case KindArray:
		return "array"
	default:
		return "empty"
	}
}

var (
	// ErrNotFound is returned by the typed getters when the named child is absent.
	ErrNotFound = errors.New("element not found")
	// ErrTypeMismatch is returned when a value cannot be converted to the requested type.
	ErrTypeMismatch = errors.New("element type mismatch")
)

// Element is a node of a payload tree. The zero value is not usable; use New.
type Element struct {
	name     string
	kind     Kind
	value    any
	children []*Element
	items    []*Element
}

// New returns an empty element with the given name.
func New(name string) *Element {
	return &Element{name: name}
}

func (e *Element) Name() string { return e.name }
func (e *Element) Kind() Kind   { return e.kind }

// Value returns the scalar value, or nil for non-scalar elements.
func (e *Element) Value() any {
	if e.kind != KindScalar {
		return nil
	}
	return e.value
}

// Element returns the named child, creating it when absent. On a choice
// element a different name switches the active choice.
func (e *Element) Element(name string) *Element {
	if e.kind == KindChoice {
		return e.SetChoice(name)
	}
	if c := e.lookup(name); c != nil {
		return c
	}
	e.becomeContainer(KindSequence)
	c := New(name)
	e.children = append(e.children, c)
	return c
}

// Set assigns a scalar value to the named child and returns e for chaining.
func (e *Element) Set(name string, v any) *Element {
	e.Element(name).SetValue(v)
	return e
}

// SetValue turns e into a scalar holding v. Integers are stored as int64,
// floats as float64 and times in UTC.
func (e *Element) SetValue(v any) *Element {
	e.becomeContainer(KindScalar)
	e.value = normalize(v)
	return e
}

// SetChoice makes e a choice element whose active alternative is name and
// returns that alternative. Re-selecting the active alternative keeps its content.
func (e *Element) SetChoice(name string) *Element {
	if e.kind == KindChoice && len(e.children) == 1 && e.children[0].name == name {
		return e.children[0]
	}
	e.becomeContainer(KindChoice)
	c := New(name)
	e.children = []*Element{c}
	return c
}

// Append adds an unnamed item to the array element e and returns it.
func (e *Element) Append() *Element {
	e.becomeContainer(KindArray)
	item := New("")
	e.items = append(e.items, item)
	return item
}

// AppendValue appends a scalar item.
func (e *Element) AppendValue(v any) *Element {
	e.Append().SetValue(v)
	return e
}

// Child returns the named child without creating it.
func (e *Element) Child(name string) (*Element, bool) {
	c := e.lookup(name)
	return c, c != nil
}

// Has reports whether the named child exists.
func (e *Element) Has(name string) bool {
	return e.lookup(name) != nil
}

// Path walks nested children by name.
func (e *Element) Path(names ...string) (*Element, bool) {
	cur := e
	for _, n := range names {
		next := cur.lookup(n)
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Children returns the sequence children, or the active alternative of a choice.
func (e *Element) Children() []*Element {
	out := make([]*Element, len(e.children))
	copy(out, e.children)
	return out
}

// Items returns the array items.
func (e *Element) Items() []*Element {
	out := make([]*Element, len(e.items))
	copy(out, e.items)
	return out
}

// Len is the number of array items.
func (e *Element) Len() int { return len(e.items) }

// Choice returns the active alternative of a choice element.
func (e *Element) Choice() *Element {
	if e.kind != KindChoice || len(e.children) == 0 {
		return nil
	}
	return e.children[0]
}

func (e *Element) GetString(name string) (string, error) {
	c, err := e.get(name)
	if err != nil {
		return "", err
	}
	return c.AsString()
}

func (e *Element) GetInt(name string) (int64, error) {
	c, err := e.get(name)
	if err != nil {
		return 0, err
	}
	return c.AsInt()
}

func (e *Element) GetFloat(name string) (float64, error) {
	c, err := e.get(name)
	if err != nil {
		return 0, err
	}
	return c.AsFloat()
}

func (e *Element) GetBool(name string) (bool, error) {
	c, err := e.get(name)
	if err != nil {
		return false, err
	}
	return c.AsBool()
}

func (e *Element) GetTime(name string) (time.Time, error) {
	c, err := e.get(name)
	if err != nil {
		return time.Time{}, err
	}
	return c.AsTime()
}

// AsString converts the scalar to its string form.
func (e *Element) AsString() (string, error) {
	if e.kind != KindScalar {
		return "", e.mismatch("string")
	}
	switch v := e.value.(type) {
	case string:
		return v, nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	}
	return fmt.Sprint(e.value), nil
}

// AsInt accepts integers, integral floats and numeric strings.
func (e *Element) AsInt() (int64, error) {
	if e.kind != KindScalar {
		return 0, e.mismatch("int")
	}
	switch v := e.value.(type) {
	case int64:
		return v, nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, e.mismatch("int")
}

func (e *Element) AsFloat() (float64, error) {
	if e.kind != KindScalar {
		return 0, e.mismatch("float")
	}
	switch v := e.value.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, nil
		}
	}
	return 0, e.mismatch("float")
}

func (e *Element) AsBool() (bool, error) {
	if e.kind != KindScalar {
		return false, e.mismatch("bool")
	}
	switch v := e.value.(type) {
	case bool:
		return v, nil
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b, nil
		}
	}
	return false, e.mismatch("bool")
}

// AsTime accepts time values and RFC 3339 strings.
func (e *Element) AsTime() (time.Time, error) {
	if e.kind != KindScalar {
		return time.Time{}, e.mismatch("time")
	}
	switch v := e.value.(type) {
	case time.Time:
		return v, nil
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t, nil
		}
	}
	return time.Time{}, e.mismatch("time")
}

// ToValue renders the tree as plain Go values: maps for sequences and
// choices, slices for arrays and RFC 3339 strings for times.
func (e *Element) ToValue() any {
	switch e.kind {
	case KindScalar:
		if t, ok := e.value.(time.Time); ok {
			return t.Format(time.RFC3339Nano)
		}
		return e.value
	case KindSequence, KindChoice:
		m := make(map[string]any, len(e.children))
		for _, c := range e.children {
			m[c.name] = c.ToValue()
		}
		return m
	case KindArray:
		s := make([]any, 0, len(e.items))
		for _, item := range e.items {
			s = append(s, item.ToValue())
		}
		return s
	default:
		return nil
	}
}

// String renders the element as JSON for logging.
func (e *Element) String() string {
	b, err := json.Marshal(map[string]any{e.name: e.ToValue()})
	if err != nil {
		return fmt.Sprintf("%s: <%v>", e.name, err)
	}
	return string(b)
}

func (e *Element) get(name string) (*Element, error) {
	c := e.lookup(name)
	if c == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrNotFound, e.name, name)
	}
	return c, nil
}

func (e *Element) lookup(name string) *Element {
	for _, c := range e.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (e *Element) becomeContainer(k Kind) {
	if e.kind == k {
		return
	}
	e.kind = k
	e.value = nil
	e.children = nil
	e.items = nil
}

func (e *Element) mismatch(want string) error {
	return fmt.Errorf("%w: %s is %s (%T), want %s", ErrTypeMismatch, e.name, e.kind, e.value, want)
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string, bool, int64, float64:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
