// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ValueKind discriminates the variants of Value.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueNumber
	ValueString
	ValueList
)

// Value is a single evaluation-context value: a number, a string, a list of
// strings (used by the "in" condition operator), or null. Formulas reference
// context entries by exact key name; anything the caller attaches to a sale
// is visible to them through this type.
type Value struct {
	Kind ValueKind
	Num  float64
	Str  string
	List []string
}

// NumberValue returns a numeric Value.
func NumberValue(f float64) Value {
	return Value{Kind: ValueNumber, Num: f}
}

// StringValue returns a string Value.
func StringValue(s string) Value {
	return Value{Kind: ValueString, Str: s}
}

// ListValue returns a string-list Value.
func ListValue(items ...string) Value {
	return Value{Kind: ValueList, List: items}
}

// AsNumber coerces the value to a number. Strings are parsed; anything that
// does not parse, plus null, lists, and NaN, coerces to 0. Downstream
// aggregation depends on this parse-or-zero behavior to keep batches
// resilient to partial data.
func (v Value) AsNumber() float64 {
	switch v.Kind {
	case ValueNumber:
		if math.IsNaN(v.Num) {
			return 0
		}
		return v.Num
	case ValueString:
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil || math.IsNaN(f) {
			return 0
		}
		return f
	default:
		return 0
	}
}

// AsString returns the string form of the value.
func (v Value) AsString() string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	default:
		return ""
	}
}

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool {
	return v.Kind == ValueNull
}

// MarshalJSON renders the value as its natural JSON form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueString:
		return json.Marshal(v.Str)
	case ValueList:
		return json.Marshal(v.List)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a JSON number, string, string array, or null.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case nil:
		*v = Value{}
	case float64:
		*v = NumberValue(t)
	case string:
		*v = StringValue(t)
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("list values must be strings, got %T", item)
			}
			items = append(items, s)
		}
		*v = ListValue(items...)
	default:
		return fmt.Errorf("unsupported value type %T", t)
	}
	return nil
}

// Context is the open-ended bag of fields a formula evaluates against.
// Keys are matched case-sensitively and exactly; a missing key reads as null
// (and therefore 0 under numeric coercion).
type Context map[string]Value

// Get returns the value for a key, or the null value if absent.
func (c Context) Get(key string) Value {
	if v, ok := c[key]; ok {
		return v
	}
	return Value{}
}
