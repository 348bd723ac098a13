package statestore

import (
	"maps"
	"strconv"
	"strings"
)

// Record is the persisted state of one task, drawing, or report.
type Record = Object

// M is the loose map callers use to describe a patch.
type M = map[string]any

// Get returns the value stored under key.
func (o Object) Get(key string) (Value, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o[key]
	if !ok || v == nil {
		return nil, false
	}
	if _, isNull := v.(Null); isNull {
		return nil, false
	}
	return v, true
}

// Has reports whether key holds a non-null value.
func (o Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// String returns the string under key, or def when absent or not a string.
func (o Object) String(key, def string) string {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	if s, ok := v.(String); ok {
		return string(s)
	}
	return def
}

// Text returns the value under key rendered as text (numbers and booleans
// included), or def when absent.
func (o Object) Text(key, def string) string {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	switch v.(type) {
	case String, Number, Bool:
		return Text(v)
	}
	return def
}

// Float returns the number under key, or def. Numeric strings are accepted.
func (o Object) Float(key string, def float64) float64 {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	switch val := v.(type) {
	case Number:
		return float64(val)
	case String:
		if f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns the number under key truncated to int, or def.
func (o Object) Int(key string, def int) int {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	switch val := v.(type) {
	case Number:
		return int(val)
	case String:
		if n, err := strconv.Atoi(strings.TrimSpace(string(val))); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the boolean under key, or def.
func (o Object) Bool(key string, def bool) bool {
	v, ok := o.Get(key)
	if !ok {
		return def
	}
	if b, ok := v.(Bool); ok {
		return bool(b)
	}
	return def
}

// Strings returns the string elements of the array under key. Non-string
// elements are skipped; a plain string yields a one-element slice.
func (o Object) Strings(key string) []string {
	v, ok := o.Get(key)
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case String:
		if s := strings.TrimSpace(string(val)); s != "" {
			return []string{s}
		}
		return nil
	case Array:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(String); ok {
				out = append(out, string(s))
			}
		}
		return out
	}
	return nil
}

// Object returns the object under key, or nil.
func (o Object) Object(key string) Object {
	v, ok := o.Get(key)
	if !ok {
		return nil
	}
	if obj, ok := v.(Object); ok {
		return obj
	}
	return nil
}

// Array returns the array under key, or nil.
func (o Object) Array(key string) Array {
	v, ok := o.Get(key)
	if !ok {
		return nil
	}
	if arr, ok := v.(Array); ok {
		return arr
	}
	return nil
}

// Clone returns a shallow copy.
func (o Object) Clone() Object {
	out := make(Object, len(o))
	maps.Copy(out, o)
	return out
}

// Merge returns a copy of o with every top-level key of patch applied.
// Nested objects are replaced, not merged.
func (o Object) Merge(patch Object) Object {
	out := o.Clone()
	maps.Copy(out, patch)
	return out
}

// FromMap converts a loose patch map into an Object.
func FromMap(m M) Object {
	if m == nil {
		return Object{}
	}
	return objectFromMap(m)
}

// Map converts the object into plain Go values.
func (o Object) Map() map[string]any {
	out, _ := Interface(o).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out
}
