package statestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Value is a sealed interface over the JSON value kinds a state record may
// hold. Only Null, String, Number, Bool, Array, and Object implement it.
type Value interface {
	stateValue()
}

// Null represents an explicit JSON null.
type Null struct{}

func (Null) stateValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a JSON string.
type String string

func (String) stateValue() {}

// Number is a JSON number. Integral values encode without a fraction.
type Number float64

func (Number) stateValue() {}

// Bool is a JSON boolean.
type Bool bool

func (Bool) stateValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) stateValue() {}

// Object maps keys to values. Records are objects.
type Object map[string]Value

func (Object) stateValue() {}

// UnmarshalJSON implements json.Unmarshaler for Object.
func (o *Object) UnmarshalJSON(data []byte) error {
	raw, err := decodeAny(data)
	if err != nil {
		return err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("state object: expected JSON object, got %T", raw)
	}
	*o = objectFromMap(m)
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for Array.
func (a *Array) UnmarshalJSON(data []byte) error {
	raw, err := decodeAny(data)
	if err != nil {
		return err
	}
	list, ok := raw.([]any)
	if !ok {
		return fmt.Errorf("state array: expected JSON array, got %T", raw)
	}
	*a = arrayFromSlice(list)
	return nil
}

// ParseValue decodes arbitrary JSON into a Value.
func ParseValue(data []byte) (Value, error) {
	raw, err := decodeAny(data)
	if err != nil {
		return nil, err
	}
	return ValueOf(raw), nil
}

func decodeAny(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ValueOf converts a Go value into the tagged union. Structs and other
// non-primitive types are converted through their JSON encoding.
func ValueOf(v any) Value {
	switch val := v.(type) {
	case nil:
		return Null{}
	case Value:
		return val
	case string:
		return String(val)
	case bool:
		return Bool(val)
	case int:
		return Number(val)
	case int8:
		return Number(val)
	case int16:
		return Number(val)
	case int32:
		return Number(val)
	case int64:
		return Number(val)
	case uint:
		return Number(val)
	case uint8:
		return Number(val)
	case uint16:
		return Number(val)
	case uint32:
		return Number(val)
	case uint64:
		return Number(val)
	case float32:
		return Number(val)
	case float64:
		return Number(val)
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return Number(f)
		}
		return String(val.String())
	case time.Time:
		return String(val.Format(TimestampLayout))
	case time.Duration:
		return Number(val.Seconds())
	case []string:
		out := make(Array, len(val))
		for i, s := range val {
			out[i] = String(s)
		}
		return out
	case []any:
		return arrayFromSlice(val)
	case map[string]any:
		return objectFromMap(val)
	case map[string]string:
		out := make(Object, len(val))
		for k, s := range val {
			out[k] = String(s)
		}
		return out
	case json.RawMessage:
		parsed, err := ParseValue(val)
		if err != nil {
			return String(string(val))
		}
		return parsed
	}
	return viaJSON(v)
}

func viaJSON(v any) Value {
	rv := reflect.ValueOf(v)
	if (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Slice || rv.Kind() == reflect.Map) && rv.IsNil() {
		return Null{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return String(fmt.Sprint(v))
	}
	parsed, err := ParseValue(data)
	if err != nil {
		return String(fmt.Sprint(v))
	}
	return parsed
}

func arrayFromSlice(list []any) Array {
	out := make(Array, len(list))
	for i, item := range list {
		out[i] = ValueOf(item)
	}
	return out
}

func objectFromMap(m map[string]any) Object {
	out := make(Object, len(m))
	for k, item := range m {
		out[k] = ValueOf(item)
	}
	return out
}

// Interface converts a Value back into plain Go values (string, float64,
// bool, []any, map[string]any, nil).
func Interface(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Number:
		return float64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Interface(item)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Interface(item)
		}
		return out
	default:
		return nil
	}
}

// Text renders scalar values as strings: numbers without a trailing ".0",
// booleans as true/false. Arrays and objects render as compact JSON.
func Text(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(val)
	case Number:
		f := float64(val)
		if f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	case Bool:
		return strconv.FormatBool(bool(val))
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
