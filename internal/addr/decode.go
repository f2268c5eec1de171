package addr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ParseJSON decodes JSON into a Value with strict validation.
// Numbers must be finite; trailing data after the first value is rejected.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("parse json: trailing data after value")
	}
	return FromAny(raw)
}

// FromAny converts decoded JSON or YAML (json.Number, float64, int,
// map[string]any, []any, ...) into a Value.
func FromAny(v any) (Value, error) {
	return fromAny(v, "$")
}

func fromAny(v any, path string) (Value, error) {
	switch val := v.(type) {
	case json.Number:
		f, err := strconv.ParseFloat(string(val), 64)
		if err != nil || math.IsInf(f, 0) {
			return nil, canonErr(path, "number %s is out of range", val)
		}
		return Number(f), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, canonErr(path, "non-finite number %v", val)
		}
		return Number(val), nil
	case uint64:
		return Number(float64(val)), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			ev, err := fromAny(elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			ev, err := fromAny(elem, fmt.Sprintf("%s[%q]", path, k))
			if err != nil {
				return nil, err
			}
			obj[k] = ev
		}
		return obj, nil
	case map[any]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			ks, ok := k.(string)
			if !ok {
				return nil, canonErr(path, "object key %v is not a string", k)
			}
			ev, err := fromAny(elem, fmt.Sprintf("%s[%q]", path, ks))
			if err != nil {
				return nil, err
			}
			obj[ks] = ev
		}
		return obj, nil
	default:
		return toValue(v, path)
	}
}

// MarshalJSON writes the canonical form.
func (obj Object) MarshalJSON() ([]byte, error) { return Canonicalize(obj) }

// MarshalJSON writes the canonical form.
func (arr Array) MarshalJSON() ([]byte, error) { return Canonicalize(arr) }

// MarshalJSON writes the canonical form.
func (n Number) MarshalJSON() ([]byte, error) { return Canonicalize(n) }

// MarshalJSON writes null.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// UnmarshalJSON decodes a JSON object with strict number handling.
func (obj *Object) UnmarshalJSON(data []byte) error {
	v, err := ParseJSON(data)
	if err != nil {
		return err
	}
	o, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*obj = o
	return nil
}

// UnmarshalJSON decodes a JSON array with strict number handling.
func (arr *Array) UnmarshalJSON(data []byte) error {
	v, err := ParseJSON(data)
	if err != nil {
		return err
	}
	a, ok := v.(Array)
	if !ok {
		return fmt.Errorf("expected JSON array, got %T", v)
	}
	*arr = a
	return nil
}
