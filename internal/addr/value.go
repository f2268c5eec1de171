package addr

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the canonical value domain.
// Only Null, Bool, Number, String, Array, Object and Absent implement it.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null is the JSON null value.
type Null struct{}

func (Null) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// Number is a finite IEEE 754 double. NaN and infinities are rejected
// when canonicalized.
type Number float64

func (Number) value() {}

// String is a string value. It is NFC normalized when canonicalized.
type String string

func (String) value() {}

// Array is an ordered list of values. Order is preserved.
type Array []Value

func (Array) value() {}

// Object is a string-keyed map. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) value() {}

// Absent marks a value that is not present. Object keys holding Absent are
// omitted from canonical output. Absent anywhere else is an error.
type Absent struct{}

func (Absent) value() {}

// Valuer is implemented by domain types that have a canonical value form.
// Canonicalize accepts any Valuer directly.
type Valuer interface {
	CanonicalValue() (Value, error)
}

// OptString returns String(s), or Absent when s is empty.
func OptString(s string) Value {
	if s == "" {
		return Absent{}
	}
	return String(s)
}

// Strings converts a string slice to an Array.
func Strings(ss []string) Array {
	arr := make(Array, len(ss))
	for i, s := range ss {
		arr[i] = String(s)
	}
	return arr
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's default string ordering compares UTF-8 bytes, which differs for
// characters outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, CompareUTF16)
	return keys
}

// Clone returns a shallow copy of the object.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// CompareUTF16 compares strings by UTF-16 code units as required by RFC 8785.
func CompareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Equal reports whether two values have identical canonical bytes.
// Values that cannot be canonicalized are never equal.
func Equal(a, b Value) bool {
	ab, err := Canonicalize(a)
	if err != nil {
		return false
	}
	bb, err := Canonicalize(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
