package addr

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize produces RFC 8785 canonical JSON for hashing.
// CRITICAL: This is the ONLY serialization that may be used for
// content-addressed identity computation.
//
// Accepted inputs are Value types, Valuer implementations, and the Go
// natives nil, bool, int, int32, int64, uint32, float32, float64, string,
// []string, []any, []Value, map[string]any, map[string]string.
//
// Differences from encoding/json:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped), U+2028/U+2029 left literal
//  3. Strings are NFC normalized
//  4. Numbers use the ECMAScript shortest round-trip form
//  5. Keys whose value is Absent are omitted
func Canonicalize(v any) ([]byte, error) {
	val, err := ToValue(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := writeValue(&buf, val, "$"); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustCanonicalize is like Canonicalize but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCanonicalize(v any) []byte {
	b, err := Canonicalize(v)
	if err != nil {
		panic(err)
	}
	return b
}

// ToValue converts a supported Go value into the sealed Value domain.
func ToValue(v any) (Value, error) {
	return toValue(v, "$")
}

func toValue(v any, path string) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case Valuer:
		out, err := val.CanonicalValue()
		if err != nil {
			return nil, err
		}
		return out, nil
	case bool:
		return Bool(val), nil
	case int:
		return Number(float64(val)), nil
	case int32:
		return Number(float64(val)), nil
	case int64:
		return Number(float64(val)), nil
	case uint32:
		return Number(float64(val)), nil
	case float32:
		return Number(float64(val)), nil
	case float64:
		return Number(val), nil
	case string:
		return String(val), nil
	case []string:
		return Strings(val), nil
	case []Value:
		return Array(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			ev, err := toValue(elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]string:
		obj := make(Object, len(val))
		for k, s := range val {
			obj[k] = String(s)
		}
		return obj, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			ev, err := toValue(elem, fmt.Sprintf("%s[%q]", path, k))
			if err != nil {
				return nil, err
			}
			obj[k] = ev
		}
		return obj, nil
	default:
		return nil, canonErr(path, "unsupported type %T", v)
	}
}

func writeValue(buf *bytes.Buffer, v Value, path string) error {
	switch val := v.(type) {
	case nil:
		return canonErr(path, "nil Value")
	case Null:
		buf.WriteString("null")
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Number:
		s, err := FormatNumber(float64(val))
		if err != nil {
			return canonErr(path, "%v", err)
		}
		buf.WriteString(s)
	case String:
		return writeString(buf, string(val), path)
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			if _, ok := elem.(Absent); ok {
				return canonErr(elemPath, "absent value inside array")
			}
			if err := writeValue(buf, elem, elemPath); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		return writeObject(buf, val, path)
	case Absent:
		return canonErr(path, "absent value has no canonical form")
	default:
		return canonErr(path, "unsupported value %T", v)
	}
	return nil
}

// writeObject writes an object with NFC-normalized keys in UTF-16 order.
// Two keys that normalize to the same string are rejected.
func writeObject(buf *bytes.Buffer, obj Object, path string) error {
	normalized := make(Object, len(obj))
	for k, v := range obj {
		if _, ok := v.(Absent); ok {
			continue
		}
		if !utf8.ValidString(k) {
			return canonErr(path, "object key is not valid UTF-8")
		}
		nk := norm.NFC.String(k)
		if _, dup := normalized[nk]; dup {
			return canonErr(path, "duplicate key %q after NFC normalization", nk)
		}
		normalized[nk] = v
	}

	buf.WriteByte('{')
	for i, k := range normalized.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyPath := fmt.Sprintf("%s[%q]", path, k)
		if err := writeString(buf, k, keyPath); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeValue(buf, normalized[k], keyPath); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeString writes an RFC 8785 string: only the quote, the backslash and
// control characters below U+0020 are escaped.
func writeString(buf *bytes.Buffer, s, path string) error {
	if !utf8.ValidString(s) {
		return canonErr(path, "string is not valid UTF-8")
	}
	s = norm.NFC.String(s)

	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
	return nil
}

// FormatNumber renders f the way ECMAScript Number.prototype.toString does,
// which is what RFC 8785 requires. Negative zero is written as 0.
func FormatNumber(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite number %v", f)
	}
	if f == 0 {
		return "0", nil
	}

	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		// strconv produces "1.5e-07"; ECMAScript wants "1.5e-7".
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
		if digits == "" {
			digits = "0"
		}
		return mant + "e" + sign + digits, nil
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}
