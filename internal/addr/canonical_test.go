package addr

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"integer", Number(42), "42"},
		{"negative", Number(-100), "-100"},
		{"zero", Number(0), "0"},
		{"negative zero", Number(math.Copysign(0, -1)), "0"},
		{"fraction", Number(1.5), "1.5"},
		{"small", Number(0.000001), "0.000001"},
		{"tiny", Number(1.5e-7), "1.5e-7"},
		{"large", Number(1e21), "1e+21"},
		{"below exponent threshold", Number(1e20), "100000000000000000000"},
		{"bool true", Bool(true), "true"},
		{"bool false", Bool(false), "false"},
		{"null", Null{}, "null"},
		{"go nil", nil, "null"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array of numbers", Array{Number(1), Number(2), Number(3)}, "[1,2,3]"},
		{"simple object", Object{"a": Number(1)}, `{"a":1}`},
		{"go int", 7, "7"},
		{"go float", 2.25, "2.25"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Canonicalize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestCanonicalizeSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Number(1),
		"alpha": Number(2),
		"beta":  Number(3),
	}

	result, err := Canonicalize(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, string(result))
}

func TestCanonicalizeNestedSortedKeys(t *testing.T) {
	obj := Object{
		"z": Object{"b": Number(1), "a": Number(2)},
		"a": Number(3),
	}

	result, err := Canonicalize(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestCanonicalizeInsertionOrderInvariant(t *testing.T) {
	// Go maps have no insertion order, so build the same object many times
	// from differently ordered pair lists and compare bytes.
	pairs := [][2]string{{"space", "s1"}, {"tile", "t1"}, {"actor", "a"}, {"op", "x"}, {"id", "e1"}}

	var first string
	for rot := 0; rot < len(pairs); rot++ {
		obj := Object{}
		for i := range pairs {
			p := pairs[(i+rot)%len(pairs)]
			obj[p[0]] = String(p[1])
		}
		b, err := Canonicalize(obj)
		require.NoError(t, err)
		if rot == 0 {
			first = string(b)
			continue
		}
		assert.Equal(t, first, string(b))
	}
}

func TestCanonicalizeUTF16Ordering(t *testing.T) {
	// U+E000 vs U+10000 - UTF-16 order differs from UTF-8
	obj := Object{
		"\uE000":     Number(1), // UTF-16: 0xE000
		"\U00010000": Number(2), // UTF-16: 0xD800 0xDC00
	}

	result, err := Canonicalize(obj)
	require.NoError(t, err)

	expected := "{\"\U00010000\":2,\"\uE000\":1}"
	assert.Equal(t, expected, string(result))
}

func TestCanonicalizeNoHTMLEscape(t *testing.T) {
	result, err := Canonicalize(String("<script>a & b</script>"))
	require.NoError(t, err)
	assert.Equal(t, `"<script>a & b</script>"`, string(result))
	assert.NotContains(t, string(result), `\u003c`)
}

func TestCanonicalizeStringEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"quote", `say "hi"`, `"say \"hi\""`},
		{"backslash", `a\b`, `"a\\b"`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"control", "a\u0001b", `"a\u0001b"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Canonicalize(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestCanonicalizeNFCNormalization(t *testing.T) {
	decomposed := "e\u0301" // e + combining acute
	composed := "\u00e9"

	a, err := Canonicalize(String(decomposed))
	require.NoError(t, err)
	b, err := Canonicalize(String(composed))
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestCanonicalizeNFCKeyCollision(t *testing.T) {
	obj := Object{
		"e\u0301": Number(1),
		"\u00e9":  Number(2),
	}

	_, err := Canonicalize(obj)
	require.Error(t, err)
	assert.True(t, IsCanonicalizationError(err))
}

func TestCanonicalizeOmitsAbsent(t *testing.T) {
	obj := Object{
		"kept":    String("x"),
		"dropped": Absent{},
		"nulled":  Null{},
	}

	result, err := Canonicalize(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"kept":"x","nulled":null}`, string(result))
}

func TestCanonicalizeRejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
	}{
		{"nan", Number(math.NaN())},
		{"positive infinity", Number(math.Inf(1))},
		{"negative infinity", math.Inf(-1)},
		{"nested nan", Object{"a": Array{Number(1), Number(math.NaN())}}},
		{"unsupported type", struct{}{}},
		{"channel in map", map[string]any{"c": make(chan int)}},
		{"absent top level", Absent{}},
		{"absent in array", Array{Absent{}}},
		{"invalid utf8", String("\xff")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Canonicalize(tt.input)
			require.Error(t, err)
			assert.True(t, IsCanonicalizationError(err), "got %T: %v", err, err)
		})
	}
}

func TestCanonicalizeErrorPath(t *testing.T) {
	_, err := Canonicalize(Object{"payload": Object{"x": Number(math.Inf(1))}})
	require.Error(t, err)

	var ce *CanonicalizationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, `$["payload"]["x"]`, ce.Path)
}

func TestCanonicalizeGoNatives(t *testing.T) {
	native := map[string]any{
		"list":  []any{"a", 1, true, nil},
		"names": []string{"x", "y"},
		"tags":  map[string]string{"k": "v"},
	}

	result, err := Canonicalize(native)
	require.NoError(t, err)
	assert.Equal(t, `{"list":["a",1,true,null],"names":["x","y"],"tags":{"k":"v"}}`, string(result))
}

type pointValuer struct{ x, y float64 }

func (p pointValuer) CanonicalValue() (Value, error) {
	return Object{"x": Number(p.x), "y": Number(p.y)}, nil
}

func TestCanonicalizeValuer(t *testing.T) {
	result, err := Canonicalize(Array{Number(0)})
	require.NoError(t, err)
	assert.Equal(t, "[0]", string(result))

	result, err = Canonicalize(pointValuer{x: 1, y: -2.5})
	require.NoError(t, err)
	assert.Equal(t, `{"x":1,"y":-2.5}`, string(result))
}

func TestCanonicalizeIdempotent(t *testing.T) {
	v := Object{"a": Array{String("x"), Number(3.25)}, "b": Bool(true)}

	first, err := Canonicalize(v)
	require.NoError(t, err)

	reparsed, err := ParseJSON(first)
	require.NoError(t, err)

	second, err := Canonicalize(reparsed)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Object{"a": Number(1)}, Object{"a": Number(1)}))
	assert.False(t, Equal(Object{"a": Number(1)}, Object{"a": Number(2)}))
	assert.False(t, Equal(Number(math.NaN()), Number(math.NaN())))
}
