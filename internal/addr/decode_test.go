package addr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON(t *testing.T) {
	v, err := ParseJSON([]byte(`{"b":[1,2.5,"x",null,true],"a":{"n":-3}}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, Array{Number(1), Number(2.5), String("x"), Null{}, Bool(true)}, obj["b"])
	assert.Equal(t, Object{"n": Number(-3)}, obj["a"])
}

func TestParseJSONRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"overflow", `{"n":1e400}`},
		{"trailing", `{"a":1} {"b":2}`},
		{"malformed", `{"a":`},
		{"empty", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestFromAnyYAMLShapes(t *testing.T) {
	v, err := FromAny(map[string]any{
		"count": 3,
		"ratio": 0.5,
		"items": []any{"a", map[any]any{"k": "v"}},
	})
	require.NoError(t, err)

	b, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `{"count":3,"items":["a",{"k":"v"}],"ratio":0.5}`, string(b))
}

func TestObjectJSONRoundTrip(t *testing.T) {
	in := Object{"z": Number(1), "a": Array{String("x")}}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x"],"z":1}`, string(data))

	var out Object
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, Equal(in, out))
}

func TestObjectUnmarshalRejectsArray(t *testing.T) {
	var out Object
	assert.Error(t, json.Unmarshal([]byte(`[1]`), &out))
}
