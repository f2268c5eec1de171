package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// marshalIndex converts an Index to canonical JSON TEXT for storage.
func marshalIndex(ix world.Index) (string, error) {
	data, err := addr.Canonicalize(ix)
	if err != nil {
		return "", fmt.Errorf("marshal index: %w", err)
	}
	return string(data), nil
}

// unmarshalIndex parses an index column.
func unmarshalIndex(body string) (world.Index, error) {
	var ix world.Index
	if err := json.Unmarshal([]byte(body), &ix); err != nil {
		return world.Index{}, fmt.Errorf("unmarshal index: %w", err)
	}
	return ix, nil
}
