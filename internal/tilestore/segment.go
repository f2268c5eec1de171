package tilestore

import (
	"bytes"
	"fmt"

	"github.com/roach88/tessera/internal/world"
)

// EncodeSegment joins canonical event lines into segment bytes. Every line,
// including the last, ends in '\n'.
func EncodeSegment(lines [][]byte) []byte {
	size := 0
	for _, l := range lines {
		size += len(l) + 1
	}
	buf := make([]byte, 0, size)
	for _, l := range lines {
		buf = append(buf, l...)
		buf = append(buf, '\n')
	}
	return buf
}

// segmentLines splits segment bytes into its canonical event lines.
func segmentLines(data []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

// DecodeSegment parses segment bytes back into events, in append order.
func DecodeSegment(data []byte) ([]*world.Event, error) {
	var out []*world.Event
	for i, line := range segmentLines(data) {
		ev, err := world.DecodeEvent(line)
		if err != nil {
			return nil, fmt.Errorf("segment line %d: %w", i+1, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
