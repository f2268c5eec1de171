package tilestore

import (
	"fmt"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/nf"
	"github.com/roach88/tessera/internal/world"
)

// Snapshot is a materialized tile at a point in its manifest. It is
// immutable and addressed by the hash of its canonical bytes.
type Snapshot struct {
	Tile world.TileKey

	// Event is the last event covered; Segments is the manifest length
	// covered.
	Event    string
	Segments int

	// Prior is the snapshot this one was built on, if any. Lineage is the
	// multi-input hash of Prior and the segments replayed onto it.
	Prior   addr.HashRef
	Lineage addr.HashRef

	StateHash addr.HashRef
	Replica   *nf.Replica
}

// CanonicalValue returns the persisted form.
func (s *Snapshot) CanonicalValue() (addr.Value, error) {
	replica, err := s.Replica.CanonicalValue()
	if err != nil {
		return nil, err
	}
	return addr.Object{
		"type":       addr.String("snapshot"),
		"space_id":   addr.String(s.Tile.Space),
		"tile_id":    addr.String(s.Tile.Tile),
		"event":      addr.String(s.Event),
		"segments":   addr.Number(float64(s.Segments)),
		"prior":      addr.OptString(string(s.Prior)),
		"lineage":    addr.String(string(s.Lineage)),
		"state_hash": addr.String(string(s.StateHash)),
		"replica":    replica,
	}, nil
}

// DecodeSnapshot parses snapshot bytes and checks the recorded state hash
// against the decoded replica.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	v, err := addr.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	obj, ok := v.(addr.Object)
	if typ, _ := obj["type"].(addr.String); !ok || typ != "snapshot" {
		return nil, fmt.Errorf("decode snapshot: not a snapshot object")
	}

	str := func(k string) string {
		s, _ := obj[k].(addr.String)
		return string(s)
	}
	segments, _ := obj["segments"].(addr.Number)

	replica, err := nf.ReplicaFromValue(obj["replica"])
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	s := &Snapshot{
		Tile:      world.TileKey{Space: str("space_id"), Tile: str("tile_id")},
		Event:     str("event"),
		Segments:  int(segments),
		Prior:     addr.HashRef(str("prior")),
		Lineage:   addr.HashRef(str("lineage")),
		StateHash: addr.HashRef(str("state_hash")),
		Replica:   replica,
	}

	got, err := nf.StateHash(replica)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if got != s.StateHash {
		return nil, fmt.Errorf("decode snapshot: state hash %s does not match recorded %s", got, s.StateHash)
	}
	return s, nil
}

// lineage hashes the inputs a snapshot was built from.
func lineage(prior addr.HashRef, entries []world.ManifestEntry) (addr.HashRef, error) {
	in := make([]addr.Input, 0, len(entries)+1)
	if prior != "" {
		in = append(in, addr.Input{Type: string(KindSnapshot), Ref: prior})
	}
	for _, e := range entries {
		in = append(in, addr.Input{Type: string(KindSegment), TS: e.TS, Ref: e.Hash})
	}
	return addr.MultiHash(in)
}
