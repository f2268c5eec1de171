package world

import (
	"fmt"
	"strings"

	"github.com/roach88/tessera/internal/addr"
)

// TileKey identifies one tile within a space.
type TileKey struct {
	Space string `json:"space_id"`
	Tile  string `json:"tile_id"`
}

// String returns "space/tile".
func (k TileKey) String() string {
	return k.Space + "/" + k.Tile
}

// Validate checks that both components are usable as path segments.
func (k TileKey) Validate() error {
	for field, v := range map[string]string{"space_id": k.Space, "tile_id": k.Tile} {
		if v == "" {
			return missing("", field)
		}
		if strings.Contains(v, "/") || v == "." || v == ".." {
			return invalid("", field, "%q is not a valid path segment", v)
		}
	}
	return nil
}

// SID returns the structural id of the tile's role pointer.
func (k TileKey) SID(role addr.Role) (addr.SID, error) {
	return addr.NewSID(k.Space, k.Tile, role)
}

// ManifestEntry describes one immutable segment. Manifests are append-only
// lists of entries in flush order.
type ManifestEntry struct {
	Hash      addr.HashRef `json:"hash"`
	FromEvent string       `json:"from_event"`
	ToEvent   string       `json:"to_event"`
	TS        int64        `json:"ts"`
	Count     int          `json:"count"`
}

// CanonicalValue returns the entry's persisted form.
func (m ManifestEntry) CanonicalValue() (addr.Value, error) {
	return addr.Object{
		"hash":       addr.String(string(m.Hash)),
		"from_event": addr.String(m.FromEvent),
		"to_event":   addr.String(m.ToEvent),
		"ts":         addr.Number(float64(m.TS)),
		"count":      addr.Number(float64(m.Count)),
	}, nil
}

// Index is the per-tile mutable pointer record. It can always be rebuilt
// from the manifest and the snapshot collection.
type Index struct {
	TipEvent      string       `json:"tip_event"`
	TipSegment    addr.HashRef `json:"tip_segment"`
	LastSnapshot  addr.HashRef `json:"last_snapshot,omitempty"`
	SnapshotEvent string       `json:"snapshot_event,omitempty"`
	LastUpdate    int64        `json:"last_update"`

	// Segments is the manifest length; SnapshotSegments is the manifest
	// length covered by LastSnapshot.
	Segments         int `json:"segments"`
	SnapshotSegments int `json:"snapshot_segments,omitempty"`
}

// CanonicalValue returns the index's persisted form.
func (ix Index) CanonicalValue() (addr.Value, error) {
	obj := addr.Object{
		"tip_event":      addr.String(ix.TipEvent),
		"tip_segment":    addr.String(string(ix.TipSegment)),
		"last_snapshot":  addr.OptString(string(ix.LastSnapshot)),
		"snapshot_event": addr.OptString(ix.SnapshotEvent),
		"last_update":    addr.Number(float64(ix.LastUpdate)),
		"segments":       addr.Number(float64(ix.Segments)),
	}
	if ix.SnapshotSegments > 0 {
		obj["snapshot_segments"] = addr.Number(float64(ix.SnapshotSegments))
	}
	return obj, nil
}

// HasSnapshot reports whether the index points at a snapshot.
func (ix Index) HasSnapshot() bool {
	return ix.LastSnapshot != ""
}

// SinceSnapshot returns the number of segments flushed after the last
// snapshot.
func (ix Index) SinceSnapshot() int {
	return ix.Segments - ix.SnapshotSegments
}

// CheckTile verifies that ev belongs to key.
func CheckTile(key TileKey, ev *Event) error {
	if ev.SpaceID != key.Space || ev.TileID != key.Tile {
		return &ValidationError{
			Code:    CodeTileMismatch,
			EventID: ev.ID,
			Message: fmt.Sprintf("event belongs to %s/%s, appended to %s", ev.SpaceID, ev.TileID, key),
		}
	}
	return nil
}
