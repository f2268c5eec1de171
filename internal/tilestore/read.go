package tilestore

import (
	"context"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/nf"
	"github.com/roach88/tessera/internal/world"
)

// TileTip returns key's index. A tile that has never flushed a segment is
// reported with a world.NotFoundError.
func (s *Store) TileTip(ctx context.Context, key world.TileKey) (world.Index, error) {
	if err := key.Validate(); err != nil {
		return world.Index{}, err
	}
	ix, err := s.loadIndex(ctx, s.tile(key))
	if err != nil {
		return world.Index{}, err
	}
	if ix.Segments == 0 && ix.TipSegment == "" {
		return world.Index{}, world.NotFound("tile", key.String())
	}
	return ix, nil
}

// SegmentsSince returns the manifest entries flushed after the segment
// ending in afterEvent. An empty or unknown afterEvent returns the whole
// manifest: the reader cannot be trusted to hold anything. An unknown tile
// returns an empty list.
func (s *Store) SegmentsSince(ctx context.Context, key world.TileKey, afterEvent string) ([]world.ManifestEntry, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	manifest, err := s.backend.ReadManifest(ctx, key)
	if err != nil {
		return nil, err
	}
	if afterEvent == "" {
		return manifest, nil
	}
	for i := len(manifest) - 1; i >= 0; i-- {
		if manifest[i].ToEvent == afterEvent {
			return manifest[i+1:], nil
		}
	}
	return manifest, nil
}

// GetObject returns the segment or snapshot stored under ref. Bytes that do
// not hash to ref are reported as an error, never returned.
func (s *Store) GetObject(ctx context.Context, ref addr.HashRef) ([]byte, error) {
	if _, err := addr.ParseHashRef(string(ref)); err != nil {
		return nil, world.NotFound("object", string(ref))
	}
	data, err := s.backend.GetObject(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !ref.Verify(data) {
		return nil, fmt.Errorf("object %s: content does not match its hash", ref)
	}
	return data, nil
}

// Materialize replays key's flushed history onto the latest snapshot.
// Buffered events are not included.
func (s *Store) Materialize(ctx context.Context, key world.TileKey) (*nf.Replica, error) {
	ctx, span := tracer.Start(ctx, "tilestore.Store.Materialize",
		trace.WithAttributes(
			attribute.String("space_id", key.Space),
			attribute.String("tile_id", key.Tile),
		),
	)
	defer span.End()

	r, err := s.materialize(ctx, key, true)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return r, err
}

// MaterializeFull replays every segment onto the empty state, ignoring
// snapshots.
func (s *Store) MaterializeFull(ctx context.Context, key world.TileKey) (*nf.Replica, error) {
	return s.materialize(ctx, key, false)
}

func (s *Store) materialize(ctx context.Context, key world.TileKey, useSnapshot bool) (*nf.Replica, error) {
	manifest, err := s.backend.ReadManifest(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(manifest) == 0 {
		return nil, world.NotFound("tile", key.String())
	}

	var base *nf.Replica
	from := 0
	if useSnapshot {
		ix, err := s.TileTip(ctx, key)
		if err != nil {
			return nil, err
		}
		if ix.LastSnapshot != "" {
			snap, err := s.loadSnapshot(ctx, ix.LastSnapshot)
			if err != nil {
				return nil, err
			}
			if snap.Segments <= len(manifest) {
				base, from = snap.Replica, snap.Segments
			}
		}
	}

	events, err := s.readSegments(ctx, manifest[from:])
	if err != nil {
		return nil, err
	}
	return nf.Materialize(base, events)
}

// VerifyReport is the result of Verify.
type VerifyReport struct {
	Tile     world.TileKey `json:"tile"`
	Segments int           `json:"segments"`
	Events   int           `json:"events"`

	// Snapshots is the number of snapshots whose recorded state hash was
	// re-derived from the segments they cover.
	Snapshots int `json:"snapshots"`

	StateHash     addr.HashRef `json:"state_hash"`
	FullStateHash addr.HashRef `json:"full_state_hash"`
	Problems      []string     `json:"problems"`
}

// OK reports whether verification found nothing wrong.
func (r VerifyReport) OK() bool {
	return len(r.Problems) == 0
}

// Verify checks key's durable history: every segment decodes, matches its
// manifest entry and hash; every snapshot in the collection matches a full
// replay of the segments it covers; and snapshot-based materialization
// equals full replay.
func (s *Store) Verify(ctx context.Context, key world.TileKey) (VerifyReport, error) {
	rep := VerifyReport{Tile: key, Problems: []string{}}

	manifest, err := s.backend.ReadManifest(ctx, key)
	if err != nil {
		return rep, err
	}
	if len(manifest) == 0 {
		return rep, world.NotFound("tile", key.String())
	}
	rep.Segments = len(manifest)

	// Full replay, keeping the prefix states snapshots are checked against.
	var events []*world.Event
	prefix := make([]int, len(manifest)+1)
	for i, e := range manifest {
		data, err := s.GetObject(ctx, e.Hash)
		if err != nil {
			rep.Problems = append(rep.Problems, fmt.Sprintf("segment %d (%s): %v", i, e.Hash, err))
			return rep, nil
		}
		seg, err := DecodeSegment(data)
		if err != nil {
			rep.Problems = append(rep.Problems, fmt.Sprintf("segment %d (%s): %v", i, e.Hash, err))
			return rep, nil
		}
		switch {
		case len(seg) == 0:
			rep.Problems = append(rep.Problems, fmt.Sprintf("segment %d (%s): empty", i, e.Hash))
		case seg[0].ID != e.FromEvent || seg[len(seg)-1].ID != e.ToEvent:
			rep.Problems = append(rep.Problems, fmt.Sprintf("segment %d (%s): covers %s..%s, manifest says %s..%s",
				i, e.Hash, seg[0].ID, seg[len(seg)-1].ID, e.FromEvent, e.ToEvent))
		case e.Count != 0 && e.Count != len(seg):
			rep.Problems = append(rep.Problems, fmt.Sprintf("segment %d (%s): %d events, manifest says %d", i, e.Hash, len(seg), e.Count))
		}
		for _, ev := range seg {
			if err := world.CheckTile(key, ev); err != nil {
				rep.Problems = append(rep.Problems, fmt.Sprintf("segment %d (%s): %v", i, e.Hash, err))
				break
			}
		}
		events = append(events, seg...)
		prefix[i+1] = len(events)
	}
	rep.Events = len(events)

	full, err := nf.Materialize(nil, events)
	if err != nil {
		rep.Problems = append(rep.Problems, fmt.Sprintf("replay: %v", err))
		return rep, nil
	}
	if rep.FullStateHash, err = nf.StateHash(full); err != nil {
		return rep, err
	}

	snaps, err := s.backend.ListObjects(ctx, key, KindSnapshot)
	if err != nil {
		return rep, err
	}
	for _, ref := range snaps {
		snap, err := s.loadSnapshot(ctx, ref)
		if err != nil {
			rep.Problems = append(rep.Problems, fmt.Sprintf("snapshot %s: %v", ref, err))
			continue
		}
		if snap.Segments < 1 || snap.Segments > len(manifest) || manifest[snap.Segments-1].ToEvent != snap.Event {
			rep.Problems = append(rep.Problems, fmt.Sprintf("snapshot %s: does not match manifest position %d", ref, snap.Segments))
			continue
		}
		replayed, err := nf.Materialize(nil, events[:prefix[snap.Segments]])
		if err != nil {
			rep.Problems = append(rep.Problems, fmt.Sprintf("snapshot %s: replay: %v", ref, err))
			continue
		}
		want, err := nf.StateHash(replayed)
		if err != nil {
			return rep, err
		}
		if want != snap.StateHash {
			rep.Problems = append(rep.Problems, fmt.Sprintf("snapshot %s: state hash %s, replay gives %s", ref, snap.StateHash, want))
		}
		rep.Snapshots++
	}

	r, err := s.Materialize(ctx, key)
	if err != nil {
		rep.Problems = append(rep.Problems, fmt.Sprintf("materialize: %v", err))
		return rep, nil
	}
	if rep.StateHash, err = nf.StateHash(r); err != nil {
		return rep, err
	}
	if rep.StateHash != rep.FullStateHash {
		rep.Problems = append(rep.Problems, fmt.Sprintf("snapshot materialization %s differs from full replay %s", rep.StateHash, rep.FullStateHash))
	}
	return rep, nil
}

// RebuildIndex recomputes key's index from its manifest and snapshot
// collection, persists it, and returns it.
func (s *Store) RebuildIndex(ctx context.Context, key world.TileKey) (world.Index, error) {
	if err := key.Validate(); err != nil {
		return world.Index{}, err
	}
	t := s.tile(key)
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	ix, err := s.rebuild(ctx, key)
	if err != nil {
		return world.Index{}, err
	}
	s.storeIndex(ctx, t, ix)

	t.ixMu.RLock()
	dirty := t.dirty
	t.ixMu.RUnlock()
	if dirty {
		return ix, fmt.Errorf("rebuild index %s: index not persisted", key)
	}
	return ix, nil
}

func (s *Store) rebuild(ctx context.Context, key world.TileKey) (world.Index, error) {
	manifest, err := s.backend.ReadManifest(ctx, key)
	if err != nil {
		return world.Index{}, err
	}
	if len(manifest) == 0 {
		return world.Index{}, world.NotFound("tile", key.String())
	}

	last := manifest[len(manifest)-1]
	ix := world.Index{
		TipEvent:   last.ToEvent,
		TipSegment: last.Hash,
		LastUpdate: last.TS,
		Segments:   len(manifest),
	}

	refs, err := s.backend.ListObjects(ctx, key, KindSnapshot)
	if err != nil {
		return world.Index{}, err
	}
	for _, ref := range refs {
		snap, err := s.loadSnapshot(ctx, ref)
		if err != nil {
			s.logger.Warn("skipping unreadable snapshot",
				"space_id", key.Space,
				"tile_id", key.Tile,
				"snapshot", ref,
				"error", err,
			)
			continue
		}
		if snap.Segments < 1 || snap.Segments > len(manifest) || manifest[snap.Segments-1].ToEvent != snap.Event {
			continue
		}
		if snap.Segments > ix.SnapshotSegments {
			ix.LastSnapshot = ref
			ix.SnapshotEvent = snap.Event
			ix.SnapshotSegments = snap.Segments
		}
	}

	s.logger.Info("rebuilt index",
		"space_id", key.Space,
		"tile_id", key.Tile,
		"segments", ix.Segments,
		"snapshot", ix.LastSnapshot,
	)
	return ix, nil
}

// Tiles returns every tile the store knows about, durable or buffered,
// sorted by space then tile.
func (s *Store) Tiles(ctx context.Context) ([]world.TileKey, error) {
	keys, err := s.backend.ListTiles(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range s.snapshotTiles() {
		if n, _ := s.Buffered(t.key); n > 0 {
			keys = append(keys, t.key)
		}
	}
	slices.SortFunc(keys, compareTiles)
	return slices.Compact(keys), nil
}
