package tilestore

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/nf"
	"github.com/roach88/tessera/internal/world"
)

// Flush triggers, used as metric labels.
const (
	triggerSize     = "size"
	triggerInterval = "interval"
	triggerManual   = "manual"
)

// Flush writes key's buffered events as one segment. It returns false when
// the buffer was empty. On failure the batch is put back at the front of
// the buffer so the periodic flusher retries it in order.
func (s *Store) Flush(ctx context.Context, key world.TileKey) (bool, error) {
	return s.flush(ctx, s.tile(key), triggerManual)
}

func (s *Store) flush(ctx context.Context, t *tile, trigger string) (bool, error) {
	t.flushMu.Lock()
	ix, flushed, err := s.flushLocked(ctx, t, trigger)
	t.flushMu.Unlock()

	if flushed && s.advertiser != nil {
		s.advertiser.AdvertiseTip(t.key, ix)
	}
	return flushed, err
}

func (s *Store) flushLocked(ctx context.Context, t *tile, trigger string) (world.Index, bool, error) {
	ctx, span := tracer.Start(ctx, "tilestore.Store.Flush",
		trace.WithAttributes(
			attribute.String("space_id", t.key.Space),
			attribute.String("tile_id", t.key.Tile),
			attribute.String("trigger", trigger),
		),
	)
	defer span.End()
	start := time.Now()

	// Swap the buffer out; appends from here on start a fresh one. The ids
	// stay in t.ids until the batch is durable.
	t.mu.Lock()
	batch, size := t.buf, t.bytes
	t.buf, t.bytes = nil, 0
	t.mu.Unlock()

	if len(batch) == 0 {
		return world.Index{}, false, nil
	}

	fail := func(stage string, err error) (world.Index, bool, error) {
		s.requeue(t, batch, size)
		flushesTotal.WithLabelValues(trigger, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return world.Index{}, false, fmt.Errorf("flush %s: %s: %w", t.key, stage, err)
	}

	ix, err := s.loadIndex(ctx, t)
	if err != nil {
		return fail("load index", err)
	}

	lines := make([][]byte, len(batch))
	for i, p := range batch {
		lines[i] = p.line
	}
	data := EncodeSegment(lines)
	ref := addr.Hash(data)

	if err := s.backend.PutObject(ctx, t.key, KindSegment, ref, data); err != nil {
		return fail("write segment", err)
	}

	now := s.clock.Now()
	entry := world.ManifestEntry{
		Hash:      ref,
		FromEvent: batch[0].ev.ID,
		ToEvent:   batch[len(batch)-1].ev.ID,
		TS:        now.UnixMilli(),
		Count:     len(batch),
	}
	if err := s.backend.AppendManifest(ctx, t.key, entry); err != nil {
		return fail("append manifest", err)
	}

	// The segment is linked; from here on the flush has happened.
	bufferedBytesGauge.Sub(float64(size))
	t.markDurable(batch)
	t.mu.Lock()
	t.lastFlush = now
	for _, p := range batch {
		delete(t.ids, p.ev.ID)
	}
	t.mu.Unlock()

	ix.TipEvent = entry.ToEvent
	ix.TipSegment = ref
	ix.LastUpdate = entry.TS
	ix.Segments++
	s.storeIndex(ctx, t, ix)

	flushesTotal.WithLabelValues(trigger, "ok").Inc()
	segmentBytes.Observe(float64(len(data)))
	span.SetAttributes(attribute.String("segment", string(ref)), attribute.Int("events", len(batch)))

	s.logger.Debug("flushed segment",
		"space_id", t.key.Space,
		"tile_id", t.key.Tile,
		"segment", ref,
		"events", len(batch),
		"bytes", len(data),
		"trigger", trigger,
	)

	if s.snapshotEvery > 0 && ix.SinceSnapshot() >= s.snapshotEvery {
		next, err := s.snapshotLocked(ctx, t, ix)
		if err != nil {
			// The next flush retries: SinceSnapshot is still over the threshold.
			s.logger.Warn("snapshot failed",
				"space_id", t.key.Space,
				"tile_id", t.key.Tile,
				"error", err,
			)
		} else {
			ix = next
		}
	}

	flushDuration.Observe(time.Since(start).Seconds())
	return ix, true, nil
}

func (s *Store) requeue(t *tile, batch []pending, size int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(batch, t.buf...)
	t.bytes += size
}

// loadIndex returns the tile's index, reading it from the backend (or
// rebuilding it from the manifest) on first use.
func (s *Store) loadIndex(ctx context.Context, t *tile) (world.Index, error) {
	t.ixMu.RLock()
	if t.loaded {
		ix := t.ix
		t.ixMu.RUnlock()
		return ix, nil
	}
	t.ixMu.RUnlock()

	ix, err := s.backend.GetIndex(ctx, t.key)
	switch {
	case err == nil:
	case world.IsNotFound(err):
		ix, err = s.rebuild(ctx, t.key)
		if err != nil && !world.IsNotFound(err) {
			return world.Index{}, err
		}
		ix = orEmpty(ix, err)
	default:
		return world.Index{}, err
	}

	t.ixMu.Lock()
	defer t.ixMu.Unlock()
	if t.loaded {
		// A concurrent flush got there first; its copy is newer.
		return t.ix, nil
	}
	t.ix, t.loaded = ix, true
	return ix, nil
}

func orEmpty(ix world.Index, err error) world.Index {
	if err != nil {
		return world.Index{}
	}
	return ix
}

// storeIndex records ix in memory and persists it. A persistence failure is
// logged and the index is marked dirty; the in-memory copy stays
// authoritative and the periodic flusher writes it again.
func (s *Store) storeIndex(ctx context.Context, t *tile, ix world.Index) {
	t.ixMu.Lock()
	t.ix, t.loaded = ix, true
	t.ixMu.Unlock()

	err := s.backend.PutIndex(ctx, t.key, ix)

	t.ixMu.Lock()
	t.dirty = err != nil
	t.ixMu.Unlock()

	if err != nil {
		s.logger.Warn("index write failed; will retry",
			"space_id", t.key.Space,
			"tile_id", t.key.Tile,
			"error", err,
		)
	}
}

// Snapshot materializes key's history now, regardless of policy.
// It returns the updated index.
func (s *Store) Snapshot(ctx context.Context, key world.TileKey) (world.Index, error) {
	t := s.tile(key)
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	ix, err := s.loadIndex(ctx, t)
	if err != nil {
		return world.Index{}, err
	}
	if ix.Segments == 0 {
		return world.Index{}, world.NotFound("tile", key.String())
	}
	return s.snapshotLocked(ctx, t, ix)
}

func (s *Store) snapshotLocked(ctx context.Context, t *tile, ix world.Index) (world.Index, error) {
	ctx, span := tracer.Start(ctx, "tilestore.Store.Snapshot",
		trace.WithAttributes(
			attribute.String("space_id", t.key.Space),
			attribute.String("tile_id", t.key.Tile),
		),
	)
	defer span.End()

	fail := func(err error) (world.Index, error) {
		snapshotsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return world.Index{}, fmt.Errorf("snapshot %s: %w", t.key, err)
	}

	manifest, err := s.backend.ReadManifest(ctx, t.key)
	if err != nil {
		return fail(err)
	}
	if len(manifest) == 0 {
		return fail(world.NotFound("tile", t.key.String()))
	}

	var base *nf.Replica
	from := 0
	if ix.LastSnapshot != "" {
		prior, err := s.loadSnapshot(ctx, ix.LastSnapshot)
		if err != nil {
			return fail(err)
		}
		if prior.Segments > len(manifest) {
			return fail(fmt.Errorf("prior snapshot covers %d segments, manifest has %d", prior.Segments, len(manifest)))
		}
		base, from = prior.Replica, prior.Segments
	}

	entries := manifest[from:]
	events, err := s.readSegments(ctx, entries)
	if err != nil {
		return fail(err)
	}
	replica, err := nf.Materialize(base, events)
	if err != nil {
		return fail(err)
	}
	stateHash, err := nf.StateHash(replica)
	if err != nil {
		return fail(err)
	}
	lin, err := lineage(ix.LastSnapshot, entries)
	if err != nil {
		return fail(err)
	}

	snap := &Snapshot{
		Tile:      t.key,
		Event:     manifest[len(manifest)-1].ToEvent,
		Segments:  len(manifest),
		Prior:     ix.LastSnapshot,
		Lineage:   lin,
		StateHash: stateHash,
		Replica:   replica,
	}
	data, err := addr.Canonicalize(snap)
	if err != nil {
		return fail(err)
	}
	ref := addr.Hash(data)
	if err := s.backend.PutObject(ctx, t.key, KindSnapshot, ref, data); err != nil {
		return fail(err)
	}

	ix.LastSnapshot = ref
	ix.SnapshotEvent = snap.Event
	ix.SnapshotSegments = snap.Segments
	ix.Segments = len(manifest)
	ix.LastUpdate = s.clock.Now().UnixMilli()
	s.storeIndex(ctx, t, ix)

	snapshotsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("wrote snapshot",
		"space_id", t.key.Space,
		"tile_id", t.key.Tile,
		"snapshot", ref,
		"event", snap.Event,
		"segments", snap.Segments,
		"replayed", len(entries),
	)
	return ix, nil
}

func (s *Store) loadSnapshot(ctx context.Context, ref addr.HashRef) (*Snapshot, error) {
	data, err := s.GetObject(ctx, ref)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(data)
}

func (s *Store) readSegments(ctx context.Context, entries []world.ManifestEntry) ([]*world.Event, error) {
	var out []*world.Event
	for _, e := range entries {
		data, err := s.GetObject(ctx, e.Hash)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", e.Hash, err)
		}
		events, err := DecodeSegment(data)
		if err != nil {
			return nil, fmt.Errorf("segment %s: %w", e.Hash, err)
		}
		out = append(out, events...)
	}
	return out, nil
}
