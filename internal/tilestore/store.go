package tilestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/nf"
	"github.com/roach88/tessera/internal/world"
)

// Default flush policy.
const (
	DefaultFlushBytes    = 64 * 1024
	DefaultFlushInterval = 5 * time.Second
	DefaultSnapshotEvery = 8
)

// Clock is the store's time source.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Advertiser is told about every durable tip change. It is called after the
// tile's locks are released and must not block.
type Advertiser interface {
	AdvertiseTip(key world.TileKey, ix world.Index)
}

// Option configures a Store.
type Option func(*Store)

// WithFlushBytes sets the buffered size, in canonical event bytes, at
// which a tile flushes. Zero or negative keeps the default.
func WithFlushBytes(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.flushBytes = n
		}
	}
}

// WithFlushInterval sets how long a tile may hold unflushed events.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithSnapshotEvery sets the number of segments between snapshots.
// Zero disables snapshots.
func WithSnapshotEvery(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.snapshotEvery = n
		}
	}
}

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithAdvertiser sets the tip advertiser.
func WithAdvertiser(a Advertiser) Option {
	return func(s *Store) { s.advertiser = a }
}

// Store is the tile store. It is safe for concurrent use.
type Store struct {
	backend       Backend
	flushBytes    int
	flushInterval time.Duration
	snapshotEvery int
	clock         Clock
	logger        *slog.Logger
	advertiser    Advertiser

	mu    sync.Mutex // guards tiles
	tiles map[world.TileKey]*tile

	sweeping atomic.Bool
}

// pending is one buffered event and its canonical line.
type pending struct {
	ev   *world.Event
	line []byte
}

// tile is the registry entry for one tile key.
type tile struct {
	key world.TileKey

	mu        sync.Mutex // guards buf, bytes, ids, lastFlush
	buf       []pending
	bytes     int
	ids       map[string]string // buffered or flushing event id -> canonical line
	lastFlush time.Time

	// durable maps every flushed event id to the hash of its line. It is
	// read from the segments on the first append after open.
	durMu         sync.Mutex
	durable       map[string]addr.HashRef
	durableLoaded bool

	// flushMu serializes flushes and snapshots of this tile.
	flushMu sync.Mutex

	ixMu   sync.RWMutex
	ix     world.Index
	loaded bool
	dirty  bool // in-memory index not yet persisted
}

// New returns a store writing through backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:       backend,
		flushBytes:    DefaultFlushBytes,
		flushInterval: DefaultFlushInterval,
		snapshotEvery: DefaultSnapshotEvery,
		clock:         systemClock{},
		logger:        slog.Default(),
		tiles:         make(map[world.TileKey]*tile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the backend the store writes through.
func (s *Store) Backend() Backend {
	return s.backend
}

// SetAdvertiser replaces the advertiser. It must be called before the
// store is shared between goroutines.
func (s *Store) SetAdvertiser(a Advertiser) {
	s.advertiser = a
}

// Close closes the backend. Buffered events that were not flushed are lost;
// call FlushAll first.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) tile(key world.TileKey) *tile {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tiles[key]
	if !ok {
		t = &tile{key: key, ids: make(map[string]string)}
		s.tiles[key] = t
	}
	return t
}

func (s *Store) snapshotTiles() []*tile {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*tile, 0, len(s.tiles))
	for _, t := range s.tiles {
		out = append(out, t)
	}
	return out
}

// Append validates, normalizes and buffers events for key. The batch is
// all or nothing: if any event is malformed or belongs to another tile,
// nothing is buffered and a ValidationError is returned.
//
// Exact duplicates of buffered or flushed events are dropped; reusing an
// id for different content is rejected. A size-triggered flush runs before
// Append returns; its failure is logged and retried by the periodic
// flusher, never reported to the appender, whose events are buffered.
func (s *Store) Append(ctx context.Context, key world.TileKey, events []*world.Event) (int, error) {
	if err := key.Validate(); err != nil {
		rejectedAppendsTotal.Inc()
		return 0, err
	}
	normalized, err := nf.NormalizeAll(events)
	if err != nil {
		rejectedAppendsTotal.Inc()
		return 0, err
	}

	batch := make([]pending, 0, len(normalized))
	for _, ev := range normalized {
		if err := world.CheckTile(key, ev); err != nil {
			rejectedAppendsTotal.Inc()
			return 0, err
		}
		line, err := ev.Encode()
		if err != nil {
			rejectedAppendsTotal.Inc()
			return 0, err
		}
		batch = append(batch, pending{ev: ev, line: line})
	}

	t := s.tile(key)
	if err := s.loadDurable(ctx, t); err != nil {
		return 0, fmt.Errorf("append %s: %w", key, err)
	}
	now := s.clock.Now()

	t.mu.Lock()
	accepted := make([]pending, 0, len(batch))
	for _, p := range batch {
		same, seen := t.seen(p)
		if !seen {
			accepted = append(accepted, p)
			continue
		}
		if same {
			continue
		}
		t.mu.Unlock()
		rejectedAppendsTotal.Inc()
		return 0, &world.ValidationError{
			Code:    world.CodeDuplicateEvent,
			Field:   "event_id",
			EventID: p.ev.ID,
			Message: "event id already stored with different content",
		}
	}
	size := 0
	for _, p := range accepted {
		t.ids[p.ev.ID] = string(p.line)
		size += len(p.line)
	}
	if len(t.buf) == 0 && (t.lastFlush.IsZero() || now.Sub(t.lastFlush) >= s.flushInterval) {
		// An idle tile measures staleness from its first buffered event.
		t.lastFlush = now
	}
	t.buf = append(t.buf, accepted...)
	t.bytes += size
	due := t.bytes >= s.flushBytes
	t.mu.Unlock()

	appendedEventsTotal.Add(float64(len(accepted)))
	bufferedBytesGauge.Add(float64(size))

	s.logger.Debug("buffered events",
		"space_id", key.Space,
		"tile_id", key.Tile,
		"count", len(accepted),
		"bytes", size,
	)

	if due {
		if _, err := s.flush(ctx, t, triggerSize); err != nil {
			s.logger.Warn("size-triggered flush failed; will retry",
				"space_id", key.Space,
				"tile_id", key.Tile,
				"error", err,
			)
		}
	}
	return len(accepted), nil
}

// seen reports whether p's id is already buffered or durable, and if so
// whether with the same line. The caller holds t.mu.
func (t *tile) seen(p pending) (same, seen bool) {
	if prior, ok := t.ids[p.ev.ID]; ok {
		return prior == string(p.line), true
	}
	t.durMu.Lock()
	defer t.durMu.Unlock()
	if ref, ok := t.durable[p.ev.ID]; ok {
		return ref.Verify(p.line), true
	}
	return false, false
}

// loadDurable reads the ids of every flushed event of t once.
func (s *Store) loadDurable(ctx context.Context, t *tile) error {
	t.durMu.Lock()
	defer t.durMu.Unlock()
	if t.durableLoaded {
		return nil
	}

	manifest, err := s.backend.ReadManifest(ctx, t.key)
	if err != nil {
		return err
	}
	lines := make(map[string]string)
	for _, e := range manifest {
		data, err := s.GetObject(ctx, e.Hash)
		if err != nil {
			return fmt.Errorf("segment %s: %w", e.Hash, err)
		}
		for i, line := range segmentLines(data) {
			ev, err := world.DecodeEvent(line)
			if err != nil {
				return fmt.Errorf("segment %s line %d: %w", e.Hash, i+1, err)
			}
			// An id stored twice stays bound to the version replay keeps.
			if prior, ok := lines[ev.ID]; !ok || string(line) < prior {
				lines[ev.ID] = string(line)
			}
		}
	}
	durable := make(map[string]addr.HashRef, len(lines))
	for id, line := range lines {
		durable[id] = addr.Hash([]byte(line))
	}
	t.durable, t.durableLoaded = durable, true
	return nil
}

// markDurable records a linked batch. Before the first load there is
// nothing to update: the load reads the manifest the batch is already in.
func (t *tile) markDurable(batch []pending) {
	t.durMu.Lock()
	defer t.durMu.Unlock()
	if !t.durableLoaded {
		return
	}
	for _, p := range batch {
		if _, ok := t.durable[p.ev.ID]; !ok {
			t.durable[p.ev.ID] = addr.Hash(p.line)
		}
	}
}

// Buffered returns the number of events and canonical bytes waiting in
// key's buffer.
func (s *Store) Buffered(key world.TileKey) (events, bytes int) {
	s.mu.Lock()
	t, ok := s.tiles[key]
	s.mu.Unlock()
	if !ok {
		return 0, 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf), t.bytes
}
