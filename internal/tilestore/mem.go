package tilestore

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// MemBackend keeps everything in memory. It is used by tests, the scenario
// harness, and nodes configured with the memory backend.
type MemBackend struct {
	mu        sync.RWMutex
	objects   map[addr.HashRef][]byte
	members   map[world.TileKey]map[ObjectKind][]addr.HashRef
	manifests map[world.TileKey][]world.ManifestEntry
	indexes   map[world.TileKey]world.Index
}

// NewMemBackend returns an empty backend.
func NewMemBackend() *MemBackend {
	return &MemBackend{
		objects:   make(map[addr.HashRef][]byte),
		members:   make(map[world.TileKey]map[ObjectKind][]addr.HashRef),
		manifests: make(map[world.TileKey][]world.ManifestEntry),
		indexes:   make(map[world.TileKey]world.Index),
	}
}

func (m *MemBackend) PutObject(_ context.Context, tile world.TileKey, kind ObjectKind, ref addr.HashRef, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[ref]; !ok {
		m.objects[ref] = slices.Clone(data)
	}
	kinds, ok := m.members[tile]
	if !ok {
		kinds = make(map[ObjectKind][]addr.HashRef)
		m.members[tile] = kinds
	}
	if !slices.Contains(kinds[kind], ref) {
		kinds[kind] = append(kinds[kind], ref)
	}
	return nil
}

func (m *MemBackend) GetObject(_ context.Context, ref addr.HashRef) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[ref]
	if !ok {
		return nil, world.NotFound("object", string(ref))
	}
	return slices.Clone(data), nil
}

func (m *MemBackend) ListObjects(_ context.Context, tile world.TileKey, kind ObjectKind) ([]addr.HashRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := slices.Clone(m.members[tile][kind])
	slices.Sort(out)
	if out == nil {
		out = []addr.HashRef{}
	}
	return out, nil
}

func (m *MemBackend) AppendManifest(_ context.Context, tile world.TileKey, entry world.ManifestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.manifests[tile] = append(m.manifests[tile], entry)
	return nil
}

func (m *MemBackend) ReadManifest(_ context.Context, tile world.TileKey) ([]world.ManifestEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := slices.Clone(m.manifests[tile])
	if out == nil {
		out = []world.ManifestEntry{}
	}
	return out, nil
}

func (m *MemBackend) PutIndex(_ context.Context, tile world.TileKey, ix world.Index) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[tile] = ix
	return nil
}

func (m *MemBackend) GetIndex(_ context.Context, tile world.TileKey) (world.Index, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ix, ok := m.indexes[tile]
	if !ok {
		return world.Index{}, world.NotFound("tile", tile.String())
	}
	return ix, nil
}

func (m *MemBackend) ListTiles(_ context.Context) ([]world.TileKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[world.TileKey]bool)
	for k := range m.manifests {
		seen[k] = true
	}
	for k := range m.indexes {
		seen[k] = true
	}
	out := make([]world.TileKey, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	slices.SortFunc(out, compareTiles)
	return out, nil
}

func (m *MemBackend) Close() error { return nil }

func compareTiles(a, b world.TileKey) int {
	if c := cmp.Compare(a.Space, b.Space); c != 0 {
		return c
	}
	return cmp.Compare(a.Tile, b.Tile)
}
