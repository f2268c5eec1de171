package tilestore

import (
	"context"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// ObjectKind names a tile's collection of immutable objects.
type ObjectKind string

const (
	KindSegment  ObjectKind = "segment"
	KindSnapshot ObjectKind = "snapshot"
)

// Backend is the durable layout the store writes through: per tile, a
// manifest, an index, and segment and snapshot collections keyed by hash.
//
// Implementations must make PutObject idempotent (writing the same ref
// twice succeeds) and must make AppendManifest durable before returning.
// GetIndex and GetObject return a world.NotFoundError for unknown keys;
// ReadManifest returns an empty list for an unknown tile.
type Backend interface {
	PutObject(ctx context.Context, tile world.TileKey, kind ObjectKind, ref addr.HashRef, data []byte) error
	GetObject(ctx context.Context, ref addr.HashRef) ([]byte, error)
	ListObjects(ctx context.Context, tile world.TileKey, kind ObjectKind) ([]addr.HashRef, error)

	AppendManifest(ctx context.Context, tile world.TileKey, entry world.ManifestEntry) error
	ReadManifest(ctx context.Context, tile world.TileKey) ([]world.ManifestEntry, error)

	PutIndex(ctx context.Context, tile world.TileKey, ix world.Index) error
	GetIndex(ctx context.Context, tile world.TileKey) (world.Index, error)

	ListTiles(ctx context.Context) ([]world.TileKey, error)
	Close() error
}
