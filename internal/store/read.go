package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/tilestore"
	"github.com/roach88/tessera/internal/world"
)

// GetObject returns the object stored under ref.
// Returns a world.NotFoundError if absent.
func (s *Store) GetObject(ctx context.Context, ref addr.HashRef) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM objects WHERE hash = ?
	`, string(ref)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, world.NotFound("object", string(ref))
	}
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return data, nil
}

// ListObjects returns the hashes in one of the tile's collections,
// ordered by hash.
//
// Returns an empty slice (not nil) for an unknown tile.
func (s *Store) ListObjects(ctx context.Context, tile world.TileKey, kind tilestore.ObjectKind) ([]addr.HashRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash FROM tile_objects
		WHERE space_id = ? AND tile_id = ? AND kind = ?
		ORDER BY hash COLLATE BINARY ASC
	`, tile.Space, tile.Tile, string(kind))
	if err != nil {
		return nil, fmt.Errorf("query tile objects: %w", err)
	}
	defer rows.Close()

	refs := []addr.HashRef{}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("scan tile object: %w", err)
		}
		refs = append(refs, addr.HashRef(hash))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tile objects: %w", err)
	}
	return refs, nil
}

// ReadManifest returns the tile's manifest in append order.
//
// Returns an empty slice (not nil) for an unknown tile.
func (s *Store) ReadManifest(ctx context.Context, tile world.TileKey) ([]world.ManifestEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT hash, from_event, to_event, ts, count
		FROM manifests
		WHERE space_id = ? AND tile_id = ?
		ORDER BY seq ASC
	`, tile.Space, tile.Tile)
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	defer rows.Close()

	entries := []world.ManifestEntry{}
	for rows.Next() {
		var (
			e    world.ManifestEntry
			hash string
		)
		if err := rows.Scan(&hash, &e.FromEvent, &e.ToEvent, &e.TS, &e.Count); err != nil {
			return nil, fmt.Errorf("scan manifest entry: %w", err)
		}
		e.Hash = addr.HashRef(hash)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate manifest: %w", err)
	}
	return entries, nil
}

// GetIndex returns the tile's index.
// Returns a world.NotFoundError if the tile has none.
func (s *Store) GetIndex(ctx context.Context, tile world.TileKey) (world.Index, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM tile_indexes WHERE space_id = ? AND tile_id = ?
	`, tile.Space, tile.Tile).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Index{}, world.NotFound("tile", tile.String())
	}
	if err != nil {
		return world.Index{}, fmt.Errorf("get index: %w", err)
	}
	return unmarshalIndex(body)
}

// ListTiles returns every tile with a manifest or an index, ordered by
// space then tile.
func (s *Store) ListTiles(ctx context.Context) ([]world.TileKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT space_id, tile_id FROM manifests
		UNION
		SELECT space_id, tile_id FROM tile_indexes
		ORDER BY space_id ASC, tile_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query tiles: %w", err)
	}
	defer rows.Close()

	tiles := []world.TileKey{}
	for rows.Next() {
		var k world.TileKey
		if err := rows.Scan(&k.Space, &k.Tile); err != nil {
			return nil, fmt.Errorf("scan tile: %w", err)
		}
		tiles = append(tiles, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tiles: %w", err)
	}
	return tiles, nil
}
