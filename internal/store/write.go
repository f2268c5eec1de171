package store

import (
	"context"
	"fmt"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/tilestore"
	"github.com/roach88/tessera/internal/world"
)

// PutObject stores an immutable object and records it in the tile's
// collection. Uses ON CONFLICT DO NOTHING for idempotency - writing the same
// hash twice is silently ignored.
func (s *Store) PutObject(ctx context.Context, tile world.TileKey, kind tilestore.ObjectKind, ref addr.HashRef, data []byte) error {
	if err := tile.Validate(); err != nil {
		return err
	}
	if !ref.Verify(data) {
		return fmt.Errorf("put object: data does not hash to %s", ref)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put object: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO objects (hash, data, size)
		VALUES (?, ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, string(ref), data, len(data)); err != nil {
		return fmt.Errorf("put object: insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tile_objects (space_id, tile_id, kind, hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, tile.Space, tile.Tile, string(kind), string(ref)); err != nil {
		return fmt.Errorf("put object: link: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put object: commit: %w", err)
	}
	return nil
}

// AppendManifest appends entry to the tile's manifest. The referenced
// segment must already be stored (foreign key constraint), so the manifest
// can never name a missing object.
func (s *Store) AppendManifest(ctx context.Context, tile world.TileKey, entry world.ManifestEntry) error {
	if err := tile.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append manifest: begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM manifests
		WHERE space_id = ? AND tile_id = ?
	`, tile.Space, tile.Tile).Scan(&seq); err != nil {
		return fmt.Errorf("append manifest: next seq: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO manifests
		(space_id, tile_id, seq, hash, from_event, to_event, ts, count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tile.Space,
		tile.Tile,
		seq,
		string(entry.Hash),
		entry.FromEvent,
		entry.ToEvent,
		entry.TS,
		entry.Count,
	); err != nil {
		return fmt.Errorf("append manifest: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append manifest: commit: %w", err)
	}
	return nil
}

// PutIndex replaces the tile's index. The index is stored as canonical JSON.
func (s *Store) PutIndex(ctx context.Context, tile world.TileKey, ix world.Index) error {
	if err := tile.Validate(); err != nil {
		return err
	}
	body, err := marshalIndex(ix)
	if err != nil {
		return fmt.Errorf("put index: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tile_indexes (space_id, tile_id, body)
		VALUES (?, ?, ?)
		ON CONFLICT(space_id, tile_id) DO UPDATE SET body = excluded.body
	`, tile.Space, tile.Tile, body)
	if err != nil {
		return fmt.Errorf("put index: %w", err)
	}
	return nil
}
