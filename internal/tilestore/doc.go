// Package tilestore is the segmented, append-only event store.
//
// Each tile owns a buffer of normalized event lines. A flush turns the
// buffer into an immutable segment addressed by its hash, appends a
// manifest entry, and rewrites the tile's index. Every N segments the
// store replays history onto the prior snapshot and writes a new one.
//
// Writes are ordered blob first, pointer second:
//
//	PutObject(segment) -> AppendManifest(entry) -> PutIndex(index)
//
// A failure at any step leaves at worst an orphan blob. The manifest never
// names a segment that was not written, and the index can be rebuilt from
// the manifest and the snapshot collection (RebuildIndex).
//
// Concurrency: appends to one tile are serialized by that tile's buffer
// lock; different tiles never contend. A flush swaps the buffer out under
// the lock and writes without it, so appends during a flush start a fresh
// buffer. Flushes and snapshots of one tile are serialized by a second,
// per-tile lock. The periodic flusher never runs two sweeps at once.
package tilestore
