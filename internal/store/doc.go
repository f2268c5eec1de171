// Package store is the SQLite implementation of tilestore.Backend.
//
// Tables:
//   - objects: immutable segments and snapshots keyed by HashRef
//   - tile_objects: per-tile membership of objects, by kind
//   - manifests: append-only segment lists, ordered by seq
//   - tile_indexes: the mutable per-tile index record, as canonical JSON
//
// # Write ordering
//
// manifests.hash references objects.hash with foreign keys enforced, so a
// manifest row can only be inserted after its segment. A flush that dies
// between the two leaves an orphan object and no dangling pointer.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Queries that return lists order deterministically (seq, or hash COLLATE
// BINARY) so that readers on different nodes see identical results.
package store
