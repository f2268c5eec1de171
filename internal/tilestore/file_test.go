package tilestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/nf"
	"github.com/roach88/tessera/internal/world"
)

func openTestFileBackend(t *testing.T) (*FileBackend, string) {
	t.Helper()
	root := t.TempDir()
	fb, err := OpenFileBackend(root)
	require.NoError(t, err)
	return fb, root
}

func TestFileBackendObjects(t *testing.T) {
	fb, root := openTestFileBackend(t)
	ctx := context.Background()

	data := []byte("segment bytes\n")
	ref := addr.Hash(data)
	require.NoError(t, fb.PutObject(ctx, key, KindSegment, ref, data))
	require.NoError(t, fb.PutObject(ctx, key, KindSegment, ref, data), "writes are idempotent")

	got, err := fb.GetObject(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = os.Stat(filepath.Join(root, "tiles", "s1", "t1", "segments", ref.Hex()))
	assert.NoError(t, err, "tile collection links the object")

	refs, err := fb.ListObjects(ctx, key, KindSegment)
	require.NoError(t, err)
	assert.Equal(t, []addr.HashRef{ref}, refs)

	refs, err = fb.ListObjects(ctx, key, KindSnapshot)
	require.NoError(t, err)
	assert.Empty(t, refs)

	_, err = fb.GetObject(ctx, addr.Hash([]byte("other")))
	assert.True(t, world.IsNotFound(err))
}

func TestFileBackendManifest(t *testing.T) {
	fb, root := openTestFileBackend(t)
	ctx := context.Background()

	entries, err := fb.ReadManifest(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, entries)

	want := []world.ManifestEntry{
		{Hash: addr.Hash([]byte("a")), FromEvent: "e1", ToEvent: "e2", TS: 10, Count: 2},
		{Hash: addr.Hash([]byte("b")), FromEvent: "e3", ToEvent: "e3", TS: 20, Count: 1},
	}
	for _, e := range want {
		require.NoError(t, fb.AppendManifest(ctx, key, e))
	}

	entries, err = fb.ReadManifest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, want, entries)

	// Simulate a crash halfway through a third append.
	path := filepath.Join(root, "tiles", "s1", "t1", "manifest.jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"count":1,"from_ev`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err = fb.ReadManifest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, want, entries, "torn last line is ignored")

	// The retried append replaces the torn bytes instead of following them.
	retry := world.ManifestEntry{Hash: addr.Hash([]byte("c")), FromEvent: "e4", ToEvent: "e4", TS: 30, Count: 1}
	require.NoError(t, fb.AppendManifest(ctx, key, retry))
	want = append(want, retry)

	entries, err = fb.ReadManifest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, want, entries)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"from_ev{`)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
}

func TestFileBackendManifestCorruptMiddle(t *testing.T) {
	fb, root := openTestFileBackend(t)
	ctx := context.Background()
	require.NoError(t, fb.AppendManifest(ctx, key, world.ManifestEntry{Hash: addr.Hash([]byte("a")), FromEvent: "e1", ToEvent: "e1", TS: 1, Count: 1}))

	path := filepath.Join(root, "tiles", "s1", "t1", "manifest.jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append([]byte("garbage\n"), data...), 0o644))

	_, err = fb.ReadManifest(ctx, key)
	assert.Error(t, err)
}

func TestFileBackendIndex(t *testing.T) {
	fb, _ := openTestFileBackend(t)
	ctx := context.Background()

	_, err := fb.GetIndex(ctx, key)
	assert.True(t, world.IsNotFound(err))

	ix := world.Index{TipEvent: "e1", TipSegment: addr.Hash([]byte("a")), LastUpdate: 5, Segments: 1}
	require.NoError(t, fb.PutIndex(ctx, key, ix))
	ix.TipEvent = "e2"
	ix.Segments = 2
	require.NoError(t, fb.PutIndex(ctx, key, ix))

	got, err := fb.GetIndex(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ix, got)
}

func TestFileBackendListTilesEscapes(t *testing.T) {
	fb, _ := openTestFileBackend(t)
	ctx := context.Background()

	odd := world.TileKey{Space: "my space", Tile: "x:1?y"}
	for _, k := range []world.TileKey{key, odd} {
		require.NoError(t, fb.PutIndex(ctx, k, world.Index{TipEvent: "e"}))
	}

	tiles, err := fb.ListTiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []world.TileKey{odd, key}, tiles)
}

func TestFileBackendRejectsBadKeys(t *testing.T) {
	fb, _ := openTestFileBackend(t)
	err := fb.PutIndex(context.Background(), world.TileKey{Space: "..", Tile: "t"}, world.Index{})
	assert.True(t, world.IsValidationError(err))
}

func TestStoreOnFileBackendSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	fb, err := OpenFileBackend(root)
	require.NoError(t, err)
	s, _ := newTestStore(t, fb, WithSnapshotEvery(2))
	for _, ev := range scene(5) {
		appendOne(t, s, ev)
		_, err := s.Flush(ctx, key)
		require.NoError(t, err)
	}
	before, err := s.Materialize(ctx, key)
	require.NoError(t, err)
	want, err := s.TileTip(ctx, key)
	require.NoError(t, err)

	fb2, err := OpenFileBackend(root)
	require.NoError(t, err)
	s2, _ := newTestStore(t, fb2)

	got, err := s2.TileTip(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	after, err := s2.Materialize(ctx, key)
	require.NoError(t, err)
	same, err := nf.Equivalent(before, after)
	require.NoError(t, err)
	assert.True(t, same)

	rep, err := s2.Verify(ctx, key)
	require.NoError(t, err)
	assert.True(t, rep.OK(), "%v", rep.Problems)
	assert.Equal(t, 2, rep.Snapshots)
}
