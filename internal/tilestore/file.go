package tilestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/tessera/internal/addr"
	"github.com/roach88/tessera/internal/world"
)

// FileBackend stores a tile tree on the local file system:
//
//	<root>/objects/<algo>/<hex[:2]>/<hex>
//	<root>/tiles/<space>/<tile>/segments/<hex>    hard link into objects/
//	<root>/tiles/<space>/<tile>/snapshots/<hex>   hard link into objects/
//	<root>/tiles/<space>/<tile>/manifest.jsonl
//	<root>/tiles/<space>/<tile>/index.json
//
// Objects are written once through a synced temp file and a hard link, so
// no reader ever sees a partial object. Space and tile ids are path
// escaped.
type FileBackend struct {
	root string
	mu   sync.Mutex // serializes manifest appends and index replaces
}

// OpenFileBackend creates root if needed and returns a backend over it.
func OpenFileBackend(root string) (*FileBackend, error) {
	for _, dir := range []string{filepath.Join(root, "objects"), filepath.Join(root, "tiles")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("open file backend: %w", err)
		}
	}
	return &FileBackend{root: root}, nil
}

func (f *FileBackend) objectPath(ref addr.HashRef) (string, error) {
	if _, err := addr.ParseHashRef(string(ref)); err != nil {
		return "", err
	}
	hex := ref.Hex()
	return filepath.Join(f.root, "objects", ref.Algo(), hex[:2], hex), nil
}

func (f *FileBackend) tileDir(tile world.TileKey) (string, error) {
	if err := tile.Validate(); err != nil {
		return "", err
	}
	return filepath.Join(f.root, "tiles", url.PathEscape(tile.Space), url.PathEscape(tile.Tile)), nil
}

func collection(kind ObjectKind) string {
	return string(kind) + "s"
}

func (f *FileBackend) PutObject(ctx context.Context, tile world.TileKey, kind ObjectKind, ref addr.HashRef, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := f.objectPath(ref)
	if err != nil {
		return err
	}
	dir, err := f.tileDir(tile)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	if err := writeFileOnce(path, data, 0o444); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("put object %s: %w", ref, err)
	}

	memberDir := filepath.Join(dir, collection(kind))
	if err := os.MkdirAll(memberDir, 0o755); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	if err := os.Link(path, filepath.Join(memberDir, ref.Hex())); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("link object %s: %w", ref, err)
	}
	return nil
}

func (f *FileBackend) GetObject(ctx context.Context, ref addr.HashRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := f.objectPath(ref)
	if err != nil {
		return nil, world.NotFound("object", string(ref))
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, world.NotFound("object", string(ref))
	}
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", ref, err)
	}
	return data, nil
}

func (f *FileBackend) ListObjects(ctx context.Context, tile world.TileKey, kind ObjectKind) ([]addr.HashRef, error) {
	dir, err := f.tileDir(tile)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, collection(kind)))
	if errors.Is(err, os.ErrNotExist) {
		return []addr.HashRef{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection(kind), err)
	}

	out := make([]addr.HashRef, 0, len(entries))
	for _, e := range entries {
		ref, err := addr.ParseHashRef(addr.AlgoSHA256 + ":" + e.Name())
		if err != nil {
			continue // stray file
		}
		out = append(out, ref)
	}
	slices.Sort(out)
	return out, nil
}

func (f *FileBackend) AppendManifest(ctx context.Context, tile world.TileKey, entry world.ManifestEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := f.tileDir(tile)
	if err != nil {
		return err
	}
	line, err := addr.Canonicalize(entry)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("append manifest: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dir, "manifest.jsonl"), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("append manifest: %w", err)
	}
	defer file.Close()

	if err := trimTornTail(file); err != nil {
		return fmt.Errorf("append manifest: %w", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append manifest: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("append manifest: %w", err)
	}
	return nil
}

// trimTornTail truncates a manifest whose last line was cut short by a
// failed write, so the next line starts on a line boundary.
func trimTornTail(file *os.File) error {
	info, err := file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, size-1); err != nil {
		return err
	}
	if last[0] == '\n' {
		return nil
	}

	data := make([]byte, size)
	if _, err := file.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return file.Truncate(int64(bytes.LastIndexByte(data, '\n') + 1))
}

func (f *FileBackend) ReadManifest(ctx context.Context, tile world.TileKey) ([]world.ManifestEntry, error) {
	dir, err := f.tileDir(tile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "manifest.jsonl"))
	if errors.Is(err, os.ErrNotExist) {
		return []world.ManifestEntry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	out := []world.ManifestEntry{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var entry world.ManifestEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A torn final line from a crash mid-append is ignored.
			if !bytes.HasSuffix(data, []byte("\n")) && bytes.HasSuffix(data, line) {
				break
			}
			return nil, fmt.Errorf("read manifest line %d: %w", len(out)+1, err)
		}
		out = append(out, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return out, nil
}

func (f *FileBackend) PutIndex(ctx context.Context, tile world.TileKey, ix world.Index) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := f.tileDir(tile)
	if err != nil {
		return err
	}
	data, err := addr.Canonicalize(ix)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("put index: %w", err)
	}
	if err := writeFileReplace(filepath.Join(dir, "index.json"), data, 0o644); err != nil {
		return fmt.Errorf("put index: %w", err)
	}
	return nil
}

func (f *FileBackend) GetIndex(ctx context.Context, tile world.TileKey) (world.Index, error) {
	dir, err := f.tileDir(tile)
	if err != nil {
		return world.Index{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if errors.Is(err, os.ErrNotExist) {
		return world.Index{}, world.NotFound("tile", tile.String())
	}
	if err != nil {
		return world.Index{}, fmt.Errorf("get index: %w", err)
	}
	var ix world.Index
	if err := json.Unmarshal(data, &ix); err != nil {
		return world.Index{}, fmt.Errorf("decode index: %w", err)
	}
	return ix, nil
}

func (f *FileBackend) ListTiles(ctx context.Context) ([]world.TileKey, error) {
	base := filepath.Join(f.root, "tiles")
	spaces, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("list tiles: %w", err)
	}

	out := []world.TileKey{}
	for _, s := range spaces {
		if !s.IsDir() {
			continue
		}
		space, err := url.PathUnescape(s.Name())
		if err != nil {
			continue
		}
		tiles, err := os.ReadDir(filepath.Join(base, s.Name()))
		if err != nil {
			return nil, fmt.Errorf("list tiles: %w", err)
		}
		for _, t := range tiles {
			if !t.IsDir() {
				continue
			}
			tile, err := url.PathUnescape(t.Name())
			if err != nil {
				continue
			}
			out = append(out, world.TileKey{Space: space, Tile: tile})
		}
	}
	slices.SortFunc(out, compareTiles)
	return out, nil
}

func (f *FileBackend) Close() error { return nil }

// writeFileOnce writes data to filename so that no one ever sees a partial
// file: data goes to a synced temp file in the same directory, which is
// then hard-linked into place. It fails with os.ErrExist if filename
// already exists.
func writeFileOnce(filename string, data []byte, perm os.FileMode) error {
	tmp, err := writeTemp(filename, data, perm)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)
	return os.Link(tmp, filename)
}

// writeFileReplace is writeFileOnce for mutable records: the temp file is
// renamed over filename.
func writeFileReplace(filename string, data []byte, perm os.FileMode) error {
	tmp, err := writeTemp(filename, data, perm)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func writeTemp(filename string, data []byte, perm os.FileMode) (string, error) {
	dir, name := filepath.Split(filename)
	file, err := os.CreateTemp(dir, strings.TrimPrefix(name, ".")+"-*.tmp")
	if err != nil {
		return "", err
	}
	tmp := file.Name()

	fail := func(err error) (string, error) {
		file.Close()
		os.Remove(tmp)
		return "", err
	}

	n, err := file.Write(data)
	if err != nil {
		return fail(err)
	}
	if n < len(data) {
		return fail(errors.New("short write"))
	}
	if err := file.Chmod(perm); err != nil {
		return fail(err)
	}
	if err := file.Sync(); err != nil {
		return fail(err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}
