// Package blobstore implements the content-addressed FileBlobStore:
// atomic whole-file writes via a temp-file-then-rename, and atomic
// line appends for the worker's incremental result checkpointing.
package blobstore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Store is a filesystem-backed blob store rooted at a single directory.
// IDs are opaque; the on-disk layout is id[0:2]/id for simple fan-out,
// following the same "validate an absolute path, create parent dirs,
// write" discipline the checkpoint file store in this codebase uses.
type Store struct {
	root string
	// appendMu serializes append_line calls per path so two goroutines
	// writing result lines for the same batch never interleave partial
	// writes; the map itself is guarded by mapMu.
	mapMu   sync.Mutex
	appendMu map[string]*sync.Mutex
}

func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &Store{root: abs, appendMu: make(map[string]*sync.Mutex)}, nil
}

// NewID allocates a new opaque blob path for a given prefix (e.g.
// "file", "result") without writing anything yet.
func (s *Store) NewID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}

// PathFor returns the absolute on-disk path for an ID, creating its
// parent directory. Callers persist this path in the metadata store.
func (s *Store) PathFor(id string) (string, error) {
	if len(id) < 2 {
		return "", fmt.Errorf("blobstore: id too short: %q", id)
	}
	dir := filepath.Join(s.root, id[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, id), nil
}

// Put writes data to path atomically: write to a sibling temp file,
// fsync it, then rename over the destination. A reader never observes
// a partially written file.
func (s *Store) Put(path string, r io.Reader) (int64, error) {
	if !filepath.IsAbs(path) {
		return 0, fmt.Errorf("blobstore: path must be absolute: %q", path)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, err
	}
	return n, nil
}

// Open opens path for reading.
func (s *Store) Open(path string) (*os.File, error) {
	return os.Open(path)
}

// Size stats path's length.
func (s *Store) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Delete removes path. Deleting an already-absent file is not an
// error, matching the idempotent-delete semantics soft-delete expects.
func (s *Store) Delete(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AppendLine appends a single newline-terminated line to path,
// creating it if necessary, serialized per-path so concurrent result
// writers for the same output file never produce a torn line. This is
// the durability checkpoint the worker's chunked execution relies on:
// every completed chunk's lines are appended and fsynced before the
// worker advances its resume cursor.
func (s *Store) AppendLine(path string, line []byte) error {
	mu := s.lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.Write(line); err != nil {
		return err
	}
	if len(line) == 0 || line[len(line)-1] != '\n' {
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func (s *Store) lockFor(path string) *sync.Mutex {
	s.mapMu.Lock()
	defer s.mapMu.Unlock()
	mu, ok := s.appendMu[path]
	if !ok {
		mu = &sync.Mutex{}
		s.appendMu[path] = mu
	}
	return mu
}
