package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore persists checkpoints as one JSON file per run key in a
// directory. Commits write to a temporary file in the same directory and
// rename it over the old one, so a crash mid-write leaves either the old
// checkpoint or the new one, never a torn file.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	closed bool
}

// NewFileStore creates a file-backed checkpoint store rooted at dir,
// creating the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Load implements Store.
func (s *FileStore) Load(runKey string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(s.path(runKey))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	rec, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if rec.Version != Version {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrVersionMismatch, rec.Version, Version)
	}
	return rec, nil
}

// Save implements Store.
func (s *FileStore) Save(runKey string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	// Temp file in the same directory so the rename stays on one filesystem.
	tmp, err := os.CreateTemp(s.dir, "."+sanitize(runKey)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, s.path(runKey)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(runKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	err := os.Remove(s.path(runKey))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// path returns the checkpoint file path for a run key.
func (s *FileStore) path(runKey string) string {
	return filepath.Join(s.dir, sanitize(runKey)+".json")
}

// sanitize makes a run key safe to use as a file name.
func sanitize(runKey string) string {
	out := make([]rune, 0, len(runKey))
	for _, r := range runKey {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
