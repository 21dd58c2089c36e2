package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Store persists the snapshot as a single JSON document on disk.
// It holds no business logic; the dispatcher owns all mutation.
type Store struct {
	path string
}

// NewStore creates a store writing to path. The parent directory is
// created if needed.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return &Store{path: path}, nil
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Load reads the snapshot from disk. A missing file yields a fresh empty
// snapshot; a corrupt file is logged and replaced by a fresh snapshot
// rather than aborting startup. Missing collections default to empty.
func (s *Store) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("no snapshot found, starting fresh", "path", s.path)
			return NewSnapshot(), nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	snap := &Snapshot{Settings: Settings{AutoEndButton: true}}
	if err := json.Unmarshal(data, snap); err != nil {
		slog.Error("snapshot unreadable, starting fresh", "path", s.path, "error", err)
		return NewSnapshot(), nil
	}
	snap.Normalize()
	return snap, nil
}

// Save writes the snapshot atomically: temp file, fsync, rename.
func (s *Store) Save(snap *Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	tmp.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	cleanup = false
	return nil
}
