package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockName = ".sound-tender.lock"

// Files is a Backend over a directory of JSON documents.
type Files struct {
	dir  string
	lock *flock.Flock
}

// NewFiles returns a Files backend rooted at dir, creating it if needed.
func NewFiles(dir string) (*Files, error) {
	if dir == "" {
		return nil, errors.New("data dir empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Files{dir: dir, lock: flock.New(filepath.Join(dir, lockName))}, nil
}

// Dir returns the root directory.
func (f *Files) Dir() string { return f.dir }

// Path resolves a dataset name to its file path.
func (f *Files) Path(name string) string { return filepath.Join(f.dir, filepath.FromSlash(name)) }

// Lock takes an exclusive lock on the data directory so only one process
// mutates the datasets at a time.
func (f *Files) Lock() error {
	ok, err := f.lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !ok {
		return fmt.Errorf("data dir %s is in use by another process", f.dir)
	}
	return nil
}

// Unlock releases the directory lock.
func (f *Files) Unlock() error { return f.lock.Unlock() }

func (f *Files) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(f.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotExist
	}
	return data, err
}

func (f *Files) Write(_ context.Context, name string, data []byte) error {
	perm := fs.FileMode(0o644)
	if name == Credentials {
		perm = 0o600
	}
	return WriteFileAtomic(f.Path(name), data, perm)
}

// Quarantine keeps a copy of a malformed document next to the original.
func (f *Files) Quarantine(_ context.Context, name string, data []byte) {
	bad := f.Path(name) + ".corrupt"
	if err := os.WriteFile(bad, data, 0o600); err != nil {
		slog.Warn("failed to preserve malformed dataset", slog.String("path", bad), slog.Any("err", err))
	}
}

// WriteFileAtomic writes data to a temp file in the target directory, fsyncs
// it and renames it over path.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	// Directory fsync makes the rename durable; not all platforms allow it.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
