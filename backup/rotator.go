// Package backup writes timestamped snapshots of the command list and the
// users file, keeps only the newest few, and restores from them.
package backup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/sound-tender/store"
	"github.com/onnwee/sound-tender/telemetry"
)

const (
	// Dir is the snapshot directory below the data directory.
	Dir = "command_history"
	// BeforeRestore holds the command list as it was before the last restore.
	BeforeRestore = "commands_before_restore.json"

	KindCommands = "commands"
	KindUsers    = "users"

	stampLayout = "20060102_150405"
)

var snapshotName = regexp.MustCompile(`^(commands|users)_(\d{8}_\d{6})\.json$`)

// ErrInvalidName is returned for names that are not snapshot files.
var ErrInvalidName = errors.New("not a backup snapshot name")

// Snapshot describes one backup file.
type Snapshot struct {
	Name string    `json:"name"`
	Kind string    `json:"kind"`
	Time time.Time `json:"time"`
	Size int64     `json:"size"`
}

// ParseName extracts kind and timestamp from a snapshot file name.
func ParseName(name string) (string, time.Time, error) {
	m := snapshotName.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	ts, err := time.ParseInLocation(stampLayout, m[2], time.Local)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return m[1], ts, nil
}

// Rotator writes snapshots into a directory and keeps at most max of each
// kind, dropping the oldest by file name timestamp.
type Rotator struct {
	dir   string
	clock clockwork.Clock

	mu  sync.Mutex
	max int
}

// NewRotator returns a rotator writing to dataDir/command_history.
func NewRotator(dataDir string, keep int, clock clockwork.Clock) *Rotator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Rotator{dir: filepath.Join(dataDir, Dir), clock: clock, max: max(keep, 1)}
}

// Dir returns the snapshot directory.
func (r *Rotator) Dir() string { return r.dir }

// SetMax changes the retention cap. Values below 1 become 1.
func (r *Rotator) SetMax(n int) {
	r.mu.Lock()
	r.max = max(n, 1)
	r.mu.Unlock()
}

func (r *Rotator) Max() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.max
}

// Write stores data as a new kind snapshot and rotates. A second snapshot of
// the same kind within one second replaces the first.
func (r *Rotator) Write(kind string, data []byte) (Snapshot, error) {
	if kind != KindCommands && kind != KindUsers {
		return Snapshot{}, fmt.Errorf("unknown snapshot kind %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return Snapshot{}, fmt.Errorf("create backup dir: %w", err)
	}
	now := r.clock.Now()
	name := kind + "_" + now.Format(stampLayout) + ".json"
	if err := store.WriteFileAtomic(filepath.Join(r.dir, name), data, 0o644); err != nil {
		return Snapshot{}, fmt.Errorf("write backup %s: %w", name, err)
	}
	if kind == KindCommands {
		telemetry.BackupWritten()
	}
	removed, err := r.rotateLocked(kind)
	if err != nil {
		slog.Warn("backup rotation failed", slog.String("component", "backup"), slog.Any("err", err))
	}
	slog.Info("backup written", slog.String("component", "backup"), slog.String("name", name), slog.Int("removed", len(removed)))
	ts, _ := time.ParseInLocation(stampLayout, now.Format(stampLayout), time.Local)
	return Snapshot{Name: name, Kind: kind, Time: ts, Size: int64(len(data))}, nil
}

// Rotate deletes the oldest kind snapshots beyond the cap.
func (r *Rotator) Rotate(kind string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotateLocked(kind)
}

func (r *Rotator) rotateLocked(kind string) ([]string, error) {
	snaps, err := r.list(kind)
	if err != nil || len(snaps) <= r.max {
		return nil, err
	}
	var removed []string
	var errs []error
	for _, s := range snaps[r.max:] {
		if err := os.Remove(filepath.Join(r.dir, s.Name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, s.Name)
	}
	return removed, errors.Join(errs...)
}

// List returns the kind snapshots, newest first. An empty kind lists both.
func (r *Rotator) List(kind string) ([]Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list(kind)
}

func (r *Rotator) list(kind string) ([]Snapshot, error) {
	entries, err := os.ReadDir(r.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	var out []Snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		k, ts, err := ParseName(e.Name())
		if err != nil || (kind != "" && k != kind) {
			continue
		}
		s := Snapshot{Name: e.Name(), Kind: k, Time: ts}
		if info, err := e.Info(); err == nil {
			s.Size = info.Size()
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Time.Equal(out[j].Time) {
			return out[i].Time.After(out[j].Time)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Read returns the contents of a snapshot.
func (r *Rotator) Read(name string) ([]byte, error) {
	if _, _, err := ParseName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("backup %s: %w", name, store.ErrNotExist)
	}
	return data, err
}

// WriteBeforeRestore stores the safety copy taken before a restore.
func (r *Rotator) WriteBeforeRestore(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	return store.WriteFileAtomic(filepath.Join(r.dir, BeforeRestore), data, 0o644)
}
