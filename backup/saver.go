package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/sound-tender/commands"
	"github.com/onnwee/sound-tender/currency"
	"github.com/onnwee/sound-tender/store"
	"github.com/onnwee/sound-tender/telemetry"
)

// Mode says what triggered a save.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeAuto   Mode = "auto"
	ModeClose  Mode = "close"
)

// SignificantChange decides whether an auto-save also takes a snapshot: the
// previous list was empty, the size changed by more than one, the set of
// names differs, or a command's sound file or response changed.
func SignificantChange(prev, cur []commands.Command) bool {
	if len(prev) == 0 {
		return true
	}
	if d := len(prev) - len(cur); d > 1 || d < -1 {
		return true
	}
	old := make(map[string]commands.Command, len(prev))
	for _, c := range prev {
		old[c.Key()] = c
	}
	if len(old) != len(cur) {
		return true
	}
	for _, c := range cur {
		p, ok := old[c.Key()]
		if !ok || p.SoundFile != c.SoundFile || p.Response != c.Response {
			return true
		}
	}
	return false
}

// SaveResult reports what a save wrote.
type SaveResult struct {
	Wrote  bool
	Backup string
}

// Saver persists the registry and the users file and takes snapshots.
type Saver struct {
	registry *commands.Registry
	currency *currency.Manager
	backend  store.Backend
	rotator  *Rotator

	mu    sync.Mutex
	last  []commands.Command
	saved uint64
	init  bool
}

// NewSaver returns a saver. The registry should already be loaded; its
// current content is the baseline for change detection.
func NewSaver(reg *commands.Registry, cur *currency.Manager, b store.Backend, rot *Rotator) *Saver {
	return &Saver{registry: reg, currency: cur, backend: b, rotator: rot}
}

func (s *Saver) baselineLocked() {
	if s.init {
		return
	}
	s.init = true
	s.last = s.registry.Reconciled()
	s.saved = s.registry.Version()
}

// Dirty reports whether the registry changed since the last save.
func (s *Saver) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselineLocked()
	return s.registry.Version() != s.saved
}

// Save writes commands.json and the users file. Manual and close saves
// always snapshot; auto saves only write when something changed and only
// snapshot on a significant change.
func (s *Saver) Save(ctx context.Context, mode Mode) (SaveResult, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerBackup, "backup.save", attribute.String("mode", string(mode)))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "backup"), slog.String("mode", string(mode)))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselineLocked()

	var res SaveResult
	var errs []error
	if s.currency != nil {
		if err := s.currency.Save(ctx); err != nil {
			errs = append(errs, fmt.Errorf("save users: %w", err))
		}
	}

	dirty := s.registry.Version() != s.saved
	if mode == ModeAuto && !dirty {
		return res, errors.Join(errs...)
	}
	if err := s.registry.Save(ctx, s.backend); err != nil {
		errs = append(errs, fmt.Errorf("save commands: %w", err))
		telemetry.RecordError(span, errors.Join(errs...))
		return res, errors.Join(errs...)
	}
	res.Wrote = true
	s.saved = s.registry.Version()
	cur := s.registry.Reconciled()

	if mode == ModeAuto && !SignificantChange(s.last, cur) {
		log.Debug("auto-save without snapshot")
		s.last = cur
		return res, errors.Join(errs...)
	}
	if s.rotator != nil {
		snap, err := s.snapshotLocked(cur)
		if err != nil {
			errs = append(errs, err)
		} else {
			res.Backup = snap
		}
	}
	s.last = cur
	if err := errors.Join(errs...); err != nil {
		telemetry.RecordError(span, err)
		return res, err
	}
	telemetry.SetSpanSuccess(span)
	return res, nil
}

func (s *Saver) snapshotLocked(cur []commands.Command) (string, error) {
	if cur == nil {
		cur = []commands.Command{}
	}
	data, err := store.Marshal(cur)
	if err != nil {
		return "", err
	}
	snap, err := s.rotator.Write(KindCommands, data)
	if err != nil {
		return "", err
	}
	if s.currency != nil {
		users, err := store.Marshal(s.currency.Users())
		if err != nil {
			return snap.Name, err
		}
		if _, err := s.rotator.Write(KindUsers, users); err != nil {
			return snap.Name, err
		}
	}
	return snap.Name, nil
}

// Preview decodes a commands snapshot without touching the registry.
func (s *Saver) Preview(name string) ([]commands.Command, error) {
	if kind, _, err := ParseName(name); err != nil {
		return nil, err
	} else if kind != KindCommands {
		return nil, fmt.Errorf("%w: %s is not a commands snapshot", ErrInvalidName, name)
	}
	data, err := s.rotator.Read(name)
	if err != nil {
		return nil, err
	}
	return commands.Decode(data)
}

// Restore replaces the live command list with a snapshot. The current list
// is first written to commands_before_restore.json.
func (s *Saver) Restore(ctx context.Context, name string) ([]commands.Command, error) {
	cmds, err := s.Preview(name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselineLocked()

	current, err := s.registry.Dump()
	if err != nil {
		return nil, err
	}
	if err := s.rotator.WriteBeforeRestore(current); err != nil {
		return nil, fmt.Errorf("write safety copy: %w", err)
	}
	if err := s.registry.Replace(cmds); err != nil {
		return nil, err
	}
	if err := s.registry.Save(ctx, s.backend); err != nil {
		return nil, fmt.Errorf("save restored commands: %w", err)
	}
	s.saved = s.registry.Version()
	s.last = s.registry.Reconciled()
	slog.Info("commands restored", slog.String("component", "backup"), slog.String("name", name), slog.Int("commands", len(cmds)))
	return s.last, nil
}
