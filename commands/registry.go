package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/onnwee/sound-tender/store"
)

// Registry is the authoritative, ordered set of commands. Names are unique
// case-insensitively. It remembers the order the list had when it was last
// loaded or saved so that renames in the editor do not reshuffle the file.
type Registry struct {
	writeMu  sync.Mutex
	mu       sync.RWMutex
	cmds     []Command
	index    map[string]int
	original []Command
	version  uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: map[string]int{}}
}

func (r *Registry) reindex() {
	r.index = make(map[string]int, len(r.cmds))
	for i, c := range r.cmds {
		r.index[c.Key()] = i
	}
}

// Version changes on every mutation.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Len returns the number of commands.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cmds)
}

// Lookup finds a command by trigger, ignoring case.
func (r *Registry) Lookup(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[Key(name)]
	if !ok {
		return Command{}, false
	}
	return r.cmds[i], true
}

// List returns the commands in their current order.
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.cmds)
}

// Add appends a new command.
func (r *Registry) Add(c Command) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.index[c.Key()]; dup {
		return invalid("Command", fmt.Sprintf("%s already exists", c.Command))
	}
	r.cmds = append(r.cmds, c)
	r.index[c.Key()] = len(r.cmds) - 1
	r.version++
	return nil
}

// Remove deletes a command.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[Key(name)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r.cmds = slices.Delete(r.cmds, i, i+1)
	r.reindex()
	r.version++
	return nil
}

// Update applies fn to a copy of the named command and stores the result if it
// is valid. fn may rename the command; the new name must not collide.
func (r *Registry) Update(name string, fn func(*Command)) (Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[Key(name)]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	prev := r.cmds[i]
	next := prev
	fn(&next)
	if err := next.Validate(); err != nil {
		return prev, err
	}
	if next.Count < prev.Count {
		return prev, invalid("Count", "must not decrease")
	}
	if next.Key() != prev.Key() {
		if _, dup := r.index[next.Key()]; dup {
			return prev, invalid("Command", fmt.Sprintf("%s already exists", next.Command))
		}
	}
	r.cmds[i] = next
	if next.Key() != prev.Key() {
		r.reindex()
	}
	r.version++
	return next, nil
}

// IncrementCount bumps the usage counter of a command.
func (r *Registry) IncrementCount(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[Key(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	r.cmds[i].Count++
	r.version++
	return r.cmds[i].Count, nil
}

// Move places the named command at position to. This is an explicit user
// reorder, so it also becomes the remembered order.
func (r *Registry) Move(name string, to int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[Key(name)]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if to < 0 || to >= len(r.cmds) {
		return invalid("index", fmt.Sprintf("%d out of range", to))
	}
	c := r.cmds[i]
	r.cmds = slices.Delete(r.cmds, i, i+1)
	r.cmds = slices.Insert(r.cmds, to, c)
	r.reindex()
	r.original = slices.Clone(r.cmds)
	r.version++
	return nil
}

// Replace swaps in a whole list, as on file load or restore. The new list is
// also the remembered order.
func (r *Registry) Replace(cmds []Command) error {
	seen := make(map[string]bool, len(cmds))
	for _, c := range cmds {
		if err := c.Validate(); err != nil {
			return err
		}
		if seen[c.Key()] {
			return invalid("Command", fmt.Sprintf("%s appears twice", c.Command))
		}
		seen[c.Key()] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = slices.Clone(cmds)
	r.original = slices.Clone(cmds)
	r.reindex()
	r.version++
	return nil
}

// Reconciled returns the current commands arranged in the remembered order.
//
// Current entries are matched to remembered ones by name first, then by an
// identical (SoundFile, Response) pair, which is how renamed commands keep
// their place. Unmatched current entries follow in their current order.
func (r *Registry) Reconciled() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return reconcile(r.original, r.cmds)
}

func reconcile(original, current []Command) []Command {
	used := make([]bool, len(current))
	match := make([]int, len(original))
	byName := make(map[string]int, len(current))
	for i, c := range current {
		if _, ok := byName[c.Key()]; !ok {
			byName[c.Key()] = i
		}
	}
	for j, o := range original {
		match[j] = -1
		if i, ok := byName[o.Key()]; ok && !used[i] {
			match[j] = i
			used[i] = true
		}
	}
	for j, o := range original {
		if match[j] >= 0 || (o.SoundFile == "" && o.Response == "") {
			continue
		}
		for i, c := range current {
			if !used[i] && c.SoundFile == o.SoundFile && c.Response == o.Response {
				match[j] = i
				used[i] = true
				break
			}
		}
	}

	out := make([]Command, 0, len(current))
	for _, i := range match {
		if i >= 0 {
			out = append(out, current[i])
		}
	}
	for i, c := range current {
		if !used[i] {
			out = append(out, c)
		}
	}

	seen := make(map[string]bool, len(out))
	dedup := out[:0]
	for _, c := range out {
		if seen[c.Key()] {
			continue
		}
		seen[c.Key()] = true
		dedup = append(dedup, c)
	}
	return dedup
}

// Dump serializes the reconciled list in the commands.json format.
func (r *Registry) Dump() ([]byte, error) {
	cmds := r.Reconciled()
	if cmds == nil {
		cmds = []Command{}
	}
	return store.Marshal(cmds)
}

// Load reads commands.json from b, applying defaults to missing fields. A
// missing or malformed file yields an empty registry and an empty file.
func (r *Registry) Load(ctx context.Context, b store.Backend) error {
	data, err := b.Read(ctx, store.Commands)
	var cmds []Command
	switch {
	case errors.Is(err, store.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read commands: %w", err)
	default:
		cmds, err = Decode(data)
		if err != nil {
			slog.Warn("commands file malformed, starting empty", slog.String("component", "commands"), slog.Any("err", err))
			if q, ok := b.(interface {
				Quarantine(ctx context.Context, name string, data []byte)
			}); ok {
				q.Quarantine(ctx, store.Commands, data)
			}
			cmds = nil
		}
	}
	if err := r.Replace(cmds); err != nil {
		return err
	}
	if len(data) == 0 || cmds == nil {
		return r.Save(ctx, b)
	}
	return nil
}

// Save writes the reconciled list to commands.json. After a successful write
// the written order becomes both the current and the remembered order.
func (r *Registry) Save(ctx context.Context, b store.Backend) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	cmds := reconcile(r.original, r.cmds)
	v := r.version
	r.mu.RUnlock()

	if err := store.SaveJSON(ctx, b, store.Commands, cmds); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.original = slices.Clone(cmds)
	// A mutation during the write wins; its order is reconciled next save.
	if r.version == v {
		r.cmds = cmds
		r.reindex()
	}
	return nil
}
