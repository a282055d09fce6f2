package chat

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/onnwee/sound-tender/store"
)

// ModeratorList is the moderators.json dataset.
type ModeratorList struct {
	Manual   []string `json:"manual_moderators"`
	Excluded []string `json:"excluded_moderators"`
	Notes    string   `json:"notes"`
}

func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		n = login(n)
		if n == "" || slices.Contains(out, n) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func login(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "@"))
}

// Moderators tracks the effective moderator set:
// (api ∪ badge ∪ manual) \ excluded.
type Moderators struct {
	backend store.Backend

	mu    sync.RWMutex
	list  ModeratorList
	api   map[string]struct{}
	badge map[string]struct{}
}

// NewModerators returns an empty set backed by b.
func NewModerators(b store.Backend) *Moderators {
	return &Moderators{
		backend: b,
		list:    ModeratorList{Manual: []string{}, Excluded: []string{}},
		api:     map[string]struct{}{},
		badge:   map[string]struct{}{},
	}
}

// Load reads moderators.json, creating it when absent.
func (m *Moderators) Load(ctx context.Context) error {
	var l ModeratorList
	_, err := store.LoadJSON(ctx, m.backend, store.Moderators, &l, func() {
		l = ModeratorList{Manual: []string{}, Excluded: []string{}}
	})
	if err != nil {
		return err
	}
	l.Manual = normalizeNames(l.Manual)
	l.Excluded = normalizeNames(l.Excluded)
	m.mu.Lock()
	m.list = l
	m.mu.Unlock()
	return nil
}

// List returns a copy of the stored lists.
func (m *Moderators) List() ModeratorList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ModeratorList{Manual: slices.Clone(m.list.Manual), Excluded: slices.Clone(m.list.Excluded), Notes: m.list.Notes}
}

// SetList replaces and persists the manual and excluded lists.
func (m *Moderators) SetList(ctx context.Context, l ModeratorList) (ModeratorList, error) {
	l.Manual = normalizeNames(l.Manual)
	l.Excluded = normalizeNames(l.Excluded)
	if err := store.SaveJSON(ctx, m.backend, store.Moderators, l); err != nil {
		return ModeratorList{}, err
	}
	m.mu.Lock()
	m.list = l
	m.mu.Unlock()
	return l, nil
}

// SetAPI replaces the moderators reported by Helix.
func (m *Moderators) SetAPI(names []string) {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n = login(n); n != "" {
			set[n] = struct{}{}
		}
	}
	m.mu.Lock()
	m.api = set
	m.mu.Unlock()
}

// ObserveBadge records whether a chatter carried a moderator badge.
func (m *Moderators) ObserveBadge(name string, mod bool) {
	name = login(name)
	if name == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if mod {
		m.badge[name] = struct{}{}
	} else {
		delete(m.badge, name)
	}
}

// IsExcluded reports whether name is on the excluded list.
func (m *Moderators) IsExcluded(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Contains(m.list.Excluded, login(name))
}

// IsModerator reports membership in the effective set.
func (m *Moderators) IsModerator(name string) bool {
	name = login(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if slices.Contains(m.list.Excluded, name) {
		return false
	}
	if _, ok := m.api[name]; ok {
		return true
	}
	if _, ok := m.badge[name]; ok {
		return true
	}
	return slices.Contains(m.list.Manual, name)
}

// Effective returns the sorted effective moderator set.
func (m *Moderators) Effective() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]struct{}{}
	for n := range m.api {
		seen[n] = struct{}{}
	}
	for n := range m.badge {
		seen[n] = struct{}{}
	}
	for _, n := range m.list.Manual {
		seen[n] = struct{}{}
	}
	for _, n := range m.list.Excluded {
		delete(seen, n)
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
