// Package currency keeps per-viewer balances and watch time, the currency
// settings and rank table, and the accrual scheduler that pays viewers over
// time.
package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/sound-tender/store"
	"github.com/onnwee/sound-tender/telemetry"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownUser       = errors.New("unknown user")
	ErrUserExists        = errors.New("user already exists")
	ErrInvalidAmount     = errors.New("amount must not be negative")
	ErrInvalidRank       = errors.New("rank name must not be empty")
)

// Manager owns the users map. A single mutex guards it; no method holds the
// mutex while doing file I/O.
type Manager struct {
	backend store.Backend
	clock   clockwork.Clock

	mu       sync.Mutex
	users    map[string]*User
	settings Settings
	ranks    []Rank
	version  uint64
	saved    uint64

	writeMu sync.Mutex
}

// NewManager returns a manager with default settings and no users.
func NewManager(backend store.Backend, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{backend: backend, clock: clock, users: map[string]*User{}, settings: DefaultSettings()}
}

// Load reads settings, ranks and users from the backend.
func (m *Manager) Load(ctx context.Context) error {
	settings, err := LoadSettings(ctx, m.backend)
	if err != nil {
		return err
	}
	ranks, err := LoadRanks(ctx, m.backend)
	if err != nil {
		return err
	}
	var raw map[string]*User
	if _, err := store.LoadJSON(ctx, m.backend, store.Users, &raw, func() { raw = map[string]*User{} }); err != nil {
		return err
	}
	users := make(map[string]*User, len(raw))
	for name, u := range raw {
		key := Username(name)
		if u == nil || key == "" {
			continue
		}
		if prev, ok := users[key]; ok && prev.Points >= u.Points {
			continue
		}
		users[key] = u
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	m.ranks = ranks
	m.users = users
	for _, u := range m.users {
		m.refreshLocked(u)
	}
	m.saved = m.version
	slog.Info("currency loaded", slog.String("component", "currency"), slog.Int("users", len(users)), slog.Int("ranks", len(ranks)))
	return nil
}

// Settings returns the current settings.
func (m *Manager) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// SetSettings normalizes, stores and persists new settings.
func (m *Manager) SetSettings(ctx context.Context, s Settings) (Settings, error) {
	s.Normalize()
	m.mu.Lock()
	m.settings = s
	for _, u := range m.users {
		m.refreshLocked(u)
	}
	m.version++
	m.mu.Unlock()
	if err := store.SaveJSON(ctx, m.backend, store.CurrencySettings, s); err != nil {
		return s, err
	}
	return s, nil
}

// Ranks returns the rank table sorted by Required.
func (m *Manager) Ranks() []Rank {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ranks)
}

// SetRanks replaces and persists the rank table, re-resolving every user.
func (m *Manager) SetRanks(ctx context.Context, ranks []Rank) error {
	for _, r := range ranks {
		if strings.TrimSpace(r.Name) == "" {
			return ErrInvalidRank
		}
	}
	sorted := SortRanks(ranks)
	m.mu.Lock()
	m.ranks = sorted
	for _, u := range m.users {
		m.refreshLocked(u)
	}
	m.version++
	m.mu.Unlock()
	return store.SaveJSON(ctx, m.backend, store.Ranks, sorted)
}

func (m *Manager) basis(u *User, b Basis) float64 {
	if b == BasisHours {
		return u.Hours
	}
	return u.Points
}

// refreshLocked applies auto-regular promotion and re-resolves the cached rank.
func (m *Manager) refreshLocked(u *User) {
	s := m.settings
	if s.AutoRegularEnabled && !u.IsRegular && m.basis(u, s.AutoRegularBasis) >= s.AutoRegularAmount {
		u.IsRegular = true
	}
	if r, ok := ResolveRank(m.ranks, m.basis(u, s.RankBasis)); ok {
		u.Rank = r.Name
	} else {
		u.Rank = ""
	}
}

func (m *Manager) userLocked(name string, create bool) (*User, string) {
	key := Username(name)
	u, ok := m.users[key]
	if !ok && create && key != "" {
		u = &User{}
		m.users[key] = u
	}
	return u, key
}

// AddPoints credits amount to user, creating the record if needed, and
// returns the new balance.
func (m *Manager) AddPoints(name string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, key := m.userLocked(name, true)
	if u == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUser, key)
	}
	u.Points = Round2(u.Points + amount)
	u.LastSeen = Timestamp{m.clock.Now()}
	m.refreshLocked(u)
	m.version++
	return u.Points, nil
}

// SetPoints overwrites a balance.
func (m *Manager) SetPoints(name string, amount float64) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, key := m.userLocked(name, true)
	if u == nil {
		return fmt.Errorf("%w: %q", ErrUnknownUser, key)
	}
	u.Points = Round2(amount)
	m.refreshLocked(u)
	m.version++
	return nil
}

// RemovePoints debits up to amount, flooring the balance at zero.
func (m *Manager) RemovePoints(name string, amount float64) (float64, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, key := m.userLocked(name, false)
	if u == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownUser, key)
	}
	u.Points = max(Round2(u.Points-amount), 0)
	m.refreshLocked(u)
	m.version++
	return u.Points, nil
}

// PayForCommand debits cost only if the balance covers it. It reports
// whether the debit happened.
func (m *Manager) PayForCommand(name string, cost float64) bool {
	if cost <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, _ := m.userLocked(name, false)
	if u == nil || u.Points < cost {
		return false
	}
	u.Points = Round2(u.Points - cost)
	m.refreshLocked(u)
	m.version++
	return true
}

// AddHours adds watch time.
func (m *Manager) AddHours(name string, hours float64) error {
	if hours < 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, key := m.userLocked(name, true)
	if u == nil {
		return fmt.Errorf("%w: %q", ErrUnknownUser, key)
	}
	u.Hours = Round2(u.Hours + hours)
	m.refreshLocked(u)
	m.version++
	return nil
}

// AddUser inserts a new record.
func (m *Manager) AddUser(name string, u User) error {
	key := Username(name)
	if key == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownUser)
	}
	if u.Points < 0 || u.Hours < 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[key]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, key)
	}
	u.Points, u.Hours = Round2(u.Points), Round2(u.Hours)
	if u.LastSeen.IsZero() {
		u.LastSeen = Timestamp{m.clock.Now()}
	}
	m.refreshLocked(&u)
	m.users[key] = &u
	m.version++
	return nil
}

// UpdateUser applies fn to a copy of the record and keeps it if valid.
func (m *Manager) UpdateUser(name string, fn func(*User)) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, key := m.userLocked(name, false)
	if u == nil {
		return User{}, fmt.Errorf("%w: %q", ErrUnknownUser, key)
	}
	next := *u
	fn(&next)
	if next.Points < 0 || next.Hours < 0 {
		return *u, ErrInvalidAmount
	}
	next.Points, next.Hours = Round2(next.Points), Round2(next.Hours)
	m.refreshLocked(&next)
	*u = next
	m.version++
	return next, nil
}

// RemoveUser deletes a record.
func (m *Manager) RemoveUser(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Username(name)
	if _, ok := m.users[key]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownUser, key)
	}
	delete(m.users, key)
	m.version++
	return nil
}

// User returns a copy of one record.
func (m *Manager) User(name string) (User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, _ := m.userLocked(name, false)
	if u == nil {
		return User{}, false
	}
	return *u, true
}

// Users returns a copy of every record.
func (m *Manager) Users() map[string]User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() map[string]User {
	out := make(map[string]User, len(m.users))
	for k, u := range m.users {
		out[k] = *u
	}
	return out
}

// ObserveRoles records what chat badges say about a viewer and marks them
// seen.
func (m *Manager) ObserveRoles(name string, subscriber, moderator bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, _ := m.userLocked(name, true)
	if u == nil {
		return
	}
	u.IsSubscriber = subscriber
	u.IsMod = moderator
	u.LastSeen = Timestamp{m.clock.Now()}
	m.version++
}

// ResolveRank returns the rank name for a user, or "" without one.
func (m *Manager) ResolveRank(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, _ := m.userLocked(name, false)
	if u == nil {
		u = &User{}
	}
	r, _ := ResolveRank(m.ranks, m.basis(u, m.settings.RankBasis))
	return r.Name
}

// FormatCurrencyMessage expands the balance reply template for a user.
func (m *Manager) FormatCurrencyMessage(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var u User
	if p, _ := m.userLocked(name, false); p != nil {
		u = *p
	}
	r, _ := ResolveRank(m.ranks, m.basis(&u, m.settings.RankBasis))
	return strings.NewReplacer(
		"$username", strings.TrimPrefix(strings.TrimSpace(name), "@"),
		"$rank", r.Name,
		"$hours", FormatHours(u.Hours),
		"$points", fmt.Sprintf("%.2f", u.Points),
		"$currencyname", m.settings.CurrencyName,
	).Replace(m.settings.MessageTemplate)
}

// Credit is one user's share of an accrual tick.
type Credit struct {
	Points float64
	Hours  float64
}

// Accrue credits every named viewer under a single lock acquisition. fn sees
// the current record and returns what to add. It returns the total points
// credited and how many users received something.
func (m *Manager) Accrue(names []string, fn func(name string, u User) Credit) (float64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	total, n := 0.0, 0
	for _, name := range names {
		u, key := m.userLocked(name, true)
		if u == nil {
			continue
		}
		c := fn(key, *u)
		if c.Points < 0 || c.Hours < 0 {
			continue
		}
		u.Points = Round2(u.Points + c.Points)
		u.Hours = Round2(u.Hours + c.Hours)
		u.LastSeen = Timestamp{now}
		m.refreshLocked(u)
		total += c.Points
		n++
	}
	if n > 0 {
		m.version++
	}
	return Round2(total), n
}

// EventKind names a one-shot chat event that pays out.
type EventKind string

const (
	EventRaid        EventKind = "raid"
	EventFollow      EventKind = "follow"
	EventSub         EventKind = "sub"
	EventMassSubGift EventKind = "mass_sub_gift"
	EventHost        EventKind = "host"
)

// AwardEvent credits the configured payout for an event. For mass sub gifts
// count multiplies the per-gift payout.
func (m *Manager) AwardEvent(kind EventKind, name string, count int) (float64, error) {
	s := m.Settings()
	var amount float64
	switch kind {
	case EventRaid:
		amount = s.RaidPayout
	case EventFollow:
		amount = s.FollowPayout
	case EventSub:
		amount = s.SubEventPayout
	case EventMassSubGift:
		amount = s.MassSubPayout * float64(max(count, 1))
	case EventHost:
		amount = s.HostPayout
	default:
		return 0, fmt.Errorf("unknown event kind %q", kind)
	}
	if amount <= 0 {
		return 0, nil
	}
	if _, err := m.AddPoints(name, amount); err != nil {
		return 0, err
	}
	telemetry.AddPoints(amount)
	return Round2(amount), nil
}

// Dirty reports whether there are changes not yet flushed.
func (m *Manager) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version != m.saved
}

// Flush writes the users file unconditionally. The map is copied under the
// mutex and written outside it.
func (m *Manager) Flush(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	snap := m.snapshotLocked()
	v := m.version
	m.mu.Unlock()

	if err := store.SaveJSON(ctx, m.backend, store.Users, snap); err != nil {
		return err
	}
	m.mu.Lock()
	m.saved = v
	m.mu.Unlock()
	return nil
}

// Save flushes only when something changed since the last flush.
func (m *Manager) Save(ctx context.Context) error {
	if !m.Dirty() {
		return nil
	}
	return m.Flush(ctx)
}

// SortedNames lists usernames alphabetically.
func (m *Manager) SortedNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.users))
}
