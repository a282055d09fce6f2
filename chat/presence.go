package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultActiveWindow is how long a chatter counts as active.
const DefaultActiveWindow = 15 * time.Minute

// Presence is the viewer set of the channel. Viewers are the union of IRC
// joins, the last Helix chatters snapshot and anyone who chatted within the
// active window. The bot itself is never a viewer.
type Presence struct {
	bot    string
	clock  clockwork.Clock
	window time.Duration
	mods   *Moderators

	mu       sync.RWMutex
	live     bool
	joined   map[string]struct{}
	chatters map[string]struct{}
	lastChat map[string]time.Time
}

// NewPresence returns an empty presence for the bot login. mods may be nil.
func NewPresence(bot string, clock clockwork.Clock, window time.Duration, mods *Moderators) *Presence {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if window <= 0 {
		window = DefaultActiveWindow
	}
	return &Presence{
		bot:      login(bot),
		clock:    clock,
		window:   window,
		mods:     mods,
		joined:   map[string]struct{}{},
		chatters: map[string]struct{}{},
		lastChat: map[string]time.Time{},
	}
}

func (p *Presence) Join(user string) {
	if user = login(user); user == "" {
		return
	}
	p.mu.Lock()
	p.joined[user] = struct{}{}
	p.mu.Unlock()
}

func (p *Presence) Part(user string) {
	user = login(user)
	p.mu.Lock()
	delete(p.joined, user)
	p.mu.Unlock()
}

// Seen records a chat message from user at the current time.
func (p *Presence) Seen(user string) {
	if user = login(user); user == "" {
		return
	}
	now := p.clock.Now()
	p.mu.Lock()
	p.joined[user] = struct{}{}
	p.lastChat[user] = now
	p.mu.Unlock()
}

// SetChatters replaces the Helix chatters snapshot.
func (p *Presence) SetChatters(users []string) {
	set := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u = login(u); u != "" {
			set[u] = struct{}{}
		}
	}
	p.mu.Lock()
	p.chatters = set
	p.mu.Unlock()
}

// SetLive records the stream status and reports whether it changed.
func (p *Presence) SetLive(live bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := p.live != live
	p.live = live
	return changed
}

func (p *Presence) IsLive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.live
}

// Viewers returns the sorted viewer set.
func (p *Presence) Viewers() []string {
	cutoff := p.clock.Now().Add(-p.window)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(cutoff)
	set := map[string]struct{}{}
	for u := range p.joined {
		set[u] = struct{}{}
	}
	for u := range p.chatters {
		set[u] = struct{}{}
	}
	for u := range p.lastChat {
		set[u] = struct{}{}
	}
	delete(set, p.bot)
	return sorted(set)
}

// ActiveViewers returns users who chatted within the active window.
func (p *Presence) ActiveViewers() []string {
	cutoff := p.clock.Now().Add(-p.window)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneLocked(cutoff)
	set := make(map[string]struct{}, len(p.lastChat))
	for u := range p.lastChat {
		set[u] = struct{}{}
	}
	delete(set, p.bot)
	return sorted(set)
}

// IsModerator consults the moderator set.
func (p *Presence) IsModerator(user string) bool {
	return p.mods != nil && p.mods.IsModerator(user)
}

func (p *Presence) pruneLocked(cutoff time.Time) {
	for u, t := range p.lastChat {
		if t.Before(cutoff) {
			delete(p.lastChat, u)
		}
	}
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
