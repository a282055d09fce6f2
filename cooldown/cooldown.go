// Package cooldown tracks when commands last fired, globally and per user,
// and decides whether a new trigger is admitted.
package cooldown

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// Scope names the gate that rejected a trigger.
type Scope string

const (
	ScopeNone   Scope = ""
	ScopeGlobal Scope = "global"
	ScopeUser   Scope = "user"
)

// Decision is the outcome of Admit.
type Decision struct {
	Admitted  bool
	Scope     Scope
	Remaining time.Duration
}

// Tracker holds last-trigger timestamps keyed by lowercase command name and
// user id. Entries are created on first trigger and only removed by Clear.
type Tracker struct {
	mu     sync.Mutex
	global map[string]time.Time
	user   map[string]map[string]time.Time
}

func NewTracker() *Tracker {
	return &Tracker{global: map[string]time.Time{}, user: map[string]map[string]time.Time{}}
}

func key(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Admit checks the global gate, then the per-user gate. Cooldowns are in
// minutes. Admit does not record anything.
func (t *Tracker) Admit(cmd, user string, cooldownMin, userCooldownMin int, now time.Time) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, u := key(cmd), key(user)
	if last, ok := t.global[c]; ok && cooldownMin > 0 {
		if rem := time.Duration(cooldownMin)*time.Minute - now.Sub(last); rem > 0 {
			return Decision{Scope: ScopeGlobal, Remaining: rem}
		}
	}
	if last, ok := t.user[c][u]; ok && userCooldownMin > 0 {
		if rem := time.Duration(userCooldownMin)*time.Minute - now.Sub(last); rem > 0 {
			return Decision{Scope: ScopeUser, Remaining: rem}
		}
	}
	return Decision{Admitted: true}
}

// Record stamps both maps with now.
func (t *Tracker) Record(cmd, user string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, u := key(cmd), key(user)
	t.global[c] = now
	m, ok := t.user[c]
	if !ok {
		m = map[string]time.Time{}
		t.user[c] = m
	}
	m[u] = now
}

// Clear forgets every timestamp of one command.
func (t *Tracker) Clear(cmd string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.global, key(cmd))
	delete(t.user, key(cmd))
}

// ClearAll empties both maps.
func (t *Tracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.global = map[string]time.Time{}
	t.user = map[string]map[string]time.Time{}
}

// FormatRemaining renders a duration as "1 min. 5 sec." or "30 sec.",
// rounding partial seconds up.
func FormatRemaining(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 0 {
		secs = 0
	}
	if secs >= 60 {
		return fmt.Sprintf("%d min. %d sec.", secs/60, secs%60)
	}
	return fmt.Sprintf("%d sec.", secs)
}

// GlobalMessage is the reply for a command still on global cooldown.
func GlobalMessage(cmd string, remaining time.Duration) string {
	return fmt.Sprintf("Command %s in cooldown. Try in %s", cmd, FormatRemaining(remaining))
}

// UserMessage is the reply for a user still on cooldown for cmd.
func UserMessage(user, cmd string, remaining time.Duration) string {
	return fmt.Sprintf("@%s, you can use %s after %s", user, cmd, FormatRemaining(remaining))
}
