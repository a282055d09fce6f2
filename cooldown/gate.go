package cooldown

import (
	"sync"
	"time"
)

// UserGate is a per-user rate limit measured in seconds, used for chat
// commands that are not registry commands (the balance command).
type UserGate struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewUserGate() *UserGate { return &UserGate{last: map[string]time.Time{}} }

// Allow admits user if window has passed since their last admitted call and
// records now when it does.
func (g *UserGate) Allow(user string, window time.Duration, now time.Time) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	u := key(user)
	if last, ok := g.last[u]; ok && window > 0 {
		if rem := window - now.Sub(last); rem > 0 {
			return false, rem
		}
	}
	g.last[u] = now
	return true, 0
}
