package cooldown

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_GlobalCooldown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker()

	d := tr.Admit("!wow", "u1", 1, 0, clock.Now())
	require.True(t, d.Admitted)
	tr.Record("!wow", "u1", clock.Now())

	clock.Advance(30 * time.Second)
	d = tr.Admit("!WOW", "u2", 1, 0, clock.Now())
	require.False(t, d.Admitted)
	assert.Equal(t, ScopeGlobal, d.Scope)
	assert.Equal(t, "Command !wow in cooldown. Try in 30 sec.", GlobalMessage("!wow", d.Remaining))

	clock.Advance(30 * time.Second)
	assert.True(t, tr.Admit("!wow", "u2", 1, 0, clock.Now()).Admitted)
}

func TestTracker_UserCooldown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker()

	require.True(t, tr.Admit("!x", "u1", 0, 2, clock.Now()).Admitted)
	tr.Record("!x", "u1", clock.Now())

	clock.Advance(5 * time.Second)
	require.True(t, tr.Admit("!x", "u2", 0, 2, clock.Now()).Admitted)
	tr.Record("!x", "u2", clock.Now())

	clock.Advance(55 * time.Second) // t=60s
	d := tr.Admit("!x", "u1", 0, 2, clock.Now())
	require.False(t, d.Admitted)
	assert.Equal(t, ScopeUser, d.Scope)
	assert.Equal(t, "@u1, you can use !x after 1 min. 0 sec.", UserMessage("u1", "!x", d.Remaining))
}

func TestTracker_NeverAdmitsInsideWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker()
	var admitted []time.Time
	for i := 0; i < 400; i++ {
		if tr.Admit("!c", "u", 2, 0, clock.Now()).Admitted {
			tr.Record("!c", "u", clock.Now())
			admitted = append(admitted, clock.Now())
		}
		clock.Advance(7 * time.Second)
	}
	require.Greater(t, len(admitted), 1)
	for i := 1; i < len(admitted); i++ {
		assert.GreaterOrEqual(t, admitted[i].Sub(admitted[i-1]), 120*time.Second)
	}
}

func TestTracker_Clear(t *testing.T) {
	now := time.Unix(1000, 0)
	tr := NewTracker()
	tr.Record("!a", "u", now)
	tr.Record("!b", "u", now)

	tr.Clear("!A")
	assert.True(t, tr.Admit("!a", "u", 5, 5, now).Admitted)
	assert.False(t, tr.Admit("!b", "u", 5, 5, now).Admitted)

	tr.ClearAll()
	assert.True(t, tr.Admit("!b", "u", 5, 5, now).Admitted)
}

func TestFormatRemaining(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{30 * time.Second, "30 sec."},
		{29*time.Second + time.Millisecond, "30 sec."},
		{60 * time.Second, "1 min. 0 sec."},
		{125 * time.Second, "2 min. 5 sec."},
		{0, "0 sec."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatRemaining(tt.in), tt.in.String())
	}
}

func TestUserGate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	g := NewUserGate()
	ok, _ := g.Allow("U1", 10*time.Second, clock.Now())
	require.True(t, ok)

	clock.Advance(4 * time.Second)
	ok, rem := g.Allow("u1", 10*time.Second, clock.Now())
	assert.False(t, ok)
	assert.Equal(t, 6*time.Second, rem)

	ok, _ = g.Allow("u2", 10*time.Second, clock.Now())
	assert.True(t, ok)

	clock.Advance(6 * time.Second)
	ok, _ = g.Allow("u1", 10*time.Second, clock.Now())
	assert.True(t, ok)
}
