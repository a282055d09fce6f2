package currency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/sound-tender/store"
)

type fakeAudience struct {
	mu      sync.Mutex
	live    bool
	viewers []string
	active  []string
	mods    map[string]bool
}

func (f *fakeAudience) IsLive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeAudience) Viewers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.viewers
}

func (f *fakeAudience) ActiveViewers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeAudience) IsModerator(u string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mods[u]
}

type accrualFixture struct {
	m     *Manager
	aud   *fakeAudience
	clock *clockwork.FakeClock
	s     *Scheduler
}

func newAccrualFixture(t *testing.T, mutate func(*Settings)) *accrualFixture {
	t.Helper()
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	m := NewManager(files, clock)
	require.NoError(t, m.Load(context.Background()))

	s := Settings{
		LivePayout:          5,
		OnlineInterval:      5,
		OfflineInterval:     15,
		RegularBonus:        2,
		SubBonus:            2,
		AccumulationEnabled: true,
	}
	if mutate != nil {
		mutate(&s)
	}
	_, err = m.SetSettings(context.Background(), s)
	require.NoError(t, err)

	require.NoError(t, m.AddUser("u1", User{IsRegular: true}))
	require.NoError(t, m.AddUser("u2", User{IsSubscriber: true}))
	require.NoError(t, m.AddUser("u3", User{}))

	aud := &fakeAudience{live: true, viewers: []string{"u1", "u2", "u3"}}
	return &accrualFixture{m: m, aud: aud, clock: clock, s: NewScheduler(m, aud, clock, time.Minute)}
}

func (f *accrualFixture) balances() map[string]User { return f.m.Users() }

func TestScheduler_LiveTickProration(t *testing.T) {
	f := newAccrualFixture(t, nil)
	ctx := context.Background()

	f.s.Tick(ctx)
	before := f.balances()

	f.clock.Advance(60 * time.Second)
	res := f.s.Tick(ctx)
	require.Empty(t, res.Skipped)
	assert.Equal(t, 1.0, res.ElapsedMinutes)
	after := f.balances()

	want := map[string]float64{"u1": 1.40, "u2": 2.00, "u3": 1.00}
	for name, delta := range want {
		assert.InDelta(t, delta, after[name].Points-before[name].Points, 1e-9, name)
		assert.InDelta(t, 0.02, after[name].Hours-before[name].Hours, 1e-9, name)
	}
}

func TestScheduler_FirstTickIsHalfMinute(t *testing.T) {
	f := newAccrualFixture(t, nil)
	res := f.s.Tick(context.Background())
	assert.Equal(t, 0.5, res.ElapsedMinutes)
	u3, _ := f.m.User("u3")
	assert.Equal(t, 0.5, u3.Points) // 5 / (5*2)
}

func TestScheduler_OfflineWithoutOfflineHours(t *testing.T) {
	f := newAccrualFixture(t, func(s *Settings) {
		s.OfflinePayout = 1
		s.OfflineInterval = 15
		s.RegularBonus = 0
		s.SubBonus = 0
	})
	f.aud.live = false
	ctx := context.Background()

	f.s.Tick(ctx)
	before := f.balances()
	f.clock.Advance(60 * time.Second)
	f.s.Tick(ctx)
	after := f.balances()

	for _, name := range []string{"u1", "u2", "u3"} {
		assert.InDelta(t, 0.07, after[name].Points-before[name].Points, 1e-9, name)
		assert.Equal(t, before[name].Hours, after[name].Hours, name)
	}
}

func TestScheduler_HoursGate(t *testing.T) {
	tests := []struct {
		name         string
		live         bool
		offlineHours bool
		wantHours    bool
	}{
		{"live", true, false, true},
		{"offline with offline hours", false, true, true},
		{"offline", false, false, false},
		{"live with offline hours", true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAccrualFixture(t, func(s *Settings) { s.OfflineHours = tt.offlineHours })
			f.aud.live = tt.live
			f.s.Tick(context.Background())
			f.clock.Advance(30 * time.Minute)
			res := f.s.Tick(context.Background())
			if tt.wantHours {
				assert.Equal(t, 0.5, res.Hours)
			} else {
				assert.Zero(t, res.Hours)
			}
		})
	}
}

func TestScheduler_Debounce(t *testing.T) {
	f := newAccrualFixture(t, nil)
	ctx := context.Background()
	f.s.Tick(ctx)
	before := f.balances()

	f.clock.Advance(4 * time.Second)
	res := f.s.Tick(ctx)
	assert.Equal(t, SkipDebounce, res.Skipped)
	assert.Equal(t, before, f.balances())

	// the debounced call does not move the window
	f.clock.Advance(56 * time.Second)
	res = f.s.Tick(ctx)
	assert.Empty(t, res.Skipped)
	assert.Equal(t, 1.0, res.ElapsedMinutes)
}

func TestScheduler_EmptyStretchEarnsNothing(t *testing.T) {
	f := newAccrualFixture(t, nil)
	ctx := context.Background()
	f.s.Tick(ctx)

	f.aud.viewers = nil
	f.clock.Advance(time.Hour)
	res := f.s.Tick(ctx)
	assert.Equal(t, SkipNoViewers, res.Skipped)

	f.aud.viewers = []string{"u3"}
	f.clock.Advance(time.Minute)
	res = f.s.Tick(ctx)
	assert.Equal(t, 1.0, res.ElapsedMinutes)
	assert.Equal(t, 1, res.Users)
}

func TestScheduler_Disabled(t *testing.T) {
	f := newAccrualFixture(t, func(s *Settings) { s.AccumulationEnabled = false })
	res := f.s.Tick(context.Background())
	assert.Equal(t, SkipDisabled, res.Skipped)
	u, _ := f.m.User("u1")
	assert.Zero(t, u.Points)
}

func TestScheduler_ModAndActiveBonus(t *testing.T) {
	f := newAccrualFixture(t, func(s *Settings) {
		s.ModBonus = 1
		s.ActiveBonus = 0.5
		s.RegularBonus = 0
		s.SubBonus = 1
	})
	f.aud.mods = map[string]bool{"u3": true}
	f.aud.active = []string{"U2"}
	ctx := context.Background()
	f.s.Tick(ctx)
	before := f.balances()
	f.clock.Advance(5 * time.Minute)
	f.s.Tick(ctx)
	after := f.balances()

	assert.InDelta(t, 5.0, after["u1"].Points-before["u1"].Points, 1e-9)
	assert.InDelta(t, 5.5, after["u2"].Points-before["u2"].Points, 1e-9)
	assert.InDelta(t, 6.0, after["u3"].Points-before["u3"].Points, 1e-9)
}

func TestScheduler_ExcludedBadgeModGetsNoBonus(t *testing.T) {
	f := newAccrualFixture(t, func(s *Settings) {
		s.ModBonus = 5
		s.RegularBonus = 0
		s.SubBonus = 1
	})
	// u3 wears the badge in chat but the audience excludes them.
	f.aud.mods = map[string]bool{}
	f.m.ObserveRoles("u3", false, true)
	ctx := context.Background()
	f.s.Tick(ctx)
	before := f.balances()
	f.clock.Advance(5 * time.Minute)
	f.s.Tick(ctx)
	after := f.balances()

	require.True(t, after["u3"].IsMod)
	assert.InDelta(t, 5.0, after["u3"].Points-before["u3"].Points, 1e-9)
}

func TestScheduler_NewViewerCreated(t *testing.T) {
	f := newAccrualFixture(t, nil)
	f.aud.viewers = []string{"Newbie"}
	f.s.Tick(context.Background())
	u, ok := f.m.User("newbie")
	require.True(t, ok)
	assert.Equal(t, 0.5, u.Points)
	assert.False(t, f.m.Dirty(), "tick persists users")
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	f := newAccrualFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.s.Run(ctx)
		close(done)
	}()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return !f.s.LastTick().IsZero() }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
