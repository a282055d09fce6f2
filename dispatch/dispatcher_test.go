package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/sound-tender/audio"
	"github.com/onnwee/sound-tender/chat"
	"github.com/onnwee/sound-tender/commands"
	"github.com/onnwee/sound-tender/cooldown"
	"github.com/onnwee/sound-tender/currency"
	"github.com/onnwee/sound-tender/store"
)

// recorder captures side effects in the order they happen.
type recorder struct {
	log     []string
	sent    []string
	played  []string
	volumes []float64
	playErr error
	panicOn string
}

func (r *recorder) Send(text string) error {
	r.log = append(r.log, "send")
	r.sent = append(r.sent, text)
	return nil
}

func (r *recorder) Play(path string, vol float64) error {
	if path == r.panicOn {
		panic("decoder exploded")
	}
	r.log = append(r.log, "play")
	if r.playErr != nil {
		return r.playErr
	}
	r.played = append(r.played, path)
	r.volumes = append(r.volumes, vol)
	return nil
}

type fakeMods struct {
	manual   map[string]bool
	excluded map[string]bool
}

func (f fakeMods) IsModerator(u string) bool { return f.manual[u] }
func (f fakeMods) IsExcluded(u string) bool { return f.excluded[u] }

type fixture struct {
	d     *Dispatcher
	reg   *commands.Registry
	cur   *currency.Manager
	rec   *recorder
	clock *clockwork.FakeClock
	seen  []chat.Event
}

func newFixture(t *testing.T, cmds ...commands.Command) *fixture {
	t.Helper()
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)
	clock := clockwork.NewFakeClock()
	cur := currency.NewManager(files, clock)
	require.NoError(t, cur.Load(context.Background()))
	reg := commands.NewRegistry()
	for _, c := range cmds {
		require.NoError(t, reg.Add(c))
	}
	f := &fixture{reg: reg, cur: cur, rec: &recorder{}, clock: clock}
	f.d = New(Options{
		Registry:     reg,
		Cooldowns:    cooldown.NewTracker(),
		Currency:     cur,
		Player:       f.rec,
		Chat:         f.rec,
		Moderators:   fakeMods{manual: map[string]bool{"helper": true}, excluded: map[string]bool{"demoted": true}},
		Clock:        clock,
		MasterVolume: func() float64 { return 0.5 },
		Observer:     func(ev chat.Event) { f.seen = append(f.seen, ev) },
	})
	return f
}

func cmd(name string, mod func(*commands.Command)) commands.Command {
	c := commands.Command{
		Command:    name,
		Permission: commands.Everyone,
		Group:      "GENERAL",
		Usage:      commands.UsageBoth,
		Enabled:    true,
		SoundFile:  name[1:] + ".wav",
		Response:   name + " fired",
		Volume:     100,
	}
	if mod != nil {
		mod(&c)
	}
	return c
}

func msg(user, text string) chat.Event {
	return chat.Event{Kind: chat.KindMessage, Channel: "streamer", User: user, Text: text}
}

func (f *fixture) handle(ev chat.Event) Result {
	return f.d.Handle(context.Background(), ev)
}

func TestDispatch_GlobalCooldownReject(t *testing.T) {
	f := newFixture(t, cmd("!wow", func(c *commands.Command) { c.Cooldown = 1 }))

	assert.Equal(t, ResultFired, f.handle(msg("u1", "!wow")))
	assert.Equal(t, []string{"wow.wav"}, f.rec.played)

	f.clock.Advance(30 * time.Second)
	assert.Equal(t, ResultGlobalCooldown, f.handle(msg("u2", "!wow")))
	assert.Equal(t, []string{"wow.wav"}, f.rec.played, "no sound while cooling down")
	assert.Equal(t, "Command !wow in cooldown. Try in 30 sec.", f.rec.sent[len(f.rec.sent)-1])

	c, _ := f.reg.Lookup("!wow")
	assert.Equal(t, 1, c.Count)
}

func TestDispatch_UserCooldownReject(t *testing.T) {
	f := newFixture(t, cmd("!x", func(c *commands.Command) {
		c.UserCooldown = 2
		c.Response = ""
	}))

	assert.Equal(t, ResultFired, f.handle(msg("u1", "!x")))
	f.clock.Advance(5 * time.Second)
	assert.Equal(t, ResultFired, f.handle(msg("u2", "!x")))
	f.clock.Advance(55 * time.Second)
	assert.Equal(t, ResultUserCooldown, f.handle(msg("u1", "!x")))

	assert.Equal(t, []string{"x.wav", "x.wav"}, f.rec.played)
	assert.Equal(t, []string{"@u1, you can use !x after 1 min. 0 sec."}, f.rec.sent)
}

func TestDispatch_CostCharge(t *testing.T) {
	f := newFixture(t, cmd("!expensive", func(c *commands.Command) { c.Cost = 7 }))
	require.NoError(t, f.cur.SetPoints("u1", 10))

	assert.Equal(t, ResultFired, f.handle(msg("u1", "!expensive")))
	u, _ := f.cur.User("u1")
	assert.Equal(t, 3.0, u.Points)

	assert.Equal(t, ResultInsufficient, f.handle(msg("u1", "!expensive")))
	u, _ = f.cur.User("u1")
	assert.Equal(t, 3.0, u.Points)
	assert.Len(t, f.rec.sent, 1, "insufficient funds is silent")
	assert.Len(t, f.rec.played, 1)
}

func TestDispatch_SideEffectOrder(t *testing.T) {
	f := newFixture(t, cmd("!a", nil))
	f.handle(msg("u1", "!A extra words"))
	assert.Equal(t, []string{"play", "send"}, f.rec.log)
	// VolumeFor(100, 0.5)
	assert.InDelta(t, audio.VolumeFor(100, 0.5), f.rec.volumes[0], 1e-9)
	c, _ := f.reg.Lookup("!a")
	assert.Equal(t, 1, c.Count)
}

func TestDispatch_Filtering(t *testing.T) {
	f := newFixture(t,
		cmd("!off", func(c *commands.Command) { c.Enabled = false }),
		cmd("!board", func(c *commands.Command) { c.Usage = commands.UsageSC }),
		cmd("!chat", func(c *commands.Command) { c.Usage = commands.UsageChat }),
	)

	echo := msg("soundbot", "!chat")
	echo.Echo = true
	assert.Equal(t, ResultEcho, f.handle(echo))
	assert.Empty(t, f.seen, "echoes are not observed")

	assert.Equal(t, ResultIgnored, f.handle(msg("u1", "hello !chat")))
	assert.Equal(t, ResultIgnored, f.handle(msg("u1", "   ")))
	assert.Equal(t, ResultUnknown, f.handle(msg("u1", "!nope")))
	assert.Equal(t, ResultDisabled, f.handle(msg("u1", "!off")))
	assert.Equal(t, ResultDisabled, f.handle(msg("u1", "!board")))
	assert.Equal(t, ResultFired, f.handle(msg("u1", "!chat")))

	assert.Len(t, f.seen, 6)
	assert.Equal(t, []string{"chat.wav"}, f.rec.played)
}

func TestDispatch_Permissions(t *testing.T) {
	tests := []struct {
		name  string
		perm  commands.Permission
		user  string
		roles chat.Roles
		want  Result
	}{
		{"everyone", commands.Everyone, "u1", 0, ResultFired},
		{"mod badge", commands.Moderator, "m1", chat.Roles(0).With(chat.RoleModerator), ResultFired},
		{"broadcaster on mod command", commands.Moderator, "streamer", chat.Roles(0).With(chat.RoleBroadcaster), ResultFired},
		{"manual moderator", commands.Moderator, "helper", 0, ResultFired},
		{"excluded moderator", commands.Moderator, "demoted", chat.Roles(0).With(chat.RoleModerator), ResultDenied},
		{"viewer on mod command", commands.Moderator, "u1", chat.Roles(0).With(chat.RoleVIP), ResultDenied},
		{"admin command by mod", commands.Admin, "m1", chat.Roles(0).With(chat.RoleModerator), ResultDenied},
		{"admin command by broadcaster", commands.Admin, "streamer", chat.Roles(0).With(chat.RoleBroadcaster), ResultFired},
		{"admin command by staff", commands.Admin, "staff", chat.Roles(0).With(chat.RoleAdmin), ResultFired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cmd("!p", func(c *commands.Command) { c.Permission = tt.perm }))
			ev := msg(tt.user, "!p")
			ev.Roles = tt.roles
			assert.Equal(t, tt.want, f.handle(ev))
			if tt.want == ResultDenied {
				assert.Empty(t, f.rec.sent, "permission denial is silent")
			}
		})
	}
}

func TestDispatch_BusySinkStillReplies(t *testing.T) {
	f := newFixture(t, cmd("!a", nil))
	f.rec.playErr = audio.ErrBusy
	assert.Equal(t, ResultFired, f.handle(msg("u1", "!a")))
	assert.Equal(t, []string{"!a fired"}, f.rec.sent)
}

func TestDispatch_RecoversFromPanic(t *testing.T) {
	f := newFixture(t, cmd("!boom", nil), cmd("!ok", nil))
	f.rec.panicOn = "boom.wav"
	assert.Equal(t, ResultPanic, f.handle(msg("u1", "!boom")))
	assert.Equal(t, ResultFired, f.handle(msg("u1", "!ok")))
}

func TestDispatch_BalanceCommand(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cur.SetPoints("u1", 12.5))

	assert.Equal(t, ResultBalance, f.handle(msg("u1", "!POINTS")))
	require.Len(t, f.rec.sent, 1)
	assert.Contains(t, f.rec.sent[0], "@u1 you have 12.50 points")

	f.clock.Advance(10 * time.Second)
	assert.Equal(t, ResultBalanceThrottle, f.handle(msg("u1", "!points")))
	assert.Equal(t, ResultBalance, f.handle(msg("u2", "!points")))
	f.clock.Advance(20 * time.Second)
	assert.Equal(t, ResultBalance, f.handle(msg("u1", "!points")))
}

func TestDispatch_RolesObserved(t *testing.T) {
	f := newFixture(t)
	ev := msg("u1", "hello")
	ev.Roles = chat.Roles(0).With(chat.RoleSubscriber)
	f.handle(ev)
	u, ok := f.cur.User("u1")
	require.True(t, ok)
	assert.True(t, u.IsSubscriber)
	assert.False(t, u.IsMod)
}

func TestDispatch_EventPayouts(t *testing.T) {
	f := newFixture(t)
	s := f.cur.Settings()
	s.RaidPayout = 50
	s.MassSubPayout = 10
	_, err := f.cur.SetSettings(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, ResultEvent, f.handle(chat.Event{Kind: chat.KindRaid, User: "raider", Count: 30}))
	assert.Equal(t, ResultEvent, f.handle(chat.Event{Kind: chat.KindMassSubGift, User: "gifter", Count: 5}))
	assert.Equal(t, ResultEvent, f.handle(chat.Event{Kind: chat.KindFollow, User: "fan"}))

	u, _ := f.cur.User("raider")
	assert.Equal(t, 50.0, u.Points)
	u, _ = f.cur.User("gifter")
	assert.Equal(t, 50.0, u.Points)
	_, ok := f.cur.User("fan")
	assert.False(t, ok, "zero payout creates nothing")
	assert.Len(t, f.seen, 3)
}

func TestDispatch_RunProcessesInOrder(t *testing.T) {
	f := newFixture(t, cmd("!a", nil), cmd("!b", nil))
	events := make(chan chat.Event, 2)
	events <- msg("u1", "!a")
	events <- msg("u1", "!b")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.d.Run(ctx, events)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(events) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []string{"a.wav", "b.wav"}, f.rec.played)
}
