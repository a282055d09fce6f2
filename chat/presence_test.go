package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/sound-tender/store"
)

func TestPresence_ViewersAndActiveWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	p := NewPresence("Bot", clock, 15*time.Minute, nil)

	p.Join("viewer1")
	p.Join("bot")
	p.Seen("Talker")
	p.SetChatters([]string{"lurker", "BOT", "viewer1"})

	assert.Equal(t, []string{"lurker", "talker", "viewer1"}, p.Viewers())
	assert.Equal(t, []string{"talker"}, p.ActiveViewers())

	clock.Advance(16 * time.Minute)
	assert.Empty(t, p.ActiveViewers())
	// still joined over IRC
	assert.Contains(t, p.Viewers(), "talker")

	p.Part("talker")
	p.SetChatters(nil)
	assert.Equal(t, []string{"viewer1"}, p.Viewers())
}

func TestPresence_SetLiveReportsChange(t *testing.T) {
	p := NewPresence("bot", clockwork.NewFakeClock(), 0, nil)
	assert.False(t, p.IsLive())
	assert.True(t, p.SetLive(true))
	assert.False(t, p.SetLive(true))
	assert.True(t, p.IsLive())
	assert.True(t, p.SetLive(false))
}

func TestModerators_EffectiveSet(t *testing.T) {
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)
	m := NewModerators(files)
	require.NoError(t, m.Load(context.Background()))

	m.SetAPI([]string{"ApiMod", "both"})
	m.ObserveBadge("badgemod", true)
	_, err = m.SetList(context.Background(), ModeratorList{
		Manual:   []string{"@Manual", "manual", "both"},
		Excluded: []string{"apimod"},
		Notes:    "trusted helpers",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"badgemod", "both", "manual"}, m.Effective())
	assert.False(t, m.IsModerator("ApiMod"), "exclusion overrides the API")
	assert.True(t, m.IsModerator("MANUAL"))
	assert.True(t, m.IsExcluded("apimod"))

	m.ObserveBadge("badgemod", false)
	assert.False(t, m.IsModerator("badgemod"))

	assert.Equal(t, []string{"manual", "both"}, m.List().Manual)
}

func TestModerators_PersistAndReload(t *testing.T) {
	dir := t.TempDir()
	files, err := store.NewFiles(dir)
	require.NoError(t, err)
	m := NewModerators(files)
	require.NoError(t, m.Load(context.Background()))
	_, err = os.Stat(filepath.Join(dir, store.Moderators))
	require.NoError(t, err, "absent file is created with defaults")

	_, err = m.SetList(context.Background(), ModeratorList{Manual: []string{"a"}, Excluded: []string{"b"}, Notes: "n"})
	require.NoError(t, err)

	again := NewModerators(files)
	require.NoError(t, again.Load(context.Background()))
	assert.Equal(t, ModeratorList{Manual: []string{"a"}, Excluded: []string{"b"}, Notes: "n"}, again.List())
}

type fakeHelix struct {
	mu       sync.Mutex
	live     bool
	liveErr  error
	chatters []string
	mods     []string
	idCalls  int
}

func (f *fakeHelix) UserID(_ context.Context, login string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls++
	return "id-" + login, nil
}

func (f *fakeHelix) StreamLive(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live, f.liveErr
}

func (f *fakeHelix) Chatters(_ context.Context, b, m string) ([]string, error) {
	if b != "id-streamer" || m != "id-bot" {
		return nil, errors.New("wrong ids")
	}
	return f.chatters, nil
}

func (f *fakeHelix) Moderators(context.Context, string) ([]string, error) {
	return f.mods, nil
}

func TestPoller_PollOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	mods := NewModerators(nil)
	p := NewPresence("bot", clock, time.Minute, mods)
	g := NewGateway(Config{Channel: "streamer", Login: "bot", Token: "t"}, p, mods, clock)
	api := &fakeHelix{live: true, chatters: []string{"v1", "bot"}, mods: []string{"m1"}}
	poller := NewPoller(api, g, p, mods, clock, time.Minute)

	poller.PollOnce(context.Background())
	ev := nextEvent(t, g)
	assert.Equal(t, KindLiveStatus, ev.Kind)
	assert.True(t, ev.Live)
	assert.True(t, p.IsLive())
	assert.Equal(t, []string{"v1"}, p.Viewers())
	assert.True(t, mods.IsModerator("m1"))

	// unchanged status emits nothing and ids are cached
	poller.PollOnce(context.Background())
	select {
	case ev := <-g.Events():
		t.Fatalf("unexpected event %v", ev.Kind)
	default:
	}
	assert.Equal(t, 2, api.idCalls)

	// a failed live poll keeps the previous state
	api.mu.Lock()
	api.liveErr = errors.New("breaker open")
	api.live = false
	api.mu.Unlock()
	poller.PollOnce(context.Background())
	assert.True(t, p.IsLive())
}
