package currency

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/sound-tender/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Files) {
	t.Helper()
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)
	m := NewManager(files, clockwork.NewFakeClock())
	require.NoError(t, m.Load(context.Background()))
	return m, files
}

func TestPayForCommand_CostCharge(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.SetPoints("u1", 10))

	assert.True(t, m.PayForCommand("u1", 7))
	u, _ := m.User("u1")
	assert.Equal(t, 3.0, u.Points)

	assert.False(t, m.PayForCommand("u1", 7))
	u, _ = m.User("u1")
	assert.Equal(t, 3.0, u.Points)

	assert.False(t, m.PayForCommand("nobody", 1))
	_, ok := m.User("nobody")
	assert.False(t, ok, "failed charge must not create a user")
	assert.True(t, m.PayForCommand("nobody", 0))
}

func TestPayForCommand_NeverNegative(t *testing.T) {
	m, _ := newTestManager(t)
	for _, tt := range []struct {
		balance, cost float64
		ok            bool
	}{{5, 5, true}, {4.99, 5, false}, {0, 0.01, false}, {100, 0.01, true}} {
		require.NoError(t, m.SetPoints("u", tt.balance))
		assert.Equal(t, tt.ok, m.PayForCommand("u", tt.cost))
		u, _ := m.User("u")
		assert.GreaterOrEqual(t, u.Points, 0.0)
	}
}

func TestRank_Resolution(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.SetRanks(ctx, []Rank{{Name: "Veteran", Required: 1000}, {Name: "Noob", Required: 0}, {Name: "Regular", Required: 100}}))

	_, err := m.AddPoints("u1", 150)
	require.NoError(t, err)
	assert.Equal(t, "Regular", m.ResolveRank("u1"))
	u, _ := m.User("u1")
	assert.Equal(t, "Regular", u.Rank)

	_, err = m.AddPoints("u1", 850)
	require.NoError(t, err)
	u, _ = m.User("u1")
	assert.Equal(t, "Veteran", u.Rank)
}

func TestResolveRank_Argmax(t *testing.T) {
	ranks := []Rank{{Name: "a", Required: 10}, {Name: "b", Required: 50}, {Name: "c", Required: 20}}
	tests := []struct {
		v    float64
		want string
		ok   bool
	}{{5, "", false}, {10, "a", true}, {49.99, "c", true}, {50, "b", true}, {1e9, "b", true}}
	for _, tt := range tests {
		r, ok := ResolveRank(ranks, tt.v)
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.want, r.Name)
	}
	_, ok := ResolveRank(nil, 100)
	assert.False(t, ok)
}

func TestRank_HoursBasis(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	s := m.Settings()
	s.RankBasis = BasisHours
	_, err := m.SetSettings(ctx, s)
	require.NoError(t, err)
	require.NoError(t, m.SetRanks(ctx, []Rank{{Name: "Lurker", Required: 0}, {Name: "Fan", Required: 10}}))

	_, err = m.AddPoints("u", 5000)
	require.NoError(t, err)
	assert.Equal(t, "Lurker", m.ResolveRank("u"))
	require.NoError(t, m.AddHours("u", 10))
	assert.Equal(t, "Fan", m.ResolveRank("u"))
}

func TestAutoRegular(t *testing.T) {
	m, _ := newTestManager(t)
	s := m.Settings()
	s.AutoRegularEnabled = true
	s.AutoRegularAmount = 100
	_, err := m.SetSettings(context.Background(), s)
	require.NoError(t, err)

	_, err = m.AddPoints("u", 99.99)
	require.NoError(t, err)
	u, _ := m.User("u")
	assert.False(t, u.IsRegular)

	_, err = m.AddPoints("u", 0.01)
	require.NoError(t, err)
	u, _ = m.User("u")
	assert.True(t, u.IsRegular)
}

func TestPoints_TwoDecimalRounding(t *testing.T) {
	m, _ := newTestManager(t)
	for i := 0; i < 10; i++ {
		_, err := m.AddPoints("u", 0.1)
		require.NoError(t, err)
	}
	u, _ := m.User("u")
	assert.Equal(t, 1.0, u.Points)

	bal, err := m.RemovePoints("u", 5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, bal)
	_, err = m.RemovePoints("ghost", 1)
	assert.ErrorIs(t, err, ErrUnknownUser)
	_, err = m.AddPoints("u", -1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestUserCRUD(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.AddUser("NewGuy", User{Points: 1.234}))
	assert.ErrorIs(t, m.AddUser("newguy", User{}), ErrUserExists)

	u, err := m.UpdateUser("NEWGUY", func(u *User) {
		u.IsRegular = true
		u.Hours = 2
	})
	require.NoError(t, err)
	assert.Equal(t, 1.23, u.Points)
	assert.True(t, u.IsRegular)

	_, err = m.UpdateUser("newguy", func(u *User) { u.Points = -1 })
	assert.ErrorIs(t, err, ErrInvalidAmount)

	require.NoError(t, m.RemoveUser("newguy"))
	assert.ErrorIs(t, m.RemoveUser("newguy"), ErrUnknownUser)
	_, err = m.UpdateUser("newguy", func(*User) {})
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestFormatCurrencyMessage(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	s := m.Settings()
	s.CurrencyName = "gems"
	s.MessageTemplate = "$username: $points $currencyname, $hours, [$rank]"
	_, err := m.SetSettings(ctx, s)
	require.NoError(t, err)
	require.NoError(t, m.SetRanks(ctx, []Rank{{Name: "Gold", Required: 10}}))
	require.NoError(t, m.AddUser("u1", User{Points: 12.5, Hours: 3.5}))

	assert.Equal(t, "U1: 12.50 gems, 3h30m, [Gold]", m.FormatCurrencyMessage("U1"))
	assert.Equal(t, "x: 0.00 gems, 0h0m, []", m.FormatCurrencyMessage("x"))
}

func TestFlush_WritesLowercasedUsers(t *testing.T) {
	m, files := newTestManager(t)
	ctx := context.Background()
	_, err := m.AddPoints("MixedCase", 2)
	require.NoError(t, err)
	assert.True(t, m.Dirty())
	require.NoError(t, m.Flush(ctx))
	assert.False(t, m.Dirty())

	data, err := files.Read(ctx, store.Users)
	require.NoError(t, err)
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "mixedcase")
	assert.Equal(t, 2.0, raw["mixedcase"]["points"])
}

func TestLoad_LegacyUsersFile(t *testing.T) {
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	legacy := `{"Alice": {"points": 12, "hours": 1.5, "last_seen": "2024-03-01 10:00:00"},
		"bob": {"points": 3.333, "hours": 0, "last_seen": 1700000000.5, "is_regular": true},
		"ghost": null}`
	require.NoError(t, files.Write(ctx, store.Users, []byte(legacy)))

	m := NewManager(files, clockwork.NewFakeClock())
	require.NoError(t, m.Load(ctx))
	assert.Equal(t, []string{"alice", "bob"}, m.SortedNames())
	a, _ := m.User("alice")
	assert.Equal(t, 2024, a.LastSeen.Year())
	b, _ := m.User("bob")
	assert.True(t, b.IsRegular)
	assert.Equal(t, int64(1700000000), b.LastSeen.Unix())
}

func TestAwardEvent(t *testing.T) {
	m, _ := newTestManager(t)
	s := m.Settings()
	s.RaidPayout = 50
	s.MassSubPayout = 2.5
	_, err := m.SetSettings(context.Background(), s)
	require.NoError(t, err)

	got, err := m.AwardEvent(EventRaid, "raider", 0)
	require.NoError(t, err)
	assert.Equal(t, 50.0, got)

	got, err = m.AwardEvent(EventMassSubGift, "gifter", 4)
	require.NoError(t, err)
	assert.Equal(t, 10.0, got)

	got, err = m.AwardEvent(EventFollow, "follower", 0)
	require.NoError(t, err)
	assert.Zero(t, got)
	_, ok := m.User("follower")
	assert.False(t, ok)

	_, err = m.AwardEvent("bogus", "x", 0)
	assert.Error(t, err)
}

func TestFormatHours(t *testing.T) {
	assert.Equal(t, "0h0m", FormatHours(0))
	assert.Equal(t, "1h30m", FormatHours(1.5))
	assert.Equal(t, "0h1m", FormatHours(0.02))
	assert.Equal(t, "10h0m", FormatHours(9.9999))
}
