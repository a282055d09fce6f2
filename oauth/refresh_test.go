package oauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/sound-tender/credentials"
	"github.com/onnwee/sound-tender/twitchapi"
)

type memStore struct {
	mu    sync.Mutex
	creds credentials.Credentials
	err   error
	saves int
}

func (m *memStore) Load(context.Context) (credentials.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds, m.err
}

func (m *memStore) Save(_ context.Context, c credentials.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = c
	m.saves++
	return nil
}

func validCreds() credentials.Credentials {
	return credentials.Credentials{AccessToken: "oauth:old-access", ClientID: "cid", RefreshToken: "old-refresh"}
}

func validateIn(d time.Duration, err error) ValidateFunc {
	return func(context.Context, string) (time.Duration, error) { return d, err }
}

func TestCheckOnce_OutsideWindow(t *testing.T) {
	st := &memStore{creds: validCreds()}
	called := false
	r := &Refresher{
		Store:    st,
		Validate: validateIn(time.Hour, nil),
		Refresh: func(context.Context, string) (twitchapi.TokenPair, error) {
			called = true
			return twitchapi.TokenPair{}, nil
		},
		Window: 15 * time.Minute,
	}
	refreshed, err := r.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.False(t, called)
}

func TestCheckOnce_RefreshesInsideWindow(t *testing.T) {
	st := &memStore{creds: validCreds()}
	var notified credentials.Credentials
	r := &Refresher{
		Store: st,
		Validate: func(_ context.Context, tok string) (time.Duration, error) {
			assert.Equal(t, "old-access", tok)
			return 5 * time.Minute, nil
		},
		Refresh: func(_ context.Context, rt string) (twitchapi.TokenPair, error) {
			assert.Equal(t, "old-refresh", rt)
			return twitchapi.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh", Expiry: time.Now().Add(4 * time.Hour)}, nil
		},
		Window:    15 * time.Minute,
		OnRefresh: func(c credentials.Credentials) { notified = c },
	}
	refreshed, err := r.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, "new-access", st.creds.AccessToken)
	assert.Equal(t, "new-refresh", st.creds.RefreshToken)
	assert.Equal(t, "cid", st.creds.ClientID)
	assert.Equal(t, "new-access", notified.AccessToken)
}

func TestCheckOnce_UnauthorizedTokenIsRefreshed(t *testing.T) {
	st := &memStore{creds: validCreds()}
	r := &Refresher{
		Store:    st,
		Validate: validateIn(0, twitchapi.ErrUnauthorized),
		Refresh: func(context.Context, string) (twitchapi.TokenPair, error) {
			return twitchapi.TokenPair{AccessToken: "fresh"}, nil
		},
	}
	refreshed, err := r.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, "fresh", st.creds.AccessToken)
	assert.Equal(t, "old-refresh", st.creds.RefreshToken)
}

func TestCheckOnce_NoRefreshPossible(t *testing.T) {
	st := &memStore{creds: validCreds()}
	r := &Refresher{Store: st, Validate: validateIn(time.Minute, nil)}
	refreshed, err := r.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Equal(t, 0, st.saves)
}

func TestCheckOnce_MissingCredentials(t *testing.T) {
	r := &Refresher{Store: &memStore{err: credentials.ErrMissing}, Validate: func(context.Context, string) (time.Duration, error) {
		t.Fatal("validate must not be called")
		return 0, nil
	}}
	refreshed, err := r.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, refreshed)
}

func TestCheckOnce_ValidateErrorPropagates(t *testing.T) {
	r := &Refresher{Store: &memStore{creds: validCreds()}, Validate: validateIn(0, errors.New("network down"))}
	_, err := r.CheckOnce(context.Background())
	assert.ErrorContains(t, err, "network down")
}

func TestCheckOnce_RefreshErrorLeavesStoreUntouched(t *testing.T) {
	st := &memStore{creds: validCreds()}
	r := &Refresher{
		Store:    st,
		Validate: validateIn(time.Minute, nil),
		Refresh: func(context.Context, string) (twitchapi.TokenPair, error) {
			return twitchapi.TokenPair{}, &twitchapi.RefreshError{Revoked: true, Err: errors.New("invalid_grant")}
		},
	}
	_, err := r.CheckOnce(context.Background())
	var re *twitchapi.RefreshError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.Revoked)
	assert.Equal(t, 0, st.saves)
}

func TestStartRefresher_RunsOnSchedule(t *testing.T) {
	clock := clockwork.NewFakeClock()
	st := &memStore{creds: validCreds()}
	refreshed := make(chan credentials.Credentials, 1)
	r := &Refresher{
		Store:    st,
		Validate: validateIn(time.Minute, nil),
		Refresh: func(context.Context, string) (twitchapi.TokenPair, error) {
			return twitchapi.TokenPair{AccessToken: "new"}, nil
		},
		OnRefresh: func(c credentials.Credentials) { refreshed <- c },
		Clock:     clock,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := StartRefresher(ctx, r, time.Minute)

	// initial jitter, then the first scheduled check
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(2 * time.Minute)

	select {
	case c := <-refreshed:
		assert.Equal(t, "new", c.AccessToken)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not run")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop")
	}
}
