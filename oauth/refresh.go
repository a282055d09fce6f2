// Package oauth keeps the bot's chat token alive. It validates the stored
// access token on a jittered schedule and refreshes it when its remaining
// lifetime falls inside a configured window.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/sound-tender/credentials"
	"github.com/onnwee/sound-tender/twitchapi"
)

// CredentialStore persists the token pair.
type CredentialStore interface {
	Load(ctx context.Context) (credentials.Credentials, error)
	Save(ctx context.Context, c credentials.Credentials) error
}

// ValidateFunc returns the remaining lifetime of an access token.
type ValidateFunc func(ctx context.Context, accessToken string) (time.Duration, error)

// RefreshFunc performs the refresh_token grant.
type RefreshFunc func(ctx context.Context, refreshToken string) (twitchapi.TokenPair, error)

// Refresher checks and refreshes the stored chat token.
type Refresher struct {
	Store    CredentialStore
	Validate ValidateFunc
	// Refresh may be nil when no client secret is configured; the refresher
	// then only reports upcoming expiry.
	Refresh RefreshFunc
	Window  time.Duration
	// OnRefresh receives the new credentials after they were persisted.
	OnRefresh func(credentials.Credentials)
	Clock     clockwork.Clock
}

// CheckOnce validates the token and refreshes it when needed. It reports
// whether a refresh happened.
func (r *Refresher) CheckOnce(ctx context.Context) (bool, error) {
	log := slog.With(slog.String("component", "oauth"))
	creds, err := r.Store.Load(ctx)
	if errors.Is(err, credentials.ErrMissing) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !creds.Complete() {
		return false, nil
	}
	window := r.Window
	if window <= 0 {
		window = 15 * time.Minute
	}

	remaining, err := r.Validate(ctx, creds.Token())
	switch {
	case errors.Is(err, twitchapi.ErrUnauthorized):
		remaining = 0
	case err != nil:
		return false, fmt.Errorf("validate token: %w", err)
	}
	if remaining > window {
		return false, nil
	}
	if r.Refresh == nil || creds.RefreshToken == "" {
		log.Warn("chat token expires soon and cannot be refreshed", slog.Duration("remaining", remaining))
		return false, nil
	}

	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	pair, err := r.Refresh(ctx2, creds.RefreshToken)
	cancel()
	if err != nil {
		return false, err
	}
	creds.AccessToken = pair.AccessToken
	if pair.RefreshToken != "" {
		creds.RefreshToken = pair.RefreshToken
	}
	if err := r.Store.Save(ctx, creds); err != nil {
		return false, fmt.Errorf("persist refreshed token: %w", err)
	}
	log.Info("chat token refreshed", slog.String("token", credentials.Mask(creds.AccessToken)), slog.Time("expires", pair.Expiry))
	if r.OnRefresh != nil {
		r.OnRefresh(creds)
	}
	return true, nil
}

// StartRefresher launches a goroutine that runs r.CheckOnce roughly every
// interval until ctx is canceled. The returned channel is closed on exit.
func StartRefresher(ctx context.Context, r *Refresher, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	clock := r.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	done := make(chan struct{})
	// spread instances so they do not refresh in lockstep
	//nolint:gosec // G404: scheduling jitter, not security sensitive
	initial := time.Duration(rand.Int63n(int64(interval/2) + 1))
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			return
		case <-clock.After(initial):
		}
		for {
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: scheduling jitter, not security sensitive
			next := interval + time.Duration(rand.Int63n(jitterRange*2+1)-jitterRange)
			select {
			case <-ctx.Done():
				return
			case <-clock.After(next):
			}
			var re *twitchapi.RefreshError
			if _, err := r.CheckOnce(ctx); err != nil {
				if errors.As(err, &re) && re.Revoked {
					slog.Error("refresh token revoked, re-authorize the bot", slog.String("component", "oauth"), slog.Any("err", err))
					continue
				}
				slog.Warn("token check failed", slog.String("component", "oauth"), slog.Any("err", err))
			}
		}
	}()
	return done
}
