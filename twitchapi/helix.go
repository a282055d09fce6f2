// Package twitchapi wraps the Twitch Helix calls the bot needs: token
// validation, user lookup, live status, chatters and moderators. Calls go
// through a circuit breaker so a Helix outage fails fast instead of stalling
// the pollers.
package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nicklaw5/helix/v2"
	"github.com/sony/gobreaker"

	"github.com/onnwee/sound-tender/telemetry"
)

// ErrUnauthorized is returned when Helix rejects the access token.
var ErrUnauthorized = errors.New("twitch rejected the access token")

// TokenInfo describes a validated user access token.
type TokenInfo struct {
	Login     string
	UserID    string
	ClientID  string
	Scopes    []string
	ExpiresIn time.Duration
}

// Client is a Helix client authenticated as the bot user.
type Client struct {
	mu sync.Mutex
	h  *helix.Client
	cb *gobreaker.CircuitBreaker
}

// Option customizes a Client.
type Option func(*helix.Options)

// WithHTTPClient routes requests through hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *helix.Options) { o.HTTPClient = hc }
}

// WithBaseURL overrides the Helix base URL.
func WithBaseURL(u string) Option {
	return func(o *helix.Options) { o.APIBaseURL = u }
}

// NewClient builds a client for clientID using a user access token.
func NewClient(clientID, accessToken string, opts ...Option) (*Client, error) {
	if clientID == "" {
		return nil, errors.New("client id empty")
	}
	o := &helix.Options{ClientID: clientID, UserAccessToken: strings.TrimPrefix(accessToken, "oauth:")}
	for _, opt := range opts {
		opt(o)
	}
	h, err := helix.NewClient(o)
	if err != nil {
		return nil, fmt.Errorf("failed to create helix client: %w", err)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "helix",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		IsSuccessful: func(err error) bool {
			// an expired token is not a Helix outage
			return err == nil || errors.Is(err, ErrUnauthorized)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("helix circuit state changed", slog.String("component", "twitchapi"), slog.String("from", from.String()), slog.String("to", to.String()))
			telemetry.RecordCircuitStateChange(from.String(), to.String())
		},
	})
	return &Client{h: h, cb: cb}, nil
}

// SetAccessToken swaps the user token after a refresh.
func (c *Client) SetAccessToken(tok string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.h.SetUserAccessToken(strings.TrimPrefix(tok, "oauth:"))
}

// BreakerState is "closed", "half-open" or "open".
func (c *Client) BreakerState() string { return c.cb.State().String() }

func checkStatus(op string, rc helix.ResponseCommon) error {
	switch {
	case rc.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w: %s", op, ErrUnauthorized, rc.ErrorMessage)
	case rc.StatusCode >= 400:
		return fmt.Errorf("%s: helix status %d: %s %s", op, rc.StatusCode, rc.Error, rc.ErrorMessage)
	}
	return nil
}

// call runs fn through the breaker. The helix library has no context
// support, so ctx is only checked before the call.
func (c *Client) call(ctx context.Context, fn func(h *helix.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.cb.Execute(func() (interface{}, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, fn(c.h)
	})
	return err
}

// ValidateToken checks the token and reports its owner and remaining life.
func (c *Client) ValidateToken(ctx context.Context, accessToken string) (TokenInfo, error) {
	var info TokenInfo
	err := c.call(ctx, func(h *helix.Client) error {
		valid, resp, err := h.ValidateToken(strings.TrimPrefix(accessToken, "oauth:"))
		if err != nil {
			return fmt.Errorf("validate token: %w", err)
		}
		if !valid {
			msg := ""
			if resp != nil {
				msg = resp.ErrorMessage
			}
			return fmt.Errorf("validate token: %w: %s", ErrUnauthorized, msg)
		}
		d := resp.Data
		info = TokenInfo{Login: d.Login, UserID: d.UserID, ClientID: d.ClientID, Scopes: d.Scopes, ExpiresIn: time.Duration(d.ExpiresIn) * time.Second}
		return nil
	})
	return info, err
}

// UserID resolves a login name to its user id.
func (c *Client) UserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", errors.New("login empty")
	}
	var id string
	err := c.call(ctx, func(h *helix.Client) error {
		resp, err := h.GetUsers(&helix.UsersParams{Logins: []string{strings.ToLower(login)}})
		if err != nil {
			return fmt.Errorf("get users: %w", err)
		}
		if err := checkStatus("get users", resp.ResponseCommon); err != nil {
			return err
		}
		if len(resp.Data.Users) == 0 {
			return fmt.Errorf("user not found: %s", login)
		}
		id = resp.Data.Users[0].ID
		return nil
	})
	return id, err
}

// StreamLive reports whether the channel is currently broadcasting.
func (c *Client) StreamLive(ctx context.Context, login string) (bool, error) {
	var live bool
	err := c.call(ctx, func(h *helix.Client) error {
		resp, err := h.GetStreams(&helix.StreamsParams{UserLogins: []string{strings.ToLower(login)}})
		if err != nil {
			return fmt.Errorf("get streams: %w", err)
		}
		if err := checkStatus("get streams", resp.ResponseCommon); err != nil {
			return err
		}
		for _, s := range resp.Data.Streams {
			if s.Type == "" || s.Type == "live" {
				live = true
			}
		}
		return nil
	})
	return live, err
}

// maxPages bounds pagination of chatters and moderators.
const maxPages = 50

// Chatters lists the logins connected to the broadcaster's chat. The token
// owner must be a moderator of the channel (or the broadcaster).
func (c *Client) Chatters(ctx context.Context, broadcasterID, moderatorID string) ([]string, error) {
	var out []string
	after := ""
	for page := 0; page < maxPages; page++ {
		var cursor string
		err := c.call(ctx, func(h *helix.Client) error {
			resp, err := h.GetChannelChatChatters(&helix.GetChatChattersParams{BroadcasterID: broadcasterID, ModeratorID: moderatorID, After: after})
			if err != nil {
				return fmt.Errorf("get chatters: %w", err)
			}
			if err := checkStatus("get chatters", resp.ResponseCommon); err != nil {
				return err
			}
			for _, ch := range resp.Data.Chatters {
				out = append(out, strings.ToLower(ch.UserLogin))
			}
			cursor = resp.Data.Pagination.Cursor
			return nil
		})
		if err != nil {
			return nil, err
		}
		if cursor == "" {
			break
		}
		after = cursor
	}
	return out, nil
}

// Moderators lists the channel's moderators by login.
func (c *Client) Moderators(ctx context.Context, broadcasterID string) ([]string, error) {
	var out []string
	after := ""
	for page := 0; page < maxPages; page++ {
		var cursor string
		err := c.call(ctx, func(h *helix.Client) error {
			resp, err := h.GetModerators(&helix.GetModeratorsParams{BroadcasterID: broadcasterID, After: after})
			if err != nil {
				return fmt.Errorf("get moderators: %w", err)
			}
			if err := checkStatus("get moderators", resp.ResponseCommon); err != nil {
				return err
			}
			for _, m := range resp.Data.Moderators {
				out = append(out, strings.ToLower(m.UserLogin))
			}
			cursor = resp.Data.Pagination.Cursor
			return nil
		})
		if err != nil {
			return nil, err
		}
		if cursor == "" {
			break
		}
		after = cursor
	}
	return out, nil
}
