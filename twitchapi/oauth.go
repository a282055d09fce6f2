package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// TokenPair is the result of a refresh_token grant.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// RefreshError reports a failed refresh. Revoked is set when Twitch rejected
// the refresh token itself, in which case retrying is pointless.
type RefreshError struct {
	Revoked bool
	Err     error
}

func (e *RefreshError) Error() string {
	if e.Revoked {
		return fmt.Sprintf("refresh token revoked: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// RefreshConfig identifies the application performing the grant.
type RefreshConfig struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides the Twitch token endpoint.
	TokenURL   string
	HTTPClient *http.Client
}

func (rc RefreshConfig) oauth() *oauth2.Config {
	ep := twitch.Endpoint
	if rc.TokenURL != "" {
		ep.TokenURL = rc.TokenURL
	}
	// Twitch wants client credentials in the form body.
	ep.AuthStyle = oauth2.AuthStyleInParams
	return &oauth2.Config{ClientID: rc.ClientID, ClientSecret: rc.ClientSecret, Endpoint: ep}
}

// Refresh exchanges refreshToken for a new token pair.
func Refresh(ctx context.Context, rc RefreshConfig, refreshToken string) (TokenPair, error) {
	if rc.ClientID == "" || rc.ClientSecret == "" || refreshToken == "" {
		return TokenPair{}, &RefreshError{Err: errors.New("missing client id, client secret or refresh token")}
	}
	if rc.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, rc.HTTPClient)
	}
	// an already expired token forces the source to refresh
	ts := rc.oauth().TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)})
	tok, err := ts.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			code := re.Response.StatusCode
			return TokenPair{}, &RefreshError{Revoked: code == http.StatusBadRequest || code == http.StatusUnauthorized, Err: err}
		}
		return TokenPair{}, &RefreshError{Err: err}
	}
	pair := TokenPair{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}
	if pair.RefreshToken == "" {
		pair.RefreshToken = refreshToken
	}
	return pair, nil
}
