// Package credentials stores the chat bot's Twitch tokens in twitch_config.json,
// separate from the general configuration and optionally sealed with AES-GCM.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/onnwee/sound-tender/crypto"
	"github.com/onnwee/sound-tender/store"
)

// Credentials are the tokens the chat transport authenticates with.
type Credentials struct {
	AccessToken  string `json:"access_token"`
	ClientID     string `json:"client_id"`
	RefreshToken string `json:"refresh_token"`
}

// LogValue keeps tokens out of logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("access_token", Mask(c.AccessToken)),
		slog.String("client_id", c.ClientID),
		slog.Bool("refreshable", c.RefreshToken != ""),
	)
}

// String is the fmt form; it never prints tokens.
func (c Credentials) String() string { return "[redacted]" }

// Complete reports whether chat can authenticate.
func (c Credentials) Complete() bool { return c.AccessToken != "" && c.ClientID != "" }

// Token returns the access token without the IRC "oauth:" prefix.
func (c Credentials) Token() string { return strings.TrimPrefix(c.AccessToken, "oauth:") }

// Mask shows only the last four characters of a token.
func Mask(tok string) string {
	tok = strings.TrimPrefix(tok, "oauth:")
	if len(tok) <= 4 {
		return strings.Repeat("*", len(tok))
	}
	return "****" + tok[len(tok)-4:]
}

// ErrMissing is returned by Load when no credentials were ever saved.
var ErrMissing = errors.New("credentials missing")

// Store reads and writes twitch_config.json. Credentials always live in a
// local file regardless of the dataset backend.
type Store struct {
	files *store.Files
	enc   crypto.Encryptor

	mu sync.Mutex
}

// NewStore returns a credentials store. enc may be nil, in which case tokens
// are written in plaintext (still 0600).
func NewStore(files *store.Files, enc crypto.Encryptor) *Store {
	return &Store{files: files, enc: enc}
}

// Load reads and unseals the credentials.
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Credentials
	data, err := s.files.Read(ctx, store.Credentials)
	if errors.Is(err, store.ErrNotExist) {
		return Credentials{}, ErrMissing
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("decode credentials: %w", err)
	}
	for _, f := range []*string{&c.AccessToken, &c.ClientID, &c.RefreshToken} {
		v, err := crypto.Open(s.enc, *f)
		if err != nil {
			return Credentials{}, fmt.Errorf("unseal credentials: %w", err)
		}
		*f = strings.TrimSpace(v)
	}
	return c, nil
}

// Save seals (when a key is configured) and writes the credentials atomically.
func (s *Store) Save(ctx context.Context, c Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc != nil {
		for _, f := range []*string{&c.AccessToken, &c.RefreshToken} {
			v, err := crypto.Seal(s.enc, *f)
			if err != nil {
				return fmt.Errorf("seal credentials: %w", err)
			}
			*f = v
		}
	}
	return store.SaveJSON(ctx, s.files, store.Credentials, c)
}

// Sealed reports whether the store encrypts on save.
func (s *Store) Sealed() bool { return s.enc != nil }
