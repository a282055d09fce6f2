package credentials

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/sound-tender/crypto"
	"github.com/onnwee/sound-tender/store"
)

func TestStore_MissingFile(t *testing.T) {
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)
	_, err = NewStore(files, nil).Load(context.Background())
	assert.ErrorIs(t, err, ErrMissing)
}

func TestStore_PlaintextRoundTrip(t *testing.T) {
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)
	s := NewStore(files, nil)
	ctx := context.Background()
	want := Credentials{AccessToken: "abc123", ClientID: "cid", RefreshToken: "r1"}
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	fi, err := os.Stat(files.Path(store.Credentials))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestStore_SealedOnDisk(t *testing.T) {
	files, err := store.NewFiles(t.TempDir())
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	enc, err := crypto.NewAESEncryptor(key)
	require.NoError(t, err)
	s := NewStore(files, enc)
	ctx := context.Background()

	want := Credentials{AccessToken: "supersecret", ClientID: "cid", RefreshToken: "refreshme"}
	require.NoError(t, s.Save(ctx, want))
	raw, err := os.ReadFile(files.Path(store.Credentials))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "supersecret")
	assert.NotContains(t, string(raw), "refreshme")
	assert.Contains(t, string(raw), `"client_id": "cid"`)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = NewStore(files, nil).Load(ctx)
	assert.Error(t, err, "sealed file needs the key")
}

func TestCredentials_NeverLogged(t *testing.T) {
	c := Credentials{AccessToken: "oauth:tok_secret_9876", ClientID: "cid", RefreshToken: "refresh_secret"}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("creds", slog.Any("creds", c))
	out := buf.String()
	assert.NotContains(t, out, "tok_secret")
	assert.NotContains(t, out, "refresh_secret")
	assert.Contains(t, out, "****9876")
	assert.Equal(t, "[redacted]", fmt.Sprint(c))
	assert.Equal(t, "[redacted]", fmt.Sprintf("%v", c))
}

func TestCredentials_Helpers(t *testing.T) {
	assert.Equal(t, "abc", Credentials{AccessToken: "oauth:abc"}.Token())
	assert.False(t, Credentials{AccessToken: "x"}.Complete())
	assert.True(t, Credentials{AccessToken: "x", ClientID: "y"}.Complete())
	assert.Equal(t, "***", Mask("abc"))
}
