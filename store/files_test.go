package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestFiles_WriteReadRoundTrip(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, SaveJSON(ctx, f, CurrencySettings, sample{Name: "x", Count: 3}))

	var got sample
	used, err := LoadJSON(ctx, f, CurrencySettings, &got, nil)
	require.NoError(t, err)
	assert.True(t, used)
	assert.Equal(t, sample{Name: "x", Count: 3}, got)

	// nested dataset directory is created on demand
	_, err = os.Stat(filepath.Join(f.Dir(), "data", "currency_settings.json"))
	assert.NoError(t, err)
}

func TestFiles_ReadMissing(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)
	_, err = f.Read(context.Background(), Ranks)
	assert.ErrorIs(t, err, ErrNotExist)
}

func TestLoadJSON_MissingWritesDefaults(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	var got sample
	used, err := LoadJSON(ctx, f, Commands, &got, func() { got = sample{Name: "default"} })
	require.NoError(t, err)
	assert.False(t, used)
	assert.Equal(t, "default", got.Name)

	data, err := f.Read(ctx, Commands)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "default"`)
}

func TestLoadJSON_MalformedFallsBackAndQuarantines(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(f.Path(Users), []byte("{not json"), 0o644))

	got := sample{Name: "garbage"}
	used, err := LoadJSON(ctx, f, Users, &got, func() { got = sample{} })
	require.NoError(t, err)
	assert.False(t, used)
	assert.Equal(t, sample{}, got)

	bad, err := os.ReadFile(f.Path(Users) + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(bad))
}

func TestFiles_CredentialsPermissions(t *testing.T) {
	f, err := NewFiles(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, f.Write(context.Background(), Credentials, []byte(`{}`)))

	fi, err := os.Stat(f.Path(Credentials))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestFiles_LockExclusive(t *testing.T) {
	dir := t.TempDir()
	a, err := NewFiles(dir)
	require.NoError(t, err)
	b, err := NewFiles(dir)
	require.NoError(t, err)

	require.NoError(t, a.Lock())
	t.Cleanup(func() { _ = a.Unlock() })
	assert.Error(t, b.Lock())
}

func TestWriteFileAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.json")
	require.NoError(t, WriteFileAtomic(path, []byte("1"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("2"), 0o644))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "2", string(data))
}
