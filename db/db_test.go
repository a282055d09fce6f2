package db_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/sound-tender/commands"
	"github.com/onnwee/sound-tender/db"
	"github.com/onnwee/sound-tender/store"
	"github.com/onnwee/sound-tender/testutil"
)

func TestMigrateIsIdempotent(t *testing.T) {
	dbx, _ := testutil.PostgresKV(t)
	require.NoError(t, db.Migrate(context.Background(), dbx))
}

func TestKVStore_RoundTrip(t *testing.T) {
	_, kv := testutil.PostgresKV(t, store.Commands)
	ctx := context.Background()

	_, err := kv.Read(ctx, store.Commands)
	assert.ErrorIs(t, err, store.ErrNotExist)

	reg := commands.NewRegistry()
	require.NoError(t, reg.Add(commands.Command{Command: "!pg", Permission: commands.Everyone, Usage: commands.UsageBoth, Enabled: true, Volume: 50}))
	require.NoError(t, reg.Save(ctx, kv))

	again := commands.NewRegistry()
	require.NoError(t, again.Load(ctx, kv))
	c, ok := again.Lookup("!pg")
	require.True(t, ok)
	assert.Equal(t, 50, c.Volume)

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, store.Commands)
}

func TestKVStore_MalformedIsQuarantined(t *testing.T) {
	_, kv := testutil.PostgresKV(t, store.Commands)
	ctx := context.Background()
	require.NoError(t, kv.Write(ctx, store.Commands, []byte("{not json")))

	reg := commands.NewRegistry()
	require.NoError(t, reg.Load(ctx, kv))
	assert.Equal(t, 0, reg.Len())

	bad, err := kv.Read(ctx, store.Commands+".corrupt")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(bad))
}

func TestKVStore_RefusesCredentials(t *testing.T) {
	kv := db.NewKVStore(nil)
	assert.ErrorIs(t, kv.Write(context.Background(), store.Credentials, []byte("{}")), db.ErrCredentialsLocal)
	_, err := kv.Read(context.Background(), store.Credentials)
	assert.ErrorIs(t, err, db.ErrCredentialsLocal)
}

func TestConnect_EmptyDSN(t *testing.T) {
	_, err := db.Connect(context.Background(), "")
	assert.Error(t, err)
}
