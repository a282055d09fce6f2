package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/onnwee/sound-tender/db"
)

// PostgresKV opens TEST_PG_DSN, creates the kv table and clears the given
// dataset keys, plus their quarantine copies, before and after the test.
// The test is skipped when TEST_PG_DSN is not set.
func PostgresKV(t *testing.T, datasets ...string) (*sql.DB, *db.KVStore) {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	ctx := context.Background()
	dbx, err := db.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}
	if err := db.Migrate(ctx, dbx); err != nil {
		_ = dbx.Close()
		t.Fatalf("migrate: %v", err)
	}
	reset := func() {
		for _, name := range datasets {
			if _, err := dbx.ExecContext(ctx, `DELETE FROM kv WHERE key = $1 OR key = $2`, name, name+".corrupt"); err != nil {
				t.Errorf("reset %s: %v", name, err)
			}
		}
	}
	reset()
	t.Cleanup(func() {
		reset()
		_ = dbx.Close()
	})
	return dbx, db.NewKVStore(dbx)
}
