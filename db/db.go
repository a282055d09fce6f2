// Package db stores datasets in Postgres instead of local files. Every
// dataset becomes one row of the kv table; credentials are refused and
// always stay in a local file.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/sound-tender/store"
)

// ErrCredentialsLocal is returned when asked to store credentials.
var ErrCredentialsLocal = errors.New("credentials are only stored in a local file")

// Connect opens a Postgres pool for dsn and checks it is reachable.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("DB_DSN is empty")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	dbx.SetMaxOpenConns(4)
	dbx.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbx.PingContext(pctx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return dbx, nil
}

// Migrate creates the kv table. It is idempotent.
func Migrate(ctx context.Context, dbx *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
	}
	for i, s := range stmts {
		if _, err := dbx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("migrate stmt %d: %w", i, err)
		}
	}
	return nil
}

// KVStore implements store.Backend on the kv table.
type KVStore struct {
	db *sql.DB
}

// NewKVStore wraps an open database.
func NewKVStore(dbx *sql.DB) *KVStore { return &KVStore{db: dbx} }

func (k *KVStore) Read(ctx context.Context, name string) ([]byte, error) {
	if name == store.Credentials {
		return nil, ErrCredentialsLocal
	}
	var v sql.NullString
	err := k.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !v.Valid) {
		return nil, store.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return []byte(v.String), nil
}

func (k *KVStore) Write(ctx context.Context, name string, data []byte) error {
	if name == store.Credentials {
		return ErrCredentialsLocal
	}
	_, err := k.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`,
		name, string(data))
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Quarantine keeps a malformed value under <name>.corrupt.
func (k *KVStore) Quarantine(ctx context.Context, name string, data []byte) {
	if err := k.Write(ctx, name+".corrupt", data); err != nil {
		slog.Warn("failed to quarantine dataset", slog.String("component", "store"), slog.String("name", name), slog.Any("err", err))
	}
}

// Keys lists stored dataset names.
func (k *KVStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := k.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}
