// Package store persists the bot's datasets (commands, users, currency settings,
// ranks, config, credentials, moderators) as JSON documents. Each dataset is a
// distinct document; every write is atomic. Readers tolerate absent or malformed
// documents by falling back to defaults and rewriting them.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Dataset names. Paths are relative to the data directory.
const (
	Commands         = "commands.json"
	Users            = "users_currency.json"
	CurrencySettings = "data/currency_settings.json"
	Ranks            = "data/ranks.json"
	Config           = "config.json"
	Credentials      = "twitch_config.json"
	Moderators       = "moderators.json"
)

// ErrNotExist is returned by a Backend when the dataset has never been written.
var ErrNotExist = errors.New("dataset does not exist")

// Backend reads and writes whole datasets.
type Backend interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
}

// Marshal encodes v the way every dataset is written: 4-space indentation,
// no HTML escaping, trailing newline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveJSON marshals v and writes it to name.
func SaveJSON(ctx context.Context, b Backend, name string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := b.Write(ctx, name, data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// LoadJSON decodes name into v. When the dataset is absent or malformed,
// defaults is invoked to reset v and the defaults are written back. The
// returned bool reports whether the stored document was used as-is.
func LoadJSON(ctx context.Context, b Backend, name string, v any, defaults func()) (bool, error) {
	logger := slog.Default().With(slog.String("component", "store"), slog.String("dataset", name))
	data, err := b.Read(ctx, name)
	switch {
	case errors.Is(err, ErrNotExist):
		logger.Info("dataset missing, writing defaults")
	case err != nil:
		return false, fmt.Errorf("read %s: %w", name, err)
	case len(bytes.TrimSpace(data)) == 0:
		logger.Warn("dataset empty, writing defaults")
	default:
		if uerr := json.Unmarshal(data, v); uerr == nil {
			return true, nil
		} else {
			logger.Warn("dataset malformed, writing defaults", slog.Any("err", uerr))
			if q, ok := b.(interface {
				Quarantine(ctx context.Context, name string, data []byte)
			}); ok {
				q.Quarantine(ctx, name, data)
			}
		}
	}
	if defaults != nil {
		defaults()
	}
	if err := SaveJSON(ctx, b, name, v); err != nil {
		logger.Warn("failed to rewrite defaults", slog.Any("err", err))
	}
	return false, nil
}
