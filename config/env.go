// Package config loads the two configuration layers: the process
// environment (Env) and the application's config.json (App).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"

	"github.com/onnwee/sound-tender/crypto"
)

// Store backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Env is the process environment.
type Env struct {
	DataDir   string `env:"DATA_DIR" default:"data"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	HTTPAddr  string `env:"HTTP_ADDR" default:":8080"`

	StoreBackend string `env:"STORE_BACKEND" default:"file"`
	DBDsn        string `env:"DB_DSN"`

	// EncryptionKey seals credentials at rest when set (base64, 32 bytes).
	EncryptionKey      string `env:"ENCRYPTION_KEY"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	AdminToken         string `env:"ADMIN_TOKEN"`
	AdminUser          string `env:"ADMIN_USERNAME"`
	AdminPassword      string `env:"ADMIN_PASSWORD"`

	// CORS is permissive unless ENV names a production deployment.
	Environment        string        `env:"ENV" default:"development"`
	CORSAllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS"`
	RateLimitRequests  int           `env:"RATE_LIMIT_REQUESTS_PER_IP" default:"60"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW" default:"1m"`

	AccrualTick          time.Duration `env:"ACCRUAL_TICK" default:"60s"`
	HelixPollInterval    time.Duration `env:"HELIX_POLL_INTERVAL" default:"60s"`
	ActiveWindow         time.Duration `env:"ACTIVE_WINDOW" default:"15m"`
	TokenRefreshInterval time.Duration `env:"TOKEN_REFRESH_INTERVAL" default:"5m"`
	TokenRefreshWindow   time.Duration `env:"TOKEN_REFRESH_WINDOW" default:"15m"`
}

// LoadEnv reads an optional .env file and then the environment.
func LoadEnv() (*Env, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}
	var e Env
	if err := env.Load(&e, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks cross-field constraints.
func (e *Env) Validate() error {
	switch e.StoreBackend {
	case BackendFile:
	case BackendPostgres:
		if e.DBDsn == "" {
			return errors.New("DB_DSN is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendFile, BackendPostgres, e.StoreBackend)
	}
	if e.EncryptionKey != "" {
		if _, err := crypto.NewAESEncryptor(e.EncryptionKey); err != nil {
			return fmt.Errorf("ENCRYPTION_KEY: %w", err)
		}
	}
	durations := map[string]time.Duration{
		"ACCRUAL_TICK":           e.AccrualTick,
		"HELIX_POLL_INTERVAL":    e.HelixPollInterval,
		"ACTIVE_WINDOW":          e.ActiveWindow,
		"TOKEN_REFRESH_INTERVAL": e.TokenRefreshInterval,
		"TOKEN_REFRESH_WINDOW":   e.TokenRefreshWindow,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// CORSPermissive reports whether every origin is allowed.
func (e *Env) CORSPermissive() bool {
	switch strings.ToLower(e.Environment) {
	case "", "dev", "development", "local":
		return true
	}
	return false
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (e *Env) AllowedOrigins() []string {
	var out []string
	for _, o := range strings.Split(e.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// AdminEnabled reports whether any admin credential is configured.
func (e *Env) AdminEnabled() bool {
	return e.AdminToken != "" || (e.AdminUser != "" && e.AdminPassword != "")
}
