// Command sound-tender is the chat-command daemon. It:
//   - Loads the environment and initializes structured logging.
//   - Locks the data directory and loads commands, users, currency settings,
//     ranks, moderators and config.json.
//   - Joins the configured Twitch channel and dispatches chat commands to
//     sounds, replies and the points economy.
//   - Exposes /healthz, /readyz, /status, /metrics and the admin API.
//
// On SIGINT/SIGTERM it saves everything, writes a closing backup and exits.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/onnwee/sound-tender/bot"
	"github.com/onnwee/sound-tender/config"
	"github.com/onnwee/sound-tender/telemetry"
)

var version = "dev"

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogging(env.LogLevel, env.LogFormat)

	if err := env.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Tracing is optional and only exports when OTEL_EXPORTER_OTLP_ENDPOINT is set.
	shutdown, err := telemetry.InitTracing("sound-tender", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := bot.New(ctx, env, bot.Options{})
	if err != nil {
		slog.Error("startup failed", slog.Any("err", err))
		os.Exit(1) //nolint:gocritic // deferred tracing shutdown is best-effort
	}

	if os.Getenv("ENABLE_PPROF") == "1" {
		go servePprof()
	}

	runErr := b.Run(ctx)
	if runErr != nil {
		slog.Error("runtime exited with error", slog.Any("err", runErr))
	}
	slog.Info("shutting down")
	if err := b.Close(); err != nil || runErr != nil {
		shutdown()
		os.Exit(1)
	}
}

func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", strings.ToLower(format)))
}

func servePprof() {
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	slog.Info("pprof profiling enabled", slog.String("addr", addr))
	srv := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("pprof server error", slog.Any("err", err))
	}
}
