// Package server is the editor's HTTP API. It serves health, status and
// metrics publicly and an authenticated admin API that edits commands,
// backups, currency and moderators. Every mutation goes through the
// command registry or the currency manager, never around them.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/sound-tender/audio"
	"github.com/onnwee/sound-tender/backup"
	"github.com/onnwee/sound-tender/chat"
	"github.com/onnwee/sound-tender/commands"
	"github.com/onnwee/sound-tender/config"
	"github.com/onnwee/sound-tender/cooldown"
	"github.com/onnwee/sound-tender/currency"
	"github.com/onnwee/sound-tender/telemetry"
)

// EventInjector accepts events that did not arrive over chat.
type EventInjector interface {
	InjectEvent(ctx context.Context, ev chat.Event) error
}

// ConfigStore reads and replaces the application config.
type ConfigStore interface {
	Config() config.App
	SetConfig(ctx context.Context, a config.App) (config.App, error)
}

// Check is one readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Status is the runtime summary served at /status.
type Status struct {
	Channel       string    `json:"channel"`
	Connected     bool      `json:"connected"`
	Live          bool      `json:"live"`
	Viewers       int       `json:"viewers"`
	Commands      int       `json:"commands"`
	Users         int       `json:"users"`
	Unsaved       bool      `json:"unsaved"`
	AudioBusy     bool      `json:"audio_busy"`
	AutoSave      bool      `json:"auto_save"`
	AutoSaveEvery string    `json:"auto_save_interval,omitempty"`
	HelixBreaker  string    `json:"helix_breaker,omitempty"`
	StartedAt     time.Time `json:"started_at"`
}

// Deps are the components the handlers act on. Nil components disable the
// routes that need them.
type Deps struct {
	Registry     *commands.Registry
	Cooldowns    *cooldown.Tracker
	Currency     *currency.Manager
	Saver        *backup.Saver
	Rotator      *backup.Rotator
	Moderators   *chat.Moderators
	Sink         *audio.Sink
	Events       EventInjector
	Config       ConfigStore
	Status       func() Status
	Checks       []Check
	MasterVolume func() float64
}

// Options configure the middleware around the handlers.
type Options struct {
	Auth      AuthConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Clock     clockwork.Clock
}

// NewMux returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewMux(ctx context.Context, d Deps, o Options) http.Handler {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	h := &Handlers{deps: d}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.HandleFunc("GET /status", h.HandleStatus)

	admin := http.NewServeMux()
	admin.HandleFunc("GET /admin/commands", h.HandleCommandsList)
	admin.HandleFunc("POST /admin/commands", h.HandleCommandCreate)
	admin.HandleFunc("GET /admin/commands/{name}", h.HandleCommandGet)
	admin.HandleFunc("PUT /admin/commands/{name}", h.HandleCommandUpdate)
	admin.HandleFunc("DELETE /admin/commands/{name}", h.HandleCommandDelete)
	admin.HandleFunc("POST /admin/commands/{name}/move", h.HandleCommandMove)
	admin.HandleFunc("POST /admin/commands/{name}/cooldown/clear", h.HandleCooldownClear)
	admin.HandleFunc("POST /admin/cooldowns/clear", h.HandleCooldownClearAll)
	admin.HandleFunc("POST /admin/save", h.HandleSave)
	admin.HandleFunc("GET /admin/config", h.HandleConfigGet)
	admin.HandleFunc("PUT /admin/config", h.HandleConfigPut)

	admin.HandleFunc("GET /admin/backups", h.HandleBackupsList)
	admin.HandleFunc("GET /admin/backups/{name}", h.HandleBackupPreview)
	admin.HandleFunc("POST /admin/backups/{name}/restore", h.HandleBackupRestore)

	admin.HandleFunc("GET /admin/users", h.HandleUsersList)
	admin.HandleFunc("POST /admin/users", h.HandleUserCreate)
	admin.HandleFunc("PUT /admin/users/{name}", h.HandleUserUpdate)
	admin.HandleFunc("POST /admin/users/{name}/points", h.HandleUserPoints)
	admin.HandleFunc("DELETE /admin/users/{name}", h.HandleUserDelete)
	admin.HandleFunc("GET /admin/currency/settings", h.HandleSettingsGet)
	admin.HandleFunc("PUT /admin/currency/settings", h.HandleSettingsPut)
	admin.HandleFunc("GET /admin/currency/ranks", h.HandleRanksGet)
	admin.HandleFunc("PUT /admin/currency/ranks", h.HandleRanksPut)

	admin.HandleFunc("GET /admin/moderators", h.HandleModeratorsGet)
	admin.HandleFunc("PUT /admin/moderators", h.HandleModeratorsPut)
	admin.HandleFunc("POST /admin/sound/preview", h.HandleSoundPreview)
	admin.HandleFunc("POST /admin/events", h.HandleEventInject)

	limiter := newIPRateLimiter(o.RateLimit, o.Clock)
	go limiter.cleanupLoop(ctx)
	mux.Handle("/admin/", adminAuth(rateLimitMiddleware(admin, limiter), o.Auth))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, telemetry.TracerHTTP, r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		)
		defer span.End()
		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.statusCode))
		if rec.statusCode >= 500 {
			telemetry.RecordError(span, errors.New(strings.ToLower(http.StatusText(rec.statusCode))))
		}
	})
	return withCORS(handler, o.CORS)
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
