// Package bot wires every component of the chat-command runtime together and
// owns their lifecycle: construction, Run and the ordered shutdown in Close.
package bot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/sound-tender/audio"
	"github.com/onnwee/sound-tender/backup"
	"github.com/onnwee/sound-tender/chat"
	"github.com/onnwee/sound-tender/commands"
	"github.com/onnwee/sound-tender/config"
	"github.com/onnwee/sound-tender/cooldown"
	"github.com/onnwee/sound-tender/credentials"
	"github.com/onnwee/sound-tender/crypto"
	"github.com/onnwee/sound-tender/currency"
	"github.com/onnwee/sound-tender/db"
	"github.com/onnwee/sound-tender/dispatch"
	"github.com/onnwee/sound-tender/oauth"
	"github.com/onnwee/sound-tender/store"
	"github.com/onnwee/sound-tender/twitchapi"
)

const validateTimeout = 10 * time.Second

// Options customize construction. The zero value uses the real clock and
// the system audio device.
type Options struct {
	Clock clockwork.Clock
	// Output overrides the audio device.
	Output audio.Output
	// Helix options apply to the Helix client, e.g. to point it at a test server.
	Helix []twitchapi.Option
	// RefreshURL and RefreshClient override the token endpoint.
	RefreshURL    string
	RefreshClient *http.Client
}

// Bot is the running daemon.
type Bot struct {
	env   *config.Env
	clock clockwork.Clock

	files   *store.Files
	backend store.Backend
	sqlDB   *sql.DB
	creds   *credentials.Store

	appMu sync.Mutex
	app   config.App

	registry   *commands.Registry
	cooldowns  *cooldown.Tracker
	currency   *currency.Manager
	rotator    *backup.Rotator
	saver      *backup.Saver
	autosaver  *backup.AutoSaver
	mods       *chat.Moderators
	presence   *chat.Presence
	gateway    *chat.Gateway
	helix      *twitchapi.Client
	poller     *chat.Poller
	scheduler  *currency.Scheduler
	sink       *audio.Sink
	dispatcher *dispatch.Dispatcher
	refresher  *oauth.Refresher

	startedAt time.Time
	closeOnce sync.Once
	closeErr  error
}

// New builds the runtime: it locks the data directory, loads every dataset
// and wires the components. Missing credentials are not an error; chat then
// stays offline while the admin API keeps working.
func New(ctx context.Context, env *config.Env, o Options) (_ *Bot, err error) {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	b := &Bot{env: env, clock: o.Clock, startedAt: o.Clock.Now()}
	log := slog.With(slog.String("component", "bot"))

	if b.files, err = store.NewFiles(env.DataDir); err != nil {
		return nil, err
	}
	if err := b.files.Lock(); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			b.release()
		}
	}()

	b.backend = b.files
	if env.StoreBackend == config.BackendPostgres {
		if b.sqlDB, err = db.Connect(ctx, env.DBDsn); err != nil {
			return nil, err
		}
		if err = db.Migrate(ctx, b.sqlDB); err != nil {
			return nil, err
		}
		b.backend = db.NewKVStore(b.sqlDB)
		log.Info("datasets stored in postgres")
	}

	var enc crypto.Encryptor
	if env.EncryptionKey != "" {
		if enc, err = crypto.NewAESEncryptor(env.EncryptionKey); err != nil {
			return nil, err
		}
	}
	b.creds = credentials.NewStore(b.files, enc)

	if b.app, err = config.LoadApp(ctx, b.backend); err != nil {
		return nil, err
	}
	b.registry = commands.NewRegistry()
	if err = b.registry.Load(ctx, b.backend); err != nil {
		return nil, err
	}
	b.cooldowns = cooldown.NewTracker()
	b.currency = currency.NewManager(b.backend, b.clock)
	if err = b.currency.Load(ctx); err != nil {
		return nil, err
	}
	b.mods = chat.NewModerators(b.backend)
	if err = b.mods.Load(ctx); err != nil {
		return nil, err
	}

	b.rotator = backup.NewRotator(env.DataDir, b.app.Backup.MaxBackups, b.clock)
	b.saver = backup.NewSaver(b.registry, b.currency, b.backend, b.rotator)
	b.autosaver = backup.NewAutoSaver(b.saver, b.clock)

	creds, cerr := b.creds.Load(ctx)
	switch {
	case errors.Is(cerr, credentials.ErrMissing):
		log.Warn("no twitch credentials saved, chat stays offline", slog.String("file", b.files.Path(store.Credentials)))
	case cerr != nil:
		log.Error("credentials unreadable, chat stays offline", slog.Any("err", cerr))
	case !creds.Complete():
		log.Warn("twitch credentials incomplete, chat stays offline")
	}

	login := ""
	if cerr == nil && creds.Complete() {
		if b.helix, err = twitchapi.NewClient(creds.ClientID, creds.AccessToken, o.Helix...); err != nil {
			return nil, err
		}
		vctx, cancel := context.WithTimeout(ctx, validateTimeout)
		info, verr := b.helix.ValidateToken(vctx, creds.AccessToken)
		cancel()
		if verr != nil {
			log.Error("twitch token validation failed, chat stays offline", slog.Any("err", verr), slog.String("token", credentials.Mask(creds.AccessToken)))
		} else {
			login = info.Login
			log.Info("twitch token valid", slog.String("login", login), slog.Duration("expires_in", info.ExpiresIn))
		}
	}

	b.presence = chat.NewPresence(login, b.clock, env.ActiveWindow, b.mods)
	b.gateway = chat.NewGateway(chat.Config{Channel: b.app.Twitch.Channel, Login: login, Token: creds.Token()}, b.presence, b.mods, b.clock)

	out := o.Output
	if out == nil {
		bo, oerr := audio.NewBeepOutput()
		if oerr != nil {
			log.Warn("audio device unavailable, sounds are not played", slog.Any("err", oerr))
			out = audio.Discard{}
		} else {
			out = bo
		}
	}
	b.sink = audio.NewSink(out, b.app.Sound.SoundDir, b.app.Policy(), b.notify)

	b.dispatcher = dispatch.New(dispatch.Options{
		Registry:     b.registry,
		Cooldowns:    b.cooldowns,
		Currency:     b.currency,
		Player:       b.sink,
		Chat:         b.gateway,
		Moderators:   b.mods,
		Clock:        b.clock,
		MasterVolume: b.masterVolume,
	})
	b.scheduler = currency.NewScheduler(b.currency, b.presence, b.clock, env.AccrualTick)

	if b.helix != nil && login != "" {
		b.poller = chat.NewPoller(b.helix, b.gateway, b.presence, b.mods, b.clock, env.HelixPollInterval)
		b.refresher = b.newRefresher(creds.ClientID, o)
	}
	return b, nil
}

func (b *Bot) newRefresher(clientID string, o Options) *oauth.Refresher {
	r := &oauth.Refresher{
		Store: b.creds,
		Validate: func(ctx context.Context, tok string) (time.Duration, error) {
			info, err := b.helix.ValidateToken(ctx, tok)
			return info.ExpiresIn, err
		},
		Window: b.env.TokenRefreshWindow,
		Clock:  b.clock,
		OnRefresh: func(c credentials.Credentials) {
			b.helix.SetAccessToken(c.AccessToken)
			b.gateway.UpdateToken(c.Token())
		},
	}
	if b.env.TwitchClientSecret != "" {
		rc := twitchapi.RefreshConfig{ClientID: clientID, ClientSecret: b.env.TwitchClientSecret, TokenURL: o.RefreshURL, HTTPClient: o.RefreshClient}
		r.Refresh = func(ctx context.Context, rt string) (twitchapi.TokenPair, error) {
			return twitchapi.Refresh(ctx, rc, rt)
		}
	}
	return r
}

// notify relays audio notices such as "already playing" to chat.
func (b *Bot) notify(msg string) {
	if err := b.gateway.Send(msg); err != nil {
		slog.Debug("audio notice not sent", slog.String("component", "audio"), slog.Any("err", err))
	}
}

func (b *Bot) masterVolume() float64 {
	b.appMu.Lock()
	defer b.appMu.Unlock()
	return b.app.PlaybackVolume()
}

// Config returns the application config.
func (b *Bot) Config() config.App {
	b.appMu.Lock()
	defer b.appMu.Unlock()
	return b.app
}

// SetConfig normalizes, applies and persists a new application config. A
// channel change takes effect on the next start.
func (b *Bot) SetConfig(ctx context.Context, a config.App) (config.App, error) {
	a.Normalize()
	b.appMu.Lock()
	prev := b.app
	b.app = a
	b.appMu.Unlock()

	b.sink.SetPolicy(a.Policy())
	b.sink.SetDir(a.Sound.SoundDir)
	b.rotator.SetMax(a.Backup.MaxBackups)
	if a.AutoSave != prev.AutoSave {
		b.autosaver.Configure(a.AutoSave.Enabled, time.Duration(a.AutoSave.Interval)*time.Second)
	}
	if a.Twitch.Channel != prev.Twitch.Channel {
		slog.Info("channel changed, restart to join it", slog.String("component", "bot"), slog.String("channel", a.Twitch.Channel))
	}
	if err := config.SaveApp(ctx, b.backend, a); err != nil {
		return a, fmt.Errorf("save config: %w", err)
	}
	return a, nil
}

// Gateway exposes the chat connection.
func (b *Bot) Gateway() *chat.Gateway { return b.gateway }

// Registry exposes the command registry.
func (b *Bot) Registry() *commands.Registry { return b.registry }

// Currency exposes the currency manager.
func (b *Bot) Currency() *currency.Manager { return b.currency }

func (b *Bot) release() {
	if b.sqlDB != nil {
		if err := b.sqlDB.Close(); err != nil {
			slog.Warn("failed to close database", slog.Any("err", err))
		}
	}
	if b.files != nil {
		if err := b.files.Unlock(); err != nil {
			slog.Warn("failed to release data dir lock", slog.Any("err", err))
		}
	}
}
