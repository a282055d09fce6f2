package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/sound-tender/backup"
	"github.com/onnwee/sound-tender/chat"
	"github.com/onnwee/sound-tender/config"
	"github.com/onnwee/sound-tender/oauth"
	"github.com/onnwee/sound-tender/server"
	"github.com/onnwee/sound-tender/store"
)

const closeTimeout = 15 * time.Second

// Run starts every background component and blocks until ctx is canceled
// and they have all returned. A failing HTTP listener is returned as an
// error; everything else degrades and keeps running.
func (b *Bot) Run(ctx context.Context) error {
	log := slog.With(slog.String("component", "bot"))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := b.gateway.Start(ctx); err != nil {
		if !errors.Is(err, chat.ErrCredentialMissing) {
			return err
		}
		log.Warn("chat offline, admin API only", slog.Any("err", err))
	}

	var wg sync.WaitGroup
	spawn := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	spawn(func(ctx context.Context) { b.dispatcher.Run(ctx, b.gateway.Events()) })
	spawn(b.scheduler.Run)
	if b.poller != nil {
		spawn(b.poller.Run)
	}
	if b.refresher != nil {
		done := oauth.StartRefresher(ctx, b.refresher, b.env.TokenRefreshInterval)
		spawn(func(context.Context) { <-done })
	}

	app := b.Config()
	b.autosaver.Start(ctx, app.AutoSave.Enabled, time.Duration(app.AutoSave.Interval)*time.Second)

	errc := make(chan error, 1)
	if b.env.HTTPAddr != "" {
		handler := server.NewMux(ctx, b.deps(), server.Options{
			Auth:      server.AuthConfig{Username: b.env.AdminUser, Password: b.env.AdminPassword, Token: b.env.AdminToken},
			RateLimit: server.RateLimitConfig{Requests: b.env.RateLimitRequests, Window: b.env.RateLimitWindow},
			CORS:      server.CORSConfig{Permissive: b.env.CORSPermissive(), Origins: b.env.AllowedOrigins()},
			Clock:     b.clock,
		})
		if !b.env.AdminEnabled() {
			log.Warn("admin API has no credentials configured, restrict HTTP_ADDR to a trusted interface")
		}
		log.Info("http listening", slog.String("addr", b.env.HTTPAddr))
		spawn(func(ctx context.Context) { errc <- server.Start(ctx, b.env.HTTPAddr, handler) })
	}

	log.Info("runtime started",
		slog.String("channel", b.gateway.Channel()),
		slog.Int("commands", b.registry.Len()),
		slog.Int("users", len(b.currency.Users())))

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
		cancel()
	}
	wg.Wait()
	return err
}

func (b *Bot) deps() server.Deps {
	return server.Deps{
		Registry:     b.registry,
		Cooldowns:    b.cooldowns,
		Currency:     b.currency,
		Saver:        b.saver,
		Rotator:      b.rotator,
		Moderators:   b.mods,
		Sink:         b.sink,
		Events:       b.gateway,
		Config:       b,
		Status:       b.Status,
		MasterVolume: b.masterVolume,
		Checks: []server.Check{
			{Name: "store", Fn: b.checkStore},
			{Name: "chat", Fn: b.checkChat},
		},
	}
}

func (b *Bot) checkStore(ctx context.Context) error {
	_, err := b.backend.Read(ctx, store.Commands)
	if errors.Is(err, store.ErrNotExist) {
		return nil
	}
	return err
}

// checkChat fails only when chat should be up: credentials are valid but the
// session is down.
func (b *Bot) checkChat(context.Context) error {
	if b.gateway.Login() == "" || b.gateway.Connected() {
		return nil
	}
	return errors.New("chat disconnected")
}

// Status summarizes the runtime for /status.
func (b *Bot) Status() server.Status {
	app := b.Config()
	st := server.Status{
		Channel:   b.gateway.Channel(),
		Connected: b.gateway.Connected(),
		Live:      b.presence.IsLive(),
		Viewers:   len(b.presence.Viewers()),
		Commands:  b.registry.Len(),
		Users:     len(b.currency.Users()),
		Unsaved:   b.saver.Dirty(),
		AudioBusy: b.sink.Busy(),
		StartedAt: b.startedAt,
	}
	if every, on := b.autosaver.Interval(); on {
		st.AutoSave = true
		st.AutoSaveEvery = every.String()
	} else {
		st.AutoSave = app.AutoSave.Enabled
	}
	if b.helix != nil {
		st.HelixBreaker = b.helix.BreakerState()
	}
	return st
}

// Close runs the shutdown sequence once: disconnect chat, silence audio,
// stop auto-save, flush both datasets with a closing backup unless
// backup_on_close is off, persist the config and release the data directory.
// A failing step is logged and the sequence continues; the first error is
// returned.
func (b *Bot) Close() error {
	b.closeOnce.Do(func() {
		log := slog.With(slog.String("component", "bot"))
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		fail := func(step string, err error) {
			log.Error("shutdown step failed", slog.String("step", step), slog.Any("err", err))
			if b.closeErr == nil {
				b.closeErr = err
			}
		}

		b.gateway.Stop()
		b.sink.Stop()
		b.autosaver.Stop()

		app := b.Config()
		mode := backup.ModeClose
		if !app.Backup.OnClose {
			mode = backup.ModeAuto
		}
		res, err := b.saver.Save(ctx, mode)
		if err != nil {
			fail("save", err)
		} else if res.Backup != "" {
			log.Info("closing backup written", slog.String("file", res.Backup))
		}

		if err := config.SaveApp(ctx, b.backend, app); err != nil {
			fail("config", err)
		}

		b.release()
		log.Info("shutdown complete")
	})
	return b.closeErr
}
