package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// HelixAPI is the part of the Helix client the poller uses.
type HelixAPI interface {
	UserID(ctx context.Context, login string) (string, error)
	StreamLive(ctx context.Context, login string) (bool, error)
	Chatters(ctx context.Context, broadcasterID, moderatorID string) ([]string, error)
	Moderators(ctx context.Context, broadcasterID string) ([]string, error)
}

// Poller refreshes presence from Helix: live status, chatters and the
// moderator list. Failures are logged and the previous snapshot is kept.
type Poller struct {
	api      HelixAPI
	gw       *Gateway
	presence *Presence
	mods     *Moderators
	clock    clockwork.Clock
	every    time.Duration

	mu            sync.Mutex
	broadcasterID string
	botID         string
}

// NewPoller returns a poller for gw's channel.
func NewPoller(api HelixAPI, gw *Gateway, presence *Presence, mods *Moderators, clock clockwork.Clock, every time.Duration) *Poller {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if every <= 0 {
		every = time.Minute
	}
	return &Poller{api: api, gw: gw, presence: presence, mods: mods, clock: clock, every: every}
}

func (p *Poller) ids(ctx context.Context) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.broadcasterID == "" {
		id, err := p.api.UserID(ctx, p.gw.Channel())
		if err != nil {
			return "", "", err
		}
		p.broadcasterID = id
	}
	if p.botID == "" {
		id, err := p.api.UserID(ctx, p.gw.Login())
		if err != nil {
			return "", "", err
		}
		p.botID = id
	}
	return p.broadcasterID, p.botID, nil
}

// PollOnce runs one refresh. A live status change is published on the
// gateway's event stream.
func (p *Poller) PollOnce(ctx context.Context) {
	log := slog.With(slog.String("component", "chat"), slog.String("channel", p.gw.Channel()))

	live, err := p.api.StreamLive(ctx, p.gw.Channel())
	if err != nil {
		log.Debug("live status poll failed", slog.Any("err", err))
	} else if p.presence.SetLive(live) {
		log.Info("live status changed", slog.Bool("live", live))
		p.gw.emit(ctx, Event{Kind: KindLiveStatus, Channel: p.gw.Channel(), Live: live, Time: p.clock.Now()})
	}

	bid, mid, err := p.ids(ctx)
	if err != nil {
		log.Debug("user id lookup failed", slog.Any("err", err))
		return
	}
	if chatters, err := p.api.Chatters(ctx, bid, mid); err != nil {
		log.Debug("chatters poll failed", slog.Any("err", err))
	} else {
		p.presence.SetChatters(chatters)
	}
	if p.mods != nil {
		if mods, err := p.api.Moderators(ctx, bid); err != nil {
			log.Debug("moderators poll failed", slog.Any("err", err))
		} else {
			p.mods.SetAPI(mods)
		}
	}
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	t := p.clock.NewTicker(p.every)
	defer t.Stop()
	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			p.PollOnce(ctx)
		}
	}
}
