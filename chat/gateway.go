package chat

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/jonboulle/clockwork"

	"github.com/onnwee/sound-tender/telemetry"
)

const (
	minBackoff = time.Second
	maxBackoff = 60 * time.Second
	eventQueue = 256
)

// ircClient is the subset of *twitch.Client the gateway drives.
type ircClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	OnUserJoinMessage(func(twitch.UserJoinMessage))
	OnUserPartMessage(func(twitch.UserPartMessage))
	OnUserNoticeMessage(func(twitch.UserNoticeMessage))
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

func newIRCClient(login, token string) ircClient {
	return twitch.NewClient(login, "oauth:"+strings.TrimPrefix(token, "oauth:"))
}

// Config describes the channel to join and the bot identity.
type Config struct {
	Channel string
	Login   string
	Token   string
}

// Gateway is the connection to one channel.
type Gateway struct {
	channel  string
	login    string
	clock    clockwork.Clock
	presence *Presence
	mods     *Moderators
	dial     func(login, token string) ircClient

	events    chan Event
	reconnect chan struct{}

	mu        sync.Mutex
	token     string
	client    ircClient
	connected bool
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewGateway builds a gateway. presence and mods may be nil.
func NewGateway(cfg Config, presence *Presence, mods *Moderators, clock clockwork.Clock) *Gateway {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Gateway{
		channel:   login(strings.TrimPrefix(cfg.Channel, "#")),
		login:     login(cfg.Login),
		token:     cfg.Token,
		clock:     clock,
		presence:  presence,
		mods:      mods,
		dial:      newIRCClient,
		events:    make(chan Event, eventQueue),
		reconnect: make(chan struct{}, 1),
	}
}

// Channel returns the joined channel name.
func (g *Gateway) Channel() string { return g.channel }

// Login returns the bot login.
func (g *Gateway) Login() string { return g.login }

// Events is the inbound event stream. It is never closed.
func (g *Gateway) Events() <-chan Event { return g.events }

// Connected reports whether the IRC session is up.
func (g *Gateway) Connected() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.connected
}

// Start connects in the background. It fails with ErrCredentialMissing when
// no token or channel is configured; the failure is also published as a
// status event.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return nil
	}
	if g.token == "" || g.channel == "" || g.login == "" {
		g.mu.Unlock()
		g.emit(ctx, Event{Kind: KindStatus, Status: StatusCredentialMissing, Err: ErrCredentialMissing})
		return ErrCredentialMissing
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.running = true
	g.cancel = cancel
	g.done = make(chan struct{})
	done := g.done
	g.mu.Unlock()

	go func() {
		defer close(done)
		g.run(runCtx)
	}()
	return nil
}

// Stop disconnects and waits for the connection loop to exit. Safe to call
// more than once.
func (g *Gateway) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel = nil
	g.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	g.mu.Lock()
	g.running = false
	g.mu.Unlock()
}

// UpdateToken swaps the access token and forces a reconnect.
func (g *Gateway) UpdateToken(token string) {
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
	select {
	case g.reconnect <- struct{}{}:
	default:
	}
}

// Send writes a message to the channel. While disconnected the message is
// dropped and ErrNotConnected returned.
func (g *Gateway) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	g.mu.Lock()
	c, up := g.client, g.connected
	g.mu.Unlock()
	if c == nil || !up {
		slog.Warn("chat message dropped while disconnected", slog.String("component", "chat"), slog.Int("len", len(text)))
		return ErrNotConnected
	}
	c.Say(g.channel, text)
	return nil
}

// InjectEvent delivers an externally sourced event, such as a follow relayed
// by a webhook, into the stream.
func (g *Gateway) InjectEvent(ctx context.Context, ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = g.clock.Now()
	}
	if ev.Channel == "" {
		ev.Channel = g.channel
	}
	ev.User = login(ev.User)
	select {
	case g.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) emit(ctx context.Context, ev Event) {
	select {
	case g.events <- ev:
	case <-ctx.Done():
	}
}

func (g *Gateway) setState(c ircClient, up bool) {
	g.mu.Lock()
	g.client = c
	g.connected = up
	g.mu.Unlock()
	telemetry.SetChatConnected(up)
}

func (g *Gateway) run(ctx context.Context) {
	log := slog.With(slog.String("component", "chat"), slog.String("channel", g.channel))
	backoff := minBackoff
	for {
		g.mu.Lock()
		token := g.token
		g.mu.Unlock()

		var once sync.Once
		wasUp := false
		c := g.dial(g.login, token)
		g.wire(ctx, c, func() {
			once.Do(func() {
				wasUp = true
				g.setState(c, true)
				log.Info("chat connected")
				g.emit(ctx, Event{Kind: KindStatus, Channel: g.channel, Status: StatusConnected, Time: g.clock.Now()})
			})
		})
		c.Join(g.channel)
		g.mu.Lock()
		g.client = c
		g.mu.Unlock()

		errc := make(chan error, 1)
		go func() { errc <- c.Connect() }()
		// once.Do synchronizes with a concurrent OnConnect so the state set
		// here is final and wasUp can be read
		down := func() {
			once.Do(func() {})
			g.setState(nil, false)
		}

		var err error
		select {
		case err = <-errc:
		case <-ctx.Done():
			hangUp(c, errc)
			down()
			log.Info("chat stopped")
			return
		case <-g.reconnect:
			hangUp(c, errc)
			down()
			log.Info("chat reconnecting with new token")
			backoff = minBackoff
			continue
		}
		down()

		if ClassifyError(err) == ErrorClassFatal {
			log.Error("chat authentication failed", slog.Any("err", err))
			g.emit(ctx, Event{Kind: KindStatus, Channel: g.channel, Status: StatusAuthFailed, Err: errors.Join(ErrAuthFailed, err), Time: g.clock.Now()})
			return
		}
		if wasUp {
			backoff = minBackoff
			g.emit(ctx, Event{Kind: KindStatus, Channel: g.channel, Status: StatusDisconnected, Err: err, Time: g.clock.Now()})
		}
		telemetry.ChatReconnect()
		log.Warn("chat disconnected, retrying", slog.Any("err", err), slog.Duration("backoff", backoff))

		select {
		case <-ctx.Done():
			return
		case <-g.reconnect:
			backoff = minBackoff
			continue
		case <-g.clock.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// hangUp disconnects c and waits for Connect to return. Disconnect is a
// no-op until the connection is established, so it is repeated.
func hangUp(c ircClient, errc <-chan error) {
	t := time.NewTicker(100 * time.Millisecond)
	defer t.Stop()
	for {
		_ = c.Disconnect()
		select {
		case <-errc:
			return
		case <-t.C:
		}
	}
}

func (g *Gateway) wire(ctx context.Context, c ircClient, onConnect func()) {
	c.OnConnect(onConnect)
	c.OnPrivateMessage(func(m twitch.PrivateMessage) {
		user := login(m.User.Name)
		roles := RolesFromBadges(m.User.Badges)
		if g.presence != nil {
			g.presence.Seen(user)
		}
		if g.mods != nil {
			g.mods.ObserveBadge(user, roles.Has(RoleModerator))
		}
		ts := m.Time
		if ts.IsZero() {
			ts = g.clock.Now()
		}
		g.emit(ctx, Event{
			Kind:        KindMessage,
			Channel:     login(m.Channel),
			UserID:      m.User.ID,
			User:        user,
			DisplayName: m.User.DisplayName,
			Roles:       roles,
			Text:        m.Message,
			Echo:        user == g.login,
			Time:        ts,
		})
	})
	c.OnUserJoinMessage(func(m twitch.UserJoinMessage) {
		if g.presence != nil {
			g.presence.Join(m.User)
		}
		g.emit(ctx, Event{Kind: KindJoin, Channel: login(m.Channel), User: login(m.User), Time: g.clock.Now()})
	})
	c.OnUserPartMessage(func(m twitch.UserPartMessage) {
		if g.presence != nil {
			g.presence.Part(m.User)
		}
		g.emit(ctx, Event{Kind: KindPart, Channel: login(m.Channel), User: login(m.User), Time: g.clock.Now()})
	})
	c.OnUserNoticeMessage(func(m twitch.UserNoticeMessage) {
		if ev, ok := noticeEvent(m); ok {
			if ev.Time.IsZero() {
				ev.Time = g.clock.Now()
			}
			g.emit(ctx, ev)
		}
	})
}

// noticeEvent maps a USERNOTICE to an Event. Gifts that belong to a
// community gift are skipped; the submysterygift notice already counts them.
func noticeEvent(m twitch.UserNoticeMessage) (Event, bool) {
	ev := Event{
		Channel:     login(m.Channel),
		UserID:      m.User.ID,
		User:        login(m.User.Name),
		DisplayName: m.User.DisplayName,
		Roles:       RolesFromBadges(m.User.Badges),
		Text:        m.Message,
		Time:        m.Time,
	}
	param := func(k string) int {
		n, _ := strconv.Atoi(m.MsgParams[k])
		return n
	}
	switch m.MsgID {
	case "raid":
		ev.Kind = KindRaid
		ev.Count = param("msg-param-viewerCount")
	case "sub", "resub":
		ev.Kind = KindSub
		ev.Count = 1
	case "submysterygift":
		ev.Kind = KindMassSubGift
		ev.Count = max(param("msg-param-mass-gift-count"), 1)
	case "subgift", "anonsubgift":
		if m.MsgParams["msg-param-community-gift-id"] != "" {
			return Event{}, false
		}
		ev.Kind = KindMassSubGift
		ev.Count = 1
	default:
		return Event{}, false
	}
	return ev, true
}
