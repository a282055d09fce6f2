// Package dispatch turns chat events into command side effects.
//
// Messages are handled one at a time in arrival order. For a trigger the
// dispatcher checks, in order: enabled and chat usage, permission, the global
// cooldown, the per-user cooldown and the cost. Only when all pass does it
// play the sound, send the reply, record the cooldown and bump the count.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/sound-tender/audio"
	"github.com/onnwee/sound-tender/chat"
	"github.com/onnwee/sound-tender/commands"
	"github.com/onnwee/sound-tender/cooldown"
	"github.com/onnwee/sound-tender/currency"
	"github.com/onnwee/sound-tender/telemetry"
)

// Result is the outcome of handling one event.
type Result string

const (
	ResultEcho            Result = "echo"
	ResultIgnored         Result = "ignored"
	ResultUnknown         Result = "unknown"
	ResultDisabled        Result = "disabled"
	ResultDenied          Result = "permission"
	ResultGlobalCooldown  Result = "cooldown_global"
	ResultUserCooldown    Result = "cooldown_user"
	ResultInsufficient    Result = "funds"
	ResultFired           Result = "fired"
	ResultBalance         Result = "balance"
	ResultBalanceThrottle Result = "balance_throttled"
	ResultEvent           Result = "event"
	ResultPanic           Result = "panic"
)

// Sender posts a chat message.
type Sender interface {
	Send(text string) error
}

// Player plays a sound file at a volume in [0,1].
type Player interface {
	Play(path string, volume float64) error
}

// ModeratorSet answers the manual moderator lists.
type ModeratorSet interface {
	IsModerator(user string) bool
	IsExcluded(user string) bool
}

// Options wires a Dispatcher. Registry, Cooldowns, Currency and Chat are
// required.
type Options struct {
	Registry   *commands.Registry
	Cooldowns  *cooldown.Tracker
	Currency   *currency.Manager
	Player     Player
	Chat       Sender
	Moderators ModeratorSet
	Clock      clockwork.Clock
	// MasterVolume scales every command volume; nil means 1.
	MasterVolume func() float64
	// Observer sees every non-echo event before it is handled.
	Observer func(chat.Event)
}

// Dispatcher is the chat event loop.
type Dispatcher struct {
	o       Options
	balance *cooldown.UserGate
}

// New returns a dispatcher.
func New(o Options) *Dispatcher {
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return &Dispatcher{o: o, balance: cooldown.NewUserGate()}
}

// Run handles events until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context, events <-chan chat.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			d.Handle(ctx, ev)
		}
	}
}

// Handle processes one event. It never panics.
func (d *Dispatcher) Handle(ctx context.Context, ev chat.Event) (res Result) {
	ctx = telemetry.NewCorrelation(ctx)
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "dispatch"))
	defer func() {
		if r := recover(); r != nil {
			log.Error("dispatch panic recovered", slog.Any("panic", r), slog.String("kind", string(ev.Kind)))
			res = ResultPanic
		}
	}()

	switch ev.Kind {
	case chat.KindMessage:
		_, span := telemetry.StartSpan(ctx, telemetry.TracerDispatch, "dispatch.message",
			attribute.String("user", ev.User), attribute.String("channel", ev.Channel))
		defer span.End()
		telemetry.TimeFunc(telemetry.DispatchDuration, func() { res = d.message(log, ev) })
		span.SetAttributes(attribute.String("result", string(res)))
		telemetry.SetSpanSuccess(span)
		return res
	case chat.KindRaid, chat.KindFollow, chat.KindSub, chat.KindMassSubGift, chat.KindHost:
		d.observe(ev)
		d.award(log, ev)
		return ResultEvent
	default:
		d.observe(ev)
		return ResultIgnored
	}
}

func (d *Dispatcher) observe(ev chat.Event) {
	if d.o.Observer != nil {
		d.o.Observer(ev)
	}
}

func (d *Dispatcher) award(log *slog.Logger, ev chat.Event) {
	if ev.User == "" {
		return
	}
	amt, err := d.o.Currency.AwardEvent(currency.EventKind(ev.Kind), ev.User, ev.Count)
	if err != nil {
		log.Warn("event payout failed", slog.String("kind", string(ev.Kind)), slog.String("user", ev.User), slog.Any("err", err))
		return
	}
	if amt > 0 {
		log.Info("event payout", slog.String("kind", string(ev.Kind)), slog.String("user", ev.User), slog.Float64("points", amt))
	}
}

func (d *Dispatcher) message(log *slog.Logger, ev chat.Event) Result {
	if ev.Echo {
		return ResultEcho
	}
	d.observe(ev)
	if ev.User != "" {
		d.o.Currency.ObserveRoles(ev.User, ev.Roles.Has(chat.RoleSubscriber), ev.Roles.Has(chat.RoleModerator))
	}

	fields := strings.Fields(ev.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], commands.Sigil) {
		return ResultIgnored
	}
	token := fields[0]

	cmd, ok := d.o.Registry.Lookup(token)
	if !ok {
		if strings.EqualFold(token, d.o.Currency.Settings().Command) {
			return d.balanceReply(log, ev)
		}
		return d.done(ResultUnknown)
	}
	if !cmd.Enabled || !cmd.Usage.ChatEnabled() {
		return d.done(ResultDisabled)
	}
	if !d.permitted(cmd.Permission, ev) {
		log.Debug("permission denied", slog.String("command", cmd.Command), slog.String("user", ev.User))
		return d.done(ResultDenied)
	}

	now := d.o.Clock.Now()
	dec := d.o.Cooldowns.Admit(cmd.Command, ev.User, cmd.Cooldown, cmd.UserCooldown, now)
	switch dec.Scope {
	case cooldown.ScopeGlobal:
		telemetry.CooldownRejected(string(dec.Scope))
		d.send(log, cooldown.GlobalMessage(cmd.Command, dec.Remaining))
		return d.done(ResultGlobalCooldown)
	case cooldown.ScopeUser:
		telemetry.CooldownRejected(string(dec.Scope))
		d.send(log, cooldown.UserMessage(ev.User, cmd.Command, dec.Remaining))
		return d.done(ResultUserCooldown)
	}

	if cmd.Cost > 0 && !d.o.Currency.PayForCommand(ev.User, float64(cmd.Cost)) {
		log.Debug("insufficient funds", slog.String("command", cmd.Command), slog.String("user", ev.User), slog.Int("cost", cmd.Cost))
		return d.done(ResultInsufficient)
	}

	if cmd.SoundFile != "" && d.o.Player != nil {
		if err := d.o.Player.Play(cmd.SoundFile, audio.VolumeFor(cmd.Volume, d.master())); err != nil && !errors.Is(err, audio.ErrBusy) {
			log.Warn("sound playback failed", slog.String("command", cmd.Command), slog.String("file", cmd.SoundFile), slog.Any("err", err))
		}
	}
	if cmd.Response != "" {
		d.send(log, cmd.Response)
	}
	d.o.Cooldowns.Record(cmd.Command, ev.User, now)
	if _, err := d.o.Registry.IncrementCount(cmd.Command); err != nil {
		// removed by the editor while we were handling it
		log.Debug("count not incremented", slog.String("command", cmd.Command), slog.Any("err", err))
	}
	log.Info("command fired", slog.String("command", cmd.Command), slog.String("user", ev.User))
	return d.done(ResultFired)
}

// permitted applies the permission levels. Broadcaster and admin roles always
// pass; the moderator badge passes unless the user is excluded.
func (d *Dispatcher) permitted(p commands.Permission, ev chat.Event) bool {
	admin := ev.Roles.Has(chat.RoleBroadcaster) || ev.Roles.Has(chat.RoleAdmin)
	switch p {
	case commands.Everyone:
		return true
	case commands.Admin:
		return admin
	case commands.Moderator:
		if admin {
			return true
		}
		if d.o.Moderators == nil {
			return ev.Roles.Has(chat.RoleModerator)
		}
		if d.o.Moderators.IsExcluded(ev.User) {
			return false
		}
		return ev.Roles.Has(chat.RoleModerator) || d.o.Moderators.IsModerator(ev.User)
	}
	return false
}

func (d *Dispatcher) balanceReply(log *slog.Logger, ev chat.Event) Result {
	s := d.o.Currency.Settings()
	window := secondsDuration(s.Cooldown)
	if ok, _ := d.balance.Allow(ev.User, window, d.o.Clock.Now()); !ok {
		return d.done(ResultBalanceThrottle)
	}
	d.send(log, d.o.Currency.FormatCurrencyMessage(ev.User))
	return d.done(ResultBalance)
}

func (d *Dispatcher) send(log *slog.Logger, text string) {
	if err := d.o.Chat.Send(text); err != nil {
		log.Debug("reply not sent", slog.Any("err", err))
	}
}

func (d *Dispatcher) master() float64 {
	if d.o.MasterVolume == nil {
		return 1
	}
	return d.o.MasterVolume()
}

func (d *Dispatcher) done(r Result) Result {
	telemetry.CommandResult(string(r))
	return r
}

func secondsDuration(s int) time.Duration { return time.Duration(s) * time.Second }
