package currency

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/sound-tender/telemetry"
)

// Debounce is the minimum spacing between two paying ticks.
const Debounce = 5 * time.Second

// Audience is what the scheduler needs to know about the channel.
type Audience interface {
	IsLive() bool
	Viewers() []string
	ActiveViewers() []string
	IsModerator(user string) bool
}

// Skip reasons reported in TickResult.
const (
	SkipDisabled  = "accumulation_disabled"
	SkipNoViewers = "no_viewers"
	SkipDebounce  = "debounce"
)

// TickResult summarizes one tick.
type TickResult struct {
	Skipped        string
	Live           bool
	ElapsedMinutes float64
	Users          int
	Points         float64
	Hours          float64
}

// Scheduler pays the current viewers for the time elapsed since the previous
// tick.
type Scheduler struct {
	m        *Manager
	audience Audience
	clock    clockwork.Clock
	every    time.Duration

	mu       sync.Mutex
	lastTick time.Time
}

// NewScheduler returns a scheduler that ticks every period when run.
func NewScheduler(m *Manager, audience Audience, clock clockwork.Clock, every time.Duration) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if every <= 0 {
		every = time.Minute
	}
	return &Scheduler{m: m, audience: audience, clock: clock, every: every}
}

// LastTick returns when the last paying or empty tick completed.
func (s *Scheduler) LastTick() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTick
}

// Tick runs one accrual pass. Ticks are serialized; each pays for the window
// since the previous completed tick, so windows never overlap.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = telemetry.NewCorrelation(ctx)
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerAccrual, "accrual.tick")
	defer span.End()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "accrual"))

	now := s.clock.Now()
	settings := s.m.Settings()
	live := s.audience.IsLive()
	viewers := s.audience.Viewers()
	res := TickResult{Live: live}

	if !settings.AccumulationEnabled || len(viewers) == 0 {
		if !settings.AccumulationEnabled {
			res.Skipped = SkipDisabled
		} else {
			res.Skipped = SkipNoViewers
		}
		// an empty stretch earns nothing later
		s.lastTick = now
		telemetry.AccrualTick("skipped", 0)
		logger.Debug("accrual skipped", slog.String("reason", res.Skipped))
		return res
	}
	if !s.lastTick.IsZero() && now.Sub(s.lastTick) < Debounce {
		res.Skipped = SkipDebounce
		logger.Debug("accrual debounced", slog.Duration("since_last", now.Sub(s.lastTick)))
		return res
	}

	base, interval, mode := settings.OfflinePayout, settings.OfflineInterval, "offline"
	if live {
		base, interval, mode = settings.LivePayout, settings.OnlineInterval, "live"
	}
	elapsed := 0.5 // first tick: half a minute, i.e. base/(interval*2)
	if !s.lastTick.IsZero() {
		elapsed = now.Sub(s.lastTick).Seconds() / 60
	}
	res.ElapsedMinutes = elapsed

	active := make(map[string]bool)
	for _, a := range s.audience.ActiveViewers() {
		active[Username(a)] = true
	}
	hours := 0.0
	if live || settings.OfflineHours {
		hours = Round2(elapsed / 60)
	}
	prorate := func(amount float64) float64 { return Round2(amount * elapsed / interval) }

	total, n := s.m.Accrue(viewers, func(name string, u User) Credit {
		award := prorate(base)
		extra := 0.0
		if u.IsRegular {
			extra += prorate(settings.RegularBonus)
		}
		// The audience already folds chat badges into its effective set,
		// minus excluded names; the stored IsMod flag is the raw badge.
		if s.audience.IsModerator(name) {
			extra += prorate(settings.ModBonus)
		}
		if active[name] {
			extra += prorate(settings.ActiveBonus)
		}
		if u.IsSubscriber && settings.SubBonus > 1 {
			extra += Round2(award * (settings.SubBonus - 1))
		}
		return Credit{Points: Round2(award + extra), Hours: hours}
	})
	res.Users, res.Points, res.Hours = n, total, hours

	if err := s.m.Flush(ctx); err != nil {
		telemetry.RecordError(span, err)
		logger.Warn("failed to persist users after accrual", slog.Any("err", err))
	}
	s.lastTick = now
	telemetry.AccrualTick(mode, total)
	span.SetAttributes(attribute.String("mode", mode), attribute.Int("users", n), attribute.Float64("points", total))
	logger.Info("accrual tick",
		slog.String("mode", mode),
		slog.Int("users", n),
		slog.Float64("elapsed_min", Round2(elapsed)),
		slog.Float64("points", total),
		slog.Float64("hours_each", hours))
	return res
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	t := s.clock.NewTicker(s.every)
	defer t.Stop()
	slog.Info("accrual scheduler started", slog.String("component", "accrual"), slog.Duration("every", s.every))
	for {
		select {
		case <-ctx.Done():
			slog.Info("accrual scheduler stopped", slog.String("component", "accrual"))
			return
		case <-t.Chan():
			s.Tick(ctx)
		}
	}
}
