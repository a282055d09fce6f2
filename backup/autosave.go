package backup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/onnwee/sound-tender/telemetry"
)

// MinInterval is the shortest auto-save period.
const MinInterval = 60 * time.Second

// AutoSaver runs Saver.Save(ModeAuto) on a timer that can be reconfigured or
// disabled at runtime.
type AutoSaver struct {
	saver *Saver
	clock clockwork.Clock

	mu       sync.Mutex
	parent   context.Context
	enabled  bool
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewAutoSaver returns a stopped auto-saver.
func NewAutoSaver(s *Saver, clock clockwork.Clock) *AutoSaver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AutoSaver{saver: s, clock: clock, interval: MinInterval}
}

// ClampInterval applies the minimum period.
func ClampInterval(d time.Duration) time.Duration { return max(d, MinInterval) }

// Start binds the auto-saver to ctx and starts the timer if enabled.
func (a *AutoSaver) Start(ctx context.Context, enabled bool, interval time.Duration) {
	a.mu.Lock()
	a.parent = ctx
	a.mu.Unlock()
	a.Configure(enabled, interval)
}

// Configure changes the period or turns the timer on or off. It takes effect
// immediately; the next save is one full interval away.
func (a *AutoSaver) Configure(enabled bool, interval time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.enabled = enabled
	a.interval = ClampInterval(interval)
	if !enabled || a.parent == nil {
		return
	}
	ctx, cancel := context.WithCancel(a.parent)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.loop(ctx, a.interval, a.done)
	slog.Info("auto-save scheduled", slog.String("component", "backup"), slog.Duration("interval", a.interval))
}

// Interval returns the configured period and whether the timer is enabled.
func (a *AutoSaver) Interval() (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval, a.enabled
}

// Stop halts the timer and waits for an in-flight save.
func (a *AutoSaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *AutoSaver) stopLocked() {
	if a.cancel == nil {
		return
	}
	a.cancel()
	<-a.done
	a.cancel, a.done = nil, nil
}

func (a *AutoSaver) loop(ctx context.Context, every time.Duration, done chan struct{}) {
	defer close(done)
	t := a.clock.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.Chan():
			ctx := telemetry.NewCorrelation(ctx)
			if _, err := a.saver.Save(ctx, ModeAuto); err != nil {
				// retried on the next tick
				telemetry.LoggerWithCorr(ctx).Warn("auto-save failed", slog.String("component", "backup"), slog.Any("err", err))
			}
		}
	}
}
