// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommandsTotal           *prometheus.CounterVec // result: fired|cooldown|permission|funds|disabled|unknown
	CooldownRejections      *prometheus.CounterVec // scope: global|user
	AccrualTicks            *prometheus.CounterVec // mode: live|offline|skipped
	PointsAwarded           prometheus.Counter
	BackupsWritten          prometheus.Counter
	ChatReconnects          prometheus.Counter
	AudioPlays              *prometheus.CounterVec // result: played|preempted|busy|error
	CircuitStateTransitions *prometheus.CounterVec

	// Histograms (seconds)
	DispatchDuration prometheus.Observer

	// Gauges
	ChatConnected prometheus.Gauge
	CircuitState  prometheus.Gauge // 0=closed,1=half-open,2=open
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "soundtender_commands_total", Help: "Chat command triggers by outcome"}, []string{"result"})
		CooldownRejections = promauto.NewCounterVec(prometheus.CounterOpts{Name: "soundtender_cooldown_rejections_total", Help: "Triggers rejected by a cooldown gate"}, []string{"scope"})
		AccrualTicks = promauto.NewCounterVec(prometheus.CounterOpts{Name: "soundtender_accrual_ticks_total", Help: "Accrual ticks by mode"}, []string{"mode"})
		PointsAwarded = promauto.NewCounter(prometheus.CounterOpts{Name: "soundtender_points_awarded_total", Help: "Currency credited by accrual and events"})
		BackupsWritten = promauto.NewCounter(prometheus.CounterOpts{Name: "soundtender_backups_written_total", Help: "Command snapshots written"})
		ChatReconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "soundtender_chat_reconnects_total", Help: "Chat reconnect attempts"})
		AudioPlays = promauto.NewCounterVec(prometheus.CounterOpts{Name: "soundtender_audio_plays_total", Help: "Audio play requests by outcome"}, []string{"result"})
		CircuitStateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "soundtender_helix_circuit_transitions_total", Help: "Helix circuit breaker state transitions"}, []string{"from", "to"})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "soundtender_dispatch_duration_seconds", Help: "Time to handle one chat message", Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1}})
		ChatConnected = promauto.NewGauge(prometheus.GaugeOpts{Name: "soundtender_chat_connected", Help: "Chat connection up=1 down=0"})
		CircuitState = promauto.NewGauge(prometheus.GaugeOpts{Name: "soundtender_helix_circuit_state", Help: "Helix circuit breaker closed=0 half-open=1 open=2"})
	})
}

// The helpers below are no-ops until Init has run, so packages can record
// metrics unconditionally and tests need not register anything.

func CommandResult(result string) {
	if CommandsTotal != nil {
		CommandsTotal.WithLabelValues(result).Inc()
	}
}

func CooldownRejected(scope string) {
	if CooldownRejections != nil {
		CooldownRejections.WithLabelValues(scope).Inc()
	}
}

func AccrualTick(mode string, awarded float64) {
	if AccrualTicks != nil {
		AccrualTicks.WithLabelValues(mode).Inc()
	}
	AddPoints(awarded)
}

func AddPoints(n float64) {
	if PointsAwarded != nil && n > 0 {
		PointsAwarded.Add(n)
	}
}

func BackupWritten() {
	if BackupsWritten != nil {
		BackupsWritten.Inc()
	}
}

func ChatReconnect() {
	if ChatReconnects != nil {
		ChatReconnects.Inc()
	}
}

func SetChatConnected(up bool) {
	if ChatConnected == nil {
		return
	}
	if up {
		ChatConnected.Set(1)
	} else {
		ChatConnected.Set(0)
	}
}

func AudioPlay(result string) {
	if AudioPlays != nil {
		AudioPlays.WithLabelValues(result).Inc()
	}
}

// SetCircuitState records the Helix breaker state by name.
func SetCircuitState(state string) {
	if CircuitState == nil {
		return
	}
	switch state {
	case "closed":
		CircuitState.Set(0)
	case "half-open":
		CircuitState.Set(1)
	case "open":
		CircuitState.Set(2)
	}
}

// RecordCircuitStateChange counts a transition and updates the state gauge.
func RecordCircuitStateChange(from, to string) {
	if CircuitStateTransitions != nil {
		CircuitStateTransitions.WithLabelValues(from, to).Inc()
	}
	SetCircuitState(to)
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// NewCorrelation embeds a fresh random correlation id.
func NewCorrelation(ctx context.Context) context.Context {
	return WithCorrelation(ctx, uuid.NewString())
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
