package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/onnwee/sound-tender/store"
)

// Basis selects which user metric a threshold is measured against.
type Basis string

const (
	BasisPoints Basis = "points"
	BasisHours  Basis = "hours"
)

func (b *Basis) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hours", "hour", "watchtime":
		*b = BasisHours
	default:
		*b = BasisPoints
	}
	return nil
}

// PayoutPerMinute is the only payout mode.
const PayoutPerMinute = "per_minute"

// Settings controls currency naming, the balance command and accrual rates.
// Intervals are minutes, the balance command cooldown is seconds.
type Settings struct {
	CurrencyName    string  `json:"currency_name"`
	Command         string  `json:"command"`
	MessageTemplate string  `json:"message_template"`
	Cooldown        int     `json:"cooldown"`
	RankBasis       Basis   `json:"rank_basis"`
	LivePayout      float64 `json:"live_payout"`
	OfflinePayout   float64 `json:"offline_payout"`
	OnlineInterval  float64 `json:"online_interval"`
	OfflineInterval float64 `json:"offline_interval"`
	RegularBonus    float64 `json:"regular_bonus"`
	SubBonus        float64 `json:"sub_bonus"`
	ModBonus        float64 `json:"mod_bonus"`
	ActiveBonus     float64 `json:"active_bonus"`

	AutoRegularEnabled bool    `json:"auto_regular_enabled"`
	AutoRegularAmount  float64 `json:"auto_regular_amount"`
	AutoRegularBasis   Basis   `json:"auto_regular_basis"`

	RaidPayout     float64 `json:"raid_payout"`
	FollowPayout   float64 `json:"follow_payout"`
	SubEventPayout float64 `json:"sub_event_payout"`
	MassSubPayout  float64 `json:"mass_sub_payout"`
	HostPayout     float64 `json:"host_payout"`

	OfflineHours        bool   `json:"offline_hours"`
	AccumulationEnabled bool   `json:"accumulation_enabled"`
	PayoutMode          string `json:"payout_mode"`
}

// DefaultSettings are written when no settings file exists.
func DefaultSettings() Settings {
	return Settings{
		CurrencyName:        "points",
		Command:             "!points",
		MessageTemplate:     "@$username you have $points $currencyname, watched $hours, rank: $rank",
		Cooldown:            30,
		RankBasis:           BasisPoints,
		LivePayout:          5,
		OfflinePayout:       1,
		OnlineInterval:      5,
		OfflineInterval:     15,
		SubBonus:            1,
		AutoRegularAmount:   1000,
		AutoRegularBasis:    BasisPoints,
		AccumulationEnabled: true,
		PayoutMode:          PayoutPerMinute,
	}
}

// Normalize repairs values the scheduler cannot work with.
func (s *Settings) Normalize() {
	d := DefaultSettings()
	if s.OnlineInterval <= 0 {
		s.OnlineInterval = d.OnlineInterval
	}
	if s.OfflineInterval <= 0 {
		s.OfflineInterval = d.OfflineInterval
	}
	if s.Cooldown < 0 {
		s.Cooldown = 0
	}
	if strings.TrimSpace(s.Command) == "" {
		s.Command = d.Command
	}
	if s.RankBasis == "" {
		s.RankBasis = BasisPoints
	}
	if s.AutoRegularBasis == "" {
		s.AutoRegularBasis = BasisPoints
	}
	for _, p := range []*float64{&s.LivePayout, &s.OfflinePayout, &s.RegularBonus, &s.ModBonus, &s.ActiveBonus,
		&s.RaidPayout, &s.FollowPayout, &s.SubEventPayout, &s.MassSubPayout, &s.HostPayout, &s.AutoRegularAmount} {
		if *p < 0 {
			*p = 0
		}
	}
	if s.SubBonus < 0 {
		s.SubBonus = 0
	}
	s.PayoutMode = PayoutPerMinute
}

// legacyEventKeys lists, per canonical event payout key, the older names
// accepted on load.
var legacyEventKeys = map[string][]string{
	"raid_payout":      {"raid_points", "on_raid"},
	"follow_payout":    {"follow_points", "on_follow"},
	"sub_event_payout": {"sub_points", "on_sub"},
	"mass_sub_payout":  {"mass_sub_points", "on_mass_sub"},
	"host_payout":      {"host_points", "on_host"},
}

// DecodeSettings parses a settings document over the defaults, migrating
// legacy event payout names. migrated reports whether the document used any
// legacy name and should be rewritten.
func DecodeSettings(data []byte) (s Settings, migrated bool, err error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{}, false, err
	}
	for canonical, olds := range legacyEventKeys {
		for _, old := range olds {
			v, ok := raw[old]
			if !ok {
				continue
			}
			if _, has := raw[canonical]; !has {
				raw[canonical] = v
			}
			delete(raw, old)
			migrated = true
		}
	}
	if pm, ok := raw["payout_mode"]; ok && string(pm) != `"`+PayoutPerMinute+`"` {
		migrated = true
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return Settings{}, false, err
	}
	s = DefaultSettings()
	if err := json.Unmarshal(normalized, &s); err != nil {
		return Settings{}, false, err
	}
	s.Normalize()
	return s, migrated, nil
}

// LoadSettings reads data/currency_settings.json, writing defaults when it is
// absent or malformed and rewriting it when legacy names were migrated.
func LoadSettings(ctx context.Context, b store.Backend) (Settings, error) {
	data, err := b.Read(ctx, store.CurrencySettings)
	if err != nil && !errors.Is(err, store.ErrNotExist) {
		return Settings{}, fmt.Errorf("read currency settings: %w", err)
	}
	if err == nil {
		s, migrated, derr := DecodeSettings(data)
		if derr == nil {
			if migrated {
				slog.Info("migrated legacy currency settings", slog.String("component", "currency"))
				if werr := store.SaveJSON(ctx, b, store.CurrencySettings, s); werr != nil {
					slog.Warn("failed to rewrite currency settings", slog.String("component", "currency"), slog.Any("err", werr))
				}
			}
			return s, nil
		}
		slog.Warn("currency settings malformed, using defaults", slog.String("component", "currency"), slog.Any("err", derr))
	}
	s := DefaultSettings()
	if werr := store.SaveJSON(ctx, b, store.CurrencySettings, s); werr != nil {
		slog.Warn("failed to write default currency settings", slog.String("component", "currency"), slog.Any("err", werr))
	}
	return s, nil
}
