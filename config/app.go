package config

import (
	"context"
	"slices"

	"github.com/onnwee/sound-tender/audio"
	"github.com/onnwee/sound-tender/store"
)

// FormatVersion is stamped into every saved config.json.
const FormatVersion = "2.0"

// Normalization bounds.
const (
	MinAutoSaveInterval = 60
	MaxRecentFiles      = 10
)

// App is config.json. It never holds credentials.
type App struct {
	FormatVersion string   `json:"format_version"`
	CurrentFile   string   `json:"current_file"`
	Volume        float64  `json:"volume"`
	Twitch        Twitch   `json:"twitch"`
	AutoSave      AutoSave `json:"auto_save"`
	RecentFiles   []string `json:"recent_files"`
	Sound         Sound    `json:"sound"`
	Backup        Backup   `json:"backup"`
}

type Twitch struct {
	Channel string `json:"channel"`
}

// AutoSave interval is in seconds.
type AutoSave struct {
	Enabled  bool `json:"enabled"`
	Interval int  `json:"interval"`
}

type Sound struct {
	Volume                  float64 `json:"volume"`
	SoundDir                string  `json:"sound_dir"`
	AllowInterruption       bool    `json:"allow_interruption"`
	ShowInterruptionMessage bool    `json:"show_interruption_message"`
}

type Backup struct {
	MaxBackups int  `json:"max_backups"`
	OnClose    bool `json:"backup_on_close"`
}

// DefaultApp returns the config written on first start.
func DefaultApp() App {
	return App{
		FormatVersion: FormatVersion,
		CurrentFile:   store.Commands,
		Volume:        1,
		AutoSave:      AutoSave{Enabled: true, Interval: 300},
		RecentFiles:   []string{},
		Sound: Sound{
			Volume:                  1,
			SoundDir:                "sounds",
			ShowInterruptionMessage: true,
		},
		Backup: Backup{MaxBackups: 10, OnClose: true},
	}
}

// PlaybackVolume is the master gain applied to every clip: the top-level
// volume scaled by the sound volume.
func (a App) PlaybackVolume() float64 {
	return audio.Clamp(a.Volume * a.Sound.Volume)
}

// Normalize clamps every field into its valid range.
func (a *App) Normalize() {
	d := DefaultApp()
	a.FormatVersion = FormatVersion
	if a.CurrentFile == "" {
		a.CurrentFile = d.CurrentFile
	}
	a.Volume = audio.Clamp(a.Volume)
	a.Sound.Volume = audio.Clamp(a.Sound.Volume)
	if a.Sound.SoundDir == "" {
		a.Sound.SoundDir = d.Sound.SoundDir
	}
	if a.AutoSave.Interval < MinAutoSaveInterval {
		a.AutoSave.Interval = MinAutoSaveInterval
	}
	if a.Backup.MaxBackups < 1 {
		a.Backup.MaxBackups = 1
	}
	if a.RecentFiles == nil {
		a.RecentFiles = []string{}
	}
	if len(a.RecentFiles) > MaxRecentFiles {
		a.RecentFiles = a.RecentFiles[:MaxRecentFiles]
	}
}

// Policy is the audio interruption policy the sound section describes.
func (a App) Policy() audio.Policy {
	return audio.Policy{AllowInterruption: a.Sound.AllowInterruption, ShowBlockedNotice: a.Sound.ShowInterruptionMessage}
}

// AddRecent moves path to the front of the recent files list.
func (a *App) AddRecent(path string) {
	a.RecentFiles = slices.DeleteFunc(a.RecentFiles, func(p string) bool { return p == path })
	a.RecentFiles = append([]string{path}, a.RecentFiles...)
	if len(a.RecentFiles) > MaxRecentFiles {
		a.RecentFiles = a.RecentFiles[:MaxRecentFiles]
	}
}

// LoadApp reads config.json, falling back to defaults when it is absent or
// malformed. The result is normalized.
func LoadApp(ctx context.Context, b store.Backend) (App, error) {
	a := DefaultApp()
	if _, err := store.LoadJSON(ctx, b, store.Config, &a, func() { a = DefaultApp() }); err != nil {
		return DefaultApp(), err
	}
	a.Normalize()
	return a, nil
}

// SaveApp normalizes a and writes it.
func SaveApp(ctx context.Context, b store.Backend, a App) error {
	a.Normalize()
	return store.SaveJSON(ctx, b, store.Config, a)
}
