// Package audio arbitrates a single playback voice: at most one clip is
// audible at a time, and a clip is never cut hard, only faded.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/sound-tender/telemetry"
)

// FadeDuration is how long a preempted or stopped clip takes to fall silent.
const FadeDuration = 100 * time.Millisecond

// BlockedMessage is sent to chat when a clip is rejected because another one
// is playing.
const BlockedMessage = "Sound is already playing, please wait."

// ErrBusy is returned by Play when a clip is playing and interruption is off.
var ErrBusy = errors.New("audio busy")

// Clip is a decoded, replayable sound.
type Clip interface {
	Duration() time.Duration
}

// Voice is one playing clip.
type Voice interface {
	// FadeOut ramps the voice to silence over d and returns once it is silent.
	FadeOut(d time.Duration)
}

// Output decodes and plays clips. done is called exactly once when the voice
// ends, naturally or after a fade, and must not block.
type Output interface {
	Decode(path string) (Clip, error)
	Play(c Clip, volume float64, done func()) (Voice, error)
}

// Policy controls what happens when a clip is requested while another plays.
type Policy struct {
	AllowInterruption bool
	ShowBlockedNotice bool
}

// Sink is the single-voice arbiter. Play and Stop are serialized.
type Sink struct {
	out    Output
	dir    string
	notify func(string)

	mu      sync.Mutex
	cache   map[string]Clip
	voice   Voice
	path    string
	policy  Policy
	nextGen uint64

	// active holds the generation of the audible voice, 0 when idle. It is
	// cleared from the output's done callback without taking mu.
	active atomic.Uint64
}

// NewSink returns a sink that resolves relative paths against dir and sends
// blocked notices through notify (may be nil).
func NewSink(out Output, dir string, policy Policy, notify func(string)) *Sink {
	return &Sink{out: out, dir: dir, policy: policy, notify: notify, cache: map[string]Clip{}}
}

// SetPolicy changes the interruption policy.
func (s *Sink) SetPolicy(p Policy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

// SetDir changes the directory relative sound paths resolve against.
func (s *Sink) SetDir(dir string) {
	s.mu.Lock()
	s.dir = dir
	s.mu.Unlock()
}

// Busy reports whether a clip is audible.
func (s *Sink) Busy() bool { return s.active.Load() != 0 }

// Clamp limits a volume to [0, 1].
func Clamp(v float64) float64 { return min(max(v, 0), 1) }

// VolumeFor maps a command volume percentage and the master volume to an
// output volume. Chat dispatch and the editor preview both use it.
func VolumeFor(percent int, master float64) float64 {
	return Clamp(float64(percent) / 100 * Clamp(master))
}

func (s *Sink) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || s.dir == "" {
		return path
	}
	return filepath.Join(s.dir, path)
}

func (s *Sink) clipLocked(path string) (Clip, error) {
	if c, ok := s.cache[path]; ok {
		return c, nil
	}
	c, err := s.out.Decode(path)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	s.cache[path] = c
	return c, nil
}

// Play starts path at volume. When a clip is already playing it is faded out
// first if interruption is allowed, otherwise ErrBusy is returned and the
// playing clip is left alone.
func (s *Sink) Play(path string, volume float64) error {
	if path == "" {
		return nil
	}
	s.mu.Lock()
	path = s.resolve(path)
	if s.Busy() {
		if !s.policy.AllowInterruption {
			show := s.policy.ShowBlockedNotice
			s.mu.Unlock()
			telemetry.AudioPlay("busy")
			if show && s.notify != nil {
				s.notify(BlockedMessage)
			}
			return ErrBusy
		}
		s.fadeLocked()
		telemetry.AudioPlay("preempted")
	}
	defer s.mu.Unlock()

	clip, err := s.clipLocked(path)
	if err != nil {
		telemetry.AudioPlay("error")
		return err
	}
	s.nextGen++
	gen := s.nextGen
	s.active.Store(gen)
	v, err := s.out.Play(clip, Clamp(volume), func() { s.active.CompareAndSwap(gen, 0) })
	if err != nil {
		s.active.CompareAndSwap(gen, 0)
		telemetry.AudioPlay("error")
		return fmt.Errorf("play %s: %w", path, err)
	}
	s.voice, s.path = v, path
	telemetry.AudioPlay("played")
	slog.Debug("playing sound", slog.String("component", "audio"), slog.String("path", path), slog.Float64("volume", Clamp(volume)))
	return nil
}

// fadeLocked fades the current voice and waits until it is silent.
func (s *Sink) fadeLocked() {
	if s.voice == nil {
		s.active.Store(0)
		return
	}
	s.voice.FadeOut(FadeDuration)
	s.voice, s.path = nil, ""
	s.active.Store(0)
}

// Stop fades out whatever is playing.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Busy() || s.voice != nil {
		s.fadeLocked()
	}
}

// Toggle is the editor preview: it stops a playing clip, or plays path when
// idle. It reports whether path is now playing.
func (s *Sink) Toggle(path string, volume float64) (bool, error) {
	if s.Busy() {
		s.Stop()
		return false, nil
	}
	if err := s.Play(path, volume); err != nil {
		return false, err
	}
	return true, nil
}
