package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
)

// DeviceRate is the speaker sample rate; clips are resampled to it.
const DeviceRate = beep.SampleRate(44100)

// BeepOutput plays clips on the default audio device.
type BeepOutput struct {
	rate beep.SampleRate
}

var (
	speakerOnce sync.Once
	speakerErr  error
)

// NewBeepOutput initializes the speaker. It fails when no audio device is
// available.
func NewBeepOutput() (*BeepOutput, error) {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(DeviceRate, DeviceRate.N(time.Second/10))
	})
	if speakerErr != nil {
		return nil, fmt.Errorf("init speaker: %w", speakerErr)
	}
	return &BeepOutput{rate: DeviceRate}, nil
}

type beepClip struct {
	buf *beep.Buffer
}

func (c *beepClip) Duration() time.Duration { return c.buf.Format().SampleRate.D(c.buf.Len()) }

func decodeFile(path string) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}
	var (
		s      beep.StreamSeekCloser
		format beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		s, format, err = wav.Decode(f)
	case ".mp3":
		s, format, err = mp3.Decode(f)
	case ".ogg", ".oga":
		s, format, err = vorbis.Decode(f)
	default:
		_ = f.Close()
		return nil, beep.Format{}, fmt.Errorf("unsupported sound format %q", filepath.Ext(path))
	}
	if err != nil {
		_ = f.Close()
		return nil, beep.Format{}, err
	}
	return s, format, nil
}

// Decode reads the whole file into memory at the device rate.
func (o *BeepOutput) Decode(path string) (Clip, error) {
	s, format, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var src beep.Streamer = s
	if format.SampleRate != o.rate {
		src = beep.Resample(4, format.SampleRate, o.rate, s)
	}
	buf := beep.NewBuffer(beep.Format{SampleRate: o.rate, NumChannels: 2, Precision: 2})
	buf.Append(src)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return &beepClip{buf: buf}, nil
}

// Play mixes the clip into the speaker.
func (o *BeepOutput) Play(c Clip, volume float64, done func()) (Voice, error) {
	bc, ok := c.(*beepClip)
	if !ok {
		return nil, fmt.Errorf("clip %T was not decoded by this output", c)
	}
	v := &voice{
		src:   bc.buf.Streamer(0, bc.buf.Len()),
		gain:  Clamp(volume),
		level: 1,
		rate:  o.rate,
		ended: make(chan struct{}),
		done:  done,
	}
	speaker.Play(v)
	return v, nil
}

// voice scales a buffer by its gain and, once fading, ramps the level to
// zero and ends. Stream runs under the speaker lock; fade state is changed
// under the same lock.
type voice struct {
	src      beep.StreamSeeker
	gain     float64
	level    float64
	fading   bool
	step     float64
	rate     beep.SampleRate
	finished bool
	ended    chan struct{}
	done     func()
}

func (v *voice) Stream(samples [][2]float64) (int, bool) {
	if v.finished {
		return 0, false
	}
	n, ok := v.src.Stream(samples)
	for i := 0; i < n; i++ {
		if v.fading {
			v.level -= v.step
			if v.level <= 0 {
				v.finish()
				return i, i > 0
			}
		}
		g := v.gain * v.level
		samples[i][0] *= g
		samples[i][1] *= g
	}
	if !ok {
		v.finish()
	}
	return n, ok
}

func (v *voice) Err() error { return v.src.Err() }

func (v *voice) finish() {
	v.finished = true
	close(v.ended)
	if v.done != nil {
		v.done()
	}
}

func (v *voice) FadeOut(d time.Duration) {
	speaker.Lock()
	if v.finished {
		speaker.Unlock()
		return
	}
	if !v.fading {
		v.fading = true
		v.step = 1 / float64(max(v.rate.N(d), 1))
	}
	speaker.Unlock()
	select {
	case <-v.ended:
	case <-time.After(d + 250*time.Millisecond):
	}
}

// Discard is an Output for hosts without an audio device. It validates that
// the file exists and ends every voice immediately.
type Discard struct{}

type discardClip struct{}

func (discardClip) Duration() time.Duration { return 0 }

type discardVoice struct{}

func (discardVoice) FadeOut(time.Duration) {}

func (Discard) Decode(path string) (Clip, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return discardClip{}, nil
}

func (Discard) Play(_ Clip, _ float64, done func()) (Voice, error) {
	if done != nil {
		done()
	}
	return discardVoice{}, nil
}
