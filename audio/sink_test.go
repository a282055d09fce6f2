package audio

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClip struct{ path string }

func (fakeClip) Duration() time.Duration { return time.Second }

// fakeOutput tracks audible voices so tests can assert exclusion.
type fakeOutput struct {
	mu       sync.Mutex
	decodes  map[string]int
	audible  int
	maxSeen  int
	played   []string
	volumes  []float64
	voices   []*fakeVoice
	failPath string
}

type fakeVoice struct {
	out   *fakeOutput
	path  string
	done  func()
	ended bool
	fades int
}

func newFakeOutput() *fakeOutput { return &fakeOutput{decodes: map[string]int{}} }

func (o *fakeOutput) Decode(path string) (Clip, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if path == o.failPath {
		return nil, errors.New("no such file")
	}
	o.decodes[path]++
	return fakeClip{path: path}, nil
}

func (o *fakeOutput) Play(c Clip, volume float64, done func()) (Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := &fakeVoice{out: o, path: c.(fakeClip).path, done: done}
	o.voices = append(o.voices, v)
	o.played = append(o.played, v.path)
	o.volumes = append(o.volumes, volume)
	o.audible++
	o.maxSeen = max(o.maxSeen, o.audible)
	return v, nil
}

func (v *fakeVoice) end() {
	v.out.mu.Lock()
	if v.ended {
		v.out.mu.Unlock()
		return
	}
	v.ended = true
	v.out.audible--
	v.out.mu.Unlock()
	v.done()
}

func (v *fakeVoice) FadeOut(time.Duration) {
	v.out.mu.Lock()
	v.fades++
	v.out.mu.Unlock()
	v.end()
}

func (o *fakeOutput) last() *fakeVoice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.voices[len(o.voices)-1]
}

func TestSink_InterruptionDisabledKeepsFirstClip(t *testing.T) {
	out := newFakeOutput()
	var notices []string
	s := NewSink(out, "", Policy{ShowBlockedNotice: true}, func(m string) { notices = append(notices, m) })

	require.NoError(t, s.Play("/a.wav", 1))
	assert.True(t, s.Busy())

	err := s.Play("/b.wav", 1)
	require.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, []string{"/a.wav"}, out.played)
	assert.Equal(t, []string{BlockedMessage}, notices)
	assert.Equal(t, 0, out.last().fades)

	out.last().end()
	assert.False(t, s.Busy())
	require.NoError(t, s.Play("/b.wav", 1))
}

func TestSink_BlockedNoticeOptional(t *testing.T) {
	out := newFakeOutput()
	called := false
	s := NewSink(out, "", Policy{}, func(string) { called = true })
	require.NoError(t, s.Play("/a.wav", 1))
	require.ErrorIs(t, s.Play("/b.wav", 1), ErrBusy)
	assert.False(t, called)
}

func TestSink_InterruptionFadesThenPlays(t *testing.T) {
	out := newFakeOutput()
	s := NewSink(out, "", Policy{AllowInterruption: true}, nil)

	require.NoError(t, s.Play("/a.wav", 1))
	first := out.last()
	require.NoError(t, s.Play("/b.wav", 1))

	assert.Equal(t, 1, first.fades)
	assert.Equal(t, []string{"/a.wav", "/b.wav"}, out.played)
	assert.Equal(t, 1, out.maxSeen, "never two audible clips")
	assert.True(t, s.Busy())

	// a late completion of the faded voice must not mark the new one idle
	first.done()
	assert.True(t, s.Busy())
}

func TestSink_ConcurrentPlaysNeverOverlap(t *testing.T) {
	out := newFakeOutput()
	s := NewSink(out, "", Policy{AllowInterruption: true}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Play("/x.wav", 0.5)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, out.maxSeen)
}

func TestSink_CachesByPathAndResolvesDir(t *testing.T) {
	out := newFakeOutput()
	dir := t.TempDir()
	s := NewSink(out, dir, Policy{AllowInterruption: true}, nil)

	require.NoError(t, s.Play("clip.wav", 1))
	require.NoError(t, s.Play("clip.wav", 1))
	assert.Equal(t, 1, out.decodes[filepath.Join(dir, "clip.wav")])
}

func TestSink_ClampsVolume(t *testing.T) {
	out := newFakeOutput()
	s := NewSink(out, "", Policy{AllowInterruption: true}, nil)
	require.NoError(t, s.Play("/a.wav", 3))
	require.NoError(t, s.Play("/a.wav", -1))
	assert.Equal(t, []float64{1, 0}, out.volumes)
}

func TestSink_DecodeErrorLeavesIdle(t *testing.T) {
	out := newFakeOutput()
	out.failPath = "/missing.mp3"
	s := NewSink(out, "", Policy{}, nil)
	require.Error(t, s.Play("/missing.mp3", 1))
	assert.False(t, s.Busy())
	assert.NoError(t, s.Play("", 1), "sound-less commands are a no-op")
}

func TestSink_StopAndToggle(t *testing.T) {
	out := newFakeOutput()
	s := NewSink(out, "", Policy{}, nil)

	playing, err := s.Toggle("/a.wav", 1)
	require.NoError(t, err)
	assert.True(t, playing)

	playing, err = s.Toggle("/a.wav", 1)
	require.NoError(t, err)
	assert.False(t, playing)
	assert.False(t, s.Busy())
	assert.Equal(t, 1, out.last().fades)

	s.Stop() // idle stop is harmless
}

func TestVolumeFor(t *testing.T) {
	assert.Equal(t, 0.5, VolumeFor(50, 1))
	assert.Equal(t, 0.25, VolumeFor(50, 0.5))
	assert.Equal(t, 1.0, VolumeFor(100, 2))
	assert.Equal(t, 0.0, VolumeFor(-10, 1))
}

func TestDiscard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o644))
	s := NewSink(Discard{}, "", Policy{}, nil)
	require.NoError(t, s.Play(path, 1))
	assert.False(t, s.Busy())
	assert.Error(t, s.Play(path+".nope", 1))
}
