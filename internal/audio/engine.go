package audio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultSampleRate matches the PCM16 rate realtime providers stream at.
const DefaultSampleRate = 24000

// Engine is the shared audio-processing context. Mixer plumbing is
// cheap in-process, but the engine also owns the clip registry, so all
// recorders in a process should share one instance. Shared() provides
// the process-wide handle; tests construct their own.
type Engine struct {
	rate int

	mu    sync.Mutex
	clips map[string]Clip
}

func NewEngine(sampleRate int) *Engine {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Engine{
		rate:  sampleRate,
		clips: make(map[string]Clip),
	}
}

var (
	sharedOnce   sync.Once
	sharedEngine *Engine
)

// Shared returns the lazily initialized process-wide engine.
func Shared() *Engine {
	sharedOnce.Do(func() {
		sharedEngine = NewEngine(DefaultSampleRate)
	})
	return sharedEngine
}

func (e *Engine) Rate() int { return e.rate }

// NewTrack creates a live audio track bound to this engine. Tracks
// start enabled; a muted send track is created with SetEnabled(false).
func (e *Engine) NewTrack(name string) *Track {
	t := &Track{
		name: name,
		rate: e.rate,
		subs: make(map[uint64]chan []int16),
	}
	t.enabled.Store(true)
	return t
}

// Clip resolves a previously issued clip reference. The second return
// is false once the clip has been revoked by Dispose.
func (e *Engine) Clip(id string) (Clip, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.clips[id]
	return c, ok
}

func (e *Engine) registerClip(wav []byte, samples int) Clip {
	c := Clip{
		ID:         uuid.NewString(),
		SampleRate: e.rate,
		WAV:        wav,
		Duration:   time.Duration(samples) * time.Second / time.Duration(e.rate),
	}
	c.URL = "clip:" + c.ID
	e.mu.Lock()
	e.clips[c.ID] = c
	e.mu.Unlock()
	return c
}

func (e *Engine) revokeClip(id string) {
	e.mu.Lock()
	delete(e.clips, id)
	e.mu.Unlock()
}

// Track is a fan-out stream of mono PCM16 frames. Producers push with
// Write; recorders subscribe. A disabled track drops writes, which is
// how the muted microphone avoids sending audio before the remote side
// is ready.
type Track struct {
	name    string
	rate    int
	enabled atomic.Bool

	mu      sync.Mutex
	subs    map[uint64]chan []int16
	nextSub uint64
}

func (t *Track) Name() string { return t.name }
func (t *Track) Rate() int    { return t.rate }

func (t *Track) Enabled() bool      { return t.enabled.Load() }
func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

// Write fans a frame out to all subscribers. Slow subscribers lose
// frames rather than block the media path.
func (t *Track) Write(samples []int16) {
	if !t.enabled.Load() || len(samples) == 0 {
		return
	}
	frame := append([]int16(nil), samples...)
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Subscription is one consumer's view of a track. C is closed when the
// subscription is closed.
type Subscription struct {
	track *Track
	id    uint64
	ch    chan []int16
}

func (s *Subscription) C() <-chan []int16 { return s.ch }

func (s *Subscription) Close() {
	s.track.mu.Lock()
	defer s.track.mu.Unlock()
	if _, ok := s.track.subs[s.id]; ok {
		delete(s.track.subs, s.id)
		close(s.ch)
	}
}

// Subscribe registers a new frame consumer on the track.
func (t *Track) Subscribe() *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	ch := make(chan []int16, 256)
	t.subs[id] = ch
	return &Subscription{track: t, id: id, ch: ch}
}
