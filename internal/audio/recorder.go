package audio

import (
	"errors"
	"sync"
	"time"
)

// RecorderState is either "inactive" or "recording".
type RecorderState string

const (
	StateInactive  RecorderState = "inactive"
	StateRecording RecorderState = "recording"
)

// ErrInvalidState is returned by Stop on a recorder that is not
// recording.
var ErrInvalidState = errors.New("recorder: invalid state")

// ErrDisposed is returned when a disposed recorder is reused.
var ErrDisposed = errors.New("recorder: disposed")

// Clip is one finished recording, WAV encoded and addressable by a
// revocable reference.
type Clip struct {
	ID         string
	URL        string
	WAV        []byte
	SampleRate int
	Duration   time.Duration
}

// Recorder captures one or more live tracks into a single PCM buffer.
// Frames from all tracks are folded into the buffer in arrival order.
// Start is idempotent; Stop trims, encodes, and registers a clip.
type Recorder struct {
	engine *Engine
	tracks []*Track

	mu       sync.Mutex
	state    RecorderState
	disposed bool
	buf      []int16
	stops    []func()
	done     sync.WaitGroup
	issued   []string
}

// NewRecorder builds a recorder over the given tracks. At least one
// track is required.
func NewRecorder(engine *Engine, tracks ...*Track) (*Recorder, error) {
	if engine == nil {
		engine = Shared()
	}
	if len(tracks) == 0 {
		return nil, errors.New("recorder: at least one track is required")
	}
	return &Recorder{
		engine: engine,
		tracks: tracks,
		state:  StateInactive,
	}, nil
}

// State reports "inactive" or "recording".
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins capture. Calling Start while already recording is a
// no-op.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disposed {
		return ErrDisposed
	}
	if r.state == StateRecording {
		return nil
	}
	r.buf = r.buf[:0]
	r.stops = r.stops[:0]
	for _, t := range r.tracks {
		sub := t.Subscribe()
		r.done.Add(1)
		go func() {
			defer r.done.Done()
			// Drain until unsubscribed; Stop snapshots buf only after
			// every collector has exited, so frames buffered at stop
			// time still land in the clip.
			for frame := range sub.C() {
				r.mu.Lock()
				r.buf = append(r.buf, frame...)
				r.mu.Unlock()
			}
		}()
		r.stops = append(r.stops, sub.Close)
	}
	r.state = StateRecording
	return nil
}

// Stop ends capture and returns the recording as a WAV clip. When tail
// is positive the clip is trimmed to only the last tail duration, which
// captures just-the-utterance when the detector reports the end of
// speech late. tail <= 0 keeps the full buffer.
func (r *Recorder) Stop(tail time.Duration) (Clip, error) {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return Clip{}, ErrDisposed
	}
	if r.state != StateRecording {
		r.mu.Unlock()
		return Clip{}, ErrInvalidState
	}
	r.state = StateInactive
	stops := r.stops
	r.stops = nil
	r.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	r.done.Wait()

	r.mu.Lock()
	samples := r.buf
	r.buf = nil
	r.mu.Unlock()

	if tail > 0 {
		keep := int(tail.Seconds() * float64(r.engine.Rate()))
		if keep < len(samples) {
			samples = samples[len(samples)-keep:]
		}
	}

	wav, err := EncodeWAV(samples, r.engine.Rate())
	if err != nil {
		return Clip{}, err
	}
	clip := r.engine.registerClip(wav, len(samples))

	r.mu.Lock()
	r.issued = append(r.issued, clip.ID)
	r.mu.Unlock()
	return clip, nil
}

// Dispose stops capture if active and revokes every clip this recorder
// issued. Clip references must not be dereferenced afterwards.
func (r *Recorder) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	recording := r.state == StateRecording
	r.mu.Unlock()

	if recording {
		_, _ = r.Stop(0)
	}

	r.mu.Lock()
	r.disposed = true
	r.state = StateInactive
	issued := r.issued
	r.issued = nil
	r.mu.Unlock()

	for _, id := range issued {
		r.engine.revokeClip(id)
	}
}
