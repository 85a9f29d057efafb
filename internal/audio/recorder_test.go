package audio

import (
	"errors"
	"testing"
	"time"
)

func TestRecorderCapturesFrames(t *testing.T) {
	engine := NewEngine(1000)
	track := engine.NewTrack("mic")
	rec, err := NewRecorder(engine, track)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}

	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if rec.State() != StateRecording {
		t.Fatalf("State = %q, want %q", rec.State(), StateRecording)
	}

	track.Write(make([]int16, 600))
	track.Write(make([]int16, 400))

	clip, err := rec.Stop(0)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if rec.State() != StateInactive {
		t.Fatalf("State = %q, want %q", rec.State(), StateInactive)
	}
	// 1000 samples at 1000 Hz is one second.
	if clip.Duration != time.Second {
		t.Fatalf("Duration = %v, want %v", clip.Duration, time.Second)
	}
	if len(clip.WAV) != 44+2000 {
		t.Fatalf("len(WAV) = %d, want %d", len(clip.WAV), 44+2000)
	}
	if clip.URL != "clip:"+clip.ID {
		t.Fatalf("URL = %q, want %q", clip.URL, "clip:"+clip.ID)
	}
	if _, ok := engine.Clip(clip.ID); !ok {
		t.Fatalf("clip %s not registered", clip.ID)
	}
}

func TestRecorderTailTrim(t *testing.T) {
	engine := NewEngine(1000)
	track := engine.NewTrack("mic")
	rec, _ := NewRecorder(engine, track)

	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	track.Write(make([]int16, 3000))

	clip, err := rec.Stop(500 * time.Millisecond)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if clip.Duration != 500*time.Millisecond {
		t.Fatalf("Duration = %v, want %v", clip.Duration, 500*time.Millisecond)
	}
}

func TestRecorderTailLongerThanBuffer(t *testing.T) {
	engine := NewEngine(1000)
	track := engine.NewTrack("mic")
	rec, _ := NewRecorder(engine, track)

	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	track.Write(make([]int16, 200))

	clip, err := rec.Stop(5 * time.Second)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if clip.Duration != 200*time.Millisecond {
		t.Fatalf("Duration = %v, want %v", clip.Duration, 200*time.Millisecond)
	}
}

func TestRecorderStartIdempotent(t *testing.T) {
	engine := NewEngine(1000)
	track := engine.NewTrack("mic")
	rec, _ := NewRecorder(engine, track)

	if err := rec.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	track.Write(make([]int16, 100))
	clip, err := rec.Stop(0)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// A second Start must not double-subscribe.
	if clip.Duration != 100*time.Millisecond {
		t.Fatalf("Duration = %v, want %v", clip.Duration, 100*time.Millisecond)
	}
}

func TestRecorderStopWhileInactive(t *testing.T) {
	engine := NewEngine(1000)
	rec, _ := NewRecorder(engine, engine.NewTrack("mic"))
	if _, err := rec.Stop(0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Stop error = %v, want %v", err, ErrInvalidState)
	}
}

func TestRecorderIgnoresDisabledTrack(t *testing.T) {
	engine := NewEngine(1000)
	track := engine.NewTrack("mic")
	track.SetEnabled(false)
	rec, _ := NewRecorder(engine, track)

	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	track.Write(make([]int16, 500))

	clip, err := rec.Stop(0)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if clip.Duration != 0 {
		t.Fatalf("Duration = %v, want 0", clip.Duration)
	}
}

func TestRecorderDisposeRevokesClips(t *testing.T) {
	engine := NewEngine(1000)
	track := engine.NewTrack("mic")
	rec, _ := NewRecorder(engine, track)

	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	track.Write(make([]int16, 100))
	clip, err := rec.Stop(0)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, ok := engine.Clip(clip.ID); !ok {
		t.Fatalf("clip %s not registered", clip.ID)
	}

	rec.Dispose()
	if _, ok := engine.Clip(clip.ID); ok {
		t.Fatalf("clip %s still resolvable after Dispose", clip.ID)
	}
	if err := rec.Start(); !errors.Is(err, ErrDisposed) {
		t.Fatalf("Start after Dispose = %v, want %v", err, ErrDisposed)
	}
}

func TestRecorderRequiresTrack(t *testing.T) {
	if _, err := NewRecorder(NewEngine(1000)); err == nil {
		t.Fatal("NewRecorder with no tracks succeeded")
	}
}
