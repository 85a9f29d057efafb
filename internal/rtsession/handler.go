package rtsession

import (
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/audio"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/cost"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/protocol"
)

// LifecycleState of a session as observed by callers.
type LifecycleState string

const (
	StateInactive LifecycleState = "inactive"
	StateLoading  LifecycleState = "loading"
	StateActive   LifecycleState = "active"
)

// Default compensation constants. The detector reports the end of user
// speech late, so the trimmed clip keeps an extra padding; the output
// buffer drains slightly after the stopped event, so assistant capture
// stops after a short grace. Both are empirical and tunable per
// provider.
const (
	DefaultUserTrimPadding = time.Second
	DefaultBotStopGrace    = 400 * time.Millisecond
)

// Recorder is the capture surface the handler drives. *audio.Recorder
// implements it; tests substitute fakes.
type Recorder interface {
	Start() error
	Stop(tail time.Duration) (audio.Clip, error)
	State() audio.RecorderState
	Dispose()
}

// MicGate mutes and unmutes the local send track.
type MicGate interface {
	SetEnabled(bool)
	Enabled() bool
}

// EventKind classifies normalized events emitted to the UI layer.
type EventKind string

const (
	EventState   EventKind = "state"
	EventMessage EventKind = "message"
	EventError   EventKind = "error"
	EventServer  EventKind = "server_event"
)

// LoggedEvent is one raw event-log entry. Every control message is
// timestamped and tagged with its origin before being exposed.
type LoggedEvent struct {
	Timestamp  time.Time       `json:"timestamp"`
	ServerSent bool            `json:"server_sent"`
	Type       string          `json:"type"`
	EventID    string          `json:"event_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// Event is the normalized outbound stream consumed by UI code.
type Event struct {
	Kind    EventKind      `json:"kind"`
	State   LifecycleState `json:"state,omitempty"`
	Message *Message       `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Server  *LoggedEvent   `json:"server,omitempty"`
}

// SpeechItem tracks one in-progress utterance. At most one user item
// and one assistant item are active at a time.
type SpeechItem struct {
	ID        string
	StartedAt time.Time
}

// HandlerConfig wires a Handler to its collaborators.
type HandlerConfig struct {
	Mic          MicGate
	UserRecorder Recorder
	BotRecorder  Recorder
	Store        *MessageStore
	Cost         *cost.Tracker
	Emit         func(Event)

	// OnSessionCreated fires on the provider's session confirmation;
	// the controller flips lifecycle state there.
	OnSessionCreated func()
	// OnClip fires once per finalized clip, user and assistant alike.
	OnClip func(audio.Clip)

	TrimPadding time.Duration
	StopGrace   time.Duration

	Now      func() time.Time
	Schedule func(time.Duration, func())
}

// Handler is the realtime protocol core: it consumes inbound control
// messages one at a time, drives recorder start/stop in lockstep with
// remote state transitions, and keeps per-response bookkeeping.
// Protocol anomalies are contained here; they never end the session.
type Handler struct {
	cfg HandlerConfig

	userSpeech *SpeechItem
	botSpeech  *SpeechItem
	responseID string

	// botCapture identifies the utterance that currently owns the
	// assistant recorder. Grace-deferred stops compare against it so a
	// timer scheduled for one utterance cannot stop the next one's
	// capture. Atomic: the scheduled closure runs off the dispatch
	// goroutine.
	botCapture atomic.Uint64
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.TrimPadding <= 0 {
		cfg.TrimPadding = DefaultUserTrimPadding
	}
	if cfg.StopGrace < 0 {
		cfg.StopGrace = DefaultBotStopGrace
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Schedule == nil {
		cfg.Schedule = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	if cfg.Emit == nil {
		cfg.Emit = func(Event) {}
	}
	return &Handler{cfg: cfg}
}

// HandleControlMessage is the single dispatch entry point, invoked once
// per inbound control message, in arrival order.
func (h *Handler) HandleControlMessage(raw []byte) {
	evt, err := protocol.ParseServerEvent(raw)
	if err != nil {
		log.Printf("rtsession: dropping malformed control message: %v", err)
		return
	}

	var env protocol.Envelope
	_ = json.Unmarshal(raw, &env)
	logged := LoggedEvent{
		Timestamp:  h.cfg.Now(),
		ServerSent: true,
		Type:       string(env.Type),
		EventID:    env.EventID,
		Payload:    append(json.RawMessage(nil), raw...),
	}
	h.cfg.Emit(Event{Kind: EventServer, Server: &logged})

	switch e := evt.(type) {
	case protocol.SessionCreated:
		h.onSessionCreated()
	case protocol.ErrorEvent:
		h.emitErrorMessage(e.Error.Message)
	case protocol.ResponseCreated:
		h.responseID = e.Response.ID
	case protocol.ResponseDone:
		h.onResponseDone(e)
	case protocol.ResponseAudioTranscriptDelta:
		h.onTranscriptDelta(e)
	case protocol.ResponseAudioTranscriptDone:
		h.onTranscriptDone(e)
	case protocol.InputAudioTranscriptionDelta:
		h.onInputTranscriptionDelta(e)
	case protocol.InputAudioTranscriptionCompleted:
		h.onInputTranscriptionCompleted(e)
	case protocol.InputSpeechStarted:
		h.onInputSpeechStarted(e)
	case protocol.InputSpeechStopped:
		h.onInputSpeechStopped(e)
	case protocol.OutputAudioStarted:
		h.onOutputAudioStarted(e)
	case protocol.OutputAudioStopped:
		h.onOutputAudioEnded(e.ResponseID, false)
	case protocol.OutputAudioCleared:
		h.onOutputAudioEnded(e.ResponseID, true)
	case protocol.SessionUpdated, protocol.RateLimitsUpdated:
		// Logged above; no state change.
	case protocol.UnknownEvent:
		log.Printf("rtsession: ignoring unrecognized event type %q", e.Type)
	}
}

func (h *Handler) onSessionCreated() {
	if h.cfg.OnSessionCreated != nil {
		h.cfg.OnSessionCreated()
	}
	// The send track was created muted; the remote side is ready now.
	if h.cfg.Mic != nil {
		h.cfg.Mic.SetEnabled(true)
	}
	if h.cfg.UserRecorder != nil {
		if err := h.cfg.UserRecorder.Start(); err != nil {
			log.Printf("rtsession: start user capture: %v", err)
		}
	}
}

func (h *Handler) onResponseDone(e protocol.ResponseDone) {
	if e.Response.Usage != nil && h.cfg.Cost != nil {
		h.cfg.Cost.AddUsage(*e.Response.Usage)
	}
	if e.Response.Status == "failed" {
		msg := "response failed"
		if e.Response.StatusDetails.Error != nil && e.Response.StatusDetails.Error.Message != "" {
			msg = e.Response.StatusDetails.Error.Message
		}
		h.emitErrorMessage(msg)
	}
}

func (h *Handler) onTranscriptDelta(e protocol.ResponseAudioTranscriptDelta) {
	now := h.cfg.Now()
	m := h.cfg.Store.Upsert(e.ResponseID, RoleAssistant, func(m *Message) {
		if m.Text == nil {
			// Timestamp is set on the first delta only.
			m.Text = &TextPart{Timestamp: now}
		}
		m.Text.Content += e.Delta
		m.Text.Streaming = true
	})
	h.cfg.Emit(Event{Kind: EventMessage, Message: &m})
}

func (h *Handler) onTranscriptDone(e protocol.ResponseAudioTranscriptDone) {
	now := h.cfg.Now()
	m := h.cfg.Store.Upsert(e.ResponseID, RoleAssistant, func(m *Message) {
		if m.Text == nil {
			m.Text = &TextPart{Timestamp: now}
		}
		m.Text.Content = e.Transcript
		m.Text.Streaming = false
	})
	h.cfg.Emit(Event{Kind: EventMessage, Message: &m})
}

func (h *Handler) onInputTranscriptionDelta(e protocol.InputAudioTranscriptionDelta) {
	now := h.cfg.Now()
	m := h.cfg.Store.Upsert(e.ItemID, RoleUser, func(m *Message) {
		if m.Text == nil {
			m.Text = &TextPart{Timestamp: now}
		}
		m.Text.Content += e.Delta
		m.Text.Streaming = true
	})
	h.cfg.Emit(Event{Kind: EventMessage, Message: &m})
}

func (h *Handler) onInputTranscriptionCompleted(e protocol.InputAudioTranscriptionCompleted) {
	now := h.cfg.Now()
	m := h.cfg.Store.Upsert(e.ItemID, RoleUser, func(m *Message) {
		if m.Text == nil {
			m.Text = &TextPart{Timestamp: now}
		}
		m.Text.Content = e.Transcript
		m.Text.Streaming = false
	})
	h.cfg.Emit(Event{Kind: EventMessage, Message: &m})
}

func (h *Handler) onInputSpeechStarted(e protocol.InputSpeechStarted) {
	if h.userSpeech != nil {
		// Second start while one is active is a protocol violation; the
		// stale item is cleaned up, never silently overwritten.
		log.Printf("rtsession: speech_started for %s while %s is active; discarding stale item", e.ItemID, h.userSpeech.ID)
		h.discardUserCapture()
	}
	h.userSpeech = &SpeechItem{ID: e.ItemID, StartedAt: h.cfg.Now()}
	if h.cfg.UserRecorder != nil {
		if err := h.cfg.UserRecorder.Start(); err != nil {
			log.Printf("rtsession: start user capture: %v", err)
		}
	}
}

func (h *Handler) onInputSpeechStopped(e protocol.InputSpeechStopped) {
	item := h.userSpeech
	if item == nil {
		log.Printf("rtsession: speech_stopped %s with no active speech item; skipping", e.EventID)
		return
	}
	h.userSpeech = nil

	now := h.cfg.Now()
	id := item.ID
	if id == "" {
		id = e.ItemID
	}
	m := h.cfg.Store.Upsert(id, RoleUser, func(m *Message) {
		if m.Audio == nil {
			m.Audio = &AudioPart{Timestamp: now}
		}
		m.Audio.Processing = true
	})
	h.cfg.Emit(Event{Kind: EventMessage, Message: &m})

	if h.cfg.UserRecorder == nil {
		return
	}
	// The detector reports the stop late; keep the reported utterance
	// length plus padding from the tail of the rolling capture.
	trim := now.Sub(item.StartedAt) + h.cfg.TrimPadding
	clip, err := h.cfg.UserRecorder.Stop(trim)

	// Capture restarts immediately so the next utterance is not lost
	// while the clip is finalized.
	if startErr := h.cfg.UserRecorder.Start(); startErr != nil {
		log.Printf("rtsession: restart user capture: %v", startErr)
	}

	if err != nil {
		// Recorder faults never escalate; the message stays text-only.
		log.Printf("rtsession: user clip unavailable for %s: %v", id, err)
		m = h.cfg.Store.Upsert(id, RoleUser, func(m *Message) {
			m.Audio = nil
		})
		h.cfg.Emit(Event{Kind: EventMessage, Message: &m})
		return
	}
	h.attachClip(id, RoleUser, clip, false)
}

func (h *Handler) onOutputAudioStarted(e protocol.OutputAudioStarted) {
	if h.botSpeech != nil {
		log.Printf("rtsession: output started for %s while %s is active; discarding stale item", e.ResponseID, h.botSpeech.ID)
		h.botSpeech = nil
	}
	id := e.ResponseID
	if id == "" {
		id = h.responseID
	}
	h.botSpeech = &SpeechItem{ID: id, StartedAt: h.cfg.Now()}
	h.botCapture.Add(1)
	if h.cfg.BotRecorder != nil {
		if err := h.cfg.BotRecorder.Start(); err != nil {
			log.Printf("rtsession: start assistant capture: %v", err)
		}
	}
}

func (h *Handler) onOutputAudioEnded(responseID string, interrupted bool) {
	item := h.botSpeech
	if item == nil {
		log.Printf("rtsession: output buffer ended with no active assistant speech item; skipping")
		return
	}
	h.botSpeech = nil

	id := responseID
	if id == "" {
		id = item.ID
	}
	now := h.cfg.Now()
	m := h.cfg.Store.Upsert(id, RoleAssistant, func(m *Message) {
		if m.Audio == nil {
			m.Audio = &AudioPart{Timestamp: now}
		}
		m.Audio.Processing = true
		if interrupted {
			m.Interrupted = true
		}
	})
	h.cfg.Emit(Event{Kind: EventMessage, Message: &m})

	if h.cfg.BotRecorder == nil {
		return
	}
	// A short grace avoids truncating samples still draining out of the
	// output buffer.
	token := h.botCapture.Load()
	h.cfg.Schedule(h.cfg.StopGrace, func() {
		if h.botCapture.Load() != token {
			// A newer utterance claimed the recorder during the grace;
			// the running capture is its, not ours.
			m := h.cfg.Store.Upsert(id, RoleAssistant, func(m *Message) {
				m.Audio = nil
			})
			h.cfg.Emit(Event{Kind: EventMessage, Message: &m})
			return
		}
		clip, err := h.cfg.BotRecorder.Stop(0)
		if err != nil {
			log.Printf("rtsession: assistant clip unavailable for %s: %v", id, err)
			m := h.cfg.Store.Upsert(id, RoleAssistant, func(m *Message) {
				m.Audio = nil
			})
			h.cfg.Emit(Event{Kind: EventMessage, Message: &m})
			return
		}
		h.attachClip(id, RoleAssistant, clip, interrupted)
	})
}

func (h *Handler) attachClip(id string, role Role, clip audio.Clip, interrupted bool) {
	if h.cfg.OnClip != nil {
		h.cfg.OnClip(clip)
	}
	m := h.cfg.Store.Upsert(id, role, func(m *Message) {
		if m.Audio == nil {
			m.Audio = &AudioPart{Timestamp: h.cfg.Now()}
		}
		m.Audio.ClipURL = clip.URL
		m.Audio.Duration = clip.Duration
		m.Audio.Processing = false
		if interrupted {
			m.Interrupted = true
		}
	})
	h.cfg.Emit(Event{Kind: EventMessage, Message: &m})
}

func (h *Handler) discardUserCapture() {
	if h.cfg.UserRecorder == nil {
		return
	}
	if h.cfg.UserRecorder.State() == audio.StateRecording {
		if _, err := h.cfg.UserRecorder.Stop(0); err != nil {
			log.Printf("rtsession: discard stale user capture: %v", err)
		}
	}
	if err := h.cfg.UserRecorder.Start(); err != nil {
		log.Printf("rtsession: restart user capture: %v", err)
	}
}

func (h *Handler) emitErrorMessage(msg string) {
	m := h.cfg.Store.Append(Message{
		ID:   uuid.NewString(),
		Kind: KindError,
		Role: RoleAssistant,
		Text: &TextPart{Content: msg, Timestamp: h.cfg.Now()},
	})
	h.cfg.Emit(Event{Kind: EventMessage, Message: &m})
	h.cfg.Emit(Event{Kind: EventError, Error: msg})
}
