package protocol

import (
	"encoding/json"
	"fmt"
)

// EventType identifies server event variants arriving on the control
// channel.
type EventType string

const (
	TypeSessionCreated                  EventType = "session.created"
	TypeSessionUpdated                  EventType = "session.updated"
	TypeError                           EventType = "error"
	TypeResponseCreated                 EventType = "response.created"
	TypeResponseDone                    EventType = "response.done"
	TypeResponseAudioTranscriptDelta    EventType = "response.audio_transcript.delta"
	TypeResponseAudioTranscriptDone     EventType = "response.audio_transcript.done"
	TypeInputAudioTranscriptionDelta    EventType = "conversation.item.input_audio_transcription.delta"
	TypeInputAudioTranscriptionComplete EventType = "conversation.item.input_audio_transcription.completed"
	TypeInputSpeechStarted              EventType = "input_audio_buffer.speech_started"
	TypeInputSpeechStopped              EventType = "input_audio_buffer.speech_stopped"
	TypeOutputAudioStarted              EventType = "output_audio_buffer.started"
	TypeOutputAudioStopped              EventType = "output_audio_buffer.stopped"
	TypeOutputAudioCleared              EventType = "output_audio_buffer.cleared"
	TypeRateLimitsUpdated               EventType = "rate_limits.updated"
)

// Envelope carries the fields present on every server event.
type Envelope struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id"`
}

type SessionCreated struct {
	Envelope
	Session json.RawMessage `json:"session"`
}

type SessionUpdated struct {
	Envelope
	Session json.RawMessage `json:"session"`
}

// ErrorDetail is the nested error object used by both the top-level
// error event and failed response statuses.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type ErrorEvent struct {
	Envelope
	Error ErrorDetail `json:"error"`
}

type ResponseCreated struct {
	Envelope
	Response ResponseRef `json:"response"`
}

type ResponseRef struct {
	ID string `json:"id"`
}

// Usage is the token accounting attached to a finished response.
type Usage struct {
	TotalTokens        int          `json:"total_tokens"`
	InputTokens        int          `json:"input_tokens"`
	OutputTokens       int          `json:"output_tokens"`
	InputTokenDetails  TokenDetails `json:"input_token_details"`
	OutputTokenDetails TokenDetails `json:"output_token_details"`
}

type TokenDetails struct {
	TextTokens          int `json:"text_tokens"`
	AudioTokens         int `json:"audio_tokens"`
	CachedTokens        int `json:"cached_tokens"`
	CachedTokensDetails struct {
		TextTokens  int `json:"text_tokens"`
		AudioTokens int `json:"audio_tokens"`
	} `json:"cached_tokens_details"`
}

type ResponseDone struct {
	Envelope
	Response struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		StatusDetails struct {
			Type  string       `json:"type"`
			Error *ErrorDetail `json:"error,omitempty"`
		} `json:"status_details"`
		Usage *Usage `json:"usage,omitempty"`
	} `json:"response"`
}

type ResponseAudioTranscriptDelta struct {
	Envelope
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

type ResponseAudioTranscriptDone struct {
	Envelope
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type InputAudioTranscriptionDelta struct {
	Envelope
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

type InputAudioTranscriptionCompleted struct {
	Envelope
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type InputSpeechStarted struct {
	Envelope
	ItemID       string `json:"item_id"`
	AudioStartMS int64  `json:"audio_start_ms"`
}

type InputSpeechStopped struct {
	Envelope
	ItemID     string `json:"item_id"`
	AudioEndMS int64  `json:"audio_end_ms"`
}

type OutputAudioStarted struct {
	Envelope
	ResponseID string `json:"response_id"`
}

type OutputAudioStopped struct {
	Envelope
	ResponseID string `json:"response_id"`
}

type OutputAudioCleared struct {
	Envelope
	ResponseID string `json:"response_id"`
}

type RateLimitsUpdated struct {
	Envelope
	RateLimits json.RawMessage `json:"rate_limits"`
}

// UnknownEvent is the forward-compatibility fallback for event types
// this build does not recognize. Callers log it and move on.
type UnknownEvent struct {
	Envelope
	Raw json.RawMessage
}

// ParseServerEvent decodes one control-channel message into its typed
// variant. Unrecognized types decode to UnknownEvent rather than an
// error; only malformed JSON fails.
func ParseServerEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid event envelope: %w", err)
	}

	decode := func(dst any) (any, error) {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return deref(dst), nil
	}

	switch env.Type {
	case TypeSessionCreated:
		return decode(&SessionCreated{})
	case TypeSessionUpdated:
		return decode(&SessionUpdated{})
	case TypeError:
		return decode(&ErrorEvent{})
	case TypeResponseCreated:
		return decode(&ResponseCreated{})
	case TypeResponseDone:
		return decode(&ResponseDone{})
	case TypeResponseAudioTranscriptDelta:
		return decode(&ResponseAudioTranscriptDelta{})
	case TypeResponseAudioTranscriptDone:
		return decode(&ResponseAudioTranscriptDone{})
	case TypeInputAudioTranscriptionDelta:
		return decode(&InputAudioTranscriptionDelta{})
	case TypeInputAudioTranscriptionComplete:
		return decode(&InputAudioTranscriptionCompleted{})
	case TypeInputSpeechStarted:
		return decode(&InputSpeechStarted{})
	case TypeInputSpeechStopped:
		return decode(&InputSpeechStopped{})
	case TypeOutputAudioStarted:
		return decode(&OutputAudioStarted{})
	case TypeOutputAudioStopped:
		return decode(&OutputAudioStopped{})
	case TypeOutputAudioCleared:
		return decode(&OutputAudioCleared{})
	case TypeRateLimitsUpdated:
		return decode(&RateLimitsUpdated{})
	default:
		return UnknownEvent{Envelope: env, Raw: append([]byte(nil), raw...)}, nil
	}
}

func deref(v any) any {
	switch t := v.(type) {
	case *SessionCreated:
		return *t
	case *SessionUpdated:
		return *t
	case *ErrorEvent:
		return *t
	case *ResponseCreated:
		return *t
	case *ResponseDone:
		return *t
	case *ResponseAudioTranscriptDelta:
		return *t
	case *ResponseAudioTranscriptDone:
		return *t
	case *InputAudioTranscriptionDelta:
		return *t
	case *InputAudioTranscriptionCompleted:
		return *t
	case *InputSpeechStarted:
		return *t
	case *InputSpeechStopped:
		return *t
	case *OutputAudioStarted:
		return *t
	case *OutputAudioStopped:
		return *t
	case *OutputAudioCleared:
		return *t
	case *RateLimitsUpdated:
		return *t
	default:
		return v
	}
}
