package provider

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TurnDetectionKind selects the server-side voice activity detector.
type TurnDetectionKind string

const (
	TurnDetectionServerVAD   TurnDetectionKind = "server_vad"
	TurnDetectionSemanticVAD TurnDetectionKind = "semantic_vad"
)

// TurnDetection is the turn-taking policy sent with the session config.
type TurnDetection struct {
	Type TurnDetectionKind `json:"type"`
	// CreateResponse asks the server to emit an event whenever the
	// detector changes state.
	CreateResponse bool `json:"create_response,omitempty"`
}

// Tool is a function definition exposed to the model.
type Tool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// InputAudioTranscription configures transcription of user audio.
type InputAudioTranscription struct {
	Model string `json:"model"`
}

// SessionConfig is the immutable per-session parameter set. It is
// populated before StartSession and never mutated while the session is
// live; edits staged in a console apply to the next session only.
type SessionConfig struct {
	Model                   string                   `json:"model"`
	Modalities              []string                 `json:"modalities"`
	Temperature             float64                  `json:"temperature"`
	Voice                   string                   `json:"voice,omitempty"`
	Instructions            string                   `json:"instructions,omitempty"`
	Tools                   []Tool                   `json:"tools,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty"`
}

// DefaultSessionConfig fills a config from a provider's defaults.
func DefaultSessionConfig(p Provider) SessionConfig {
	return SessionConfig{
		Model:       p.DefaultModel,
		Modalities:  []string{"text", "audio"},
		Temperature: 0.8,
		Voice:       p.DefaultVoice,
		TurnDetection: &TurnDetection{
			Type: TurnDetectionServerVAD,
		},
	}
}

// Validate rejects configs that a provider would refuse outright.
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("session config: model is required")
	}
	if len(c.Modalities) == 0 {
		return fmt.Errorf("session config: at least one modality is required")
	}
	for _, m := range c.Modalities {
		if m != "text" && m != "audio" {
			return fmt.Errorf("session config: unknown modality %q", m)
		}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("session config: temperature %v out of range", c.Temperature)
	}
	if td := c.TurnDetection; td != nil {
		switch td.Type {
		case TurnDetectionServerVAD, TurnDetectionSemanticVAD:
		default:
			return fmt.Errorf("session config: unknown turn detection %q", td.Type)
		}
	}
	return nil
}

// HasModality reports whether the config requests the given modality.
func (c SessionConfig) HasModality(m string) bool {
	for _, have := range c.Modalities {
		if have == m {
			return true
		}
	}
	return false
}
