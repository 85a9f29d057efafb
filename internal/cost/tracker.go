// Package cost accumulates the price of one realtime session, for both
// per-minute and per-token provider billing shapes.
package cost

import (
	"sync"
	"time"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/protocol"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/provider"
)

const tokensPerUnit = 1_000_000

// Breakdown is a point-in-time cost readout.
type Breakdown struct {
	Kind provider.CostKind `json:"kind"`

	// Per-minute shape.
	Minutes float64 `json:"minutes,omitempty"`

	// Per-token shape, split the way provider rate tables are.
	InputTextTokens   int `json:"input_text_tokens,omitempty"`
	InputAudioTokens  int `json:"input_audio_tokens,omitempty"`
	CachedTextTokens  int `json:"cached_text_tokens,omitempty"`
	CachedAudioTokens int `json:"cached_audio_tokens,omitempty"`
	OutputTextTokens  int `json:"output_text_tokens,omitempty"`
	OutputAudioTokens int `json:"output_audio_tokens,omitempty"`

	TotalUSD float64 `json:"total_usd"`
}

// Tracker folds response usage payloads (per-token billing) or elapsed
// wall time (per-minute billing) into a running total.
type Tracker struct {
	model provider.CostModel

	mu      sync.Mutex
	started time.Time
	acc     Breakdown
}

func NewTracker(model provider.CostModel, started time.Time) *Tracker {
	return &Tracker{
		model:   model,
		started: started,
		acc:     Breakdown{Kind: model.Kind},
	}
}

// AddUsage folds one response.done usage payload into the total. It is
// a no-op for per-minute providers.
func (t *Tracker) AddUsage(u protocol.Usage) {
	if t.model.Kind != provider.CostPerToken {
		return
	}
	in := u.InputTokenDetails
	out := u.OutputTokenDetails
	cachedText := in.CachedTokensDetails.TextTokens
	cachedAudio := in.CachedTokensDetails.AudioTokens

	t.mu.Lock()
	defer t.mu.Unlock()
	t.acc.InputTextTokens += in.TextTokens - cachedText
	t.acc.InputAudioTokens += in.AudioTokens - cachedAudio
	t.acc.CachedTextTokens += cachedText
	t.acc.CachedAudioTokens += cachedAudio
	t.acc.OutputTextTokens += out.TextTokens
	t.acc.OutputAudioTokens += out.AudioTokens
}

// Total computes the cost as of now.
func (t *Tracker) Total(now time.Time) Breakdown {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.acc
	switch t.model.Kind {
	case provider.CostPerMinute:
		b.Minutes = now.Sub(t.started).Minutes()
		if b.Minutes < 0 {
			b.Minutes = 0
		}
		b.TotalUSD = b.Minutes * t.model.PerMinute
	case provider.CostPerToken:
		text := t.model.Text
		audio := t.model.Audio
		b.TotalUSD = (float64(b.InputTextTokens)*text.Input +
			float64(b.CachedTextTokens)*text.CachedInput +
			float64(b.OutputTextTokens)*text.Output +
			float64(b.InputAudioTokens)*audio.Input +
			float64(b.CachedAudioTokens)*audio.CachedInput +
			float64(b.OutputAudioTokens)*audio.Output) / tokensPerUnit
	}
	return b
}
