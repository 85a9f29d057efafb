package transport

import "github.com/outspeed-ai/voice-devtools-sub000/internal/audio"

// Encoder turns PCM16 frames into RTP payloads for the send track.
type Encoder interface {
	Encode(samples []int16) ([]byte, error)
}

// Decoder turns received RTP payloads back into PCM16 frames.
type Decoder interface {
	Decode(payload []byte) ([]int16, error)
}

// PCM16Codec is the passthrough codec for providers negotiating raw
// L16 payloads. Opus-negotiating deployments plug in a real codec via
// Options.
type PCM16Codec struct{}

func (PCM16Codec) Encode(samples []int16) ([]byte, error) {
	return audio.SamplesToBytes(samples), nil
}

func (PCM16Codec) Decode(payload []byte) ([]int16, error) {
	return audio.BytesToSamples(payload), nil
}
