package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func sineWave(freq float64, sampleRate, n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(10000 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestEncodeWAVHeader(t *testing.T) {
	const rate = 16000
	samples := sineWave(440, rate, rate) // one second

	wav, err := EncodeWAV(samples, rate)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}

	wantLen := 44 + len(samples)*2
	if len(wav) != wantLen {
		t.Fatalf("len(wav) = %d, want %d", len(wav), wantLen)
	}
	if string(wav[0:4]) != "RIFF" {
		t.Fatalf("missing RIFF marker: %q", wav[0:4])
	}
	if string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing WAVE marker: %q", wav[8:12])
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Fatalf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != rate {
		t.Fatalf("sample rate = %d, want %d", got, rate)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Fatalf("bits per sample = %d, want 16", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(samples)*2) {
		t.Fatalf("data size = %d, want %d", got, len(samples)*2)
	}
}

func TestSamplesRoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 32767, -32768, 12345}
	out := BytesToSamples(SamplesToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestBytesToSamplesDropsOddByte(t *testing.T) {
	out := BytesToSamples([]byte{0x01, 0x02, 0x03})
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
}
