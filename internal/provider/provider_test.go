package provider

import (
	"errors"
	"testing"
)

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry()

	openai, err := r.Get("openai")
	if err != nil {
		t.Fatalf("Get(openai): %v", err)
	}
	if openai.Signaling != SignalingSDP {
		t.Fatalf("openai signaling = %q, want %q", openai.Signaling, SignalingSDP)
	}
	if openai.Cost.Kind != CostPerToken {
		t.Fatalf("openai cost kind = %q, want %q", openai.Cost.Kind, CostPerToken)
	}

	outspeed, err := r.Get("outspeed")
	if err != nil {
		t.Fatalf("Get(outspeed): %v", err)
	}
	if outspeed.Signaling != SignalingWebSocket {
		t.Fatalf("outspeed signaling = %q, want %q", outspeed.Signaling, SignalingWebSocket)
	}
	if outspeed.Cost.Kind != CostPerMinute {
		t.Fatalf("outspeed cost kind = %q, want %q", outspeed.Cost.Kind, CostPerMinute)
	}
}

func TestRegistryGetNormalizesName(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("  OpenAI "); err != nil {
		t.Fatalf("Get with padding/case: %v", err)
	}
}

func TestRegistryUnknownProvider(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("acme")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("err = %v, want %v", err, ErrUnknownProvider)
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	list := r.List()
	if len(list) != 2 {
		t.Fatalf("len(List()) = %d, want 2", len(list))
	}
	if list[0].Name != "openai" || list[1].Name != "outspeed" {
		t.Fatalf("List order = [%s %s]", list[0].Name, list[1].Name)
	}
}

func TestSDPEndpoint(t *testing.T) {
	p := OpenAI()
	want := "https://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17"
	if got := p.SDPEndpoint("gpt-4o-realtime-preview-2024-12-17"); got != want {
		t.Fatalf("SDPEndpoint = %q, want %q", got, want)
	}

	p.Host = "http://127.0.0.1:9999"
	if got := p.SDPEndpoint("m"); got != "http://127.0.0.1:9999/v1/realtime?model=m" {
		t.Fatalf("SDPEndpoint with scheme = %q", got)
	}
}

func TestSignalingEndpoint(t *testing.T) {
	p := Outspeed()
	want := "wss://api.outspeed.com/v1/realtime/ws?client_secret=sek&model=MiniCPM-o-2_6"
	if got := p.SignalingEndpoint("sek", "MiniCPM-o-2_6"); got != want {
		t.Fatalf("SignalingEndpoint = %q, want %q", got, want)
	}
}

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig(OpenAI())
	if cfg.Model != OpenAI().DefaultModel {
		t.Fatalf("Model = %q", cfg.Model)
	}
	if !cfg.HasModality("audio") || !cfg.HasModality("text") {
		t.Fatalf("Modalities = %v", cfg.Modalities)
	}
	if cfg.TurnDetection == nil || cfg.TurnDetection.Type != TurnDetectionServerVAD {
		t.Fatalf("TurnDetection = %+v", cfg.TurnDetection)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestSessionConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*SessionConfig)
		wantErr bool
	}{
		{"valid", func(c *SessionConfig) {}, false},
		{"missing model", func(c *SessionConfig) { c.Model = " " }, true},
		{"no modalities", func(c *SessionConfig) { c.Modalities = nil }, true},
		{"bad modality", func(c *SessionConfig) { c.Modalities = []string{"video"} }, true},
		{"temperature too high", func(c *SessionConfig) { c.Temperature = 2.5 }, true},
		{"bad turn detection", func(c *SessionConfig) { c.TurnDetection = &TurnDetection{Type: "psychic"} }, true},
		{"semantic vad", func(c *SessionConfig) { c.TurnDetection = &TurnDetection{Type: TurnDetectionSemanticVAD} }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultSessionConfig(OpenAI())
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("Validate succeeded, want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate: %v", err)
			}
		})
	}
}
