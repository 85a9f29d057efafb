package provider

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// SignalingKind selects how a provider negotiates the peer connection.
type SignalingKind string

const (
	// SignalingSDP posts the local offer over HTTP and receives the answer
	// in the response body. No further signaling happens after that.
	SignalingSDP SignalingKind = "sdp"
	// SignalingWebSocket relays offer/answer/candidate messages over a
	// provider-hosted signaling socket.
	SignalingWebSocket SignalingKind = "websocket"
)

// CostKind discriminates the shape of a provider's pricing.
type CostKind string

const (
	CostPerMinute CostKind = "per_minute"
	CostPerToken  CostKind = "per_token"
)

// TokenRates is a dollars-per-million-tokens table for one modality.
type TokenRates struct {
	Input       float64 `json:"input"`
	CachedInput float64 `json:"cached_input"`
	Output      float64 `json:"output"`
}

// CostModel describes how sessions against a provider are billed.
// Exactly one of PerMinute or the token tables applies, per Kind.
type CostModel struct {
	Kind      CostKind   `json:"kind"`
	PerMinute float64    `json:"per_minute,omitempty"`
	Text      TokenRates `json:"text,omitempty"`
	Audio     TokenRates `json:"audio,omitempty"`
}

// Provider is a static descriptor of one realtime backend.
type Provider struct {
	Name          string        `json:"name"`
	Label         string        `json:"label"`
	Host          string        `json:"host"`
	SessionsURL   string        `json:"sessions_url"`
	Signaling     SignalingKind `json:"signaling"`
	DefaultVoice  string        `json:"default_voice"`
	DefaultModel  string        `json:"default_model"`
	Models        []string      `json:"models"`
	Cost          CostModel     `json:"cost"`
	APIKeyEnvVar  string        `json:"-"`
	APIKeyHelpURL string        `json:"api_key_help_url,omitempty"`
}

// SDPEndpoint returns the offer/answer exchange URL for SDP-signaled
// providers. Host may carry an explicit scheme for self-hosted
// deployments behind plain HTTP.
func (p Provider) SDPEndpoint(model string) string {
	base := p.Host
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return fmt.Sprintf("%s/v1/realtime?model=%s", base, model)
}

// SignalingEndpoint returns the signaling socket URL for
// websocket-signaled providers.
func (p Provider) SignalingEndpoint(credential, model string) string {
	base := p.Host
	if !strings.Contains(base, "://") {
		base = "wss://" + base
	}
	return fmt.Sprintf("%s/v1/realtime/ws?client_secret=%s&model=%s", base, credential, model)
}

var ErrUnknownProvider = errors.New("unknown provider")

// Registry holds provider descriptors keyed by name. The two built-in
// entries cover OpenAI (SDP exchange) and Outspeed (websocket
// signaling); deployments may register more.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	r.Register(OpenAI())
	r.Register(Outspeed())
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// OpenAI is the hosted OpenAI realtime backend. Signaling is a one-shot
// SDP POST; pricing is per token with separate text and audio tables.
func OpenAI() Provider {
	return Provider{
		Name:         "openai",
		Label:        "OpenAI",
		Host:         "api.openai.com",
		SessionsURL:  "https://api.openai.com/v1/realtime/sessions",
		Signaling:    SignalingSDP,
		DefaultVoice: "verse",
		DefaultModel: "gpt-4o-realtime-preview-2024-12-17",
		Models: []string{
			"gpt-4o-realtime-preview-2024-12-17",
			"gpt-4o-mini-realtime-preview-2024-12-17",
		},
		Cost: CostModel{
			Kind:  CostPerToken,
			Text:  TokenRates{Input: 5, CachedInput: 2.5, Output: 20},
			Audio: TokenRates{Input: 40, CachedInput: 2.5, Output: 80},
		},
		APIKeyEnvVar:  "OPENAI_API_KEY",
		APIKeyHelpURL: "https://platform.openai.com/api-keys",
	}
}

// Outspeed is the Outspeed realtime backend. Its media servers need
// externally supplied ICE candidates, so signaling runs over a
// websocket; pricing is a flat per-minute rate.
func Outspeed() Provider {
	return Provider{
		Name:         "outspeed",
		Label:        "Outspeed",
		Host:         "api.outspeed.com",
		SessionsURL:  "https://api.outspeed.com/v1/realtime/sessions",
		Signaling:    SignalingWebSocket,
		DefaultVoice: "male",
		DefaultModel: "MiniCPM-o-2_6",
		Models:       []string{"MiniCPM-o-2_6"},
		Cost: CostModel{
			Kind:      CostPerMinute,
			PerMinute: 0.01,
		},
		APIKeyEnvVar:  "OUTSPEED_API_KEY",
		APIKeyHelpURL: "https://dashboard.outspeed.com",
	}
}
