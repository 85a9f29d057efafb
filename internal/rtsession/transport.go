package rtsession

import (
	"context"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/provider"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/transport"
)

// NewTransport adapts the webrtc negotiator to the controller's
// Transport interface.
func NewTransport(n *transport.Negotiator) Transport {
	return negotiatorTransport{n: n}
}

type negotiatorTransport struct {
	n *transport.Negotiator
}

func (t negotiatorTransport) Start(ctx context.Context, credential string, p provider.Provider, model string) (Conn, error) {
	conn, err := t.n.Start(ctx, credential, p, model)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
