package transport

import (
	"context"
	"errors"
	"fmt"
)

// Signaling message types relayed over the provider's websocket.
const (
	signalPing      = "ping"
	signalPong      = "pong"
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"
	signalError     = "error"
)

// closeNormal is the websocket normal-closure code.
const closeNormal = 1000

// SignalMessage is the JSON envelope exchanged on the signaling socket.
type SignalMessage struct {
	Type          string  `json:"type"`
	SDP           string  `json:"sdp,omitempty"`
	Message       string  `json:"message,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// SignalConn is the minimal signaling-socket surface the negotiator
// needs. The production implementation wraps a gorilla websocket; tests
// use an in-memory fake.
type SignalConn interface {
	// ReadMessage blocks for the next inbound signaling message. A
	// *SignalCloseError carries the close code of a closed socket.
	ReadMessage() (SignalMessage, error)
	WriteJSON(v any) error
	// Close sends a close frame with the given code and tears the
	// socket down. Safe to call more than once.
	Close(code int, reason string) error
}

// SignalCloseError reports a signaling socket closure.
type SignalCloseError struct {
	Code   int
	Reason string
}

func (e *SignalCloseError) Error() string {
	return fmt.Sprintf("signaling socket closed: code=%d reason=%q", e.Code, e.Reason)
}

// signalPeer is the slice of peer-connection behavior the websocket
// handshake drives. Implemented by the pion wiring and by test fakes.
type signalPeer interface {
	// LocalOfferSDP creates the local offer, installs it as the local
	// description, and returns its SDP.
	LocalOfferSDP(ctx context.Context) (string, error)
	SetRemoteAnswer(sdp string) error
	AddRemoteCandidate(msg SignalMessage) error
}

var errSignalHandshake = errors.New("signaling handshake failed")

type readResult struct {
	msg SignalMessage
	err error
}

// negotiateSignaling runs the websocket-relayed SDP exchange: ping/pong
// liveness preflight, local offer, unbatched local candidate streaming,
// and remote answer/candidate application. It returns once the remote
// answer is installed; a background goroutine keeps applying late
// remote candidates until peerConnected fires, then closes the socket
// with a normal-closure code.
func negotiateSignaling(
	ctx context.Context,
	sig SignalConn,
	peer signalPeer,
	localCandidates <-chan SignalMessage,
	peerConnected <-chan struct{},
) error {
	reads := make(chan readResult, 16)
	stop := make(chan struct{})
	go pumpSignalReads(sig, reads, stop)
	handedOff := false
	defer func() {
		// drainSignaling owns stop after a successful handshake.
		if !handedOff {
			close(stop)
		}
	}()

	// Liveness preflight: the round-trip proves the signaling channel is
	// usable before we commit to the SDP exchange.
	if err := sig.WriteJSON(SignalMessage{Type: signalPing}); err != nil {
		_ = sig.Close(closeNormal, "ping failed")
		return fmt.Errorf("%w: send ping: %v", errSignalHandshake, err)
	}
	for {
		var pong SignalMessage
		select {
		case <-ctx.Done():
			_ = sig.Close(closeNormal, "canceled")
			return ctx.Err()
		case r := <-reads:
			if r.err != nil {
				return fmt.Errorf("%w: %w", errSignalHandshake, r.err)
			}
			pong = r.msg
		}
		if pong.Type == signalPong {
			break
		}
		// Anything else before pong is unexpected but tolerable; keep
		// waiting unless it is an outright error.
		if pong.Type == signalError {
			_ = sig.Close(closeNormal, "server error")
			return fmt.Errorf("%w: %s", errSignalHandshake, pong.Message)
		}
	}

	offerSDP, err := peer.LocalOfferSDP(ctx)
	if err != nil {
		_ = sig.Close(closeNormal, "offer failed")
		return fmt.Errorf("create offer: %w", err)
	}
	if err := sig.WriteJSON(SignalMessage{Type: signalOffer, SDP: offerSDP}); err != nil {
		_ = sig.Close(closeNormal, "offer send failed")
		return fmt.Errorf("send offer: %w", err)
	}

	// Stream local candidates as they are discovered; no batching.
	go func() {
		for {
			select {
			case <-peerConnected:
				return
			case cand, ok := <-localCandidates:
				if !ok {
					return
				}
				if err := sig.WriteJSON(cand); err != nil {
					return
				}
			}
		}
	}()

	// Main exchange: resolve only once the answer is installed.
	for {
		select {
		case <-ctx.Done():
			_ = sig.Close(closeNormal, "canceled")
			return ctx.Err()
		case r := <-reads:
			if r.err != nil {
				return fmt.Errorf("%w: %w", errSignalHandshake, r.err)
			}
			switch r.msg.Type {
			case signalAnswer:
				if err := peer.SetRemoteAnswer(r.msg.SDP); err != nil {
					_ = sig.Close(closeNormal, "bad answer")
					return fmt.Errorf("set remote answer: %w", err)
				}
				handedOff = true
				go drainSignaling(sig, peer, reads, peerConnected, stop)
				return nil
			case signalCandidate:
				if err := peer.AddRemoteCandidate(r.msg); err != nil {
					// A single bad candidate does not doom the exchange.
					continue
				}
			case signalError:
				_ = sig.Close(closeNormal, "server error")
				return fmt.Errorf("%w: %s", errSignalHandshake, r.msg.Message)
			}
		}
	}
}

// pumpSignalReads forwards socket reads to the handshake loop. The stop
// channel closes when no one will drain reads anymore; selecting on it
// means the pump never wedges on a full buffer after its consumer is
// gone.
func pumpSignalReads(sig SignalConn, reads chan<- readResult, stop <-chan struct{}) {
	for {
		msg, err := sig.ReadMessage()
		select {
		case reads <- readResult{msg, err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// drainSignaling keeps applying trickled remote candidates after the
// answer until the peer connection is up, then closes the socket: once
// media flows, ICE restarts are the peer connection's problem.
func drainSignaling(sig SignalConn, peer signalPeer, reads <-chan readResult, peerConnected <-chan struct{}, stop chan struct{}) {
	defer close(stop)
	for {
		select {
		case <-peerConnected:
			_ = sig.Close(closeNormal, "connected")
			return
		case r := <-reads:
			if r.err != nil {
				return
			}
			if r.msg.Type == signalCandidate {
				_ = peer.AddRemoteCandidate(r.msg)
			}
		}
	}
}
