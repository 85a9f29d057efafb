package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeSignalConn scripts the remote half of a signaling exchange.
type fakeSignalConn struct {
	mu       sync.Mutex
	inbound  chan SignalMessage
	written  []SignalMessage
	writeErr error
	dropped  bool
	closed   bool
	code     int
	reason   string
}

func newFakeSignalConn() *fakeSignalConn {
	return &fakeSignalConn{inbound: make(chan SignalMessage, 16)}
}

func (c *fakeSignalConn) ReadMessage() (SignalMessage, error) {
	msg, ok := <-c.inbound
	if !ok {
		return SignalMessage{}, &SignalCloseError{Code: closeNormal, Reason: "scripted close"}
	}
	return msg, nil
}

func (c *fakeSignalConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	msg, ok := v.(SignalMessage)
	if !ok {
		return errors.New("unexpected write type")
	}
	c.written = append(c.written, msg)
	// Answer the liveness preflight automatically.
	if msg.Type == signalPing && !c.dropped {
		c.inbound <- SignalMessage{Type: signalPong}
	}
	return nil
}

// dropSocket simulates the remote side going away mid-exchange.
func (c *fakeSignalConn) dropSocket() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dropped {
		c.dropped = true
		close(c.inbound)
	}
}

func (c *fakeSignalConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.code = code
		c.reason = reason
	}
	return nil
}

func (c *fakeSignalConn) writtenTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.written))
	for _, m := range c.written {
		out = append(out, m.Type)
	}
	return out
}

func (c *fakeSignalConn) firstWritten(typ string) (SignalMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.written {
		if m.Type == typ {
			return m, true
		}
	}
	return SignalMessage{}, false
}

func (c *fakeSignalConn) closedWith() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.code
}

type fakeSignalPeer struct {
	mu             sync.Mutex
	offerSDP       string
	offerErr       error
	answerSDP      string
	answerErr      error
	candidates     []SignalMessage
	badCandidates  int
	candidateErr   error
	candidateFails int
}

func (p *fakeSignalPeer) LocalOfferSDP(context.Context) (string, error) {
	if p.offerErr != nil {
		return "", p.offerErr
	}
	if p.offerSDP == "" {
		return "v=0 offer", nil
	}
	return p.offerSDP, nil
}

func (p *fakeSignalPeer) SetRemoteAnswer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.answerErr != nil {
		return p.answerErr
	}
	p.answerSDP = sdp
	return nil
}

func (p *fakeSignalPeer) AddRemoteCandidate(msg SignalMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.candidateFails > 0 {
		p.candidateFails--
		p.badCandidates++
		return p.candidateErr
	}
	p.candidates = append(p.candidates, msg)
	return nil
}

func (p *fakeSignalPeer) remoteAnswer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.answerSDP
}

func (p *fakeSignalPeer) candidateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.candidates)
}

// scriptAfterOffer queues remote messages once the local offer has been
// sent, mirroring a server that only talks after seeing the offer.
func scriptAfterOffer(sig *fakeSignalConn, msgs ...SignalMessage) {
	go func() {
		for {
			for _, typ := range sig.writtenTypes() {
				if typ == signalOffer {
					for _, m := range msgs {
						sig.inbound <- m
					}
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

func TestNegotiateSignalingHappyPath(t *testing.T) {
	sig := newFakeSignalConn()
	peer := &fakeSignalPeer{}
	localCands := make(chan SignalMessage, 4)
	peerConnected := make(chan struct{})

	mid := "0"
	scriptAfterOffer(sig,
		SignalMessage{Type: signalCandidate, Candidate: "candidate:1", SDPMid: &mid},
		SignalMessage{Type: signalAnswer, SDP: "v=0 answer"},
	)

	err := negotiateSignaling(context.Background(), sig, peer, localCands, peerConnected)
	if err != nil {
		t.Fatalf("negotiateSignaling: %v", err)
	}
	if peer.remoteAnswer() != "v=0 answer" {
		t.Fatalf("remote answer = %q", peer.remoteAnswer())
	}
	if peer.candidateCount() != 1 {
		t.Fatalf("candidates applied = %d, want 1", peer.candidateCount())
	}

	types := sig.writtenTypes()
	if len(types) < 2 || types[0] != signalPing || types[1] != signalOffer {
		t.Fatalf("written sequence = %v, want [ping offer ...]", types)
	}

	// Late trickled candidate is still applied by the drain goroutine.
	sig.inbound <- SignalMessage{Type: signalCandidate, Candidate: "candidate:2", SDPMid: &mid}
	waitFor(t, func() bool { return peer.candidateCount() == 2 })

	// Once the peer connection is up, the socket is closed normally.
	close(peerConnected)
	waitFor(t, func() bool {
		closed, code := sig.closedWith()
		return closed && code == closeNormal
	})
}

func TestNegotiateSignalingStreamsLocalCandidates(t *testing.T) {
	sig := newFakeSignalConn()
	peer := &fakeSignalPeer{}
	localCands := make(chan SignalMessage, 4)
	peerConnected := make(chan struct{})
	defer close(peerConnected)

	localCands <- SignalMessage{Type: signalCandidate, Candidate: "candidate:local"}
	scriptAfterOffer(sig, SignalMessage{Type: signalAnswer, SDP: "v=0 answer"})

	if err := negotiateSignaling(context.Background(), sig, peer, localCands, peerConnected); err != nil {
		t.Fatalf("negotiateSignaling: %v", err)
	}

	waitFor(t, func() bool {
		for _, typ := range sig.writtenTypes() {
			if typ == signalCandidate {
				return true
			}
		}
		return false
	})
}

func TestNegotiateSignalingServerErrorBeforeAnswer(t *testing.T) {
	sig := newFakeSignalConn()
	peer := &fakeSignalPeer{}
	peerConnected := make(chan struct{})
	defer close(peerConnected)

	sig.inbound <- SignalMessage{Type: signalError, Message: "no capacity"}

	err := negotiateSignaling(context.Background(), sig, peer, nil, peerConnected)
	if !errors.Is(err, errSignalHandshake) {
		t.Fatalf("err = %v, want handshake failure", err)
	}
	if !strings.Contains(err.Error(), "no capacity") {
		t.Fatalf("err = %v, want server message included", err)
	}
	closed, code := sig.closedWith()
	if !closed || code != closeNormal {
		t.Fatalf("close = %v/%d, want normal closure", closed, code)
	}
}

func TestNegotiateSignalingSocketClosed(t *testing.T) {
	sig := newFakeSignalConn()
	peer := &fakeSignalPeer{}
	peerConnected := make(chan struct{})
	defer close(peerConnected)

	// The socket drops before the answer ever arrives.
	go func() {
		time.Sleep(10 * time.Millisecond)
		sig.dropSocket()
	}()

	err := negotiateSignaling(context.Background(), sig, peer, nil, peerConnected)
	if !errors.Is(err, errSignalHandshake) {
		t.Fatalf("err = %v, want handshake failure", err)
	}
	var closeErr *SignalCloseError
	if !errors.As(err, &closeErr) || closeErr.Code != closeNormal {
		t.Fatalf("err = %v, want wrapped close error with code 1000", err)
	}
}

func TestNegotiateSignalingBadCandidateTolerated(t *testing.T) {
	sig := newFakeSignalConn()
	peer := &fakeSignalPeer{candidateErr: errors.New("bad candidate"), candidateFails: 1}
	peerConnected := make(chan struct{})
	defer close(peerConnected)

	scriptAfterOffer(sig,
		SignalMessage{Type: signalCandidate, Candidate: "garbage"},
		SignalMessage{Type: signalAnswer, SDP: "v=0 answer"},
	)

	if err := negotiateSignaling(context.Background(), sig, peer, nil, peerConnected); err != nil {
		t.Fatalf("negotiateSignaling: %v", err)
	}
	if peer.remoteAnswer() != "v=0 answer" {
		t.Fatalf("remote answer = %q", peer.remoteAnswer())
	}
}

func TestNegotiateSignalingContextCanceled(t *testing.T) {
	sig := newFakeSignalConn()
	peer := &fakeSignalPeer{}
	peerConnected := make(chan struct{})
	defer close(peerConnected)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := negotiateSignaling(ctx, sig, peer, nil, peerConnected)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	closed, _ := sig.closedWith()
	if !closed {
		t.Fatal("socket not closed on cancellation")
	}
}

func TestNegotiateSignalingOfferFailure(t *testing.T) {
	sig := newFakeSignalConn()
	peer := &fakeSignalPeer{offerErr: errors.New("no codecs")}
	peerConnected := make(chan struct{})
	defer close(peerConnected)

	err := negotiateSignaling(context.Background(), sig, peer, nil, peerConnected)
	if err == nil || !strings.Contains(err.Error(), "create offer") {
		t.Fatalf("err = %v, want create offer failure", err)
	}
}

func TestPumpSignalReadsStopsWithoutConsumer(t *testing.T) {
	sig := newFakeSignalConn()
	reads := make(chan readResult, 1)
	stop := make(chan struct{})

	done := make(chan struct{})
	go func() {
		pumpSignalReads(sig, reads, stop)
		close(done)
	}()

	// More inbound traffic than the reads buffer holds, with nobody
	// draining it.
	mid := "0"
	for i := 0; i < 4; i++ {
		sig.inbound <- SignalMessage{Type: signalCandidate, Candidate: "candidate:late", SDPMid: &mid}
	}
	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit after stop")
	}
}

func TestDrainSignalingReleasesReader(t *testing.T) {
	sig := newFakeSignalConn()
	peer := &fakeSignalPeer{}
	reads := make(chan readResult, 1)
	stop := make(chan struct{})
	peerConnected := make(chan struct{})

	pumpDone := make(chan struct{})
	go func() {
		pumpSignalReads(sig, reads, stop)
		close(pumpDone)
	}()
	drainDone := make(chan struct{})
	go func() {
		drainSignaling(sig, peer, reads, peerConnected, stop)
		close(drainDone)
	}()

	// Candidates keep trickling in past the moment the peer connection
	// comes up, then the remote side hangs up.
	mid := "0"
	go func() {
		for {
			select {
			case sig.inbound <- SignalMessage{Type: signalCandidate, Candidate: "candidate:late", SDPMid: &mid}:
			case <-stop:
				sig.dropSocket()
				return
			}
		}
	}()
	close(peerConnected)

	select {
	case <-drainDone:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not exit after peer connect")
	}
	select {
	case <-pumpDone:
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not exit after drain handed the socket back")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
