package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/audio"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/provider"
)

// answerOffer plays the remote side of an SDP exchange with a second
// local peer connection. Offer and answer generation never touch the
// network.
func answerOffer(offerSDP string) (string, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return "", err
	}
	defer pc.Close()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := pc.SetRemoteDescription(offer); err != nil {
		return "", err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	select {
	case <-gathered:
	case <-time.After(10 * time.Second):
		return "", errors.New("answer gathering timed out")
	}
	return pc.LocalDescription().SDP, nil
}

func testNegotiator(opts Options) *Negotiator {
	if opts.Engine == nil {
		opts.Engine = audio.NewEngine(16000)
	}
	// Host candidates only; keeps the handshake off the network.
	if opts.ICEServers == nil {
		opts.ICEServers = []string{}
	}
	return NewNegotiator(opts)
}

func TestStartSDPExchange(t *testing.T) {
	var gotAuth, gotContentType, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		answer, err := answerOffer(string(body))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/sdp")
		fmt.Fprint(w, answer)
	}))
	defer srv.Close()

	p := provider.OpenAI()
	p.Host = srv.URL

	n := testNegotiator(Options{})
	conn, err := n.Start(context.Background(), "ek-test", p, "gpt-4o-realtime-preview-2024-12-17")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer conn.Close()

	if gotAuth != "Bearer ek-test" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer ek-test")
	}
	if gotContentType != "application/sdp" {
		t.Errorf("Content-Type = %q, want application/sdp", gotContentType)
	}
	if gotModel != "gpt-4o-realtime-preview-2024-12-17" {
		t.Errorf("model = %q", gotModel)
	}
	if conn.pc.RemoteDescription() == nil {
		t.Fatal("remote description not installed")
	}
	if conn.State() != StateNegotiating {
		t.Fatalf("state = %q, want %q", conn.State(), StateNegotiating)
	}
	if conn.Mic().Enabled() {
		t.Fatal("microphone enabled before session confirmation")
	}
}

func TestStartSDPServerRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "at capacity", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := provider.OpenAI()
	p.Host = srv.URL

	n := testNegotiator(Options{})
	_, err := n.Start(context.Background(), "ek-test", p, p.DefaultModel)
	if err == nil {
		t.Fatal("Start succeeded, want error")
	}
	if !strings.Contains(err.Error(), "status 503") || !strings.Contains(err.Error(), "at capacity") {
		t.Fatalf("err = %v, want status and body included", err)
	}
}

func TestStartUnsupportedSignaling(t *testing.T) {
	p := provider.OpenAI()
	p.Signaling = "smoke-signals"

	n := testNegotiator(Options{})
	_, err := n.Start(context.Background(), "ek-test", p, p.DefaultModel)
	if err == nil || !strings.Contains(err.Error(), "unsupported signaling") {
		t.Fatalf("err = %v, want unsupported signaling", err)
	}
}

func TestStartWebSocketExchange(t *testing.T) {
	sig := newFakeSignalConn()
	var dialedURL string
	dialer := func(_ context.Context, url string) (SignalConn, error) {
		dialedURL = url
		return sig, nil
	}

	// Answer the offer once it shows up on the signaling socket.
	go func() {
		for {
			if msg, ok := sig.firstWritten(signalOffer); ok {
				answer, err := answerOffer(msg.SDP)
				if err != nil {
					sig.inbound <- SignalMessage{Type: signalError, Message: err.Error()}
					return
				}
				sig.inbound <- SignalMessage{Type: signalAnswer, SDP: answer}
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	p := provider.Outspeed()
	p.Host = "ws://relay.internal"

	n := testNegotiator(Options{Dialer: dialer})
	conn, err := n.Start(context.Background(), "ek-ws", p, p.DefaultModel)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer conn.Close()

	if !strings.Contains(dialedURL, "client_secret=ek-ws") {
		t.Errorf("dialed URL = %q, want credential in query", dialedURL)
	}
	if !strings.Contains(dialedURL, "model="+p.DefaultModel) {
		t.Errorf("dialed URL = %q, want model in query", dialedURL)
	}
	if conn.pc.RemoteDescription() == nil {
		t.Fatal("remote description not installed")
	}
}

func TestStartWebSocketDialFailure(t *testing.T) {
	dialErr := errors.New("relay unreachable")
	dialer := func(context.Context, string) (SignalConn, error) {
		return nil, dialErr
	}

	p := provider.Outspeed()
	n := testNegotiator(Options{Dialer: dialer})
	_, err := n.Start(context.Background(), "ek-ws", p, p.DefaultModel)
	if !errors.Is(err, dialErr) {
		t.Fatalf("err = %v, want dial failure", err)
	}
}
