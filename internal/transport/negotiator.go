package transport

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/audio"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/provider"
)

// Options configures a Negotiator. Zero values select production
// defaults.
type Options struct {
	Engine     *audio.Engine
	HTTPClient *http.Client
	Dialer     SignalDialer
	Encoder    Encoder
	Decoder    Decoder
	ICEServers []string
}

// Negotiator establishes the peer media connection and control channel
// for a session, using the signaling protocol the provider requires.
type Negotiator struct {
	engine  *audio.Engine
	client  *http.Client
	dialer  SignalDialer
	encoder Encoder
	decoder Decoder
	ice     []string
}

func NewNegotiator(opts Options) *Negotiator {
	n := &Negotiator{
		engine:  opts.Engine,
		client:  opts.HTTPClient,
		dialer:  opts.Dialer,
		encoder: opts.Encoder,
		decoder: opts.Decoder,
		ice:     opts.ICEServers,
	}
	if n.engine == nil {
		n.engine = audio.Shared()
	}
	if n.client == nil {
		n.client = &http.Client{}
	}
	if n.dialer == nil {
		n.dialer = DialSignaling
	}
	if n.encoder == nil {
		n.encoder = PCM16Codec{}
	}
	if n.decoder == nil {
		n.decoder = PCM16Codec{}
	}
	// nil means "use the default STUN set"; an explicitly empty slice
	// disables ICE servers, for host-only setups.
	if n.ice == nil {
		n.ice = []string{"stun:stun.l.google.com:19302"}
	}
	return n
}

// Start negotiates a transport with the provider using the ephemeral
// credential. The returned connection has its remote description
// installed; for SDP-signaled providers that is the whole handshake,
// for websocket-signaled providers ICE completion continues in the
// background. Failures are not retried here.
func (n *Negotiator) Start(ctx context.Context, credential string, p provider.Provider, model string) (*Connection, error) {
	var cfg webrtc.Configuration
	if len(n.ice) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: n.ice}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	mic := n.engine.NewTrack("microphone")
	// Muted until the provider confirms the session; prevents shipping
	// audio before the remote side is ready.
	mic.SetEnabled(false)
	speaker := n.engine.NewTrack("speaker")

	conn := newConnection(pc, mic, speaker)

	sendTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"microphone", "voice-devtools",
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create send track: %w", err)
	}
	if _, err := pc.AddTrack(sendTrack); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("add send track: %w", err)
	}
	go n.pumpMicrophone(conn, mic, sendTrack)

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go n.pumpSpeaker(conn, remote, speaker)
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateConnected:
			conn.markConnected()
		case webrtc.PeerConnectionStateFailed:
			conn.markFailed()
		}
	})

	// The control channel must exist before any further negotiation so
	// it rides the initial SDP exchange.
	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create control channel: %w", err)
	}
	conn.dc = dc

	switch p.Signaling {
	case provider.SignalingSDP:
		err = n.negotiateSDP(ctx, conn, credential, p, model)
	case provider.SignalingWebSocket:
		err = n.negotiateWebSocket(ctx, conn, credential, p, model)
	default:
		err = fmt.Errorf("provider %s: unsupported signaling %q", p.Name, p.Signaling)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// negotiateSDP posts the local offer to the provider's realtime
// endpoint and installs the raw SDP answer from the response body.
// There is no further handshake step after that.
func (n *Negotiator) negotiateSDP(ctx context.Context, conn *Connection, credential string, p provider.Provider, model string) error {
	offer, err := conn.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(conn.pc)
	if err := conn.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		return ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.SDPEndpoint(model),
		strings.NewReader(conn.pc.LocalDescription().SDP))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sdp exchange failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: string(body)}
	if err := conn.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// negotiateWebSocket relays the SDP exchange through the provider's
// signaling socket, trickling ICE candidates as they are discovered.
func (n *Negotiator) negotiateWebSocket(ctx context.Context, conn *Connection, credential string, p provider.Provider, model string) error {
	sig, err := n.dialer(ctx, p.SignalingEndpoint(credential, model))
	if err != nil {
		return err
	}

	localCands := make(chan SignalMessage, 32)
	conn.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		msg := SignalMessage{
			Type:          signalCandidate,
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		}
		select {
		case localCands <- msg:
		default:
			log.Printf("transport: dropping local candidate, signaling backlog full")
		}
	})

	return negotiateSignaling(ctx, sig, &pionPeer{pc: conn.pc}, localCands, conn.connected)
}

// pionPeer adapts the pion peer connection to the signaling handshake.
type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) LocalOfferSDP(_ context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (p *pionPeer) SetRemoteAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (p *pionPeer) AddRemoteCandidate(msg SignalMessage) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     msg.Candidate,
		SDPMid:        msg.SDPMid,
		SDPMLineIndex: msg.SDPMLineIndex,
	})
}

// pumpMicrophone moves frames from the local track to the RTP sender.
func (n *Negotiator) pumpMicrophone(conn *Connection, mic *audio.Track, out *webrtc.TrackLocalStaticSample) {
	sub := mic.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-conn.done:
			return
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			payload, err := n.encoder.Encode(frame)
			if err != nil {
				log.Printf("transport: encode mic frame: %v", err)
				continue
			}
			dur := time.Duration(len(frame)) * time.Second / time.Duration(mic.Rate())
			if err := out.WriteSample(media.Sample{Data: payload, Duration: dur}); err != nil {
				log.Printf("transport: write mic sample: %v", err)
				return
			}
		}
	}
}

// pumpSpeaker moves decoded remote media onto the speaker track, which
// auto-plays for any subscriber (recorders included).
func (n *Negotiator) pumpSpeaker(conn *Connection, remote *webrtc.TrackRemote, speaker *audio.Track) {
	for {
		select {
		case <-conn.done:
			return
		default:
		}
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		frame, err := n.decoder.Decode(pkt.Payload)
		if err != nil {
			log.Printf("transport: decode remote frame: %v", err)
			continue
		}
		speaker.Write(frame)
	}
}
