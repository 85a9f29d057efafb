package transport

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/audio"
)

// State is the connection lifecycle: negotiating until the remote
// description is installed, then connected, then closed or failed.
type State string

const (
	StateNegotiating State = "negotiating"
	StateConnected   State = "connected"
	StateClosed      State = "closed"
	StateFailed      State = "failed"
)

var ErrControlChannelClosed = errors.New("control channel is not open")

// Connection owns the live peer connection, its reliable ordered
// control channel, and the two audio tracks (microphone send, remote
// receive). It is handed from the negotiator to the event handler and
// closed exactly once, from exactly one place, on teardown.
type Connection struct {
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	mic     *audio.Track
	speaker *audio.Track

	mu    sync.Mutex
	state State

	connected chan struct{}
	failed    chan struct{}
	done      chan struct{}

	connectedOnce sync.Once
	failedOnce    sync.Once
	closeOnce     sync.Once
}

func newConnection(pc *webrtc.PeerConnection, mic, speaker *audio.Track) *Connection {
	return &Connection{
		pc:        pc,
		mic:       mic,
		speaker:   speaker,
		state:     StateNegotiating,
		connected: make(chan struct{}),
		failed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Mic is the local send track. It is created muted; the event handler
// enables it on the provider's session-created confirmation.
func (c *Connection) Mic() *audio.Track { return c.mic }

// Speaker is the remote receive track.
func (c *Connection) Speaker() *audio.Track { return c.speaker }

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected is closed once the peer connection reaches its connected
// state.
func (c *Connection) Connected() <-chan struct{} { return c.connected }

// Failed is closed if the peer connection reaches its failed state.
func (c *Connection) Failed() <-chan struct{} { return c.failed }

func (c *Connection) markConnected() {
	c.connectedOnce.Do(func() {
		c.mu.Lock()
		if c.state == StateNegotiating {
			c.state = StateConnected
		}
		c.mu.Unlock()
		close(c.connected)
	})
}

func (c *Connection) markFailed() {
	c.failedOnce.Do(func() {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		close(c.failed)
	})
}

// OnControlMessage registers the inbound control-message callback.
// Messages are delivered one at a time, in arrival order.
func (c *Connection) OnControlMessage(fn func(data []byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

// OnControlOpen fires when the control channel is usable.
func (c *Connection) OnControlOpen(fn func()) {
	c.dc.OnOpen(fn)
}

// OnControlClose fires when the control channel shuts down.
func (c *Connection) OnControlClose(fn func()) {
	c.dc.OnClose(fn)
}

// OnControlError fires on control channel errors.
func (c *Connection) OnControlError(fn func(error)) {
	c.dc.OnError(fn)
}

// SendControl writes one serialized event to the control channel.
func (c *Connection) SendControl(data []byte) error {
	if c.dc == nil || c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrControlChannelClosed
	}
	return c.dc.Send(data)
}

// Close tears the transport down: control channel first, then the peer
// connection, then the local tracks. Idempotent.
func (c *Connection) Close() error {
	var retErr error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.dc != nil {
			_ = c.dc.Close()
		}
		if c.pc != nil {
			retErr = c.pc.Close()
		}
		c.mic.SetEnabled(false)
		c.mu.Lock()
		if c.state != StateFailed {
			c.state = StateClosed
		}
		c.mu.Unlock()
	})
	return retErr
}
