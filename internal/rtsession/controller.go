package rtsession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/audio"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/cost"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/credential"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/observability"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/protocol"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/provider"
)

// ErrNoSession is returned by send operations with no open channel.
var ErrNoSession = errors.New("rtsession: no open control channel")

// Conn is the transport surface the controller consumes. Satisfied by
// *transport.Connection; tests substitute fakes.
type Conn interface {
	Mic() *audio.Track
	Speaker() *audio.Track
	OnControlMessage(func(data []byte))
	OnControlOpen(func())
	OnControlClose(func())
	OnControlError(func(error))
	SendControl(data []byte) error
	Failed() <-chan struct{}
	Close() error
}

// Transport negotiates connections. Satisfied via NewTransport; tests
// substitute fakes.
type Transport interface {
	Start(ctx context.Context, credential string, p provider.Provider, model string) (Conn, error)
}

// Credentials is the ephemeral-key exchange surface.
type Credentials interface {
	GetEphemeralKey(ctx context.Context, p provider.Provider, cfg provider.SessionConfig) (string, error)
}

// Summary describes a finished session; the controller reports one to
// the OnFinished hook for persistence.
type Summary struct {
	ID           string
	Provider     string
	Model        string
	StartedAt    time.Time
	EndedAt      time.Time
	MessageCount int
	Cost         cost.Breakdown
}

// ControllerConfig wires a Controller.
type ControllerConfig struct {
	Credentials Credentials
	Transport   Transport
	Engine      *audio.Engine
	Metrics     *observability.Metrics

	ConnectTimeout time.Duration
	TrimPadding    time.Duration
	StopGrace      time.Duration

	// OnFinished fires after teardown with the session summary.
	OnFinished func(Summary)

	Now func() time.Time
}

// sessionHandle bundles every live resource of one session so teardown
// is atomic: either the whole handle exists or none of it does.
type sessionHandle struct {
	id        string
	provider  provider.Provider
	config    provider.SessionConfig
	conn      Conn
	userRec   Recorder
	botRec    Recorder
	handler   *Handler
	store     *MessageStore
	cost      *cost.Tracker
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
}

// Controller is the public session facade. At most one session is
// loading or active at a time; starting a new one stops the previous
// one first.
type Controller struct {
	cfg ControllerConfig

	mu    sync.Mutex
	state LifecycleState
	sess  *sessionHandle
	gen   uint64

	events chan Event
	rawLog []LoggedEvent
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Engine == nil {
		cfg.Engine = audio.Shared()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{
		cfg:    cfg,
		state:  StateInactive,
		events: make(chan Event, 256),
	}
}

// Events is the normalized outbound stream for UI code. Slow consumers
// lose events rather than block the protocol path.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) State() LifecycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns the current session's messages in arrival order.
func (c *Controller) Messages() []Message {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.store.List()
}

// CostNow reports the running cost of the active session.
func (c *Controller) CostNow() (cost.Breakdown, bool) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return cost.Breakdown{}, false
	}
	return sess.cost.Total(c.cfg.Now()), true
}

// RawLog returns a snapshot of the raw event log.
func (c *Controller) RawLog() []LoggedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LoggedEvent(nil), c.rawLog...)
}

// StartSession exchanges credentials, negotiates the transport, and
// wires the event handler. The returned error is nil once the control
// channel is wired; the session reaches the active state only on the
// provider's session-created confirmation.
func (c *Controller) StartSession(ctx context.Context, p provider.Provider, cfg provider.SessionConfig) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		// Only one session may be loading or active at once.
		_ = c.StopSession()
		c.mu.Lock()
	}
	c.gen++
	gen := c.gen
	c.state = StateLoading
	c.rawLog = nil
	c.mu.Unlock()
	c.emit(Event{Kind: EventState, State: StateLoading})
	c.countSessionEvent("start_requested")

	startAt := c.cfg.Now()
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)

	fail := func(err error, userMsg string) error {
		cancel()
		c.mu.Lock()
		stale := c.gen != gen
		if !stale {
			c.state = StateInactive
		}
		c.mu.Unlock()
		// A start superseded by a newer one must not publish events a
		// fresher session's consumers would misread.
		if stale {
			return err
		}
		c.emit(Event{Kind: EventState, State: StateInactive})
		if userMsg != "" {
			c.emit(Event{Kind: EventError, Error: userMsg})
		}
		return err
	}

	cred, err := c.cfg.Credentials.GetEphemeralKey(ctx, p, cfg)
	if err != nil {
		var cerr *credential.Error
		if errors.As(err, &cerr) {
			if c.cfg.Metrics != nil {
				code := cerr.Code
				if code == "" {
					code = "generic"
				}
				c.cfg.Metrics.CredentialErrors.WithLabelValues(code).Inc()
			}
			msg := cerr.Message
			if cerr.Remediation != "" {
				msg = fmt.Sprintf("%s (get an API key: %s)", cerr.Message, cerr.Remediation)
			}
			return fail(err, msg)
		}
		return fail(err, "Connection error! Check console for details.")
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ObserveStartStage("credential_exchange", c.cfg.Now().Sub(startAt))
	}

	negotiateAt := c.cfg.Now()
	conn, err := c.cfg.Transport.Start(ctx, cred, p, cfg.Model)
	if err != nil {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.TransportFailures.WithLabelValues("negotiation").Inc()
		}
		return fail(err, "Connection error! Check console for details.")
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ObserveStartStage("transport_negotiation", c.cfg.Now().Sub(negotiateAt))
	}

	c.mu.Lock()
	if c.gen != gen {
		// Stopped while negotiating; unwind without leaking the
		// just-established transport.
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return fmt.Errorf("rtsession: session start canceled")
	}

	now := c.cfg.Now()
	sess := &sessionHandle{
		id:        uuid.NewString(),
		provider:  p,
		config:    cfg,
		conn:      conn,
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: now,
		cost:      cost.NewTracker(p.Cost, now),
	}
	sess.store = NewMessageStore(nil)

	if cfg.HasModality("audio") {
		if sess.userRec, err = audio.NewRecorder(c.cfg.Engine, conn.Mic()); err == nil {
			sess.botRec, err = audio.NewRecorder(c.cfg.Engine, conn.Speaker())
		}
		if err != nil {
			c.mu.Unlock()
			cancel()
			_ = conn.Close()
			return fail(err, "Connection error! Check console for details.")
		}
	}

	sess.handler = NewHandler(HandlerConfig{
		Mic:          conn.Mic(),
		UserRecorder: sess.userRec,
		BotRecorder:  sess.botRec,
		Store:        sess.store,
		Cost:         sess.cost,
		Emit:         c.handlerEmit(gen),
		OnSessionCreated: func() {
			c.setStateIfGen(gen, StateActive)
			c.countSessionEvent("active")
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ObserveStartStage("start_to_active", c.cfg.Now().Sub(startAt))
			}
		},
		OnClip: func(clip audio.Clip) {
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ObserveClip(clip.Duration)
			}
		},
		TrimPadding: c.cfg.TrimPadding,
		StopGrace:   c.cfg.StopGrace,
		Now:         c.cfg.Now,
	})

	c.sess = sess
	c.mu.Unlock()

	conn.OnControlMessage(sess.handler.HandleControlMessage)
	conn.OnControlError(func(err error) {
		log.Printf("rtsession: control channel error: %v", err)
		c.teardown(gen, "channel_error", true)
	})
	conn.OnControlClose(func() {
		c.teardown(gen, "channel_closed", true)
	})
	go func() {
		select {
		case <-conn.Failed():
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.TransportFailures.WithLabelValues("peer_failed").Inc()
			}
			c.teardown(gen, "transport_failed", true)
		case <-sess.done:
		}
	}()

	// The connect timeout has done its job; the transport owns its own
	// liveness from here.
	cancel()

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveSessions.Inc()
	}
	return nil
}

// StopSession tears the session down: recorders, control channel,
// local tracks, peer connection, then all internal refs. Safe to call
// repeatedly; later calls are no-ops.
func (c *Controller) StopSession() error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	c.teardown(gen, "stopped", false)
	return nil
}

// teardown is the single unwind path shared by explicit stop, channel
// errors, unexpected closes, and transport failure.
func (c *Controller) teardown(gen uint64, reason string, notify bool) {
	c.mu.Lock()
	if c.gen != gen {
		// A newer session owns the resources.
		c.mu.Unlock()
		return
	}
	if c.sess == nil {
		// Nothing established yet; bump the generation so an in-flight
		// StartSession unwinds instead of committing.
		c.gen++
		stateChanged := c.state != StateInactive
		c.state = StateInactive
		c.mu.Unlock()
		if stateChanged {
			c.emit(Event{Kind: EventState, State: StateInactive})
		}
		return
	}
	sess := c.sess
	c.sess = nil
	c.gen++
	c.state = StateInactive
	c.mu.Unlock()
	close(sess.done)

	if sess.userRec != nil {
		sess.userRec.Dispose()
	}
	if sess.botRec != nil {
		sess.botRec.Dispose()
	}
	_ = sess.conn.Close()
	sess.cancel()

	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveSessions.Dec()
	}
	c.countSessionEvent(reason)
	c.emit(Event{Kind: EventState, State: StateInactive})
	if notify {
		c.emit(Event{Kind: EventError, Error: "Connection error! Check console for details."})
	}

	ended := c.cfg.Now()
	summary := Summary{
		ID:           sess.id,
		Provider:     sess.provider.Name,
		Model:        sess.config.Model,
		StartedAt:    sess.startedAt,
		EndedAt:      ended,
		MessageCount: sess.store.Len(),
		Cost:         sess.cost.Total(ended),
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SessionCostUSD.WithLabelValues(summary.Provider).Add(summary.Cost.TotalUSD)
	}
	if c.cfg.OnFinished != nil {
		c.cfg.OnFinished(summary)
	}
}

// SendClientEvent assigns an event id if absent, serializes, and sends
// over the control channel. With no open channel it logs and returns
// the error; nothing is queued for later delivery.
func (c *Controller) SendClientEvent(evt protocol.ClientEvent) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		log.Printf("rtsession: dropping client event %q: %v", evt.Type, ErrNoSession)
		return ErrNoSession
	}
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal client event: %w", err)
	}
	if err := sess.conn.SendControl(data); err != nil {
		log.Printf("rtsession: dropping client event %q: %v", evt.Type, err)
		return err
	}
	c.appendRawLog(LoggedEvent{
		Timestamp:  c.cfg.Now(),
		ServerSent: false,
		Type:       evt.Type,
		EventID:    evt.EventID,
		Payload:    data,
	})
	return nil
}

// SendTextMessage sends a user-authored text turn: the conversation
// item, the response trigger, and a local echo into the message store.
func (c *Controller) SendTextMessage(text string) error {
	if err := c.SendClientEvent(protocol.NewUserTextItem(text)); err != nil {
		return err
	}
	if err := c.SendClientEvent(protocol.NewResponseCreate()); err != nil {
		return err
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil {
		m := sess.store.Append(Message{
			ID:   uuid.NewString(),
			Kind: KindChat,
			Role: RoleUser,
			Text: &TextPart{Content: text, Timestamp: c.cfg.Now()},
		})
		c.emit(Event{Kind: EventMessage, Message: &m})
	}
	return nil
}

func (c *Controller) handlerEmit(gen uint64) func(Event) {
	return func(e Event) {
		c.mu.Lock()
		stale := c.gen != gen
		c.mu.Unlock()
		if stale {
			return
		}
		if e.Kind == EventServer && e.Server != nil {
			c.appendRawLog(*e.Server)
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.ServerEvents.WithLabelValues(e.Server.Type).Inc()
			}
		}
		c.emit(e)
	}
}

func (c *Controller) setStateIfGen(gen uint64, s LifecycleState) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.emit(Event{Kind: EventState, State: s})
}

func (c *Controller) appendRawLog(e LoggedEvent) {
	c.mu.Lock()
	c.rawLog = append(c.rawLog, e)
	if len(c.rawLog) > 2048 {
		c.rawLog = c.rawLog[len(c.rawLog)-2048:]
	}
	c.mu.Unlock()
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
	}
}

func (c *Controller) countSessionEvent(event string) {
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}
