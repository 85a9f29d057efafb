package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/config"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/cost"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/history"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/observability"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/protocol"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/provider"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/rtsession"
)

// TokenMinter exchanges a session config for an ephemeral client secret.
// Satisfied by *credential.Exchange; tests substitute fakes.
type TokenMinter interface {
	GetEphemeralKey(ctx context.Context, p provider.Provider, cfg provider.SessionConfig) (string, error)
}

// SessionController is the realtime session surface the server drives.
// Satisfied by *rtsession.Controller; tests substitute fakes.
type SessionController interface {
	StartSession(ctx context.Context, p provider.Provider, cfg provider.SessionConfig) error
	StopSession() error
	SendTextMessage(text string) error
	SendClientEvent(evt protocol.ClientEvent) error
	State() rtsession.LifecycleState
	Messages() []rtsession.Message
	CostNow() (cost.Breakdown, bool)
	RawLog() []rtsession.LoggedEvent
	Events() <-chan rtsession.Event
}

type Server struct {
	cfg        config.Config
	providers  *provider.Registry
	minter     TokenMinter
	controller SessionController
	store      history.Store
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	nextSub uint64
	subs    map[uint64]chan rtsession.Event
}

func New(cfg config.Config, providers *provider.Registry, minter TokenMinter, controller SessionController, store history.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		providers:  providers,
		minter:     minter,
		controller: controller,
		store:      store,
		metrics:    metrics,
		subs:       make(map[uint64]chan rtsession.Event),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so another site cannot drive the user's mic
				// session if the console is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/token", s.handleToken)
	r.Get("/api/providers", s.handleListProviders)

	r.Post("/api/session/start", s.handleStartSession)
	r.Post("/api/session/stop", s.handleStopSession)
	r.Post("/api/session/message", s.handleSendMessage)
	r.Post("/api/session/event", s.handleSendEvent)
	r.Get("/api/session", s.handleSessionState)
	r.Get("/api/session/log", s.handleRawLog)
	r.Get("/api/events", s.handleEventsWS)

	r.Get("/api/perf/latency", s.handlePerfLatency)

	r.Get("/api/sessions", s.handleListHistory)
	r.Get("/api/sessions/{id}", s.handleGetHistory)

	return r
}

// Run pumps controller events into websocket subscribers until ctx ends.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-s.controller.Events():
			if !ok {
				return
			}
			s.broadcast(e)
		}
	}
}

func (s *Server) broadcast(e rtsession.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			// Slow subscribers lose events rather than block the feed.
		}
	}
}

func (s *Server) subscribe() (uint64, <-chan rtsession.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	id := s.nextSub
	ch := make(chan rtsession.Event, 256)
	s.subs[id] = ch
	return id, ch
}

func (s *Server) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  s.controller.State(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
