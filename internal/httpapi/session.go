package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/protocol"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/provider"
)

type startSessionRequest struct {
	Provider string `json:"provider"`
	provider.SessionConfig
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	name := req.Provider
	if name == "" {
		name = s.cfg.DefaultProvider
	}
	p, err := s.providers.Get(name)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown_provider", err.Error())
		return
	}

	cfg := req.SessionConfig
	if cfg.Model == "" {
		cfg = provider.DefaultSessionConfig(p)
		if s.cfg.DefaultModel != "" && p.Name == s.cfg.DefaultProvider {
			cfg.Model = s.cfg.DefaultModel
		}
	}

	// StartSession owns the connect timeout; the request context would
	// cancel negotiation as soon as this handler returns.
	if err := s.controller.StartSession(r.Context(), p, cfg); err != nil {
		respondError(w, http.StatusBadGateway, "start_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"state":    s.controller.State(),
		"provider": p.Name,
		"model":    cfg.Model,
	})
}

func (s *Server) handleStopSession(w http.ResponseWriter, _ *http.Request) {
	_ = s.controller.StopSession()
	respondJSON(w, http.StatusOK, map[string]any{
		"state": s.controller.State(),
	})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_message", "text is required")
		return
	}
	if err := s.controller.SendTextMessage(req.Text); err != nil {
		respondError(w, http.StatusConflict, "no_session", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (s *Server) handleSendEvent(w http.ResponseWriter, r *http.Request) {
	var evt protocol.ClientEvent
	if err := decodeJSON(r, &evt); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if evt.Type == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "event type is required")
		return
	}
	if err := s.controller.SendClientEvent(evt); err != nil {
		respondError(w, http.StatusConflict, "no_session", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (s *Server) handleSessionState(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"state":    s.controller.State(),
		"messages": s.controller.Messages(),
	}
	if breakdown, ok := s.controller.CostNow(); ok {
		resp["cost"] = breakdown
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRawLog(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"events": s.controller.RawLog(),
	})
}

// handleEventsWS streams normalized session events to the browser.
// Read-only: client frames other than close are ignored.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id, events := s.subscribe()
	defer s.unsubscribe(id)

	// Reader goroutine exists only to observe the close handshake.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(1 << 16)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-readerDone:
			return
		case e := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}
}
