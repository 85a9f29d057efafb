package httpapi

import (
	"errors"
	"net/http"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/credential"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/provider"
)

type tokenRequest struct {
	Provider string `json:"provider"`
	provider.SessionConfig
}

type tokenResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

// handleToken mints an ephemeral client secret for a browser session.
// The long-lived API key stays on this server; the browser only ever
// sees the short-lived secret.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
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
		// A deployment-wide default model only applies to its own provider.
		if s.cfg.DefaultModel != "" && p.Name == s.cfg.DefaultProvider {
			cfg.Model = s.cfg.DefaultModel
		}
	}

	secret, err := s.minter.GetEphemeralKey(r.Context(), p, cfg)
	if err != nil {
		var cerr *credential.Error
		if errors.As(err, &cerr) {
			status := http.StatusBadRequest
			if cerr.Transient {
				status = http.StatusBadGateway
			}
			code := cerr.Code
			if code == "" {
				code = "token_error"
			}
			msg := cerr.Message
			if cerr.Remediation != "" {
				msg += " (get an API key: " + cerr.Remediation + ")"
			}
			respondError(w, status, code, msg)
			return
		}
		respondError(w, http.StatusBadGateway, "token_error", err.Error())
		return
	}

	var resp tokenResponse
	resp.ClientSecret.Value = secret
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListProviders(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"default":   s.cfg.DefaultProvider,
		"providers": s.providers.List(),
	})
}
