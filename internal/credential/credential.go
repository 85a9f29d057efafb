// Package credential exchanges a long-lived API key (or a self-hosted
// backend session) for the short-lived client secret a realtime
// transport is negotiated with.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/outspeed-ai/voice-devtools-sub000/internal/provider"
	"github.com/outspeed-ai/voice-devtools-sub000/internal/reliability"
)

// Error codes surfaced by token endpoints.
const (
	CodeNoAPIKey = "NO_API_KEY"
	CodeNoModel  = "NO_MODEL"
)

// Error is a recoverable credential failure. Remediation, when set,
// points the user at a fix (typically where to create an API key).
type Error struct {
	Code        string
	Message     string
	Remediation string
	// Transient marks server-side failures worth retrying as-is,
	// without the user changing anything first.
	Transient bool
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("credential: %s (%s)", e.Message, e.Code)
	}
	return "credential: " + e.Message
}

// Exchange fetches ephemeral session credentials. It never retries;
// callers retry by re-invoking session start.
type Exchange struct {
	client *http.Client
	// tokenURL, when set, marks a self-hosted deployment: the session
	// config is posted there and the backend holds the long-lived key.
	tokenURL string
	// apiKey is the caller's long-lived key for hosted mode.
	apiKey func(p provider.Provider) string
}

// NewSelfHosted builds an exchange that mints credentials through the
// deployment's own /token endpoint.
func NewSelfHosted(client *http.Client, tokenURL string) *Exchange {
	if client == nil {
		client = &http.Client{}
	}
	return &Exchange{client: client, tokenURL: tokenURL}
}

// NewHosted builds an exchange that talks to the provider directly
// using a long-lived key looked up per provider.
func NewHosted(client *http.Client, apiKey func(p provider.Provider) string) *Exchange {
	if client == nil {
		client = &http.Client{}
	}
	return &Exchange{client: client, apiKey: apiKey}
}

type tokenResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// GetEphemeralKey posts the session config and returns the short-lived
// credential. On a non-success status the server-provided message (and
// remediation, when the code warrants one) travels back as *Error.
func (e *Exchange) GetEphemeralKey(ctx context.Context, p provider.Provider, cfg provider.SessionConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", &Error{Code: CodeNoModel, Message: err.Error()}
	}

	url := e.tokenURL
	var bearer string
	if url == "" {
		url = p.SessionsURL
		if e.apiKey != nil {
			bearer = e.apiKey(p)
		}
		if bearer == "" {
			return "", &Error{
				Code:        CodeNoAPIKey,
				Message:     fmt.Sprintf("no API key configured for %s", p.Label),
				Remediation: p.APIKeyHelpURL,
			}
		}
	}

	body, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal session config: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return "", fmt.Errorf("decode token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := tr.Error
		if msg == "" {
			msg = fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)
		}
		cerr := &Error{
			Code:      tr.Code,
			Message:   msg,
			Transient: reliability.IsRetryableHTTPStatus(resp.StatusCode),
		}
		if tr.Code == CodeNoAPIKey {
			cerr.Remediation = p.APIKeyHelpURL
		}
		return "", cerr
	}

	if tr.ClientSecret.Value == "" {
		return "", &Error{Message: "token response missing client secret"}
	}
	return tr.ClientSecret.Value, nil
}

// IsRecoverable reports whether err is a credential-stage failure the
// user can fix and retry, as opposed to a transport fault.
func IsRecoverable(err error) bool {
	var ce *Error
	return errors.As(err, &ce)
}
