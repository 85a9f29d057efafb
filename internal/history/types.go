package history

import (
	"context"
	"time"
)

// SessionRecord stores one finished realtime session.
type SessionRecord struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
	DurationMS   int64     `json:"duration_ms"`
	MessageCount int       `json:"message_count"`
	CostUSD      float64   `json:"cost_usd"`
}

// Store persists and retrieves finished sessions.
type Store interface {
	SaveSession(ctx context.Context, record SessionRecord) error
	RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	GetSession(ctx context.Context, id string) (SessionRecord, error)
	Close() error
}
