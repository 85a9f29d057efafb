package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a session id has no stored record.
var ErrNotFound = errors.New("history: session not found")

// PostgresStore persists finished sessions in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_history (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL,
			message_count INTEGER NOT NULL,
			cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_session_history_ended ON session_history (ended_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveSession(ctx context.Context, record SessionRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	if record.DurationMS == 0 && !record.StartedAt.IsZero() {
		record.DurationMS = record.EndedAt.Sub(record.StartedAt).Milliseconds()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_history (id, provider, model, started_at, ended_at, duration_ms, message_count, cost_usd)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			duration_ms = EXCLUDED.duration_ms,
			message_count = EXCLUDED.message_count,
			cost_usd = EXCLUDED.cost_usd`,
		record.ID,
		record.Provider,
		record.Model,
		record.StartedAt,
		record.EndedAt,
		record.DurationMS,
		record.MessageCount,
		record.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, provider, model, started_at, ended_at, duration_ms, message_count, cost_usd
		 FROM session_history ORDER BY ended_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}
	defer rows.Close()

	items := make([]SessionRecord, 0, limit)
	for rows.Next() {
		var r SessionRecord
		if err := rows.Scan(&r.ID, &r.Provider, &r.Model, &r.StartedAt, &r.EndedAt, &r.DurationMS, &r.MessageCount, &r.CostUSD); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}

	return items, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (SessionRecord, error) {
	var r SessionRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, provider, model, started_at, ended_at, duration_ms, message_count, cost_usd
		 FROM session_history WHERE id=$1`,
		id,
	).Scan(&r.ID, &r.Provider, &r.Model, &r.StartedAt, &r.EndedAt, &r.DurationMS, &r.MessageCount, &r.CostUSD)
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
