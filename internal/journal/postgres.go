package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"streamcast/internal/orchestrator"
)

// PostgresConfig tunes the connection pool behind the Postgres journal.
type PostgresConfig struct {
	DSN             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
	ApplicationName string
}

// Postgres stores journal entries in a single append-only table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens the pool and ensures the journal table exists.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	appName := cfg.ApplicationName
	if appName == "" {
		appName = "streamcast"
	}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = appName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	j := &Postgres{pool: pool}
	if err := j.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return j, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
    id           BIGSERIAL PRIMARY KEY,
    session_id   TEXT        NOT NULL,
    session_name TEXT        NOT NULL,
    kind         TEXT        NOT NULL,
    severity     TEXT        NOT NULL,
    message      TEXT        NOT NULL,
    occurred_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS session_events_session_idx
    ON session_events (session_id, occurred_at);
`

func (j *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := j.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure journal schema: %w", err)
	}
	return nil
}

func (j *Postgres) Append(ctx context.Context, entry Entry) error {
	_, err := j.pool.Exec(ctx,
		`INSERT INTO session_events (session_id, session_name, kind, severity, message, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.SessionID, entry.SessionName, string(entry.Kind), string(entry.Severity), entry.Message, entry.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

func (j *Postgres) List(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	query := `SELECT id, session_id, session_name, kind, severity, message, occurred_at
		FROM session_events WHERE session_id = $1 ORDER BY occurred_at, id`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := j.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		var kind, severity string
		if err := rows.Scan(&entry.ID, &entry.SessionID, &entry.SessionName, &kind, &severity, &entry.Message, &entry.At); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entry.Kind = orchestrator.EventKind(kind)
		entry.Severity = orchestrator.Severity(severity)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}
	return out, nil
}

// Close releases the pool, bounded by ctx.
func (j *Postgres) Close(ctx context.Context) error {
	if j == nil || j.pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		j.pool.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
