// Package history retains the last known heartbeat per worker in Postgres
// for audit, independent of the TTL-scoped liveness records.
package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fyrsmithlabs/swarmd/internal/liveness"
)

const schema = `
CREATE TABLE IF NOT EXISTS worker_heartbeats (
    worker_id       TEXT PRIMARY KEY,
    status          TEXT NOT NULL,
    current_task_id TEXT,
    provider        TEXT,
    auth_status     TEXT,
    metadata        JSONB,
    published_at    TIMESTAMPTZ NOT NULL
);`

const upsert = `
INSERT INTO worker_heartbeats (worker_id, status, current_task_id, provider, auth_status, metadata, published_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (worker_id) DO UPDATE SET
    status = EXCLUDED.status,
    current_task_id = EXCLUDED.current_task_id,
    provider = EXCLUDED.provider,
    auth_status = EXCLUDED.auth_status,
    metadata = EXCLUDED.metadata,
    published_at = EXCLUDED.published_at;`

// Store persists heartbeat history to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to Postgres and ensures the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure worker_heartbeats schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// RecordHeartbeat upserts the worker's last known heartbeat.
func (s *Store) RecordHeartbeat(ctx context.Context, hb liveness.Heartbeat) error {
	var metadata []byte
	if len(hb.Metadata) > 0 {
		raw, err := json.Marshal(hb.Metadata)
		if err != nil {
			return fmt.Errorf("marshal heartbeat metadata: %w", err)
		}
		metadata = raw
	}
	_, err := s.pool.Exec(ctx, upsert,
		hb.WorkerID,
		string(hb.Status),
		nullable(hb.CurrentTaskID),
		nullable(hb.Provider),
		nullable(hb.AuthStatus),
		metadata,
		hb.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert heartbeat for %s: %w", hb.WorkerID, err)
	}
	return nil
}

// LastKnown returns the most recent persisted heartbeat per worker, sorted
// by worker id.
func (s *Store) LastKnown(ctx context.Context) ([]liveness.Heartbeat, error) {
	rows, err := s.pool.Query(ctx, `
SELECT worker_id, status, current_task_id, provider, auth_status, metadata, published_at
FROM worker_heartbeats
ORDER BY worker_id`)
	if err != nil {
		return nil, fmt.Errorf("query heartbeat history: %w", err)
	}
	defer rows.Close()

	var out []liveness.Heartbeat
	for rows.Next() {
		var (
			hb                            liveness.Heartbeat
			taskID, provider, authStatus  *string
			metadata                      []byte
		)
		if err := rows.Scan(&hb.WorkerID, &hb.Status, &taskID, &provider, &authStatus, &metadata, &hb.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan heartbeat row: %w", err)
		}
		hb.CurrentTaskID = deref(taskID)
		hb.Provider = deref(provider)
		hb.AuthStatus = deref(authStatus)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &hb.Metadata); err != nil {
				return nil, fmt.Errorf("decode heartbeat metadata for %s: %w", hb.WorkerID, err)
			}
		}
		out = append(out, hb)
	}
	return out, rows.Err()
}

// PruneStale deletes history rows for workers that have not published within
// the retention window. Returns the number of rows removed.
func (s *Store) PruneStale(ctx context.Context, retentionDays int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM worker_heartbeats WHERE published_at < now() - ($1 * INTERVAL '1 day')`,
		retentionDays,
	)
	if err != nil {
		return 0, fmt.Errorf("prune heartbeat history: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
