// Package liveness tracks which workers are alive through TTL-scoped
// heartbeat records. Absence of a fresh record is the only offline signal;
// there is no explicit deregistration path, so crashed workers age out.
package liveness

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/statestore"
)

// Status of a single worker.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusOffline  Status = "offline"
)

// Heartbeat is one worker's liveness record.
type Heartbeat struct {
	WorkerID      string            `json:"worker_id"`
	Status        Status            `json:"status"`
	CurrentTaskID string            `json:"current_task_id,omitempty"`
	Provider      string            `json:"provider,omitempty"`
	AuthStatus    string            `json:"auth_status,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	PublishedAt   time.Time         `json:"published_at"`
}

// HistorySink durably retains the last known heartbeat per worker for audit.
// Persistence is best-effort and decoupled from liveness.
type HistorySink interface {
	RecordHeartbeat(ctx context.Context, hb Heartbeat) error
}

// Summary aggregates worker health for display.
type Summary struct {
	Healthy  int
	Degraded int
	Offline  int
}

const historyWriteTimeout = 5 * time.Second

// Registry publishes and enumerates worker heartbeats.
type Registry struct {
	store      statestore.Store
	history    HistorySink
	configured int
	log        *logging.Logger
}

// NewRegistry creates a Registry. history may be nil to disable the audit
// trail; configured is the static worker-slot count used when no worker is
// reporting.
func NewRegistry(store statestore.Store, history HistorySink, configured int, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.NewNop()
	}
	return &Registry{
		store:      store,
		history:    history,
		configured: configured,
		log:        log,
	}
}

// PublishHeartbeat writes the worker's record with the liveness TTL and
// asynchronously persists it to the history sink. History failures are
// logged and never fail the publish.
func (r *Registry) PublishHeartbeat(ctx context.Context, hb Heartbeat) error {
	if hb.WorkerID == "" {
		return fmt.Errorf("heartbeat missing worker id")
	}
	if hb.Status != StatusHealthy && hb.Status != StatusDegraded {
		return fmt.Errorf("heartbeat status must be healthy or degraded, got %q", hb.Status)
	}
	if hb.PublishedAt.IsZero() {
		hb.PublishedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshal heartbeat: %w", err)
	}
	if err := r.store.SetWithTTL(ctx, statestore.WorkerHealthKey(hb.WorkerID), raw, statestore.HeartbeatTTL); err != nil {
		return fmt.Errorf("publish heartbeat for %s: %w", hb.WorkerID, err)
	}

	if r.history != nil {
		go func(hb Heartbeat) {
			hctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
			defer cancel()
			if err := r.history.RecordHeartbeat(hctx, hb); err != nil {
				r.log.Warn(hctx, "heartbeat history write failed",
					zap.String("worker_id", hb.WorkerID),
					zap.Error(err),
				)
			}
		}(hb)
	}
	return nil
}

// GetAllWorkerHealth enumerates all live heartbeats sorted by worker ID.
// With zero live records it synthesizes one offline placeholder per
// configured worker slot so callers always see the full fleet shape.
func (r *Registry) GetAllWorkerHealth(ctx context.Context) ([]Heartbeat, error) {
	keys, err := r.store.Keys(ctx, statestore.WorkerHealthPrefix())
	if err != nil {
		return nil, fmt.Errorf("scan heartbeats: %w", err)
	}

	records := make([]Heartbeat, 0, len(keys))
	for _, key := range keys {
		raw, ok, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("read heartbeat %s: %w", key, err)
		}
		if !ok {
			// Expired between scan and read.
			continue
		}
		var hb Heartbeat
		if err := json.Unmarshal(raw, &hb); err != nil {
			r.log.Warn(ctx, "discarding malformed heartbeat record", zap.String("key", key), zap.Error(err))
			continue
		}
		records = append(records, hb)
	}

	if len(records) == 0 {
		for i := 1; i <= r.configured; i++ {
			records = append(records, Heartbeat{
				WorkerID: fmt.Sprintf("worker-%d", i),
				Status:   StatusOffline,
			})
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].WorkerID < records[j].WorkerID
	})
	return records, nil
}

// GetConfiguredWorkerCount prefers the count of currently-healthy live
// workers; it falls back to the static configured default only when zero
// workers are reporting.
func (r *Registry) GetConfiguredWorkerCount(ctx context.Context) (int, error) {
	keys, err := r.store.Keys(ctx, statestore.WorkerHealthPrefix())
	if err != nil {
		return 0, fmt.Errorf("scan heartbeats: %w", err)
	}
	if len(keys) == 0 {
		return r.configured, nil
	}

	healthy := 0
	for _, key := range keys {
		raw, ok, err := r.store.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		var hb Heartbeat
		if err := json.Unmarshal(raw, &hb); err != nil {
			continue
		}
		if hb.Status == StatusHealthy {
			healthy++
		}
	}
	return healthy, nil
}

// Summarize derives fleet counts from live records. The registry only ever
// returns non-offline live records (or placeholders), so
// offline = max(0, configured - live).
func (r *Registry) Summarize(records []Heartbeat) Summary {
	var s Summary
	live := 0
	for _, hb := range records {
		switch hb.Status {
		case StatusHealthy:
			s.Healthy++
			live++
		case StatusDegraded:
			s.Degraded++
			live++
		}
	}
	s.Offline = r.configured - live
	if s.Offline < 0 {
		s.Offline = 0
	}
	return s
}
