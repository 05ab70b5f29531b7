package selfheal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/health"
	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/notify"
)

// HealthSnapshot is the snapshot type flowing through the workflow.
type HealthSnapshot = health.Snapshot

// sa provides method references for ExecuteActivity; never dereferenced.
var sa *Activities

// Checker produces health snapshots.
type Checker interface {
	Check(ctx context.Context) *health.Snapshot
}

// HistoryPruner removes audit rows older than the retention window.
type HistoryPruner interface {
	PruneStale(ctx context.Context, retentionDays int) (int64, error)
}

const (
	defaultRetentionDays   = 30
	defaultWorkspaceMaxAge = 7 * 24 * time.Hour
)

// Activities holds the self-heal activity dependencies.
type Activities struct {
	checker         Checker
	notifier        notify.Notifier
	history         HistoryPruner // nil disables record cleanup
	workspaceRoot   string        // empty disables workspace pruning
	workspaceMaxAge time.Duration
	retentionDays   int
	log             *logging.Logger
}

// ActivityDeps bundles the constructor arguments for Activities.
type ActivityDeps struct {
	Checker         Checker
	Notifier        notify.Notifier
	History         HistoryPruner
	WorkspaceRoot   string
	WorkspaceMaxAge time.Duration
	RetentionDays   int
	Log             *logging.Logger
}

// NewActivities wires the self-heal activity set.
func NewActivities(deps ActivityDeps) *Activities {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Log == nil {
		deps.Log = logging.NewNop()
	}
	if deps.RetentionDays <= 0 {
		deps.RetentionDays = defaultRetentionDays
	}
	if deps.WorkspaceMaxAge <= 0 {
		deps.WorkspaceMaxAge = defaultWorkspaceMaxAge
	}
	return &Activities{
		checker:         deps.Checker,
		notifier:        deps.Notifier,
		history:         deps.History,
		workspaceRoot:   deps.WorkspaceRoot,
		workspaceMaxAge: deps.WorkspaceMaxAge,
		retentionDays:   deps.RetentionDays,
		log:             deps.Log.Named("selfheal"),
	}
}

// RunHealthCheck produces one health snapshot.
func (a *Activities) RunHealthCheck(ctx context.Context) (*HealthSnapshot, error) {
	snap := a.checker.Check(ctx)
	a.log.Info(ctx, "health check",
		zap.String("overall", string(snap.Overall)),
		zap.Int("open_runs", snap.OpenRuns),
		zap.Int("stuck_runs", snap.StuckRuns),
		zap.Bool("paused", snap.Paused),
	)
	return snap, nil
}

// NotifyOperators reports an unhealthy snapshot: critical at high
// priority, degraded at normal. Delivery is fire-and-forget.
func (a *Activities) NotifyOperators(ctx context.Context, snap HealthSnapshot) error {
	var body strings.Builder
	fmt.Fprintf(&body, "System health is %s as of %s.\n", snap.Overall, snap.CheckedAt.Format(time.RFC3339))
	for _, dep := range snap.Dependencies {
		fmt.Fprintf(&body, "- %s: %s", dep.Name, dep.Status)
		if dep.Detail != "" {
			fmt.Fprintf(&body, " (%s)", dep.Detail)
		}
		body.WriteString("\n")
	}
	for _, action := range snap.ActionsTaken {
		fmt.Fprintf(&body, "* %s\n", action)
	}

	priority := notify.PriorityNormal
	if snap.Escalate || snap.Overall == health.StatusCritical {
		priority = notify.PriorityHigh
	}
	a.notifier.Send(ctx, notify.Notification{
		Subject:  fmt.Sprintf("swarm health %s", snap.Overall),
		Body:     body.String(),
		Priority: priority,
	})
	return nil
}

// CleanupStaleRecords prunes heartbeat history past the retention window.
func (a *Activities) CleanupStaleRecords(ctx context.Context) (int64, error) {
	if a.history == nil {
		return 0, nil
	}
	pruned, err := a.history.PruneStale(ctx, a.retentionDays)
	if err != nil {
		return 0, fmt.Errorf("prune heartbeat history: %w", err)
	}
	if pruned > 0 {
		a.log.Info(ctx, "stale heartbeat records pruned", zap.Int64("rows", pruned))
	}
	return pruned, nil
}

// PruneWorkspaces removes task workspace directories untouched for longer
// than the max age. Only direct children of the workspace root are
// considered; anything else under the root is left alone.
func (a *Activities) PruneWorkspaces(ctx context.Context) (int, error) {
	if a.workspaceRoot == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(a.workspaceRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read workspace root: %w", err)
	}

	cutoff := time.Now().Add(-a.workspaceMaxAge)
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(a.workspaceRoot, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			a.log.Warn(ctx, "workspace removal failed",
				zap.String("path", path),
				zap.Error(err),
			)
			continue
		}
		removed++
	}
	if removed > 0 {
		a.log.Info(ctx, "stale workspaces pruned", zap.Int("count", removed))
	}
	return removed, nil
}
