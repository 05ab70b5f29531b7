// Package health produces point-in-time system health snapshots for the
// self-heal loop. Each dependency is probed in isolation: one failing probe
// never aborts the snapshot, and only the durable-execution engine being
// unreachable escalates to critical.
package health

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/statestore"
)

// DependencyStatus of one probed dependency.
type DependencyStatus string

const (
	DepOK       DependencyStatus = "ok"
	DepDegraded DependencyStatus = "degraded"
	DepDown     DependencyStatus = "down"
)

// OverallStatus of the system.
type OverallStatus string

const (
	StatusHealthy  OverallStatus = "healthy"
	StatusDegraded OverallStatus = "degraded"
	StatusCritical OverallStatus = "critical"
)

// Dependency is one probed subsystem in a snapshot.
type Dependency struct {
	Name    string           `json:"name"`
	Status  DependencyStatus `json:"status"`
	Detail  string           `json:"detail,omitempty"`
	Latency time.Duration    `json:"latency,omitempty"`
}

// Snapshot is produced fresh on every Check call and never persisted; only
// its side effects (notifications) are durable.
type Snapshot struct {
	Overall      OverallStatus `json:"overall"`
	Dependencies []Dependency  `json:"dependencies"`
	ActionsTaken []string      `json:"actions_taken"`
	Escalate     bool          `json:"escalate"`
	Paused       bool          `json:"paused"`
	OpenRuns     int           `json:"open_runs"`
	StuckRuns    int           `json:"stuck_runs"`
	CheckedAt    time.Time     `json:"checked_at"`
}

// EngineProbe checks the durable-execution engine and reports how many run
// instances are open and how many look stuck.
type EngineProbe interface {
	Probe(ctx context.Context) (open, stuck int, err error)
}

const (
	cacheLatencyBudget = 250 * time.Millisecond
	cliProbeTimeout    = 10 * time.Second
)

// Supervisor assembles health snapshots.
type Supervisor struct {
	store      statestore.Store
	engine     EngineProbe
	cliCommand string // optional external CLI health probe, empty disables
	log        *logging.Logger
}

// NewSupervisor creates a Supervisor. cliCommand may be empty.
func NewSupervisor(store statestore.Store, engine EngineProbe, cliCommand string, log *logging.Logger) *Supervisor {
	if log == nil {
		log = logging.NewNop()
	}
	return &Supervisor{
		store:      store,
		engine:     engine,
		cliCommand: cliCommand,
		log:        log.Named("health"),
	}
}

// Check produces a fresh snapshot. When the swarm pause flag is set, all
// probes are skipped and the snapshot reports healthy with no side effects.
func (s *Supervisor) Check(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		Overall:   StatusHealthy,
		CheckedAt: time.Now().UTC(),
	}

	paused, err := statestore.IsPaused(ctx, s.store)
	if err != nil {
		s.log.Warn(ctx, "pause flag check failed", zap.Error(err))
	}
	if paused {
		snap.Paused = true
		snap.ActionsTaken = append(snap.ActionsTaken, "health checks skipped: swarm is paused")
		return snap
	}

	s.probeEngine(ctx, snap)
	s.probeCache(ctx, snap)
	s.probeCLI(ctx, snap)
	return snap
}

func (s *Supervisor) probeEngine(ctx context.Context, snap *Snapshot) {
	open, stuck, err := s.engine.Probe(ctx)
	if err != nil {
		snap.Dependencies = append(snap.Dependencies, Dependency{
			Name:   "durable-engine",
			Status: DepDown,
			Detail: err.Error(),
		})
		snap.Overall = StatusCritical
		snap.Escalate = true
		snap.ActionsTaken = append(snap.ActionsTaken, "durable-execution engine unreachable, escalating")
		return
	}

	snap.OpenRuns = open
	snap.StuckRuns = stuck
	dep := Dependency{Name: "durable-engine", Status: DepOK, Detail: fmt.Sprintf("%d open runs", open)}
	if stuck > 0 {
		dep.Status = DepDegraded
		dep.Detail = fmt.Sprintf("%d open runs, %d stuck", open, stuck)
		s.degrade(snap, fmt.Sprintf("flagged %d stuck runs for operator review", stuck))
	}
	snap.Dependencies = append(snap.Dependencies, dep)
}

func (s *Supervisor) probeCache(ctx context.Context, snap *Snapshot) {
	latency, err := s.store.Ping(ctx)
	dep := Dependency{Name: "cache", Status: DepOK, Latency: latency}
	switch {
	case err != nil:
		dep.Status = DepDown
		dep.Detail = err.Error()
		s.degrade(snap, "cache unreachable; heartbeats and fix chains unavailable")
	case latency > cacheLatencyBudget:
		dep.Status = DepDegraded
		dep.Detail = fmt.Sprintf("latency %s over budget %s", latency, cacheLatencyBudget)
		s.degrade(snap, "cache latency over budget")
	}
	snap.Dependencies = append(snap.Dependencies, dep)
}

func (s *Supervisor) probeCLI(ctx context.Context, snap *Snapshot) {
	if s.cliCommand == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, cliProbeTimeout)
	defer cancel()

	dep := Dependency{Name: "agent-cli", Status: DepOK}
	if err := exec.CommandContext(ctx, s.cliCommand, "--version").Run(); err != nil {
		dep.Status = DepDegraded
		dep.Detail = err.Error()
		s.degrade(snap, "agent CLI health probe failed")
	}
	snap.Dependencies = append(snap.Dependencies, dep)
}

// degrade lowers overall status without ever overriding critical.
func (s *Supervisor) degrade(snap *Snapshot, action string) {
	if snap.Overall == StatusHealthy {
		snap.Overall = StatusDegraded
	}
	snap.ActionsTaken = append(snap.ActionsTaken, action)
}
