// Package selfheal runs the perpetual monitoring loop: periodic health
// checks, operator escalation, and daily maintenance, restarted via
// continue-as-new so the run's history never grows unbounded.
package selfheal

import (
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/swarmd/internal/health"
)

const (
	// WorkflowID is fixed: exactly one self-heal loop runs per cluster.
	WorkflowID = "swarm-self-heal"

	SignalStopMonitoring = "stopMonitoring"
	QueryCheckpoint      = "checkpoint"

	defaultInterval            = 5 * time.Minute
	defaultMaintenanceInterval = 24 * time.Hour

	// defaultMaxIterations bounds one run's event history; at the default
	// interval this is roughly one day per continue-as-new generation.
	defaultMaxIterations = 288
)

// Checkpoint is the state carried across continue-as-new generations.
type Checkpoint struct {
	IterationCount  int       `json:"iteration_count"`
	LastCleanupTime time.Time `json:"last_cleanup_time"`
}

// Input configures the self-heal loop. Zero values take defaults, so the
// loop can be started with an empty Input.
type Input struct {
	Interval            time.Duration `json:"interval"`
	MaintenanceInterval time.Duration `json:"maintenance_interval"`
	MaxIterationsPerRun int           `json:"max_iterations_per_run"`
	Checkpoint          Checkpoint    `json:"checkpoint"`
}

func activityOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
}

// SelfHealWorkflow checks system health every Interval and runs maintenance
// every MaintenanceInterval, forever. A failing iteration never stops the
// loop; only the stop signal does. After MaxIterationsPerRun iterations the
// run continues as new, carrying the checkpoint forward.
func SelfHealWorkflow(ctx workflow.Context, input Input) error {
	logger := workflow.GetLogger(ctx)
	if input.Interval <= 0 {
		input.Interval = defaultInterval
	}
	if input.MaintenanceInterval <= 0 {
		input.MaintenanceInterval = defaultMaintenanceInterval
	}
	if input.MaxIterationsPerRun <= 0 {
		input.MaxIterationsPerRun = defaultMaxIterations
	}
	if input.Checkpoint.LastCleanupTime.IsZero() {
		// First generation: schedule maintenance one full interval out
		// rather than on the very first iteration.
		input.Checkpoint.LastCleanupTime = workflow.Now(ctx).UTC()
	}

	if err := workflow.SetQueryHandler(ctx, QueryCheckpoint, func() (Checkpoint, error) {
		return input.Checkpoint, nil
	}); err != nil {
		return err
	}

	stopCh := workflow.GetSignalChannel(ctx, SignalStopMonitoring)
	stopped := false
	actCtx := activityOptions(ctx)

	for input.Checkpoint.IterationCount < input.MaxIterationsPerRun {
		var payload string
		for stopCh.ReceiveAsync(&payload) {
			stopped = true
		}
		if stopped {
			break
		}

		var snap HealthSnapshot
		if err := workflow.ExecuteActivity(actCtx, sa.RunHealthCheck).Get(ctx, &snap); err != nil {
			// The next iteration retries from scratch; a broken probe must
			// not kill the loop.
			logger.Warn("health check iteration failed", "error", err)
		} else if snap.Overall != health.StatusHealthy {
			// Critical goes out high priority, degraded normal; the
			// activity picks the priority from the snapshot.
			if err := workflow.ExecuteActivity(actCtx, sa.NotifyOperators, snap).Get(ctx, nil); err != nil {
				logger.Warn("operator notification failed", "error", err)
			}
		}
		input.Checkpoint.IterationCount++

		if workflow.Now(ctx).Sub(input.Checkpoint.LastCleanupTime) >= input.MaintenanceInterval {
			runMaintenance(actCtx, logger)
			input.Checkpoint.LastCleanupTime = workflow.Now(ctx).UTC()
		}

		// Durable sleep, cut short by the stop signal.
		sel := workflow.NewSelector(ctx)
		sel.AddFuture(workflow.NewTimer(ctx, input.Interval), func(workflow.Future) {})
		sel.AddReceive(stopCh, func(c workflow.ReceiveChannel, _ bool) {
			c.Receive(ctx, nil)
			stopped = true
		})
		sel.Select(ctx)
		if stopped {
			break
		}
	}

	if stopped {
		logger.Info("self-heal loop stopped by signal",
			"iterations", input.Checkpoint.IterationCount)
		return nil
	}

	logger.Info("continuing self-heal loop as new run",
		"iterations", input.Checkpoint.IterationCount)
	// Only the maintenance timestamp survives the restart; the iteration
	// counter bounds one generation's history and starts over.
	input.Checkpoint.IterationCount = 0
	return workflow.NewContinueAsNewError(ctx, SelfHealWorkflow, input)
}

// runMaintenance fires the cleanup activities. Each is independent and
// best-effort.
func runMaintenance(ctx workflow.Context, logger log.Logger) {
	var pruned int64
	if err := workflow.ExecuteActivity(ctx, sa.CleanupStaleRecords).Get(ctx, &pruned); err != nil {
		logger.Warn("stale record cleanup failed", "error", err)
	}
	var removed int
	if err := workflow.ExecuteActivity(ctx, sa.PruneWorkspaces).Get(ctx, &removed); err != nil {
		logger.Warn("workspace pruning failed", "error", err)
	}
}
