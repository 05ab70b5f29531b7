package devtask

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/statestore"
)

// loopDepth is the chain depth at which remediation stops. Two prior fix
// attempts for the same original task means the fixes themselves are the
// problem.
const loopDepth = 2

// CheckFixLoop reads the fix-chain depth for the original task without
// incrementing it. It is deliberately read-only: the counter only moves
// when a fix run is actually spawned.
func (a *Activities) CheckFixLoop(ctx context.Context, in CheckFixLoopInput) (*LoopCheck, error) {
	depth, _, err := a.store.GetInt(ctx, statestore.FixChainKey(in.OriginalTaskID))
	if err != nil {
		return nil, fmt.Errorf("read fix chain %s: %w", in.OriginalTaskID, err)
	}
	check := &LoopCheck{Depth: depth, IsLoop: depth >= loopDepth}
	if check.IsLoop {
		a.log.Warn(ctx, "fix loop detected",
			zap.String("original_task_id", in.OriginalTaskID),
			zap.Int64("depth", depth),
		)
	}
	return check, nil
}

// CreateFixTask atomically claims the next chain depth and spawns a fix
// run for it. The increment-then-spawn order makes concurrent release
// failures claim distinct depths; a spawn that then fails leaves a gap in
// the chain, which is harmless.
func (a *Activities) CreateFixTask(ctx context.Context, in CreateFixTaskInput) (*FixSpawn, error) {
	ctx = logging.WithTaskID(ctx, in.OriginalTaskID)

	depth, err := a.store.IncrWithTTL(ctx, statestore.FixChainKey(in.OriginalTaskID), statestore.FixChainTTL)
	if err != nil {
		return nil, fmt.Errorf("increment fix chain %s: %w", in.OriginalTaskID, err)
	}

	fixTask := Task{
		ID:    fmt.Sprintf("%s-fix-%d", in.OriginalTaskID, depth),
		Title: "Fix: " + in.Title,
		Context: fmt.Sprintf(
			"Automated fix attempt %d for task %s.\n\nRelease failure:\n%s",
			depth, in.OriginalTaskID, in.Error,
		),
		AcceptanceCriteria: []string{"The release failure described above no longer occurs"},
		CreatedAt:          time.Now().UTC(),
	}
	if in.CommitSHA != "" {
		fixTask.Context += fmt.Sprintf("\n\nReverted commit: %s", in.CommitSHA)
	}

	runID, err := a.starter.StartRun(ctx, FixWorkflowID(in.OriginalTaskID, depth), TaskInput{
		Task:           fixTask,
		TargetBranch:   in.TargetBranch,
		SkipApproval:   true, // fix attempts never wait on a human
		IsFixAttempt:   true,
		OriginalTaskID: in.OriginalTaskID,
	})
	if err != nil {
		return nil, fmt.Errorf("start fix run at depth %d: %w", depth, err)
	}

	a.log.Info(ctx, "fix task spawned",
		zap.String("fix_task_id", fixTask.ID),
		zap.String("run_id", runID),
		zap.Int64("depth", depth),
	)
	a.metrics.fixSpawned(ctx)
	return &FixSpawn{RunID: runID, Depth: depth}, nil
}

// temporalStarter starts fix runs on the shared task queue.
type temporalStarter struct {
	c         client.Client
	taskQueue string
}

// NewTemporalStarter adapts a Temporal client into a RunStarter.
func NewTemporalStarter(c client.Client, taskQueue string) RunStarter {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	return &temporalStarter{c: c, taskQueue: taskQueue}
}

func (s *temporalStarter) StartRun(ctx context.Context, workflowID string, input TaskInput) (string, error) {
	run, err := s.c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: s.taskQueue,
	}, TaskDevelopmentWorkflow, input)
	if err != nil {
		return "", err
	}
	return run.GetRunID(), nil
}
