package devtask

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/swarmd/internal/notify"
)

// a is never dereferenced; it only provides method references for
// ExecuteActivity so activity names stay in sync with the registration.
var a *Activities

const (
	defaultTargetBranch = "main"

	// stageTimeout bounds one agent-driven stage attempt. Agents heartbeat
	// while working, so a silent hang is cut off by the heartbeat timeout
	// well before this.
	stageTimeout          = 30 * time.Minute
	stageHeartbeatTimeout = 5 * time.Minute

	// controlTimeout bounds the bookkeeping activities (loop check, fix
	// spawn, rollback, notify).
	controlTimeout = 5 * time.Minute
)

func stageOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: stageTimeout,
		HeartbeatTimeout:    stageHeartbeatTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	})
}

func controlOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: controlTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
}

// TaskDevelopmentWorkflow drives one task through planning, an optional
// human approval gate, implementation, review, deploy, and verification.
// Stage transitions only happen here; every external effect lives in an
// activity. Cancellation is cooperative: the cancel signal is observed at
// stage boundaries and while awaiting approval, never mid-activity.
func TaskDevelopmentWorkflow(ctx workflow.Context, input TaskInput) (*TaskResult, error) {
	logger := workflow.GetLogger(ctx)
	if input.TargetBranch == "" {
		input.TargetBranch = defaultTargetBranch
	}

	result := &TaskResult{
		TaskID:    input.Task.ID,
		StartedAt: workflow.Now(ctx).UTC(),
	}

	stage := StagePlanning
	enter := func(s Stage) {
		stage = s
		result.StagesVisited = append(result.StagesVisited, s)
		logger.Info("stage entered", "stage", string(s), "task_id", input.Task.ID)
	}

	if err := workflow.SetQueryHandler(ctx, QueryCurrentStage, func() (Stage, error) {
		return stage, nil
	}); err != nil {
		return nil, err
	}

	approveCh := workflow.GetSignalChannel(ctx, SignalApprove)
	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)

	// cancelRequested drains any buffered cancel signals. Checked at stage
	// boundaries so an in-flight stage always runs to completion first.
	cancelRequested := func() bool {
		var payload string
		requested := false
		for cancelCh.ReceiveAsync(&payload) {
			requested = true
		}
		return requested
	}

	finish := func(s Stage, pri notify.Priority) (*TaskResult, error) {
		enter(s)
		result.Status = s
		result.FinishedAt = workflow.Now(ctx).UTC()
		if input.NotifyOnDone {
			// Best effort; a notification failure never changes the outcome.
			_ = workflow.ExecuteActivity(controlOptions(ctx), a.SendNotification, notify.Notification{
				Subject:  fmt.Sprintf("task %s: %s", input.Task.ID, s),
				Body:     fmt.Sprintf("%q finished with status %s", input.Task.Title, s),
				Priority: pri,
			}).Get(ctx, nil)
		}
		logger.Info("task run finished", "status", string(s))
		return result, nil
	}

	fail := func(stageName string, cause error) (*TaskResult, error) {
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", stageName, cause))
		return finish(StageFailed, notify.PriorityHigh)
	}

	// Planning.
	enter(StagePlanning)
	var plan PlanResult
	if err := workflow.ExecuteActivity(stageOptions(ctx), a.GeneratePlan,
		GeneratePlanInput{Task: input.Task}).Get(ctx, &plan); err != nil {
		return fail("plan", err)
	}
	result.Plan = plan.Plan
	if cancelRequested() {
		return finish(StageCancelled, notify.PriorityNormal)
	}

	// Approval gate. Fix attempts never wait on a human.
	if !input.SkipApproval && !input.IsFixAttempt {
		enter(StageAwaitingApproval)
		approved := false
		sel := workflow.NewSelector(ctx)
		sel.AddReceive(approveCh, func(c workflow.ReceiveChannel, _ bool) {
			var payload string
			c.Receive(ctx, &payload)
			approved = true
		})
		sel.AddReceive(cancelCh, func(c workflow.ReceiveChannel, _ bool) {
			var payload string
			c.Receive(ctx, &payload)
		})
		// No deadline: the run waits durably until an operator decides.
		sel.Select(ctx)
		if !approved {
			return finish(StageCancelled, notify.PriorityNormal)
		}
	}

	// Implementation.
	enter(StageImplementing)
	var impl ImplementResult
	if err := workflow.ExecuteActivity(stageOptions(ctx), a.ImplementTask,
		ImplementInput{Task: input.Task, Plan: result.Plan}).Get(ctx, &impl); err != nil {
		return fail("implement", err)
	}
	result.BranchName = impl.BranchName
	result.CommitSHA = impl.CommitSHA
	if cancelRequested() {
		return finish(StageCancelled, notify.PriorityNormal)
	}

	// Review. Nothing has merged yet, so a rejection or error here fails
	// the run without engaging rollback or the fix chain.
	enter(StageReviewing)
	var review ReviewResult
	if err := workflow.ExecuteActivity(stageOptions(ctx), a.ReviewChanges, ReviewInput{
		Task:         input.Task,
		BranchName:   impl.BranchName,
		TargetBranch: input.TargetBranch,
	}).Get(ctx, &review); err != nil {
		return fail("review", err)
	}
	result.PRURL = review.PRURL
	if !review.Approved {
		return fail("review", fmt.Errorf("changes rejected: %s", review.Feedback))
	}
	if cancelRequested() {
		return finish(StageCancelled, notify.PriorityNormal)
	}

	// Deploy. From here on failures engage the release-failure path.
	enter(StageDeploying)
	var deploy DeployResult
	if err := workflow.ExecuteActivity(stageOptions(ctx), a.DeployChanges,
		DeployInput{Task: input.Task, PRURL: review.PRURL}).Get(ctx, &deploy); err != nil {
		// The merge commit never made it back, so there is no known sha on
		// the target branch to revert.
		return releaseFailure(ctx, input, result, finish, "deploy", err, "")
	}
	result.CommitSHA = deploy.MergeCommitSHA
	result.DeployURL = deploy.DeployURL

	// Verify.
	enter(StageVerifying)
	if err := workflow.ExecuteActivity(stageOptions(ctx), a.VerifyDeployment, VerifyInput{
		DeployURL:          deploy.DeployURL,
		AcceptanceCriteria: input.Task.AcceptanceCriteria,
	}).Get(ctx, nil); err != nil {
		return releaseFailure(ctx, input, result, finish, "verify", err, deploy.MergeCommitSHA)
	}

	return finish(StageCompleted, notify.PriorityNormal)
}

// releaseFailure handles a deploy- or verify-stage failure: check the fix
// chain for a remediation loop, revert the bad commit when there is one,
// and spawn a bounded fix run. The terminal status encodes what worked:
//
//	FixCreated          fix run spawned (rollback outcome rides along)
//	Failed              loop detected, or nothing was cleaned up
//	CompletedWithErrors no fix spawned but the rollback landed
func releaseFailure(
	ctx workflow.Context,
	input TaskInput,
	result *TaskResult,
	finish func(Stage, notify.Priority) (*TaskResult, error),
	stageName string,
	cause error,
	revertSHA string,
) (*TaskResult, error) {
	logger := workflow.GetLogger(ctx)
	result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", stageName, cause))
	ctl := controlOptions(ctx)
	chainID := input.chainID()

	var loop LoopCheck
	loopKnown := true
	if err := workflow.ExecuteActivity(ctl, a.CheckFixLoop,
		CheckFixLoopInput{OriginalTaskID: chainID}).Get(ctx, &loop); err != nil {
		// Chain state unreadable: do not risk an unbounded spawn.
		loopKnown = false
		result.Errors = append(result.Errors, fmt.Sprintf("fix loop check: %v", err))
		logger.Warn("fix chain unreadable, skipping fix spawn", "error", err)
	}

	rolledBack := false
	if revertSHA != "" {
		var rb RollbackOutcome
		if err := workflow.ExecuteActivity(ctl, a.RollbackCommit, RollbackInput{
			CommitSHA: revertSHA,
			Reason:    fmt.Sprintf("%s failed for task %s", stageName, input.Task.ID),
		}).Get(ctx, &rb); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("rollback: %v", err))
		} else if rb.Success {
			rolledBack = true
		} else {
			result.Errors = append(result.Errors, fmt.Sprintf("rollback %s: %s", rb.FailedStep, rb.Message))
		}
	}

	if loopKnown && loop.IsLoop {
		result.Errors = append(result.Errors,
			fmt.Sprintf("fix loop: %d prior fix attempts for %s, refusing to spawn another", loop.Depth, chainID))
		return finish(StageFailed, notify.PriorityHigh)
	}

	if loopKnown {
		var fix FixSpawn
		err := workflow.ExecuteActivity(ctl, a.CreateFixTask, CreateFixTaskInput{
			OriginalTaskID: chainID,
			Title:          input.Task.Title,
			Error:          fmt.Sprintf("%s: %v", stageName, cause),
			CommitSHA:      revertSHA,
			TargetBranch:   input.TargetBranch,
		}).Get(ctx, &fix)
		if err == nil {
			result.FixRunID = fix.RunID
			result.FixDepth = fix.Depth
			return finish(StageFixCreated, notify.PriorityHigh)
		}
		result.Errors = append(result.Errors, fmt.Sprintf("spawn fix task: %v", err))
	}

	if rolledBack {
		return finish(StageCompletedWithErrors, notify.PriorityHigh)
	}
	return finish(StageFailed, notify.PriorityHigh)
}
