package devtask

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/swarmd/internal/notify"
)

func testTask() Task {
	return Task{
		ID:                 "tsk-42",
		Title:              "Add retry budget to uploader",
		Context:            "Uploads fail permanently on transient 503s.",
		AcceptanceCriteria: []string{"uploads survive a single 503"},
		CreatedAt:          time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(TaskDevelopmentWorkflow)
	return env
}

// mockHappyStages wires plan through verify to succeed.
func mockHappyStages(env *testsuite.TestWorkflowEnvironment) {
	env.OnActivity(a.GeneratePlan, mock.Anything, mock.Anything).
		Return(&PlanResult{Raw: "plan text", Plan: []byte(`{"steps":[]}`), Ready: true}, nil)
	env.OnActivity(a.ImplementTask, mock.Anything, mock.Anything).
		Return(&ImplementResult{BranchName: "swarm/tsk-42", CommitSHA: "abc123"}, nil)
	env.OnActivity(a.ReviewChanges, mock.Anything, mock.Anything).
		Return(&ReviewResult{Approved: true, PRNumber: 7, PRURL: "https://github.com/acme/app/pull/7"}, nil)
	env.OnActivity(a.DeployChanges, mock.Anything, mock.Anything).
		Return(&DeployResult{MergeCommitSHA: "def456", DeployURL: "https://app.acme.dev"}, nil)
	env.OnActivity(a.VerifyDeployment, mock.Anything, mock.Anything).
		Return(&VerifyResult{Passed: true}, nil)
}

func getResult(t *testing.T, env *testsuite.TestWorkflowEnvironment) TaskResult {
	t.Helper()
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	return result
}

func TestWorkflowHappyPath(t *testing.T) {
	env := newEnv(t)
	mockHappyStages(env)

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{Task: testTask(), SkipApproval: true})

	result := getResult(t, env)
	assert.Equal(t, StageCompleted, result.Status)
	assert.Equal(t, []Stage{
		StagePlanning, StageImplementing, StageReviewing,
		StageDeploying, StageVerifying, StageCompleted,
	}, result.StagesVisited)
	assert.Equal(t, "swarm/tsk-42", result.BranchName)
	assert.Equal(t, "def456", result.CommitSHA, "merge commit replaces the branch commit")
	assert.Equal(t, "https://github.com/acme/app/pull/7", result.PRURL)
	assert.Empty(t, result.Errors)
	env.AssertNotCalled(t, "RollbackCommit", mock.Anything, mock.Anything)
	env.AssertNotCalled(t, "CreateFixTask", mock.Anything, mock.Anything)
}

func TestWorkflowWaitsForApproval(t *testing.T) {
	env := newEnv(t)
	mockHappyStages(env)

	// While the gate is open the run must sit in AwaitingApproval and make
	// no further progress.
	env.RegisterDelayedCallback(func() {
		v, err := env.QueryWorkflow(QueryCurrentStage)
		require.NoError(t, err)
		var stage Stage
		require.NoError(t, v.Get(&stage))
		assert.Equal(t, StageAwaitingApproval, stage)
		env.AssertNotCalled(t, "ImplementTask", mock.Anything, mock.Anything)

		env.SignalWorkflow(SignalApprove, "lgtm")
	}, 48*time.Hour)

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{Task: testTask()})

	result := getResult(t, env)
	assert.Equal(t, StageCompleted, result.Status)
	assert.Contains(t, result.StagesVisited, StageAwaitingApproval)
}

func TestWorkflowCancelDuringApproval(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.GeneratePlan, mock.Anything, mock.Anything).
		Return(&PlanResult{Raw: "plan"}, nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, "operator cancelled")
	}, time.Hour)

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{Task: testTask()})

	result := getResult(t, env)
	assert.Equal(t, StageCancelled, result.Status)
	env.AssertNotCalled(t, "ImplementTask", mock.Anything, mock.Anything)
}

func TestWorkflowCancelObservedAtStageBoundary(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.GeneratePlan, mock.Anything, mock.Anything).
		Return(&PlanResult{Raw: "plan"}, nil)
	// Implementation is mid-flight when the cancel arrives; it must finish
	// before the signal is observed.
	env.OnActivity(a.ImplementTask, mock.Anything, mock.Anything).
		Return(&ImplementResult{BranchName: "swarm/tsk-42", CommitSHA: "abc123"}, nil).
		After(10 * time.Minute)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCancel, "stop")
	}, time.Minute)

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{Task: testTask(), SkipApproval: true})

	result := getResult(t, env)
	assert.Equal(t, StageCancelled, result.Status)
	assert.Equal(t, "abc123", result.CommitSHA, "in-flight stage ran to completion")
	env.AssertNotCalled(t, "ReviewChanges", mock.Anything, mock.Anything)
}

func TestWorkflowFixAttemptSkipsApprovalGate(t *testing.T) {
	env := newEnv(t)
	mockHappyStages(env)

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{
		Task:           testTask(),
		IsFixAttempt:   true,
		OriginalTaskID: "tsk-1",
	})

	result := getResult(t, env)
	assert.Equal(t, StageCompleted, result.Status)
	assert.NotContains(t, result.StagesVisited, StageAwaitingApproval)
}

func TestWorkflowReviewRejectionFailsWithoutRollback(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.GeneratePlan, mock.Anything, mock.Anything).
		Return(&PlanResult{Raw: "plan"}, nil)
	env.OnActivity(a.ImplementTask, mock.Anything, mock.Anything).
		Return(&ImplementResult{BranchName: "b", CommitSHA: "abc"}, nil)
	env.OnActivity(a.ReviewChanges, mock.Anything, mock.Anything).
		Return(&ReviewResult{Approved: false, PRURL: "https://github.com/acme/app/pull/8", Feedback: "tests missing"}, nil)

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{Task: testTask(), SkipApproval: true})

	result := getResult(t, env)
	assert.Equal(t, StageFailed, result.Status)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "tests missing")
	// Nothing merged, so the release-failure machinery must stay out of it.
	env.AssertNotCalled(t, "CheckFixLoop", mock.Anything, mock.Anything)
	env.AssertNotCalled(t, "RollbackCommit", mock.Anything, mock.Anything)
}

func TestWorkflowVerifyFailureRollsBackAndSpawnsFix(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.GeneratePlan, mock.Anything, mock.Anything).
		Return(&PlanResult{Raw: "plan"}, nil)
	env.OnActivity(a.ImplementTask, mock.Anything, mock.Anything).
		Return(&ImplementResult{BranchName: "b", CommitSHA: "abc"}, nil)
	env.OnActivity(a.ReviewChanges, mock.Anything, mock.Anything).
		Return(&ReviewResult{Approved: true, PRNumber: 9, PRURL: "https://github.com/acme/app/pull/9"}, nil)
	env.OnActivity(a.DeployChanges, mock.Anything, mock.Anything).
		Return(&DeployResult{MergeCommitSHA: "def456", DeployURL: "https://app.acme.dev"}, nil)
	env.OnActivity(a.VerifyDeployment, mock.Anything, mock.Anything).
		Return(nil, errors.New("verification failed: smoke test timed out"))

	env.OnActivity(a.CheckFixLoop, mock.Anything, CheckFixLoopInput{OriginalTaskID: "tsk-42"}).
		Return(&LoopCheck{Depth: 0}, nil)
	env.OnActivity(a.RollbackCommit, mock.Anything, mock.MatchedBy(func(in RollbackInput) bool {
		return in.CommitSHA == "def456"
	})).Return(&RollbackOutcome{Success: true, Branch: "main", RevertedSHA: "def456"}, nil)
	env.OnActivity(a.CreateFixTask, mock.Anything, mock.Anything).
		Return(&FixSpawn{RunID: "run-1", Depth: 1}, nil)

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{Task: testTask(), SkipApproval: true})

	result := getResult(t, env)
	assert.Equal(t, StageFixCreated, result.Status)
	assert.Equal(t, "run-1", result.FixRunID)
	assert.Equal(t, int64(1), result.FixDepth)
	env.AssertExpectations(t)
}

func TestWorkflowLoopDetectionRefusesFix(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.GeneratePlan, mock.Anything, mock.Anything).
		Return(&PlanResult{Raw: "plan"}, nil)
	env.OnActivity(a.ImplementTask, mock.Anything, mock.Anything).
		Return(&ImplementResult{BranchName: "b", CommitSHA: "abc"}, nil)
	env.OnActivity(a.ReviewChanges, mock.Anything, mock.Anything).
		Return(&ReviewResult{Approved: true, PRURL: "https://gitlab.com/acme/app/-/merge_requests/3"}, nil)
	env.OnActivity(a.DeployChanges, mock.Anything, mock.Anything).
		Return(&DeployResult{MergeCommitSHA: "def456", DeployURL: "https://app.acme.dev"}, nil)
	env.OnActivity(a.VerifyDeployment, mock.Anything, mock.Anything).
		Return(nil, errors.New("verification failed: still broken"))

	// Fix runs share the original task's chain. Two prior attempts means
	// this failure must not spawn a third.
	env.OnActivity(a.CheckFixLoop, mock.Anything, CheckFixLoopInput{OriginalTaskID: "tsk-1"}).
		Return(&LoopCheck{Depth: 2, IsLoop: true}, nil)
	env.OnActivity(a.RollbackCommit, mock.Anything, mock.Anything).
		Return(&RollbackOutcome{Success: true, RevertedSHA: "def456"}, nil)

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{
		Task:           testTask(),
		IsFixAttempt:   true,
		OriginalTaskID: "tsk-1",
	})

	result := getResult(t, env)
	assert.Equal(t, StageFailed, result.Status)
	env.AssertNotCalled(t, "CreateFixTask", mock.Anything, mock.Anything)
	env.AssertCalled(t, "RollbackCommit", mock.Anything, mock.Anything)
}

func TestWorkflowDeployFailureSkipsRollback(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.GeneratePlan, mock.Anything, mock.Anything).
		Return(&PlanResult{Raw: "plan"}, nil)
	env.OnActivity(a.ImplementTask, mock.Anything, mock.Anything).
		Return(&ImplementResult{BranchName: "b", CommitSHA: "abc"}, nil)
	env.OnActivity(a.ReviewChanges, mock.Anything, mock.Anything).
		Return(&ReviewResult{Approved: true, PRURL: "https://github.com/acme/app/pull/11"}, nil)
	env.OnActivity(a.DeployChanges, mock.Anything, mock.Anything).
		Return(nil, errors.New("merge pull request 11: 409 conflict"))
	env.OnActivity(a.CheckFixLoop, mock.Anything, mock.Anything).
		Return(&LoopCheck{Depth: 0}, nil)
	env.OnActivity(a.CreateFixTask, mock.Anything, mock.Anything).
		Return(&FixSpawn{RunID: "run-2", Depth: 1}, nil)

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{Task: testTask(), SkipApproval: true})

	result := getResult(t, env)
	assert.Equal(t, StageFixCreated, result.Status)
	// No merge commit ever landed, so there is nothing to revert.
	env.AssertNotCalled(t, "RollbackCommit", mock.Anything, mock.Anything)
}

func TestWorkflowFixSpawnFailureWithRollbackIsCompletedWithErrors(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.GeneratePlan, mock.Anything, mock.Anything).
		Return(&PlanResult{Raw: "plan"}, nil)
	env.OnActivity(a.ImplementTask, mock.Anything, mock.Anything).
		Return(&ImplementResult{BranchName: "b", CommitSHA: "abc"}, nil)
	env.OnActivity(a.ReviewChanges, mock.Anything, mock.Anything).
		Return(&ReviewResult{Approved: true, PRURL: "https://github.com/acme/app/pull/12"}, nil)
	env.OnActivity(a.DeployChanges, mock.Anything, mock.Anything).
		Return(&DeployResult{MergeCommitSHA: "def456", DeployURL: "https://app.acme.dev"}, nil)
	env.OnActivity(a.VerifyDeployment, mock.Anything, mock.Anything).
		Return(nil, errors.New("verification failed"))
	env.OnActivity(a.CheckFixLoop, mock.Anything, mock.Anything).
		Return(&LoopCheck{Depth: 0}, nil)
	env.OnActivity(a.RollbackCommit, mock.Anything, mock.Anything).
		Return(&RollbackOutcome{Success: true, RevertedSHA: "def456"}, nil)
	env.OnActivity(a.CreateFixTask, mock.Anything, mock.Anything).
		Return(nil, errors.New("start fix run at depth 1: namespace unavailable"))

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{Task: testTask(), SkipApproval: true})

	result := getResult(t, env)
	assert.Equal(t, StageCompletedWithErrors, result.Status)
}

func TestWorkflowFixSpawnFailureWithoutRollbackIsFailed(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.GeneratePlan, mock.Anything, mock.Anything).
		Return(&PlanResult{Raw: "plan"}, nil)
	env.OnActivity(a.ImplementTask, mock.Anything, mock.Anything).
		Return(&ImplementResult{BranchName: "b", CommitSHA: "abc"}, nil)
	env.OnActivity(a.ReviewChanges, mock.Anything, mock.Anything).
		Return(&ReviewResult{Approved: true, PRURL: "https://github.com/acme/app/pull/13"}, nil)
	env.OnActivity(a.DeployChanges, mock.Anything, mock.Anything).
		Return(&DeployResult{MergeCommitSHA: "def456", DeployURL: "https://app.acme.dev"}, nil)
	env.OnActivity(a.VerifyDeployment, mock.Anything, mock.Anything).
		Return(nil, errors.New("verification failed"))
	env.OnActivity(a.CheckFixLoop, mock.Anything, mock.Anything).
		Return(&LoopCheck{Depth: 0}, nil)
	env.OnActivity(a.RollbackCommit, mock.Anything, mock.Anything).
		Return(&RollbackOutcome{Success: false, FailedStep: "push", Message: "remote rejected"}, nil)
	env.OnActivity(a.CreateFixTask, mock.Anything, mock.Anything).
		Return(nil, errors.New("namespace unavailable"))

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{Task: testTask(), SkipApproval: true})

	result := getResult(t, env)
	assert.Equal(t, StageFailed, result.Status)
}

func TestWorkflowNotifiesOnTerminalStatus(t *testing.T) {
	env := newEnv(t)
	env.OnActivity(a.GeneratePlan, mock.Anything, mock.Anything).
		Return(nil, errors.New("planner offline"))
	env.OnActivity(a.SendNotification, mock.Anything, mock.MatchedBy(func(n notify.Notification) bool {
		return n.Priority == notify.PriorityHigh
	})).Return(nil)

	env.ExecuteWorkflow(TaskDevelopmentWorkflow, TaskInput{
		Task:         testTask(),
		SkipApproval: true,
		NotifyOnDone: true,
	})

	result := getResult(t, env)
	assert.Equal(t, StageFailed, result.Status)
	env.AssertExpectations(t)
}
