// Package devtask implements the per-task development orchestrator: a
// durable state machine driving plan, approval, implement, review, deploy,
// and verify stages, with rollback and bounded fix-chain spawning on
// release failures.
package devtask

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/swarmd/internal/gitops"
)

// Task is an immutable unit of work submitted by a client. Downstream
// activities reference it, never mutate it.
type Task struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Context            string    `json:"context"`
	AcceptanceCriteria []string  `json:"acceptance_criteria"`
	CandidateFiles     []string  `json:"candidate_files,omitempty"`
	Priority           string    `json:"priority,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// Stage of an orchestrator run.
type Stage string

const (
	StagePlanning            Stage = "Planning"
	StageAwaitingApproval    Stage = "AwaitingApproval"
	StageImplementing        Stage = "Implementing"
	StageReviewing           Stage = "Reviewing"
	StageDeploying           Stage = "Deploying"
	StageVerifying           Stage = "Verifying"
	StageCompleted           Stage = "Completed"
	StageCompletedWithErrors Stage = "CompletedWithErrors"
	StageFailed              Stage = "Failed"
	StageFixCreated          Stage = "FixCreated"
	StageCancelled           Stage = "Cancelled"
)

// Terminal reports whether the stage ends a run.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageCompletedWithErrors, StageFailed, StageFixCreated, StageCancelled:
		return true
	}
	return false
}

// Signal and query names accepted by a run.
const (
	SignalApprove     = "approve"
	SignalCancel      = "cancel"
	QueryCurrentStage = "currentStage"
)

// TaskQueue is the Temporal task queue all swarmd workflows run on.
const TaskQueue = "swarmd-tasks"

// WorkflowID derives the run id for a task submission.
func WorkflowID(taskID string) string {
	return "task-" + taskID
}

// FixWorkflowID derives the run id for a fix attempt at the given chain
// depth, keeping lineage reconstructable from ids alone.
func FixWorkflowID(originalTaskID string, depth int64) string {
	return fmt.Sprintf("task-%s-fix-%d", originalTaskID, depth)
}

// TaskInput starts one orchestrator run.
type TaskInput struct {
	Task           Task   `json:"task"`
	TargetBranch   string `json:"target_branch,omitempty"` // defaults to main
	SkipApproval   bool   `json:"skip_approval"`
	IsFixAttempt   bool   `json:"is_fix_attempt"`
	OriginalTaskID string `json:"original_task_id,omitempty"`
	NotifyOnDone   bool   `json:"notify_on_done"`
}

// chainID returns the fix-chain key owner: the original task for fix
// attempts, the task itself otherwise.
func (in TaskInput) chainID() string {
	if in.IsFixAttempt && in.OriginalTaskID != "" {
		return in.OriginalTaskID
	}
	return in.Task.ID
}

// TaskResult is the terminal outcome of a run.
type TaskResult struct {
	TaskID        string          `json:"task_id"`
	Status        Stage           `json:"status"`
	StagesVisited []Stage         `json:"stages_visited"`
	Plan          json.RawMessage `json:"plan,omitempty"`
	BranchName    string          `json:"branch_name,omitempty"`
	CommitSHA     string          `json:"commit_sha,omitempty"`
	PRURL         string          `json:"pr_url,omitempty"`
	DeployURL     string          `json:"deploy_url,omitempty"`
	FixRunID      string          `json:"fix_run_id,omitempty"`
	FixDepth      int64           `json:"fix_depth,omitempty"`
	Errors        []string        `json:"errors,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// Activity inputs and outputs.

type GeneratePlanInput struct {
	Task Task `json:"task"`
}

// PlanResult carries the raw model output plus the extracted plan object.
// Ready is best-effort: extraction is a heuristic, not a parser contract.
type PlanResult struct {
	Raw   string          `json:"raw"`
	Plan  json.RawMessage `json:"plan,omitempty"`
	Ready bool            `json:"ready"`
}

type ImplementInput struct {
	Task Task            `json:"task"`
	Plan json.RawMessage `json:"plan"`
}

type ImplementResult struct {
	BranchName   string   `json:"branch_name"`
	CommitSHA    string   `json:"commit_sha"`
	FilesChanged []string `json:"files_changed,omitempty"`
}

type ReviewInput struct {
	Task         Task   `json:"task"`
	BranchName   string `json:"branch_name"`
	TargetBranch string `json:"target_branch"`
}

type ReviewResult struct {
	Approved bool   `json:"approved"`
	PRNumber int    `json:"pr_number"`
	PRURL    string `json:"pr_url"`
	Feedback string `json:"feedback,omitempty"`
}

type DeployInput struct {
	Task  Task   `json:"task"`
	PRURL string `json:"pr_url"`
}

type DeployResult struct {
	MergeCommitSHA string `json:"merge_commit_sha"`
	DeployURL      string `json:"deploy_url"`
}

type VerifyInput struct {
	DeployURL          string   `json:"deploy_url"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

type VerifyResult struct {
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

type RollbackInput struct {
	CommitSHA string `json:"commit_sha"`
	Reason    string `json:"reason"`
}

// RollbackOutcome re-exports the structured gitops result through the
// activity boundary.
type RollbackOutcome = gitops.RollbackResult

type CheckFixLoopInput struct {
	OriginalTaskID string `json:"original_task_id"`
}

// LoopCheck reports the current chain depth without incrementing it.
// Depth >= 2 is classified as a remediation loop.
type LoopCheck struct {
	Depth  int64 `json:"depth"`
	IsLoop bool  `json:"is_loop"`
}

type CreateFixTaskInput struct {
	OriginalTaskID string `json:"original_task_id"`
	Title          string `json:"title"`
	Error          string `json:"error"`
	CommitSHA      string `json:"commit_sha,omitempty"`
	TargetBranch   string `json:"target_branch,omitempty"`
}

// FixSpawn is the result of spawning a fix run.
type FixSpawn struct {
	RunID string `json:"run_id"`
	Depth int64  `json:"depth"`
}
