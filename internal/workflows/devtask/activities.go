package devtask

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/gitops"
	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/notify"
	"github.com/fyrsmithlabs/swarmd/internal/planparse"
	"github.com/fyrsmithlabs/swarmd/internal/scm"
	"github.com/fyrsmithlabs/swarmd/internal/statestore"
)

// The agent surface. Each stage delegates to an agent behind a narrow
// interface so the orchestrator stays testable without a model or sandbox.

// PlanGenerator produces a free-form implementation plan for a task. The
// output is model text; plan extraction happens in the activity.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, task Task) (string, error)
}

// Implementer applies a plan to the working tree and returns the branch
// and commit it produced.
type Implementer interface {
	Implement(ctx context.Context, task Task, plan []byte) (*ImplementResult, error)
}

// Reviewer judges the changes on a pull request.
type Reviewer interface {
	Review(ctx context.Context, task Task, prURL string) (approved bool, feedback string, err error)
}

// Deployer releases a merged commit and returns the deployment URL.
type Deployer interface {
	Deploy(ctx context.Context, task Task, mergeCommitSHA string) (string, error)
}

// Verifier checks a deployment against the task's acceptance criteria.
type Verifier interface {
	Verify(ctx context.Context, deployURL string, criteria []string) (passed bool, detail string, err error)
}

// RunStarter spawns a new orchestrator run. It abstracts the workflow
// client so fix-task creation is testable without a cluster.
type RunStarter interface {
	StartRun(ctx context.Context, workflowID string, input TaskInput) (runID string, err error)
}

// Activities holds the dependencies shared by all devtask activities. One
// instance is registered per worker process.
type Activities struct {
	planner     PlanGenerator
	implementer Implementer
	reviewer    Reviewer
	deployer    Deployer
	verifier    Verifier

	provider scm.Provider
	rollback *gitops.Rollbacker
	store    statestore.Store
	starter  RunStarter
	notifier notify.Notifier
	metrics  *stageMetrics
	log      *logging.Logger
}

// ActivityDeps bundles the constructor arguments for Activities.
type ActivityDeps struct {
	Planner     PlanGenerator
	Implementer Implementer
	Reviewer    Reviewer
	Deployer    Deployer
	Verifier    Verifier
	Provider    scm.Provider
	Rollback    *gitops.Rollbacker
	Store       statestore.Store
	Starter     RunStarter
	Notifier    notify.Notifier
	Log         *logging.Logger
}

// NewActivities wires the activity set. Notifier may be nil; notifications
// become no-ops.
func NewActivities(deps ActivityDeps) *Activities {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Log == nil {
		deps.Log = logging.NewNop()
	}
	return &Activities{
		planner:     deps.Planner,
		implementer: deps.Implementer,
		reviewer:    deps.Reviewer,
		deployer:    deps.Deployer,
		verifier:    deps.Verifier,
		provider:    deps.Provider,
		rollback:    deps.Rollback,
		store:       deps.Store,
		starter:     deps.Starter,
		notifier:    deps.Notifier,
		metrics:     newStageMetrics(),
		log:         deps.Log.Named("devtask"),
	}
}

// heartbeatInterval keeps long agent-driven activities visibly alive well
// inside the workflow's heartbeat timeout.
const heartbeatInterval = time.Minute

// keepAlive records activity heartbeats until the returned stop func runs.
// Only used from activities whose options set a heartbeat timeout.
func keepAlive(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}

// GeneratePlan runs the planning agent and extracts the plan object from
// its output. A plan that fails extraction is not an error: the run can
// still proceed on the raw text, and Ready tells the workflow which case
// it is in.
func (a *Activities) GeneratePlan(ctx context.Context, in GeneratePlanInput) (*PlanResult, error) {
	ctx = logging.WithTaskID(ctx, in.Task.ID)
	defer keepAlive(ctx)()

	raw, err := a.planner.GeneratePlan(ctx, in.Task)
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}

	res := &PlanResult{Raw: raw}
	if plan, ok := planparse.Extract(raw); ok {
		res.Plan = plan
		res.Ready = true
	} else {
		a.log.Warn(ctx, "no plan object found in planner output, continuing with raw text")
	}
	a.metrics.stageDone(ctx, "plan")
	return res, nil
}

// ImplementTask applies the plan and returns the produced branch/commit.
func (a *Activities) ImplementTask(ctx context.Context, in ImplementInput) (*ImplementResult, error) {
	ctx = logging.WithTaskID(ctx, in.Task.ID)
	defer keepAlive(ctx)()

	res, err := a.implementer.Implement(ctx, in.Task, in.Plan)
	if err != nil {
		return nil, fmt.Errorf("implement: %w", err)
	}
	if res.BranchName == "" || res.CommitSHA == "" {
		return nil, fmt.Errorf("implement: agent returned no branch or commit")
	}
	a.log.Info(ctx, "implementation committed",
		zap.String("branch", res.BranchName),
		zap.String("sha", res.CommitSHA),
	)
	a.metrics.stageDone(ctx, "implement")
	return res, nil
}

// ReviewChanges opens a pull request for the implementation branch and
// runs the review agent against it. A rejected review is reported in the
// result, not as an activity error.
func (a *Activities) ReviewChanges(ctx context.Context, in ReviewInput) (*ReviewResult, error) {
	ctx = logging.WithTaskID(ctx, in.Task.ID)
	defer keepAlive(ctx)()

	pr, err := a.provider.CreatePullRequest(ctx, scm.CreatePROptions{
		Title:        in.Task.Title,
		Description:  in.Task.Context,
		SourceBranch: in.BranchName,
		TargetBranch: in.TargetBranch,
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request: %w", err)
	}
	a.log.Info(ctx, "pull request opened",
		zap.Int("pr", pr.Number),
		zap.String("url", pr.URL),
	)

	approved, feedback, err := a.reviewer.Review(ctx, in.Task, pr.URL)
	if err != nil {
		return nil, fmt.Errorf("review: %w", err)
	}
	a.metrics.stageDone(ctx, "review")
	return &ReviewResult{
		Approved: approved,
		PRNumber: pr.Number,
		PRURL:    pr.URL,
		Feedback: feedback,
	}, nil
}

// DeployChanges merges the pull request and releases the merge commit.
func (a *Activities) DeployChanges(ctx context.Context, in DeployInput) (*DeployResult, error) {
	ctx = logging.WithTaskID(ctx, in.Task.ID)
	defer keepAlive(ctx)()

	number, err := a.provider.ExtractPRNumber(in.PRURL)
	if err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	merged, err := a.provider.MergePullRequest(ctx, number, scm.MergeOptions{
		Message: fmt.Sprintf("%s (#%d)", in.Task.Title, number),
	})
	if err != nil {
		return nil, fmt.Errorf("merge pull request %d: %w", number, err)
	}

	url, err := a.deployer.Deploy(ctx, in.Task, merged.MergeCommitSHA)
	if err != nil {
		return nil, fmt.Errorf("deploy merge commit %s: %w", merged.MergeCommitSHA, err)
	}
	a.log.Info(ctx, "deployed",
		zap.String("sha", merged.MergeCommitSHA),
		zap.String("url", url),
	)
	a.metrics.stageDone(ctx, "deploy")
	return &DeployResult{MergeCommitSHA: merged.MergeCommitSHA, DeployURL: url}, nil
}

// VerifyDeployment checks the deployment against acceptance criteria. A
// failed verification is an activity error so the workflow's failure path
// (rollback, fix chain) engages.
func (a *Activities) VerifyDeployment(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	defer keepAlive(ctx)()

	passed, detail, err := a.verifier.Verify(ctx, in.DeployURL, in.AcceptanceCriteria)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	if !passed {
		return nil, fmt.Errorf("verification failed: %s", detail)
	}
	a.metrics.stageDone(ctx, "verify")
	return &VerifyResult{Passed: true, Detail: detail}, nil
}

// RollbackCommit reverts a released commit. Git failures come back inside
// the result, never as an activity error, so the workflow always gets a
// structured outcome to base its terminal status on.
func (a *Activities) RollbackCommit(ctx context.Context, in RollbackInput) (*RollbackOutcome, error) {
	res := a.rollback.RollbackCommit(ctx, in.CommitSHA, in.Reason)
	a.metrics.rollback(ctx, res.Success)
	return &res, nil
}

// SendNotification delivers a fire-and-forget operator notification.
func (a *Activities) SendNotification(ctx context.Context, n notify.Notification) error {
	a.notifier.Send(ctx, n)
	return nil
}
