package gitops

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
)

// RollbackResult is the structured outcome of a rollback attempt. Rollback
// never returns a Go error for git failures: the caller decides the run's
// terminal status from Success.
type RollbackResult struct {
	Success      bool   `json:"success"`
	Branch       string `json:"branch,omitempty"`
	RevertedSHA  string `json:"reverted_sha,omitempty"`
	FailedStep   string `json:"failed_step,omitempty"`
	Message      string `json:"message"`
}

// Rollbacker reverts bad commits on whatever branch the working tree is on.
type Rollbacker struct {
	git Runner
	log *logging.Logger
}

// NewRollbacker creates a Rollbacker over the given git runner.
func NewRollbacker(git Runner, log *logging.Logger) *Rollbacker {
	if log == nil {
		log = logging.NewNop()
	}
	return &Rollbacker{git: git, log: log.Named("rollback")}
}

// RollbackCommit resolves the current branch, fast-forwards it, reverts the
// given commit without editing, and pushes. On failure it aborts any
// in-progress revert so the tree is never left half-reverted.
func (r *Rollbacker) RollbackCommit(ctx context.Context, commitSHA, reason string) RollbackResult {
	if commitSHA == "" {
		return RollbackResult{FailedStep: "validate", Message: "no commit sha to revert"}
	}

	// The branch is always resolved dynamically; deployments may target
	// main, a release branch, or anything else.
	branch, err := r.git.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return r.fail(ctx, "resolve-branch", "", err)
	}

	if _, err := r.git.Run(ctx, "fetch", "origin"); err != nil {
		return r.fail(ctx, "fetch", branch, err)
	}
	if _, err := r.git.Run(ctx, "merge", "--ff-only", "origin/"+branch); err != nil {
		return r.fail(ctx, "fast-forward", branch, err)
	}

	if _, err := r.git.Run(ctx, "revert", "--no-edit", commitSHA); err != nil {
		// A conflicting revert leaves REVERT_HEAD behind; abort it so a
		// later attempt starts from a clean tree.
		if _, abortErr := r.git.Run(ctx, "revert", "--abort"); abortErr != nil {
			r.log.Warn(ctx, "revert abort failed", zap.Error(abortErr))
		}
		return r.fail(ctx, "revert", branch, err)
	}

	if _, err := r.git.Run(ctx, "push", "origin", branch); err != nil {
		// The revert commit exists locally but upstream rejected it; reset
		// to the remote so the tree stays clean for the next attempt.
		if _, resetErr := r.git.Run(ctx, "reset", "--hard", "origin/"+branch); resetErr != nil {
			r.log.Warn(ctx, "reset after failed push failed", zap.Error(resetErr))
		}
		return r.fail(ctx, "push", branch, err)
	}

	r.log.Info(ctx, "commit reverted",
		zap.String("sha", commitSHA),
		zap.String("branch", branch),
		zap.String("reason", reason),
	)
	return RollbackResult{
		Success:     true,
		Branch:      branch,
		RevertedSHA: commitSHA,
		Message:     fmt.Sprintf("reverted %s on %s: %s", commitSHA, branch, reason),
	}
}

func (r *Rollbacker) fail(ctx context.Context, step, branch string, err error) RollbackResult {
	r.log.Warn(ctx, "rollback step failed",
		zap.String("step", step),
		zap.Error(err),
	)
	return RollbackResult{
		Branch:     branch,
		FailedStep: step,
		Message:    err.Error(),
	}
}
