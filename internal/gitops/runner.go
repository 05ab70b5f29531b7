// Package gitops executes git operations for the rollback controller.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
)

// Runner runs one git command and returns its trimmed stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

const defaultCommandTimeout = 2 * time.Minute

// CommandRunner shells out to the git binary in a fixed working directory.
type CommandRunner struct {
	dir     string
	timeout time.Duration
	log     *logging.Logger
}

// NewCommandRunner creates a CommandRunner rooted at dir.
func NewCommandRunner(dir string, log *logging.Logger) *CommandRunner {
	if log == nil {
		log = logging.NewNop()
	}
	return &CommandRunner{dir: dir, timeout: defaultCommandTimeout, log: log}
}

func (r *CommandRunner) Run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug(ctx, "running git command", zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}
