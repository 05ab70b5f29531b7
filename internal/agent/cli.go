// Package agent adapts an external coding-agent CLI into the stage
// interfaces the orchestrator drives. The agent binary is a black box: it
// gets a prompt on argv, works in the repository directory, and prints its
// result (JSON for structured stages) to stdout.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
	"github.com/fyrsmithlabs/swarmd/internal/planparse"
	"github.com/fyrsmithlabs/swarmd/internal/workflows/devtask"
)

// Execer runs the agent binary and returns its stdout. Injectable so tests
// never spawn processes.
type Execer func(ctx context.Context, dir, name string, args ...string) (string, error)

func defaultExecer(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, args[0], err, truncate(string(out), 2048))
	}
	return string(out), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

const defaultCallTimeout = 25 * time.Minute

// CLIAgent implements every orchestrator stage by shelling out to one agent
// command with a per-stage mode flag.
type CLIAgent struct {
	command string
	repoDir string
	timeout time.Duration
	exec    Execer
	log     *logging.Logger
}

// New creates a CLIAgent running command inside repoDir.
func New(command, repoDir string, log *logging.Logger) *CLIAgent {
	if log == nil {
		log = logging.NewNop()
	}
	return &CLIAgent{
		command: command,
		repoDir: repoDir,
		timeout: defaultCallTimeout,
		exec:    defaultExecer,
		log:     log.Named("agent"),
	}
}

func (c *CLIAgent) call(ctx context.Context, mode, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	out, err := c.exec(ctx, c.repoDir, c.command, "--mode", mode, "-p", prompt)
	c.log.Debug(ctx, "agent call finished",
		zap.String("mode", mode),
		zap.Duration("took", time.Since(started)),
		zap.Error(err),
	)
	return out, err
}

// structured extracts and decodes the JSON object the agent printed for
// structured stages. Agents tend to wrap their answer in prose, so the
// output is scanned, not parsed whole.
func structured(out string, v any) error {
	raw, ok := planparse.Extract(out)
	if !ok {
		return fmt.Errorf("agent output contains no JSON object: %s", truncate(out, 512))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode agent output: %w", err)
	}
	return nil
}

func taskPrompt(task devtask.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n\n%s\n", task.ID, task.Title, task.Context)
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if len(task.CandidateFiles) > 0 {
		b.WriteString("\nLikely relevant files:\n")
		for _, f := range task.CandidateFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

// GeneratePlan returns the agent's raw planning output; plan extraction is
// the caller's concern.
func (c *CLIAgent) GeneratePlan(ctx context.Context, task devtask.Task) (string, error) {
	prompt := taskPrompt(task) +
		"\nProduce an implementation plan. Emit the final plan as a JSON object " +
		"in a fenced json block with fields: steps (array of strings), risks (array of strings)."
	return c.call(ctx, "plan", prompt)
}

// Implement applies the plan on a new branch and reports what it produced.
func (c *CLIAgent) Implement(ctx context.Context, task devtask.Task, plan []byte) (*devtask.ImplementResult, error) {
	prompt := taskPrompt(task)
	if len(plan) > 0 {
		prompt += "\nFollow this plan:\n" + string(plan) + "\n"
	}
	prompt += "\nImplement the task on a new branch and commit. Emit a JSON object " +
		"with fields: branch_name, commit_sha, files_changed."

	out, err := c.call(ctx, "implement", prompt)
	if err != nil {
		return nil, err
	}
	var res devtask.ImplementResult
	if err := structured(out, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Review judges the pull request. A rejection is a verdict, not an error.
func (c *CLIAgent) Review(ctx context.Context, task devtask.Task, prURL string) (bool, string, error) {
	prompt := taskPrompt(task) +
		fmt.Sprintf("\nReview the changes at %s against the acceptance criteria. ", prURL) +
		"Emit a JSON object with fields: approved (bool), feedback (string)."

	out, err := c.call(ctx, "review", prompt)
	if err != nil {
		return false, "", err
	}
	var verdict struct {
		Approved bool   `json:"approved"`
		Feedback string `json:"feedback"`
	}
	if err := structured(out, &verdict); err != nil {
		return false, "", err
	}
	return verdict.Approved, verdict.Feedback, nil
}

// Deploy releases the merge commit and returns the deployment URL.
func (c *CLIAgent) Deploy(ctx context.Context, task devtask.Task, mergeCommitSHA string) (string, error) {
	prompt := taskPrompt(task) +
		fmt.Sprintf("\nDeploy merge commit %s. Emit a JSON object with field: url (string).", mergeCommitSHA)

	out, err := c.call(ctx, "deploy", prompt)
	if err != nil {
		return "", err
	}
	var res struct {
		URL string `json:"url"`
	}
	if err := structured(out, &res); err != nil {
		return "", err
	}
	if res.URL == "" {
		return "", fmt.Errorf("agent reported no deployment url")
	}
	return res.URL, nil
}

// Verify checks the deployment against the acceptance criteria.
func (c *CLIAgent) Verify(ctx context.Context, deployURL string, criteria []string) (bool, string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Verify the deployment at %s.\n\nAcceptance criteria:\n", deployURL)
	for _, crit := range criteria {
		fmt.Fprintf(&b, "- %s\n", crit)
	}
	b.WriteString("\nEmit a JSON object with fields: passed (bool), detail (string).")

	out, err := c.call(ctx, "verify", b.String())
	if err != nil {
		return false, "", err
	}
	var res struct {
		Passed bool   `json:"passed"`
		Detail string `json:"detail"`
	}
	if err := structured(out, &res); err != nil {
		return false, "", err
	}
	return res.Passed, res.Detail, nil
}
