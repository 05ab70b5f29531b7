// Package scm provides a uniform pull-request lifecycle across source
// control providers. Three variants share one retrying HTTP helper and
// differ only in URL shape, auth header, and status-vocabulary mapping.
package scm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/swarmd/internal/logging"
)

// Kind selects the provider variant at configuration time.
type Kind string

const (
	KindGitHub Kind = "github"
	KindGitLab Kind = "gitlab"
	KindAzure  Kind = "azure"
)

// PRStatus is the normalized pull-request state.
type PRStatus string

const (
	PROpen   PRStatus = "open"
	PRMerged PRStatus = "merged"
	PRClosed PRStatus = "closed"
)

// PRInfo is a provider-neutral view of a pull request. It is always
// re-fetched from the provider, never cached across calls.
type PRInfo struct {
	Number         int
	URL            string
	Title          string
	Status         PRStatus
	SourceBranch   string
	TargetBranch   string
	MergeCommitSHA string
}

// CreatePROptions describes a pull request to open. Squash merge and
// source-branch deletion are the defaults; set the Keep/No flags to override.
type CreatePROptions struct {
	Title            string
	Description      string
	SourceBranch     string
	TargetBranch     string
	NoSquash         bool
	KeepSourceBranch bool
}

// MergeOptions controls how a pull request is completed.
type MergeOptions struct {
	// Message overrides the merge commit message when non-empty.
	Message          string
	NoSquash         bool
	KeepSourceBranch bool
}

// MergeResult reports the outcome of a merge call.
type MergeResult struct {
	Merged         bool
	MergeCommitSHA string
}

// Provider is the capability surface the orchestrator depends on.
type Provider interface {
	CreatePullRequest(ctx context.Context, opts CreatePROptions) (*PRInfo, error)
	GetPullRequest(ctx context.Context, number int) (*PRInfo, error)
	MergePullRequest(ctx context.Context, number int, opts MergeOptions) (*MergeResult, error)

	// ExtractPRNumber accepts a bare numeric id or the provider's PR URL
	// shape and returns the number, or a *PRNumberError.
	ExtractPRNumber(ref string) (int, error)

	// ConfigureGitCredentials installs an access credential for the
	// provider host so git push/fetch against RepoURL authenticates.
	ConfigureGitCredentials(ctx context.Context) error

	RepoURL() string
	APIBaseURL() string
}

// Config identifies one repository on one provider.
type Config struct {
	Kind    Kind   `koanf:"kind"`
	BaseURL string `koanf:"base_url"` // API base override, optional
	Org     string `koanf:"org"`
	Project string `koanf:"project"` // Azure DevOps project; unused elsewhere
	Repo    string `koanf:"repo"`
	Token   string `koanf:"token"`

	// MaxRetries bounds retry attempts per outbound call. Zero means the
	// default of 3.
	MaxRetries int `koanf:"max_retries"`
}

const defaultMaxRetries = 3

// New constructs the provider variant selected by cfg.Kind. Missing
// required fields fail here, at construction time, never at call time.
func New(cfg Config, log *logging.Logger) (Provider, error) {
	if log == nil {
		log = logging.NewNop()
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("scm: access token is required")
	}
	if cfg.Org == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("scm: org and repo are required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	hc := &apiClient{
		hc:         &http.Client{Timeout: 30 * time.Second},
		maxRetries: cfg.MaxRetries,
		provider:   cfg.Kind,
		log:        log.Named("scm"),
	}

	switch cfg.Kind {
	case KindGitHub:
		return newGitHub(cfg, hc), nil
	case KindGitLab:
		return newGitLab(cfg, hc), nil
	case KindAzure:
		if cfg.Project == "" {
			return nil, fmt.Errorf("scm: azure provider requires a project id")
		}
		return newAzure(cfg, hc), nil
	default:
		return nil, fmt.Errorf("scm: unknown provider kind %q", cfg.Kind)
	}
}
