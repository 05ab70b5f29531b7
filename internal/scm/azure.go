package scm

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

const azureAPIVersion = "7.1"

var azurePRPattern = regexp.MustCompile(`/pullrequest/(\d+)(?:[/?#]|$)`)

// azureProvider speaks the Azure-DevOps-style REST surface: basic auth with
// a PAT, and an organization/project/repository identifier triple.
type azureProvider struct {
	cfg    Config
	api    string
	client *apiClient
}

func newAzure(cfg Config, client *apiClient) *azureProvider {
	api := cfg.BaseURL
	if api == "" {
		api = "https://dev.azure.com/" + cfg.Org
	}
	return &azureProvider{cfg: cfg, api: strings.TrimSuffix(api, "/"), client: client}
}

func (p *azureProvider) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+p.cfg.Token)))
	return h
}

func (p *azureProvider) prURL(number int) string {
	base := fmt.Sprintf("%s/%s/_apis/git/repositories/%s/pullrequests", p.api, p.cfg.Project, p.cfg.Repo)
	if number > 0 {
		base += "/" + strconv.Itoa(number)
	}
	return base + "?api-version=" + azureAPIVersion
}

type azurePR struct {
	PullRequestID int    `json:"pullRequestId"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	SourceRefName string `json:"sourceRefName"`
	TargetRefName string `json:"targetRefName"`
	LastMergeCommit struct {
		CommitID string `json:"commitId"`
	} `json:"lastMergeCommit"`
	LastMergeSourceCommit struct {
		CommitID string `json:"commitId"`
	} `json:"lastMergeSourceCommit"`
}

func (pr azurePR) normalize(webURL string) *PRInfo {
	return &PRInfo{
		Number:         pr.PullRequestID,
		URL:            webURL,
		Title:          pr.Title,
		Status:         normalizeAzureState(pr.Status),
		SourceBranch:   strings.TrimPrefix(pr.SourceRefName, "refs/heads/"),
		TargetBranch:   strings.TrimPrefix(pr.TargetRefName, "refs/heads/"),
		MergeCommitSHA: pr.LastMergeCommit.CommitID,
	}
}

// normalizeAzureState maps Azure's active/completed/abandoned vocabulary
// onto the normalized one.
func normalizeAzureState(status string) PRStatus {
	switch status {
	case "completed":
		return PRMerged
	case "abandoned":
		return PRClosed
	default:
		return PROpen
	}
}

func (p *azureProvider) webURL(number int) string {
	return fmt.Sprintf("%s/%s/_git/%s/pullrequest/%d", p.api, p.cfg.Project, p.cfg.Repo, number)
}

func (p *azureProvider) CreatePullRequest(ctx context.Context, opts CreatePROptions) (*PRInfo, error) {
	body := map[string]any{
		"title":         opts.Title,
		"description":   opts.Description,
		"sourceRefName": "refs/heads/" + opts.SourceBranch,
		"targetRefName": "refs/heads/" + opts.TargetBranch,
	}
	var pr azurePR
	if err := p.client.doJSON(ctx, http.MethodPost, p.prURL(0), p.header(), body, &pr); err != nil {
		return nil, err
	}
	return pr.normalize(p.webURL(pr.PullRequestID)), nil
}

func (p *azureProvider) GetPullRequest(ctx context.Context, number int) (*PRInfo, error) {
	var pr azurePR
	if err := p.client.doJSON(ctx, http.MethodGet, p.prURL(number), p.header(), nil, &pr); err != nil {
		return nil, err
	}
	return pr.normalize(p.webURL(number)), nil
}

func (p *azureProvider) MergePullRequest(ctx context.Context, number int, opts MergeOptions) (*MergeResult, error) {
	// Completion requires the source commit the merge is based on.
	var current azurePR
	if err := p.client.doJSON(ctx, http.MethodGet, p.prURL(number), p.header(), nil, &current); err != nil {
		return nil, err
	}

	strategy := "squash"
	if opts.NoSquash {
		strategy = "noFastForward"
	}
	completion := map[string]any{
		"mergeStrategy":      strategy,
		"deleteSourceBranch": !opts.KeepSourceBranch,
	}
	if opts.Message != "" {
		completion["mergeCommitMessage"] = opts.Message
	}
	body := map[string]any{
		"status":                "completed",
		"lastMergeSourceCommit": map[string]string{"commitId": current.LastMergeSourceCommit.CommitID},
		"completionOptions":     completion,
	}

	var pr azurePR
	if err := p.client.doJSON(ctx, http.MethodPatch, p.prURL(number), p.header(), body, &pr); err != nil {
		return nil, err
	}
	return &MergeResult{
		Merged:         normalizeAzureState(pr.Status) == PRMerged,
		MergeCommitSHA: pr.LastMergeCommit.CommitID,
	}, nil
}

func (p *azureProvider) ExtractPRNumber(ref string) (int, error) {
	return extractNumber(KindAzure, ref, azurePRPattern)
}

func (p *azureProvider) ConfigureGitCredentials(context.Context) error {
	return installGitCredential(p.RepoURL(), "swarmd", p.cfg.Token)
}

func (p *azureProvider) RepoURL() string {
	return fmt.Sprintf("https://dev.azure.com/%s/%s/_git/%s", p.cfg.Org, p.cfg.Project, p.cfg.Repo)
}

func (p *azureProvider) APIBaseURL() string {
	return p.api
}
