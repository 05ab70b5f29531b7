package scm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const defaultGitHubAPI = "https://api.github.com"

var githubPRPattern = regexp.MustCompile(`/pull/(\d+)(?:[/?#]|$)`)

// gitHubProvider speaks the GitHub-style REST surface: bearer auth,
// path-shaped "org/repo" identifiers, and a merged flag separate from state.
type gitHubProvider struct {
	cfg    Config
	api    string
	client *apiClient
}

func newGitHub(cfg Config, client *apiClient) *gitHubProvider {
	api := cfg.BaseURL
	if api == "" {
		api = defaultGitHubAPI
	}
	return &gitHubProvider{cfg: cfg, api: strings.TrimSuffix(api, "/"), client: client}
}

func (p *gitHubProvider) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+p.cfg.Token)
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	return h
}

func (p *gitHubProvider) prURL(parts ...string) string {
	base := fmt.Sprintf("%s/repos/%s/%s/pulls", p.api, p.cfg.Org, p.cfg.Repo)
	if len(parts) == 0 {
		return base
	}
	return base + "/" + strings.Join(parts, "/")
}

type githubPR struct {
	Number         int    `json:"number"`
	HTMLURL        string `json:"html_url"`
	Title          string `json:"title"`
	State          string `json:"state"`
	Merged         bool   `json:"merged"`
	MergeCommitSHA string `json:"merge_commit_sha"`
	Head           struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

func (pr githubPR) normalize() *PRInfo {
	return &PRInfo{
		Number:         pr.Number,
		URL:            pr.HTMLURL,
		Title:          pr.Title,
		Status:         normalizeGitHubState(pr.State, pr.Merged),
		SourceBranch:   pr.Head.Ref,
		TargetBranch:   pr.Base.Ref,
		MergeCommitSHA: pr.MergeCommitSHA,
	}
}

// normalizeGitHubState maps GitHub's state+merged pair onto the normalized
// vocabulary. GitHub reports merged PRs as state=closed with merged=true.
func normalizeGitHubState(state string, merged bool) PRStatus {
	if merged || state == "merged" {
		return PRMerged
	}
	if state == "closed" {
		return PRClosed
	}
	return PROpen
}

func (p *gitHubProvider) CreatePullRequest(ctx context.Context, opts CreatePROptions) (*PRInfo, error) {
	body := map[string]any{
		"title": opts.Title,
		"body":  opts.Description,
		"head":  opts.SourceBranch,
		"base":  opts.TargetBranch,
	}
	var pr githubPR
	if err := p.client.doJSON(ctx, http.MethodPost, p.prURL(), p.header(), body, &pr); err != nil {
		return nil, err
	}
	return pr.normalize(), nil
}

func (p *gitHubProvider) GetPullRequest(ctx context.Context, number int) (*PRInfo, error) {
	var pr githubPR
	if err := p.client.doJSON(ctx, http.MethodGet, p.prURL(strconv.Itoa(number)), p.header(), nil, &pr); err != nil {
		return nil, err
	}
	return pr.normalize(), nil
}

func (p *gitHubProvider) MergePullRequest(ctx context.Context, number int, opts MergeOptions) (*MergeResult, error) {
	// The head ref is needed for source-branch deletion afterwards.
	pr, err := p.GetPullRequest(ctx, number)
	if err != nil {
		return nil, err
	}

	method := "squash"
	if opts.NoSquash {
		method = "merge"
	}
	body := map[string]any{"merge_method": method}
	if opts.Message != "" {
		body["commit_title"] = opts.Message
	}

	var resp struct {
		SHA    string `json:"sha"`
		Merged bool   `json:"merged"`
	}
	if err := p.client.doJSON(ctx, http.MethodPut, p.prURL(strconv.Itoa(number), "merge"), p.header(), body, &resp); err != nil {
		return nil, err
	}

	if !opts.KeepSourceBranch && pr.SourceBranch != "" {
		refURL := fmt.Sprintf("%s/repos/%s/%s/git/refs/heads/%s",
			p.api, p.cfg.Org, p.cfg.Repo, url.PathEscape(pr.SourceBranch))
		if err := p.client.doJSON(ctx, http.MethodDelete, refURL, p.header(), nil, nil); err != nil {
			p.client.log.Warn(ctx, "source branch deletion failed (non-fatal)")
		}
	}

	return &MergeResult{Merged: resp.Merged, MergeCommitSHA: resp.SHA}, nil
}

func (p *gitHubProvider) ExtractPRNumber(ref string) (int, error) {
	return extractNumber(KindGitHub, ref, githubPRPattern)
}

func (p *gitHubProvider) ConfigureGitCredentials(context.Context) error {
	return installGitCredential(p.RepoURL(), "x-access-token", p.cfg.Token)
}

func (p *gitHubProvider) RepoURL() string {
	return fmt.Sprintf("https://github.com/%s/%s.git", p.cfg.Org, p.cfg.Repo)
}

func (p *gitHubProvider) APIBaseURL() string {
	return p.api
}

// extractNumber implements the shared bare-number-or-URL contract.
func extractNumber(kind Kind, ref string, pattern *regexp.Regexp) (int, error) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil && n > 0 {
		return n, nil
	}
	if m := pattern.FindStringSubmatch(ref); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			return n, nil
		}
	}
	return 0, &PRNumberError{Provider: kind, Ref: ref}
}
