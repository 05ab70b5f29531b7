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

const defaultGitLabAPI = "https://gitlab.com/api/v4"

var gitlabMRPattern = regexp.MustCompile(`/merge_requests/(\d+)(?:[/?#]|$)`)

// gitLabProvider speaks the GitLab REST surface: private-token auth and a
// single path-escaped "group/project" identifier.
type gitLabProvider struct {
	cfg    Config
	api    string
	client *apiClient
}

func newGitLab(cfg Config, client *apiClient) *gitLabProvider {
	api := cfg.BaseURL
	if api == "" {
		api = defaultGitLabAPI
	}
	return &gitLabProvider{cfg: cfg, api: strings.TrimSuffix(api, "/"), client: client}
}

func (p *gitLabProvider) header() http.Header {
	h := http.Header{}
	h.Set("Private-Token", p.cfg.Token)
	return h
}

// projectID is the URL-escaped "group/project" path GitLab uses in place of
// numeric project ids.
func (p *gitLabProvider) projectID() string {
	return url.PathEscape(p.cfg.Org + "/" + p.cfg.Repo)
}

func (p *gitLabProvider) mrURL(parts ...string) string {
	base := fmt.Sprintf("%s/projects/%s/merge_requests", p.api, p.projectID())
	if len(parts) == 0 {
		return base
	}
	return base + "/" + strings.Join(parts, "/")
}

type gitlabMR struct {
	IID            int    `json:"iid"`
	WebURL         string `json:"web_url"`
	Title          string `json:"title"`
	State          string `json:"state"`
	MergeCommitSHA string `json:"merge_commit_sha"`
	SourceBranch   string `json:"source_branch"`
	TargetBranch   string `json:"target_branch"`
}

func (mr gitlabMR) normalize() *PRInfo {
	return &PRInfo{
		Number:         mr.IID,
		URL:            mr.WebURL,
		Title:          mr.Title,
		Status:         normalizeGitLabState(mr.State),
		SourceBranch:   mr.SourceBranch,
		TargetBranch:   mr.TargetBranch,
		MergeCommitSHA: mr.MergeCommitSHA,
	}
}

// normalizeGitLabState maps GitLab's merged/closed/opened vocabulary onto
// the normalized one. Unknown states (locked etc.) report open.
func normalizeGitLabState(state string) PRStatus {
	switch state {
	case "merged":
		return PRMerged
	case "closed":
		return PRClosed
	default:
		return PROpen
	}
}

func (p *gitLabProvider) CreatePullRequest(ctx context.Context, opts CreatePROptions) (*PRInfo, error) {
	body := map[string]any{
		"title":                opts.Title,
		"description":          opts.Description,
		"source_branch":        opts.SourceBranch,
		"target_branch":        opts.TargetBranch,
		"squash":               !opts.NoSquash,
		"remove_source_branch": !opts.KeepSourceBranch,
	}
	var mr gitlabMR
	if err := p.client.doJSON(ctx, http.MethodPost, p.mrURL(), p.header(), body, &mr); err != nil {
		return nil, err
	}
	return mr.normalize(), nil
}

func (p *gitLabProvider) GetPullRequest(ctx context.Context, number int) (*PRInfo, error) {
	var mr gitlabMR
	if err := p.client.doJSON(ctx, http.MethodGet, p.mrURL(strconv.Itoa(number)), p.header(), nil, &mr); err != nil {
		return nil, err
	}
	return mr.normalize(), nil
}

func (p *gitLabProvider) MergePullRequest(ctx context.Context, number int, opts MergeOptions) (*MergeResult, error) {
	body := map[string]any{
		"squash":                      !opts.NoSquash,
		"should_remove_source_branch": !opts.KeepSourceBranch,
	}
	if opts.Message != "" {
		body["merge_commit_message"] = opts.Message
	}
	var mr gitlabMR
	if err := p.client.doJSON(ctx, http.MethodPut, p.mrURL(strconv.Itoa(number), "merge"), p.header(), body, &mr); err != nil {
		return nil, err
	}
	info := mr.normalize()
	return &MergeResult{
		Merged:         info.Status == PRMerged,
		MergeCommitSHA: info.MergeCommitSHA,
	}, nil
}

func (p *gitLabProvider) ExtractPRNumber(ref string) (int, error) {
	return extractNumber(KindGitLab, ref, gitlabMRPattern)
}

func (p *gitLabProvider) ConfigureGitCredentials(context.Context) error {
	return installGitCredential(p.RepoURL(), "oauth2", p.cfg.Token)
}

func (p *gitLabProvider) RepoURL() string {
	return fmt.Sprintf("https://gitlab.com/%s/%s.git", p.cfg.Org, p.cfg.Repo)
}

func (p *gitLabProvider) APIBaseURL() string {
	return p.api
}
