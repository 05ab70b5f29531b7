package scm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFailsFastOnMissingConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing token",
			cfg:     Config{Kind: KindGitHub, Org: "acme", Repo: "widgets"},
			wantErr: "token",
		},
		{
			name:    "missing org",
			cfg:     Config{Kind: KindGitLab, Repo: "widgets", Token: "t"},
			wantErr: "org and repo",
		},
		{
			name:    "azure without project",
			cfg:     Config{Kind: KindAzure, Org: "acme", Repo: "widgets", Token: "t"},
			wantErr: "project",
		},
		{
			name:    "unknown kind",
			cfg:     Config{Kind: "svn", Org: "acme", Repo: "widgets", Token: "t"},
			wantErr: "unknown provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, nil)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewConstructsEachVariant(t *testing.T) {
	github, err := New(Config{Kind: KindGitHub, Org: "acme", Repo: "widgets", Token: "t"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com", github.APIBaseURL())
	assert.Equal(t, "https://github.com/acme/widgets.git", github.RepoURL())

	gitlab, err := New(Config{Kind: KindGitLab, Org: "acme", Repo: "widgets", Token: "t"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.com/api/v4", gitlab.APIBaseURL())

	azure, err := New(Config{Kind: KindAzure, Org: "acme", Project: "platform", Repo: "widgets", Token: "t"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://dev.azure.com/acme", azure.APIBaseURL())
	assert.Equal(t, "https://dev.azure.com/acme/platform/_git/widgets", azure.RepoURL())
}

func TestStatusNormalization(t *testing.T) {
	// GitHub reports merged via a separate flag; merged closed PRs must not
	// normalize to closed.
	assert.Equal(t, PRMerged, normalizeGitHubState("closed", true))
	assert.Equal(t, PRMerged, normalizeGitHubState("merged", false))
	assert.Equal(t, PRClosed, normalizeGitHubState("closed", false))
	assert.Equal(t, PROpen, normalizeGitHubState("open", false))
	assert.Equal(t, PROpen, normalizeGitHubState("draft", false))

	assert.Equal(t, PRMerged, normalizeGitLabState("merged"))
	assert.Equal(t, PRClosed, normalizeGitLabState("closed"))
	assert.Equal(t, PROpen, normalizeGitLabState("opened"))
	assert.Equal(t, PROpen, normalizeGitLabState("locked"))

	assert.Equal(t, PRMerged, normalizeAzureState("completed"))
	assert.Equal(t, PRClosed, normalizeAzureState("abandoned"))
	assert.Equal(t, PROpen, normalizeAzureState("active"))
	assert.Equal(t, PROpen, normalizeAzureState("notSet"))
}

func TestExtractPRNumber(t *testing.T) {
	github, err := New(Config{Kind: KindGitHub, Org: "acme", Repo: "widgets", Token: "t"}, nil)
	require.NoError(t, err)
	gitlab, err := New(Config{Kind: KindGitLab, Org: "acme", Repo: "widgets", Token: "t"}, nil)
	require.NoError(t, err)
	azure, err := New(Config{Kind: KindAzure, Org: "acme", Project: "platform", Repo: "widgets", Token: "t"}, nil)
	require.NoError(t, err)

	tests := []struct {
		provider Provider
		ref      string
		want     int
	}{
		{github, "42", 42},
		{github, "https://github.com/acme/widgets/pull/317", 317},
		{gitlab, " 7 ", 7},
		{gitlab, "https://gitlab.com/acme/widgets/-/merge_requests/88", 88},
		{azure, "9001", 9001},
		{azure, "https://dev.azure.com/acme/platform/_git/widgets/pullrequest/15", 15},
	}
	for _, tt := range tests {
		got, err := tt.provider.ExtractPRNumber(tt.ref)
		require.NoError(t, err, "ref %q", tt.ref)
		assert.Equal(t, tt.want, got, "ref %q", tt.ref)
	}

	for _, bad := range []string{"", "not-a-number", "https://github.com/acme/widgets/issues/12", "-3"} {
		_, err := github.ExtractPRNumber(bad)
		var prErr *PRNumberError
		require.Error(t, err, "ref %q", bad)
		assert.True(t, errors.As(err, &prErr), "want typed PRNumberError for %q, got %T", bad, err)
		assert.Equal(t, KindGitHub, prErr.Provider)
	}
}
