package hosting

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/patchd/internal/config"
	"github.com/fyrsmithlabs/patchd/internal/faults"
)

// GitHubBridge implements Bridge against the GitHub REST API.
type GitHubBridge struct {
	client *github.Client
}

// NewGitHubBridge creates a bridge authenticated with token. baseURL
// overrides the API endpoint for GitHub Enterprise installs; empty means
// github.com.
func NewGitHubBridge(ctx context.Context, token config.Secret, baseURL string) (*GitHubBridge, error) {
	if !token.IsSet() {
		return nil, fmt.Errorf("hosting token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	client := github.NewClient(oauth2.NewClient(ctx, ts))

	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid hosting base URL: %w", err)
		}
	}

	return &GitHubBridge{client: client}, nil
}

// splitRepo splits a normalized "owner/name" identifier.
func splitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", faults.New("split_repo", faults.CodeValidation, "malformed repository identifier %q", repo)
	}
	return parts[0], parts[1], nil
}

// BranchExists reports whether the named branch exists. A 404 is a
// definitive "no", not an error.
func (b *GitHubBridge) BranchExists(ctx context.Context, repo, name string) (bool, error) {
	owner, repoName, err := splitRepo(repo)
	if err != nil {
		return false, err
	}

	_, resp, err := b.client.Repositories.GetBranch(ctx, owner, repoName, name, 0)
	if err != nil {
		if isNotFound(resp) {
			return false, nil
		}
		return false, classify("branch_exists", resp, err)
	}
	return true, nil
}

// CreateBranch creates a branch pointing at the head of from.
func (b *GitHubBridge) CreateBranch(ctx context.Context, repo, name, from string) error {
	owner, repoName, err := splitRepo(repo)
	if err != nil {
		return err
	}

	baseRef, resp, err := b.client.Git.GetRef(ctx, owner, repoName, "refs/heads/"+from)
	if err != nil {
		return classify("get_base_ref", resp, err)
	}

	_, resp, err = b.client.Git.CreateRef(ctx, owner, repoName, &github.Reference{
		Ref:    github.String("refs/heads/" + name),
		Object: &github.GitObject{SHA: baseRef.Object.SHA},
	})
	if err != nil {
		return classify("create_branch", resp, err)
	}
	return nil
}

// WriteFile commits one file create or update onto branch.
func (b *GitHubBridge) WriteFile(ctx context.Context, repo, branch string, write FileWrite) error {
	owner, repoName, err := splitRepo(repo)
	if err != nil {
		return err
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(write.Message),
		Content: []byte(write.Content),
		Branch:  github.String(branch),
	}

	if !write.Create {
		// Updates need the current blob SHA.
		existing, _, resp, err := b.client.Repositories.GetContents(ctx, owner, repoName, write.Path,
			&github.RepositoryContentGetOptions{Ref: branch})
		if err != nil {
			return classify("get_file_sha", resp, err)
		}
		if existing == nil {
			return faults.New("get_file_sha", faults.CodeUnrecoverable, "%s is not a file", write.Path)
		}
		opts.SHA = existing.SHA
	}

	_, resp, err := b.client.Repositories.CreateFile(ctx, owner, repoName, write.Path, opts)
	if err != nil {
		return classify("write_file", resp, err)
	}
	return nil
}

// OpenChangeRequest opens a pull request and returns its URL.
func (b *GitHubBridge) OpenChangeRequest(ctx context.Context, repo string, cr ChangeRequest) (string, error) {
	owner, repoName, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	pr, resp, err := b.client.PullRequests.Create(ctx, owner, repoName, &github.NewPullRequest{
		Title: github.String(cr.Title),
		Body:  github.String(cr.Body),
		Head:  github.String(cr.Head),
		Base:  github.String(cr.Base),
	})
	if err != nil {
		return "", classify("open_change_request", resp, err)
	}
	return pr.GetHTMLURL(), nil
}

// DeleteBranch removes a branch. A 404 is treated as success: the branch
// is gone either way.
func (b *GitHubBridge) DeleteBranch(ctx context.Context, repo, name string) error {
	owner, repoName, err := splitRepo(repo)
	if err != nil {
		return err
	}

	resp, err := b.client.Git.DeleteRef(ctx, owner, repoName, "refs/heads/"+name)
	if err != nil {
		if isNotFound(resp) {
			return nil
		}
		return classify("delete_branch", resp, err)
	}
	return nil
}
