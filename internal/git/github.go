// Package git talks to the source-control host through the gh CLI. Pipeline
// stages depend on the SourceControlClient interface so tests can substitute
// a fake.
package git

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/josedab/docsynth-sub010/internal/models"
)

// PullRequest is the PR metadata the pipeline consumes.
type PullRequest struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	Branch string `json:"headRefName"`
	URL    string `json:"url"`
}

// SourceControlClient is the host surface the pipeline needs: PR metadata,
// the changed-file list, repository files, review notifications, and
// documentation PRs.
type SourceControlClient interface {
	GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error)
	ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]models.FileChange, error)
	GetFileContent(ctx context.Context, owner, repo, path string) ([]byte, error)
	CreatePRComment(ctx context.Context, owner, repo string, number int, body string) error
	CreateDocPR(ctx context.Context, owner, repo, branch, title, body string) (string, error)
}

// GHClient implements SourceControlClient using the gh CLI.
type GHClient struct{}

// NewGHClient returns a new GHClient.
func NewGHClient() *GHClient {
	return &GHClient{}
}

func ghCmd(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "gh", args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %s", strings.Join(args, " "), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *GHClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	out, err := ghCmd(ctx, "pr", "view", fmt.Sprintf("%d", number),
		"--repo", fmt.Sprintf("%s/%s", owner, repo),
		"--json", "number,title,body,state,headRefName,url",
	)
	if err != nil {
		return nil, err
	}

	var pr PullRequest
	if err := json.Unmarshal([]byte(out), &pr); err != nil {
		return nil, fmt.Errorf("parse PR: %w", err)
	}
	return &pr, nil
}

type prFileRaw struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

func (c *GHClient) ListPullRequestFiles(ctx context.Context, owner, repo string, number int) ([]models.FileChange, error) {
	out, err := ghCmd(ctx, "api", "--paginate",
		fmt.Sprintf("repos/%s/%s/pulls/%d/files", owner, repo, number),
	)
	if err != nil {
		return nil, err
	}

	var raw []prFileRaw
	if err := json.Unmarshal([]byte(out), &raw); err != nil {
		return nil, fmt.Errorf("parse PR files: %w", err)
	}

	files := make([]models.FileChange, 0, len(raw))
	for _, f := range raw {
		files = append(files, models.FileChange{
			Path:         f.Filename,
			ChangeType:   mapFileStatus(f.Status),
			AddedLines:   f.Additions,
			RemovedLines: f.Deletions,
			Patch:        f.Patch,
		})
	}
	return files, nil
}

// mapFileStatus collapses the host's file statuses onto the three change
// types the analyzer understands. Renames and copies count as modifications.
func mapFileStatus(status string) models.ChangeType {
	switch status {
	case "added":
		return models.ChangeTypeAdded
	case "removed":
		return models.ChangeTypeDeleted
	default:
		return models.ChangeTypeModified
	}
}

// GetFileContent fetches one file from the repository's default branch.
func (c *GHClient) GetFileContent(ctx context.Context, owner, repo, path string) ([]byte, error) {
	out, err := ghCmd(ctx, "api",
		fmt.Sprintf("repos/%s/%s/contents/%s", owner, repo, path),
		"--jq", ".content",
	)
	if err != nil {
		return nil, err
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return decoded, nil
}

func (c *GHClient) CreatePRComment(ctx context.Context, owner, repo string, number int, body string) error {
	_, err := ghCmd(ctx, "pr", "comment", fmt.Sprintf("%d", number),
		"--repo", fmt.Sprintf("%s/%s", owner, repo),
		"--body", body,
	)
	return err
}

func (c *GHClient) CreateDocPR(ctx context.Context, owner, repo, branch, title, body string) (string, error) {
	out, err := ghCmd(ctx, "pr", "create",
		"--repo", fmt.Sprintf("%s/%s", owner, repo),
		"--head", branch,
		"--title", title,
		"--body", body,
	)
	if err != nil {
		return "", err
	}
	return out, nil
}
