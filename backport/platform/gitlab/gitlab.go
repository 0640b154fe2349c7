// Package gitlab implements a platform.Client for GitLab merge
// requests on top of the official client-go bindings.
package gitlab

import (
	"context"
	"fmt"
	"net/http"

	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/byte4ever/cherrysync/backport/platform"
)

// Config holds the settings needed to create a GitLab client.
type Config struct {
	// AccessToken is a personal or project access token.
	AccessToken string
	// Host is the base URL of the GitLab instance (e.g.
	// "https://gitlab.com"). Empty means gitlab.com.
	Host string
}

// Client fetches merge requests and creates backport MRs on GitLab.
//
// Pattern: Strategy -- implements platform.Client.
type Client struct {
	api *gl.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating gitlab client"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	host := cfg.Host
	if host == "" {
		host = "https://gitlab.com"
	}

	api, err := gl.NewClient(
		cfg.AccessToken,
		gl.WithBaseURL(host),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: new client: %w", errCtx, err,
		)
	}

	return &Client{api: api}, nil
}

// FetchPullRequest returns the MR metadata for ref.
func (c *Client) FetchPullRequest(
	ctx context.Context,
	ref platform.PullRequestRef,
) (*platform.PullRequest, error) {
	const errCtx = "fetching gitlab merge request"

	mr, resp, err := c.api.MergeRequests.GetMergeRequest(
		ref.Slug(), ref.Number, nil,
		gl.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, classify(resp, err),
		)
	}

	pr := &platform.PullRequest{
		Title:   mr.Title,
		Body:    mr.Description,
		HeadRef: mr.SourceBranch,
		BaseRef: mr.TargetBranch,
		HeadSHA: mr.SHA,
	}

	pr.BaseSHA = mr.DiffRefs.BaseSha

	return pr, nil
}

// FetchCommits returns the MR commits, earliest-first. GitLab lists
// them newest-first, so the pages are collected and reversed.
func (c *Client) FetchCommits(
	ctx context.Context,
	ref platform.PullRequestRef,
) ([]platform.Commit, error) {
	const errCtx = "fetching gitlab commits"

	opts := &gl.GetMergeRequestCommitsOptions{
		PerPage: 100,
	}

	var newestFirst []platform.Commit

	for {
		page, resp, err := c.api.MergeRequests.GetMergeRequestCommits(
			ref.Slug(), ref.Number, opts,
			gl.WithContext(ctx),
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, classify(resp, err),
			)
		}

		for _, rc := range page {
			commit := platform.Commit{
				SHA:     rc.ID,
				Author:  rc.AuthorName,
				Message: rc.Message,
			}

			if rc.AuthoredDate != nil {
				commit.Timestamp = *rc.AuthoredDate
			} else if rc.CreatedAt != nil {
				commit.Timestamp = *rc.CreatedAt
			}

			newestFirst = append(newestFirst, commit)
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	commits := make(
		[]platform.Commit, 0, len(newestFirst),
	)
	for i := len(newestFirst) - 1; i >= 0; i-- {
		commits = append(commits, newestFirst[i])
	}

	return commits, nil
}

// CreatePullRequest opens a merge request and returns its web URL.
// When the source branch lives in a fork the MR is created from the
// fork project targeting the upstream project.
func (c *Client) CreatePullRequest(
	ctx context.Context,
	opts platform.CreatePROptions,
) (string, error) {
	const errCtx = "creating gitlab merge request"

	mrOpts := &gl.CreateMergeRequestOptions{
		Title:        &opts.Title,
		Description:  &opts.Body,
		SourceBranch: &opts.SourceBranch,
		TargetBranch: &opts.TargetBranch,
	}

	project := opts.TargetRepo

	if opts.SourceRepo != "" &&
		opts.SourceRepo != opts.TargetRepo {
		// Cross-project MR: created from the fork, targeting the
		// upstream project by numeric ID.
		project = opts.SourceRepo

		target, resp, err := c.api.Projects.GetProject(
			opts.TargetRepo, nil,
			gl.WithContext(ctx),
		)
		if err != nil {
			return "", fmt.Errorf(
				"%s: resolve target project: %w",
				errCtx, classify(resp, err),
			)
		}

		mrOpts.TargetProjectID = &target.ID
	}

	created, resp, err := c.api.MergeRequests.CreateMergeRequest(
		project, mrOpts,
		gl.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %w", errCtx, classify(resp, err),
		)
	}

	return created.WebURL, nil
}

// classify maps a client-go error to the shared platform taxonomy,
// keeping the underlying error text.
func classify(resp *gl.Response, err error) error {
	if resp == nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", platform.ErrAuth, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
	case http.StatusConflict:
		return fmt.Errorf("%w: %v", platform.ErrPRExists, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf(
			"%w: %v", platform.ErrRateLimited, err,
		)
	case http.StatusBadRequest,
		http.StatusUnprocessableEntity:
		return fmt.Errorf(
			"%w: %v", platform.ErrValidation, err,
		)
	default:
		return err
	}
}
