package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v68/github"

	"github.com/byte4ever/cherrysync/backport/platform"
)

// Config holds the settings needed to create a GitHub client.
type Config struct {
	// AccessToken is a personal access token or GitHub App token
	// used for authentication.
	AccessToken string
	// EnterpriseHost is an optional GitHub Enterprise hostname (e.g.
	// "git.corp.example.com"). Leave empty for github.com.
	EnterpriseHost string
}

// Client fetches pull requests and creates backport PRs on GitHub.
//
// Pattern: Strategy -- implements platform.Client.
type Client struct {
	api *gh.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating github client"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	api := gh.NewClient(nil).
		WithAuthToken(cfg.AccessToken)

	if cfg.EnterpriseHost != "" {
		baseURL := "https://" +
			cfg.EnterpriseHost + "/api/v3/"
		uploadURL := "https://" +
			cfg.EnterpriseHost + "/api/uploads/"

		var err error

		api, err = api.WithEnterpriseURLs(
			baseURL, uploadURL,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: enterprise urls: %w", errCtx, err,
			)
		}
	}

	return &Client{api: api}, nil
}

// FetchPullRequest returns the PR metadata for ref.
func (c *Client) FetchPullRequest(
	ctx context.Context,
	ref platform.PullRequestRef,
) (*platform.PullRequest, error) {
	const errCtx = "fetching github pull request"

	pr, resp, err := c.api.PullRequests.Get(
		ctx, ref.Owner, ref.Repo, ref.Number,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: %w", errCtx, classify(resp, err),
		)
	}

	return &platform.PullRequest{
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		HeadRef: pr.GetHead().GetRef(),
		BaseRef: pr.GetBase().GetRef(),
		HeadSHA: pr.GetHead().GetSHA(),
		BaseSHA: pr.GetBase().GetSHA(),
	}, nil
}

// FetchCommits returns the PR commits, earliest-first. GitHub already
// lists PR commits in application order; pagination is followed so
// large PRs are never truncated.
func (c *Client) FetchCommits(
	ctx context.Context,
	ref platform.PullRequestRef,
) ([]platform.Commit, error) {
	const errCtx = "fetching github commits"

	opts := &gh.ListOptions{PerPage: 100}

	var commits []platform.Commit

	for {
		page, resp, err := c.api.PullRequests.ListCommits(
			ctx, ref.Owner, ref.Repo, ref.Number, opts,
		)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, classify(resp, err),
			)
		}

		for _, rc := range page {
			commits = append(commits, platform.Commit{
				SHA:     rc.GetSHA(),
				Author:  rc.GetCommit().GetAuthor().GetName(),
				Message: rc.GetCommit().GetMessage(),
				Timestamp: rc.GetCommit().
					GetAuthor().GetDate().Time,
			})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return commits, nil
}

// CreatePullRequest opens a PR and returns its HTML URL. When the
// source branch lives in a fork, head is "owner:branch".
func (c *Client) CreatePullRequest(
	ctx context.Context,
	opts platform.CreatePROptions,
) (string, error) {
	const errCtx = "creating github pull request"

	owner, name, err := splitRepo(opts.TargetRepo)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	head := opts.SourceBranch

	if opts.SourceRepo != "" &&
		opts.SourceRepo != opts.TargetRepo {
		srcOwner, _, err := splitRepo(opts.SourceRepo)
		if err != nil {
			return "", fmt.Errorf("%s: %w", errCtx, err)
		}

		head = srcOwner + ":" + opts.SourceBranch
	}

	created, resp, err := c.api.PullRequests.Create(
		ctx, owner, name, &gh.NewPullRequest{
			Title: &opts.Title,
			Head:  &head,
			Base:  &opts.TargetBranch,
			Body:  &opts.Body,
		},
	)
	if err != nil {
		// HTTP 422 covers both "PR already exists" and bad
		// branch references; tell them apart by message.
		if resp != nil &&
			resp.StatusCode ==
				http.StatusUnprocessableEntity &&
			strings.Contains(err.Error(), "already exists") {
			return "", fmt.Errorf(
				"%s: %w", errCtx, platform.ErrPRExists,
			)
		}

		return "", fmt.Errorf(
			"%s: %w", errCtx, classify(resp, err),
		)
	}

	return created.GetHTMLURL(), nil
}

// classify maps a go-github error to the shared platform taxonomy,
// keeping the underlying error text.
func classify(resp *gh.Response, err error) error {
	var rateErr *gh.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf(
			"%w: %v", platform.ErrRateLimited, err,
		)
	}

	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf(
			"%w: %v", platform.ErrRateLimited, err,
		)
	}

	if resp == nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %v", platform.ErrAuth, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf(
			"%w: %v", platform.ErrRateLimited, err,
		)
	case http.StatusUnprocessableEntity:
		return fmt.Errorf(
			"%w: %v", platform.ErrValidation, err,
		)
	default:
		return err
	}
}

// splitRepo splits "owner/name" into its parts.
func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf(
			"repo must be owner/name, got %q", repo,
		)
	}

	return owner, name, nil
}
