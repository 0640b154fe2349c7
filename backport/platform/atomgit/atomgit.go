// Package atomgit implements a platform.Client for AtomGit. The AtomGit
// REST API follows the Gitee v5 wire shape on a different endpoint.
package atomgit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/byte4ever/cherrysync/backport/platform"
)

// DefaultAPIBase is the public AtomGit API endpoint.
const DefaultAPIBase = "https://api.atomgit.com/api/v5"

const acceptHeader = "application/json;charset=UTF-8"

// Config holds the settings needed to create an AtomGit client.
type Config struct {
	// AccessToken is an AtomGit personal access token.
	AccessToken string
	// APIBase overrides the API endpoint. Empty means DefaultAPIBase.
	APIBase string
	// HTTPClient overrides the HTTP client. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Client fetches pull requests and creates backport PRs on AtomGit.
//
// Pattern: Strategy -- implements platform.Client.
type Client struct {
	token   string
	apiBase string
	httpc   *http.Client
}

type branchInfo struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type pullInfo struct {
	Title   string     `json:"title"`
	Body    string     `json:"body"`
	HTMLURL string     `json:"html_url"`
	Head    branchInfo `json:"head"`
	Base    branchInfo `json:"base"`
}

type commitInfo struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name string `json:"name"`
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating atomgit client"

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf(
			"%s: access token must be set", errCtx,
		)
	}

	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}

	httpc := cfg.HTTPClient
	if httpc == nil {
		httpc = http.DefaultClient
	}

	return &Client{
		token:   cfg.AccessToken,
		apiBase: apiBase,
		httpc:   httpc,
	}, nil
}

// FetchPullRequest returns the PR metadata for ref.
func (c *Client) FetchPullRequest(
	ctx context.Context,
	ref platform.PullRequestRef,
) (*platform.PullRequest, error) {
	const errCtx = "fetching atomgit pull request"

	url := fmt.Sprintf(
		"%s/repos/%s/pulls/%d",
		c.apiBase, ref.Slug(), ref.Number,
	)

	var pr pullInfo

	if err := c.get(ctx, url, &pr); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return &platform.PullRequest{
		Title:   pr.Title,
		Body:    pr.Body,
		HeadRef: pr.Head.Ref,
		BaseRef: pr.Base.Ref,
		HeadSHA: pr.Head.SHA,
		BaseSHA: pr.Base.SHA,
	}, nil
}

// FetchCommits returns the PR commits, earliest-first.
func (c *Client) FetchCommits(
	ctx context.Context,
	ref platform.PullRequestRef,
) ([]platform.Commit, error) {
	const errCtx = "fetching atomgit commits"

	url := fmt.Sprintf(
		"%s/repos/%s/pulls/%d/commits",
		c.apiBase, ref.Slug(), ref.Number,
	)

	var raw []commitInfo

	if err := c.get(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	commits := make([]platform.Commit, 0, len(raw))

	for _, rc := range raw {
		ts, _ := time.Parse(
			time.RFC3339, rc.Commit.Author.Date,
		)

		commits = append(commits, platform.Commit{
			SHA:       rc.SHA,
			Author:    rc.Commit.Author.Name,
			Message:   rc.Commit.Message,
			Timestamp: ts,
		})
	}

	return commits, nil
}

// CreatePullRequest opens a PR and returns its HTML URL.
func (c *Client) CreatePullRequest(
	ctx context.Context,
	opts platform.CreatePROptions,
) (string, error) {
	const errCtx = "creating atomgit pull request"

	head := opts.SourceBranch

	if opts.SourceRepo != "" &&
		opts.SourceRepo != opts.TargetRepo {
		srcOwner, _, _ := strings.Cut(opts.SourceRepo, "/")
		head = srcOwner + ":" + opts.SourceBranch
	}

	payload, err := json.Marshal(map[string]string{
		"title": opts.Title,
		"body":  opts.Body,
		"head":  head,
		"base":  opts.TargetBranch,
	})
	if err != nil {
		return "", fmt.Errorf(
			"%s: marshal request: %w", errCtx, err,
		)
	}

	url := c.apiBase + "/repos/" + opts.TargetRepo + "/pulls"

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url,
		bytes.NewReader(payload),
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: build request: %w", errCtx, err,
		)
	}

	req.Header.Set(
		"Content-Type",
		"application/json; charset=utf-8",
	)

	var created pullInfo

	if err := c.send(req, &created); err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return created.HTMLURL, nil
}

// get issues a GET request and decodes the response into out.
func (c *Client) get(
	ctx context.Context,
	url string,
	out any,
) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, url, nil,
	)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	return c.send(req, out)
}

// send executes the request with bearer auth and maps non-2xx
// statuses to the shared platform error taxonomy.
func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK ||
		resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(resp.StatusCode, rb)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(rb, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// statusError converts an HTTP status into a taxonomy sentinel.
func statusError(status int, body []byte) error {
	detail := fmt.Sprintf("%d %s", status, body)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", platform.ErrAuth, detail)
	case http.StatusNotFound:
		return fmt.Errorf(
			"%w: %s", platform.ErrNotFound, detail,
		)
	case http.StatusConflict:
		return fmt.Errorf(
			"%w: %s", platform.ErrPRExists, detail,
		)
	case http.StatusTooManyRequests:
		return fmt.Errorf(
			"%w: %s", platform.ErrRateLimited, detail,
		)
	case http.StatusBadRequest,
		http.StatusUnprocessableEntity:
		return fmt.Errorf(
			"%w: %s", platform.ErrValidation, detail,
		)
	default:
		return fmt.Errorf("unexpected status %s", detail)
	}
}
