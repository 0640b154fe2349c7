// Package gitee implements a platform.Client for Gitee using its v5
// REST API directly.
package gitee

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/byte4ever/cherrysync/backport/platform"
)

// DefaultAPIBase is the public Gitee v5 API endpoint.
const DefaultAPIBase = "https://gitee.com/api/v5"

const acceptHeader = "application/json;charset=UTF-8"

const commitsPerPage = 100

// Config holds the settings needed to create a Gitee client.
type Config struct {
	// AccessToken is a Gitee personal access token.
	AccessToken string
	// APIBase overrides the API endpoint. Empty means DefaultAPIBase.
	APIBase string
	// HTTPClient overrides the HTTP client. Nil means
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Client fetches pull requests and creates backport PRs on Gitee.
//
// Pattern: Strategy -- implements platform.Client.
type Client struct {
	token   string
	apiBase string
	httpc   *http.Client
}

type prBranch struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type pullResponse struct {
	Title   string   `json:"title"`
	Body    string   `json:"body"`
	HTMLURL string   `json:"html_url"`
	Head    prBranch `json:"head"`
	Base    prBranch `json:"base"`
}

type commitAuthor struct {
	Name string `json:"name"`
	Date string `json:"date"`
}

type commitDetail struct {
	Message string       `json:"message"`
	Author  commitAuthor `json:"author"`
}

type commitResponse struct {
	SHA    string       `json:"sha"`
	Commit commitDetail `json:"commit"`
}

type createRequest struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	const errCtx = "creating gitee client"

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
	const errCtx = "fetching gitee pull request"

	url := fmt.Sprintf(
		"%s/repos/%s/pulls/%d",
		c.apiBase, ref.Slug(), ref.Number,
	)

	var pr pullResponse

	if err := c.do(
		ctx, http.MethodGet, url, nil, &pr,
	); err != nil {
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

// FetchCommits returns the PR commits, earliest-first, following
// pagination.
func (c *Client) FetchCommits(
	ctx context.Context,
	ref platform.PullRequestRef,
) ([]platform.Commit, error) {
	const errCtx = "fetching gitee commits"

	var commits []platform.Commit

	for page := 1; ; page++ {
		url := fmt.Sprintf(
			"%s/repos/%s/pulls/%d/commits?page=%d&per_page=%d",
			c.apiBase, ref.Slug(), ref.Number,
			page, commitsPerPage,
		)

		var batch []commitResponse

		if err := c.do(
			ctx, http.MethodGet, url, nil, &batch,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}

		for _, rc := range batch {
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

		if len(batch) < commitsPerPage {
			break
		}
	}

	return commits, nil
}

// CreatePullRequest opens a PR and returns its HTML URL. When the
// source branch lives in a fork, head is "owner:branch".
func (c *Client) CreatePullRequest(
	ctx context.Context,
	opts platform.CreatePROptions,
) (string, error) {
	const errCtx = "creating gitee pull request"

	head := opts.SourceBranch

	if opts.SourceRepo != "" &&
		opts.SourceRepo != opts.TargetRepo {
		srcOwner, _, _ := strings.Cut(opts.SourceRepo, "/")
		head = srcOwner + ":" + opts.SourceBranch
	}

	url := c.apiBase + "/repos/" + opts.TargetRepo + "/pulls"

	var created pullResponse

	err := c.do(
		ctx, http.MethodPost, url, &createRequest{
			Title: opts.Title,
			Body:  opts.Body,
			Head:  head,
			Base:  opts.TargetBranch,
		}, &created,
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return created.HTMLURL, nil
}

// do sends one API request with bearer auth and decodes the JSON
// response into out. Non-2xx statuses map to the shared platform error
// taxonomy.
func (c *Client) do(
	ctx context.Context,
	method string,
	url string,
	payload any,
	out any,
) error {
	const errCtx = "calling gitee api"

	var body io.Reader

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf(
				"%s: marshal request: %w", errCtx, err,
			)
		}

		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, url, body,
	)
	if err != nil {
		return fmt.Errorf(
			"%s: build request: %w", errCtx, err,
		)
	}

	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Authorization", "Bearer "+c.token)

	if payload != nil {
		req.Header.Set(
			"Content-Type",
			"application/json; charset=utf-8",
		)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf(
			"%s: send request: %w", errCtx, err,
		)
	}

	defer resp.Body.Close() //nolint:errcheck

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf(
			"%s: read response: %w", errCtx, err,
		)
	}

	if resp.StatusCode < http.StatusOK ||
		resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf(
			"%s: %w", errCtx,
			statusError(resp.StatusCode, rb),
		)
	}

	if out == nil {
		return nil
	}

	if err := json.Unmarshal(rb, out); err != nil {
		return fmt.Errorf(
			"%s: decode response: %w", errCtx, err,
		)
	}

	return nil
}

// statusError converts an HTTP status into the taxonomy sentinel,
// keeping the response body for diagnostics.
func statusError(status int, body []byte) error {
	detail := strconv.Itoa(status) + " " + string(body)

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
		return fmt.Errorf(
			"unexpected status %s", detail,
		)
	}
}
