package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Pattern: Strategy -- swap git platform without
// changing backport logic.

// Platform identifies a git hosting platform.
type Platform string

// Supported platforms.
const (
	GitHub  Platform = "github"
	Gitee   Platform = "gitee"
	AtomGit Platform = "atomgit"
	GitLab  Platform = "gitlab"
)

// Error taxonomy shared by all platform variants. Variants wrap these
// sentinels so callers can classify failures with errors.Is without
// knowing the wire protocol.
var (
	// ErrAuth indicates the token was rejected (401/403 equivalent).
	ErrAuth = errors.New("authentication rejected")
	// ErrNotFound indicates the pull request or repository does not
	// exist.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited indicates the platform signalled throttling. The
	// caller surfaces it; nothing in this module retries.
	ErrRateLimited = errors.New("rate limited")
	// ErrValidation indicates the platform refused the request content
	// (e.g. the source branch does not exist on the remote).
	ErrValidation = errors.New("validation failed")
	// ErrPRExists indicates a pull request already exists for the
	// branch pair.
	ErrPRExists = errors.New("pull request already exists")
)

// PullRequestRef is the platform-neutral identity of a pull request.
// Immutable once resolved; equality is by all four fields.
type PullRequestRef struct {
	Platform Platform
	Owner    string
	Repo     string
	Number   int
}

// Slug returns the "owner/repo" form of the repository.
func (r PullRequestRef) Slug() string {
	return r.Owner + "/" + r.Repo
}

// String returns a short human-readable form.
func (r PullRequestRef) String() string {
	return fmt.Sprintf(
		"%s/%s/%s#%d", r.Platform, r.Owner, r.Repo, r.Number,
	)
}

// Commit is one commit of a pull request. Sequences of Commit are
// ordered earliest-first and must never be re-sorted: cherry-pick
// replays them in this order.
type Commit struct {
	SHA       string
	Author    string
	Message   string
	Timestamp time.Time
}

// ShortSHA returns an abbreviated SHA for log lines.
func (c Commit) ShortSHA() string {
	const short = 8

	if len(c.SHA) < short {
		return c.SHA
	}

	return c.SHA[:short]
}

// Subject returns the first line of the commit message.
func (c Commit) Subject() string {
	for i := 0; i < len(c.Message); i++ {
		if c.Message[i] == '\n' {
			return c.Message[:i]
		}
	}

	return c.Message
}

// PullRequest holds the metadata the pipeline needs from the source
// pull request.
type PullRequest struct {
	Title   string
	Body    string
	HeadRef string
	BaseRef string
	HeadSHA string
	BaseSHA string
}

// CreatePROptions describes the pull request to open after a successful
// replay. SourceRepo is the repository holding SourceBranch; when empty
// the branch lives in TargetRepo itself.
type CreatePROptions struct {
	TargetRepo   string
	SourceRepo   string
	SourceBranch string
	TargetBranch string
	Title        string
	Body         string
}

// Client is the capability set a platform variant must provide.
type Client interface {
	// FetchPullRequest returns the source PR metadata.
	FetchPullRequest(
		ctx context.Context,
		ref PullRequestRef,
	) (*PullRequest, error)

	// FetchCommits returns the PR's commits, earliest-first.
	FetchCommits(
		ctx context.Context,
		ref PullRequestRef,
	) ([]Commit, error)

	// CreatePullRequest opens a PR and returns its URL.
	CreatePullRequest(
		ctx context.Context,
		opts CreatePROptions,
	) (string, error)
}

// hosts maps each platform to its public git hosting domain.
var hosts = map[Platform]string{
	GitHub:  "github.com",
	Gitee:   "gitee.com",
	AtomGit: "atomgit.com",
	GitLab:  "gitlab.com",
}

// Host returns the git hosting domain for the platform, or empty for
// an unknown value.
func (p Platform) Host() string {
	return hosts[p]
}

// CloneURL builds the HTTPS clone URL for repo ("owner/name") on the
// platform. A non-empty token is embedded as oauth2 basic credentials;
// such URLs must never be logged without redaction.
func CloneURL(p Platform, repo string, token string) string {
	host := p.Host()
	if host == "" {
		return ""
	}

	if token != "" {
		return "https://oauth2:" + token + "@" + host + "/" + repo + ".git"
	}

	return "https://" + host + "/" + repo + ".git"
}
