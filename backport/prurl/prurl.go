// Package prurl resolves pull request URLs into platform-neutral
// identities. Resolution is a pure table lookup over host substrings and
// path shapes; no network access is performed.
package prurl

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/byte4ever/cherrysync/backport/platform"
)

// ErrInvalidURL indicates the URL does not match any supported pull
// request link shape.
var ErrInvalidURL = errors.New("invalid pull request url")

// hostRule binds a host substring to a platform and the path segments
// separating "owner/repo" from the numeric PR segment.
type hostRule struct {
	hostPart string
	platform platform.Platform
	marker   []string
}

// Path shapes per platform:
//
//	github.com/<owner>/<repo>/pull/<n>
//	gitee.com/<owner>/<repo>/pulls/<n>
//	atomgit.com/<owner>/<repo>/pulls/<n>
//	gitlab.com/<owner>/<repo>/-/merge_requests/<n>
var rules = []hostRule{
	{
		hostPart: "github.com",
		platform: platform.GitHub,
		marker:   []string{"pull"},
	},
	{
		hostPart: "gitee.com",
		platform: platform.Gitee,
		marker:   []string{"pulls"},
	},
	{
		hostPart: "atomgit.com",
		platform: platform.AtomGit,
		marker:   []string{"pulls"},
	},
	{
		hostPart: "gitlab.com",
		platform: platform.GitLab,
		marker:   []string{"-", "merge_requests"},
	},
}

// Resolve parses a pull request URL into a PullRequestRef. It fails
// with ErrInvalidURL when the host is unrecognized, the path shape does
// not match, or the PR segment is not a positive number.
func Resolve(raw string) (platform.PullRequestRef, error) {
	const errCtx = "resolving pull request url"

	var zero platform.PullRequestRef

	parsed, err := url.Parse(raw)
	if err != nil {
		return zero, fmt.Errorf(
			"%s: %q: %w", errCtx, raw, ErrInvalidURL,
		)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return zero, fmt.Errorf(
			"%s: %q: %w", errCtx, raw, ErrInvalidURL,
		)
	}

	host := parsed.Hostname()

	for _, rule := range rules {
		if !strings.Contains(host, rule.hostPart) {
			continue
		}

		ref, ok := matchPath(parsed.Path, rule)
		if !ok {
			return zero, fmt.Errorf(
				"%s: %q: %w", errCtx, raw, ErrInvalidURL,
			)
		}

		return ref, nil
	}

	return zero, fmt.Errorf(
		"%s: unsupported host %q: %w", errCtx, host, ErrInvalidURL,
	)
}

// matchPath checks the path against "/owner/repo/<marker...>/<number>"
// and extracts the reference fields.
func matchPath(
	path string,
	rule hostRule,
) (platform.PullRequestRef, bool) {
	var zero platform.PullRequestRef

	segs := splitPath(path)

	// owner, repo, marker segments, number.
	want := 2 + len(rule.marker) + 1
	if len(segs) != want {
		return zero, false
	}

	for i, m := range rule.marker {
		if segs[2+i] != m {
			return zero, false
		}
	}

	num, err := strconv.Atoi(segs[len(segs)-1])
	if err != nil || num <= 0 {
		return zero, false
	}

	return platform.PullRequestRef{
		Platform: rule.platform,
		Owner:    segs[0],
		Repo:     segs[1],
		Number:   num,
	}, true
}

// splitPath splits a URL path into non-empty segments.
func splitPath(path string) []string {
	var segs []string

	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}

	return segs
}
