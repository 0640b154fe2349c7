// Package prmsg builds the title and body of a backport pull request
// and parses the origin marker back out of a generated body.
package prmsg

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/valyala/fasttemplate"

	"github.com/byte4ever/cherrysync/backport/platform"
)

// DefaultTitlePrefix is used when no prefix is configured.
const DefaultTitlePrefix = "Cherry-pick:"

// originMarker is the machine-readable line linking a backport PR body
// to the pull request it was replayed from.
const originMarker = "Backported-from: "

// maxBodyLen caps the PR body; the tail is dropped rather than letting
// the platform reject the request.
const maxBodyLen = 65536

// Source describes the original pull request a backport came from.
type Source struct {
	Ref          platform.PullRequestRef
	URL          string
	Title        string
	Body         string
	TargetRepo   string
	PersonalRepo string
}

// Title returns the backport PR title: the configured prefix (or
// DefaultTitlePrefix) followed by the original title.
func Title(src Source, prefix string) string {
	if prefix == "" {
		prefix = DefaultTitlePrefix
	}

	title := src.Title
	if title == "" {
		title = "PR #" + strconv.Itoa(src.Ref.Number)
	}

	return prefix + " " + title
}

// Body returns the backport PR body: the original body, the origin
// marker line, and the expanded tail template. Tail placeholders use
// single-brace variables: {pr_url}, {platform}, {target_repo},
// {pr_number}, {personal_repo}.
func Body(src Source, tail string) string {
	note := "\n\n" + originMarker + src.URL + "\n"

	if tail != "" {
		personal := src.PersonalRepo
		if personal == "" {
			personal = src.TargetRepo
		}

		note += "\n" + fasttemplate.ExecuteStringStd(
			tail, "{", "}",
			map[string]any{
				"pr_url":        src.URL,
				"platform":      string(src.Ref.Platform),
				"target_repo":   src.TargetRepo,
				"pr_number":     strconv.Itoa(src.Ref.Number),
				"personal_repo": personal,
			},
		) + "\n"
	}

	// The original body gives way first so the origin marker survives
	// the length cap; a note longer than the cap on its own is cut.
	if len(note) >= maxBodyLen {
		return truncate(note, maxBodyLen)
	}

	body := src.Body
	if len(body)+len(note) > maxBodyLen {
		body = truncate(body, maxBodyLen-len(note))
	}

	return body + note
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}

// ExtractOrigin returns the original PR URL recorded in a body
// generated by Body, or empty when the marker is absent.
func ExtractOrigin(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, originMarker) {
			return strings.TrimSpace(
				strings.TrimPrefix(line, originMarker),
			)
		}
	}

	return ""
}
