package prmsg_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/byte4ever/cherrysync/backport/platform"
	"github.com/byte4ever/cherrysync/backport/prmsg"
)

func sampleSource() prmsg.Source {
	return prmsg.Source{
		Ref: platform.PullRequestRef{
			Platform: platform.Gitee,
			Owner:    "acme",
			Repo:     "widgets",
			Number:   42,
		},
		URL:        "https://gitee.com/acme/widgets/pulls/42",
		Title:      "Fix widget alignment",
		Body:       "Aligns widgets on narrow screens.",
		TargetRepo: "acme/widgets-stable",
	}
}

func TestTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		src    prmsg.Source
		prefix string
		want   string
	}{
		{
			name:   "default prefix",
			src:    sampleSource(),
			prefix: "",
			want:   "Cherry-pick: Fix widget alignment",
		},
		{
			name:   "custom prefix",
			src:    sampleSource(),
			prefix: "[backport]",
			want:   "[backport] Fix widget alignment",
		},
		{
			name: "empty title falls back to number",
			src: prmsg.Source{
				Ref: platform.PullRequestRef{Number: 7},
			},
			prefix: "",
			want:   "Cherry-pick: PR #7",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(
				t, tc.want, prmsg.Title(tc.src, tc.prefix),
			)
		})
	}
}

func TestBody_marker(t *testing.T) {
	t.Parallel()

	body := prmsg.Body(sampleSource(), "")

	assert.Contains(
		t, body, "Aligns widgets on narrow screens.",
	)
	assert.Contains(
		t, body,
		"Backported-from: "+
			"https://gitee.com/acme/widgets/pulls/42",
	)
}

func TestBody_tailTemplate(t *testing.T) {
	t.Parallel()

	tail := "Replayed from {pr_url} " +
		"({platform} #{pr_number}) into {target_repo} " +
		"via {personal_repo}."

	body := prmsg.Body(sampleSource(), tail)

	assert.Contains(
		t, body,
		"Replayed from "+
			"https://gitee.com/acme/widgets/pulls/42 "+
			"(gitee #42) into acme/widgets-stable "+
			"via acme/widgets-stable.",
	)
}

func TestBody_personalRepo(t *testing.T) {
	t.Parallel()

	src := sampleSource()
	src.PersonalRepo = "me/widgets-stable"

	body := prmsg.Body(src, "fork: {personal_repo}")

	assert.Contains(t, body, "fork: me/widgets-stable")
}

func TestBody_capKeepsMarker(t *testing.T) {
	t.Parallel()

	src := sampleSource()
	src.Body = strings.Repeat("x", 70000)

	body := prmsg.Body(src, "")

	assert.LessOrEqual(t, len(body), 65536)
	assert.Equal(
		t, src.URL, prmsg.ExtractOrigin(body),
	)
}

func TestBody_capHugeTail(t *testing.T) {
	t.Parallel()

	// The tail alone exceeds the cap; the marker sits before it in
	// the note and must survive.
	body := prmsg.Body(
		sampleSource(), strings.Repeat("x", 70000),
	)

	assert.LessOrEqual(t, len(body), 65536)
	assert.Equal(
		t,
		"https://gitee.com/acme/widgets/pulls/42",
		prmsg.ExtractOrigin(body),
	)
}

func TestBody_capHugeBodyAndTail(t *testing.T) {
	t.Parallel()

	src := sampleSource()
	src.Body = strings.Repeat("y", 70000)

	body := prmsg.Body(src, strings.Repeat("x", 70000))

	assert.LessOrEqual(t, len(body), 65536)
}

func TestBody_capKeepsRunesWhole(t *testing.T) {
	t.Parallel()

	src := sampleSource()
	src.Body = strings.Repeat("é", 40000)

	body := prmsg.Body(src, "")

	assert.LessOrEqual(t, len(body), 65536)
	assert.True(t, utf8.ValidString(body))
}

func TestExtractOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "round trip",
			body: prmsg.Body(sampleSource(), ""),
			want: "https://gitee.com/acme/widgets/pulls/42",
		},
		{
			name: "absent marker",
			body: "plain body",
			want: "",
		},
		{
			name: "marker with trailing space",
			body: "Backported-from: https://x/p/1  \n",
			want: "https://x/p/1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(
				t, tc.want, prmsg.ExtractOrigin(tc.body),
			)
		})
	}
}
