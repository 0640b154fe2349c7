package picker_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/cherrysync/backport/picker"
)

func writeConfigFile(
	tb testing.TB,
	content string,
) string {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "config.yaml")

	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(tb, err)

	return path
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
pr_url: https://gitee.com/acme/widgets/pulls/42
target_branch: release-1.0
target_repo: acme/widgets-stable
personal_repo: me/widgets-stable
source_branch: my-replay
create_pr: true
dry_run: false
title_prefix: "[backport]"
body_tail: "Replayed from {pr_url}."
timeout: 45s
temp_dir: /tmp/replays
`)

	cfg, err := picker.LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(
		t, "https://gitee.com/acme/widgets/pulls/42",
		cfg.PRURL,
	)
	assert.Equal(t, "release-1.0", cfg.TargetBranch)
	assert.Equal(t, "acme/widgets-stable", cfg.TargetRepo)
	assert.Equal(t, "me/widgets-stable", cfg.PersonalRepo)
	assert.Equal(t, "my-replay", cfg.SourceBranch)
	assert.True(t, cfg.CreatePR)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, "[backport]", cfg.TitlePrefix)
	assert.Equal(
		t, "Replayed from {pr_url}.", cfg.BodyTail,
	)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, "/tmp/replays", cfg.TempDir)
}

func TestLoadConfig_missingFile(t *testing.T) {
	t.Parallel()

	_, err := picker.LoadConfig(
		filepath.Join(t.TempDir(), "nope.yaml"),
	)

	assert.Error(t, err)
}

func TestLoadConfig_badYAML(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "pr_url: [oops")

	_, err := picker.LoadConfig(path)

	assert.ErrorContains(t, err, "parse yaml")
}

func TestLoadConfig_badTimeout(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "timeout: soonish")

	_, err := picker.LoadConfig(path)

	assert.ErrorContains(t, err, "parse timeout")
}
