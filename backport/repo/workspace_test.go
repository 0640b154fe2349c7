package repo_test

import (
	"context"
	"os"
	oe "os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byte4ever/cherrysync/backport/platform"
	"github.com/byte4ever/cherrysync/backport/repo"
)

func TestAcquire_existing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	ws, err := repo.Acquire(
		context.Background(),
		repo.AcquireOptions{ExistingPath: dir},
	)

	require.NoError(t, err)
	assert.Equal(t, dir, ws.Dir)
	assert.False(t, ws.Ephemeral)

	// Close never removes a caller-owned directory.
	require.NoError(t, ws.Close())

	_, statErr := os.Stat(dir)
	assert.NoError(t, statErr)
}

func TestAcquire_existingNotARepo(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := repo.Acquire(
		context.Background(),
		repo.AcquireOptions{ExistingPath: dir},
	)

	assert.ErrorContains(t, err, "not a git repository")
}

func TestAcquire_ephemeralClone(t *testing.T) {
	t.Parallel()

	upstream := t.TempDir()
	initGitRepo(t, upstream)

	ws, err := repo.Acquire(
		context.Background(),
		repo.AcquireOptions{
			CloneURL:   upstream,
			TempParent: t.TempDir(),
		},
	)

	require.NoError(t, err)
	assert.True(t, ws.Ephemeral)
	assert.DirExists(t, ws.Dir)

	require.NoError(t, ws.Close())

	_, statErr := os.Stat(ws.Dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcquire_cloneFailureCleansUp(t *testing.T) {
	t.Parallel()

	parent := t.TempDir()

	_, err := repo.Acquire(
		context.Background(),
		repo.AcquireOptions{
			CloneURL:   filepath.Join(parent, "missing"),
			TempParent: parent,
		},
	)

	require.Error(t, err)

	// The failed clone directory must not linger.
	entries, readErr := os.ReadDir(parent)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

func TestAcquire_missingCloneURL(t *testing.T) {
	t.Parallel()

	_, err := repo.Acquire(
		context.Background(), repo.AcquireOptions{},
	)

	assert.ErrorContains(t, err, "clone url")
}

func TestWorkspace_CheckoutNewBranch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	dir := t.TempDir()
	initGitRepo(t, dir)

	ws := existingWorkspace(t, dir)

	require.NoError(
		t, ws.CheckoutNewBranch(ctx, "replay", "main"),
	)

	branch, err := ws.CurrentBranch(ctx)
	require.NoError(t, err)
	assert.Equal(t, "replay", branch)

	// Re-creating the branch resets it instead of failing.
	require.NoError(
		t, ws.CheckoutNewBranch(ctx, "replay", "main"),
	)
}

func TestWorkspace_CherryPick_applied(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	dir := t.TempDir()
	initGitRepo(t, dir)

	sha := commitFile(
		t, dir, "feature.txt", "feature\n", "add feature",
	)

	ws := existingWorkspace(t, dir)

	require.NoError(
		t, ws.CheckoutNewBranch(ctx, "replay", "main~1"),
	)

	outcome, err := ws.CherryPick(
		ctx, platform.Commit{SHA: sha},
	)

	require.NoError(t, err)
	assert.Equal(t, repo.Applied, outcome.Status)
	assert.Equal(t, sha, outcome.SHA)

	content, readErr := os.ReadFile(
		filepath.Join(dir, "feature.txt"),
	)
	require.NoError(t, readErr)
	assert.Equal(t, "feature\n", string(content))
}

func TestWorkspace_CherryPick_conflictAborts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	dir := t.TempDir()
	initGitRepo(t, dir)

	commitFile(t, dir, "shared.txt", "base\n", "add shared")

	gitCmd(t, dir, "checkout", "-b", "feature")

	featureSHA := commitFile(
		t, dir, "shared.txt", "feature\n", "feature edit",
	)

	gitCmd(t, dir, "checkout", "main")
	commitFile(t, dir, "shared.txt", "main\n", "main edit")

	ws := existingWorkspace(t, dir)

	outcome, err := ws.CherryPick(
		ctx, platform.Commit{SHA: featureSHA},
	)

	require.NoError(t, err)
	assert.Equal(t, repo.Conflicted, outcome.Status)
	assert.Contains(t, outcome.ConflictPaths, "shared.txt")

	// The conflicted pick must have been aborted: clean tree,
	// original content restored.
	assert.True(t, ws.IsClean(ctx))

	content, readErr := os.ReadFile(
		filepath.Join(dir, "shared.txt"),
	)
	require.NoError(t, readErr)
	assert.Equal(t, "main\n", string(content))
}

func TestWorkspace_CherryPick_expiredContextCleanup(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	initGitRepo(t, dir)

	commitFile(t, dir, "shared.txt", "base\n", "add shared")

	gitCmd(t, dir, "checkout", "-b", "feature")

	featureSHA := commitFile(
		t, dir, "shared.txt", "feature\n", "feature edit",
	)

	gitCmd(t, dir, "checkout", "main")
	commitFile(t, dir, "shared.txt", "main\n", "main edit")

	// A pick already in flight when the context dies.
	pick := oe.Command("git", "cherry-pick", featureSHA)
	pick.Dir = dir
	_ = pick.Run()

	ws := existingWorkspace(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := ws.CherryPick(
		ctx, platform.Commit{SHA: featureSHA},
	)

	// The dead context must not block the cleanup: the conflict is
	// still observed and the pick state released.
	require.NoError(t, err)
	assert.Equal(t, repo.Conflicted, outcome.Status)
	assert.Contains(t, outcome.ConflictPaths, "shared.txt")

	assert.True(t, ws.IsClean(context.Background()))
	assert.NoFileExists(
		t, filepath.Join(dir, ".git", "CHERRY_PICK_HEAD"),
	)
}

func TestWorkspace_CherryPick_emptySkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	dir := t.TempDir()
	initGitRepo(t, dir)

	sha := commitFile(
		t, dir, "same.txt", "same\n", "add same",
	)

	ws := existingWorkspace(t, dir)

	// Picking a commit already contained in HEAD produces an
	// empty cherry-pick.
	outcome, err := ws.CherryPick(
		ctx, platform.Commit{SHA: sha},
	)

	require.NoError(t, err)
	assert.Equal(t, repo.Skipped, outcome.Status)
	assert.True(t, ws.IsClean(ctx))
}

func TestWorkspace_patchRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	dir := t.TempDir()
	initGitRepo(t, dir)

	commitFile(t, dir, "data.txt", "v1\n", "add data")

	gitCmd(t, dir, "checkout", "-b", "feature")

	featureSHA := commitFile(
		t, dir, "data.txt", "v2\n", "bump data",
	)

	ws := existingWorkspace(t, dir)

	patch, err := ws.ExportPatch(ctx, featureSHA)
	require.NoError(t, err)
	assert.Contains(t, patch, "bump data")

	// Apply the patch on one branch, cherry-pick directly on
	// another; both must produce the same tree.
	require.NoError(
		t, ws.CheckoutNewBranch(ctx, "via-patch", "main"),
	)

	patchPath := filepath.Join(t.TempDir(), "change.patch")
	require.NoError(
		t, os.WriteFile(patchPath, []byte(patch), 0o600),
	)

	require.NoError(t, ws.ApplyPatch(ctx, patchPath))

	patchTree, err := ws.TreeSHA(ctx, "via-patch")
	require.NoError(t, err)

	require.NoError(
		t, ws.CheckoutNewBranch(ctx, "via-pick", "main"),
	)

	outcome, err := ws.CherryPick(
		ctx, platform.Commit{SHA: featureSHA},
	)
	require.NoError(t, err)
	require.Equal(t, repo.Applied, outcome.Status)

	pickTree, err := ws.TreeSHA(ctx, "via-pick")
	require.NoError(t, err)

	assert.Equal(t, pickTree, patchTree)
}

func TestWorkspace_Push(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	remote := t.TempDir()
	gitCmd(t, remote, "init", "--bare", "-b", "main")

	dir := t.TempDir()
	initGitRepo(t, dir)
	gitCmd(t, dir, "remote", "add", "origin", remote)

	ws := existingWorkspace(t, dir)

	require.NoError(t, ws.Push(ctx, "origin", "main"))

	// Verify the branch landed on the remote.
	out, err := oe.Command(
		"git", "-C", remote,
		"rev-parse", "refs/heads/main",
	).Output()
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(string(out)))
}

func TestWorkspace_Push_rejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	remote := t.TempDir()
	gitCmd(t, remote, "init", "--bare", "-b", "main")

	// Two clones of the same remote; the second push is a
	// non-fast-forward.
	ahead := t.TempDir()
	initGitRepo(t, ahead)
	gitCmd(t, ahead, "remote", "add", "origin", remote)
	gitCmd(t, ahead, "push", "origin", "main")

	behind := t.TempDir()
	gitCmd(t, behind, "clone", remote, ".")
	configGitUser(t, behind)
	gitCmd(
		t, behind, "commit",
		"--allow-empty", "-m", "diverge",
	)

	gitCmd(
		t, ahead, "commit",
		"--allow-empty", "-m", "advance",
	)
	gitCmd(t, ahead, "push", "origin", "main")

	ws := existingWorkspace(t, behind)

	err := ws.Push(ctx, "origin", "main")

	assert.ErrorIs(t, err, repo.ErrPushRejected)
}

func TestWorkspace_AddRemote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	dir := t.TempDir()
	initGitRepo(t, dir)

	ws := existingWorkspace(t, dir)

	require.NoError(
		t, ws.AddRemote(ctx, "pr-source", "https://a/x.git"),
	)

	// Adding again replaces the URL.
	require.NoError(
		t, ws.AddRemote(ctx, "pr-source", "https://b/y.git"),
	)

	out, err := oe.Command(
		"git", "-C", dir,
		"remote", "get-url", "pr-source",
	).Output()
	require.NoError(t, err)
	assert.Equal(
		t, "https://b/y.git",
		strings.TrimSpace(string(out)),
	)

	ws.RemoveRemote(ctx, "pr-source")

	getErr := oe.Command(
		"git", "-C", dir,
		"remote", "get-url", "pr-source",
	).Run()
	assert.Error(t, getErr)
}

// existingWorkspace wraps an initialised repository.
func existingWorkspace(
	tb testing.TB,
	dir string,
) *repo.Workspace {
	tb.Helper()

	ws, err := repo.Acquire(
		context.Background(),
		repo.AcquireOptions{ExistingPath: dir},
	)
	require.NoError(tb, err)

	return ws
}

// initGitRepo creates a git repository with one initial commit on
// main. Git hooks are disabled to avoid interference from pre-commit
// hooks.
func initGitRepo(tb testing.TB, dir string) {
	tb.Helper()

	gitCmd(tb, dir, "init", "-b", "main")
	configGitUser(tb, dir)
	gitCmd(
		tb, dir, "commit",
		"--allow-empty", "-m", "initial",
	)
}

// configGitUser sets the identity and disables hooks for a test
// repository.
func configGitUser(tb testing.TB, dir string) {
	tb.Helper()

	gitCmd(tb, dir, "config", "user.email", "test@test.com")
	gitCmd(tb, dir, "config", "user.name", "Test")
	gitCmd(tb, dir, "config", "core.hooksPath", "/dev/null")
}

// commitFile writes path with content, commits it, and returns the
// commit SHA.
func commitFile(
	tb testing.TB,
	dir string,
	name string,
	content string,
	msg string,
) string {
	tb.Helper()

	fp := filepath.Join(dir, name)

	err := os.WriteFile(fp, []byte(content), 0o600)
	require.NoError(tb, err)

	gitCmd(tb, dir, "add", name)
	gitCmd(tb, dir, "commit", "-m", msg)

	out, err := oe.Command(
		"git", "-C", dir, "rev-parse", "HEAD",
	).Output()
	require.NoError(tb, err)

	return strings.TrimSpace(string(out))
}

// gitCmd runs a git command in the given directory.
func gitCmd(
	tb testing.TB,
	dir string,
	args ...string,
) {
	tb.Helper()

	cmd := oe.Command("git", args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	require.NoError(
		tb, err,
		"git %v failed: %s", args, string(out),
	)
}
