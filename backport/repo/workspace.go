package repo

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/byte4ever/cherrysync/backport/exec"
	"github.com/byte4ever/cherrysync/backport/platform"
)

// ErrPushRejected indicates the remote refused the push (non-fast-
// forward, missing permission, or deleted branch protection).
var ErrPushRejected = errors.New("push rejected by remote")

// PickStatus classifies the result of one cherry-pick attempt.
type PickStatus string

// Cherry-pick outcomes.
const (
	Applied    PickStatus = "applied"
	Conflicted PickStatus = "conflict"
	Skipped    PickStatus = "skipped"
)

// Outcome records what happened to one commit during replay.
type Outcome struct {
	// SHA is the commit that was attempted.
	SHA string
	// Status is the classification of the attempt.
	Status PickStatus
	// ConflictPaths lists the files that failed to merge. Set only
	// when Status is Conflicted.
	ConflictPaths []string
	// Reason explains a Skipped outcome.
	Reason string
}

// Workspace is a local git clone the pipeline operates in. Create with
// Acquire and call Close when done. A Workspace is exclusively owned by
// one run and must not be shared.
type Workspace struct {
	// Dir is the filesystem location of the clone.
	Dir string
	// Ephemeral reports whether Close removes Dir.
	Ephemeral bool

	run *exec.Runner
}

// AcquireOptions controls how a Workspace is obtained.
type AcquireOptions struct {
	// ExistingPath wraps an existing clone instead of cloning. The
	// caller keeps ownership of the directory.
	ExistingPath string
	// CloneURL is the repository to clone when ExistingPath is empty.
	CloneURL string
	// TempParent is the parent directory for ephemeral clones. Empty
	// means the system temp directory.
	TempParent string
	// Redact filters command arguments and output before logging.
	Redact func(string) string
}

// Acquire returns a Workspace over an existing clone or a fresh
// ephemeral one. A failed ephemeral clone removes its directory before
// the error is returned.
func Acquire(
	ctx context.Context,
	opts AcquireOptions,
) (*Workspace, error) {
	const errCtx = "acquiring workspace"

	if opts.ExistingPath != "" {
		gitDir := filepath.Join(opts.ExistingPath, ".git")
		if _, err := os.Stat(gitDir); err != nil {
			return nil, fmt.Errorf(
				"%s: %s is not a git repository: %w",
				errCtx, opts.ExistingPath, err,
			)
		}

		return &Workspace{
			Dir: opts.ExistingPath,
			run: &exec.Runner{
				Dir:    opts.ExistingPath,
				Redact: opts.Redact,
			},
		}, nil
	}

	if opts.CloneURL == "" {
		return nil, fmt.Errorf(
			"%s: clone url must be set", errCtx,
		)
	}

	dir, err := os.MkdirTemp(opts.TempParent, "cherrysync-")
	if err != nil {
		return nil, fmt.Errorf(
			"%s: create temp dir: %w", errCtx, err,
		)
	}

	ws := &Workspace{
		Dir:       dir,
		Ephemeral: true,
		run: &exec.Runner{
			Dir:    dir,
			Redact: opts.Redact,
		},
	}

	if _, err := ws.run.Run(
		ctx, "git", "clone", opts.CloneURL, ".",
	); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			slog.Error(
				"failed to remove clone dir",
				"dir", dir,
				"error", rmErr,
			)
		}

		return nil, fmt.Errorf(
			"%s: clone: %w", errCtx, err,
		)
	}

	return ws, nil
}

// Close removes the clone directory of an ephemeral workspace. For an
// existing repository it is a no-op: the directory belongs to the
// caller and is left as-is.
func (w *Workspace) Close() error {
	const errCtx = "closing workspace"

	if !w.Ephemeral {
		return nil
	}

	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// AddRemote adds the named remote, replacing its URL if it already
// exists.
func (w *Workspace) AddRemote(
	ctx context.Context,
	name string,
	url string,
) error {
	const errCtx = "adding remote"

	if _, err := w.run.Run(
		ctx, "git", "remote", "get-url", name,
	); err != nil {
		if _, err := w.run.Run(
			ctx, "git", "remote", "add", name, url,
		); err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}

		return nil
	}

	if _, err := w.run.Run(
		ctx, "git", "remote", "set-url", name, url,
	); err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// RemoveRemote removes the named remote if present. Used to drop
// remotes whose URLs embed credentials before handing an existing
// repository back to the caller.
func (w *Workspace) RemoveRemote(
	ctx context.Context,
	name string,
) {
	if _, err := w.run.Run(
		ctx, "git", "remote", "get-url", name,
	); err != nil {
		return
	}

	if _, err := w.run.Run(
		ctx, "git", "remote", "remove", name,
	); err != nil {
		slog.Warn(
			"failed to remove remote",
			"remote", name,
			"error", err,
		)
	}
}

// FetchRef fetches a single ref (branch name or SHA) from the remote.
func (w *Workspace) FetchRef(
	ctx context.Context,
	remote string,
	ref string,
) error {
	const errCtx = "fetching ref"

	if _, err := w.run.Run(
		ctx, "git", "fetch", remote, ref,
	); err != nil {
		return fmt.Errorf(
			"%s: %s from %s: %w", errCtx, ref, remote, err,
		)
	}

	return nil
}

// CheckoutNewBranch creates (or resets) branch name at base and checks
// it out. Resetting matches the delete-then-recreate behaviour expected
// for repeated runs against the same PR.
func (w *Workspace) CheckoutNewBranch(
	ctx context.Context,
	name string,
	base string,
) error {
	const errCtx = "creating branch"

	if _, err := w.run.Run(
		ctx, "git", "checkout", "-B", name, base,
	); err != nil {
		return fmt.Errorf(
			"%s: %s from %s: %w", errCtx, name, base, err,
		)
	}

	return nil
}

// CurrentBranch returns the checked-out branch name.
func (w *Workspace) CurrentBranch(
	ctx context.Context,
) (string, error) {
	const errCtx = "reading current branch"

	out, err := w.run.Run(
		ctx, "git", "branch", "--show-current",
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return strings.TrimSpace(out), nil
}

// CherryPick replays one commit onto the current branch. A conflict is
// recorded in the Outcome and the in-progress pick is aborted before
// returning, leaving the tree clean at the last applied commit. A pick
// that becomes empty is skipped. The error return is reserved for tool
// failures that are neither of those outcomes.
func (w *Workspace) CherryPick(
	ctx context.Context,
	commit platform.Commit,
) (Outcome, error) {
	const errCtx = "cherry-picking"

	out, err := w.run.Run(
		ctx, "git", "cherry-pick", commit.SHA,
	)
	if err == nil {
		return Outcome{
			SHA:    commit.SHA,
			Status: Applied,
		}, nil
	}

	// Cleanup must run even when the pick died on its deadline; an
	// expired context would guarantee the abort fails and leave the
	// clone in a half-picked state.
	cctx, cancel := cleanupContext(ctx)
	defer cancel()

	// An already-applied commit produces an empty pick; git stops and
	// asks for --skip.
	if strings.Contains(out, "is now empty") ||
		strings.Contains(out, "--allow-empty") {
		w.abortCherryPick(cctx, "--skip")

		return Outcome{
			SHA:    commit.SHA,
			Status: Skipped,
			Reason: "empty cherry-pick, commit already applied",
		}, nil
	}

	paths := w.conflictPaths(cctx)
	if len(paths) > 0 || strings.Contains(out, "conflict") {
		w.abortCherryPick(cctx, "--abort")

		return Outcome{
			SHA:           commit.SHA,
			Status:        Conflicted,
			ConflictPaths: paths,
		}, nil
	}

	// Not a conflict: abort whatever state was left and surface the
	// tool failure.
	w.abortCherryPick(cctx, "--abort")

	return Outcome{}, fmt.Errorf(
		"%s: %s: %w", errCtx, commit.SHA, err,
	)
}

// cleanupTimeout bounds the git calls that release sequencer state
// after a failed pick.
const cleanupTimeout = 30 * time.Second

// cleanupContext returns ctx unchanged while it is alive, or a fresh
// short-deadline context once it is done.
func cleanupContext(
	ctx context.Context,
) (context.Context, context.CancelFunc) {
	if ctx.Err() == nil {
		return ctx, func() {}
	}

	return context.WithTimeout(
		context.WithoutCancel(ctx), cleanupTimeout,
	)
}

// abortCherryPick releases an in-progress cherry-pick with the given
// mode ("--abort" or "--skip"). Failure to abort is logged, not
// returned: there is nothing more the caller can do.
func (w *Workspace) abortCherryPick(
	ctx context.Context,
	mode string,
) {
	if _, err := w.run.Run(
		ctx, "git", "cherry-pick", mode,
	); err != nil {
		slog.Warn(
			"failed to release cherry-pick state",
			"mode", mode,
			"error", err,
		)
	}
}

// conflictPaths lists files with unresolved merge conflicts.
func (w *Workspace) conflictPaths(
	ctx context.Context,
) []string {
	out, err := w.run.Run(
		ctx, "git", "diff", "--name-only", "--diff-filter=U",
	)
	if err != nil {
		return nil
	}

	var paths []string

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			paths = append(paths, line)
		}
	}

	return paths
}

// ExportPatch renders one commit as a mailbox-format patch.
func (w *Workspace) ExportPatch(
	ctx context.Context,
	sha string,
) (string, error) {
	const errCtx = "exporting patch"

	out, err := w.run.Run(
		ctx, "git", "format-patch", "-1", "--stdout", sha,
	)
	if err != nil {
		return "", fmt.Errorf(
			"%s: %s: %w", errCtx, sha, err,
		)
	}

	return out, nil
}

// ApplyPatch applies a mailbox-format patch to the current branch,
// recording the original author.
func (w *Workspace) ApplyPatch(
	ctx context.Context,
	patchPath string,
) error {
	const errCtx = "applying patch"

	if _, err := w.run.Run(
		ctx, "git", "am", patchPath,
	); err != nil {
		// Leave no half-applied mailbox behind.
		cctx, cancel := cleanupContext(ctx)
		defer cancel()

		if _, abortErr := w.run.Run(
			cctx, "git", "am", "--abort",
		); abortErr != nil {
			slog.Warn(
				"failed to abort am session",
				"error", abortErr,
			)
		}

		return fmt.Errorf("%s: %w", errCtx, err)
	}

	return nil
}

// Push uploads branch to the remote, setting the upstream. A remote
// refusal is reported as ErrPushRejected.
func (w *Workspace) Push(
	ctx context.Context,
	remote string,
	branch string,
) error {
	const errCtx = "pushing branch"

	out, err := w.run.Run(
		ctx, "git", "push", "--set-upstream", remote, branch,
	)
	if err != nil {
		if strings.Contains(out, "rejected") ||
			strings.Contains(out, "denied") ||
			strings.Contains(out, "non-fast-forward") {
			return fmt.Errorf(
				"%s: %s to %s: %w",
				errCtx, branch, remote, ErrPushRejected,
			)
		}

		return fmt.Errorf(
			"%s: %s to %s: %w", errCtx, branch, remote, err,
		)
	}

	return nil
}

// IsClean reports whether the working tree has no uncommitted changes.
func (w *Workspace) IsClean(ctx context.Context) bool {
	out, err := w.run.Run(
		ctx, "git", "status", "--porcelain",
	)
	if err != nil {
		slog.Error(
			"failed to check workspace status",
			"error", err,
		)

		return false
	}

	return strings.TrimSpace(out) == ""
}

// HeadSHA returns the SHA of the current HEAD commit.
func (w *Workspace) HeadSHA(
	ctx context.Context,
) (string, error) {
	const errCtx = "reading head"

	out, err := w.run.Run(
		ctx, "git", "rev-parse", "HEAD",
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return strings.TrimSpace(out), nil
}

// TreeSHA returns the tree object SHA of the given revision.
func (w *Workspace) TreeSHA(
	ctx context.Context,
	rev string,
) (string, error) {
	const errCtx = "reading tree"

	out, err := w.run.Run(
		ctx, "git", "rev-parse", rev+"^{tree}",
	)
	if err != nil {
		return "", fmt.Errorf("%s: %w", errCtx, err)
	}

	return strings.TrimSpace(out), nil
}
