package picker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/byte4ever/cherrysync/backport/platform"
	"github.com/byte4ever/cherrysync/backport/prmsg"
	"github.com/byte4ever/cherrysync/backport/prurl"
	"github.com/byte4ever/cherrysync/backport/redact"
	"github.com/byte4ever/cherrysync/backport/repo"
)

// Remote names used inside the workspace. They may carry token-bearing
// URLs and are removed from reused repositories before Run returns.
const (
	sourceRemote   = "pr-source"
	personalRemote = "personal"
)

// Run executes a full backport: resolve, fetch, prepare, replay (or
// export patches), push, and create the PR. The returned Result has
// had the token redacted from every textual field; a conflict stops
// the replay and is reported inside the Result, not as an error.
//
//nolint:funlen // the stage sequence reads best in one place
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	red := redact.New()
	red.Register(cfg.Token)

	timeout := cfg.callTimeout()

	// Stage 1: resolve the PR URL.
	ref, err := prurl.Resolve(cfg.PRURL)
	if err != nil {
		return nil, failStage(red, StageResolving, err)
	}

	slog.Info("resolved pull request", "ref", ref.String())

	client, err := cfg.NewClient(ref.Platform)
	if err != nil {
		return nil, failStage(red, StageResolving, err)
	}

	res := &Result{Ref: ref}

	// Stage 2: fetch PR metadata and the ordered commit list.
	pr, commits, err := fetchSource(
		ctx, client, ref, timeout,
	)
	if err != nil {
		return nil, failStage(red, StageFetching, err)
	}

	if len(commits) == 0 {
		// An empty PR is trivially satisfied; no workspace is
		// created.
		slog.Info(
			"pull request has no commits, nothing to do",
			"ref", ref.String(),
		)

		return res.redacted(red), nil
	}

	slog.Info(
		"fetched commits",
		"ref", ref.String(),
		"count", len(commits),
	)

	// Stage 3: prepare the workspace and the replay branch.
	targetRepo := cfg.TargetRepo
	if targetRepo == "" {
		targetRepo = ref.Slug()
	}

	ws, err := acquireWorkspace(
		ctx, &cfg, ref, targetRepo, red, timeout,
	)
	if err != nil {
		return nil, failStage(red, StagePreparing, err)
	}

	defer releaseWorkspace(ws, timeout)

	branch := cfg.SourceBranch
	if branch == "" {
		branch = defaultBranchName(
			ref.Number, cfg.TargetBranch,
		)
	}

	if err := prepareBranch(
		ctx, &cfg, ws, ref, pr, branch, timeout,
	); err != nil {
		return nil, failStage(red, StagePreparing, err)
	}

	// Stage 4b: patch-export mode replaces the replay entirely.
	if cfg.PatchPath != "" {
		paths, err := exportPatches(
			ctx, ws, commits, cfg.PatchPath, timeout,
		)
		if err != nil {
			return nil, failStage(
				red, StagePatchExporting, err,
			)
		}

		res.PatchPaths = paths

		slog.Info(
			"exported patches",
			"count", len(paths),
			"path", cfg.PatchPath,
		)

		return res.redacted(red), nil
	}

	// Stage 4: replay commits in fetch order. The first conflict
	// stops the run; later commits typically depend on earlier ones.
	if err := replay(
		ctx, ws, commits, res, timeout,
	); err != nil {
		return nil, failStage(red, StageReplaying, err)
	}

	if res.Conflicted() {
		slog.Info(
			"replay stopped on conflict",
			"sha", res.FirstConflict.SHA,
			"paths", res.FirstConflict.ConflictPaths,
			"applied", len(res.Applied),
		)

		return res.redacted(red), nil
	}

	slog.Info(
		"replay complete",
		"applied", len(res.Applied),
		"skipped", len(res.SkippedPicks),
	)

	// Stage 5: push. Dry run stops here and simulates the rest.
	if cfg.DryRun {
		slog.Info(
			"dry run: skipping push and PR creation",
			"branch", branch,
		)

		return res.redacted(red), nil
	}

	pushTo := sourceRemote

	if cfg.PersonalRepo != "" {
		url := cfg.PersonalCloneURL
		if url == "" {
			url = platform.CloneURL(
				ref.Platform, cfg.PersonalRepo, cfg.Token,
			)
		}

		if err := runGit(ctx, timeout, func(
			c context.Context,
		) error {
			return ws.AddRemote(c, personalRemote, url)
		}); err != nil {
			return nil, failStage(red, StagePushing, err)
		}

		pushTo = personalRemote
	}

	if err := runGit(ctx, timeout, func(
		c context.Context,
	) error {
		return ws.Push(c, pushTo, branch)
	}); err != nil {
		return nil, failStage(red, StagePushing, err)
	}

	res.Pushed = true

	slog.Info("pushed branch", "branch", branch, "remote", pushTo)

	// Stage 6: create the PR.
	if cfg.CreatePR {
		prURL, err := createPR(
			ctx, &cfg, client, ref, pr,
			targetRepo, branch, timeout,
		)
		if err != nil {
			return nil, failStage(red, StageCreatingPR, err)
		}

		res.PRURL = prURL

		slog.Info("created pull request", "url", red.Redact(prURL))
	}

	return res.redacted(red), nil
}

// fetchSource retrieves the PR metadata and commit list, each bounded
// by the per-call timeout.
func fetchSource(
	ctx context.Context,
	client platform.Client,
	ref platform.PullRequestRef,
	timeout time.Duration,
) (*platform.PullRequest, []platform.Commit, error) {
	const errCtx = "fetching source pull request"

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pr, err := client.FetchPullRequest(callCtx, ref)
	if err != nil {
		return nil, nil, fmt.Errorf(
			"%s: %w", errCtx, err,
		)
	}

	listCtx, cancelList := context.WithTimeout(ctx, timeout)
	defer cancelList()

	commits, err := client.FetchCommits(listCtx, ref)
	if err != nil {
		return nil, nil, fmt.Errorf(
			"%s: commits: %w", errCtx, err,
		)
	}

	return pr, commits, nil
}

// acquireWorkspace wraps the configured existing clone or clones the
// target repository into an ephemeral directory.
func acquireWorkspace(
	ctx context.Context,
	cfg *Config,
	ref platform.PullRequestRef,
	targetRepo string,
	red *redact.Redactor,
	timeout time.Duration,
) (*repo.Workspace, error) {
	cloneURL := cfg.TargetCloneURL
	if cloneURL == "" {
		cloneURL = platform.CloneURL(
			ref.Platform, targetRepo, cfg.Token,
		)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws, err := repo.Acquire(callCtx, repo.AcquireOptions{
		ExistingPath: cfg.RepoPath,
		CloneURL:     cloneURL,
		TempParent:   cfg.TempDir,
		Redact:       red.Redact,
	})
	if err != nil {
		return nil, err
	}

	slog.Info(
		"workspace ready",
		"dir", ws.Dir,
		"ephemeral", ws.Ephemeral,
	)

	return ws, nil
}

// releaseWorkspace destroys an ephemeral workspace; a reused clone is
// handed back as-is apart from dropping remotes whose URLs embed
// credentials.
func releaseWorkspace(
	ws *repo.Workspace,
	timeout time.Duration,
) {
	ctx, cancel := context.WithTimeout(
		context.Background(), timeout,
	)
	defer cancel()

	if ws.Ephemeral {
		if err := ws.Close(); err != nil {
			slog.Error(
				"failed to clean workspace",
				"error", err,
			)
		}

		return
	}

	ws.RemoveRemote(ctx, sourceRemote)
	ws.RemoveRemote(ctx, personalRemote)
}

// prepareBranch wires the PR source remote, fetches the needed refs,
// and checks out the replay branch. In patch mode with no target
// branch the current checkout is kept.
func prepareBranch(
	ctx context.Context,
	cfg *Config,
	ws *repo.Workspace,
	ref platform.PullRequestRef,
	pr *platform.PullRequest,
	branch string,
	timeout time.Duration,
) error {
	srcURL := cfg.SourceCloneURL
	if srcURL == "" {
		srcURL = platform.CloneURL(
			ref.Platform, ref.Slug(), cfg.Token,
		)
	}

	if err := runGit(ctx, timeout, func(
		c context.Context,
	) error {
		return ws.AddRemote(c, sourceRemote, srcURL)
	}); err != nil {
		return err
	}

	if err := runGit(ctx, timeout, func(
		c context.Context,
	) error {
		return ws.FetchRef(c, sourceRemote, pr.HeadRef)
	}); err != nil {
		return err
	}

	if cfg.TargetBranch == "" {
		// Patch mode without a target branch exports from the
		// current checkout.
		return nil
	}

	// Prefer the remote target branch; fall back to a local branch
	// of that name in a reused clone.
	base := cfg.TargetBranch

	err := runGit(ctx, timeout, func(
		c context.Context,
	) error {
		return ws.FetchRef(c, "origin", cfg.TargetBranch)
	})
	if err == nil {
		base = "origin/" + cfg.TargetBranch
	} else {
		slog.Warn(
			"could not fetch target branch, using local",
			"branch", cfg.TargetBranch,
		)
	}

	return runGit(ctx, timeout, func(
		c context.Context,
	) error {
		return ws.CheckoutNewBranch(c, branch, base)
	})
}

// replay cherry-picks the commits in order, stopping at the first
// conflict. Cancellation is honoured between commits, never in the
// middle of one.
func replay(
	ctx context.Context,
	ws *repo.Workspace,
	commits []platform.Commit,
	res *Result,
	timeout time.Duration,
) error {
	for i, commit := range commits {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf(
				"cancelled before commit %s: %w",
				commit.ShortSHA(), err,
			)
		}

		slog.Info(
			"cherry-picking",
			"sha", commit.ShortSHA(),
			"subject", commit.Subject(),
			"index", i+1,
			"total", len(commits),
		)

		// The pick context ignores caller cancellation: a cancel must
		// not kill git mid-pick. The loop check above is the
		// cancellation point.
		pickCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx), timeout,
		)
		outcome, err := ws.CherryPick(pickCtx, commit)

		cancel()

		if err != nil {
			return err
		}

		switch outcome.Status {
		case repo.Applied:
			res.Applied = append(res.Applied, commit)
		case repo.Skipped:
			slog.Info(
				"skipped commit",
				"sha", commit.ShortSHA(),
				"reason", outcome.Reason,
			)

			res.SkippedPicks = append(
				res.SkippedPicks, outcome,
			)
		case repo.Conflicted:
			res.FirstConflict = &outcome

			return nil
		}
	}

	return nil
}

// createPR builds the title and body from the source PR and opens the
// backport pull request.
func createPR(
	ctx context.Context,
	cfg *Config,
	client platform.Client,
	ref platform.PullRequestRef,
	pr *platform.PullRequest,
	targetRepo string,
	branch string,
	timeout time.Duration,
) (string, error) {
	src := prmsg.Source{
		Ref:          ref,
		URL:          cfg.PRURL,
		Title:        pr.Title,
		Body:         pr.Body,
		TargetRepo:   targetRepo,
		PersonalRepo: cfg.PersonalRepo,
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return client.CreatePullRequest(
		callCtx, platform.CreatePROptions{
			TargetRepo:   targetRepo,
			SourceRepo:   cfg.PersonalRepo,
			SourceBranch: branch,
			TargetBranch: cfg.TargetBranch,
			Title:        prmsg.Title(src, cfg.TitlePrefix),
			Body:         prmsg.Body(src, cfg.BodyTail),
		},
	)
}

// runGit bounds one git operation with the per-call timeout.
func runGit(
	ctx context.Context,
	timeout time.Duration,
	fn func(context.Context) error,
) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return fn(callCtx)
}

// defaultBranchName derives the deterministic replay branch name from
// the PR number and target branch.
func defaultBranchName(number int, target string) string {
	if target == "" {
		return fmt.Sprintf("cherry-pick-pr-%d", number)
	}

	return fmt.Sprintf(
		"cherry-pick-pr-%d-to-%s",
		number, sanitizeBranch(target),
	)
}

// sanitizeBranch keeps word characters and dashes, mapping everything
// else (including path separators) to a dash.
func sanitizeBranch(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, name)

	for strings.Contains(mapped, "--") {
		mapped = strings.ReplaceAll(mapped, "--", "-")
	}

	return strings.Trim(mapped, "-")
}
