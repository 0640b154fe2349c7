// Command cherrysync backports a pull request onto a target branch:
// it resolves the PR URL, replays the PR's commits via cherry-pick (or
// exports them as patch files), and optionally pushes the branch and
// opens a new pull request.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/byte4ever/cherrysync/backport/picker"
	"github.com/byte4ever/cherrysync/backport/platform"
	"github.com/byte4ever/cherrysync/backport/platform/atomgit"
	"github.com/byte4ever/cherrysync/backport/platform/gitee"
	"github.com/byte4ever/cherrysync/backport/platform/github"
	"github.com/byte4ever/cherrysync/backport/platform/gitlab"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

//nolint:funlen // CLI flag setup is inherently long
func run() error {
	const errCtx = "running cherrysync"

	configPath := flag.String(
		"config", "",
		"Optional YAML config file with run settings",
	)
	targetBranch := flag.String(
		"target-branch", "",
		"Branch to replay the commits onto",
	)
	repoPath := flag.String(
		"repo-path", "",
		"Existing local clone to work in "+
			"(default: ephemeral clone)",
	)
	targetRepo := flag.String(
		"target-repo", "",
		"Repository to create the branch in, owner/repo "+
			"(default: the PR's repository)",
	)
	personalRepo := flag.String(
		"personal-repo", "",
		"Fork to push the branch to, owner/repo",
	)
	sourceBranch := flag.String(
		"source-branch", "",
		"Name of the replay branch (default: derived from "+
			"the PR number)",
	)
	patchPath := flag.String(
		"patch", "",
		"Export patches to this file or directory instead "+
			"of cherry-picking",
	)
	createPR := flag.Bool(
		"create-pr", false,
		"Open a pull request after pushing",
	)
	dryRun := flag.Bool(
		"dry-run", false,
		"Replay locally but skip push and PR creation",
	)
	token := flag.String(
		"token", "",
		"API access token, also used for git authentication",
	)
	tokenEnvVar := flag.String(
		"token-env-var", "",
		"Environment variable to read the token from",
	)
	titlePrefix := flag.String(
		"title-prefix", "",
		"Prefix for the new PR title "+
			"(default: \"Cherry-pick:\")",
	)
	bodyTail := flag.String(
		"body-tail", "",
		"Text appended to the new PR body; {pr_url} and "+
			"friends are substituted",
	)
	timeout := flag.Duration(
		"timeout", 0,
		"Per-call timeout for network and git operations",
	)
	verbose := flag.Bool(
		"v", false,
		"Enable debug logging",
	)

	flag.Parse()

	if *verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	var (
		cfg picker.Config
		err error
	)

	if *configPath != "" {
		cfg, err = picker.LoadConfig(*configPath)
		if err != nil {
			return fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	if flag.NArg() > 0 {
		cfg.PRURL = flag.Arg(0)
	}

	// Flags override config-file values.
	overrideString(&cfg.TargetBranch, *targetBranch)
	overrideString(&cfg.RepoPath, *repoPath)
	overrideString(&cfg.TargetRepo, *targetRepo)
	overrideString(&cfg.PersonalRepo, *personalRepo)
	overrideString(&cfg.SourceBranch, *sourceBranch)
	overrideString(&cfg.PatchPath, *patchPath)
	overrideString(&cfg.TitlePrefix, *titlePrefix)
	overrideString(&cfg.BodyTail, *bodyTail)

	if *createPR {
		cfg.CreatePR = true
	}

	if *dryRun {
		cfg.DryRun = true
	}

	if *timeout > 0 {
		cfg.Timeout = *timeout
	}

	cfg.Token = *token
	if cfg.Token == "" && *tokenEnvVar != "" {
		cfg.Token = os.Getenv(*tokenEnvVar)
	}

	cfg.NewClient = clientFactory(cfg.Token)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	start := time.Now()

	res, err := picker.Run(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	report(res, time.Since(start))

	if res.Conflicted() {
		return fmt.Errorf(
			"%s: cherry-pick conflict on %s, resolve "+
				"manually and re-run",
			errCtx, res.FirstConflict.SHA,
		)
	}

	return nil
}

// clientFactory builds the platform client for the resolved platform.
func clientFactory(token string) picker.ClientFactory {
	return func(p platform.Platform) (platform.Client, error) {
		switch p {
		case platform.GitHub:
			return github.NewClient(github.Config{
				AccessToken: token,
			})
		case platform.Gitee:
			return gitee.NewClient(gitee.Config{
				AccessToken: token,
			})
		case platform.AtomGit:
			return atomgit.NewClient(atomgit.Config{
				AccessToken: token,
			})
		case platform.GitLab:
			return gitlab.NewClient(gitlab.Config{
				AccessToken: token,
			})
		default:
			return nil, fmt.Errorf(
				"unsupported platform %q", p,
			)
		}
	}
}

// report prints the run summary. Everything inside res is already
// redacted.
func report(res *picker.Result, elapsed time.Duration) {
	slog.Info(
		"backport finished",
		"ref", res.Ref.String(),
		"applied", len(res.Applied),
		"pushed", res.Pushed,
		"elapsed", elapsed.Round(time.Millisecond),
	)

	for _, path := range res.PatchPaths {
		fmt.Println("patch:", path)
	}

	if res.PRURL != "" {
		fmt.Println("pull request:", res.PRURL)
	}
}

// overrideString sets dst when the flag value is non-empty.
func overrideString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}
