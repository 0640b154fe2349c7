package picker

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/byte4ever/cherrysync/backport/platform"
)

// ErrInvalidConfig indicates the configuration cannot describe a
// runnable backport.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultCallTimeout bounds each network call and git subprocess when
// Config.Timeout is zero.
const DefaultCallTimeout = 2 * time.Minute

// ClientFactory returns the platform client to use for the resolved
// platform.
type ClientFactory func(platform.Platform) (platform.Client, error)

// Config holds all settings for one backport run. Use a Config struct
// instead of many arguments. A Config is not modified by Run.
type Config struct {
	// PRURL is the pull request link to backport.
	PRURL string

	// TargetBranch is the branch the commits are replayed onto.
	// Optional in patch mode.
	TargetBranch string

	// RepoPath is an existing local clone to work in. Empty means an
	// ephemeral clone in a temporary directory.
	RepoPath string

	// TargetRepo overrides the repository the branch is created in
	// ("owner/repo"). Empty means the PR's own repository.
	TargetRepo string

	// PersonalRepo is a fork ("owner/repo") to push the branch to and
	// open the PR from.
	PersonalRepo string

	// SourceBranch names the replay branch. Empty derives a
	// deterministic name from the PR number and target branch.
	SourceBranch string

	// PatchPath switches to patch-export mode: a directory receives
	// one numbered patch file per commit, a file path receives all
	// patches concatenated. Replaying and pushing are skipped.
	PatchPath string

	// CreatePR opens a pull request after a successful push.
	CreatePR bool

	// DryRun replays locally but skips push and PR creation.
	DryRun bool

	// Token authenticates API calls and git remotes. It is
	// registered with the run's redactor and never logged.
	Token string

	// TitlePrefix prepends the new PR title. Empty means
	// prmsg.DefaultTitlePrefix.
	TitlePrefix string

	// BodyTail is appended to the new PR body after template
	// expansion ({pr_url} etc., see prmsg).
	BodyTail string

	// Timeout bounds every network call and git subprocess. Zero
	// means DefaultCallTimeout.
	Timeout time.Duration

	// TempDir is the parent directory for ephemeral clones. Empty
	// means the system temp directory.
	TempDir string

	// NewClient supplies the platform client for the resolved
	// platform.
	NewClient ClientFactory

	// TargetCloneURL overrides the clone URL of the target
	// repository (mirrors, local test fixtures).
	TargetCloneURL string

	// SourceCloneURL overrides the fetch URL of the PR's source
	// repository.
	SourceCloneURL string

	// PersonalCloneURL overrides the push URL of the personal
	// repository.
	PersonalCloneURL string
}

// validate rejects configurations the pipeline cannot run. Called by
// Run before any stage starts.
func (cfg *Config) validate() error {
	const errCtx = "validating config"

	if cfg.PRURL == "" {
		return fmt.Errorf(
			"%s: pr url must be set: %w",
			errCtx, ErrInvalidConfig,
		)
	}

	if cfg.TargetBranch == "" && cfg.PatchPath == "" {
		return fmt.Errorf(
			"%s: target branch must be set: %w",
			errCtx, ErrInvalidConfig,
		)
	}

	// Patch mode never pushes, so there is no branch to open a PR
	// from; requesting both is a contradiction, not a preference.
	if cfg.PatchPath != "" && cfg.CreatePR {
		return fmt.Errorf(
			"%s: patch export and pr creation are mutually "+
				"exclusive: %w",
			errCtx, ErrInvalidConfig,
		)
	}

	if cfg.NewClient == nil {
		return fmt.Errorf(
			"%s: client factory must be set: %w",
			errCtx, ErrInvalidConfig,
		)
	}

	return nil
}

// callTimeout returns the per-call bound.
func (cfg *Config) callTimeout() time.Duration {
	if cfg.Timeout <= 0 {
		return DefaultCallTimeout
	}

	return cfg.Timeout
}

// fileConfig is the YAML shape of a config file. Only scalar settings
// can come from a file; the client factory and URL overrides are wired
// in code.
type fileConfig struct {
	PRURL        string `yaml:"pr_url"`
	TargetBranch string `yaml:"target_branch"`
	RepoPath     string `yaml:"repo_path"`
	TargetRepo   string `yaml:"target_repo"`
	PersonalRepo string `yaml:"personal_repo"`
	SourceBranch string `yaml:"source_branch"`
	PatchPath    string `yaml:"patch_path"`
	CreatePR     bool   `yaml:"create_pr"`
	DryRun       bool   `yaml:"dry_run"`
	TitlePrefix  string `yaml:"title_prefix"`
	BodyTail     string `yaml:"body_tail"`
	Timeout      string `yaml:"timeout"`
	TempDir      string `yaml:"temp_dir"`
}

// LoadConfig reads a YAML config file into a Config. Tokens are
// deliberately not file-loadable; pass them via flag or environment.
func LoadConfig(path string) (Config, error) {
	const errCtx = "loading config file"

	var cfg Config

	raw, err := os.ReadFile(path) //nolint:gosec // path from CLI flag
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", errCtx, err)
	}

	var fc fileConfig

	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return cfg, fmt.Errorf(
			"%s: parse yaml: %w", errCtx, err,
		)
	}

	cfg = Config{
		PRURL:        fc.PRURL,
		TargetBranch: fc.TargetBranch,
		RepoPath:     fc.RepoPath,
		TargetRepo:   fc.TargetRepo,
		PersonalRepo: fc.PersonalRepo,
		SourceBranch: fc.SourceBranch,
		PatchPath:    fc.PatchPath,
		CreatePR:     fc.CreatePR,
		DryRun:       fc.DryRun,
		TitlePrefix:  fc.TitlePrefix,
		BodyTail:     fc.BodyTail,
		TempDir:      fc.TempDir,
	}

	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return cfg, fmt.Errorf(
				"%s: parse timeout: %w", errCtx, err,
			)
		}

		cfg.Timeout = d
	}

	return cfg, nil
}
