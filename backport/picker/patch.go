package picker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/byte4ever/cherrysync/backport/platform"
	"github.com/byte4ever/cherrysync/backport/repo"
)

const maxPatchSlugLen = 50

// exportPatches writes the commits as patch files instead of replaying
// them. A directory path (existing directory or trailing separator)
// receives one numbered file per commit; any other path receives all
// patches concatenated in order.
func exportPatches(
	ctx context.Context,
	ws *repo.Workspace,
	commits []platform.Commit,
	patchPath string,
	timeout time.Duration,
) ([]string, error) {
	const errCtx = "exporting patches"

	if isDirTarget(patchPath) {
		return exportPatchDir(
			ctx, ws, commits, patchPath, timeout,
		)
	}

	if dir := filepath.Dir(patchPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf(
				"%s: create dir: %w", errCtx, err,
			)
		}
	}

	var sb strings.Builder

	for _, commit := range commits {
		content, err := exportOne(ctx, ws, commit, timeout)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		sb.WriteString(content)
	}

	//nolint:gosec // patch files are world-readable by design
	if err := os.WriteFile(
		patchPath, []byte(sb.String()), 0o644,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: write %s: %w", errCtx, patchPath, err,
		)
	}

	return []string{patchPath}, nil
}

// exportPatchDir writes one numbered patch file per commit into dir.
func exportPatchDir(
	ctx context.Context,
	ws *repo.Workspace,
	commits []platform.Commit,
	dir string,
	timeout time.Duration,
) ([]string, error) {
	const errCtx = "exporting patch directory"

	dir = strings.TrimRight(dir, string(os.PathSeparator))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf(
			"%s: create dir: %w", errCtx, err,
		)
	}

	paths := make([]string, 0, len(commits))

	for i, commit := range commits {
		content, err := exportOne(ctx, ws, commit, timeout)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: %w", errCtx, err,
			)
		}

		name := fmt.Sprintf(
			"%04d-%s.patch",
			i+1, patchSlug(commit.Subject()),
		)
		path := filepath.Join(dir, name)

		//nolint:gosec // patch files are world-readable by design
		if err := os.WriteFile(
			path, []byte(content), 0o644,
		); err != nil {
			return nil, fmt.Errorf(
				"%s: write %s: %w", errCtx, path, err,
			)
		}

		paths = append(paths, path)
	}

	return paths, nil
}

// exportOne renders a single commit with the per-call timeout.
func exportOne(
	ctx context.Context,
	ws *repo.Workspace,
	commit platform.Commit,
	timeout time.Duration,
) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return ws.ExportPatch(callCtx, commit.SHA)
}

// isDirTarget reports whether patchPath names a directory: either an
// existing one or a path written with a trailing separator.
func isDirTarget(patchPath string) bool {
	if strings.HasSuffix(patchPath, "/") ||
		strings.HasSuffix(
			patchPath, string(os.PathSeparator),
		) {
		return true
	}

	fi, err := os.Stat(patchPath)

	return err == nil && fi.IsDir()
}

// patchSlug turns a commit subject into a filesystem-safe fragment.
func patchSlug(subject string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, subject)

	for strings.Contains(mapped, "--") {
		mapped = strings.ReplaceAll(mapped, "--", "-")
	}

	mapped = strings.Trim(mapped, "-")

	if len(mapped) > maxPatchSlugLen {
		mapped = strings.Trim(
			mapped[:maxPatchSlugLen], "-",
		)
	}

	if mapped == "" {
		mapped = "patch"
	}

	return mapped
}
