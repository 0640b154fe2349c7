// Package exec provides shell command execution helpers.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Runner executes commands in a fixed working directory. Redact, when
// set, is applied to argument lists and command output before they are
// logged, so credential-bearing values never reach the log stream. The
// raw output is still returned to the caller.
type Runner struct {
	// Dir is the working directory for every command. Empty means
	// the process working directory.
	Dir string
	// Redact filters text before logging. Nil disables filtering.
	Redact func(string) string
}

// Run executes the named command and returns combined stdout+stderr
// output. The context bounds the command; an exceeded deadline kills
// the process and surfaces as the context error wrapped in the result.
func (r *Runner) Run(
	ctx context.Context,
	name string,
	arg ...string,
) (string, error) {
	const errCtx = "executing command"

	slog.Info(
		"executing",
		"cmd", name,
		"args", r.safe(strings.Join(arg, " ")),
	)

	cmd := exec.CommandContext(ctx, name, arg...)
	if r.Dir != "" {
		cmd.Dir = r.Dir
	}

	by, err := cmd.CombinedOutput()

	slog.Debug("output", "result", r.safe(string(by)))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}

		return string(by), fmt.Errorf(
			"%s: %s %s: %w",
			errCtx, name, r.safe(strings.Join(arg, " ")), err,
		)
	}

	return string(by), nil
}

// safe applies the redaction hook when configured.
func (r *Runner) safe(s string) string {
	if r.Redact == nil {
		return s
	}

	return r.Redact(s)
}
