package picker

import (
	"context"
	"errors"
	"fmt"

	"github.com/byte4ever/cherrysync/backport/platform"
	"github.com/byte4ever/cherrysync/backport/redact"
	"github.com/byte4ever/cherrysync/backport/repo"
)

// ErrTimeout indicates a network call or git subprocess exceeded the
// configured per-call bound.
var ErrTimeout = errors.New("operation timed out")

// Stage identifies where in the pipeline a failure occurred.
type Stage string

// Pipeline stages.
const (
	StageResolving      Stage = "resolving"
	StageFetching       Stage = "fetching"
	StagePreparing      Stage = "preparing"
	StageReplaying      Stage = "replaying"
	StagePatchExporting Stage = "patch-exporting"
	StagePushing        Stage = "pushing"
	StageCreatingPR     Stage = "creating-pr"
)

// StageError is a hard pipeline failure. Its message is redacted at
// construction; Unwrap exposes the cause for errors.Is classification.
type StageError struct {
	Stage Stage

	cause error
	msg   string
}

// Error returns the redacted failure message.
func (e *StageError) Error() string {
	return e.msg
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.cause
}

// failStage wraps err into a StageError with a redacted message. A
// deadline-exceeded cause is reclassified as ErrTimeout.
func failStage(
	red *redact.Redactor,
	stage Stage,
	err error,
) *StageError {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return &StageError{
		Stage: stage,
		cause: err,
		msg: red.Redact(
			fmt.Sprintf("%s: %v", stage, err),
		),
	}
}

// Result is the outcome of one backport run. A conflict is data here,
// not an error: callers distinguish success-with-conflict from hard
// failure by inspecting FirstConflict.
type Result struct {
	// Ref is the resolved source pull request identity.
	Ref platform.PullRequestRef

	// Applied lists the commits replayed successfully, in order.
	Applied []platform.Commit

	// SkippedPicks lists commits that produced empty cherry-picks.
	SkippedPicks []repo.Outcome

	// FirstConflict records the commit that stopped the replay.
	// Later commits are never attempted.
	FirstConflict *repo.Outcome

	// Pushed reports whether the replay branch reached the remote.
	Pushed bool

	// PRURL is the URL of the created pull request, if any.
	PRURL string

	// PatchPaths lists the patch files written in patch-export mode.
	PatchPaths []string
}

// Conflicted reports whether the replay stopped on a conflict.
func (r *Result) Conflicted() bool {
	return r.FirstConflict != nil
}

// redacted filters every textual field through the run's redactor
// before the result is handed to the caller.
func (r *Result) redacted(red *redact.Redactor) *Result {
	for i := range r.Applied {
		r.Applied[i].Author = red.Redact(r.Applied[i].Author)
		r.Applied[i].Message = red.Redact(r.Applied[i].Message)
	}

	for i := range r.SkippedPicks {
		r.SkippedPicks[i].Reason = red.Redact(
			r.SkippedPicks[i].Reason,
		)
	}

	if r.FirstConflict != nil {
		r.FirstConflict.Reason = red.Redact(
			r.FirstConflict.Reason,
		)

		for i, p := range r.FirstConflict.ConflictPaths {
			r.FirstConflict.ConflictPaths[i] = red.Redact(p)
		}
	}

	r.PRURL = red.Redact(r.PRURL)

	for i, p := range r.PatchPaths {
		r.PatchPaths[i] = red.Redact(p)
	}

	return r
}
