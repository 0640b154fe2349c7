// Package repo wraps a local git working directory with the primitives
// the backport pipeline needs: fetching refs, branching, cherry-picking,
// patch export, and pushing.
//
// A Workspace is either a caller-supplied existing clone (ownership
// stays with the caller, nothing is removed) or an ephemeral clone in a
// temporary directory that Close removes. Every git invocation runs with
// the workspace directory as cmd.Dir; the process working directory is
// never changed.
//
// CherryPick never leaves the repository in a mid-cherry-pick state: a
// conflict is recorded as an Outcome and the pick is aborted before the
// method returns, so a failed run cannot corrupt a reused clone.
package repo
