// Package picker orchestrates backporting a pull request onto a target
// branch. It resolves the PR URL, fetches the commit list through a
// platform client, prepares a workspace (existing clone or ephemeral),
// replays the commits via cherry-pick or exports them as patch files,
// and optionally pushes the result and opens a new pull request.
//
// The main entry point is Run, which accepts a Config struct with all
// parameters for the workflow and returns a Result. A cherry-pick
// conflict is reported inside the Result, not as an error; hard
// failures carry the stage they occurred in via StageError. All text
// that leaves Run has the configured token redacted.
package picker
