// Package platform defines the hosting-platform model shared by the
// backport pipeline: pull request identities, commit metadata, and the
// Client capability interface implemented per platform in sub-packages.
//
// The Client interface abstracts the three operations the pipeline needs
// (fetch PR metadata, fetch the ordered commit list, create a PR). The
// orchestrator resolves a URL to a Platform value once and never branches
// on it again; differences between platforms stay inside the variants.
package platform
