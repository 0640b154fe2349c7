// Package github implements a platform.Client for GitHub (cloud or
// enterprise) on top of google/go-github. Configure with a Config
// containing the access token; set EnterpriseHost for GitHub Enterprise
// installations.
package github
