// Package gitlab implements the scm.Gateway interface against the GitLab
// REST API. The client retries transient failures with exponential backoff,
// classifies HTTP status codes onto the scm sentinel errors, and applies the
// auto-merge enablement rules when opening merge requests.
package gitlab
