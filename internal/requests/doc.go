// Package requests implements operator commands addressing explicit merge
// requests by repository and id. They are escape hatches for runs where the
// engine left a request behind: batch auto-merge enablement and batch direct
// merge over a comma-separated "repository:id" list.
package requests
