// Package monitor polls merge requests until they merge, fail, or time out.
//
// The monitor implements the post-creation half of a promotion hop: it watches
// the merge request state and its source branch pipeline, attempts a direct
// merge when no pipeline guards the branch, and emits one-time notifications
// when a pipeline succeeds or a merge request parks awaiting auto-merge.
package monitor
