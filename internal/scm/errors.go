package scm

import "errors"

const (
	transientErrorMessageConstant     = "transient remote error"
	permissionErrorMessageConstant    = "remote permission denied"
	notFoundErrorMessageConstant      = "remote resource not found"
	mergeConflictErrorMessageConstant = "merge request has conflicts"
	pipelineFailureMessageConstant    = "pipeline failed"
)

// ErrRemoteTransient marks network or rate-limit failures that callers may retry.
var ErrRemoteTransient = errors.New(transientErrorMessageConstant)

// ErrRemotePermission marks authorization failures requiring manual action.
var ErrRemotePermission = errors.New(permissionErrorMessageConstant)

// ErrRemoteNotFound marks lookups against missing remote resources.
var ErrRemoteNotFound = errors.New(notFoundErrorMessageConstant)

// ErrMergeConflict marks merge requests blocked by conflicting changes.
var ErrMergeConflict = errors.New(mergeConflictErrorMessageConstant)

// ErrPipelineFailure marks merge requests blocked by a failed pipeline.
var ErrPipelineFailure = errors.New(pipelineFailureMessageConstant)
