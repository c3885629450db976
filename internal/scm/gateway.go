package scm

import "context"

// Gateway abstracts the remote repository host consumed by the promotion
// engine, merge-request monitor, and deployment gate. Implementations must be
// safe for concurrent use when repository-level parallelism is enabled.
type Gateway interface {
	// BranchExists reports whether the named branch exists in the repository.
	BranchExists(executionContext context.Context, repository string, branch string) (bool, error)

	// DiffCount reports the commits reachable from toBranch but not from
	// fromBranch using a single comparison call; the relation is asymmetric.
	DiffCount(executionContext context.Context, repository string, fromBranch string, toBranch string) (CommitDiff, error)

	// CommitDetails lists the commits in sourceBranch that targetBranch lacks,
	// most recent first, with messages truncated to their first line.
	CommitDetails(executionContext context.Context, repository string, sourceBranch string, targetBranch string) ([]CommitDetail, error)

	// PipelineStatus returns the status of the most recent pipeline for the
	// branch, or PipelineStatusNone when no pipeline exists for that ref.
	PipelineStatus(executionContext context.Context, repository string, branch string) (PipelineStatus, error)

	// FindOrCreateMergeRequest returns the open merge request for the spec's
	// source and target branches when one exists (flagged Existing, assignee
	// ensured) and otherwise opens a new one, attempting auto-merge enablement
	// when the spec requests it.
	FindOrCreateMergeRequest(executionContext context.Context, spec MergeRequestSpec) (MergeRequestHandle, error)

	// MergeRequestDetails fetches the current remote state of a merge request.
	MergeRequestDetails(executionContext context.Context, repository string, mergeRequestID int) (MergeRequestDetails, error)

	// DirectMerge attempts an immediate merge. Expected blocking conditions
	// (conflicts, pipeline requirements, permissions) report false without an
	// error; only unexpected faults surface as errors.
	DirectMerge(executionContext context.Context, repository string, mergeRequestID int) (bool, error)

	// DeploymentStatus returns the most recent deployment status for the
	// environment, or DeploymentStatusNone when no deployment exists.
	DeploymentStatus(executionContext context.Context, repository string, environment string) (DeploymentStatus, error)

	// ListBranches returns every branch name in the repository.
	ListBranches(executionContext context.Context, repository string) ([]string, error)
}
