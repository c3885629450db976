package scm

// PipelineStatus reports the state of the most recent pipeline for a ref.
type PipelineStatus string

// Pipeline status enumerations mirroring the remote host's vocabulary.
const (
	PipelineStatusNone    PipelineStatus = PipelineStatus("")
	PipelineStatusCreated PipelineStatus = PipelineStatus("created")
	PipelineStatusPending PipelineStatus = PipelineStatus("pending")
	PipelineStatusRunning PipelineStatus = PipelineStatus("running")
	PipelineStatusSuccess PipelineStatus = PipelineStatus("success")
	PipelineStatusFailed  PipelineStatus = PipelineStatus("failed")
	PipelineStatusManual  PipelineStatus = PipelineStatus("manual")
)

// IsActive reports whether the pipeline is still progressing toward a result.
func (status PipelineStatus) IsActive() bool {
	switch status {
	case PipelineStatusCreated, PipelineStatusPending, PipelineStatusRunning:
		return true
	default:
		return false
	}
}

// DeploymentStatus reports the state of the most recent deployment to an environment.
type DeploymentStatus string

// Deployment status enumerations.
const (
	DeploymentStatusNone    DeploymentStatus = DeploymentStatus("")
	DeploymentStatusCreated DeploymentStatus = DeploymentStatus("created")
	DeploymentStatusRunning DeploymentStatus = DeploymentStatus("running")
	DeploymentStatusSuccess DeploymentStatus = DeploymentStatus("success")
	DeploymentStatusFailed  DeploymentStatus = DeploymentStatus("failed")
)

// MergeRequestState reports the remote lifecycle state of a merge request.
type MergeRequestState string

// Merge request state enumerations.
const (
	MergeRequestStateOpened MergeRequestState = MergeRequestState("opened")
	MergeRequestStateMerged MergeRequestState = MergeRequestState("merged")
	MergeRequestStateClosed MergeRequestState = MergeRequestState("closed")
	MergeRequestStateLocked MergeRequestState = MergeRequestState("locked")
)

// MergeStatus reports whether the remote considers a merge request mergeable.
type MergeStatus string

// Merge status enumerations.
const (
	MergeStatusCanBeMerged    MergeStatus = MergeStatus("can_be_merged")
	MergeStatusCannotBeMerged MergeStatus = MergeStatus("cannot_be_merged")
	MergeStatusChecking       MergeStatus = MergeStatus("checking")
	MergeStatusUnchecked      MergeStatus = MergeStatus("unchecked")
)

// CommitDiff summarizes a single branch comparison.
type CommitDiff struct {
	HasCommits  bool
	CommitCount int
}

// CommitDetail captures one commit surfaced by a branch comparison.
type CommitDetail struct {
	ShortID    string
	Message    string
	AuthorName string
	CreatedAt  string
	WebURL     string
}

// MergeRequestHandle identifies a merge request returned by creation or lookup.
type MergeRequestHandle struct {
	ID       int
	WebURL   string
	Title    string
	State    MergeRequestState
	Existing bool
}

// MergeRequestDetails captures the remote view of a merge request during monitoring.
type MergeRequestDetails struct {
	ID           int
	State        MergeRequestState
	SourceBranch string
	TargetBranch string
	MergeStatus  MergeStatus
	WebURL       string
	HasConflicts bool
}

// MergeRequestSpec describes a merge request to find or create.
type MergeRequestSpec struct {
	Repository      string
	SourceBranch    string
	TargetBranch    string
	Title           string
	CommitNotes     []CommitDetail
	EnableAutoMerge bool
}
