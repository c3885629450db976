package flow

import "github.com/mrflowbot/mrflow/internal/registry"

// RecordState is the lifecycle state of one merge-request record.
type RecordState string

// Record lifecycle enumerations. Pending records progress to created or
// existing and then to a terminal state; no_commits and failed are terminal
// on their own.
const (
	RecordStatePending   RecordState = RecordState("pending")
	RecordStateCreated   RecordState = RecordState("created")
	RecordStateExisting  RecordState = RecordState("existing")
	RecordStateMerged    RecordState = RecordState("merged")
	RecordStateNoCommits RecordState = RecordState("no_commits")
	RecordStateFailed    RecordState = RecordState("failed")
)

// Terminal reports whether the record can no longer change.
func (state RecordState) Terminal() bool {
	switch state {
	case RecordStateMerged, RecordStateNoCommits, RecordStateFailed:
		return true
	default:
		return false
	}
}

// MergeRequestRecord captures one hop attempt for one repository.
type MergeRequestRecord struct {
	Repository    string
	SourceBranch  string
	TargetBranch  string
	RemoteID      int
	WebURL        string
	State         RecordState
	CommitCount   int
	FailureReason string
	Intermediate  bool
}

// PromotionProgress aggregates the records of one phase into repository sets.
type PromotionProgress struct {
	Completed         []string
	Failed            []string
	InProgress        []string
	Pending           []string
	TargetEnvironment string
}

// ComputeProgress classifies each repository by its worst record: any failed
// record marks the repository failed, any pending or open record marks it
// pending or in progress, and repositories whose records are all terminal
// successes count as completed. The target environment is inferred from the
// first record's target branch through the deployment checkpoints.
func ComputeProgress(records []MergeRequestRecord, repositoryRegistry *registry.Registry) PromotionProgress {
	progress := PromotionProgress{}
	if len(records) == 0 {
		return progress
	}

	if checkpoint, checkpointExists := repositoryRegistry.CheckpointForBranch(records[0].TargetBranch); checkpointExists {
		progress.TargetEnvironment = checkpoint.Environment
	}

	recordsByRepository := map[string][]MergeRequestRecord{}
	repositoryOrder := []string{}
	for _, record := range records {
		if _, seen := recordsByRepository[record.Repository]; !seen {
			repositoryOrder = append(repositoryOrder, record.Repository)
		}
		recordsByRepository[record.Repository] = append(recordsByRepository[record.Repository], record)
	}

	for _, repository := range repositoryOrder {
		hasFailure := false
		hasPending := false
		hasOpen := false
		for _, record := range recordsByRepository[repository] {
			switch {
			case record.State == RecordStateFailed:
				hasFailure = true
			case record.State.Terminal():
			case record.State == RecordStatePending:
				hasPending = true
			default:
				hasOpen = true
			}
		}
		switch {
		case hasFailure:
			progress.Failed = append(progress.Failed, repository)
		case hasOpen:
			progress.InProgress = append(progress.InProgress, repository)
		case hasPending:
			progress.Pending = append(progress.Pending, repository)
		default:
			progress.Completed = append(progress.Completed, repository)
		}
	}
	return progress
}
