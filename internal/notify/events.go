package notify

import "time"

// DeploymentStartedEvent announces a new promotion run.
type DeploymentStartedEvent struct {
	RunID     string
	RunLabel  string
	Libraries []string
	Services  []string
}

// PhaseProgressEvent reports merge-request creation results for one phase.
type PhaseProgressEvent struct {
	RunID       string
	Phase       string
	Environment string
	Completed   []string
	Failed      []string
	InProgress  []string
	Pending     []string
}

// PhaseCompletedEvent reports the final outcome of one phase.
type PhaseCompletedEvent struct {
	RunID       string
	Phase       string
	Environment string
	Successful  []string
	Failed      []string
}

// EnvironmentDeploymentEvent reports the result of waiting for an environment.
type EnvironmentDeploymentEvent struct {
	RunID        string
	Environment  string
	Repositories []string
	Success      bool
}

// PipelineSucceededEvent reports a merge-request pipeline success observed
// while waiting for auto-merge.
type PipelineSucceededEvent struct {
	Repository      string
	MergeRequestID  int
	MergeRequestURL string
}

// AutoMergeWaitingEvent reports a merge request parked until its auto-merge
// conditions are satisfied.
type AutoMergeWaitingEvent struct {
	Repository      string
	MergeRequestID  int
	MergeRequestURL string
}

// StrayCommitsEvent summarizes stray and intermediate merge-request handling.
type StrayCommitsEvent struct {
	RunID             string
	RunLabel          string
	TotalBranches     int
	Successful        []string
	Failed            []string
	IntermediateCount int
}

// CriticalFailureEvent reports an error that ended processing for a run or repository.
type CriticalFailureEvent struct {
	RunID      string
	Repository string
	Message    string
}

// FinalSummaryEvent closes a promotion run.
type FinalSummaryEvent struct {
	RunID             string
	RunLabel          string
	TotalRepositories int
	Successful        []string
	InProgress        []string
	Failed            []string
	Elapsed           time.Duration
}
