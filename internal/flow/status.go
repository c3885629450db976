package flow

import (
	"context"
)

// HopStatus describes one adjacent branch pair of a repository's flow.
type HopStatus struct {
	SourceBranch string `yaml:"source_branch"`
	TargetBranch string `yaml:"target_branch"`
	SourceExists bool   `yaml:"source_exists"`
	TargetExists bool   `yaml:"target_exists"`
	AheadCount   int    `yaml:"ahead_count"`
}

// StrayBranchStatus describes one stray branch found during a status scan.
type StrayBranchStatus struct {
	Branch       string `yaml:"branch"`
	CommitCount  int    `yaml:"commit_count"`
	Intermediate bool   `yaml:"intermediate"`
}

// RepositoryBranchStatus is the per-repository section of the status report.
type RepositoryBranchStatus struct {
	Repository    string              `yaml:"repository"`
	Category      string              `yaml:"category"`
	Flow          []string            `yaml:"flow"`
	Hops          []HopStatus         `yaml:"hops"`
	StrayBranches []StrayBranchStatus `yaml:"stray_branches,omitempty"`
	Error         string              `yaml:"error,omitempty"`
}

// BranchStatus builds the debug report: per repository, hop existence and
// ahead-counts plus the stray branch scan. Lookup failures are recorded in the
// repository's section instead of aborting the report.
func (engine *Engine) BranchStatus(executionContext context.Context) ([]RepositoryBranchStatus, error) {
	report := []RepositoryBranchStatus{}
	for _, repository := range engine.registry.AllRepositories() {
		if contextError := executionContext.Err(); contextError != nil {
			return report, contextError
		}
		report = append(report, engine.repositoryBranchStatus(executionContext, repository))
	}
	return report, nil
}

func (engine *Engine) repositoryBranchStatus(executionContext context.Context, repository string) RepositoryBranchStatus {
	status := RepositoryBranchStatus{Repository: repository}

	if category, categoryError := engine.registry.CategoryOf(repository); categoryError == nil {
		status.Category = string(category)
	}

	branchFlow, flowError := engine.registry.FlowFor(repository)
	if flowError != nil {
		status.Error = flowError.Error()
		return status
	}
	status.Flow = append([]string{}, branchFlow...)

	for hopIndex := 0; hopIndex < len(branchFlow)-1; hopIndex++ {
		hopSource := branchFlow[hopIndex]
		hopTarget := branchFlow[hopIndex+1]
		hopStatus := HopStatus{SourceBranch: hopSource, TargetBranch: hopTarget}

		sourceExists, sourceError := engine.gateway.BranchExists(executionContext, repository, hopSource)
		if sourceError != nil {
			status.Error = sourceError.Error()
			return status
		}
		targetExists, targetError := engine.gateway.BranchExists(executionContext, repository, hopTarget)
		if targetError != nil {
			status.Error = targetError.Error()
			return status
		}
		hopStatus.SourceExists = sourceExists
		hopStatus.TargetExists = targetExists

		if sourceExists && targetExists {
			hopDiff, diffError := engine.gateway.DiffCount(executionContext, repository, hopTarget, hopSource)
			if diffError != nil {
				status.Error = diffError.Error()
				return status
			}
			hopStatus.AheadCount = hopDiff.CommitCount
		}
		status.Hops = append(status.Hops, hopStatus)
	}

	strayBranches, strayError := engine.DiscoverStrayBranches(executionContext, repository)
	if strayError != nil {
		status.Error = strayError.Error()
		return status
	}
	for _, strayBranch := range strayBranches {
		status.StrayBranches = append(status.StrayBranches, StrayBranchStatus{
			Branch:       strayBranch.Branch,
			CommitCount:  strayBranch.CommitCount,
			Intermediate: strayBranch.Intermediate,
		})
	}
	return status
}
