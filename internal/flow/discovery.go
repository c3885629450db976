package flow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mrflowbot/mrflow/internal/notify"
	"github.com/mrflowbot/mrflow/internal/scm"
)

const (
	strayDiscoveryFailedMessageConstant   = "stray branch discovery failed"
	strayPromotionFailedMessageConstant   = "stray branch promotion failed"
	strayRepositoryLabelTemplateConstant  = "%s %s"
	strayMergeRequestTitleTemplateConstant = "Merge %s into %s (stray commits)"
	logFieldBranchConstant                = "branch"
)

// StrayBranch is a branch carrying commits unreachable from the final flow
// branch. Intermediate marks branches that belong to the configured flow.
type StrayBranch struct {
	Repository  string
	Branch      string
	CommitCount int
	Intermediate bool
}

// DiscoverStrayBranches scans every branch of the repository for commits not
// yet reachable from the final flow branch. Flow branches are only reported
// when no earlier flow branch already accounts for their commits; branches
// outside the flow are only reported when the flow's source branch does not
// already carry their commits.
func (engine *Engine) DiscoverStrayBranches(executionContext context.Context, repository string) ([]StrayBranch, error) {
	branchFlow, flowError := engine.registry.FlowFor(repository)
	if flowError != nil {
		return nil, flowError
	}
	sourceBranch, sourceError := engine.registry.SourceBranchFor(repository)
	if sourceError != nil {
		return nil, sourceError
	}
	finalBranch := branchFlow.FinalBranch()

	branches, listError := engine.gateway.ListBranches(executionContext, repository)
	if listError != nil {
		return nil, listError
	}

	strayBranches := []StrayBranch{}
	for _, branch := range branches {
		if branch == finalBranch {
			continue
		}

		unreachableDiff, diffError := engine.gateway.DiffCount(executionContext, repository, finalBranch, branch)
		if diffError != nil {
			return nil, diffError
		}
		if !unreachableDiff.HasCommits {
			continue
		}

		if branchFlow.Contains(branch) {
			if branch == sourceBranch {
				continue
			}
			accounted, accountedError := engine.accountedByEarlierFlowBranch(executionContext, repository, branchFlow, branch)
			if accountedError != nil {
				return nil, accountedError
			}
			if accounted {
				continue
			}
			strayBranches = append(strayBranches, StrayBranch{
				Repository:   repository,
				Branch:       branch,
				CommitCount:  unreachableDiff.CommitCount,
				Intermediate: true,
			})
			continue
		}

		coveredDiff, coveredError := engine.gateway.DiffCount(executionContext, repository, sourceBranch, branch)
		if coveredError != nil {
			return nil, coveredError
		}
		if !coveredDiff.HasCommits {
			continue
		}
		strayBranches = append(strayBranches, StrayBranch{
			Repository:  repository,
			Branch:      branch,
			CommitCount: unreachableDiff.CommitCount,
		})
	}
	return strayBranches, nil
}

// accountedByEarlierFlowBranch reports whether some flow branch earlier than
// the candidate already contains every commit the candidate would promote.
func (engine *Engine) accountedByEarlierFlowBranch(executionContext context.Context, repository string, branchFlow []string, candidateBranch string) (bool, error) {
	for _, earlierBranch := range branchFlow {
		if earlierBranch == candidateBranch {
			return false, nil
		}
		earlierDiff, diffError := engine.gateway.DiffCount(executionContext, repository, earlierBranch, candidateBranch)
		if diffError != nil {
			return false, diffError
		}
		if !earlierDiff.HasCommits {
			return true, nil
		}
	}
	return false, nil
}

// RunStrayProcessing scans every configured repository for stray branches and
// promotes them to their final flow branch. In dry-run mode the discovered
// branches are reported as pending records and nothing is created remotely.
func (engine *Engine) RunStrayProcessing(executionContext context.Context, options Options) ([]MergeRequestRecord, error) {
	runID := uuid.NewString()
	runLabel := fmt.Sprintf(runLabelTemplateConstant, engine.clock().Format(runLabelTimeLayoutConstant))

	libraries, services := engine.registry.Partition(engine.registry.AllRepositories())
	if options.LibrariesOnly {
		services = nil
	}
	if options.ServicesOnly {
		libraries = nil
	}
	repositories := append(append([]string{}, libraries...), services...)

	if !options.DryRun {
		return engine.processStrayBranches(executionContext, runID, runLabel, repositories, options), nil
	}

	records := []MergeRequestRecord{}
	for _, repository := range repositories {
		strayBranches, discoveryError := engine.DiscoverStrayBranches(executionContext, repository)
		if discoveryError != nil {
			engine.logger.Warn(
				strayDiscoveryFailedMessageConstant,
				zap.String(logFieldRepositoryConstant, repository),
				zap.Error(discoveryError),
			)
			continue
		}
		branchFlow, flowError := engine.registry.FlowFor(repository)
		if flowError != nil {
			continue
		}
		for _, strayBranch := range strayBranches {
			records = append(records, MergeRequestRecord{
				Repository:   repository,
				SourceBranch: strayBranch.Branch,
				TargetBranch: branchFlow.FinalBranch(),
				State:        RecordStatePending,
				CommitCount:  strayBranch.CommitCount,
				Intermediate: true,
			})
		}
	}
	return records, nil
}

// processStrayBranches promotes every discovered stray branch to its
// repository's final flow branch through the regular merge-request creation
// path and publishes one summary event.
func (engine *Engine) processStrayBranches(
	executionContext context.Context,
	runID string,
	runLabel string,
	repositories []string,
	options Options,
) []MergeRequestRecord {
	records := []MergeRequestRecord{}
	successful := []string{}
	failed := []string{}
	totalBranches := 0
	intermediateCount := 0

	for _, repository := range repositories {
		strayBranches, discoveryError := engine.DiscoverStrayBranches(executionContext, repository)
		if discoveryError != nil {
			engine.logger.Warn(
				strayDiscoveryFailedMessageConstant,
				zap.String(logFieldRepositoryConstant, repository),
				zap.Error(discoveryError),
			)
			failed = append(failed, repository)
			continue
		}

		branchFlow, flowError := engine.registry.FlowFor(repository)
		if flowError != nil {
			continue
		}
		finalBranch := branchFlow.FinalBranch()

		for _, strayBranch := range strayBranches {
			totalBranches++
			if strayBranch.Intermediate {
				intermediateCount++
			}

			branchLabel := fmt.Sprintf(strayRepositoryLabelTemplateConstant, repository, strayBranch.Branch)
			record := MergeRequestRecord{
				Repository:   repository,
				SourceBranch: strayBranch.Branch,
				TargetBranch: finalBranch,
				State:        RecordStatePending,
				CommitCount:  strayBranch.CommitCount,
				Intermediate: true,
			}

			commitNotes, notesError := engine.gateway.CommitDetails(executionContext, repository, strayBranch.Branch, finalBranch)
			if notesError != nil {
				commitNotes = nil
			}

			handle, creationError := engine.gateway.FindOrCreateMergeRequest(executionContext, scm.MergeRequestSpec{
				Repository:      repository,
				SourceBranch:    strayBranch.Branch,
				TargetBranch:    finalBranch,
				Title:           fmt.Sprintf(strayMergeRequestTitleTemplateConstant, strayBranch.Branch, finalBranch),
				CommitNotes:     commitNotes,
				EnableAutoMerge: options.EnableAutoMerge,
			})
			if creationError != nil {
				engine.logger.Warn(
					strayPromotionFailedMessageConstant,
					zap.String(logFieldRepositoryConstant, repository),
					zap.String(logFieldBranchConstant, strayBranch.Branch),
					zap.Error(creationError),
				)
				record.State = RecordStateFailed
				record.FailureReason = creationError.Error()
				records = append(records, record)
				failed = append(failed, branchLabel)
				continue
			}

			record.RemoteID = handle.ID
			record.WebURL = handle.WebURL
			record.State = RecordStateCreated
			if handle.Existing {
				record.State = RecordStateExisting
			}
			records = append(records, record)
			successful = append(successful, branchLabel)
		}
	}

	if totalBranches > 0 || len(failed) > 0 {
		engine.sink.StrayCommitsProcessed(executionContext, notify.StrayCommitsEvent{
			RunID:             runID,
			RunLabel:          runLabel,
			TotalBranches:     totalBranches,
			Successful:        successful,
			Failed:            failed,
			IntermediateCount: intermediateCount,
		})
	}
	return records
}
