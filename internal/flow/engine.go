package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrflowbot/mrflow/internal/monitor"
	"github.com/mrflowbot/mrflow/internal/notify"
	"github.com/mrflowbot/mrflow/internal/registry"
	"github.com/mrflowbot/mrflow/internal/scm"
)

const (
	missingRegistryMessageConstant        = "promotion engine requires a repository registry"
	missingGatewayMessageConstant         = "promotion engine requires a gateway"
	missingMonitorMessageConstant         = "promotion engine requires a merge request monitor"
	missingDeploymentGateMessageConstant  = "promotion engine requires a deployment gate"
	missingSinkMessageConstant            = "promotion engine requires a notification sink"
	missingLoggerMessageConstant          = "promotion engine requires a logger"
	libraryPhaseNameConstant              = "libraries"
	servicePhaseNameConstant              = "services"
	runLabelTemplateConstant              = "promotion run %s"
	runLabelTimeLayoutConstant            = "2006-01-02 15:04"
	mergeRequestTitleTemplateConstant     = "Merge %s into %s"
	servicePhaseSkippedMessageConstant    = "service phase skipped after library phase failures"
	phaseStartingMessageConstant          = "phase starting"
	hopBranchMissingMessageConstant       = "hop skipped, branch missing"
	hopDeferredMessageConstant            = "later hops deferred, earlier hop has unmerged commits"
	deploymentBarrierHoldMessageConstant  = "promotion halted, environment deployment did not succeed"
	commitNotesLookupFailedMessageConstant = "commit notes lookup failed"
	repositoryFailureTemplateConstant     = "%s: %v"
	monitorOutcomeReasonTemplateConstant  = "merge request %d ended with outcome %s"
	logFieldRunConstant                   = "run_id"
	logFieldPhaseConstant                 = "phase"
	logFieldRepositoryConstant            = "repository"
	logFieldSourceBranchConstant          = "source_branch"
	logFieldTargetBranchConstant          = "target_branch"
	logFieldRepositoryCountConstant       = "repository_count"
	logFieldEnvironmentConstant           = "environment"
)

// MergeRequestAwaiter drives one merge request to a terminal outcome.
type MergeRequestAwaiter interface {
	Await(executionContext context.Context, repository string, mergeRequestID int) (monitor.Outcome, error)
}

// DeploymentAwaiter blocks until an environment deployment resolves.
type DeploymentAwaiter interface {
	Await(executionContext context.Context, runID string, environment string, repositories []string) (bool, error)
}

// Dependencies carries the collaborators required by the engine.
type Dependencies struct {
	Registry       *registry.Registry
	Gateway        scm.Gateway
	Monitor        MergeRequestAwaiter
	DeploymentGate DeploymentAwaiter
	Sink           notify.Sink
	Logger         *zap.Logger
}

// Options selects the scope and behavior of one promotion run.
type Options struct {
	LibrariesOnly             bool
	ServicesOnly              bool
	DryRun                    bool
	DisableProgressive        bool
	SkipStrayProcessing       bool
	EnableAutoMerge           bool
	TargetBranch              string
	MaxConcurrentRepositories int
}

// Result summarizes one promotion run. Successful lists only repositories
// whose records all reached terminal success; repositories with a merge
// request still open are reported separately as InProgress.
type Result struct {
	RunID        string
	Records      []MergeRequestRecord
	StrayRecords []MergeRequestRecord
	Successful   []string
	InProgress   []string
	Failed       []string
	Elapsed      time.Duration
}

// Engine walks branch flows and promotes commits repository by repository.
type Engine struct {
	registry       *registry.Registry
	gateway        scm.Gateway
	monitor        MergeRequestAwaiter
	deploymentGate DeploymentAwaiter
	sink           notify.Sink
	logger         *zap.Logger
	clock          func() time.Time
}

// NewEngine validates the dependencies and constructs a promotion engine.
func NewEngine(dependencies Dependencies) (*Engine, error) {
	if dependencies.Registry == nil {
		return nil, errors.New(missingRegistryMessageConstant)
	}
	if dependencies.Gateway == nil {
		return nil, errors.New(missingGatewayMessageConstant)
	}
	if dependencies.Monitor == nil {
		return nil, errors.New(missingMonitorMessageConstant)
	}
	if dependencies.DeploymentGate == nil {
		return nil, errors.New(missingDeploymentGateMessageConstant)
	}
	if dependencies.Sink == nil {
		return nil, errors.New(missingSinkMessageConstant)
	}
	if dependencies.Logger == nil {
		return nil, errors.New(missingLoggerMessageConstant)
	}
	return &Engine{
		registry:       dependencies.Registry,
		gateway:        dependencies.Gateway,
		monitor:        dependencies.Monitor,
		deploymentGate: dependencies.DeploymentGate,
		sink:           dependencies.Sink,
		logger:         dependencies.Logger,
		clock:          time.Now,
	}, nil
}

// Run promotes every configured repository, libraries before services. The
// service phase is skipped when the library phase recorded failures. Only
// cancellation aborts the run; repository failures become failed records.
func (engine *Engine) Run(executionContext context.Context, options Options) (Result, error) {
	startTime := engine.clock()
	runID := uuid.NewString()
	runLabel := fmt.Sprintf(runLabelTemplateConstant, startTime.Format(runLabelTimeLayoutConstant))

	libraries, services := engine.registry.Partition(engine.registry.AllRepositories())
	if options.LibrariesOnly {
		services = nil
	}
	if options.ServicesOnly {
		libraries = nil
	}

	result := Result{RunID: runID}
	engine.sink.DeploymentStarted(executionContext, notify.DeploymentStartedEvent{
		RunID:     runID,
		RunLabel:  runLabel,
		Libraries: libraries,
		Services:  services,
	})

	libraryRecords, libraryStrays, libraryError := engine.runPhase(executionContext, runID, runLabel, libraryPhaseNameConstant, libraries, options)
	result.Records = append(result.Records, libraryRecords...)
	result.StrayRecords = append(result.StrayRecords, libraryStrays...)
	if libraryError != nil {
		return result, libraryError
	}

	libraryProgress := ComputeProgress(libraryRecords, engine.registry)
	if len(libraryProgress.Failed) > 0 && len(services) > 0 {
		engine.logger.Warn(servicePhaseSkippedMessageConstant, zap.String(logFieldRunConstant, runID))
		engine.sink.CriticalFailure(executionContext, notify.CriticalFailureEvent{
			RunID:   runID,
			Message: servicePhaseSkippedMessageConstant,
		})
		services = nil
	}

	serviceRecords, serviceStrays, serviceError := engine.runPhase(executionContext, runID, runLabel, servicePhaseNameConstant, services, options)
	result.Records = append(result.Records, serviceRecords...)
	result.StrayRecords = append(result.StrayRecords, serviceStrays...)
	if serviceError != nil {
		return result, serviceError
	}

	overallProgress := ComputeProgress(result.Records, engine.registry)
	result.Successful = overallProgress.Completed
	result.InProgress = overallProgress.InProgress
	result.Failed = overallProgress.Failed
	result.Elapsed = engine.clock().Sub(startTime)

	engine.sink.FinalSummary(executionContext, notify.FinalSummaryEvent{
		RunID:             runID,
		RunLabel:          runLabel,
		TotalRepositories: len(libraries) + len(services),
		Successful:        result.Successful,
		InProgress:        result.InProgress,
		Failed:            result.Failed,
		Elapsed:           result.Elapsed,
	})
	return result, nil
}

func (engine *Engine) runPhase(
	executionContext context.Context,
	runID string,
	runLabel string,
	phaseName string,
	repositories []string,
	options Options,
) ([]MergeRequestRecord, []MergeRequestRecord, error) {
	if len(repositories) == 0 {
		return nil, nil, nil
	}
	engine.logger.Info(
		phaseStartingMessageConstant,
		zap.String(logFieldRunConstant, runID),
		zap.String(logFieldPhaseConstant, phaseName),
		zap.Int(logFieldRepositoryCountConstant, len(repositories)),
	)

	concurrencyLimit := options.MaxConcurrentRepositories
	if concurrencyLimit < 1 {
		concurrencyLimit = 1
	}

	var recordsMutex sync.Mutex
	phaseRecords := []MergeRequestRecord{}

	workerGroup, groupContext := errgroup.WithContext(executionContext)
	workerGroup.SetLimit(concurrencyLimit)
	for _, repository := range repositories {
		repository := repository
		workerGroup.Go(func() error {
			repositoryRecords, repositoryError := engine.promoteRepository(groupContext, runID, repository, options)
			recordsMutex.Lock()
			phaseRecords = append(phaseRecords, repositoryRecords...)
			recordsMutex.Unlock()
			return repositoryError
		})
	}
	waitError := workerGroup.Wait()

	progress := ComputeProgress(phaseRecords, engine.registry)
	engine.sink.PhaseProgress(executionContext, notify.PhaseProgressEvent{
		RunID:       runID,
		Phase:       phaseName,
		Environment: progress.TargetEnvironment,
		Completed:   progress.Completed,
		Failed:      progress.Failed,
		InProgress:  progress.InProgress,
		Pending:     progress.Pending,
	})
	engine.sink.PhaseCompleted(executionContext, notify.PhaseCompletedEvent{
		RunID:       runID,
		Phase:       phaseName,
		Environment: progress.TargetEnvironment,
		Successful:  progress.Completed,
		Failed:      progress.Failed,
	})
	if waitError != nil {
		return phaseRecords, nil, waitError
	}

	strayRecords := []MergeRequestRecord{}
	if !options.DryRun && !options.SkipStrayProcessing && !engine.phaseEnvironmentWaits(phaseRecords) {
		strayRecords = engine.processStrayBranches(executionContext, runID, runLabel, repositories, options)
	}
	return phaseRecords, strayRecords, nil
}

// phaseEnvironmentWaits reports whether any record of the phase targeted a
// branch bound to a wait-required deployment checkpoint. Stray processing is
// deferred for such phases so it cannot race the environment rollout.
func (engine *Engine) phaseEnvironmentWaits(records []MergeRequestRecord) bool {
	for _, record := range records {
		checkpoint, checkpointExists := engine.registry.CheckpointForBranch(record.TargetBranch)
		if checkpointExists && checkpoint.WaitRequired {
			return true
		}
	}
	return false
}

func (engine *Engine) promoteRepository(
	executionContext context.Context,
	runID string,
	repository string,
	options Options,
) ([]MergeRequestRecord, error) {
	branchFlow, flowError := engine.registry.FlowFor(repository)
	if flowError != nil {
		return []MergeRequestRecord{engine.repositoryFailure(executionContext, runID, repository, MergeRequestRecord{Repository: repository}, flowError)}, nil
	}
	sourceBranch, sourceError := engine.registry.SourceBranchFor(repository)
	if sourceError != nil {
		return []MergeRequestRecord{engine.repositoryFailure(executionContext, runID, repository, MergeRequestRecord{Repository: repository}, sourceError)}, nil
	}

	startIndex := 0
	for branchIndex, branch := range branchFlow {
		if branch == sourceBranch {
			startIndex = branchIndex
			break
		}
	}

	records := []MergeRequestRecord{}
	for hopIndex := startIndex; hopIndex < len(branchFlow)-1; hopIndex++ {
		if contextError := executionContext.Err(); contextError != nil {
			return records, contextError
		}

		hopSource := branchFlow[hopIndex]
		hopTarget := branchFlow[hopIndex+1]
		if len(options.TargetBranch) > 0 && hopSource == options.TargetBranch {
			break
		}

		record := MergeRequestRecord{
			Repository:   repository,
			SourceBranch: hopSource,
			TargetBranch: hopTarget,
			State:        RecordStatePending,
		}

		sourceExists, sourceExistsError := engine.gateway.BranchExists(executionContext, repository, hopSource)
		if sourceExistsError != nil {
			return engine.finishWithFailure(executionContext, runID, repository, records, record, sourceExistsError)
		}
		targetExists, targetExistsError := engine.gateway.BranchExists(executionContext, repository, hopTarget)
		if targetExistsError != nil {
			return engine.finishWithFailure(executionContext, runID, repository, records, record, targetExistsError)
		}
		if !sourceExists || !targetExists {
			engine.logger.Debug(
				hopBranchMissingMessageConstant,
				zap.String(logFieldRepositoryConstant, repository),
				zap.String(logFieldSourceBranchConstant, hopSource),
				zap.String(logFieldTargetBranchConstant, hopTarget),
			)
			continue
		}

		blocked, blockedError := engine.earlierHopBlocked(executionContext, repository, branchFlow, hopIndex)
		if blockedError != nil {
			return engine.finishWithFailure(executionContext, runID, repository, records, record, blockedError)
		}
		if blocked {
			engine.logger.Info(
				hopDeferredMessageConstant,
				zap.String(logFieldRepositoryConstant, repository),
				zap.String(logFieldSourceBranchConstant, hopSource),
				zap.String(logFieldTargetBranchConstant, hopTarget),
			)
			break
		}

		hopDiff, diffError := engine.gateway.DiffCount(executionContext, repository, hopTarget, hopSource)
		if diffError != nil {
			return engine.finishWithFailure(executionContext, runID, repository, records, record, diffError)
		}
		if !hopDiff.HasCommits {
			record.State = RecordStateNoCommits
			records = append(records, record)
			continue
		}
		record.CommitCount = hopDiff.CommitCount

		if options.DryRun {
			records = append(records, record)
			break
		}

		commitNotes, notesError := engine.gateway.CommitDetails(executionContext, repository, hopSource, hopTarget)
		if notesError != nil {
			engine.logger.Warn(
				commitNotesLookupFailedMessageConstant,
				zap.String(logFieldRepositoryConstant, repository),
				zap.Error(notesError),
			)
			commitNotes = nil
		}

		handle, creationError := engine.gateway.FindOrCreateMergeRequest(executionContext, scm.MergeRequestSpec{
			Repository:      repository,
			SourceBranch:    hopSource,
			TargetBranch:    hopTarget,
			Title:           fmt.Sprintf(mergeRequestTitleTemplateConstant, hopSource, hopTarget),
			CommitNotes:     commitNotes,
			EnableAutoMerge: options.EnableAutoMerge,
		})
		if creationError != nil {
			return engine.finishWithFailure(executionContext, runID, repository, records, record, creationError)
		}

		record.RemoteID = handle.ID
		record.WebURL = handle.WebURL
		record.State = RecordStateCreated
		if handle.Existing {
			record.State = RecordStateExisting
		}

		if handle.State != scm.MergeRequestStateMerged {
			outcome, monitorError := engine.monitor.Await(executionContext, repository, handle.ID)
			if monitorError != nil {
				if isCancellation(executionContext, monitorError) {
					records = append(records, record)
					return records, monitorError
				}
				return engine.finishWithFailure(executionContext, runID, repository, records, record, monitorError)
			}
			if !outcome.Succeeded() {
				outcomeFailure := fmt.Errorf(monitorOutcomeReasonTemplateConstant, handle.ID, outcome)
				return engine.finishWithFailure(executionContext, runID, repository, records, record, outcomeFailure)
			}
		}
		record.State = RecordStateMerged
		records = append(records, record)

		checkpoint, checkpointExists := engine.registry.CheckpointForBranch(hopTarget)
		if checkpointExists && checkpoint.WaitRequired {
			deployed, gateError := engine.deploymentGate.Await(executionContext, runID, checkpoint.Environment, []string{repository})
			if gateError != nil {
				if isCancellation(executionContext, gateError) {
					return records, gateError
				}
				engine.logger.Warn(
					deploymentBarrierHoldMessageConstant,
					zap.String(logFieldRepositoryConstant, repository),
					zap.String(logFieldEnvironmentConstant, checkpoint.Environment),
					zap.Error(gateError),
				)
				break
			}
			if !deployed {
				engine.logger.Warn(
					deploymentBarrierHoldMessageConstant,
					zap.String(logFieldRepositoryConstant, repository),
					zap.String(logFieldEnvironmentConstant, checkpoint.Environment),
				)
				break
			}
		}

		if options.DisableProgressive {
			break
		}
	}
	return records, nil
}

// earlierHopBlocked applies the dependency rule: a hop may only run when every
// earlier hop in the flow has no unmerged commits.
func (engine *Engine) earlierHopBlocked(executionContext context.Context, repository string, branchFlow registry.BranchFlow, hopIndex int) (bool, error) {
	for earlierIndex := 0; earlierIndex < hopIndex; earlierIndex++ {
		earlierSource := branchFlow[earlierIndex]
		earlierTarget := branchFlow[earlierIndex+1]
		earlierDiff, diffError := engine.gateway.DiffCount(executionContext, repository, earlierTarget, earlierSource)
		if diffError != nil {
			return false, diffError
		}
		if earlierDiff.HasCommits {
			return true, nil
		}
	}
	return false, nil
}

func (engine *Engine) finishWithFailure(
	executionContext context.Context,
	runID string,
	repository string,
	records []MergeRequestRecord,
	record MergeRequestRecord,
	failure error,
) ([]MergeRequestRecord, error) {
	if isCancellation(executionContext, failure) {
		return records, failure
	}
	return append(records, engine.repositoryFailure(executionContext, runID, repository, record, failure)), nil
}

// repositoryFailure converts an error into a terminal failed record and
// reports it; failures stay inside the repository boundary.
func (engine *Engine) repositoryFailure(
	executionContext context.Context,
	runID string,
	repository string,
	record MergeRequestRecord,
	failure error,
) MergeRequestRecord {
	record.State = RecordStateFailed
	record.FailureReason = failure.Error()
	engine.logger.Error(
		fmt.Sprintf(repositoryFailureTemplateConstant, repository, failure),
		zap.String(logFieldRunConstant, runID),
		zap.String(logFieldRepositoryConstant, repository),
	)
	engine.sink.CriticalFailure(executionContext, notify.CriticalFailureEvent{
		RunID:      runID,
		Repository: repository,
		Message:    failure.Error(),
	})
	return record
}

func isCancellation(executionContext context.Context, failure error) bool {
	if executionContext.Err() != nil {
		return true
	}
	return errors.Is(failure, context.Canceled) || errors.Is(failure, context.DeadlineExceeded)
}
