package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mrflowbot/mrflow/internal/notify"
	"github.com/mrflowbot/mrflow/internal/scm"
)

const (
	missingGatewayMessageConstant        = "merge request monitor requires a gateway"
	missingSinkMessageConstant           = "merge request monitor requires a notification sink"
	missingLoggerMessageConstant         = "merge request monitor requires a logger"
	defaultPollIntervalConstant          = 30 * time.Second
	defaultTimeoutConstant               = 30 * time.Minute
	mergeObservedMessageConstant         = "merge request merged"
	mergeRequestClosedMessageConstant    = "merge request closed without merging"
	pipelineFailedMessageConstant        = "merge request pipeline failed"
	conflictDetectedMessageConstant      = "merge request has conflicts"
	directMergeSucceededMessageConstant  = "merge request merged directly"
	monitorTimeoutMessageConstant        = "merge request monitoring timed out"
	logFieldRepositoryConstant           = "repository"
	logFieldMergeRequestConstant         = "merge_request"
	logFieldPipelineStatusConstant       = "pipeline_status"
)

// Outcome reports how monitoring one merge request ended.
type Outcome string

// Monitoring outcome enumerations.
const (
	OutcomeMerged         Outcome = Outcome("merged")
	OutcomeClosed         Outcome = Outcome("closed")
	OutcomeConflict       Outcome = Outcome("conflict")
	OutcomePipelineFailed Outcome = Outcome("pipeline_failed")
	OutcomeTimeout        Outcome = Outcome("timeout")
	OutcomeCancelled      Outcome = Outcome("cancelled")
)

// Succeeded reports whether the outcome represents a merged request.
func (outcome Outcome) Succeeded() bool {
	return outcome == OutcomeMerged
}

// Options tunes the polling loop.
type Options struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// Sanitize substitutes defaults for unset durations.
func (options Options) Sanitize() Options {
	sanitized := options
	if sanitized.PollInterval <= 0 {
		sanitized.PollInterval = defaultPollIntervalConstant
	}
	if sanitized.Timeout <= 0 {
		sanitized.Timeout = defaultTimeoutConstant
	}
	return sanitized
}

// Dependencies carries the collaborators required by the monitor. Sleep and
// Clock default to real time when unset.
type Dependencies struct {
	Gateway scm.Gateway
	Sink    notify.Sink
	Logger  *zap.Logger
	Sleep   func(executionContext context.Context, delay time.Duration) error
	Clock   func() time.Time
}

// Monitor watches merge requests until a terminal outcome is reached.
type Monitor struct {
	gateway scm.Gateway
	sink    notify.Sink
	logger  *zap.Logger
	options Options
	sleep   func(executionContext context.Context, delay time.Duration) error
	clock   func() time.Time
}

// NewMonitor validates the dependencies and constructs a monitor.
func NewMonitor(dependencies Dependencies, options Options) (*Monitor, error) {
	if dependencies.Gateway == nil {
		return nil, errors.New(missingGatewayMessageConstant)
	}
	if dependencies.Sink == nil {
		return nil, errors.New(missingSinkMessageConstant)
	}
	if dependencies.Logger == nil {
		return nil, errors.New(missingLoggerMessageConstant)
	}
	sleepFunction := dependencies.Sleep
	if sleepFunction == nil {
		sleepFunction = sleepWithContext
	}
	clockFunction := dependencies.Clock
	if clockFunction == nil {
		clockFunction = time.Now
	}
	return &Monitor{
		gateway: dependencies.Gateway,
		sink:    dependencies.Sink,
		logger:  dependencies.Logger,
		options: options.Sanitize(),
		sleep:   sleepFunction,
		clock:   clockFunction,
	}, nil
}

func sleepWithContext(executionContext context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-executionContext.Done():
		return executionContext.Err()
	case <-timer.C:
		return nil
	}
}

// Await polls the merge request until it merges, terminally fails, or the
// monitoring window elapses. Remote errors abort polling and surface to the
// caller with a zero outcome; OutcomeCancelled is reserved for context
// cancellation.
func (monitor *Monitor) Await(executionContext context.Context, repository string, mergeRequestID int) (Outcome, error) {
	deadline := monitor.clock().Add(monitor.options.Timeout)
	pipelineSuccessNotified := false
	autoMergeWaitingNotified := false

	for {
		if executionContext.Err() != nil {
			return OutcomeCancelled, executionContext.Err()
		}

		details, detailsError := monitor.gateway.MergeRequestDetails(executionContext, repository, mergeRequestID)
		if detailsError != nil {
			return "", detailsError
		}

		switch details.State {
		case scm.MergeRequestStateMerged:
			monitor.logger.Info(
				mergeObservedMessageConstant,
				zap.String(logFieldRepositoryConstant, repository),
				zap.Int(logFieldMergeRequestConstant, mergeRequestID),
			)
			return OutcomeMerged, nil
		case scm.MergeRequestStateClosed:
			monitor.logger.Warn(
				mergeRequestClosedMessageConstant,
				zap.String(logFieldRepositoryConstant, repository),
				zap.Int(logFieldMergeRequestConstant, mergeRequestID),
			)
			return OutcomeClosed, nil
		}

		if details.HasConflicts || details.MergeStatus == scm.MergeStatusCannotBeMerged {
			monitor.logger.Warn(
				conflictDetectedMessageConstant,
				zap.String(logFieldRepositoryConstant, repository),
				zap.Int(logFieldMergeRequestConstant, mergeRequestID),
			)
			return OutcomeConflict, nil
		}

		pipelineStatus, pipelineError := monitor.gateway.PipelineStatus(executionContext, repository, details.SourceBranch)
		if pipelineError != nil {
			return "", pipelineError
		}

		switch {
		case pipelineStatus == scm.PipelineStatusFailed:
			monitor.logger.Warn(
				pipelineFailedMessageConstant,
				zap.String(logFieldRepositoryConstant, repository),
				zap.Int(logFieldMergeRequestConstant, mergeRequestID),
			)
			return OutcomePipelineFailed, nil

		case pipelineStatus == scm.PipelineStatusSuccess:
			if !pipelineSuccessNotified {
				pipelineSuccessNotified = true
				monitor.sink.PipelineSucceeded(executionContext, notify.PipelineSucceededEvent{
					Repository:      repository,
					MergeRequestID:  mergeRequestID,
					MergeRequestURL: details.WebURL,
				})
			}

		case pipelineStatus == scm.PipelineStatusNone || pipelineStatus == scm.PipelineStatusManual:
			merged, mergeError := monitor.gateway.DirectMerge(executionContext, repository, mergeRequestID)
			if mergeError != nil {
				return "", mergeError
			}
			if merged {
				monitor.logger.Info(
					directMergeSucceededMessageConstant,
					zap.String(logFieldRepositoryConstant, repository),
					zap.Int(logFieldMergeRequestConstant, mergeRequestID),
				)
				return OutcomeMerged, nil
			}
			if !autoMergeWaitingNotified {
				autoMergeWaitingNotified = true
				monitor.sink.AutoMergeWaiting(executionContext, notify.AutoMergeWaitingEvent{
					Repository:      repository,
					MergeRequestID:  mergeRequestID,
					MergeRequestURL: details.WebURL,
				})
			}
		}

		if !monitor.clock().Before(deadline) {
			monitor.logger.Warn(
				monitorTimeoutMessageConstant,
				zap.String(logFieldRepositoryConstant, repository),
				zap.Int(logFieldMergeRequestConstant, mergeRequestID),
				zap.String(logFieldPipelineStatusConstant, string(pipelineStatus)),
			)
			return OutcomeTimeout, nil
		}

		if sleepError := monitor.sleep(executionContext, monitor.options.PollInterval); sleepError != nil {
			return OutcomeCancelled, sleepError
		}
	}
}
