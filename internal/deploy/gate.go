package deploy

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mrflowbot/mrflow/internal/notify"
	"github.com/mrflowbot/mrflow/internal/scm"
)

const (
	missingGatewayMessageConstant      = "deployment gate requires a gateway"
	missingSinkMessageConstant         = "deployment gate requires a notification sink"
	missingLoggerMessageConstant       = "deployment gate requires a logger"
	defaultPollIntervalConstant        = 30 * time.Second
	defaultTimeoutConstant             = 45 * time.Minute
	deploymentSucceededMessageConstant = "environment deployment succeeded"
	deploymentFailedMessageConstant    = "environment deployment failed"
	deploymentTimeoutMessageConstant   = "environment deployment timed out"
	logFieldEnvironmentConstant        = "environment"
	logFieldRepositoryConstant         = "repository"
	logFieldStatusConstant             = "status"
)

// Options tunes the deployment polling loop.
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

// Dependencies carries the collaborators required by the gate. Sleep and
// Clock default to real time when unset.
type Dependencies struct {
	Gateway scm.Gateway
	Sink    notify.Sink
	Logger  *zap.Logger
	Sleep   func(executionContext context.Context, delay time.Duration) error
	Clock   func() time.Time
}

// Gate waits for environment deployments triggered by promotion merges.
type Gate struct {
	gateway scm.Gateway
	sink    notify.Sink
	logger  *zap.Logger
	options Options
	sleep   func(executionContext context.Context, delay time.Duration) error
	clock   func() time.Time
}

// NewGate validates the dependencies and constructs a deployment gate.
func NewGate(dependencies Dependencies, options Options) (*Gate, error) {
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
	return &Gate{
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

// Await polls the latest deployment for each repository until every one
// reports success. It returns false when any deployment fails or the waiting
// window elapses; remote errors surface to the caller.
func (gate *Gate) Await(executionContext context.Context, runID string, environment string, repositories []string) (bool, error) {
	if len(repositories) == 0 {
		return true, nil
	}

	deadline := gate.clock().Add(gate.options.Timeout)
	pendingRepositories := append([]string{}, repositories...)

	for {
		if executionContext.Err() != nil {
			return false, executionContext.Err()
		}

		stillPending := pendingRepositories[:0]
		for _, repository := range pendingRepositories {
			deploymentStatus, statusError := gate.gateway.DeploymentStatus(executionContext, repository, environment)
			if statusError != nil {
				return false, statusError
			}
			switch deploymentStatus {
			case scm.DeploymentStatusSuccess:
				gate.logger.Info(
					deploymentSucceededMessageConstant,
					zap.String(logFieldEnvironmentConstant, environment),
					zap.String(logFieldRepositoryConstant, repository),
				)
			case scm.DeploymentStatusFailed:
				gate.logger.Warn(
					deploymentFailedMessageConstant,
					zap.String(logFieldEnvironmentConstant, environment),
					zap.String(logFieldRepositoryConstant, repository),
				)
				gate.publishOutcome(executionContext, runID, environment, repositories, false)
				return false, nil
			default:
				stillPending = append(stillPending, repository)
			}
		}
		pendingRepositories = stillPending

		if len(pendingRepositories) == 0 {
			gate.publishOutcome(executionContext, runID, environment, repositories, true)
			return true, nil
		}

		if !gate.clock().Before(deadline) {
			for _, repository := range pendingRepositories {
				gate.logger.Warn(
					deploymentTimeoutMessageConstant,
					zap.String(logFieldEnvironmentConstant, environment),
					zap.String(logFieldRepositoryConstant, repository),
				)
			}
			gate.publishOutcome(executionContext, runID, environment, repositories, false)
			return false, nil
		}

		if sleepError := gate.sleep(executionContext, gate.options.PollInterval); sleepError != nil {
			return false, sleepError
		}
	}
}

func (gate *Gate) publishOutcome(executionContext context.Context, runID string, environment string, repositories []string, success bool) {
	gate.sink.EnvironmentDeployment(executionContext, notify.EnvironmentDeploymentEvent{
		RunID:        runID,
		Environment:  environment,
		Repositories: repositories,
		Success:      success,
	})
}
