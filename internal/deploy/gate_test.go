package deploy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrflowbot/mrflow/internal/deploy"
	"github.com/mrflowbot/mrflow/internal/notify"
	"github.com/mrflowbot/mrflow/internal/scm"
)

type deploymentStubGateway struct {
	scm.Gateway

	statusSequences map[string][]scm.DeploymentStatus
	callCounts      map[string]int
	statusError     error
}

func (gateway *deploymentStubGateway) DeploymentStatus(_ context.Context, repository string, _ string) (scm.DeploymentStatus, error) {
	if gateway.statusError != nil {
		return scm.DeploymentStatusNone, gateway.statusError
	}
	if gateway.callCounts == nil {
		gateway.callCounts = map[string]int{}
	}
	sequence := gateway.statusSequences[repository]
	callIndex := gateway.callCounts[repository]
	gateway.callCounts[repository]++
	if callIndex >= len(sequence) {
		callIndex = len(sequence) - 1
	}
	return sequence[callIndex], nil
}

type deploymentRecordingSink struct {
	notify.NopSink

	events []notify.EnvironmentDeploymentEvent
}

func (sink *deploymentRecordingSink) EnvironmentDeployment(_ context.Context, event notify.EnvironmentDeploymentEvent) {
	sink.events = append(sink.events, event)
}

func newTestGate(t *testing.T, gateway scm.Gateway, sink notify.Sink, options deploy.Options) *deploy.Gate {
	t.Helper()

	deploymentGate, creationError := deploy.NewGate(deploy.Dependencies{
		Gateway: gateway,
		Sink:    sink,
		Logger:  zap.NewNop(),
		Sleep:   func(context.Context, time.Duration) error { return nil },
	}, options)
	require.NoError(t, creationError)
	return deploymentGate
}

func TestAwaitSucceedsOnceAllRepositoriesDeploy(t *testing.T) {
	gateway := &deploymentStubGateway{
		statusSequences: map[string][]scm.DeploymentStatus{
			"group/billing-api": {scm.DeploymentStatusRunning, scm.DeploymentStatusSuccess},
			"group/portal-api":  {scm.DeploymentStatusSuccess},
		},
	}
	sink := &deploymentRecordingSink{}
	deploymentGate := newTestGate(t, gateway, sink, deploy.Options{})

	success, awaitError := deploymentGate.Await(context.Background(), "run-1", "dev2", []string{"group/billing-api", "group/portal-api"})
	require.NoError(t, awaitError)
	require.True(t, success)
	require.Len(t, sink.events, 1)
	require.True(t, sink.events[0].Success)
	require.Equal(t, "dev2", sink.events[0].Environment)
}

func TestAwaitFailsWhenAnyDeploymentFails(t *testing.T) {
	gateway := &deploymentStubGateway{
		statusSequences: map[string][]scm.DeploymentStatus{
			"group/billing-api": {scm.DeploymentStatusFailed},
			"group/portal-api":  {scm.DeploymentStatusSuccess},
		},
	}
	sink := &deploymentRecordingSink{}
	deploymentGate := newTestGate(t, gateway, sink, deploy.Options{})

	success, awaitError := deploymentGate.Await(context.Background(), "run-1", "dev2", []string{"group/portal-api", "group/billing-api"})
	require.NoError(t, awaitError)
	require.False(t, success)
	require.Len(t, sink.events, 1)
	require.False(t, sink.events[0].Success)
}

func TestAwaitTimesOutWhileDeploymentsPend(t *testing.T) {
	gateway := &deploymentStubGateway{
		statusSequences: map[string][]scm.DeploymentStatus{
			"group/billing-api": {scm.DeploymentStatusRunning},
		},
	}
	sink := &deploymentRecordingSink{}

	currentTime := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	deploymentGate, creationError := deploy.NewGate(deploy.Dependencies{
		Gateway: gateway,
		Sink:    sink,
		Logger:  zap.NewNop(),
		Sleep:   func(context.Context, time.Duration) error { return nil },
		Clock: func() time.Time {
			currentTime = currentTime.Add(20 * time.Minute)
			return currentTime
		},
	}, deploy.Options{Timeout: 30 * time.Minute})
	require.NoError(t, creationError)

	success, awaitError := deploymentGate.Await(context.Background(), "run-1", "dev2", []string{"group/billing-api"})
	require.NoError(t, awaitError)
	require.False(t, success)
	require.Len(t, sink.events, 1)
	require.False(t, sink.events[0].Success)
}

func TestAwaitWithoutRepositoriesSucceedsImmediately(t *testing.T) {
	sink := &deploymentRecordingSink{}
	deploymentGate := newTestGate(t, &deploymentStubGateway{}, sink, deploy.Options{})

	success, awaitError := deploymentGate.Await(context.Background(), "run-1", "dev2", nil)
	require.NoError(t, awaitError)
	require.True(t, success)
	require.Empty(t, sink.events)
}

func TestAwaitSurfacesRemoteErrors(t *testing.T) {
	remoteError := errors.New("deployment lookup unavailable")
	gateway := &deploymentStubGateway{statusError: remoteError}
	deploymentGate := newTestGate(t, gateway, notify.NewNopSink(), deploy.Options{})

	success, awaitError := deploymentGate.Await(context.Background(), "run-1", "dev2", []string{"group/billing-api"})
	require.ErrorIs(t, awaitError, remoteError)
	require.False(t, success)
}
