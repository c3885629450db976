package notify

import "context"

// Sink receives structured promotion progress events. Implementations must
// absorb delivery failures; the promotion engine never inspects outcomes.
type Sink interface {
	DeploymentStarted(executionContext context.Context, event DeploymentStartedEvent)
	PhaseProgress(executionContext context.Context, event PhaseProgressEvent)
	PhaseCompleted(executionContext context.Context, event PhaseCompletedEvent)
	EnvironmentDeployment(executionContext context.Context, event EnvironmentDeploymentEvent)
	PipelineSucceeded(executionContext context.Context, event PipelineSucceededEvent)
	AutoMergeWaiting(executionContext context.Context, event AutoMergeWaitingEvent)
	StrayCommitsProcessed(executionContext context.Context, event StrayCommitsEvent)
	CriticalFailure(executionContext context.Context, event CriticalFailureEvent)
	FinalSummary(executionContext context.Context, event FinalSummaryEvent)
}

// NopSink discards every event; it backs dry runs and tests.
type NopSink struct{}

// NewNopSink constructs a sink that ignores all events.
func NewNopSink() NopSink {
	return NopSink{}
}

// DeploymentStarted discards the event.
func (NopSink) DeploymentStarted(context.Context, DeploymentStartedEvent) {}

// PhaseProgress discards the event.
func (NopSink) PhaseProgress(context.Context, PhaseProgressEvent) {}

// PhaseCompleted discards the event.
func (NopSink) PhaseCompleted(context.Context, PhaseCompletedEvent) {}

// EnvironmentDeployment discards the event.
func (NopSink) EnvironmentDeployment(context.Context, EnvironmentDeploymentEvent) {}

// PipelineSucceeded discards the event.
func (NopSink) PipelineSucceeded(context.Context, PipelineSucceededEvent) {}

// AutoMergeWaiting discards the event.
func (NopSink) AutoMergeWaiting(context.Context, AutoMergeWaitingEvent) {}

// StrayCommitsProcessed discards the event.
func (NopSink) StrayCommitsProcessed(context.Context, StrayCommitsEvent) {}

// CriticalFailure discards the event.
func (NopSink) CriticalFailure(context.Context, CriticalFailureEvent) {}

// FinalSummary discards the event.
func (NopSink) FinalSummary(context.Context, FinalSummaryEvent) {}
