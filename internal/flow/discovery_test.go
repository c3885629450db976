package flow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrflowbot/mrflow/internal/flow"
	"github.com/mrflowbot/mrflow/internal/notify"
	"github.com/mrflowbot/mrflow/internal/registry"
)

func strayScanEngine(t *testing.T, gateway *fakeGateway, sink notify.Sink) (*flow.Engine, *registry.Registry) {
	t.Helper()

	repositoryRegistry := singleRepositoryRegistry(t, "repo-c", "service", []string{"s", "dev", "sit"}, nil)
	engine := newTestEngine(t, repositoryRegistry, gateway, &stubMonitor{}, &stubDeploymentGate{}, sink)
	return engine, repositoryRegistry
}

func TestDiscoverStrayBranchesReportsOutOfFlowBranch(t *testing.T) {
	gateway := newFakeGateway()
	gateway.branchLists["repo-c"] = []string{"s", "dev", "sit", "hotfix"}
	// hotfix carries commits missing from the final branch and from the flow head.
	gateway.setDiff("repo-c", "sit", "hotfix", 2)
	gateway.setDiff("repo-c", "s", "hotfix", 2)

	engine, _ := strayScanEngine(t, gateway, notify.NewNopSink())

	strayBranches, discoveryError := engine.DiscoverStrayBranches(context.Background(), "repo-c")
	require.NoError(t, discoveryError)
	require.Len(t, strayBranches, 1)
	require.Equal(t, "hotfix", strayBranches[0].Branch)
	require.Equal(t, 2, strayBranches[0].CommitCount)
	require.False(t, strayBranches[0].Intermediate)
}

func TestDiscoverStrayBranchesSkipsBranchCoveredByFlowHead(t *testing.T) {
	gateway := newFakeGateway()
	gateway.branchLists["repo-c"] = []string{"s", "feature/done"}
	gateway.setDiff("repo-c", "sit", "feature/done", 3)
	// The flow head already contains every commit on the branch.
	gateway.setDiff("repo-c", "s", "feature/done", 0)

	engine, _ := strayScanEngine(t, gateway, notify.NewNopSink())

	strayBranches, discoveryError := engine.DiscoverStrayBranches(context.Background(), "repo-c")
	require.NoError(t, discoveryError)
	require.Empty(t, strayBranches)
}

func TestDiscoverStrayBranchesReportsIntermediateFlowBranch(t *testing.T) {
	gateway := newFakeGateway()
	gateway.branchLists["repo-c"] = []string{"s", "dev", "sit"}
	// dev holds commits missing from sit and unexplained by s.
	gateway.setDiff("repo-c", "sit", "dev", 2)
	gateway.setDiff("repo-c", "s", "dev", 2)

	engine, _ := strayScanEngine(t, gateway, notify.NewNopSink())

	strayBranches, discoveryError := engine.DiscoverStrayBranches(context.Background(), "repo-c")
	require.NoError(t, discoveryError)
	require.Len(t, strayBranches, 1)
	require.Equal(t, "dev", strayBranches[0].Branch)
	require.True(t, strayBranches[0].Intermediate)
}

func TestDiscoverStrayBranchesSkipsFlowBranchAccountedByEarlierBranch(t *testing.T) {
	gateway := newFakeGateway()
	gateway.branchLists["repo-c"] = []string{"s", "dev", "sit"}
	gateway.setDiff("repo-c", "sit", "dev", 2)
	// Every commit on dev is already present on s, so the regular walk owns it.
	gateway.setDiff("repo-c", "s", "dev", 0)

	engine, _ := strayScanEngine(t, gateway, notify.NewNopSink())

	strayBranches, discoveryError := engine.DiscoverStrayBranches(context.Background(), "repo-c")
	require.NoError(t, discoveryError)
	require.Empty(t, strayBranches)
}

func TestRunStrayProcessingPromotesStrayToFinalBranch(t *testing.T) {
	gateway := newFakeGateway()
	gateway.branchLists["repo-c"] = []string{"s", "dev", "sit", "hotfix"}
	gateway.setDiff("repo-c", "sit", "hotfix", 2)
	gateway.setDiff("repo-c", "s", "hotfix", 2)

	sink := &engineRecordingSink{}
	engine, _ := strayScanEngine(t, gateway, sink)

	records, processingError := engine.RunStrayProcessing(context.Background(), flow.Options{})
	require.NoError(t, processingError)
	require.Len(t, records, 1)
	require.Equal(t, "hotfix", records[0].SourceBranch)
	require.Equal(t, "sit", records[0].TargetBranch)
	require.Equal(t, flow.RecordStateCreated, records[0].State)
	require.True(t, records[0].Intermediate)

	require.Len(t, gateway.createdSpecs, 1)
	require.Len(t, sink.strayEvents, 1)
	require.Equal(t, 1, sink.strayEvents[0].TotalBranches)
	require.Zero(t, sink.strayEvents[0].IntermediateCount)
}

func TestRunStrayProcessingDryRunReportsWithoutCreating(t *testing.T) {
	gateway := newFakeGateway()
	gateway.branchLists["repo-c"] = []string{"s", "hotfix"}
	gateway.setDiff("repo-c", "sit", "hotfix", 1)
	gateway.setDiff("repo-c", "s", "hotfix", 1)

	engine, _ := strayScanEngine(t, gateway, notify.NewNopSink())

	records, processingError := engine.RunStrayProcessing(context.Background(), flow.Options{DryRun: true})
	require.NoError(t, processingError)
	require.Len(t, records, 1)
	require.Equal(t, flow.RecordStatePending, records[0].State)
	require.Empty(t, gateway.createdSpecs)
}

func TestBranchStatusReportsHopsAndStrays(t *testing.T) {
	gateway := newFakeGateway()
	gateway.branchLists["repo-c"] = []string{"s", "dev", "sit", "hotfix"}
	gateway.setDiff("repo-c", "dev", "s", 3)
	gateway.setDiff("repo-c", "sit", "hotfix", 2)
	gateway.setDiff("repo-c", "s", "hotfix", 2)
	gateway.missingBranches["repo-c|dev"] = false

	engine, _ := strayScanEngine(t, gateway, notify.NewNopSink())

	report, reportError := engine.BranchStatus(context.Background())
	require.NoError(t, reportError)
	require.Len(t, report, 1)
	require.Equal(t, "repo-c", report[0].Repository)
	require.Equal(t, "service", report[0].Category)
	require.Equal(t, []string{"s", "dev", "sit"}, report[0].Flow)
	require.Len(t, report[0].Hops, 2)
	require.Equal(t, 3, report[0].Hops[0].AheadCount)
	require.True(t, report[0].Hops[0].SourceExists)
	require.Len(t, report[0].StrayBranches, 1)
	require.Equal(t, "hotfix", report[0].StrayBranches[0].Branch)
}
