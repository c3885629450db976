package requests_test

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrflowbot/mrflow/internal/requests"
)

type stubOperator struct {
	autoMergeResults map[string]bool
	mergeResults     map[string]bool
	mergeError       error
	calls            []string
}

func callKey(repository string, mergeRequestID int) string {
	return repository + "#" + strconv.Itoa(mergeRequestID)
}

func (operator *stubOperator) EnableAutoMerge(_ context.Context, repository string, mergeRequestID int) bool {
	operator.calls = append(operator.calls, callKey(repository, mergeRequestID))
	return operator.autoMergeResults[callKey(repository, mergeRequestID)]
}

func (operator *stubOperator) DirectMerge(_ context.Context, repository string, mergeRequestID int) (bool, error) {
	operator.calls = append(operator.calls, callKey(repository, mergeRequestID))
	if operator.mergeError != nil {
		return false, operator.mergeError
	}
	return operator.mergeResults[callKey(repository, mergeRequestID)], nil
}

func TestParseReferences(t *testing.T) {
	testCases := []struct {
		name               string
		specification      string
		expectedReferences []requests.Reference
		expectError        bool
	}{
		{
			name:          "SingleReference",
			specification: "group/billing-api:12",
			expectedReferences: []requests.Reference{
				{Repository: "group/billing-api", MergeRequestID: 12},
			},
		},
		{
			name:          "MultipleReferencesWithSpaces",
			specification: " group/billing-api:12 , group/portal-api:7 ",
			expectedReferences: []requests.Reference{
				{Repository: "group/billing-api", MergeRequestID: 12},
				{Repository: "group/portal-api", MergeRequestID: 7},
			},
		},
		{name: "EmptySpecification", specification: "   ", expectError: true},
		{name: "MissingIdentifier", specification: "group/billing-api:", expectError: true},
		{name: "MissingSeparator", specification: "group/billing-api", expectError: true},
		{name: "NonNumericIdentifier", specification: "group/billing-api:abc", expectError: true},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			references, parseError := requests.ParseReferences(testCase.specification)
			if testCase.expectError {
				require.Error(t, parseError)
				return
			}
			require.NoError(t, parseError)
			require.Equal(t, testCase.expectedReferences, references)
		})
	}
}

func TestEnableAutoMergeProcessesEveryReference(t *testing.T) {
	operator := &stubOperator{autoMergeResults: map[string]bool{callKey("repo-a", 1): true}}
	service, serviceError := requests.NewService(operator, zap.NewNop())
	require.NoError(t, serviceError)

	results := service.EnableAutoMerge(context.Background(), []requests.Reference{
		{Repository: "repo-a", MergeRequestID: 1},
		{Repository: "repo-b", MergeRequestID: 2},
	})

	require.Len(t, results, 2)
	require.True(t, results[0].Success)
	require.False(t, results[1].Success)
	require.Len(t, operator.calls, 2)
}

func TestMergeReportsBlockedAndFailedReferences(t *testing.T) {
	operator := &stubOperator{mergeResults: map[string]bool{callKey("repo-a", 1): true}}
	service, serviceError := requests.NewService(operator, zap.NewNop())
	require.NoError(t, serviceError)

	results := service.Merge(context.Background(), []requests.Reference{
		{Repository: "repo-a", MergeRequestID: 1},
		{Repository: "repo-b", MergeRequestID: 2},
	})

	require.True(t, results[0].Success)
	require.Equal(t, "merged", results[0].Detail)
	require.False(t, results[1].Success)
}

func TestMergeSurfacesOperatorErrorsAsFailedResults(t *testing.T) {
	operator := &stubOperator{mergeError: errors.New("remote unavailable")}
	service, serviceError := requests.NewService(operator, zap.NewNop())
	require.NoError(t, serviceError)

	results := service.Merge(context.Background(), []requests.Reference{
		{Repository: "repo-a", MergeRequestID: 1},
	})

	require.False(t, results[0].Success)
	require.Contains(t, results[0].Detail, "remote unavailable")
}

func TestMergeCommandPrintsResultsAndFailsOnBlockedRequests(t *testing.T) {
	operator := &stubOperator{mergeResults: map[string]bool{callKey("repo-a", 1): true}}
	builder := requests.CommandBuilder{
		OperatorProvider: func() (requests.MergeRequestOperator, error) { return operator, nil },
	}
	command, buildError := builder.BuildMergeCommand()
	require.NoError(t, buildError)

	output := &bytes.Buffer{}
	command.SetOut(output)
	command.SilenceErrors = true
	command.SilenceUsage = true
	command.SetArgs([]string{"repo-a:1,repo-b:2"})

	executionError := command.ExecuteContext(context.Background())
	require.Error(t, executionError)
	require.Contains(t, output.String(), "repo-a!1: merged")
	require.Contains(t, output.String(), "repo-b!2:")
}

func TestEnableAutoMergeCommandSucceedsWhenAllEnabled(t *testing.T) {
	operator := &stubOperator{autoMergeResults: map[string]bool{callKey("repo-a", 1): true}}
	builder := requests.CommandBuilder{
		OperatorProvider: func() (requests.MergeRequestOperator, error) { return operator, nil },
	}
	command, buildError := builder.BuildEnableAutoMergeCommand()
	require.NoError(t, buildError)

	output := &bytes.Buffer{}
	command.SetOut(output)
	command.SetArgs([]string{"repo-a:1"})

	require.NoError(t, command.ExecuteContext(context.Background()))
	require.Contains(t, output.String(), "repo-a!1: auto-merge enabled")
}
