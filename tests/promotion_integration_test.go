package tests

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	integrationProjectPathConstant        = "/api/v4/projects/group%2Fdemo-api"
	integrationConfigurationTemplateConstant = `common:
  log_level: %s
gitlab:
  base_url: %s
  token: glpat-integration
repositories:
  services:
    - group/demo-api
branch_strategies:
  main:
    repos:
      - group/demo-api
    flow:
      - dev
      - sit
`
)

// newGitLabFake serves the read-only endpoint subset used by dry runs and
// status reports: dev carries one commit sit does not have.
func newGitLabFake(testInstance *testing.T) *httptest.Server {
	testInstance.Helper()

	handler := http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		escapedPath := request.URL.EscapedPath()
		switch {
		case strings.HasPrefix(escapedPath, integrationProjectPathConstant+"/repository/branches/"):
			branchName := strings.TrimPrefix(escapedPath, integrationProjectPathConstant+"/repository/branches/")
			if branchName != "dev" && branchName != "sit" {
				responseWriter.WriteHeader(http.StatusNotFound)
				fmt.Fprint(responseWriter, `{"message":"404 Branch Not Found"}`)
				return
			}
			_ = json.NewEncoder(responseWriter).Encode(map[string]string{"name": branchName})
		case escapedPath == integrationProjectPathConstant+"/repository/branches":
			fmt.Fprint(responseWriter, `[{"name":"dev"},{"name":"sit"}]`)
		case escapedPath == integrationProjectPathConstant+"/repository/compare":
			queryValues := request.URL.Query()
			if queryValues.Get("from") == "sit" && queryValues.Get("to") == "dev" {
				fmt.Fprint(responseWriter, `{"commits":[{"short_id":"ab12cd3","title":"Add invoice export","author_name":"Dana"}]}`)
				return
			}
			fmt.Fprint(responseWriter, `{"commits":[]}`)
		default:
			responseWriter.WriteHeader(http.StatusNotFound)
			fmt.Fprint(responseWriter, `{"message":"404 Not Found"}`)
		}
	})

	server := httptest.NewServer(handler)
	testInstance.Cleanup(server.Close)
	return server
}

func TestPromoteDryRunReportsPendingHops(testInstance *testing.T) {
	server := newGitLabFake(testInstance)
	configurationPath := writeConfiguration(testInstance, fmt.Sprintf(integrationConfigurationTemplateConstant, "info", server.URL))

	output, runError := runBinary(
		testInstance,
		[]string{fmt.Sprintf(configurationFlagTemplate, configurationPath), "promote", "--dry-run"},
		nil,
	)

	require.NoError(testInstance, runError, output)
}

func TestBranchStatusReportsFlowAndAheadCounts(testInstance *testing.T) {
	server := newGitLabFake(testInstance)
	configurationPath := writeConfiguration(testInstance, fmt.Sprintf(integrationConfigurationTemplateConstant, "error", server.URL))

	output, runError := runBinary(
		testInstance,
		[]string{fmt.Sprintf(configurationFlagTemplate, configurationPath), "branch-status"},
		nil,
	)

	require.NoError(testInstance, runError, output)
	require.Contains(testInstance, output, "repository: group/demo-api")
	require.Contains(testInstance, output, "source_branch: dev")
	require.Contains(testInstance, output, "target_branch: sit")
	require.Contains(testInstance, output, "ahead_count: 1")
}

func TestMissingRemoteConfigurationFailsCommands(testInstance *testing.T) {
	configurationPath := writeConfiguration(testInstance, "common:\n  log_level: error\n")

	output, runError := runBinary(
		testInstance,
		[]string{fmt.Sprintf(configurationFlagTemplate, configurationPath), "branch-status"},
		[]string{"MRFLOW_GITLAB_TOKEN="},
	)

	require.Error(testInstance, runError, output)
}
