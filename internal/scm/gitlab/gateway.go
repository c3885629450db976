package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/mrflowbot/mrflow/internal/scm"
)

type branchPayload struct {
	Name string `json:"name"`
}

type commitPayload struct {
	ShortID    string `json:"short_id"`
	Title      string `json:"title"`
	Message    string `json:"message"`
	AuthorName string `json:"author_name"`
	CreatedAt  string `json:"created_at"`
	WebURL     string `json:"web_url"`
}

type comparePayload struct {
	Commits []commitPayload `json:"commits"`
}

type pipelinePayload struct {
	Status string `json:"status"`
}

type deploymentPayload struct {
	Status string `json:"status"`
}

type mergeRequestPayload struct {
	IID          int    `json:"iid"`
	Title        string `json:"title"`
	State        string `json:"state"`
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	MergeStatus  string `json:"merge_status"`
	WebURL       string `json:"web_url"`
	HasConflicts bool   `json:"has_conflicts"`
}

// BranchExists reports whether the named branch exists in the repository.
func (client *Client) BranchExists(executionContext context.Context, repository string, branch string) (bool, error) {
	requestPath := projectPath(repository) + "/repository/branches/" + url.PathEscape(branch)
	_, requestError := client.execute(executionContext, http.MethodGet, requestPath, nil, nil, &branchPayload{})
	if requestError == nil {
		return true, nil
	}
	if errors.Is(requestError, scm.ErrRemoteNotFound) {
		return false, nil
	}
	return false, requestError
}

// DiffCount reports the commits reachable from toBranch but not from fromBranch.
func (client *Client) DiffCount(executionContext context.Context, repository string, fromBranch string, toBranch string) (scm.CommitDiff, error) {
	comparison, compareError := client.compareBranches(executionContext, repository, fromBranch, toBranch)
	if compareError != nil {
		return scm.CommitDiff{}, compareError
	}
	return scm.CommitDiff{
		HasCommits:  len(comparison.Commits) > 0,
		CommitCount: len(comparison.Commits),
	}, nil
}

// CommitDetails lists the commits in sourceBranch that targetBranch lacks,
// most recent first, with messages truncated to their first line.
func (client *Client) CommitDetails(executionContext context.Context, repository string, sourceBranch string, targetBranch string) ([]scm.CommitDetail, error) {
	comparison, compareError := client.compareBranches(executionContext, repository, targetBranch, sourceBranch)
	if compareError != nil {
		return nil, compareError
	}

	details := make([]scm.CommitDetail, 0, len(comparison.Commits))
	for commitIndex := len(comparison.Commits) - 1; commitIndex >= 0; commitIndex-- {
		commit := comparison.Commits[commitIndex]
		message := commit.Title
		if len(message) == 0 {
			message, _, _ = strings.Cut(commit.Message, "\n")
		}
		details = append(details, scm.CommitDetail{
			ShortID:    commit.ShortID,
			Message:    strings.TrimSpace(message),
			AuthorName: commit.AuthorName,
			CreatedAt:  commit.CreatedAt,
			WebURL:     commit.WebURL,
		})
	}
	return details, nil
}

func (client *Client) compareBranches(executionContext context.Context, repository string, fromBranch string, toBranch string) (comparePayload, error) {
	queryValues := url.Values{}
	queryValues.Set(compareFromQueryParameterConstant, fromBranch)
	queryValues.Set(compareToQueryParameterConstant, toBranch)

	var comparison comparePayload
	requestPath := projectPath(repository) + "/repository/compare"
	if _, requestError := client.execute(executionContext, http.MethodGet, requestPath, queryValues, nil, &comparison); requestError != nil {
		return comparePayload{}, requestError
	}
	return comparison, nil
}

// PipelineStatus returns the status of the most recent pipeline for the branch.
func (client *Client) PipelineStatus(executionContext context.Context, repository string, branch string) (scm.PipelineStatus, error) {
	queryValues := url.Values{}
	queryValues.Set(pipelineRefQueryParameterConstant, branch)
	queryValues.Set(perPageQueryParameterConstant, singleResultPageSizeConstant)

	var pipelines []pipelinePayload
	requestPath := projectPath(repository) + "/pipelines"
	if _, requestError := client.execute(executionContext, http.MethodGet, requestPath, queryValues, nil, &pipelines); requestError != nil {
		return scm.PipelineStatusNone, requestError
	}
	if len(pipelines) == 0 {
		return scm.PipelineStatusNone, nil
	}
	return scm.PipelineStatus(pipelines[0].Status), nil
}

// MergeRequestDetails fetches the current remote state of a merge request.
func (client *Client) MergeRequestDetails(executionContext context.Context, repository string, mergeRequestID int) (scm.MergeRequestDetails, error) {
	var payload mergeRequestPayload
	requestPath := fmt.Sprintf("%s/merge_requests/%d", projectPath(repository), mergeRequestID)
	if _, requestError := client.execute(executionContext, http.MethodGet, requestPath, nil, nil, &payload); requestError != nil {
		return scm.MergeRequestDetails{}, requestError
	}
	return scm.MergeRequestDetails{
		ID:           payload.IID,
		State:        scm.MergeRequestState(payload.State),
		SourceBranch: payload.SourceBranch,
		TargetBranch: payload.TargetBranch,
		MergeStatus:  scm.MergeStatus(payload.MergeStatus),
		WebURL:       payload.WebURL,
		HasConflicts: payload.HasConflicts,
	}, nil
}

// DirectMerge attempts an immediate merge. Remote refusals that represent
// expected blocking conditions report false without an error.
func (client *Client) DirectMerge(executionContext context.Context, repository string, mergeRequestID int) (bool, error) {
	requestPath := fmt.Sprintf("%s/merge_requests/%d/merge", projectPath(repository), mergeRequestID)
	_, requestError := client.execute(executionContext, http.MethodPut, requestPath, nil, map[string]any{}, &mergeRequestPayload{})
	if requestError == nil {
		return true, nil
	}
	if isExpectedMergeRefusal(requestError) {
		return false, nil
	}
	return false, requestError
}

// isExpectedMergeRefusal reports whether a merge attempt failed for a reason
// the monitor handles by waiting: conflicts, unmet pipeline requirements, or
// missing permissions.
func isExpectedMergeRefusal(requestError error) bool {
	if errors.Is(requestError, scm.ErrRemotePermission) {
		return true
	}
	var remoteStatus *statusError
	if !errors.As(requestError, &remoteStatus) {
		return false
	}
	switch remoteStatus.statusCode {
	case http.StatusMethodNotAllowed, http.StatusNotAcceptable, http.StatusConflict, http.StatusUnprocessableEntity:
		return true
	default:
		return false
	}
}

// DeploymentStatus returns the most recent deployment status for the environment.
func (client *Client) DeploymentStatus(executionContext context.Context, repository string, environment string) (scm.DeploymentStatus, error) {
	queryValues := url.Values{}
	queryValues.Set(environmentQueryParameterConstant, environment)
	queryValues.Set(deploymentOrderQueryParameterConstant, deploymentOrderValueConstant)
	queryValues.Set(deploymentSortQueryParameterConstant, deploymentSortValueConstant)
	queryValues.Set(perPageQueryParameterConstant, singleResultPageSizeConstant)

	var deployments []deploymentPayload
	requestPath := projectPath(repository) + "/deployments"
	if _, requestError := client.execute(executionContext, http.MethodGet, requestPath, queryValues, nil, &deployments); requestError != nil {
		return scm.DeploymentStatusNone, requestError
	}
	if len(deployments) == 0 {
		return scm.DeploymentStatusNone, nil
	}
	return scm.DeploymentStatus(deployments[0].Status), nil
}

// ListBranches returns every branch name in the repository, following pagination.
func (client *Client) ListBranches(executionContext context.Context, repository string) ([]string, error) {
	requestPath := projectPath(repository) + "/repository/branches"
	branchNames := []string{}
	currentPage := "1"
	for {
		queryValues := url.Values{}
		queryValues.Set(perPageQueryParameterConstant, branchListPageSizeConstant)
		queryValues.Set(pageQueryParameterConstant, currentPage)

		var branches []branchPayload
		response, requestError := client.execute(executionContext, http.MethodGet, requestPath, queryValues, nil, &branches)
		if requestError != nil {
			return nil, requestError
		}
		for _, branch := range branches {
			branchNames = append(branchNames, branch.Name)
		}

		nextPage, hasNextPage := nextPageNumber(response)
		if !hasNextPage {
			return branchNames, nil
		}
		currentPage = nextPage
	}
}
