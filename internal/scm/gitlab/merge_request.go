package gitlab

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/mrflowbot/mrflow/internal/scm"
)

const (
	descriptionHeaderConstant               = "Commits included in this promotion:"
	descriptionEntryTemplateConstant        = "- `%s` %s (%s)"
	mergeWhenPipelineSucceedsParameterConstant = "merge_when_pipeline_succeeds"
	mergeStatusRereadAttemptsConstant          = 2
	assigneeUpdateFailureMessageConstant    = "assignee update failed"
	autoMergeEnabledMessageConstant         = "auto-merge enabled"
	autoMergeRefusedMessageConstant         = "auto-merge enablement refused"
	immediateMergeMessageConstant           = "merged immediately after pipeline success"
	currentUserLookupFailureMessageConstant = "current user lookup failed"
	logFieldRepositoryConstant              = "repository"
	logFieldMergeRequestConstant            = "merge_request"
)

type createMergeRequestPayload struct {
	SourceBranch string `json:"source_branch"`
	TargetBranch string `json:"target_branch"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	AssigneeID   int    `json:"assignee_id,omitempty"`
}

// FindOrCreateMergeRequest returns the open merge request for the source and
// target branches when one exists and otherwise opens a new one, attempting
// auto-merge enablement when requested.
func (client *Client) FindOrCreateMergeRequest(executionContext context.Context, spec scm.MergeRequestSpec) (scm.MergeRequestHandle, error) {
	existingRequest, existingFound, lookupError := client.findOpenMergeRequest(executionContext, spec.Repository, spec.SourceBranch, spec.TargetBranch)
	if lookupError != nil {
		return scm.MergeRequestHandle{}, lookupError
	}
	if existingFound {
		client.ensureAssignee(executionContext, spec.Repository, existingRequest.IID)
		return scm.MergeRequestHandle{
			ID:       existingRequest.IID,
			WebURL:   existingRequest.WebURL,
			Title:    existingRequest.Title,
			State:    scm.MergeRequestState(existingRequest.State),
			Existing: true,
		}, nil
	}

	createdRequest, creationError := client.createMergeRequest(executionContext, spec)
	if creationError != nil {
		return scm.MergeRequestHandle{}, creationError
	}

	if spec.EnableAutoMerge {
		client.EnableAutoMerge(executionContext, spec.Repository, createdRequest.IID)
	}

	return scm.MergeRequestHandle{
		ID:     createdRequest.IID,
		WebURL: createdRequest.WebURL,
		Title:  createdRequest.Title,
		State:  scm.MergeRequestState(createdRequest.State),
	}, nil
}

func (client *Client) findOpenMergeRequest(executionContext context.Context, repository string, sourceBranch string, targetBranch string) (mergeRequestPayload, bool, error) {
	queryValues := url.Values{}
	queryValues.Set(mergeRequestStateQueryParameterConstant, openedStateValueConstant)
	queryValues.Set(mergeRequestSourceQueryParameterConstant, sourceBranch)
	queryValues.Set(mergeRequestTargetQueryParameterConstant, targetBranch)

	var mergeRequests []mergeRequestPayload
	requestPath := projectPath(repository) + "/merge_requests"
	if _, requestError := client.execute(executionContext, http.MethodGet, requestPath, queryValues, nil, &mergeRequests); requestError != nil {
		return mergeRequestPayload{}, false, requestError
	}
	if len(mergeRequests) == 0 {
		return mergeRequestPayload{}, false, nil
	}
	return mergeRequests[0], true, nil
}

func (client *Client) createMergeRequest(executionContext context.Context, spec scm.MergeRequestSpec) (mergeRequestPayload, error) {
	requestBody := createMergeRequestPayload{
		SourceBranch: spec.SourceBranch,
		TargetBranch: spec.TargetBranch,
		Title:        spec.Title,
		Description:  buildDescription(spec.CommitNotes),
	}
	if assigneeID, assigneeError := client.currentUserIdentifier(executionContext); assigneeError == nil {
		requestBody.AssigneeID = assigneeID
	} else {
		client.logger.Warn(
			currentUserLookupFailureMessageConstant,
			zap.String(logFieldRepositoryConstant, spec.Repository),
			zap.Error(assigneeError),
		)
	}

	var createdRequest mergeRequestPayload
	requestPath := projectPath(spec.Repository) + "/merge_requests"
	if _, requestError := client.execute(executionContext, http.MethodPost, requestPath, nil, requestBody, &createdRequest); requestError != nil {
		return mergeRequestPayload{}, requestError
	}
	return createdRequest, nil
}

// ensureAssignee keeps existing merge requests assigned to the automation
// account; failures are logged because assignment is advisory.
func (client *Client) ensureAssignee(executionContext context.Context, repository string, mergeRequestID int) {
	assigneeID, assigneeError := client.currentUserIdentifier(executionContext)
	if assigneeError != nil {
		client.logger.Warn(
			currentUserLookupFailureMessageConstant,
			zap.String(logFieldRepositoryConstant, repository),
			zap.Error(assigneeError),
		)
		return
	}

	requestPath := fmt.Sprintf("%s/merge_requests/%d", projectPath(repository), mergeRequestID)
	requestBody := map[string]any{"assignee_id": assigneeID}
	if _, requestError := client.execute(executionContext, http.MethodPut, requestPath, nil, requestBody, &mergeRequestPayload{}); requestError != nil {
		client.logger.Warn(
			assigneeUpdateFailureMessageConstant,
			zap.String(logFieldRepositoryConstant, repository),
			zap.Int(logFieldMergeRequestConstant, mergeRequestID),
			zap.Error(requestError),
		)
	}
}

// EnableAutoMerge drives the enablement decision table: an already merged
// request is a no-op success, a conflicting one is refused, a request still
// being checked is re-read after a short pause, a succeeded or absent pipeline
// triggers an immediate merge attempt, and an active pipeline arms
// merge-when-pipeline-succeeds. It reports whether the request is merged or
// armed to merge automatically and never faults; refusals are logged so the
// monitor can take over.
func (client *Client) EnableAutoMerge(executionContext context.Context, repository string, mergeRequestID int) bool {
	details, detailsError := client.MergeRequestDetails(executionContext, repository, mergeRequestID)
	if detailsError != nil {
		client.logAutoMergeRefusal(repository, mergeRequestID, detailsError)
		return false
	}
	for rereadAttempt := 0; details.MergeStatus == scm.MergeStatusChecking && rereadAttempt < mergeStatusRereadAttemptsConstant; rereadAttempt++ {
		if sleepError := client.sleep(executionContext, client.configuration.RetryBaseDelay); sleepError != nil {
			return false
		}
		details, detailsError = client.MergeRequestDetails(executionContext, repository, mergeRequestID)
		if detailsError != nil {
			client.logAutoMergeRefusal(repository, mergeRequestID, detailsError)
			return false
		}
	}

	if details.State == scm.MergeRequestStateMerged {
		return true
	}
	if details.HasConflicts || details.MergeStatus == scm.MergeStatusCannotBeMerged {
		client.logAutoMergeRefusal(repository, mergeRequestID, scm.ErrMergeConflict)
		return false
	}

	pipelineStatus, pipelineError := client.PipelineStatus(executionContext, repository, details.SourceBranch)
	if pipelineError != nil {
		client.logAutoMergeRefusal(repository, mergeRequestID, pipelineError)
		return false
	}

	switch {
	case pipelineStatus == scm.PipelineStatusSuccess || pipelineStatus == scm.PipelineStatusNone:
		merged, mergeError := client.DirectMerge(executionContext, repository, mergeRequestID)
		if mergeError != nil {
			client.logAutoMergeRefusal(repository, mergeRequestID, mergeError)
			return false
		}
		if merged {
			client.logger.Info(
				immediateMergeMessageConstant,
				zap.String(logFieldRepositoryConstant, repository),
				zap.Int(logFieldMergeRequestConstant, mergeRequestID),
			)
		}
		return merged
	case pipelineStatus == scm.PipelineStatusFailed:
		client.logAutoMergeRefusal(repository, mergeRequestID, scm.ErrPipelineFailure)
		return false
	default:
		return client.enableMergeWhenPipelineSucceeds(executionContext, repository, mergeRequestID)
	}
}

func (client *Client) logAutoMergeRefusal(repository string, mergeRequestID int, refusalError error) {
	client.logger.Warn(
		autoMergeRefusedMessageConstant,
		zap.String(logFieldRepositoryConstant, repository),
		zap.Int(logFieldMergeRequestConstant, mergeRequestID),
		zap.Error(refusalError),
	)
}

func (client *Client) enableMergeWhenPipelineSucceeds(executionContext context.Context, repository string, mergeRequestID int) bool {
	queryValues := url.Values{}
	queryValues.Set(mergeWhenPipelineSucceedsParameterConstant, "true")

	requestPath := fmt.Sprintf("%s/merge_requests/%d/merge", projectPath(repository), mergeRequestID)
	_, requestError := client.execute(executionContext, http.MethodPut, requestPath, queryValues, map[string]any{}, &mergeRequestPayload{})
	if requestError == nil {
		client.logger.Info(
			autoMergeEnabledMessageConstant,
			zap.String(logFieldRepositoryConstant, repository),
			zap.Int(logFieldMergeRequestConstant, mergeRequestID),
		)
		return true
	}
	client.logAutoMergeRefusal(repository, mergeRequestID, requestError)
	return false
}

func buildDescription(commitNotes []scm.CommitDetail) string {
	if len(commitNotes) == 0 {
		return ""
	}
	lines := make([]string, 0, len(commitNotes)+1)
	lines = append(lines, descriptionHeaderConstant)
	for _, commitNote := range commitNotes {
		lines = append(lines, fmt.Sprintf(descriptionEntryTemplateConstant, commitNote.ShortID, commitNote.Message, commitNote.AuthorName))
	}
	return strings.Join(lines, "\n")
}
