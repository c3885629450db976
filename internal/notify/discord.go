package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultRequestTimeoutConstant            = 10 * time.Second
	contentTypeHeaderNameConstant            = "Content-Type"
	contentTypeJSONValueConstant             = "application/json"
	deliveryFailureMessageConstant           = "notification delivery failed"
	payloadEncodingFailureMessageConstant    = "notification payload encoding failed"
	unexpectedStatusTemplateConstant         = "unexpected webhook status %d"
	logFieldEventConstant                    = "event"
	logFieldErrorConstant                    = "error"
	embedColorInformationConstant            = 0x3498db
	embedColorSuccessConstant                = 0x2ecc71
	embedColorFailureConstant                = 0xe74c3c
	embedColorWarningConstant                = 0xf39c12
	deploymentStartedTitleConstant           = "Deployment started"
	phaseProgressTitleTemplateConstant       = "Phase %s progress"
	phaseCompletedTitleTemplateConstant      = "Phase %s complete"
	environmentDeploymentTitleConstant       = "Environment deployment"
	pipelineSucceededTitleConstant           = "Pipeline succeeded, awaiting merge"
	autoMergeWaitingTitleConstant            = "Awaiting auto-merge conditions"
	strayCommitsTitleConstant                = "Stray commit processing"
	criticalFailureTitleConstant             = "Critical failure"
	finalSummaryTitleConstant                = "Promotion run finished"
	emptyListPlaceholderConstant             = "none"
	mergeRequestReferenceTemplateConstant    = "%s !%d"
	mergeRequestLinkSuffixTemplateConstant   = "%s\n%s"
	deploymentResultSuccessMessageConstant   = "deployment succeeded"
	deploymentResultFailureMessageConstant   = "deployment failed"
	finalSummaryDescriptionTemplateConstant  = "%d repositories processed in %s"
	strayCommitsDescriptionTemplateConstant  = "%d branches processed, %d from intermediate flow branches"
	deploymentStartedLibrariesFieldConstant  = "Libraries"
	deploymentStartedServicesFieldConstant   = "Services"
	progressCompletedFieldNameConstant       = "Completed"
	progressFailedFieldNameConstant          = "Failed"
	progressInProgressFieldNameConstant      = "In progress"
	progressPendingFieldNameConstant         = "Pending"
	environmentFieldNameConstant             = "Environment"
	repositoriesFieldNameConstant            = "Repositories"
	successfulFieldNameConstant              = "Successful"
	failedFieldNameConstant                  = "Failed"
	repositoryFieldNameConstant              = "Repository"
)

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
	Timestamp   string              `json:"timestamp"`
}

type discordWebhookPayload struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds"`
}

// DiscordConfiguration captures the webhook settings for chat notifications.
type DiscordConfiguration struct {
	WebhookURL string `mapstructure:"webhook_url"`
	Mention    string `mapstructure:"mention"`
}

// Sanitize trims whitespace from the configured values.
func (configuration DiscordConfiguration) Sanitize() DiscordConfiguration {
	sanitized := configuration
	sanitized.WebhookURL = strings.TrimSpace(configuration.WebhookURL)
	sanitized.Mention = strings.TrimSpace(configuration.Mention)
	return sanitized
}

// HTTPDoer performs HTTP requests; it matches *http.Client.
type HTTPDoer interface {
	Do(request *http.Request) (*http.Response, error)
}

// DiscordSink delivers promotion events as Discord webhook embeds. Delivery
// failures are logged and swallowed.
type DiscordSink struct {
	webhookURL string
	mention    string
	httpClient HTTPDoer
	logger     *zap.Logger
	clock      func() time.Time
}

// NewDiscordSink constructs a sink posting to the configured webhook. A nil
// httpClient falls back to a timeout-bounded default client.
func NewDiscordSink(configuration DiscordConfiguration, httpClient HTTPDoer, logger *zap.Logger) *DiscordSink {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeoutConstant}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sanitizedConfiguration := configuration.Sanitize()
	return &DiscordSink{
		webhookURL: sanitizedConfiguration.WebhookURL,
		mention:    sanitizedConfiguration.Mention,
		httpClient: httpClient,
		logger:     logger,
		clock:      time.Now,
	}
}

// DeploymentStarted posts the run announcement embed.
func (sink *DiscordSink) DeploymentStarted(executionContext context.Context, event DeploymentStartedEvent) {
	sink.deliver(executionContext, deploymentStartedTitleConstant, discordEmbed{
		Title:       deploymentStartedTitleConstant,
		Description: event.RunLabel,
		Color:       embedColorInformationConstant,
		Fields: []discordEmbedField{
			{Name: deploymentStartedLibrariesFieldConstant, Value: joinOrPlaceholder(event.Libraries), Inline: true},
			{Name: deploymentStartedServicesFieldConstant, Value: joinOrPlaceholder(event.Services), Inline: true},
		},
	})
}

// PhaseProgress posts the per-phase progress embed.
func (sink *DiscordSink) PhaseProgress(executionContext context.Context, event PhaseProgressEvent) {
	sink.deliver(executionContext, fmt.Sprintf(phaseProgressTitleTemplateConstant, event.Phase), discordEmbed{
		Title:       fmt.Sprintf(phaseProgressTitleTemplateConstant, event.Phase),
		Description: event.Environment,
		Color:       embedColorInformationConstant,
		Fields: []discordEmbedField{
			{Name: progressCompletedFieldNameConstant, Value: joinOrPlaceholder(event.Completed), Inline: true},
			{Name: progressFailedFieldNameConstant, Value: joinOrPlaceholder(event.Failed), Inline: true},
			{Name: progressInProgressFieldNameConstant, Value: joinOrPlaceholder(event.InProgress), Inline: true},
			{Name: progressPendingFieldNameConstant, Value: joinOrPlaceholder(event.Pending), Inline: true},
		},
	})
}

// PhaseCompleted posts the phase outcome embed.
func (sink *DiscordSink) PhaseCompleted(executionContext context.Context, event PhaseCompletedEvent) {
	embedColor := embedColorSuccessConstant
	if len(event.Failed) > 0 {
		embedColor = embedColorWarningConstant
	}
	sink.deliver(executionContext, fmt.Sprintf(phaseCompletedTitleTemplateConstant, event.Phase), discordEmbed{
		Title: fmt.Sprintf(phaseCompletedTitleTemplateConstant, event.Phase),
		Color: embedColor,
		Fields: []discordEmbedField{
			{Name: environmentFieldNameConstant, Value: valueOrPlaceholder(event.Environment), Inline: true},
			{Name: successfulFieldNameConstant, Value: joinOrPlaceholder(event.Successful), Inline: true},
			{Name: failedFieldNameConstant, Value: joinOrPlaceholder(event.Failed), Inline: true},
		},
	})
}

// EnvironmentDeployment posts the deployment wait outcome embed.
func (sink *DiscordSink) EnvironmentDeployment(executionContext context.Context, event EnvironmentDeploymentEvent) {
	embedColor := embedColorSuccessConstant
	description := deploymentResultSuccessMessageConstant
	if !event.Success {
		embedColor = embedColorFailureConstant
		description = deploymentResultFailureMessageConstant
	}
	sink.deliver(executionContext, environmentDeploymentTitleConstant, discordEmbed{
		Title:       environmentDeploymentTitleConstant,
		Description: description,
		Color:       embedColor,
		Fields: []discordEmbedField{
			{Name: environmentFieldNameConstant, Value: valueOrPlaceholder(event.Environment), Inline: true},
			{Name: repositoriesFieldNameConstant, Value: joinOrPlaceholder(event.Repositories), Inline: true},
		},
	})
}

// PipelineSucceeded posts the one-time pipeline success embed.
func (sink *DiscordSink) PipelineSucceeded(executionContext context.Context, event PipelineSucceededEvent) {
	sink.deliver(executionContext, pipelineSucceededTitleConstant, discordEmbed{
		Title:       pipelineSucceededTitleConstant,
		Description: mergeRequestReference(event.Repository, event.MergeRequestID, event.MergeRequestURL),
		Color:       embedColorSuccessConstant,
	})
}

// AutoMergeWaiting posts the one-time auto-merge waiting embed.
func (sink *DiscordSink) AutoMergeWaiting(executionContext context.Context, event AutoMergeWaitingEvent) {
	sink.deliver(executionContext, autoMergeWaitingTitleConstant, discordEmbed{
		Title:       autoMergeWaitingTitleConstant,
		Description: mergeRequestReference(event.Repository, event.MergeRequestID, event.MergeRequestURL),
		Color:       embedColorWarningConstant,
	})
}

// StrayCommitsProcessed posts the stray-commit summary embed.
func (sink *DiscordSink) StrayCommitsProcessed(executionContext context.Context, event StrayCommitsEvent) {
	sink.deliver(executionContext, strayCommitsTitleConstant, discordEmbed{
		Title:       strayCommitsTitleConstant,
		Description: fmt.Sprintf(strayCommitsDescriptionTemplateConstant, event.TotalBranches, event.IntermediateCount),
		Color:       embedColorInformationConstant,
		Fields: []discordEmbedField{
			{Name: successfulFieldNameConstant, Value: joinOrPlaceholder(event.Successful), Inline: true},
			{Name: failedFieldNameConstant, Value: joinOrPlaceholder(event.Failed), Inline: true},
		},
	})
}

// CriticalFailure posts the failure embed, mentioning the configured audience.
func (sink *DiscordSink) CriticalFailure(executionContext context.Context, event CriticalFailureEvent) {
	sink.deliver(executionContext, criticalFailureTitleConstant, discordEmbed{
		Title:       criticalFailureTitleConstant,
		Description: event.Message,
		Color:       embedColorFailureConstant,
		Fields: []discordEmbedField{
			{Name: repositoryFieldNameConstant, Value: valueOrPlaceholder(event.Repository), Inline: true},
		},
	})
}

// FinalSummary posts the run summary embed.
func (sink *DiscordSink) FinalSummary(executionContext context.Context, event FinalSummaryEvent) {
	embedColor := embedColorSuccessConstant
	if len(event.Failed) > 0 {
		embedColor = embedColorWarningConstant
	}
	sink.deliver(executionContext, finalSummaryTitleConstant, discordEmbed{
		Title:       finalSummaryTitleConstant,
		Description: fmt.Sprintf(finalSummaryDescriptionTemplateConstant, event.TotalRepositories, event.Elapsed.Round(time.Second)),
		Color:       embedColor,
		Fields: []discordEmbedField{
			{Name: successfulFieldNameConstant, Value: joinOrPlaceholder(event.Successful), Inline: true},
			{Name: progressInProgressFieldNameConstant, Value: joinOrPlaceholder(event.InProgress), Inline: true},
			{Name: failedFieldNameConstant, Value: joinOrPlaceholder(event.Failed), Inline: true},
		},
	})
}

func (sink *DiscordSink) deliver(executionContext context.Context, eventName string, embed discordEmbed) {
	if len(sink.webhookURL) == 0 {
		return
	}

	embed.Timestamp = sink.clock().UTC().Format(time.RFC3339)
	payload := discordWebhookPayload{Content: sink.mention, Embeds: []discordEmbed{embed}}

	encodedPayload, encodeError := json.Marshal(payload)
	if encodeError != nil {
		sink.logger.Warn(
			payloadEncodingFailureMessageConstant,
			zap.String(logFieldEventConstant, eventName),
			zap.Error(encodeError),
		)
		return
	}

	request, requestError := http.NewRequestWithContext(executionContext, http.MethodPost, sink.webhookURL, bytes.NewReader(encodedPayload))
	if requestError != nil {
		sink.logger.Warn(
			deliveryFailureMessageConstant,
			zap.String(logFieldEventConstant, eventName),
			zap.Error(requestError),
		)
		return
	}
	request.Header.Set(contentTypeHeaderNameConstant, contentTypeJSONValueConstant)

	response, deliveryError := sink.httpClient.Do(request)
	if deliveryError != nil {
		sink.logger.Warn(
			deliveryFailureMessageConstant,
			zap.String(logFieldEventConstant, eventName),
			zap.Error(deliveryError),
		)
		return
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		sink.logger.Warn(
			deliveryFailureMessageConstant,
			zap.String(logFieldEventConstant, eventName),
			zap.String(logFieldErrorConstant, fmt.Sprintf(unexpectedStatusTemplateConstant, response.StatusCode)),
		)
	}
}

func mergeRequestReference(repository string, mergeRequestID int, mergeRequestURL string) string {
	reference := fmt.Sprintf(mergeRequestReferenceTemplateConstant, repository, mergeRequestID)
	if len(mergeRequestURL) == 0 {
		return reference
	}
	return fmt.Sprintf(mergeRequestLinkSuffixTemplateConstant, reference, mergeRequestURL)
}

func joinOrPlaceholder(values []string) string {
	if len(values) == 0 {
		return emptyListPlaceholderConstant
	}
	return strings.Join(values, ", ")
}

func valueOrPlaceholder(value string) string {
	if len(strings.TrimSpace(value)) == 0 {
		return emptyListPlaceholderConstant
	}
	return value
}
