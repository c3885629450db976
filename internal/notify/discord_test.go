package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrflowbot/mrflow/internal/notify"
)

type capturedWebhookPayload struct {
	Content string `json:"content"`
	Embeds  []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Color       int    `json:"color"`
		Fields      []struct {
			Name   string `json:"name"`
			Value  string `json:"value"`
			Inline bool   `json:"inline"`
		} `json:"fields"`
		Timestamp string `json:"timestamp"`
	} `json:"embeds"`
}

func decodeWebhookRequest(t *testing.T, request *http.Request) capturedWebhookPayload {
	t.Helper()

	body, readError := io.ReadAll(request.Body)
	require.NoError(t, readError)

	var payload capturedWebhookPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	return payload
}

func TestDiscordSinkPostsDeploymentStartedEmbed(t *testing.T) {
	var receivedPayload capturedWebhookPayload
	var receivedContentType string
	webhookServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		receivedContentType = request.Header.Get("Content-Type")
		receivedPayload = decodeWebhookRequest(t, request)
		writer.WriteHeader(http.StatusNoContent)
	}))
	defer webhookServer.Close()

	sink := notify.NewDiscordSink(
		notify.DiscordConfiguration{WebhookURL: webhookServer.URL, Mention: "@release-team"},
		webhookServer.Client(),
		zap.NewNop(),
	)

	sink.DeploymentStarted(context.Background(), notify.DeploymentStartedEvent{
		RunLabel:  "sprint promotion",
		Libraries: []string{"shared-models"},
		Services:  []string{"billing-api", "portal-api"},
	})

	require.Equal(t, "application/json", receivedContentType)
	require.Equal(t, "@release-team", receivedPayload.Content)
	require.Len(t, receivedPayload.Embeds, 1)
	require.Equal(t, "Deployment started", receivedPayload.Embeds[0].Title)
	require.Equal(t, "sprint promotion", receivedPayload.Embeds[0].Description)
	require.Len(t, receivedPayload.Embeds[0].Fields, 2)
	require.Equal(t, "shared-models", receivedPayload.Embeds[0].Fields[0].Value)
	require.Equal(t, "billing-api, portal-api", receivedPayload.Embeds[0].Fields[1].Value)
	require.NotEmpty(t, receivedPayload.Embeds[0].Timestamp)
}

func TestDiscordSinkIncludesMergeRequestLink(t *testing.T) {
	var receivedPayload capturedWebhookPayload
	webhookServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		receivedPayload = decodeWebhookRequest(t, request)
		writer.WriteHeader(http.StatusNoContent)
	}))
	defer webhookServer.Close()

	sink := notify.NewDiscordSink(
		notify.DiscordConfiguration{WebhookURL: webhookServer.URL},
		webhookServer.Client(),
		zap.NewNop(),
	)

	sink.PipelineSucceeded(context.Background(), notify.PipelineSucceededEvent{
		Repository:      "billing-api",
		MergeRequestID:  42,
		MergeRequestURL: "https://gitlab.example.com/billing-api/-/merge_requests/42",
	})

	require.Len(t, receivedPayload.Embeds, 1)
	require.Contains(t, receivedPayload.Embeds[0].Description, "billing-api !42")
	require.Contains(t, receivedPayload.Embeds[0].Description, "merge_requests/42")
}

func TestDiscordSinkUsesFailureColorForCriticalEvents(t *testing.T) {
	var receivedPayload capturedWebhookPayload
	webhookServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		receivedPayload = decodeWebhookRequest(t, request)
		writer.WriteHeader(http.StatusNoContent)
	}))
	defer webhookServer.Close()

	sink := notify.NewDiscordSink(
		notify.DiscordConfiguration{WebhookURL: webhookServer.URL},
		webhookServer.Client(),
		zap.NewNop(),
	)

	sink.CriticalFailure(context.Background(), notify.CriticalFailureEvent{
		Repository: "portal-api",
		Message:    "merge conflict between team-dev and dev2",
	})

	require.Len(t, receivedPayload.Embeds, 1)
	require.Equal(t, 0xe74c3c, receivedPayload.Embeds[0].Color)
	require.Equal(t, "merge conflict between team-dev and dev2", receivedPayload.Embeds[0].Description)
}

func TestDiscordSinkSwallowsDeliveryFailures(t *testing.T) {
	webhookServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusTooManyRequests)
	}))
	defer webhookServer.Close()

	sink := notify.NewDiscordSink(
		notify.DiscordConfiguration{WebhookURL: webhookServer.URL},
		webhookServer.Client(),
		zap.NewNop(),
	)

	require.NotPanics(t, func() {
		sink.FinalSummary(context.Background(), notify.FinalSummaryEvent{
			TotalRepositories: 2,
			Successful:        []string{"shared-models"},
			Failed:            []string{"billing-api"},
			Elapsed:           90 * time.Second,
		})
	})
}

func TestDiscordSinkSkipsDeliveryWithoutWebhookURL(t *testing.T) {
	requestCount := 0
	webhookServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestCount++
	}))
	defer webhookServer.Close()

	sink := notify.NewDiscordSink(notify.DiscordConfiguration{}, webhookServer.Client(), zap.NewNop())
	sink.DeploymentStarted(context.Background(), notify.DeploymentStartedEvent{RunLabel: "unconfigured"})

	require.Zero(t, requestCount)
}
