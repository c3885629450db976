package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrflowbot/mrflow/internal/scm"
)

const (
	missingBaseURLMessageConstant        = "gitlab gateway requires a base URL"
	missingTokenMessageConstant          = "gitlab gateway requires an access token"
	missingLoggerMessageConstant         = "gitlab gateway requires a logger"
	privateTokenHeaderNameConstant       = "PRIVATE-TOKEN"
	contentTypeHeaderNameConstant        = "Content-Type"
	contentTypeJSONValueConstant         = "application/json"
	nextPageHeaderNameConstant           = "X-Next-Page"
	apiPathPrefixConstant                = "/api/v4"
	requestFailureTemplateConstant       = "%s %s: %w"
	decodeFailureTemplateConstant        = "decoding %s response: %w"
	retryingRequestMessageConstant       = "retrying remote request"
	logFieldMethodConstant               = "method"
	logFieldPathConstant                 = "path"
	logFieldAttemptConstant              = "attempt"
	logFieldDelayConstant                = "delay"
	perPageQueryParameterConstant        = "per_page"
	pageQueryParameterConstant           = "page"
	branchListPageSizeConstant           = "100"
	singleResultPageSizeConstant         = "1"
	compareFromQueryParameterConstant    = "from"
	compareToQueryParameterConstant      = "to"
	pipelineRefQueryParameterConstant    = "ref"
	environmentQueryParameterConstant    = "environment"
	deploymentOrderQueryParameterConstant = "order_by"
	deploymentOrderValueConstant         = "id"
	deploymentSortQueryParameterConstant = "sort"
	deploymentSortValueConstant          = "desc"
	mergeRequestStateQueryParameterConstant = "state"
	mergeRequestSourceQueryParameterConstant = "source_branch"
	mergeRequestTargetQueryParameterConstant = "target_branch"
	openedStateValueConstant             = "opened"
)

// HTTPDoer performs HTTP requests; it matches *http.Client.
type HTTPDoer interface {
	Do(request *http.Request) (*http.Response, error)
}

// Client talks to the GitLab REST API and implements scm.Gateway.
type Client struct {
	configuration Configuration
	httpClient    HTTPDoer
	logger        *zap.Logger
	sleep         func(context.Context, time.Duration) error

	currentUserMutex sync.Mutex
	currentUserID    int
	currentUserKnown bool
}

// NewClient validates the configuration and constructs a gateway client. A nil
// httpClient falls back to a timeout-bounded default client.
func NewClient(configuration Configuration, httpClient HTTPDoer, logger *zap.Logger) (*Client, error) {
	sanitizedConfiguration := configuration.Sanitize()
	if len(sanitizedConfiguration.BaseURL) == 0 {
		return nil, errors.New(missingBaseURLMessageConstant)
	}
	if len(sanitizedConfiguration.Token) == 0 {
		return nil, errors.New(missingTokenMessageConstant)
	}
	if logger == nil {
		return nil, errors.New(missingLoggerMessageConstant)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: sanitizedConfiguration.RequestTimeout}
	}
	return &Client{
		configuration: sanitizedConfiguration,
		httpClient:    httpClient,
		logger:        logger,
		sleep:         sleepWithContext,
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

func projectPath(repository string) string {
	return apiPathPrefixConstant + "/projects/" + url.PathEscape(repository)
}

// execute performs one API call with transient-failure retries. The response
// body is decoded into responseTarget when it is non-nil, and the raw response
// is returned for header inspection. Callers own no body cleanup.
func (client *Client) execute(
	executionContext context.Context,
	method string,
	requestPath string,
	queryValues url.Values,
	requestBody any,
	responseTarget any,
) (*http.Response, error) {
	var lastError error
	for attempt := 1; attempt <= client.configuration.RetryAttempts; attempt++ {
		response, requestError := client.executeOnce(executionContext, method, requestPath, queryValues, requestBody, responseTarget)
		if requestError == nil {
			return response, nil
		}
		lastError = requestError
		if !errors.Is(requestError, scm.ErrRemoteTransient) || attempt == client.configuration.RetryAttempts {
			return nil, requestError
		}

		retryDelay := client.configuration.RetryBaseDelay * time.Duration(1<<(attempt-1))
		client.logger.Warn(
			retryingRequestMessageConstant,
			zap.String(logFieldMethodConstant, method),
			zap.String(logFieldPathConstant, requestPath),
			zap.Int(logFieldAttemptConstant, attempt),
			zap.Duration(logFieldDelayConstant, retryDelay),
			zap.Error(requestError),
		)
		if sleepError := client.sleep(executionContext, retryDelay); sleepError != nil {
			return nil, sleepError
		}
	}
	return nil, lastError
}

func (client *Client) executeOnce(
	executionContext context.Context,
	method string,
	requestPath string,
	queryValues url.Values,
	requestBody any,
	responseTarget any,
) (*http.Response, error) {
	requestURL := client.configuration.BaseURL + requestPath
	if len(queryValues) > 0 {
		requestURL += "?" + queryValues.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encodedBody, encodeError := json.Marshal(requestBody)
		if encodeError != nil {
			return nil, fmt.Errorf(requestFailureTemplateConstant, method, requestPath, encodeError)
		}
		bodyReader = bytes.NewReader(encodedBody)
	}

	request, buildError := http.NewRequestWithContext(executionContext, method, requestURL, bodyReader)
	if buildError != nil {
		return nil, fmt.Errorf(requestFailureTemplateConstant, method, requestPath, buildError)
	}
	request.Header.Set(privateTokenHeaderNameConstant, client.configuration.Token)
	if requestBody != nil {
		request.Header.Set(contentTypeHeaderNameConstant, contentTypeJSONValueConstant)
	}

	response, transportError := client.httpClient.Do(request)
	if transportError != nil {
		if executionContext.Err() != nil {
			return nil, executionContext.Err()
		}
		return nil, fmt.Errorf(requestFailureTemplateConstant, method, requestPath, fmt.Errorf("%w: %v", scm.ErrRemoteTransient, transportError))
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		io.Copy(io.Discard, response.Body)
		statusFailure := &statusError{statusCode: response.StatusCode, classification: classifyStatus(response.StatusCode)}
		return nil, fmt.Errorf(requestFailureTemplateConstant, method, requestPath, statusFailure)
	}

	if responseTarget != nil {
		if decodeError := json.NewDecoder(response.Body).Decode(responseTarget); decodeError != nil {
			return nil, fmt.Errorf(decodeFailureTemplateConstant, requestPath, decodeError)
		}
	} else {
		io.Copy(io.Discard, response.Body)
	}
	return response, nil
}

// statusError preserves the HTTP status code alongside its sentinel
// classification so callers can distinguish expected remote refusals.
type statusError struct {
	statusCode     int
	classification error
}

func (failure *statusError) Error() string {
	return fmt.Sprintf("remote status %d: %v", failure.statusCode, failure.classification)
}

func (failure *statusError) Unwrap() error {
	return failure.classification
}

func classifyStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return scm.ErrRemotePermission
	case statusCode == http.StatusNotFound:
		return scm.ErrRemoteNotFound
	case statusCode == http.StatusTooManyRequests || statusCode >= http.StatusInternalServerError:
		return scm.ErrRemoteTransient
	default:
		return fmt.Errorf("unexpected remote status %d", statusCode)
	}
}

func (client *Client) currentUserIdentifier(executionContext context.Context) (int, error) {
	client.currentUserMutex.Lock()
	defer client.currentUserMutex.Unlock()
	if client.currentUserKnown {
		return client.currentUserID, nil
	}

	var userPayload struct {
		ID int `json:"id"`
	}
	if _, requestError := client.execute(executionContext, http.MethodGet, apiPathPrefixConstant+"/user", nil, nil, &userPayload); requestError != nil {
		return 0, requestError
	}
	client.currentUserID = userPayload.ID
	client.currentUserKnown = true
	return client.currentUserID, nil
}

func nextPageNumber(response *http.Response) (string, bool) {
	if response == nil {
		return "", false
	}
	nextPage := response.Header.Get(nextPageHeaderNameConstant)
	if len(nextPage) == 0 {
		return "", false
	}
	if _, parseError := strconv.Atoi(nextPage); parseError != nil {
		return "", false
	}
	return nextPage, true
}
