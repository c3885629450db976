package requests

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	emptySpecificationMessageConstant    = "merge request specification is empty"
	malformedReferenceTemplateConstant   = "malformed merge request reference %q, expected repository:id"
	invalidIdentifierTemplateConstant    = "invalid merge request id in %q: %w"
	missingOperatorMessageConstant       = "merge request service requires an operator"
	missingLoggerMessageConstant         = "merge request service requires a logger"
	referenceSeparatorConstant           = ","
	identifierSeparatorConstant          = ":"
	autoMergeEnabledDetailConstant       = "auto-merge enabled or request merged"
	autoMergeRefusedDetailConstant       = "auto-merge could not be enabled"
	mergedDetailConstant                 = "merged"
	mergeBlockedDetailConstant           = "merge blocked by conflicts, pipeline, or permissions"
	operationResultMessageConstant       = "merge request operation finished"
	logFieldRepositoryConstant           = "repository"
	logFieldMergeRequestConstant         = "merge_request"
	logFieldSuccessConstant              = "success"
)

// Reference addresses one merge request by repository and remote id.
type Reference struct {
	Repository     string
	MergeRequestID int
}

// ParseReferences parses a "repository:id[,repository:id...]" specification.
// Repository names may contain colons; the id is taken after the last one.
func ParseReferences(specification string) ([]Reference, error) {
	trimmedSpecification := strings.TrimSpace(specification)
	if len(trimmedSpecification) == 0 {
		return nil, errors.New(emptySpecificationMessageConstant)
	}

	references := []Reference{}
	for _, rawReference := range strings.Split(trimmedSpecification, referenceSeparatorConstant) {
		trimmedReference := strings.TrimSpace(rawReference)
		if len(trimmedReference) == 0 {
			continue
		}

		separatorIndex := strings.LastIndex(trimmedReference, identifierSeparatorConstant)
		if separatorIndex <= 0 || separatorIndex == len(trimmedReference)-1 {
			return nil, fmt.Errorf(malformedReferenceTemplateConstant, trimmedReference)
		}

		repository := strings.TrimSpace(trimmedReference[:separatorIndex])
		identifier, parseError := strconv.Atoi(strings.TrimSpace(trimmedReference[separatorIndex+1:]))
		if parseError != nil {
			return nil, fmt.Errorf(invalidIdentifierTemplateConstant, trimmedReference, parseError)
		}
		references = append(references, Reference{Repository: repository, MergeRequestID: identifier})
	}

	if len(references) == 0 {
		return nil, errors.New(emptySpecificationMessageConstant)
	}
	return references, nil
}

// MergeRequestOperator is the gateway subset consumed by operator commands.
type MergeRequestOperator interface {
	EnableAutoMerge(executionContext context.Context, repository string, mergeRequestID int) bool
	DirectMerge(executionContext context.Context, repository string, mergeRequestID int) (bool, error)
}

// OperationResult reports the outcome of one per-request operation.
type OperationResult struct {
	Reference Reference
	Success   bool
	Detail    string
}

// Service executes batch operations over explicit merge request references.
type Service struct {
	operator MergeRequestOperator
	logger   *zap.Logger
}

// NewService validates the dependencies and constructs an operator service.
func NewService(operator MergeRequestOperator, logger *zap.Logger) (*Service, error) {
	if operator == nil {
		return nil, errors.New(missingOperatorMessageConstant)
	}
	if logger == nil {
		return nil, errors.New(missingLoggerMessageConstant)
	}
	return &Service{operator: operator, logger: logger}, nil
}

// EnableAutoMerge attempts auto-merge enablement for every reference. One
// reference's failure never stops the batch.
func (service *Service) EnableAutoMerge(executionContext context.Context, references []Reference) []OperationResult {
	results := make([]OperationResult, 0, len(references))
	for _, reference := range references {
		enabled := service.operator.EnableAutoMerge(executionContext, reference.Repository, reference.MergeRequestID)
		detail := autoMergeEnabledDetailConstant
		if !enabled {
			detail = autoMergeRefusedDetailConstant
		}
		results = append(results, service.recordResult(reference, enabled, detail))
	}
	return results
}

// Merge attempts an immediate merge for every reference. Expected blocking
// conditions report a failed result; unexpected faults do too, with the error
// message as detail.
func (service *Service) Merge(executionContext context.Context, references []Reference) []OperationResult {
	results := make([]OperationResult, 0, len(references))
	for _, reference := range references {
		merged, mergeError := service.operator.DirectMerge(executionContext, reference.Repository, reference.MergeRequestID)
		switch {
		case mergeError != nil:
			results = append(results, service.recordResult(reference, false, mergeError.Error()))
		case merged:
			results = append(results, service.recordResult(reference, true, mergedDetailConstant))
		default:
			results = append(results, service.recordResult(reference, false, mergeBlockedDetailConstant))
		}
	}
	return results
}

func (service *Service) recordResult(reference Reference, success bool, detail string) OperationResult {
	service.logger.Info(
		operationResultMessageConstant,
		zap.String(logFieldRepositoryConstant, reference.Repository),
		zap.Int(logFieldMergeRequestConstant, reference.MergeRequestID),
		zap.Bool(logFieldSuccessConstant, success),
	)
	return OperationResult{Reference: reference, Success: success, Detail: detail}
}
