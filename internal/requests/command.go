package requests

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	enableCommandUseConstant             = "enable-auto-merge <repository:id[,repository:id...]>"
	enableCommandNameConstant            = "enable-auto-merge"
	enableCommandShortConstant           = "Enable auto-merge on explicit merge requests"
	enableCommandLongConstant            = "enable-auto-merge drives the auto-merge enablement rules for each referenced merge request."
	mergeCommandUseConstant              = "merge <repository:id[,repository:id...]>"
	mergeCommandNameConstant             = "merge"
	mergeCommandShortConstant            = "Directly merge explicit merge requests"
	mergeCommandLongConstant             = "merge attempts an immediate merge of each referenced merge request, reporting blocked requests without failing the batch."
	missingSpecificationMessageConstant  = "exactly one repository:id specification argument is required"
	missingOperatorProviderMessage       = "command requires an operator provider"
	batchFailuresTemplateConstant        = "%s failed for %d of %d merge requests"
	resultLineTemplateConstant           = "%s!%d: %s\n"
)

var errMissingSpecification = errors.New(missingSpecificationMessageConstant)

// LoggerProvider supplies a zap logger instance.
type LoggerProvider func() *zap.Logger

// OperatorProvider supplies the gateway subset used by operator commands.
type OperatorProvider func() (MergeRequestOperator, error)

// CommandBuilder assembles the explicit merge request operator commands.
type CommandBuilder struct {
	LoggerProvider   LoggerProvider
	OperatorProvider OperatorProvider
}

// BuildEnableAutoMergeCommand constructs the enable-auto-merge command.
func (builder *CommandBuilder) BuildEnableAutoMergeCommand() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   enableCommandUseConstant,
		Short: enableCommandShortConstant,
		Long:  enableCommandLongConstant,
		RunE: func(command *cobra.Command, arguments []string) error {
			return builder.run(command, arguments, enableCommandNameConstant, func(service *Service, references []Reference) []OperationResult {
				return service.EnableAutoMerge(command.Context(), references)
			})
		},
	}
	return command, nil
}

// BuildMergeCommand constructs the merge command.
func (builder *CommandBuilder) BuildMergeCommand() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   mergeCommandUseConstant,
		Short: mergeCommandShortConstant,
		Long:  mergeCommandLongConstant,
		RunE: func(command *cobra.Command, arguments []string) error {
			return builder.run(command, arguments, mergeCommandNameConstant, func(service *Service, references []Reference) []OperationResult {
				return service.Merge(command.Context(), references)
			})
		},
	}
	return command, nil
}

func (builder *CommandBuilder) run(
	command *cobra.Command,
	arguments []string,
	operationName string,
	operation func(service *Service, references []Reference) []OperationResult,
) error {
	if len(arguments) != 1 {
		return errMissingSpecification
	}

	references, parseError := ParseReferences(arguments[0])
	if parseError != nil {
		return parseError
	}

	if builder.OperatorProvider == nil {
		return errors.New(missingOperatorProviderMessage)
	}
	operator, operatorError := builder.OperatorProvider()
	if operatorError != nil {
		return operatorError
	}

	service, serviceError := NewService(operator, builder.resolveLogger())
	if serviceError != nil {
		return serviceError
	}

	results := operation(service, references)
	failureCount := 0
	for _, result := range results {
		fmt.Fprintf(
			command.OutOrStdout(),
			resultLineTemplateConstant,
			result.Reference.Repository,
			result.Reference.MergeRequestID,
			result.Detail,
		)
		if !result.Success {
			failureCount++
		}
	}
	if failureCount > 0 {
		return fmt.Errorf(batchFailuresTemplateConstant, operationName, failureCount, len(results))
	}
	return nil
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider == nil {
		return zap.NewNop()
	}
	logger := builder.LoggerProvider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
