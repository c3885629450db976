package flow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	promoteCommandUseConstant              = "promote"
	promoteCommandShortDescriptionConstant = "Promote commits through every repository's branch flow"
	promoteCommandLongDescriptionConstant  = "promote walks each configured repository's branch flow, creates merge requests for hops with unmerged commits, drives them through pipeline-gated auto-merge, and folds in stray commits."
	intermediateCommandUseConstant         = "intermediate"
	intermediateCommandShortConstant       = "Promote stray and intermediate commits to the final flow branch"
	intermediateCommandLongConstant        = "intermediate scans every branch for commits unreachable from the final flow branch and opens merge requests promoting them."
	statusCommandUseConstant               = "branch-status"
	statusCommandShortConstant             = "Dump per-repository branch flow status as YAML"
	statusCommandLongConstant              = "branch-status reports, for every repository, branch existence, pairwise ahead-counts, and stray branch scan results."
	unexpectedArgumentsMessageConstant     = "command does not accept positional arguments"
	missingEngineProviderMessageConstant   = "command requires an engine provider"
	promotionFailuresTemplateConstant      = "promotion completed with %d failed repositories"
	scheduleRegistrationTemplateConstant   = "invalid schedule %q: %w"
	statusEncodingTemplateConstant         = "encoding branch status report: %w"
	scheduledRunFailedMessageConstant      = "scheduled promotion run failed"
	scheduledRunFinishedMessageConstant    = "scheduled promotion run finished"
	strayRecordLineTemplateConstant        = "%s: %s -> %s (%d commits, state %s)\n"
	flagLibrariesOnlyNameConstant          = "libraries-only"
	flagLibrariesOnlyDescriptionConstant   = "Process only repositories categorized as libraries"
	flagServicesOnlyNameConstant           = "services-only"
	flagServicesOnlyDescriptionConstant    = "Process only repositories categorized as services"
	flagDryRunNameConstant                 = "dry-run"
	flagDryRunDescriptionConstant          = "Report what would be created without mutating the remote"
	flagDisableProgressiveNameConstant     = "disable-progressive"
	flagDisableProgressiveDescription      = "Stop each repository after its first merged hop"
	flagSkipStraysNameConstant             = "skip-strays"
	flagSkipStraysDescriptionConstant      = "Skip post-phase stray commit processing"
	flagTargetNameConstant                 = "target"
	flagTargetDescriptionConstant          = "Stop promotion once this branch has been reached"
	flagScheduleNameConstant               = "schedule"
	flagScheduleDescriptionConstant        = "Cron expression; re-run promotion on this schedule instead of once"
	flagMaxConcurrentNameConstant          = "max-concurrent"
	flagMaxConcurrentDescriptionConstant   = "Maximum repositories processed in parallel within a phase"
	logFieldSuccessfulConstant             = "successful"
	logFieldFailedConstant                 = "failed"
)

var errUnexpectedArguments = errors.New(unexpectedArgumentsMessageConstant)

// LoggerProvider supplies a zap logger instance.
type LoggerProvider func() *zap.Logger

// EngineProvider supplies a promotion engine configured for the run options.
type EngineProvider func(options Options) (*Engine, error)

// PromoteCommandBuilder assembles the promote command.
type PromoteCommandBuilder struct {
	LoggerProvider  LoggerProvider
	EngineProvider  EngineProvider
	EnableAutoMerge bool
	MaxConcurrent   int
}

// Build constructs the promote command.
func (builder *PromoteCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   promoteCommandUseConstant,
		Short: promoteCommandShortDescriptionConstant,
		Long:  promoteCommandLongDescriptionConstant,
		RunE:  builder.run,
	}

	command.Flags().Bool(flagLibrariesOnlyNameConstant, false, flagLibrariesOnlyDescriptionConstant)
	command.Flags().Bool(flagServicesOnlyNameConstant, false, flagServicesOnlyDescriptionConstant)
	command.Flags().Bool(flagDryRunNameConstant, false, flagDryRunDescriptionConstant)
	command.Flags().Bool(flagDisableProgressiveNameConstant, false, flagDisableProgressiveDescription)
	command.Flags().Bool(flagSkipStraysNameConstant, false, flagSkipStraysDescriptionConstant)
	command.Flags().String(flagTargetNameConstant, "", flagTargetDescriptionConstant)
	command.Flags().String(flagScheduleNameConstant, "", flagScheduleDescriptionConstant)
	command.Flags().Int(flagMaxConcurrentNameConstant, 0, flagMaxConcurrentDescriptionConstant)

	return command, nil
}

func (builder *PromoteCommandBuilder) run(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return errUnexpectedArguments
	}

	options := builder.parseOptions(command)
	engine, engineError := resolveEngine(builder.EngineProvider, options)
	if engineError != nil {
		return engineError
	}
	logger := resolveLogger(builder.LoggerProvider)

	scheduleSpec, _ := command.Flags().GetString(flagScheduleNameConstant)
	scheduleSpec = strings.TrimSpace(scheduleSpec)
	if len(scheduleSpec) == 0 {
		return runPromotionOnce(command, engine, logger, options)
	}

	cronScheduler := cron.New()
	_, registrationError := cronScheduler.AddFunc(scheduleSpec, func() {
		runResult, runError := engine.Run(command.Context(), options)
		if runError != nil {
			logger.Error(scheduledRunFailedMessageConstant, zap.Error(runError))
			return
		}
		logger.Info(
			scheduledRunFinishedMessageConstant,
			zap.Strings(logFieldSuccessfulConstant, runResult.Successful),
			zap.Strings(logFieldFailedConstant, runResult.Failed),
		)
	})
	if registrationError != nil {
		return fmt.Errorf(scheduleRegistrationTemplateConstant, scheduleSpec, registrationError)
	}

	cronScheduler.Start()
	<-command.Context().Done()
	<-cronScheduler.Stop().Done()
	return nil
}

func runPromotionOnce(command *cobra.Command, engine *Engine, logger *zap.Logger, options Options) error {
	runResult, runError := engine.Run(command.Context(), options)
	if runError != nil {
		return runError
	}
	logger.Info(
		scheduledRunFinishedMessageConstant,
		zap.Strings(logFieldSuccessfulConstant, runResult.Successful),
		zap.Strings(logFieldFailedConstant, runResult.Failed),
	)
	if len(runResult.Failed) > 0 {
		return fmt.Errorf(promotionFailuresTemplateConstant, len(runResult.Failed))
	}
	return nil
}

func (builder *PromoteCommandBuilder) parseOptions(command *cobra.Command) Options {
	librariesOnly, _ := command.Flags().GetBool(flagLibrariesOnlyNameConstant)
	servicesOnly, _ := command.Flags().GetBool(flagServicesOnlyNameConstant)
	dryRun, _ := command.Flags().GetBool(flagDryRunNameConstant)
	disableProgressive, _ := command.Flags().GetBool(flagDisableProgressiveNameConstant)
	skipStrays, _ := command.Flags().GetBool(flagSkipStraysNameConstant)
	targetBranch, _ := command.Flags().GetString(flagTargetNameConstant)
	maxConcurrent, _ := command.Flags().GetInt(flagMaxConcurrentNameConstant)
	if maxConcurrent < 1 {
		maxConcurrent = builder.MaxConcurrent
	}

	return Options{
		LibrariesOnly:             librariesOnly,
		ServicesOnly:              servicesOnly,
		DryRun:                    dryRun,
		DisableProgressive:        disableProgressive,
		SkipStrayProcessing:       skipStrays,
		EnableAutoMerge:           builder.EnableAutoMerge,
		TargetBranch:              strings.TrimSpace(targetBranch),
		MaxConcurrentRepositories: maxConcurrent,
	}
}

// IntermediateCommandBuilder assembles the intermediate command.
type IntermediateCommandBuilder struct {
	LoggerProvider  LoggerProvider
	EngineProvider  EngineProvider
	EnableAutoMerge bool
}

// Build constructs the intermediate command.
func (builder *IntermediateCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   intermediateCommandUseConstant,
		Short: intermediateCommandShortConstant,
		Long:  intermediateCommandLongConstant,
		RunE:  builder.run,
	}

	command.Flags().Bool(flagLibrariesOnlyNameConstant, false, flagLibrariesOnlyDescriptionConstant)
	command.Flags().Bool(flagServicesOnlyNameConstant, false, flagServicesOnlyDescriptionConstant)
	command.Flags().Bool(flagDryRunNameConstant, false, flagDryRunDescriptionConstant)

	return command, nil
}

func (builder *IntermediateCommandBuilder) run(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return errUnexpectedArguments
	}

	librariesOnly, _ := command.Flags().GetBool(flagLibrariesOnlyNameConstant)
	servicesOnly, _ := command.Flags().GetBool(flagServicesOnlyNameConstant)
	dryRun, _ := command.Flags().GetBool(flagDryRunNameConstant)
	options := Options{
		LibrariesOnly:   librariesOnly,
		ServicesOnly:    servicesOnly,
		DryRun:          dryRun,
		EnableAutoMerge: builder.EnableAutoMerge,
	}

	engine, engineError := resolveEngine(builder.EngineProvider, options)
	if engineError != nil {
		return engineError
	}

	records, processingError := engine.RunStrayProcessing(command.Context(), options)
	if processingError != nil {
		return processingError
	}
	for _, record := range records {
		fmt.Fprintf(
			command.OutOrStdout(),
			strayRecordLineTemplateConstant,
			record.Repository,
			record.SourceBranch,
			record.TargetBranch,
			record.CommitCount,
			record.State,
		)
	}
	return nil
}

// StatusCommandBuilder assembles the branch-status command.
type StatusCommandBuilder struct {
	LoggerProvider LoggerProvider
	EngineProvider EngineProvider
}

// Build constructs the branch-status command.
func (builder *StatusCommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   statusCommandUseConstant,
		Short: statusCommandShortConstant,
		Long:  statusCommandLongConstant,
		RunE:  builder.run,
	}
	return command, nil
}

func (builder *StatusCommandBuilder) run(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return errUnexpectedArguments
	}

	engine, engineError := resolveEngine(builder.EngineProvider, Options{DryRun: true})
	if engineError != nil {
		return engineError
	}

	report, reportError := engine.BranchStatus(command.Context())
	if reportError != nil {
		return reportError
	}

	encodedReport, encodeError := yaml.Marshal(report)
	if encodeError != nil {
		return fmt.Errorf(statusEncodingTemplateConstant, encodeError)
	}
	fmt.Fprint(command.OutOrStdout(), string(encodedReport))
	return nil
}

func resolveEngine(provider EngineProvider, options Options) (*Engine, error) {
	if provider == nil {
		return nil, errors.New(missingEngineProviderMessageConstant)
	}
	return provider(options)
}

func resolveLogger(provider LoggerProvider) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
