package cli

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/mrflowbot/mrflow/internal/deploy"
	"github.com/mrflowbot/mrflow/internal/flow"
	"github.com/mrflowbot/mrflow/internal/monitor"
	"github.com/mrflowbot/mrflow/internal/notify"
	"github.com/mrflowbot/mrflow/internal/registry"
	"github.com/mrflowbot/mrflow/internal/requests"
	"github.com/mrflowbot/mrflow/internal/scm/gitlab"
	"github.com/mrflowbot/mrflow/internal/utils"
)

const (
	applicationNameConstant                    = "mrflow"
	applicationShortDescriptionConstant        = "Cross-repository merge request promotion"
	applicationLongDescriptionConstant         = "mrflow promotes commits through configured branch flows by opening merge requests, driving pipeline-gated auto-merge, and waiting on environment deployments."
	configFileFlagNameConstant                 = "config"
	configFileFlagUsageConstant                = "Optional path to a configuration file (YAML or JSON)."
	logLevelFlagNameConstant                   = "log-level"
	logLevelFlagUsageConstant                  = "Override the configured log level."
	logFormatFlagNameConstant                  = "log-format"
	logFormatFlagUsageConstant                 = "Override the configured log format (structured or console)."
	commonConfigurationKeyConstant             = "common"
	commonLogLevelConfigKeyConstant            = commonConfigurationKeyConstant + ".log_level"
	commonLogFormatConfigKeyConstant           = commonConfigurationKeyConstant + ".log_format"
	automationAutoMergeConfigKeyConstant       = "automation.enable_auto_merge"
	automationMaxConcurrentConfigKeyConstant   = "automation.max_concurrent_repositories"
	environmentPrefixConstant                  = "MRFLOW"
	configurationNameConstant                  = "config"
	configurationTypeConstant                  = "yaml"
	configurationInitializedMessageConstant    = "configuration initialized"
	configurationLogLevelFieldConstant         = "log_level"
	configurationLogFormatFieldConstant        = "log_format"
	configurationFileFieldConstant             = "config_file"
	configurationLoadErrorTemplateConstant     = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant        = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant            = "unable to flush logger: %w"
	rootCommandInfoMessageConstant             = "mrflow CLI executed"
	logFieldCommandNameConstant                = "command_name"
	logFieldArgumentCountConstant              = "argument_count"
	loggerNotInitializedMessageConstant        = "logger not initialized"
	defaultConfigurationSearchPathConstant     = "."
	defaultMaxConcurrentRepositoriesConstant   = 1
)

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common     ApplicationCommonConfiguration     `mapstructure:"common"`
	GitLab     gitlab.Configuration               `mapstructure:"gitlab"`
	Discord    notify.DiscordConfiguration        `mapstructure:"discord"`
	Automation ApplicationAutomationConfiguration `mapstructure:"automation"`
	Monitor    monitor.Options                    `mapstructure:"monitor"`
	Deploy     deploy.Options                     `mapstructure:"deploy"`
	Registry   registry.Settings                  `mapstructure:",squash"`
}

// ApplicationCommonConfiguration stores logging configuration shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// ApplicationAutomationConfiguration tunes promotion run behavior.
type ApplicationAutomationConfiguration struct {
	EnableAutoMerge           bool `mapstructure:"enable_auto_merge"`
	MaxConcurrentRepositories int  `mapstructure:"max_concurrent_repositories"`
}

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand           *cobra.Command
	configurationLoader   *utils.ConfigurationLoader
	loggerFactory         *utils.LoggerFactory
	logger                *zap.Logger
	configuration         ApplicationConfiguration
	configurationMetadata utils.LoadedConfiguration
	configurationFilePath string
	logLevelFlagValue     string
	logFormatFlagValue    string
	promoteBuilder        *flow.PromoteCommandBuilder
	intermediateBuilder   *flow.IntermediateCommandBuilder
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	configurationLoader := utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		[]string{defaultConfigurationSearchPathConstant},
	)

	application := &Application{
		configurationLoader: configurationLoader,
		loggerFactory:       utils.NewLoggerFactory(),
		logger:              zap.NewNop(),
	}

	cobraCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runRootCommand(command, arguments)
		},
	}

	cobraCommand.SetContext(context.Background())
	cobraCommand.PersistentFlags().StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)

	application.promoteBuilder = &flow.PromoteCommandBuilder{
		LoggerProvider: application.currentLogger,
		EngineProvider: application.buildEngine,
	}
	if promoteCommand, promoteBuildError := application.promoteBuilder.Build(); promoteBuildError == nil {
		cobraCommand.AddCommand(promoteCommand)
	}

	application.intermediateBuilder = &flow.IntermediateCommandBuilder{
		LoggerProvider: application.currentLogger,
		EngineProvider: application.buildEngine,
	}
	if intermediateCommand, intermediateBuildError := application.intermediateBuilder.Build(); intermediateBuildError == nil {
		cobraCommand.AddCommand(intermediateCommand)
	}

	statusBuilder := flow.StatusCommandBuilder{
		LoggerProvider: application.currentLogger,
		EngineProvider: application.buildEngine,
	}
	if statusCommand, statusBuildError := statusBuilder.Build(); statusBuildError == nil {
		cobraCommand.AddCommand(statusCommand)
	}

	requestsBuilder := requests.CommandBuilder{
		LoggerProvider:   application.currentLogger,
		OperatorProvider: application.buildOperator,
	}
	if enableCommand, enableBuildError := requestsBuilder.BuildEnableAutoMergeCommand(); enableBuildError == nil {
		cobraCommand.AddCommand(enableCommand)
	}
	if mergeCommand, mergeBuildError := requestsBuilder.BuildMergeCommand(); mergeBuildError == nil {
		cobraCommand.AddCommand(mergeCommand)
	}

	application.rootCommand = cobraCommand

	return application
}

// Execute runs the configured Cobra command hierarchy and ensures logger flushing.
func (application *Application) Execute() error {
	executionError := application.rootCommand.Execute()
	if syncError := application.flushLogger(); syncError != nil {
		return fmt.Errorf(loggerSyncErrorTemplateConstant, syncError)
	}
	return executionError
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute() error {
	return NewApplication().Execute()
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:          string(utils.LogLevelInfo),
		commonLogFormatConfigKeyConstant:         string(utils.LogFormatStructured),
		automationAutoMergeConfigKeyConstant:     true,
		automationMaxConcurrentConfigKeyConstant: defaultMaxConcurrentRepositoriesConstant,
	}

	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(application.configurationFilePath, defaultValues, &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}

	application.configurationMetadata = loadedConfiguration

	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		application.configuration.Common.LogLevel = application.logLevelFlagValue
	}
	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		application.configuration.Common.LogFormat = application.logFormatFlagValue
	}

	logger, loggerCreationError := application.loggerFactory.CreateLogger(
		utils.LogLevel(application.configuration.Common.LogLevel),
		utils.LogFormat(application.configuration.Common.LogFormat),
	)
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}

	application.logger = logger
	application.promoteBuilder.EnableAutoMerge = application.configuration.Automation.EnableAutoMerge
	application.promoteBuilder.MaxConcurrent = application.configuration.Automation.MaxConcurrentRepositories
	application.intermediateBuilder.EnableAutoMerge = application.configuration.Automation.EnableAutoMerge

	application.logger.Info(
		configurationInitializedMessageConstant,
		zap.String(configurationLogLevelFieldConstant, application.configuration.Common.LogLevel),
		zap.String(configurationLogFormatFieldConstant, application.configuration.Common.LogFormat),
		zap.String(configurationFileFieldConstant, application.configurationMetadata.ConfigFileUsed),
	)

	return nil
}

func (application *Application) currentLogger() *zap.Logger {
	return application.logger
}

// buildEngine assembles the promotion engine from the loaded configuration.
// Dry runs route notifications to a discarding sink.
func (application *Application) buildEngine(options flow.Options) (*flow.Engine, error) {
	repositoryRegistry, registryError := registry.NewRegistry(application.configuration.Registry, application.logger)
	if registryError != nil {
		return nil, registryError
	}

	gatewayClient, clientError := gitlab.NewClient(application.configuration.GitLab, nil, application.logger)
	if clientError != nil {
		return nil, clientError
	}

	eventSink := application.buildSink(options.DryRun)

	mergeRequestMonitor, monitorError := monitor.NewMonitor(monitor.Dependencies{
		Gateway: gatewayClient,
		Sink:    eventSink,
		Logger:  application.logger,
	}, application.configuration.Monitor)
	if monitorError != nil {
		return nil, monitorError
	}

	deploymentGate, gateError := deploy.NewGate(deploy.Dependencies{
		Gateway: gatewayClient,
		Sink:    eventSink,
		Logger:  application.logger,
	}, application.configuration.Deploy)
	if gateError != nil {
		return nil, gateError
	}

	return flow.NewEngine(flow.Dependencies{
		Registry:       repositoryRegistry,
		Gateway:        gatewayClient,
		Monitor:        mergeRequestMonitor,
		DeploymentGate: deploymentGate,
		Sink:           eventSink,
		Logger:         application.logger,
	})
}

func (application *Application) buildOperator() (requests.MergeRequestOperator, error) {
	return gitlab.NewClient(application.configuration.GitLab, nil, application.logger)
}

func (application *Application) buildSink(dryRun bool) notify.Sink {
	if dryRun {
		return notify.NewNopSink()
	}
	return notify.NewDiscordSink(application.configuration.Discord, nil, application.logger)
}

func (application *Application) runRootCommand(command *cobra.Command, arguments []string) error {
	if application.logger == nil {
		return errors.New(loggerNotInitializedMessageConstant)
	}

	application.logger.Info(
		rootCommandInfoMessageConstant,
		zap.String(logFieldCommandNameConstant, command.Name()),
		zap.Int(logFieldArgumentCountConstant, len(arguments)),
	)

	if len(arguments) == 0 {
		return command.Help()
	}

	return nil
}

func (application *Application) flushLogger() error {
	if application.logger == nil {
		return nil
	}

	syncError := application.logger.Sync()
	switch {
	case syncError == nil:
		return nil
	case errors.Is(syncError, syscall.ENOTSUP):
		return nil
	case errors.Is(syncError, syscall.EINVAL):
		return nil
	default:
		return syncError
	}
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}

	flagSetsToInspect := []*pflag.FlagSet{
		command.PersistentFlags(),
		command.InheritedFlags(),
	}
	if rootCommand := command.Root(); rootCommand != nil {
		flagSetsToInspect = append(flagSetsToInspect, rootCommand.PersistentFlags())
	}

	for _, flagSet := range flagSetsToInspect {
		if flagSet == nil {
			continue
		}
		if flagSet.Changed(flagName) {
			return true
		}
	}

	return false
}
