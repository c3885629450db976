package registry

import "strings"

// RepositorySettings lists configured repositories grouped by category.
type RepositorySettings struct {
	Libraries []string `mapstructure:"libraries"`
	Services  []string `mapstructure:"services"`
}

// StrategySettings binds a named branch flow to the repositories using it.
type StrategySettings struct {
	Repositories []string `mapstructure:"repos"`
	Flow         []string `mapstructure:"flow"`
	SourceBranch string   `mapstructure:"source_branch"`
}

// EnvironmentSettings describes a deployment environment checkpoint.
type EnvironmentSettings struct {
	TriggeredBy       []string `mapstructure:"triggered_by"`
	WaitForDeployment bool     `mapstructure:"wait_for_deployment"`
}

// Settings aggregates all configuration consumed by the registry.
type Settings struct {
	Repositories RepositorySettings             `mapstructure:"repositories"`
	Strategies   map[string]StrategySettings    `mapstructure:"branch_strategies"`
	Environments map[string]EnvironmentSettings `mapstructure:"environments"`
}

// Sanitize trims whitespace from every configured name and drops empty entries.
func (settings Settings) Sanitize() Settings {
	sanitized := settings
	sanitized.Repositories.Libraries = sanitizeNames(settings.Repositories.Libraries)
	sanitized.Repositories.Services = sanitizeNames(settings.Repositories.Services)

	if settings.Strategies != nil {
		sanitized.Strategies = make(map[string]StrategySettings, len(settings.Strategies))
		for strategyName, strategySettings := range settings.Strategies {
			sanitized.Strategies[strings.TrimSpace(strategyName)] = StrategySettings{
				Repositories: sanitizeNames(strategySettings.Repositories),
				Flow:         sanitizeNames(strategySettings.Flow),
				SourceBranch: strings.TrimSpace(strategySettings.SourceBranch),
			}
		}
	}

	if settings.Environments != nil {
		sanitized.Environments = make(map[string]EnvironmentSettings, len(settings.Environments))
		for environmentName, environmentSettings := range settings.Environments {
			sanitized.Environments[strings.TrimSpace(environmentName)] = EnvironmentSettings{
				TriggeredBy:       sanitizeNames(environmentSettings.TriggeredBy),
				WaitForDeployment: environmentSettings.WaitForDeployment,
			}
		}
	}

	return sanitized
}

func sanitizeNames(raw []string) []string {
	sanitized := make([]string, 0, len(raw))
	for _, candidate := range raw {
		trimmed := strings.TrimSpace(candidate)
		if len(trimmed) == 0 {
			continue
		}
		sanitized = append(sanitized, trimmed)
	}
	return sanitized
}
