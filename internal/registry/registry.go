package registry

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

const (
	unknownRepositoryMessageConstant          = "repository has no configured branch strategy"
	emptyFlowTemplateConstant                 = "strategy %q defines an empty branch flow"
	duplicateAdjacentBranchTemplateConstant   = "strategy %q repeats branch %q in adjacent flow positions"
	sourceBranchOutsideFlowTemplateConstant   = "strategy %q source branch %q does not appear in its flow"
	repositoryWithoutCategoryTemplateConstant = "repository %q is neither a configured library nor service"
	branchAbsentFromFlowMessageConstant       = "branch not present in repository flow"
	logFieldRepositoryConstant                = "repository"
	logFieldBranchConstant                    = "branch"
)

// ErrUnknownRepository indicates a lookup for a repository without a configured strategy.
var ErrUnknownRepository = errors.New(unknownRepositoryMessageConstant)

// Category classifies a repository for phase ordering.
type Category string

// Repository category enumerations; libraries promote before services.
const (
	CategoryLibrary Category = Category("library")
	CategoryService Category = Category("service")
)

// BranchFlow is the ordered branch sequence a repository's code travels
// through; index order defines the promotion direction.
type BranchFlow []string

// FinalBranch returns the last branch of the flow.
func (flow BranchFlow) FinalBranch() string {
	if len(flow) == 0 {
		return ""
	}
	return flow[len(flow)-1]
}

// Contains reports whether the flow includes the named branch.
func (flow BranchFlow) Contains(branch string) bool {
	for _, flowBranch := range flow {
		if flowBranch == branch {
			return true
		}
	}
	return false
}

// RepositoryProfile captures the immutable configuration of one repository.
type RepositoryProfile struct {
	Name         string
	Flow         BranchFlow
	Category     Category
	SourceBranch string
}

// DeploymentCheckpoint binds an environment to the branches triggering its
// deployments and records whether promotion must wait for it.
type DeploymentCheckpoint struct {
	Environment  string
	TriggeredBy  []string
	WaitRequired bool
}

// Registry resolves repository profiles and deployment checkpoints from
// static configuration; all lookups are pure.
type Registry struct {
	profiles    map[string]RepositoryProfile
	libraries   []string
	services    []string
	checkpoints []DeploymentCheckpoint
	logger      *zap.Logger
}

// NewRegistry validates the supplied settings and assembles a Registry.
func NewRegistry(settings Settings, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	sanitizedSettings := settings.Sanitize()

	flowsByRepository := map[string]BranchFlow{}
	sourceBranchesByRepository := map[string]string{}
	for strategyName, strategySettings := range sanitizedSettings.Strategies {
		if len(strategySettings.Flow) == 0 {
			return nil, fmt.Errorf(emptyFlowTemplateConstant, strategyName)
		}
		for flowIndex := 1; flowIndex < len(strategySettings.Flow); flowIndex++ {
			if strategySettings.Flow[flowIndex] == strategySettings.Flow[flowIndex-1] {
				return nil, fmt.Errorf(duplicateAdjacentBranchTemplateConstant, strategyName, strategySettings.Flow[flowIndex])
			}
		}

		sourceBranch := strategySettings.SourceBranch
		if len(sourceBranch) == 0 {
			sourceBranch = strategySettings.Flow[0]
		}
		if !BranchFlow(strategySettings.Flow).Contains(sourceBranch) {
			return nil, fmt.Errorf(sourceBranchOutsideFlowTemplateConstant, strategyName, sourceBranch)
		}

		for _, repositoryName := range strategySettings.Repositories {
			flowsByRepository[repositoryName] = BranchFlow(strategySettings.Flow)
			sourceBranchesByRepository[repositoryName] = sourceBranch
		}
	}

	profiles := map[string]RepositoryProfile{}
	registerProfiles := func(repositoryNames []string, category Category) error {
		for _, repositoryName := range repositoryNames {
			repositoryFlow, flowConfigured := flowsByRepository[repositoryName]
			if !flowConfigured {
				return fmt.Errorf("%w: %s", ErrUnknownRepository, repositoryName)
			}
			profiles[repositoryName] = RepositoryProfile{
				Name:         repositoryName,
				Flow:         repositoryFlow,
				Category:     category,
				SourceBranch: sourceBranchesByRepository[repositoryName],
			}
		}
		return nil
	}
	if registrationError := registerProfiles(sanitizedSettings.Repositories.Libraries, CategoryLibrary); registrationError != nil {
		return nil, registrationError
	}
	if registrationError := registerProfiles(sanitizedSettings.Repositories.Services, CategoryService); registrationError != nil {
		return nil, registrationError
	}

	for repositoryName := range flowsByRepository {
		if _, categorized := profiles[repositoryName]; !categorized {
			return nil, fmt.Errorf(repositoryWithoutCategoryTemplateConstant, repositoryName)
		}
	}

	checkpoints := make([]DeploymentCheckpoint, 0, len(sanitizedSettings.Environments))
	for environmentName, environmentSettings := range sanitizedSettings.Environments {
		checkpoints = append(checkpoints, DeploymentCheckpoint{
			Environment:  environmentName,
			TriggeredBy:  environmentSettings.TriggeredBy,
			WaitRequired: environmentSettings.WaitForDeployment,
		})
	}
	sort.Slice(checkpoints, func(firstIndex int, secondIndex int) bool {
		return checkpoints[firstIndex].Environment < checkpoints[secondIndex].Environment
	})

	return &Registry{
		profiles:    profiles,
		libraries:   append([]string{}, sanitizedSettings.Repositories.Libraries...),
		services:    append([]string{}, sanitizedSettings.Repositories.Services...),
		checkpoints: checkpoints,
		logger:      logger,
	}, nil
}

// ProfileFor returns the repository profile or ErrUnknownRepository.
func (repositoryRegistry *Registry) ProfileFor(repositoryName string) (RepositoryProfile, error) {
	profile, profileExists := repositoryRegistry.profiles[repositoryName]
	if !profileExists {
		return RepositoryProfile{}, fmt.Errorf("%w: %s", ErrUnknownRepository, repositoryName)
	}
	return profile, nil
}

// FlowFor returns the branch flow configured for the repository.
func (repositoryRegistry *Registry) FlowFor(repositoryName string) (BranchFlow, error) {
	profile, profileError := repositoryRegistry.ProfileFor(repositoryName)
	if profileError != nil {
		return nil, profileError
	}
	return profile.Flow, nil
}

// CategoryOf reports whether the repository is a library or a service.
func (repositoryRegistry *Registry) CategoryOf(repositoryName string) (Category, error) {
	profile, profileError := repositoryRegistry.ProfileFor(repositoryName)
	if profileError != nil {
		return Category(""), profileError
	}
	return profile.Category, nil
}

// SourceBranchFor returns the configured initial source branch for the repository.
func (repositoryRegistry *Registry) SourceBranchFor(repositoryName string) (string, error) {
	profile, profileError := repositoryRegistry.ProfileFor(repositoryName)
	if profileError != nil {
		return "", profileError
	}
	return profile.SourceBranch, nil
}

// NextBranch returns the flow entry immediately after currentBranch. A missing
// repository or a branch outside the flow is reported through a diagnostic log
// entry rather than an error.
func (repositoryRegistry *Registry) NextBranch(repositoryName string, currentBranch string) (string, bool) {
	profile, profileError := repositoryRegistry.ProfileFor(repositoryName)
	if profileError != nil {
		repositoryRegistry.logger.Debug(
			unknownRepositoryMessageConstant,
			zap.String(logFieldRepositoryConstant, repositoryName),
		)
		return "", false
	}

	for flowIndex, flowBranch := range profile.Flow {
		if flowBranch != currentBranch {
			continue
		}
		if flowIndex == len(profile.Flow)-1 {
			return "", false
		}
		return profile.Flow[flowIndex+1], true
	}

	repositoryRegistry.logger.Debug(
		branchAbsentFromFlowMessageConstant,
		zap.String(logFieldRepositoryConstant, repositoryName),
		zap.String(logFieldBranchConstant, currentBranch),
	)
	return "", false
}

// Partition splits the supplied repository names into libraries and services,
// preserving the registry's configured ordering for reproducible phase runs.
func (repositoryRegistry *Registry) Partition(repositoryNames []string) ([]string, []string) {
	requested := make(map[string]struct{}, len(repositoryNames))
	for _, repositoryName := range repositoryNames {
		requested[repositoryName] = struct{}{}
	}

	orderedLibraries := make([]string, 0, len(repositoryRegistry.libraries))
	for _, libraryName := range repositoryRegistry.libraries {
		if _, selected := requested[libraryName]; selected {
			orderedLibraries = append(orderedLibraries, libraryName)
		}
	}

	orderedServices := make([]string, 0, len(repositoryRegistry.services))
	for _, serviceName := range repositoryRegistry.services {
		if _, selected := requested[serviceName]; selected {
			orderedServices = append(orderedServices, serviceName)
		}
	}

	return orderedLibraries, orderedServices
}

// AllRepositories returns every configured repository, libraries first, in
// registry order.
func (repositoryRegistry *Registry) AllRepositories() []string {
	combined := make([]string, 0, len(repositoryRegistry.libraries)+len(repositoryRegistry.services))
	combined = append(combined, repositoryRegistry.libraries...)
	combined = append(combined, repositoryRegistry.services...)
	return combined
}

// CheckpointForBranch returns the deployment checkpoint triggered by merges
// into the named branch, when one is configured.
func (repositoryRegistry *Registry) CheckpointForBranch(branchName string) (DeploymentCheckpoint, bool) {
	for _, checkpoint := range repositoryRegistry.checkpoints {
		for _, triggeringBranch := range checkpoint.TriggeredBy {
			if triggeringBranch == branchName {
				return checkpoint, true
			}
		}
	}
	return DeploymentCheckpoint{}, false
}
