package utils_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrflowbot/mrflow/internal/utils"
)

type loaderTargetConfiguration struct {
	Remote struct {
		BaseURL string `mapstructure:"base_url"`
		Token   string `mapstructure:"token"`
	} `mapstructure:"remote"`
	Automation struct {
		AutoMerge bool `mapstructure:"auto_merge"`
	} `mapstructure:"automation"`
}

func TestLoadConfigurationReadsFileAndDefaults(t *testing.T) {
	temporaryDirectory := t.TempDir()
	configurationPath := filepath.Join(temporaryDirectory, "config.yaml")
	configurationContent := "remote:\n  base_url: https://gitlab.example.com\n"
	require.NoError(t, os.WriteFile(configurationPath, []byte(configurationContent), 0o600))

	loader := utils.NewConfigurationLoader("config", "yaml", "MRFLOW", []string{temporaryDirectory})

	var target loaderTargetConfiguration
	metadata, loadError := loader.LoadConfiguration(configurationPath, map[string]any{"automation.auto_merge": true}, &target)
	require.NoError(t, loadError)
	require.Equal(t, configurationPath, metadata.ConfigFileUsed)
	require.Equal(t, "https://gitlab.example.com", target.Remote.BaseURL)
	require.True(t, target.Automation.AutoMerge)
}

func TestLoadConfigurationAppliesEnvironmentOverride(t *testing.T) {
	t.Setenv("MRFLOW_REMOTE_TOKEN", "secret-token")

	loader := utils.NewConfigurationLoader("config", "yaml", "MRFLOW", []string{t.TempDir()})

	var target loaderTargetConfiguration
	_, loadError := loader.LoadConfiguration("", map[string]any{"remote.token": ""}, &target)
	require.NoError(t, loadError)
	require.Equal(t, "secret-token", target.Remote.Token)
}

func TestLoadConfigurationIgnoresMissingFile(t *testing.T) {
	loader := utils.NewConfigurationLoader("config", "yaml", "MRFLOW", []string{t.TempDir()})

	var target loaderTargetConfiguration
	_, loadError := loader.LoadConfiguration("", map[string]any{"remote.base_url": "https://fallback.example.com"}, &target)
	require.NoError(t, loadError)
	require.Equal(t, "https://fallback.example.com", target.Remote.BaseURL)
}

func TestLoadConfigurationSurfacesUnreadableFile(t *testing.T) {
	temporaryDirectory := t.TempDir()
	configurationPath := filepath.Join(temporaryDirectory, "config.yaml")
	require.NoError(t, os.WriteFile(configurationPath, []byte("remote: [unterminated"), 0o600))

	loader := utils.NewConfigurationLoader("config", "yaml", "MRFLOW", []string{temporaryDirectory})

	var target loaderTargetConfiguration
	_, loadError := loader.LoadConfiguration(configurationPath, nil, &target)
	require.Error(t, loadError)
	require.Contains(t, loadError.Error(), "failed to read configuration")
}
