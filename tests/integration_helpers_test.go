package tests

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	binaryNameConstant          = "mrflow-integration"
	modulePathConstant          = ".."
	binaryBuildTimeoutConstant  = 2 * time.Minute
	commandRunTimeoutConstant   = 30 * time.Second
	configurationFileName       = "config.yaml"
	configurationFlagTemplate   = "--config=%s"
)

var (
	binaryBuildOnce  sync.Once
	binaryPathValue  string
	binaryBuildError error
)

// builtBinaryPath compiles the CLI once per test run and returns its location.
func builtBinaryPath(testInstance *testing.T) string {
	testInstance.Helper()

	binaryBuildOnce.Do(func() {
		buildDirectory, temporaryDirectoryError := os.MkdirTemp("", binaryNameConstant)
		if temporaryDirectoryError != nil {
			binaryBuildError = temporaryDirectoryError
			return
		}

		binaryPathValue = filepath.Join(buildDirectory, binaryNameConstant)
		buildContext, cancelBuild := context.WithTimeout(context.Background(), binaryBuildTimeoutConstant)
		defer cancelBuild()

		buildCommand := exec.CommandContext(buildContext, "go", "build", "-o", binaryPathValue, ".")
		buildCommand.Dir = modulePathConstant
		buildOutput, buildRunError := buildCommand.CombinedOutput()
		if buildRunError != nil {
			binaryBuildError = buildRunError
			binaryPathValue = string(buildOutput)
		}
	})

	require.NoError(testInstance, binaryBuildError, binaryPathValue)
	return binaryPathValue
}

// runBinary executes the built CLI with the provided arguments and environment
// additions, returning combined output and the execution error.
func runBinary(testInstance *testing.T, arguments []string, environmentAdditions []string) (string, error) {
	testInstance.Helper()

	runContext, cancelRun := context.WithTimeout(context.Background(), commandRunTimeoutConstant)
	defer cancelRun()

	command := exec.CommandContext(runContext, builtBinaryPath(testInstance), arguments...)
	command.Env = append(os.Environ(), environmentAdditions...)

	outputBuffer := &bytes.Buffer{}
	command.Stdout = outputBuffer
	command.Stderr = outputBuffer
	runError := command.Run()
	return outputBuffer.String(), runError
}

// writeConfiguration stores configuration content in a temporary directory and
// returns the file path.
func writeConfiguration(testInstance *testing.T, content string) string {
	testInstance.Helper()

	configurationPath := filepath.Join(testInstance.TempDir(), configurationFileName)
	require.NoError(testInstance, os.WriteFile(configurationPath, []byte(content), 0o600))
	return configurationPath
}
