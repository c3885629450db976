package utils_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mrflowbot/mrflow/internal/utils"
)

func TestCreateLoggerSupportsConfiguredLevelsAndFormats(t *testing.T) {
	testCases := []struct {
		name      string
		logLevel  utils.LogLevel
		logFormat utils.LogFormat
	}{
		{name: "DebugStructured", logLevel: utils.LogLevelDebug, logFormat: utils.LogFormatStructured},
		{name: "InfoConsole", logLevel: utils.LogLevelInfo, logFormat: utils.LogFormatConsole},
		{name: "WarnStructured", logLevel: utils.LogLevelWarn, logFormat: utils.LogFormatStructured},
		{name: "ErrorConsole", logLevel: utils.LogLevelError, logFormat: utils.LogFormatConsole},
	}

	factory := utils.NewLoggerFactory()

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			logger, creationError := factory.CreateLogger(testCase.logLevel, testCase.logFormat)
			require.NoError(t, creationError)
			require.NotNil(t, logger)
		})
	}
}

func TestCreateLoggerNormalizesAndDefaultsSettings(t *testing.T) {
	testCases := []struct {
		name      string
		logLevel  utils.LogLevel
		logFormat utils.LogFormat
	}{
		{name: "EmptySettingsFallBack", logLevel: utils.LogLevel(""), logFormat: utils.LogFormat("")},
		{name: "MixedCaseLevel", logLevel: utils.LogLevel("Debug"), logFormat: utils.LogFormatStructured},
		{name: "PaddedConsoleFormat", logLevel: utils.LogLevelInfo, logFormat: utils.LogFormat(" Console ")},
	}

	factory := utils.NewLoggerFactory()

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			logger, creationError := factory.CreateLogger(testCase.logLevel, testCase.logFormat)
			require.NoError(t, creationError)
			require.NotNil(t, logger)
		})
	}
}

func TestCreateLoggerRejectsUnknownSettings(t *testing.T) {
	factory := utils.NewLoggerFactory()

	_, levelError := factory.CreateLogger(utils.LogLevel("verbose"), utils.LogFormatStructured)
	require.ErrorContains(t, levelError, "unsupported log level")

	_, formatError := factory.CreateLogger(utils.LogLevelInfo, utils.LogFormat("plain"))
	require.ErrorContains(t, formatError, "unsupported log format")
}
