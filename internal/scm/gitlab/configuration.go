package gitlab

import (
	"strings"
	"time"
)

const (
	defaultRetryAttemptsConstant  = 3
	defaultRetryBaseDelayConstant = 500 * time.Millisecond
	defaultRequestTimeoutConstant = 30 * time.Second
)

// Configuration captures connection settings for the GitLab REST API.
type Configuration struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryAttempts  int           `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// Sanitize trims string values and substitutes defaults for unset numeric settings.
func (configuration Configuration) Sanitize() Configuration {
	sanitized := configuration
	sanitized.BaseURL = strings.TrimRight(strings.TrimSpace(configuration.BaseURL), "/")
	sanitized.Token = strings.TrimSpace(configuration.Token)
	if sanitized.RequestTimeout <= 0 {
		sanitized.RequestTimeout = defaultRequestTimeoutConstant
	}
	if sanitized.RetryAttempts <= 0 {
		sanitized.RetryAttempts = defaultRetryAttemptsConstant
	}
	if sanitized.RetryBaseDelay <= 0 {
		sanitized.RetryBaseDelay = defaultRetryBaseDelayConstant
	}
	return sanitized
}
