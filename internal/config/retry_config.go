// Package config defines retry configuration helpers.
package config

import "github.com/fairyhunter13/hh-recruiter-bot/internal/domain"

// GetRetryConfig builds the shared retry policy used by the job-board and
// LLM clients from env-configured values, overlaying domain.DefaultRetryConfig's
// classification lists.
func (c Config) GetRetryConfig() domain.RetryConfig {
	cfg := domain.DefaultRetryConfig()
	cfg.MaxRetries = c.RetryMaxRetries
	cfg.InitialDelay = c.RetryInitialDelay
	cfg.MaxDelay = c.RetryMaxDelay
	cfg.Multiplier = c.RetryMultiplier
	cfg.Jitter = c.RetryJitter
	return cfg
}
