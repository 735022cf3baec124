// Package domain defines retry policy entities shared by the job-board and
// LLM HTTP clients.
package domain

import (
	"math/rand"
	"strings"
	"time"
)

// RetryConfig defines an explicit { attempts, backoff, retry predicate }
// policy: retries are modeled as data, never as exception-driven control flow.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int
	// InitialDelay is the initial delay before first retry.
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
	// Jitter adds randomness to prevent thundering herd.
	Jitter bool
	// RetryableErrors are substrings of an error's message that mark it retryable.
	RetryableErrors []string
	// NonRetryableErrors are substrings that mark an error as terminal.
	NonRetryableErrors []string
}

// DefaultRetryConfig returns the default retry policy used by both the
// job-board client and the LLM client unless overridden by env config.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []string{
			"context deadline exceeded",
			"connection refused",
			"timeout",
			"temporary failure",
			"rate limited",
			"upstream timeout",
			"upstream rate limit",
		},
		NonRetryableErrors: []string{
			"invalid argument",
			"not found",
			"conflict",
			"schema invalid",
			"auth revoked",
			"resource gone",
		},
	}
}

// IsRetryable classifies err against the configured substrings. Unknown
// errors default to retryable, matching the job-board/LLM clients'
// transient-network-failure policy.
func (c RetryConfig) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range c.NonRetryableErrors {
		if strings.Contains(msg, s) {
			return false
		}
	}
	for _, s := range c.RetryableErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return true
}

// DelayForAttempt returns the exponential backoff delay for the given
// zero-based attempt index, capped at MaxDelay, plus up to 10% random
// jitter when Jitter is set.
func (c RetryConfig) DelayForAttempt(attempt int) time.Duration {
	delay := time.Duration(float64(c.InitialDelay) * pow(c.Multiplier, float64(attempt)))
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	if c.Jitter {
		delay += time.Duration(rand.Float64() * float64(delay) * 0.1)
	}
	return delay
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
