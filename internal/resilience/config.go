package resilience

import (
	"time"
)

// FromRetryConfig builds a RetryConfig from second-granularity config values.
// Zero values keep the defaults.
func FromRetryConfig(maxAttempts, initialBackoffSecs, maxBackoffSecs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffSecs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffSecs) * time.Second
	}
	if maxBackoffSecs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffSecs) * time.Second
	}
	return cfg
}

// FromCircuitConfig builds a CircuitBreakerConfig from config values.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
