package resilience

import (
	"time"
)

// RetryPolicy builds a RetryConfig from the llm knobs. maxRetries counts
// retries, not attempts; zero keeps the default.
func RetryPolicy(maxRetries int, baseBackoff, maxBackoff time.Duration) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxRetries > 0 {
		cfg.MaxAttempts = maxRetries + 1
	}
	if baseBackoff > 0 {
		cfg.InitialBackoff = baseBackoff
	}
	if maxBackoff > 0 {
		cfg.MaxBackoff = maxBackoff
	}
	return cfg
}

// BreakerPolicy builds a CircuitBreakerConfig that trips on transient
// failures only.
func BreakerPolicy(failureThreshold int, resetTimeout time.Duration) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if resetTimeout > 0 {
		cfg.ResetTimeout = resetTimeout
	}
	cfg.ShouldTrip = IsTransient
	return cfg
}
