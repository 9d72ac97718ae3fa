package llm

import (
	"time"

	"AirQualityNews/internal/config"
	"AirQualityNews/internal/retry"
)

// RetryPolicy builds the shared retry policy for AI calls: rate limits wait step × attempt,
// other transient failures wait one second × attempt.
func RetryPolicy(cfg config.AIConfig) retry.Policy {
	step := cfg.RateLimitStep
	if step <= 0 {
		step = 5 * time.Second
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	rateLimited := retry.Linear(step)
	transient := retry.Linear(time.Second)

	return retry.Policy{
		MaxAttempts: attempts,
		Backoff: func(attempt int, err error) time.Duration {
			if IsRateLimited(err) {
				return rateLimited(attempt, err)
			}
			return transient(attempt, err)
		},
		Retryable: IsTransient,
	}
}
