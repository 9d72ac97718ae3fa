package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"AirQualityNews/internal/metrics"
	"AirQualityNews/internal/ports"
)

// Limited throttles calls to an Invoker with a token bucket and records call latency.
type Limited struct {
	next     ports.Invoker
	limiter  *rate.Limiter
	provider string
}

var _ ports.Invoker = (*Limited)(nil)

// NewLimited wraps next. A non-positive rps disables throttling.
func NewLimited(next ports.Invoker, provider string, rps float64, burst int) *Limited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst), provider: provider}
}

// Invoke waits for a token, then delegates.
func (l *Limited) Invoke(ctx context.Context, prompt ports.Prompt) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	out, err := l.next.Invoke(ctx, prompt)
	metrics.ObserveAICall(l.provider, err, time.Since(start))

	return out, err
}
