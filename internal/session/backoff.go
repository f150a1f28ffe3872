package session

import (
	"time"

	"github.com/cenkalti/backoff"
)

// retryPolicy produces reconnect delays: exponential for the first
// maxRetries attempts, then a fixed cooldown until a connect succeeds.
type retryPolicy struct {
	exp        *backoff.ExponentialBackOff
	maxRetries int
	cooldown   time.Duration
	attempts   int
}

func newRetryPolicy(interval time.Duration, maxRetries int, cooldown time.Duration) *retryPolicy {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = interval
	exp.Multiplier = 2
	exp.MaxInterval = cooldown
	exp.MaxElapsedTime = 0
	exp.Reset()

	return &retryPolicy{
		exp:        exp,
		maxRetries: maxRetries,
		cooldown:   cooldown,
	}
}

// next returns the delay before the next attempt and counts it.
func (p *retryPolicy) next() time.Duration {
	p.attempts++
	if p.attempts > p.maxRetries {
		return p.cooldown
	}
	return p.exp.NextBackOff()
}

func (p *retryPolicy) reset() {
	p.attempts = 0
	p.exp.Reset()
}
