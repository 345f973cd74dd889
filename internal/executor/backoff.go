package executor

import (
	"time"

	"github.com/t77yq/agent-scheduler/internal/model"
)

// backoffDelay returns the wait before the attempt following a failed one.
// attempt is 1-indexed and names the attempt that just failed:
// delay = min(initialDelay * multiplier^(attempt-1), maxDelay).
func backoffDelay(policy model.RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelayMs)
	for i := 1; i < attempt; i++ {
		delay *= policy.BackoffMultiplier
	}

	if max := float64(policy.MaxDelayMs); delay > max {
		delay = max
	}
	return time.Duration(delay) * time.Millisecond
}
