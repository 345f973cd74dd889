package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/t77yq/agent-scheduler/internal/model"
)

var (
	// ErrAlreadyStopped is returned when Start is called on a stopped
	// scheduler; a stopped instance cannot be restarted.
	ErrAlreadyStopped = errors.New("scheduler already stopped")
)

// Dispatcher receives claimed executions. Implementations drive the attempt
// loop to a terminal state and never report errors back to the scheduler.
type Dispatcher interface {
	Execute(ctx context.Context, schedule *model.Schedule, execution *model.Execution)
}

// Config holds the scheduler's timing knobs.
type Config struct {
	// TickInterval is the polling period of the scheduling loop.
	TickInterval time.Duration

	// LockTTL is how long a claimed (schedule, fire instant) key is fenced.
	// It must exceed TickInterval by a healthy margin so a slow claim cannot
	// be stolen mid-dispatch.
	LockTTL time.Duration
}

// DefaultConfig mirrors the production defaults: 1s ticks, 30s lock fence.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		LockTTL:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}
