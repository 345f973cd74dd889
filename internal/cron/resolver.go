package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Resolver maps cron expressions to fire instants. It is stateless: every
// resolution starts from the instant the caller provides, so the resolver can
// be shared freely across schedules and goroutines.
type Resolver struct {
	parser cron.Parser
}

// NewResolver creates a resolver for standard 5-field cron expressions
// (minute, hour, day-of-month, month, day-of-week).
func NewResolver() *Resolver {
	return &Resolver{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse validates an expression and returns its schedule. It is the single
// point of cron syntax checking for both the API boundary and the tick loop.
func (r *Resolver) Parse(expr string) (cron.Schedule, error) {
	spec, err := r.parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return spec, nil
}

// FireTimes returns every fire instant of expr in the half-open window
// (after, until], in strictly increasing order. An empty window or an
// expression with no instants in the window yields a nil slice.
func (r *Resolver) FireTimes(expr string, after, until time.Time) ([]time.Time, error) {
	spec, err := r.Parse(expr)
	if err != nil {
		return nil, err
	}

	var instants []time.Time
	for t := spec.Next(after); !t.IsZero() && !t.After(until); t = spec.Next(t) {
		instants = append(instants, t)
	}
	return instants, nil
}
