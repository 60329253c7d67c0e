package transfer

import (
	"context"

	"github.com/italolelis/fetcher/internal/telemetry"
)

// Attempter runs a single transfer attempt.
type Attempter interface {
	Execute(ctx context.Context, req Request) (*State, error)
}

// InstrumentedExecutor wraps an Attempter with telemetry.
type InstrumentedExecutor struct {
	next      Attempter
	telemetry *telemetry.Telemetry
}

// NewInstrumentedExecutor creates a new instrumented executor.
func NewInstrumentedExecutor(next Attempter, tel *telemetry.Telemetry) *InstrumentedExecutor {
	return &InstrumentedExecutor{
		next:      next,
		telemetry: tel,
	}
}

// Execute runs one attempt inside a span and counts it.
func (e *InstrumentedExecutor) Execute(ctx context.Context, req Request) (*State, error) {
	var state *State

	err := e.telemetry.InstrumentAttempt(ctx, func(ctx context.Context) error {
		var err error

		state, err = e.next.Execute(ctx, req)

		return err
	})

	return state, err
}
