// Package executor defines the narrow capability the orchestrator drives
// steps through, without knowing whether an implementation is a subprocess,
// a network call, or in-process code.
package executor

import "context"

// Output is what a single Execute call produces.
type Output struct {
	Bytes  []byte
	Tokens int
	CostUSD float64
}

// Executor is the capability set {execute, health_check}. Implementations
// MAY block until ctx's deadline and MUST return an error if it elapses.
type Executor interface {
	// Execute runs action against input, respecting ctx's deadline.
	Execute(ctx context.Context, action string, input []byte) (Output, error)
	// HealthCheck reports whether the executor is currently usable. Called
	// by diagnostics only, never during a run.
	HealthCheck(ctx context.Context) error
}
