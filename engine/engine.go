// Package engine executes stored flows against the external flow engine
// and normalizes its replies into a single result shape.
package engine

import (
	"context"
	"encoding/json"
	"time"
)

// ExecutionResult is the normalized outcome of a flow run. Both logical
// failures reported by the engine and transport faults reaching it are
// expressed here rather than as Go errors, so callers can produce a
// uniform response envelope.
type ExecutionResult struct {
	// Success reports whether the engine completed the flow
	Success bool `json:"success"`

	// Outputs holds the engine's result document when Success is true
	Outputs json.RawMessage `json:"outputs,omitempty"`

	// Error carries the failure description when Success is false
	Error string `json:"error,omitempty"`

	// SessionID correlates the run; generated when the engine omits one
	SessionID string `json:"session_id"`

	// ExecutionTime is the wall-clock duration of the run in seconds
	ExecutionTime float64 `json:"execution_time"`
}

// Engine executes a flow body with the given inputs
type Engine interface {
	Execute(ctx context.Context, flowBody json.RawMessage, inputs map[string]any) (*ExecutionResult, error)
}

// elapsed converts a duration to the seconds float used in results
func elapsed(start time.Time) float64 {
	return time.Since(start).Seconds()
}
