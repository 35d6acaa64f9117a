// Package durable adapts run execution to the hosting engine. The Launcher
// enqueues runs, the Worker consumes them, and two StepRunner
// implementations cover the execution modes: Passthrough for synchronous
// one-shot invocations and StepJournal for queued runs that must survive
// redelivery.
package durable

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/casthq/shophand/internal/core"
)

// Passthrough runs step bodies inline with no durability. Synchronous
// web requests use it: they live and die inside one HTTP exchange, so
// memoizing their steps would only leak state.
type Passthrough struct{}

// RunStep executes fn immediately and serializes its result.
func (Passthrough) RunStep(ctx context.Context, name string, fn core.StepFunc) (json.RawMessage, error) {
	result, err := fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}
	return marshalStepResult(name, result)
}

// marshalStepResult normalizes a step's return value to JSON bytes. Raw
// JSON passes through untouched so payload bytes survive byte-for-byte.
func marshalStepResult(name string, result any) (json.RawMessage, error) {
	if raw, ok := result.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("step %s produced an unserializable result: %w", name, err)
	}
	return raw, nil
}

var _ core.StepRunner = Passthrough{}
