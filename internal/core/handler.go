package core

import (
	"context"
	"encoding/json"
	"log/slog"
)

// CommerceAPI is the single-endpoint surface of the platform's admin API:
// one call accepting a query document plus variables, returning the data
// payload or an error. User-level validation failures reported inside the
// response body surface as errors, not data.
type CommerceAPI interface {
	Query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error)
}

// StepFunc is the body of one named step. The hosting execution engine may
// re-run a step after a transient failure, so bodies must be idempotent or
// rely on the host's at-most-one-visible-effect guarantees.
type StepFunc func(ctx context.Context) (any, error)

// StepRunner is the durable-execution capability threaded into handlers.
// Two implementations exist: a pass-through that invokes the body directly
// (synchronous web requests, CLI test runs) and a journaled adapter that
// memoizes completed results so a resumed run skips finished steps.
//
// Retry and backoff belong to the hosting engine, never to callers.
type StepRunner interface {
	RunStep(ctx context.Context, name string, fn StepFunc) (json.RawMessage, error)
}

// JobContext carries everything a handler may touch while processing one
// delivery. Synchronous execution paths thread a pass-through Steps with no
// durability.
type JobContext struct {
	API     CommerceAPI
	Payload json.RawMessage
	Shop    *ShopConfig
	Job     *JobDefinition
	Env     map[string]string
	Topic   string
	Steps   StepRunner
	Logger  *slog.Logger
}

// HandlerResult is what a synchronous job returns for translation into the
// HTTP response. Zero values fall back to 200 with a JSON content type.
type HandlerResult struct {
	StatusCode int
	Headers    map[string]string
	Body       any
}

// JobHandler is a job's single entry point.
type JobHandler interface {
	// Process executes the job against the delivery described by jc. For
	// asynchronous runs the returned result is ignored; returning an
	// error marks the run failed.
	Process(ctx context.Context, jc *JobContext) (*HandlerResult, error)
}

// JobHandlerFunc adapts a plain function to JobHandler.
type JobHandlerFunc func(ctx context.Context, jc *JobContext) (*HandlerResult, error)

// Process calls f.
func (f JobHandlerFunc) Process(ctx context.Context, jc *JobContext) (*HandlerResult, error) {
	return f(ctx, jc)
}
