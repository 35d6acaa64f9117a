package core

import (
	"context"
	"errors"
)

// ErrBlobNotFound is returned by BlobStore.Get when no content exists under
// the requested key.
var ErrBlobNotFound = errors.New("payload blob not found")

// ErrJobNotFound and ErrTriggerNotFound are returned by Registry lookups for
// unknown identities.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrTriggerNotFound = errors.New("trigger not found")
)

// BlobStore holds offloaded payloads too large to inline in run parameters.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the content stored under key, or ErrBlobNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	Delete(ctx context.Context, key string) error
}

// Launcher hands a freshly built run to the hosting execution engine. The
// engine owns retries, backoff, and crash recovery; callers only observe
// whether the run was accepted.
type Launcher interface {
	// CreateRun enqueues the run for asynchronous execution. Creation is
	// idempotent on run id: handing the engine a run id it has already
	// accepted is not an error and enqueues nothing new.
	CreateRun(ctx context.Context, run *Run) error
}

// Notifier delivers best-effort failure messages. Errors from it are logged
// and swallowed, never escalated into run failure.
type Notifier interface {
	Notify(ctx context.Context, message, webhookURL string) error
}

// ClientFactory builds a CommerceAPI for one shop at a pinned API version.
// Clients are cheap and are rebuilt for every synchronous request and every
// run resume; they hold no serializable state.
type ClientFactory func(shop *ShopConfig, apiVersion string) (CommerceAPI, error)

// SubscriptionFactory builds the subscription surface for one shop.
type SubscriptionFactory func(shop *ShopConfig) (SubscriptionAPI, error)

// Registry resolves job and trigger identities to their declared
// configuration and handler entry points. It is built once at process start
// and immutable afterwards.
type Registry interface {
	// Resolve returns the definition for a job identity, or an error
	// wrapping ErrJobNotFound.
	Resolve(identity string) (*JobDefinition, error)

	// ResolveTrigger returns the trigger declared under name, or an
	// error wrapping ErrTriggerNotFound.
	ResolveTrigger(name string) (*TriggerDefinition, error)

	// Handler returns the job's entry point.
	Handler(identity string) (JobHandler, error)

	// Jobs returns every known definition, locals overriding cores.
	Jobs() []*JobDefinition
}
