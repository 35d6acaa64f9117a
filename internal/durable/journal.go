package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/casthq/shophand/internal/core"
)

const stepKeyPrefix = "shophand:steps:"

// stepKV is the journal's storage surface, narrowed so the memoization
// logic can be exercised without a live Redis.
type stepKV interface {
	get(ctx context.Context, key string) ([]byte, bool, error)
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type redisKV struct {
	client *redis.Client
}

func (r redisKV) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r redisKV) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// StepJournal memoizes completed step results keyed by run and step name,
// so a redelivered run resumes after its last finished step instead of
// repeating work. Only successes are recorded; a failed step runs again on
// the next attempt. Entries expire on their own once the TTL passes, which
// must outlive the host's retry horizon.
type StepJournal struct {
	kv  stepKV
	ttl time.Duration
}

// NewStepJournal builds a journal over the given Redis client.
func NewStepJournal(client *redis.Client, ttl time.Duration) *StepJournal {
	return &StepJournal{kv: redisKV{client: client}, ttl: ttl}
}

// ForRun returns the StepRunner scoped to one run id.
func (j *StepJournal) ForRun(runID string) core.StepRunner {
	return &journaledRunner{journal: j, runID: runID}
}

type journaledRunner struct {
	journal *StepJournal
	runID   string
}

// RunStep returns the memoized result when this run already finished the
// step, and otherwise executes fn and records its result before returning.
func (r *journaledRunner) RunStep(ctx context.Context, name string, fn core.StepFunc) (json.RawMessage, error) {
	key := stepKeyPrefix + r.runID + ":" + name

	cached, ok, err := r.journal.kv.get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("step %s: failed to read journal: %w", name, err)
	}
	if ok {
		return json.RawMessage(cached), nil
	}

	result, err := fn(ctx)
	if err != nil {
		return nil, fmt.Errorf("step %s: %w", name, err)
	}
	raw, err := marshalStepResult(name, result)
	if err != nil {
		return nil, err
	}

	if err := r.journal.kv.set(ctx, key, raw, r.journal.ttl); err != nil {
		return nil, fmt.Errorf("step %s: failed to journal result: %w", name, err)
	}
	return raw, nil
}
