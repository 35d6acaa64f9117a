// Package dispatch drives one durable run through its phase sequence:
// retrieve the payload, reload job configuration, rebuild the API client,
// invoke the handler, clean up. Payload retrieval, config loading, and
// cleanup execute as named steps through the injected StepRunner so a
// redelivered run skips what already finished; the client is rebuilt on
// every attempt because it is not serializable.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"

	"github.com/casthq/shophand/internal/core"
	"github.com/casthq/shophand/internal/notify"
)

// RunnerConfig carries the runner's collaborators.
type RunnerConfig struct {
	Registry core.Registry
	Blobs    core.BlobStore
	Clients  core.ClientFactory
	Notifier core.Notifier

	// Env is handed to handlers as their secret/environment map.
	Env map[string]string

	// APIVersion is the deployment default for jobs that pin none.
	APIVersion string

	Logger *slog.Logger
}

// Runner executes runs. It holds no per-run state; many runs may execute
// concurrently, each owning its own payload and client.
type Runner struct {
	registry   core.Registry
	blobs      core.BlobStore
	clients    core.ClientFactory
	notifier   core.Notifier
	env        map[string]string
	apiVersion string
	logger     *slog.Logger
}

// NewRunner builds a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		registry:   cfg.Registry,
		blobs:      cfg.Blobs,
		clients:    cfg.Clients,
		notifier:   cfg.Notifier,
		env:        cfg.Env,
		apiVersion: cfg.APIVersion,
		logger:     cfg.Logger,
	}
}

// Execute drives the run to a terminal state. lastAttempt tells the runner
// whether the hosting engine has exhausted its retries; the failure path
// (notification, cleanup) only runs then, so retried attempts neither spam
// notifications nor delete a payload a resume still needs. The original
// error is always re-raised so the host records the failure.
func (r *Runner) Execute(ctx context.Context, run *core.Run, steps core.StepRunner, lastAttempt bool) error {
	if err := run.Validate(); err != nil {
		return err
	}

	log := r.logger.With("run_id", run.ID, "job", run.Params.JobID, "shop", run.Params.ShopDomain)
	log.Info("run starting", "state", core.RunCreated, "topic", run.Params.Topic)

	log.Info("run phase", "state", core.RunRetrievingPayload)
	payload, err := r.retrievePayload(ctx, run, steps)
	if err != nil {
		return r.fail(ctx, run, &run.Params.Job, steps, err, lastAttempt, log)
	}

	log.Info("run phase", "state", core.RunLoadingConfig)
	job, err := r.loadJobConfig(ctx, run, payload, steps)
	if err != nil {
		return r.fail(ctx, run, &run.Params.Job, steps, err, lastAttempt, log)
	}

	// Not a durable step: the client cannot be serialized, so every
	// attempt rebuilds it.
	log.Info("run phase", "state", core.RunBuildingClient)
	api, err := r.clients(&run.Params.Shop, r.pinVersion(job))
	if err != nil {
		return r.fail(ctx, run, job, steps, err, lastAttempt, log)
	}

	log.Info("run phase", "state", core.RunInvoking)
	if err := r.invoke(ctx, run, job, api, payload, steps, log); err != nil {
		return r.fail(ctx, run, job, steps, err, lastAttempt, log)
	}

	log.Info("run phase", "state", core.RunCleaningUp)
	r.cleanup(ctx, run, steps, log)

	log.Info("run completed", "state", core.RunCompleted)
	return nil
}

// retrievePayload resolves the run's payload bytes: inline, or fetched from
// the blob store when the run carries a reference. Missing referenced
// content is fatal.
func (r *Runner) retrievePayload(ctx context.Context, run *core.Run, steps core.StepRunner) (json.RawMessage, error) {
	return steps.RunStep(ctx, "retrieve-payload", func(ctx context.Context) (any, error) {
		if run.Params.PayloadRef == nil {
			return run.Params.Payload, nil
		}

		data, err := r.blobs.Get(ctx, run.Params.PayloadRef.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to retrieve offloaded payload %s: %w", run.Params.PayloadRef.Key, err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("offloaded payload %s is not valid json", run.Params.PayloadRef.Key)
		}
		return json.RawMessage(data), nil
	})
}

// loadJobConfig reloads the definition fresh from the registry rather than
// trusting the run's snapshot, then shallow-merges payload-embedded
// overrides into the Test map of a clone.
func (r *Runner) loadJobConfig(ctx context.Context, run *core.Run, payload json.RawMessage, steps core.StepRunner) (*core.JobDefinition, error) {
	raw, err := steps.RunStep(ctx, "load-job-config", func(ctx context.Context) (any, error) {
		fresh, err := r.registry.Resolve(run.Params.JobID)
		if err != nil {
			return nil, err
		}

		job := fresh.Clone()
		if overrides := configOverrides(payload); len(overrides) > 0 {
			if job.Test == nil {
				job.Test = make(map[string]any, len(overrides))
			}
			maps.Copy(job.Test, overrides)
		}
		return job, nil
	})
	if err != nil {
		return nil, err
	}

	var job core.JobDefinition
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("failed to decode journaled job config: %w", err)
	}
	return &job, nil
}

// configOverrides extracts the caller-supplied override object from the
// payload. Payloads that are not objects, or carry no config key, yield
// nothing.
func configOverrides(payload json.RawMessage) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	var probe struct {
		Config map[string]any `json:"config"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil
	}
	return probe.Config
}

func (r *Runner) invoke(ctx context.Context, run *core.Run, job *core.JobDefinition, api core.CommerceAPI, payload json.RawMessage, steps core.StepRunner, log *slog.Logger) error {
	handler, err := r.registry.Handler(job.Identity)
	if err != nil {
		return err
	}

	jc := &core.JobContext{
		API:     api,
		Payload: payload,
		Shop:    &run.Params.Shop,
		Job:     job,
		Env:     r.env,
		Topic:   run.Params.Topic,
		Steps:   steps,
		Logger:  log,
	}

	// The result is only meaningful for synchronous jobs; runs discard it.
	if _, err := handler.Process(ctx, jc); err != nil {
		return fmt.Errorf("handler %s: %w", job.Identity, err)
	}
	return nil
}

// fail is the failure path: best-effort notification gated by the job flag
// and shop credentials, cleanup, and re-raising the original error. On
// non-final attempts it only re-raises, leaving payload and journal intact
// for the host's retry.
func (r *Runner) fail(ctx context.Context, run *core.Run, job *core.JobDefinition, steps core.StepRunner, runErr error, lastAttempt bool, log *slog.Logger) error {
	if !lastAttempt {
		log.Warn("run attempt failed, host will retry", "error", runErr)
		return runErr
	}

	if job != nil && job.NotifyOnFailure {
		if url := run.Params.Shop.SlackWebhookURL(); url != "" {
			log.Info("run phase", "state", core.RunNotifyingFailure)
			if nerr := r.notifier.Notify(ctx, notify.FailureMessage(run, runErr), url); nerr != nil {
				log.Warn("failure notification not delivered", "error", nerr)
			}
		} else {
			log.Debug("notify_on_failure set but shop has no notification webhook")
		}
	}

	log.Info("run phase", "state", core.RunCleaningUp)
	r.cleanup(ctx, run, steps, log)

	log.Error("run failed", "state", core.RunFailed, "error", runErr)
	return runErr
}

// cleanup deletes the offloaded payload blob, if any. Deletion failures are
// logged, never fatal: the blob store's TTL is the backstop.
func (r *Runner) cleanup(ctx context.Context, run *core.Run, steps core.StepRunner, log *slog.Logger) {
	_, err := steps.RunStep(ctx, "cleanup", func(ctx context.Context) (any, error) {
		if run.Params.PayloadRef == nil {
			return nil, nil
		}
		if derr := r.blobs.Delete(ctx, run.Params.PayloadRef.Key); derr != nil {
			log.Warn("failed to delete offloaded payload", "key", run.Params.PayloadRef.Key, "error", derr)
		}
		return nil, nil
	})
	if err != nil {
		log.Warn("cleanup step did not complete", "error", err)
	}
}

func (r *Runner) pinVersion(job *core.JobDefinition) string {
	if job != nil && job.APIVersion != "" {
		return job.APIVersion
	}
	return r.apiVersion
}
