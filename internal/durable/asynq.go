package durable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/casthq/shophand/internal/config"
	"github.com/casthq/shophand/internal/core"
	"github.com/casthq/shophand/internal/metrics"
	"github.com/casthq/shophand/internal/storage"
)

// taskTypeRun is the queue task type every run travels under.
const taskTypeRun = "shophand:run"

// RunExecutor drives a run to a terminal state. lastAttempt tells the
// executor whether the host has exhausted its retries for this delivery.
type RunExecutor interface {
	Execute(ctx context.Context, run *core.Run, steps core.StepRunner, lastAttempt bool) error
}

// Launcher enqueues runs on the hosting engine. Creation is idempotent on
// run id: a duplicate enqueue is treated as success, so a caller retrying a
// delivery cannot double-run a job.
type Launcher struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewLauncher builds a Launcher and its queue client. The returned cleanup
// closes the client connection.
func NewLauncher(redisOpt asynq.RedisClientOpt, cfg config.DispatchConfig, logger *slog.Logger) (*Launcher, func()) {
	client := asynq.NewClient(redisOpt)
	l := &Launcher{
		client:   client,
		queue:    cfg.Queue,
		maxRetry: cfg.MaxRetry,
		timeout:  cfg.Timeout,
		logger:   logger,
	}
	return l, func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close queue client", "error", err)
		}
	}
}

// CreateRun validates and enqueues exactly one task per run id.
func (l *Launcher) CreateRun(ctx context.Context, run *core.Run) error {
	if err := run.Validate(); err != nil {
		return err
	}

	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", run.ID, err)
	}

	task := asynq.NewTask(taskTypeRun, payload)
	_, err = l.client.EnqueueContext(ctx, task,
		asynq.TaskID(run.ID),
		asynq.Queue(l.queue),
		asynq.MaxRetry(l.maxRetry),
		asynq.Timeout(l.timeout),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			l.logger.Info("run already enqueued", "run_id", run.ID)
			return nil
		}
		return fmt.Errorf("failed to enqueue run %s: %w", run.ID, err)
	}

	l.logger.Info("run enqueued",
		"run_id", run.ID,
		"job", run.Params.JobID,
		"shop", run.Params.ShopDomain,
		"queue", l.queue,
	)
	return nil
}

var _ core.Launcher = (*Launcher)(nil)

// Worker consumes the run queue: it rebuilds each run from its task
// payload, attaches the journaled step runner, and hands it to the
// executor. Run start and outcome are journaled best-effort; journaling
// problems never fail a run.
type Worker struct {
	server   *asynq.Server
	mux      *asynq.ServeMux
	executor RunExecutor
	journal  *StepJournal
	store    storage.Store
	logger   *slog.Logger
}

// NewWorker builds a Worker bound to the configured queue.
func NewWorker(redisOpt asynq.RedisClientOpt, cfg config.DispatchConfig, executor RunExecutor, journal *StepJournal, store storage.Store, logger *slog.Logger) *Worker {
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
	})

	w := &Worker{
		server:   server,
		mux:      asynq.NewServeMux(),
		executor: executor,
		journal:  journal,
		store:    store,
		logger:   logger,
	}
	w.mux.HandleFunc(taskTypeRun, w.handleRun)
	return w
}

// Start begins consuming in the background. It returns once the server's
// worker pool is up.
func (w *Worker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start run worker: %w", err)
	}
	w.logger.Info("run worker started")
	return nil
}

// Shutdown drains in-flight runs and stops the worker pool.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
	w.logger.Info("run worker stopped")
}

func (w *Worker) handleRun(ctx context.Context, task *asynq.Task) error {
	var run core.Run
	if err := json.Unmarshal(task.Payload(), &run); err != nil {
		// Redelivery cannot repair a corrupt payload.
		return fmt.Errorf("failed to decode run payload: %v: %w", err, asynq.SkipRetry)
	}

	w.journalStart(ctx, &run)

	lastAttempt := attemptIsFinal(ctx)
	err := w.executor.Execute(ctx, &run, w.journal.ForRun(run.ID), lastAttempt)
	if err == nil {
		w.journalFinish(ctx, run.ID, core.RunCompleted, nil)
		metrics.RunsTotal.WithLabelValues(string(core.RunCompleted)).Inc()
		return nil
	}
	if lastAttempt {
		w.journalFinish(ctx, run.ID, core.RunFailed, err)
		metrics.RunsTotal.WithLabelValues(string(core.RunFailed)).Inc()
	}
	return err
}

func (w *Worker) journalStart(ctx context.Context, run *core.Run) {
	rec := &core.RunRecord{
		ID:         run.ID,
		ShopDomain: run.Params.ShopDomain,
		JobID:      run.Params.JobID,
		Topic:      run.Params.Topic,
		State:      string(core.RunCreated),
	}
	if err := w.store.StartRun(ctx, rec); err != nil {
		w.logger.Warn("failed to journal run start", "run_id", run.ID, "error", err)
	}
}

func (w *Worker) journalFinish(ctx context.Context, id string, state core.RunState, runErr error) {
	if err := w.store.FinishRun(ctx, id, state, runErr); err != nil {
		w.logger.Warn("failed to journal run finish", "run_id", id, "error", err)
	}
}

// attemptIsFinal reports whether the host will not redeliver this task
// again. Outside a queue delivery (no retry metadata on the context) every
// attempt is the only attempt.
func attemptIsFinal(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}
