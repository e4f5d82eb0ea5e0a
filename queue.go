package edgequeue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
)

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithConcurrency bounds the number of jobs the processor will run at once.
// The default is 1.
func WithConcurrency(n int) Option {
	return func(q *Queue) { q.concurrency = n }
}

// WithRetryConfig overrides the default backoff cap.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(q *Queue) { q.retryConfig = cfg }
}

// WithNetworkMonitor attaches an optional connectivity observer used to
// gate OnlineOnly jobs.
func WithNetworkMonitor(m NetworkMonitor) Option {
	return func(q *Queue) { q.monitor = m }
}

// WithErrorHandler overrides the default logging-only error handler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(q *Queue) { q.errorHandler = h }
}

// WithLogger overrides the default slog logger used throughout the queue.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithMeter attaches an OTel meter the queue reports job metrics to. Absent
// this option, the queue records no metrics.
func WithMeter(m metric.Meter) Option {
	return func(q *Queue) { q.meter = m }
}

// Queue is the producer-facing facade: it owns the registry,
// executor, and processor, and exposes Enqueue/Start/Stop/pause-resume as a
// single cohesive API.
type Queue struct {
	adapter      Adapter
	registry     *Registry
	events       *eventSink
	errorHandler ErrorHandler
	executor     *Executor
	processor    *Processor
	logger       *slog.Logger
	meter        metric.Meter

	concurrency int
	retryConfig RetryConfig
	monitor     NetworkMonitor

	// startMu serializes Start calls so a second caller observes the
	// processor already active (and skips ghost recovery) instead of
	// racing the first caller's in-flight Recover.
	startMu    sync.Mutex
	abortStart atomic.Bool
}

// New constructs a Queue backed by adapter. The queue is not started;
// call Start to begin claiming and processing jobs.
func New(adapter Adapter, opts ...Option) (*Queue, error) {
	q := &Queue{
		adapter:     adapter,
		registry:    NewRegistry(),
		concurrency: 1,
		retryConfig: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.errorHandler == nil {
		q.errorHandler = &DefaultErrorHandler{Logger: q.logger}
	}

	q.events = newEventSink(q.logger)

	metrics, err := newMeterSet(q.meter)
	if err != nil {
		return nil, err
	}

	q.executor = newExecutor(q.adapter, q.events, q.errorHandler, metrics, q.logger)
	q.processor = newProcessor(q.adapter, q.registry, q.executor, q.concurrency, q.retryConfig, q.monitor, q.logger)
	return q, nil
}

// Enqueue persists a new job and, unless opts.AutoStart is explicitly
// false, starts the queue if it is not running (see Start) and wakes the
// processor so the job is picked up without waiting for the next scheduled
// tick. A failed auto-start is logged, not returned.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts EnqueueOptions) (string, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return "", EnqueueError{Cause: err}
	}

	job, err := newJob(name, raw, opts)
	if err != nil {
		return "", EnqueueError{Cause: err}
	}

	if err := q.adapter.AddJob(ctx, job); err != nil {
		return "", EnqueueError{Cause: err}
	}

	autoStart := opts.AutoStart == nil || *opts.AutoStart
	if autoStart {
		if err := q.Start(ctx); err != nil {
			q.logger.WarnContext(ctx, "auto-start after enqueue failed",
				slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
		q.processor.tick(ctx)
	}

	return job.ID, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(v)
	}
}

// Start is idempotent: if the processor is already active it returns
// immediately without touching the adapter. Otherwise it recovers ghost
// jobs (if the adapter supports it) and begins the processor loop. If Stop
// is called while recovery is still in flight, Start aborts instead of
// starting the processor on top of a shutdown request.
func (q *Queue) Start(ctx context.Context) error {
	q.startMu.Lock()
	defer q.startMu.Unlock()

	if q.processor.IsActive() {
		return nil
	}

	q.abortStart.Store(false)
	if recoverer, ok := q.adapter.(Recoverer); ok {
		if err := recoverer.Recover(ctx); err != nil {
			return StorageError{Op: "recover", Cause: err}
		}
	}

	if q.abortStart.Load() {
		return nil
	}

	q.processor.Start(ctx)
	return nil
}

// Stop halts the processor loop. In-flight executions are allowed to finish.
// If called while a Start is still running ghost recovery, that Start
// aborts instead of starting the processor afterward.
func (q *Queue) Stop() {
	q.abortStart.Store(true)
	q.processor.Stop()
}

// AddWorker registers fn as the handler for jobs enqueued under name.
func (q *Queue) AddWorker(name string, fn WorkerFunc, opts WorkerOptions) {
	q.registry.AddWorker(name, fn, opts)
}

// RemoveWorker unregisters the handler for name.
func (q *Queue) RemoveWorker(name string) {
	q.registry.RemoveWorker(name)
}

// PauseJob stops name's jobs from being dispatched until ResumeJob is
// called.
func (q *Queue) PauseJob(name string) {
	q.processor.PauseJob(name)
}

// ResumeJob re-enables dispatch for name and, if the queue is running,
// triggers an immediate tick.
func (q *Queue) ResumeJob(ctx context.Context, name string) {
	q.processor.ResumeJob(ctx, name)
}

// On subscribes l to fire whenever name is emitted.
func (q *Queue) On(name EventName, l Listener) {
	q.events.on(name, l)
}

// GetJob fetches a single job by id, passing through to the adapter.
func (q *Queue) GetJob(ctx context.Context, id string) (Job, bool, error) {
	return q.adapter.GetJob(ctx, id)
}

// GetJobs enumerates every job currently held by the adapter.
func (q *Queue) GetJobs(ctx context.Context) ([]Job, error) {
	return q.adapter.GetJobs(ctx)
}
