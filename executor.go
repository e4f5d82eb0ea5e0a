package edgequeue

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"
)

// Executor runs a single job's lifecycle against a worker: persist active,
// invoke the worker under its timeout budget, persist the result, emit
// events, and route terminal failures to the dead-letter sink.
type Executor struct {
	adapter      Adapter
	events       *eventSink
	errorHandler ErrorHandler
	metrics      *meterSet
	logger       *slog.Logger
}

func newExecutor(adapter Adapter, events *eventSink, errorHandler ErrorHandler, metrics *meterSet, logger *slog.Logger) *Executor {
	if errorHandler == nil {
		errorHandler = &DefaultErrorHandler{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{adapter: adapter, events: events, errorHandler: errorHandler, metrics: metrics, logger: logger}
}

// Execute runs job against fn/opts and returns once the run is over (the
// processor decrements its running count when it returns). It has no
// return value: every observable effect happens through adapter writes,
// emitted events and the worker's lifecycle hooks.
func (e *Executor) Execute(ctx context.Context, job Job, fn WorkerFunc, opts WorkerOptions) {
	started := time.Now()

	job.Active = true
	job.Failed = nil
	if err := e.adapter.UpdateJob(ctx, job); err != nil {
		// The in-memory copy still reflects active=true for this run even if
		// the write failed; the job stays claimed either way.
		e.logger.WarnContext(ctx, "failed to persist active state before invoking worker",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}

	e.events.emit(EventStart, job, nil)
	if opts.OnStart != nil {
		opts.OnStart(job)
	}
	e.metrics.recordStart(ctx, job.Name)

	runErr := e.invoke(ctx, job, fn)

	if e.metrics != nil {
		e.metrics.recordDuration(ctx, job.Name, time.Since(started), runErr == nil)
	}

	if runErr == nil {
		e.succeed(ctx, job, opts)
		return
	}
	e.fail(ctx, job, WorkerError{Cause: runErr}, opts)
}

// invoke races fn against the job's timeout budget and recovers panics,
// converting both into this run's terminal error value.
func (e *Executor) invoke(ctx context.Context, job Job, fn WorkerFunc) (err error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- PanicError{Value: r, Stack: string(debug.Stack())}
			}
		}()
		done <- fn(runCtx, job.ID, job.Payload)
	}()

	select {
	case err = <-done:
		return err
	case <-runCtx.Done():
		if job.Timeout > 0 && runCtx.Err() == context.DeadlineExceeded {
			// The worker goroutine may still be running in the background;
			// the core is opaque to it from here.
			return TimeoutError{Budget: job.Timeout}
		}
		return runCtx.Err()
	}
}

func (e *Executor) succeed(ctx context.Context, job Job, opts WorkerOptions) {
	if err := e.adapter.RemoveJob(ctx, job.ID); err != nil {
		e.logger.ErrorContext(ctx, "failed to remove completed job",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
	e.events.emit(EventSuccess, job, nil)
	if opts.OnSuccess != nil {
		opts.OnSuccess(job)
	}
	if opts.OnComplete != nil {
		opts.OnComplete(job)
	}
}

func (e *Executor) fail(ctx context.Context, job Job, runErr error, opts WorkerOptions) {
	var panicVal any
	var stack string
	var p PanicError
	if errors.As(runErr, &p) {
		panicVal, stack = p.Value, p.Stack
	}

	forceTerminal := IsCancelled(runErr) || panicVal != nil
	if panicVal != nil {
		if result := e.errorHandler.HandlePanic(ctx, job, panicVal, stack); result != nil && result.ForceTerminal {
			forceTerminal = true
		}
	} else {
		if result := e.errorHandler.HandleError(ctx, job, runErr); result != nil && result.ForceTerminal {
			forceTerminal = true
		}
	}

	updated := job.applyFailure(time.Now().UTC(), runErr.Error())
	if forceTerminal {
		updated.Attempts = updated.MaxAttempts
	}

	if updated.Attempts >= updated.MaxAttempts {
		e.events.emit(EventFailed, updated, runErr)
		if opts.OnFailed != nil {
			opts.OnFailed(updated, runErr)
		}
		if opts.OnComplete != nil {
			opts.OnComplete(updated)
		}

		if mover, ok := e.adapter.(DeadLetterMover); ok {
			if err := mover.MoveToDLQ(ctx, updated); err != nil {
				e.logger.ErrorContext(ctx, "failed to move job to dead letter",
					slog.String("job_id", job.ID), slog.String("error", err.Error()))
			}
			return
		}
		if err := e.adapter.UpdateJob(ctx, updated); err != nil {
			e.logger.ErrorContext(ctx, "failed to persist terminal job state",
				slog.String("job_id", job.ID), slog.String("error", err.Error()))
		}
		return
	}

	e.events.emit(EventFailure, updated, runErr)
	if opts.OnFailure != nil {
		opts.OnFailure(updated, runErr)
	}
	if opts.OnComplete != nil {
		opts.OnComplete(updated)
	}
	if err := e.adapter.UpdateJob(ctx, updated); err != nil {
		e.logger.ErrorContext(ctx, "failed to persist retry state",
			slog.String("job_id", job.ID), slog.String("error", err.Error()))
	}
}
