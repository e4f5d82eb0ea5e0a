package edgequeue

import (
	"errors"
	"fmt"
	"time"
)

// EnqueueError wraps a storage failure observed while persisting a new job.
// It is returned synchronously from Queue.Enqueue.
type EnqueueError struct {
	Cause error
}

func (e EnqueueError) Error() string { return fmt.Sprintf("enqueue job: %v", e.Cause) }
func (e EnqueueError) Unwrap() error { return e.Cause }

// StorageError wraps a transient adapter failure returned to a caller;
// Queue.Start returns one when ghost recovery fails. Op names the adapter
// method that failed, for logging.
type StorageError struct {
	Op    string
	Cause error
}

func (e StorageError) Error() string { return fmt.Sprintf("adapter %s: %v", e.Op, e.Cause) }
func (e StorageError) Unwrap() error { return e.Cause }

// MissingWorkerError is recorded on a job when the registry has no worker
// for its name. It never propagates to a caller.
type MissingWorkerError struct {
	Name string
}

func (e MissingWorkerError) Error() string { return fmt.Sprintf("no worker registered for %q", e.Name) }

// TimeoutError is raised by the executor when a worker's time budget
// elapses before the invocation returns.
type TimeoutError struct {
	Budget time.Duration
}

func (e TimeoutError) Error() string { return fmt.Sprintf("worker exceeded timeout of %s", e.Budget) }

// WorkerError is the default wrapper the executor places around whatever a
// worker invocation produces — the error fn returned, a TimeoutError, or a
// recovered PanicError. Retryable reports whether the normal retry policy
// should apply: false when the cause is a panic or a Cancel-marked error,
// true otherwise.
type WorkerError struct {
	Cause error
}

func (e WorkerError) Error() string { return fmt.Sprintf("worker error: %v", e.Cause) }
func (e WorkerError) Unwrap() error { return e.Cause }

// Retryable reports whether this failure should count against the job's
// normal backoff/attempts policy rather than being forced terminal.
func (e WorkerError) Retryable() bool {
	if e.Cause == nil {
		return true
	}
	if IsCancelled(e.Cause) {
		return false
	}
	var p PanicError
	if errors.As(e.Cause, &p) {
		return false
	}
	return true
}

// PanicError wraps a recovered panic from a worker invocation. Panics are
// always terminal: they are routed to the dead-letter path unconditionally,
// regardless of remaining attempts, because they signal a
// programming defect rather than a transient condition.
type PanicError struct {
	Value any
	Stack string
}

func (e PanicError) Error() string { return fmt.Sprintf("worker panicked: %v", e.Value) }

// cancelledError marks a worker-initiated permanent failure: the worker
// determined the job is unrecoverable and should not be retried even though
// attempts remain. This is the worker's own judgment call, distinct from
// the processor's pause/unclaim path.
type cancelledError struct {
	Cause error
}

func (e cancelledError) Error() string { return fmt.Sprintf("job cancelled: %v", e.Cause) }
func (e cancelledError) Unwrap() error { return e.Cause }

// Cancel wraps err to signal the executor that this failure is permanent:
// the job should go straight to the terminal/dead-letter path without
// waiting for MaxAttempts.
func Cancel(err error) error {
	if err == nil {
		err = errors.New("job cancelled")
	}
	return cancelledError{Cause: err}
}

// IsCancelled reports whether err (or something it wraps) was produced by Cancel.
func IsCancelled(err error) bool {
	var c cancelledError
	return errors.As(err, &c)
}

// transientError marks an error a worker raised as explicitly retryable,
// for symmetry with Cancel. Unmarked worker errors are retryable by
// default, so Transient exists mainly for workers that also want to
// distinguish transient storage/network errors from bugs in logs.
type transientError struct {
	Cause error
}

func (e transientError) Error() string { return e.Cause.Error() }
func (e transientError) Unwrap() error { return e.Cause }

// Transient wraps err to mark it explicitly retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{Cause: err}
}

// IsRetryable reports whether err should be retried rather than treated as
// terminal. Cancelled and panicking errors are never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsCancelled(err) {
		return false
	}
	var p PanicError
	if errors.As(err, &p) {
		return false
	}
	return true
}
