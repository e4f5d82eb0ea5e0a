package edgequeue

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestJob(name string, maxAttempts int) Job {
	j, err := newJob(name, nil, EnqueueOptions{Attempts: maxAttempts})
	if err != nil {
		panic(err)
	}
	return j
}

func TestExecutorSuccessRemovesJob(t *testing.T) {
	adapter := newFakeAdapter()
	job := newTestJob("x", 3)
	adapter.AddJob(context.Background(), job)

	events := newEventSink(nil)
	var sawSuccess bool
	events.on(EventSuccess, func(j Job, err error) { sawSuccess = true })

	exec := newExecutor(adapter, events, nil, nil, nil)
	exec.Execute(context.Background(), job, func(ctx context.Context, id string, payload []byte) error {
		return nil
	}, WorkerOptions{})

	if !sawSuccess {
		t.Fatal("expected EventSuccess to fire")
	}
	if adapter.jobCount() != 0 {
		t.Fatalf("expected job to be removed after success, still have %d", adapter.jobCount())
	}
}

func TestExecutorRetryableFailureKeepsJobForRetry(t *testing.T) {
	adapter := newFakeAdapter()
	job := newTestJob("x", 3)
	adapter.AddJob(context.Background(), job)

	events := newEventSink(nil)
	var sawFailure, sawFailed bool
	events.on(EventFailure, func(j Job, err error) { sawFailure = true })
	events.on(EventFailed, func(j Job, err error) { sawFailed = true })

	exec := newExecutor(adapter, events, nil, nil, nil)
	exec.Execute(context.Background(), job, func(ctx context.Context, id string, payload []byte) error {
		return errors.New("transient network blip")
	}, WorkerOptions{})

	if !sawFailure {
		t.Fatal("expected EventFailure to fire for a retryable failure")
	}
	if sawFailed {
		t.Fatal("did not expect EventFailed to fire before attempts are exhausted")
	}
	stored, ok, _ := adapter.GetJob(context.Background(), job.ID)
	if !ok {
		t.Fatal("expected job to remain in the store for retry")
	}
	if stored.Attempts != 1 {
		t.Fatalf("expected attempts to be 1, got %d", stored.Attempts)
	}
	if stored.Active {
		t.Fatal("expected job to be unclaimed after a failed run")
	}
}

func TestExecutorTerminalFailureRoutesToDLQ(t *testing.T) {
	adapter := newFakeAdapter()
	job := newTestJob("x", 1)
	adapter.AddJob(context.Background(), job)

	events := newEventSink(nil)
	var sawFailed bool
	events.on(EventFailed, func(j Job, err error) { sawFailed = true })

	exec := newExecutor(adapter, events, nil, nil, nil)
	exec.Execute(context.Background(), job, func(ctx context.Context, id string, payload []byte) error {
		return errors.New("still broken")
	}, WorkerOptions{})

	if !sawFailed {
		t.Fatal("expected EventFailed to fire once attempts are exhausted")
	}
	if adapter.jobCount() != 0 {
		t.Fatal("expected the terminal job to be removed from the live store")
	}
	dlq := adapter.dlqJobs()
	if len(dlq) != 1 || dlq[0].ID != job.ID {
		t.Fatalf("expected the job to be moved to the dead letter sink, got %+v", dlq)
	}
}

func TestExecutorCancelForcesTerminalBeforeMaxAttempts(t *testing.T) {
	adapter := newFakeAdapter()
	job := newTestJob("x", 10)
	adapter.AddJob(context.Background(), job)

	exec := newExecutor(adapter, newEventSink(nil), nil, nil, nil)
	exec.Execute(context.Background(), job, func(ctx context.Context, id string, payload []byte) error {
		return Cancel(errors.New("unrecoverable input"))
	}, WorkerOptions{})

	dlq := adapter.dlqJobs()
	if len(dlq) != 1 {
		t.Fatalf("expected Cancel to force a terminal dead-letter route with 9 attempts remaining, got dlq=%v", dlq)
	}
}

func TestExecutorPanicIsTerminalRegardlessOfAttempts(t *testing.T) {
	adapter := newFakeAdapter()
	job := newTestJob("x", 10)
	adapter.AddJob(context.Background(), job)

	exec := newExecutor(adapter, newEventSink(nil), nil, nil, nil)
	exec.Execute(context.Background(), job, func(ctx context.Context, id string, payload []byte) error {
		panic("worker bug")
	}, WorkerOptions{})

	dlq := adapter.dlqJobs()
	if len(dlq) != 1 {
		t.Fatalf("expected a panicking worker to be routed to dead letter on its first attempt, got dlq=%v", dlq)
	}
}

func TestExecutorTimeoutBudget(t *testing.T) {
	adapter := newFakeAdapter()
	job := newTestJob("x", 3)
	job.Timeout = 20 * time.Millisecond
	adapter.AddJob(context.Background(), job)

	exec := newExecutor(adapter, newEventSink(nil), nil, nil, nil)
	exec.Execute(context.Background(), job, func(ctx context.Context, id string, payload []byte) error {
		<-ctx.Done()
		return ctx.Err()
	}, WorkerOptions{})

	stored, ok, _ := adapter.GetJob(context.Background(), job.ID)
	if !ok {
		t.Fatal("expected job to remain for retry after a timeout")
	}
	if stored.MetaData["lastError"] == "" {
		t.Fatal("expected a timeout error message to be recorded")
	}
}

func TestExecutorErrorHandlerCanForceTerminal(t *testing.T) {
	adapter := newFakeAdapter()
	job := newTestJob("x", 10)
	adapter.AddJob(context.Background(), job)

	handler := forceTerminalHandler{}
	exec := newExecutor(adapter, newEventSink(nil), handler, nil, nil)
	exec.Execute(context.Background(), job, func(ctx context.Context, id string, payload []byte) error {
		return errors.New("classified unrecoverable by an external system")
	}, WorkerOptions{})

	dlq := adapter.dlqJobs()
	if len(dlq) != 1 {
		t.Fatalf("expected a custom ErrorHandler to force a terminal route, got dlq=%v", dlq)
	}
}

type forceTerminalHandler struct{}

func (forceTerminalHandler) HandleError(ctx context.Context, job Job, err error) *ErrorHandlerResult {
	return &ErrorHandlerResult{ForceTerminal: true}
}

func (forceTerminalHandler) HandlePanic(ctx context.Context, job Job, panicVal any, stackTrace string) *ErrorHandlerResult {
	return &ErrorHandlerResult{ForceTerminal: true}
}
