package edgequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingAdapter wraps fakeAdapter to count and optionally block
// ClaimConcurrentJobs calls, so tests can observe exactly how many claim
// passes a burst of tick() calls produces.
type countingAdapter struct {
	*fakeAdapter
	mu    sync.Mutex
	calls int
	block chan struct{}
}

func (a *countingAdapter) ClaimConcurrentJobs(ctx context.Context, limit int) ([]Job, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	if a.block != nil {
		<-a.block
	}
	return a.fakeAdapter.ClaimConcurrentJobs(ctx, limit)
}

func (a *countingAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func TestProcessorIsActiveTracksStartStop(t *testing.T) {
	adapter := newFakeAdapter()
	p := newProcessor(adapter, NewRegistry(), newExecutor(adapter, newEventSink(nil), nil, nil, nil), 1, DefaultRetryConfig(), nil, nil)

	require.False(t, p.IsActive())

	ctx := context.Background()
	p.Start(ctx)
	require.True(t, p.IsActive())

	p.Stop()
	require.False(t, p.IsActive())
}

func TestProcessorStaysActiveAfterDraining(t *testing.T) {
	// Regression: once a tick finds nothing claimable it must not flip the
	// processor back to inactive, or a later Enqueue's tick() would bail
	// out before ever claiming the new job.
	adapter := newFakeAdapter()
	p := newProcessor(adapter, NewRegistry(), newExecutor(adapter, newEventSink(nil), nil, nil, nil), 1, DefaultRetryConfig(), nil, nil)

	ctx := context.Background()
	p.Start(ctx)
	defer p.Stop()

	waitFor(t, time.Second, p.IsActive)
	require.True(t, p.IsActive(), "processor must remain active once started, even with no claimable work")
}

func TestProcessorTickCoalescesReentrantCalls(t *testing.T) {
	blocking := make(chan struct{})
	adapter := &countingAdapter{fakeAdapter: newFakeAdapter(), block: blocking}
	p := newProcessor(adapter, NewRegistry(), newExecutor(adapter, newEventSink(nil), nil, nil, nil), 1, DefaultRetryConfig(), nil, nil)

	ctx := context.Background()
	p.mu.Lock()
	p.status = statusActive
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.tick(ctx)
	}()

	waitFor(t, time.Second, func() bool { return adapter.callCount() == 1 })

	// Fire a burst of re-entrant ticks while the first claim is still in
	// flight; they must coalesce into pendingTick rather than each running
	// their own claim pass.
	for i := 0; i < 10; i++ {
		p.tick(ctx)
	}

	close(blocking)
	wg.Wait()

	require.LessOrEqual(t, adapter.callCount(), 2,
		"a burst of re-entrant ticks must coalesce into at most one extra claim pass")
}

func TestProcessorBackoffWakeupRetriesAfterDelay(t *testing.T) {
	adapter := newFakeAdapter()
	q, err := New(adapter, WithConcurrency(1), WithRetryConfig(RetryConfig{MaxDelay: 500 * time.Millisecond}))
	require.NoError(t, err)

	var attempts atomic.Int32
	var succeeded atomic.Bool
	q.AddWorker("throttled", func(ctx context.Context, id string, payload []byte) error {
		if attempts.Add(1) == 1 {
			return errors.New("still warming up")
		}
		return nil
	}, WorkerOptions{OnSuccess: func(job Job) { succeeded.Store(true) }})

	ctx := context.Background()
	require.NoError(t, q.Start(ctx))
	defer q.Stop()

	_, err = q.Enqueue(ctx, "throttled", nil, EnqueueOptions{Attempts: 3, TimeInterval: 20 * time.Millisecond})
	require.NoError(t, err)

	waitFor(t, 2*time.Second, succeeded.Load)
	require.EqualValues(t, 2, attempts.Load())
}
