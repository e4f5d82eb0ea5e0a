package edgequeue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// fakeAdapter is a hand-rolled in-memory Adapter used across this package's
// tests. Unlike internal/storage/memory.Store it also implements
// DeadLetterMover, keeps dead-lettered jobs, and counts Recover resets and
// ExtendClaim calls so tests can assert on DLQ routing and recovery without
// reaching into a real backend.
type fakeAdapter struct {
	mu         sync.Mutex
	jobs       map[string]Job
	dlq        []Job
	recovered  int
	extendErr  error
	extendCalls int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{jobs: make(map[string]Job)}
}

func (a *fakeAdapter) AddJob(ctx context.Context, job Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs[job.ID] = job
	return nil
}

func (a *fakeAdapter) UpdateJob(ctx context.Context, job Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.jobs[job.ID]; !ok {
		return nil
	}
	a.jobs[job.ID] = job
	return nil
}

func (a *fakeAdapter) RemoveJob(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.jobs, id)
	return nil
}

func (a *fakeAdapter) GetJob(ctx context.Context, id string) (Job, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[id]
	return job, ok, nil
}

func (a *fakeAdapter) GetJobs(ctx context.Context) ([]Job, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Job, 0, len(a.jobs))
	for _, j := range a.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (a *fakeAdapter) DeleteAll(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = make(map[string]Job)
	return nil
}

func (a *fakeAdapter) ClaimConcurrentJobs(ctx context.Context, limit int) ([]Job, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	candidates := make([]Job, 0, len(a.jobs))
	for _, j := range a.jobs {
		if j.Active || j.Attempts >= j.MaxAttempts {
			continue
		}
		candidates = append(candidates, j)
	}
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].Created.Before(candidates[k].Created)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]Job, 0, len(candidates))
	for _, j := range candidates {
		j.Active = true
		a.jobs[j.ID] = j
		claimed = append(claimed, j)
	}
	return claimed, nil
}

// Recover implements Recoverer.
func (a *fakeAdapter) Recover(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, j := range a.jobs {
		if j.Active {
			j.Active = false
			a.jobs[id] = j
			a.recovered++
		}
	}
	return nil
}

// MoveToDLQ implements DeadLetterMover.
func (a *fakeAdapter) MoveToDLQ(ctx context.Context, job Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.jobs, job.ID)
	a.dlq = append(a.dlq, job)
	return nil
}

// ExtendClaim implements ClaimExtender.
func (a *fakeAdapter) ExtendClaim(ctx context.Context, ids []string, until time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.extendCalls++
	return a.extendErr
}

func (a *fakeAdapter) dlqJobs() []Job {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Job, len(a.dlq))
	copy(out, a.dlq)
	return out
}

func (a *fakeAdapter) jobCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobs)
}
