// Package memory provides an in-process edgequeue.Adapter implementation.
// It is the default adapter for single-process deployments and for tests;
// state does not survive a process restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lattiqo/edgequeue"
)

// Store is a mutex-guarded map of jobs. Every operation takes the single
// lock for the whole call — there is no per-record locking, because
// correctness under concurrent claims matters more than striping
// throughput for an edge workload.
type Store struct {
	mu   sync.Mutex
	jobs map[string]edgequeue.Job
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]edgequeue.Job)}
}

// AddJob implements edgequeue.Adapter.
func (s *Store) AddJob(ctx context.Context, job edgequeue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateJob implements edgequeue.Adapter.
func (s *Store) UpdateJob(ctx context.Context, job edgequeue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		return nil
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// RemoveJob implements edgequeue.Adapter.
func (s *Store) RemoveJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}

// GetJob implements edgequeue.Adapter.
func (s *Store) GetJob(ctx context.Context, id string) (edgequeue.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return edgequeue.Job{}, false, nil
	}
	return cloneJob(job), true, nil
}

// GetJobs implements edgequeue.Adapter.
func (s *Store) GetJobs(ctx context.Context) ([]edgequeue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]edgequeue.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, cloneJob(job))
	}
	return out, nil
}

// DeleteAll implements edgequeue.Adapter.
func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[string]edgequeue.Job)
	return nil
}

// ClaimConcurrentJobs implements edgequeue.Adapter. The lock it holds for
// the whole scan-and-mark is what makes claims mutually exclusive across
// goroutines in the same process.
func (s *Store) ClaimConcurrentJobs(ctx context.Context, limit int) ([]edgequeue.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]edgequeue.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.Active || job.Attempts >= job.MaxAttempts {
			continue
		}
		candidates = append(candidates, job)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Created.Before(candidates[j].Created)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]edgequeue.Job, 0, len(candidates))
	for _, job := range candidates {
		job.Active = true
		s.jobs[job.ID] = job
		claimed = append(claimed, cloneJob(job))
	}
	return claimed, nil
}

// Recover implements edgequeue.Recoverer: it resets every job left
// Active == true by a prior, now-dead process.
func (s *Store) Recover(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, job := range s.jobs {
		if job.Active {
			job.Active = false
			s.jobs[id] = job
		}
	}
	return nil
}

// ExtendClaim implements edgequeue.ClaimExtender. The in-process store has
// no claim expiry of its own, so this is a no-op; implementing it means the
// processor's heartbeat runs against this store the same way as against sql.
func (s *Store) ExtendClaim(ctx context.Context, ids []string, until time.Time) error {
	return nil
}

func cloneJob(job edgequeue.Job) edgequeue.Job {
	if job.MetaData != nil {
		meta := make(map[string]string, len(job.MetaData))
		for k, v := range job.MetaData {
			meta[k] = v
		}
		job.MetaData = meta
	}
	if job.Failed != nil {
		failed := *job.Failed
		job.Failed = &failed
	}
	return job
}
