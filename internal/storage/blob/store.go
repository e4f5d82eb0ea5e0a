// Package blob provides a Google Cloud Storage-backed edgequeue.Adapter.
// Each job is one JSON object; since GCS has no row locking, claims use
// conditional writes (generation preconditions) as the mutual-exclusion
// primitive instead.
package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/lattiqo/edgequeue"
	"google.golang.org/api/iterator"
)

// Store is a GCS-based edgequeue.Adapter.
type Store struct {
	client *storage.Client
	bucket string
}

// NewStore creates a new GCS-backed store. It assumes the client is
// authenticated, e.g. via GOOGLE_APPLICATION_CREDENTIALS.
func NewStore(ctx context.Context, bucketName string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &Store{client: client, bucket: bucketName}, nil
}

// NewStoreWithClient builds a Store around a caller-supplied client, mainly
// for tests against the fake-gcs-server HTTP emulator.
func NewStoreWithClient(client *storage.Client, bucketName string) *Store {
	return &Store{client: client, bucket: bucketName}
}

func (s *Store) objectName(id string) string {
	return fmt.Sprintf("%s.json", id)
}

func (s *Store) object(id string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.objectName(id))
}

// AddJob implements edgequeue.Adapter: unconditional overwrite.
func (s *Store) AddJob(ctx context.Context, job edgequeue.Job) error {
	return s.write(ctx, s.object(job.ID), job)
}

// UpdateJob implements edgequeue.Adapter: unconditional overwrite, a no-op
// if the object does not exist is not enforced here since GCS has no cheap
// existence-then-write primitive without an extra round trip.
func (s *Store) UpdateJob(ctx context.Context, job edgequeue.Job) error {
	return s.write(ctx, s.object(job.ID), job)
}

func (s *Store) write(ctx context.Context, obj *storage.ObjectHandle, job edgequeue.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	return w.Close()
}

// RemoveJob implements edgequeue.Adapter.
func (s *Store) RemoveJob(ctx context.Context, id string) error {
	err := s.object(id).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

// GetJob implements edgequeue.Adapter.
func (s *Store) GetJob(ctx context.Context, id string) (edgequeue.Job, bool, error) {
	r, err := s.object(id).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return edgequeue.Job{}, false, nil
	}
	if err != nil {
		return edgequeue.Job{}, false, fmt.Errorf("failed to read object: %w", err)
	}
	defer r.Close()

	var job edgequeue.Job
	if err := json.NewDecoder(r).Decode(&job); err != nil {
		return edgequeue.Job{}, false, fmt.Errorf("failed to decode job: %w", err)
	}
	return job, true, nil
}

// GetJobs implements edgequeue.Adapter by listing and fetching objects in
// parallel, bounded by maxConcurrency to avoid overwhelming the bucket.
func (s *Store) GetJobs(ctx context.Context) ([]edgequeue.Job, error) {
	names, err := s.listObjectNames(ctx)
	if err != nil {
		return nil, err
	}

	const maxConcurrency = 20
	semaphore := make(chan struct{}, maxConcurrency)
	var mu sync.Mutex
	var jobs []edgequeue.Job
	var wg sync.WaitGroup

	for _, name := range names {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(objectName string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			r, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
			if err != nil {
				return
			}
			defer r.Close()

			data, err := io.ReadAll(r)
			if err != nil {
				return
			}
			var job edgequeue.Job
			if err := json.Unmarshal(data, &job); err == nil {
				mu.Lock()
				jobs = append(jobs, job)
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return jobs, nil
}

func (s *Store) listObjectNames(ctx context.Context) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, nil)
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		if strings.HasSuffix(attrs.Name, ".json") {
			names = append(names, attrs.Name)
		}
	}
	return names, nil
}

// DeleteAll implements edgequeue.Adapter.
func (s *Store) DeleteAll(ctx context.Context) error {
	names, err := s.listObjectNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.client.Bucket(s.bucket).Object(name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return err
		}
	}
	return nil
}

// Recover implements edgequeue.Recoverer.
func (s *Store) Recover(ctx context.Context) error {
	jobs, err := s.GetJobs(ctx)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if !job.Active {
			continue
		}
		job.Active = false
		if err := s.UpdateJob(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// ClaimConcurrentJobs implements edgequeue.Adapter using conditional writes
// as the claim's compare-and-swap: each candidate is re-read for its current
// generation, then rewritten with active=true under a GenerationMatch
// precondition. A precondition failure means another caller claimed it
// first, so that candidate is skipped rather than retried.
func (s *Store) ClaimConcurrentJobs(ctx context.Context, limit int) ([]edgequeue.Job, error) {
	jobs, err := s.GetJobs(ctx)
	if err != nil {
		return nil, err
	}

	candidates := make([]edgequeue.Job, 0, len(jobs))
	for _, job := range jobs {
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

	claimed := make([]edgequeue.Job, 0, limit)
	for _, job := range candidates {
		if len(claimed) >= limit {
			break
		}

		obj := s.object(job.ID)
		attrs, err := obj.Attrs(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read object attrs: %w", err)
		}

		job.Active = true
		data, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal job: %w", err)
		}

		w := obj.If(storage.Conditions{GenerationMatch: attrs.Generation}).NewWriter(ctx)
		if _, err := w.Write(data); err != nil {
			w.Close()
			continue // lost the race to another claimer
		}
		if err := w.Close(); err != nil {
			continue // precondition failed: generation moved under us
		}

		claimed = append(claimed, job)
	}
	return claimed, nil
}
