// Package compliance holds a standard conformance suite every
// edgequeue.Adapter implementation must pass, run against memory, sql, and
// blob in their respective package tests.
package compliance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/lattiqo/edgequeue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunAdapterConformance runs a standard set of tests against an Adapter
// implementation. setup returns a fresh adapter and a teardown func.
func RunAdapterConformance(t *testing.T, setup func() (edgequeue.Adapter, func())) {
	t.Run("AddAndGetJob", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newTestJob("job-1", "send-email", 0)
		require.NoError(t, store.AddJob(ctx, job))

		fetched, ok, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, job.Name, fetched.Name)
		assert.Equal(t, job.MaxAttempts, fetched.MaxAttempts)
	})

	t.Run("GetMissingJob", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		_, ok, err := store.GetJob(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("UpdateJob", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newTestJob("job-2", "send-email", 0)
		require.NoError(t, store.AddJob(ctx, job))

		job.Attempts = 1
		job.MetaData["lastError"] = "boom"
		require.NoError(t, store.UpdateJob(ctx, job))

		fetched, ok, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 1, fetched.Attempts)
		assert.Equal(t, "boom", fetched.MetaData["lastError"])
	})

	t.Run("RemoveJob", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newTestJob("job-3", "send-email", 0)
		require.NoError(t, store.AddJob(ctx, job))
		require.NoError(t, store.RemoveJob(ctx, job.ID))

		_, ok, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("GetJobsListsEverything", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		a := newTestJob("job-a", "send-email", 0)
		b := newTestJob("job-b", "send-email", 0)
		require.NoError(t, store.AddJob(ctx, a))
		require.NoError(t, store.AddJob(ctx, b))

		jobs, err := store.GetJobs(ctx)
		require.NoError(t, err)

		ids := make(map[string]bool)
		for _, j := range jobs {
			ids[j.ID] = true
		}
		assert.True(t, ids[a.ID])
		assert.True(t, ids[b.ID])
	})

	t.Run("DeleteAll", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		require.NoError(t, store.AddJob(ctx, newTestJob("job-4", "send-email", 0)))
		require.NoError(t, store.DeleteAll(ctx))

		jobs, err := store.GetJobs(ctx)
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("ClaimConcurrentJobsMarksActive", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		job := newTestJob("job-5", "send-email", 0)
		require.NoError(t, store.AddJob(ctx, job))

		claimed, err := store.ClaimConcurrentJobs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.True(t, claimed[0].Active)

		fetched, ok, err := store.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, fetched.Active)
	})

	t.Run("ClaimConcurrentJobsExcludesActiveAndTerminal", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		active := newTestJob("job-6", "send-email", 0)
		active.Active = true
		require.NoError(t, store.AddJob(ctx, active))

		terminal := newTestJob("job-7", "send-email", 0)
		terminal.Attempts = terminal.MaxAttempts
		require.NoError(t, store.AddJob(ctx, terminal))

		claimed, err := store.ClaimConcurrentJobs(ctx, 10)
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("ClaimConcurrentJobsRespectsLimit", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			require.NoError(t, store.AddJob(ctx, newTestJob("job-limit", "send-email", 0)))
		}

		claimed, err := store.ClaimConcurrentJobs(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, claimed, 2)
	})

	t.Run("ClaimConcurrentJobsOrdersByPriorityThenAge", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		low := newTestJob("job-low", "send-email", 0)
		high := newTestJob("job-high", "send-email", 5)
		require.NoError(t, store.AddJob(ctx, low))
		require.NoError(t, store.AddJob(ctx, high))

		claimed, err := store.ClaimConcurrentJobs(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, high.ID, claimed[0].ID)
	})

	t.Run("ClaimConcurrentJobsNoOverlapUnderConcurrency", func(t *testing.T) {
		store, teardown := setup()
		defer teardown()
		ctx := context.Background()

		const total = 20
		for i := 0; i < total; i++ {
			require.NoError(t, store.AddJob(ctx, newTestJob("job-conc", "send-email", 0)))
		}

		results := make(chan []edgequeue.Job, 4)
		for i := 0; i < 4; i++ {
			go func() {
				claimed, err := store.ClaimConcurrentJobs(ctx, total)
				require.NoError(t, err)
				results <- claimed
			}()
		}

		seen := make(map[string]bool)
		for i := 0; i < 4; i++ {
			for _, job := range <-results {
				assert.False(t, seen[job.ID], "job %s claimed twice across concurrent callers", job.ID)
				seen[job.ID] = true
			}
		}
		assert.Len(t, seen, total)
	})
}

func newTestJob(id, name string, priority int) edgequeue.Job {
	return edgequeue.Job{
		ID:          id + "-" + time.Now().UTC().Format("150405.000000000"),
		Name:        name,
		Payload:     json.RawMessage(`{"k":"v"}`),
		MetaData:    map[string]string{},
		Priority:    priority,
		MaxAttempts: 3,
		Created:     time.Now().UTC(),
	}
}
