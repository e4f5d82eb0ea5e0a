package memory

import (
	"context"
	"testing"

	"github.com/lattiqo/edgequeue"
	"github.com/lattiqo/edgequeue/internal/storage/compliance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreConformance(t *testing.T) {
	compliance.RunAdapterConformance(t, func() (edgequeue.Adapter, func()) {
		return NewStore(), func() {}
	})
}

func TestStoreRecoverResetsGhostJobs(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	job := edgequeue.Job{ID: "ghost-1", Name: "send-email", MaxAttempts: 3, Active: true}
	require.NoError(t, store.AddJob(ctx, job))

	require.NoError(t, store.Recover(ctx))

	fetched, ok, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, fetched.Active)
}
