package edgequeue

import (
	"context"
	"time"
)

// Adapter is the durable storage contract the core requires.
// All methods may block and may return a wrapped error; the core treats any
// error from Adapter as transient. Queue.Enqueue returns an AddJob failure
// as EnqueueError and Queue.Start returns a Recover failure as StorageError;
// the processor loop and executor log adapter errors and carry on.
type Adapter interface {
	// AddJob persists a new record, replacing any existing record with the same ID.
	AddJob(ctx context.Context, job Job) error

	// UpdateJob persists state for an existing id; a no-op if the id is absent.
	UpdateJob(ctx context.Context, job Job) error

	// RemoveJob deletes a record by id. A no-op if the id is absent.
	RemoveJob(ctx context.Context, id string) error

	// GetJob fetches one record, or (Job{}, false, nil) if absent.
	GetJob(ctx context.Context, id string) (Job, bool, error)

	// GetJobs enumerates all records. No ordering is guaranteed.
	GetJobs(ctx context.Context) ([]Job, error)

	// DeleteAll wipes every record in the adapter's namespace.
	DeleteAll(ctx context.Context) error

	// ClaimConcurrentJobs is the one operation requiring cross-call mutual
	// exclusion: atomically select up to limit records with
	// Active == false && Attempts < MaxAttempts, ordered by Priority desc
	// then Created asc, mark them Active == true, and return copies. No two
	// concurrent calls against the same adapter may return overlapping ids.
	ClaimConcurrentJobs(ctx context.Context, limit int) ([]Job, error)
}

// Recoverer is an optional adapter capability: it resets every
// ghost Active==true record left over from a prior process. The facade
// feature-detects it once at Queue.Start.
type Recoverer interface {
	Recover(ctx context.Context) error
}

// DeadLetterMover is an optional adapter capability: it moves a
// terminally failed job into a dead-letter sink and removes it from the
// live set. Absent this capability, a terminal job stays in the live store
// with Attempts == MaxAttempts, invisible to ClaimConcurrentJobs.
type DeadLetterMover interface {
	MoveToDLQ(ctx context.Context, job Job) error
}

// ClaimExtender is an optional adapter capability: the processor's
// heartbeat calls it with the ids of its in-flight jobs and a new claim
// deadline. The sql adapter stores the deadline in claimed_until and the
// memory adapter ignores it; no Recoverer in this module reads it, so
// Recover still resets every active record.
type ClaimExtender interface {
	ExtendClaim(ctx context.Context, ids []string, until time.Time) error
}
