// Package edgequeue implements a persistent, adapter-backed job queue for
// mobile and edge environments. Producers enqueue jobs tagged with a name;
// a consumer loop claims jobs from durable storage and hands each to a
// registered worker under a bounded concurrency budget, with TTL
// expiration, exponential-backoff retry, dead-letter routing, and
// per-name pause/resume.
package edgequeue

import (
	"encoding/json"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is applied to a job when no TTL is supplied at enqueue time.
const DefaultTTL = 7 * 24 * time.Hour

// DefaultTimeout is the per-run worker time budget applied when none is supplied.
const DefaultTimeout = 25 * time.Second

// Job is a durable work item. It is immutable after creation except for the
// small mutable state block (Attempts, Active, Failed, MetaData["lastError"])
// the core mutates as it moves through the claim/execute/retry lifecycle.
type Job struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
	MetaData    map[string]string `json:"meta_data,omitempty"`
	Priority    int               `json:"priority"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	TimeInterval time.Duration    `json:"time_interval"`
	TTL         time.Duration     `json:"ttl"`
	OnlineOnly  bool              `json:"online_only"`
	Active      bool              `json:"active"`
	Timeout     time.Duration     `json:"timeout"`
	Created     time.Time         `json:"created"`
	Failed      *time.Time        `json:"failed,omitempty"`
	WorkerName  string            `json:"worker_name,omitempty"`
}

// EnqueueOptions configures a single enqueue call. Zero values fall back to
// sensible defaults.
type EnqueueOptions struct {
	Priority     int
	Attempts     int // if zero, defaults to 1
	Retries      int // alias: Attempts = Retries + 1 when Attempts is unset and Retries > 0
	TimeInterval time.Duration
	TTL          time.Duration // zero falls back to DefaultTTL; use NeverExpire to mean "never"
	OnlineOnly   bool
	Timeout      time.Duration
	MetaData     map[string]string
	AutoStart    *bool // nil means true
	WorkerName   string
}

// NeverExpire, passed as EnqueueOptions.TTL, disables TTL expiration entirely.
// A zero-value TTL instead falls back to DefaultTTL — there is no other way
// to ask for "never expire" through the options struct.
const NeverExpire time.Duration = -1

func newJob(name string, payload json.RawMessage, opts EnqueueOptions) (Job, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Job{}, err
	}

	attempts := opts.Attempts
	if attempts == 0 {
		if opts.Retries > 0 {
			attempts = opts.Retries + 1
		} else {
			attempts = 1
		}
	}

	ttl := opts.TTL
	switch {
	case ttl == NeverExpire:
		ttl = 0
	case ttl == 0:
		ttl = DefaultTTL
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	meta := opts.MetaData
	if meta == nil {
		meta = map[string]string{}
	}

	return Job{
		ID:           id.String(),
		Name:         name,
		Payload:      payload,
		MetaData:     meta,
		Priority:     opts.Priority,
		Attempts:     0,
		MaxAttempts:  attempts,
		TimeInterval: opts.TimeInterval,
		TTL:          ttl,
		OnlineOnly:   opts.OnlineOnly,
		Active:       false,
		Timeout:      timeout,
		Created:      time.Now().UTC(),
		WorkerName:   opts.WorkerName,
	}, nil
}

// IsExpired reports whether the job's TTL has elapsed.
// A TTL of zero means the job never expires.
func (j Job) IsExpired(now time.Time) bool {
	return j.TTL > 0 && now.Sub(j.Created) > j.TTL
}

// IsTerminal reports whether the job has exhausted its attempt budget and
// must not be visible to the claim path.
func (j Job) IsTerminal() bool {
	return j.Attempts >= j.MaxAttempts
}

// shouldSkipByBackoff reports whether a failed job is still cooling down
// under exponential backoff with additive jitter bounded by the base interval.
func (j Job) shouldSkipByBackoff(now time.Time) (skip bool, remaining time.Duration) {
	if j.Failed == nil || j.Attempts >= j.MaxAttempts {
		return false, 0
	}

	delay := backoffDelay(j.TimeInterval, j.Attempts)
	elapsed := now.Sub(*j.Failed)
	if elapsed < delay {
		return true, delay - elapsed
	}
	return false, 0
}

// backoffDelay computes timeInterval·2^attempts + Uniform(0, timeInterval).
func backoffDelay(timeInterval time.Duration, attempts int) time.Duration {
	if timeInterval <= 0 {
		return 0
	}
	base := timeInterval << uint(min(attempts, 32))
	jitter := time.Duration(rand.Int64N(int64(timeInterval) + 1))
	return base + jitter
}

// clampBackoff applies the process-wide RetryConfig cap to a wake-up delay:
// the remaining per-job backoff is computed first, then clamped.
func clampBackoff(delay time.Duration, cfg RetryConfig) time.Duration {
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}

// applyFailure records a failed attempt: attempts += 1, active = false,
// failed = now, metaData.lastError = err.
func (j Job) applyFailure(now time.Time, errMsg string) Job {
	j.Attempts++
	j.Active = false
	failedAt := now
	j.Failed = &failedAt
	if j.MetaData == nil {
		j.MetaData = map[string]string{}
	}
	j.MetaData["lastError"] = errMsg
	return j
}
