package sql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lattiqo/edgequeue"
)

// Store implements edgequeue.Adapter, edgequeue.Recoverer,
// edgequeue.DeadLetterMover, and edgequeue.ClaimExtender over database/sql.
type Store struct {
	db     *sql.DB
	driver string
}

func newStore(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// DB returns the underlying connection pool, for callers that need direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

type jobRow struct {
	ID           string
	Name         string
	Payload      sql.NullString
	MetaData     sql.NullString
	Priority     int
	Attempts     int
	MaxAttempts  int
	TimeInterval int64
	TTL          int64
	OnlineOnly   bool
	Active       bool
	Timeout      int64
	Created      time.Time
	Failed       sql.NullTime
	WorkerName   string
}

func rowFromJob(job edgequeue.Job) (jobRow, error) {
	var metaJSON sql.NullString
	if len(job.MetaData) > 0 {
		b, err := json.Marshal(job.MetaData)
		if err != nil {
			return jobRow{}, fmt.Errorf("marshal meta_data: %w", err)
		}
		metaJSON = sql.NullString{String: string(b), Valid: true}
	}

	var payload sql.NullString
	if len(job.Payload) > 0 {
		payload = sql.NullString{String: string(job.Payload), Valid: true}
	}

	var failed sql.NullTime
	if job.Failed != nil {
		failed = sql.NullTime{Time: *job.Failed, Valid: true}
	}

	return jobRow{
		ID:           job.ID,
		Name:         job.Name,
		Payload:      payload,
		MetaData:     metaJSON,
		Priority:     job.Priority,
		Attempts:     job.Attempts,
		MaxAttempts:  job.MaxAttempts,
		TimeInterval: int64(job.TimeInterval),
		TTL:          int64(job.TTL),
		OnlineOnly:   job.OnlineOnly,
		Active:       job.Active,
		Timeout:      int64(job.Timeout),
		Created:      job.Created,
		Failed:       failed,
		WorkerName:   job.WorkerName,
	}, nil
}

func (r jobRow) toJob() (edgequeue.Job, error) {
	job := edgequeue.Job{
		ID:           r.ID,
		Name:         r.Name,
		Priority:     r.Priority,
		Attempts:     r.Attempts,
		MaxAttempts:  r.MaxAttempts,
		TimeInterval: time.Duration(r.TimeInterval),
		TTL:          time.Duration(r.TTL),
		OnlineOnly:   r.OnlineOnly,
		Active:       r.Active,
		Timeout:      time.Duration(r.Timeout),
		Created:      r.Created,
		WorkerName:   r.WorkerName,
		MetaData:     map[string]string{},
	}
	if r.Payload.Valid {
		job.Payload = json.RawMessage(r.Payload.String)
	}
	if r.MetaData.Valid && r.MetaData.String != "" {
		if err := json.Unmarshal([]byte(r.MetaData.String), &job.MetaData); err != nil {
			return edgequeue.Job{}, fmt.Errorf("unmarshal meta_data: %w", err)
		}
	}
	if r.Failed.Valid {
		failed := r.Failed.Time
		job.Failed = &failed
	}
	return job, nil
}

const jobColumns = `id, name, payload, meta_data, priority, attempts, max_attempts,
	time_interval_ns, ttl_ns, online_only, active, timeout_ns, created, failed, worker_name`

func scanJobRow(scanner interface {
	Scan(dest ...any) error
}) (edgequeue.Job, error) {
	var r jobRow
	err := scanner.Scan(&r.ID, &r.Name, &r.Payload, &r.MetaData, &r.Priority, &r.Attempts,
		&r.MaxAttempts, &r.TimeInterval, &r.TTL, &r.OnlineOnly, &r.Active, &r.Timeout,
		&r.Created, &r.Failed, &r.WorkerName)
	if err != nil {
		return edgequeue.Job{}, err
	}
	return r.toJob()
}

// AddJob implements edgequeue.Adapter.
func (s *Store) AddJob(ctx context.Context, job edgequeue.Job) error {
	row, err := rowFromJob(job)
	if err != nil {
		return err
	}
	query := s.rebind(`INSERT INTO jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, payload = excluded.payload, meta_data = excluded.meta_data,
			priority = excluded.priority, attempts = excluded.attempts, max_attempts = excluded.max_attempts,
			time_interval_ns = excluded.time_interval_ns, ttl_ns = excluded.ttl_ns,
			online_only = excluded.online_only, active = excluded.active, timeout_ns = excluded.timeout_ns,
			created = excluded.created, failed = excluded.failed, worker_name = excluded.worker_name`)

	_, err = s.db.ExecContext(ctx, query,
		row.ID, row.Name, row.Payload, row.MetaData, row.Priority, row.Attempts, row.MaxAttempts,
		row.TimeInterval, row.TTL, row.OnlineOnly, row.Active, row.Timeout, row.Created, row.Failed, row.WorkerName)
	return err
}

// UpdateJob implements edgequeue.Adapter.
func (s *Store) UpdateJob(ctx context.Context, job edgequeue.Job) error {
	row, err := rowFromJob(job)
	if err != nil {
		return err
	}
	query := s.rebind(`UPDATE jobs SET
		name = ?, payload = ?, meta_data = ?, priority = ?, attempts = ?, max_attempts = ?,
		time_interval_ns = ?, ttl_ns = ?, online_only = ?, active = ?, timeout_ns = ?,
		created = ?, failed = ?, worker_name = ?
		WHERE id = ?`)
	_, err = s.db.ExecContext(ctx, query,
		row.Name, row.Payload, row.MetaData, row.Priority, row.Attempts, row.MaxAttempts,
		row.TimeInterval, row.TTL, row.OnlineOnly, row.Active, row.Timeout, row.Created, row.Failed, row.WorkerName,
		row.ID)
	return err
}

// RemoveJob implements edgequeue.Adapter.
func (s *Store) RemoveJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM jobs WHERE id = ?`), id)
	return err
}

// GetJob implements edgequeue.Adapter.
func (s *Store) GetJob(ctx context.Context, id string) (edgequeue.Job, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	job, err := scanJobRow(row)
	if err == sql.ErrNoRows {
		return edgequeue.Job{}, false, nil
	}
	if err != nil {
		return edgequeue.Job{}, false, err
	}
	return job, true, nil
}

// GetJobs implements edgequeue.Adapter.
func (s *Store) GetJobs(ctx context.Context) ([]edgequeue.Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []edgequeue.Job
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// DeleteAll implements edgequeue.Adapter.
func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs`)
	return err
}

// Recover implements edgequeue.Recoverer: reset every ghost active record.
func (s *Store) Recover(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET active = `+s.boolLiteral(false)+` WHERE active = `+s.boolLiteral(true))
	return err
}

// MoveToDLQ implements edgequeue.DeadLetterMover.
func (s *Store) MoveToDLQ(ctx context.Context, job edgequeue.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row, err := rowFromJob(job)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO dead_letter_jobs
		(id, name, payload, meta_data, priority, attempts, max_attempts,
		 time_interval_ns, ttl_ns, online_only, timeout_ns, created, failed, worker_name, moved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		row.ID, row.Name, row.Payload, row.MetaData, row.Priority, row.Attempts, row.MaxAttempts,
		row.TimeInterval, row.TTL, row.OnlineOnly, row.Timeout, row.Created, row.Failed, row.WorkerName,
		time.Now().UTC())
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM jobs WHERE id = ?`), job.ID); err != nil {
		return err
	}
	return tx.Commit()
}

// ExtendClaim implements edgequeue.ClaimExtender.
func (s *Store) ExtendClaim(ctx context.Context, ids []string, until time.Time) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, s.rebind(`UPDATE jobs SET claimed_until = ? WHERE id = ?`), until, id); err != nil {
			return err
		}
	}
	return nil
}

// ClaimConcurrentJobs implements edgequeue.Adapter, dispatching to the
// dialect-specific strategy in store_postgres.go / store_sqlite.go.
func (s *Store) ClaimConcurrentJobs(ctx context.Context, limit int) ([]edgequeue.Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	if s.driver == "pgx" {
		return s.claimPostgres(ctx, limit)
	}
	return s.claimSQLite(ctx, limit)
}

func (s *Store) boolLiteral(b bool) string {
	if s.driver == "pgx" {
		if b {
			return "TRUE"
		}
		return "FALSE"
	}
	if b {
		return "1"
	}
	return "0"
}

// rebind rewrites ? placeholders into $1, $2, ... for the postgres driver.
func (s *Store) rebind(query string) string {
	if s.driver != "pgx" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = append(out, []byte(fmt.Sprintf("%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
