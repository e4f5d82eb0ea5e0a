package sql

import (
	"context"

	"github.com/lattiqo/edgequeue"
)

// claimPostgres implements the claim step with SELECT ... FOR UPDATE SKIP
// LOCKED inside a single statement, so two concurrent processes polling the
// same table never return overlapping rows.
func (s *Store) claimPostgres(ctx context.Context, limit int) ([]edgequeue.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs SET active = TRUE
		WHERE id IN (
			SELECT id FROM jobs
			WHERE active = FALSE AND attempts < max_attempts
			ORDER BY priority DESC, created ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, limit)
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
