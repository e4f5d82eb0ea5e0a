package sql

import (
	"context"

	"github.com/lattiqo/edgequeue"
)

// claimSQLite implements the claim step with an exclusive BEGIN IMMEDIATE
// transaction: SQLite has no SKIP LOCKED, so mutual exclusion instead comes
// from the single writer lock the transaction mode takes up front.
func (s *Store) claimSQLite(ctx context.Context, limit int) ([]edgequeue.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM jobs
		WHERE active = 0 AND attempts < max_attempts
		ORDER BY priority DESC, created ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	jobs := make([]edgequeue.Job, 0, len(ids))
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET active = 1 WHERE id = ?`, id); err != nil {
			return nil, err
		}
		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		job, err := scanJobRow(row)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return jobs, nil
}
