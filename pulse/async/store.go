package async

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/ytmp3/errors"
)

// SQLStore is the SQLite RecordStore.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a record store over a migrated database
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

var _ RecordStore = (*SQLStore)(nil)

// GetJob retrieves a job by key
func (s *SQLStore) GetJob(ctx context.Context, key string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE key = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get job %s", key)
	}
	return job, nil
}

// CreateJob inserts job unless a row for its key exists, in which case the
// existing row is returned tagged AlreadyExists.
func (s *SQLStore) CreateJob(ctx context.Context, job *Job) (CreateResult, error) {
	query := `INSERT INTO jobs (` + jobSelectColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`

	// A conflicting row can be deleted between the insert and the re-read
	for attempt := 0; attempt < 3; attempt++ {
		res, err := s.db.ExecContext(ctx, query, jobWriteArgs(job)...)
		if err != nil {
			return CreateResult{}, errors.Wrapf(err, "failed to create job %s", job.Key)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return CreateResult{}, errors.Wrap(err, "failed to get rows affected")
		}
		if n == 1 {
			return CreateResult{Outcome: Created, Job: job}, nil
		}

		existing, err := s.GetJob(ctx, job.Key)
		if errors.IsNotFoundError(err) {
			continue
		}
		if err != nil {
			return CreateResult{}, err
		}
		return CreateResult{Outcome: AlreadyExists, Job: existing}, nil
	}
	return CreateResult{}, errors.WithDetailf(
		errors.Newf("job %s kept vanishing during create", job.Key),
		"Attempts: %d", 3)
}

// ReplaceJob overwrites the row for job.Key only if it still has expected's
// status and updated_at.
func (s *SQLStore) ReplaceJob(ctx context.Context, job *Job, expected *Job) (CreateResult, error) {
	if expected == nil {
		return s.CreateJob(ctx, job)
	}

	query := `UPDATE jobs
		SET status = ?, artifact_ref = ?, error = ?, created_at = ?, updated_at = ?, expires_at = ?
		WHERE key = ? AND status = ? AND updated_at = ?`

	args := jobWriteArgs(job)[1:]
	args = append(args, job.Key, string(expected.Status), toUnixNano(expected.UpdatedAt))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return CreateResult{}, errors.Wrapf(err, "failed to replace job %s", job.Key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return CreateResult{}, errors.Wrap(err, "failed to get rows affected")
	}
	if n == 1 {
		return CreateResult{Outcome: Created, Job: job}, nil
	}

	current, err := s.GetJob(ctx, job.Key)
	if errors.IsNotFoundError(err) {
		return s.CreateJob(ctx, job)
	}
	if err != nil {
		return CreateResult{}, err
	}
	return CreateResult{Outcome: AlreadyExists, Job: current}, nil
}

// SaveJob upserts job with last-write-wins on updated_at.
func (s *SQLStore) SaveJob(ctx context.Context, job *Job) (bool, error) {
	query := `INSERT INTO jobs (` + jobSelectColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status = excluded.status,
			artifact_ref = excluded.artifact_ref,
			error = excluded.error,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
		WHERE excluded.updated_at >= jobs.updated_at`

	res, err := s.db.ExecContext(ctx, query, jobWriteArgs(job)...)
	if err != nil {
		return false, errors.Wrapf(err, "failed to save job %s", job.Key)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to get rows affected")
	}
	return n > 0, nil
}

// DeleteJob removes the row for key
func (s *SQLStore) DeleteJob(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE key = ?`, key); err != nil {
		return errors.Wrapf(err, "failed to delete job %s", key)
	}
	return nil
}

// DeleteJobsBefore removes the rows for keys that are still older than cutoff.
// Rows touched since they were listed survive. Returns the number deleted.
func (s *SQLStore) DeleteJobsBefore(ctx context.Context, keys []string, cutoff time.Time) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	query := `DELETE FROM jobs WHERE updated_at < ? AND key IN (` + placeholders + `)`

	args := make([]interface{}, 0, len(keys)+1)
	args = append(args, toUnixNano(cutoff))
	for _, k := range keys {
		args = append(args, k)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to delete %d jobs", len(keys))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(n), nil
}

// ListJobsUpdatedBefore returns up to limit jobs whose updated_at is older
// than cutoff, oldest first. limit <= 0 means no limit.
func (s *SQLStore) ListJobsUpdatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM jobs WHERE updated_at < ? ORDER BY updated_at ASC`
	args := []interface{}{toUnixNano(cutoff)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list expired jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate jobs")
	}
	return jobs, nil
}

// CountByStatus returns the number of jobs per status
func (s *SQLStore) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := map[JobStatus]int{
		JobStatusPending:  0,
		JobStatusComplete: 0,
		JobStatusFailed:   0,
	}
	for rows.Next() {
		var status JobStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}
	return counts, errors.Wrap(rows.Err(), "failed to iterate job counts")
}
