package async

import (
	"database/sql"
	"time"
)

// jobScanArgs holds the nullable columns scanned for a job row.
type jobScanArgs struct {
	ArtifactRef sql.NullString
	ErrorMsg    sql.NullString
	CreatedAt   int64
	UpdatedAt   int64
	ExpiresAt   sql.NullInt64
}

// jobScanTargets returns scan destinations in jobSelectColumns order.
func jobScanTargets(job *Job, args *jobScanArgs) []interface{} {
	return []interface{}{
		&job.Key,
		&job.Status,
		&args.ArtifactRef,
		&args.ErrorMsg,
		&args.CreatedAt,
		&args.UpdatedAt,
		&args.ExpiresAt,
	}
}

func (args *jobScanArgs) apply(job *Job) {
	job.ArtifactRef = args.ArtifactRef.String
	job.Error = args.ErrorMsg.String
	job.CreatedAt = fromUnixNano(args.CreatedAt)
	job.UpdatedAt = fromUnixNano(args.UpdatedAt)
	if args.ExpiresAt.Valid {
		t := fromUnixNano(args.ExpiresAt.Int64)
		job.ExpiresAt = &t
	} else {
		job.ExpiresAt = nil
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob scans a single job from a *sql.Row or *sql.Rows
func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var args jobScanArgs
	if err := row.Scan(jobScanTargets(&job, &args)...); err != nil {
		return nil, err
	}
	args.apply(&job)
	return &job, nil
}

const jobSelectColumns = `key, status, artifact_ref, error, created_at, updated_at, expires_at`

// jobWriteArgs returns column values in jobSelectColumns order.
func jobWriteArgs(job *Job) []interface{} {
	var expires sql.NullInt64
	if job.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: toUnixNano(*job.ExpiresAt), Valid: true}
	}
	return []interface{}{
		job.Key,
		string(job.Status),
		sql.NullString{String: job.ArtifactRef, Valid: job.ArtifactRef != ""},
		sql.NullString{String: job.Error, Valid: job.Error != ""},
		toUnixNano(job.CreatedAt),
		toUnixNano(job.UpdatedAt),
		expires,
	}
}

func toUnixNano(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
