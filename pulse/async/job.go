// Package async implements the job lifecycle: admission, queue-driven
// execution and the SQLite-backed record store and queue behind them.
package async

import (
	"time"

	"github.com/teranos/ytmp3/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending  JobStatus = "PENDING"
	JobStatusComplete JobStatus = "COMPLETE"
	JobStatusFailed   JobStatus = "FAILED"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusComplete, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Clock returns the current time. Components take one so tests can pin time.
type Clock func() time.Time

func (c Clock) orDefault() Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// Job is the persisted lifecycle record for one logical key.
//
// Transitions are PENDING→COMPLETE, PENDING→FAILED, and the reset back to
// PENDING used for forced re-admission. UpdatedAt never moves backwards.
type Job struct {
	Key         string     `json:"key"`
	Status      JobStatus  `json:"status"`
	ArtifactRef string     `json:"artifact_ref,omitempty"` // set only when COMPLETE
	Error       string     `json:"error,omitempty"`        // set only when FAILED
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"` // cool-down end for FAILED jobs
}

// NewJob creates a PENDING job for key.
func NewJob(key string, now time.Time) *Job {
	now = now.UTC()
	return &Job{
		Key:       key,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// touch advances UpdatedAt to now, never backwards.
func (j *Job) touch(now time.Time) {
	now = now.UTC()
	if now.After(j.UpdatedAt) {
		j.UpdatedAt = now
	}
}

// Complete marks the job as finished with the given artifact locator
func (j *Job) Complete(artifactRef string, now time.Time) {
	j.Status = JobStatusComplete
	j.ArtifactRef = artifactRef
	j.Error = ""
	j.ExpiresAt = nil
	j.touch(now)
}

// Fail marks the job as failed. The job blocks resubmission until now+coolDown.
func (j *Job) Fail(cause string, now time.Time, coolDown time.Duration) {
	expires := now.UTC().Add(coolDown)
	j.Status = JobStatusFailed
	j.Error = cause
	j.ArtifactRef = ""
	j.ExpiresAt = &expires
	j.touch(now)
}

// Reset returns the job to PENDING for a forced re-admission.
func (j *Job) Reset(now time.Time) {
	j.Status = JobStatusPending
	j.ArtifactRef = ""
	j.Error = ""
	j.ExpiresAt = nil
	j.touch(now)
}

// IsTerminal reports whether the job reached COMPLETE or FAILED.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusComplete || j.Status == JobStatusFailed
}

// Expired reports whether the job's cool-down has elapsed at now.
// Jobs without an expiry never expire.
func (j *Job) Expired(now time.Time) bool {
	return j.ExpiresAt != nil && !now.Before(*j.ExpiresAt)
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	if j.ExpiresAt != nil {
		t := *j.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// Validate checks the per-status field invariants.
func (j *Job) Validate() error {
	if j.Key == "" {
		return errors.New("job key cannot be empty")
	}
	switch j.Status {
	case JobStatusPending:
	case JobStatusComplete:
		if j.ArtifactRef == "" {
			return errors.Newf("job %s is COMPLETE without an artifact reference", j.Key)
		}
	case JobStatusFailed:
		if j.Error == "" {
			return errors.Newf("job %s is FAILED without an error", j.Key)
		}
	default:
		return errors.Newf("job %s has unknown status %q", j.Key, j.Status)
	}
	if j.UpdatedAt.Before(j.CreatedAt) {
		return errors.Newf("job %s updated_at precedes created_at", j.Key)
	}
	return nil
}
