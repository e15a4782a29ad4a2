package async

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobLifecycle(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	job := NewJob("abc123", t0)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, t0, job.CreatedAt)
	assert.Equal(t, t0, job.UpdatedAt)
	assert.Nil(t, job.ExpiresAt)
	require.NoError(t, job.Validate())

	job.Complete("https://bucket.s3.us-east-1.amazonaws.com/abc123.mp3", t0.Add(time.Minute))
	assert.Equal(t, JobStatusComplete, job.Status)
	assert.True(t, job.IsTerminal())
	assert.Equal(t, t0.Add(time.Minute), job.UpdatedAt)
	assert.Equal(t, t0, job.CreatedAt, "created_at is fixed at creation")
	require.NoError(t, job.Validate())

	job.Reset(t0.Add(2 * time.Minute))
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Empty(t, job.ArtifactRef)
	assert.False(t, job.IsTerminal())

	job.Fail("Failed to download abc123, please try again in 1 minute", t0.Add(3*time.Minute), time.Minute)
	assert.Equal(t, JobStatusFailed, job.Status)
	require.NotNil(t, job.ExpiresAt)
	assert.Equal(t, t0.Add(4*time.Minute), *job.ExpiresAt)
	require.NoError(t, job.Validate())
}

func TestJobUpdatedAtNeverMovesBackwards(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := NewJob("abc123", t0)

	job.Complete("ref", t0.Add(-time.Hour))
	assert.Equal(t, t0, job.UpdatedAt)
}

func TestJobExpired(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := NewJob("abc123", t0)
	assert.False(t, job.Expired(t0.Add(24*time.Hour)), "jobs without expiry never expire")

	job.Fail("boom", t0, time.Minute)
	assert.False(t, job.Expired(t0.Add(59*time.Second)))
	assert.True(t, job.Expired(t0.Add(time.Minute)), "expiry is inclusive")
	assert.True(t, job.Expired(t0.Add(2*time.Minute)))
}

func TestJobCloneIsDeep(t *testing.T) {
	job := NewJob("abc123", time.Now())
	job.Fail("boom", time.Now(), time.Minute)

	c := job.Clone()
	*c.ExpiresAt = c.ExpiresAt.Add(time.Hour)
	c.Status = JobStatusPending

	assert.Equal(t, JobStatusFailed, job.Status)
	assert.NotEqual(t, *job.ExpiresAt, *c.ExpiresAt)
}

func TestJobValidate(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		job     Job
		wantErr bool
	}{
		{"pending", Job{Key: "k", Status: JobStatusPending, CreatedAt: now, UpdatedAt: now}, false},
		{"empty key", Job{Status: JobStatusPending}, true},
		{"complete without ref", Job{Key: "k", Status: JobStatusComplete, CreatedAt: now, UpdatedAt: now}, true},
		{"failed without error", Job{Key: "k", Status: JobStatusFailed, CreatedAt: now, UpdatedAt: now}, true},
		{"unknown status", Job{Key: "k", Status: "RUNNING"}, true},
		{"updated before created", Job{Key: "k", Status: JobStatusPending, CreatedAt: now, UpdatedAt: now.Add(-time.Second)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus("PENDING"))
	assert.True(t, IsValidStatus("COMPLETE"))
	assert.True(t, IsValidStatus("FAILED"))
	assert.False(t, IsValidStatus("pending"))
	assert.False(t, IsValidStatus(""))
}
