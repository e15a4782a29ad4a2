package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ytmp3/errors"
)

func requireReason(t *testing.T, err error, want errors.Reason) {
	t.Helper()
	ve, ok := errors.AsValidationError(err)
	require.True(t, ok, "expected ValidationError, got %v", err)
	assert.Equal(t, want, ve.Reason)
	assert.False(t, errors.IsTransient(err), "validation errors are not transient")
}

func TestDispatcherFreshSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Log("A listener asks for abc123, nobody has seen it before")
	job, err := h.dispatcher.Submit(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 1, h.depth(t))

	t.Log("They ask again before the worker gets to it")
	again, err := h.dispatcher.Submit(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, again.Status)
	assert.Equal(t, job.CreatedAt, again.CreatedAt)
	assert.Equal(t, 1, h.depth(t), "a PENDING job is never enqueued twice")

	t.Log("The worker finishes it and the next submission is served from the record")
	assert.Equal(t, 1, h.drain(t))
	done, err := h.dispatcher.Submit(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, JobStatusComplete, done.Status)
	assert.Equal(t, "mem://abc123.mp3", done.ArtifactRef)
	assert.Zero(t, h.depth(t))
}

func TestDispatcherRejectsTooLong(t *testing.T) {
	h := newHarness(t)

	_, err := h.dispatcher.Submit(context.Background(), "long01")
	requireReason(t, err, errors.ReasonExceedsDurationLimit)

	_, err = h.store.GetJob(context.Background(), "long01")
	assert.True(t, errors.IsNotFoundError(err), "rejected keys leave no record")
	assert.Zero(t, h.depth(t), "rejected keys leave no message")
}

func TestDispatcherRejectsMissingDuration(t *testing.T) {
	h := newHarness(t)

	_, err := h.dispatcher.Submit(context.Background(), "nodur1")
	requireReason(t, err, errors.ReasonNoDurationMetadata)
	assert.Zero(t, h.depth(t))
}

func TestDispatcherRejectsUnavailableResource(t *testing.T) {
	h := newHarness(t)

	_, err := h.dispatcher.Submit(context.Background(), "gone42")
	requireReason(t, err, errors.ReasonResourceUnavailable)
	assert.Contains(t, err.Error(), "Video unavailable")
	assert.Zero(t, h.depth(t))
}

func TestDispatcherRejectsMalformedKeyWithoutProbing(t *testing.T) {
	h := newHarness(t)

	for _, key := range []string{"", "abc 123", "a/b", "https://youtu.be/abc123"} {
		_, err := h.dispatcher.Submit(context.Background(), key)
		requireReason(t, err, errors.ReasonInvalidKeyFormat)
	}
	probes, _ := h.extractor.counts()
	assert.Zero(t, probes, "malformed keys never reach the extractor")
}

func TestDispatcherConcurrentSubmissionsAdmitOnce(t *testing.T) {
	h := newHarness(t)
	const submitters = 20

	t.Logf("%d submitters race for xyz999", submitters)
	var wg sync.WaitGroup
	results := make([]*Job, submitters)
	errs := make([]error, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.dispatcher.Submit(context.Background(), "xyz999")
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, JobStatusPending, results[i].Status)
		assert.Equal(t, "xyz999", results[i].Key)
		assert.True(t, results[i].CreatedAt.Equal(results[0].CreatedAt), "submitter %d saw another CreatedAt", i)
		assert.True(t, results[i].UpdatedAt.Equal(results[0].UpdatedAt), "submitter %d saw another UpdatedAt", i)
	}

	stored, err := h.store.GetJob(context.Background(), "xyz999")
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(results[0].CreatedAt), "every submitter saw the stored row")
	assert.Equal(t, 1, h.depth(t), "exactly one winner enqueues")

	counts, err := h.store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, counts[JobStatusPending])
}

func TestDispatcherRedownloadsMissingArtifact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.dispatcher.Submit(ctx, "abc123")
	require.NoError(t, err)
	h.drain(t)
	completed, err := h.store.GetJob(ctx, "abc123")
	require.NoError(t, err)

	t.Log("The artifact disappears from storage behind the record's back")
	require.NoError(t, h.artifacts.DeleteBatch(ctx, []string{"abc123.mp3"}))
	h.clock.Advance(time.Second)

	job, err := h.dispatcher.Submit(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Empty(t, job.ArtifactRef)
	assert.Equal(t, completed.CreatedAt, job.CreatedAt, "re-admission keeps created_at")
	assert.Equal(t, 1, h.depth(t))

	t.Log("A second submission during the redownload does not enqueue again")
	_, err = h.dispatcher.Submit(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, 1, h.depth(t))

	h.drain(t)
	assert.Equal(t, 1, h.artifacts.count())
	assert.Equal(t, 2, h.artifacts.uploads)
}

func TestDispatcherDeletesStaleCompleteJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.dispatcher.Submit(ctx, "abc123")
	require.NoError(t, err)
	h.drain(t)

	t.Log("Both the artifact and the upstream resource are gone")
	require.NoError(t, h.artifacts.DeleteBatch(ctx, []string{"abc123.mp3"}))
	h.extractor.remove("abc123")

	_, err = h.dispatcher.Submit(ctx, "abc123")
	requireReason(t, err, errors.ReasonResourceUnavailable)

	_, err = h.store.GetJob(ctx, "abc123")
	assert.True(t, errors.IsNotFoundError(err), "stale record is deleted")
	assert.Zero(t, h.depth(t))
}

func TestDispatcherFailedCoolDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	failed := NewJob("abc123", h.clock.Now())
	failed.Fail(FailureMessage("abc123", time.Minute), h.clock.Now(), time.Minute)
	_, err := h.store.SaveJob(ctx, failed)
	require.NoError(t, err)

	t.Log("Inside the cool-down the failure is returned as-is")
	h.clock.Advance(30 * time.Second)
	job, err := h.dispatcher.Submit(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "Failed to download abc123, please try again in 1 minute", job.Error)
	assert.Zero(t, h.depth(t))
	probes, _ := h.extractor.counts()
	assert.Zero(t, probes)

	t.Log("After the cool-down the key is admitted again")
	h.clock.Advance(30 * time.Second)
	job, err = h.dispatcher.Submit(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Nil(t, job.ExpiresAt)
	assert.Empty(t, job.Error)
	assert.Equal(t, 1, h.depth(t))
}

func TestDispatcherExpiredFailureThatNoLongerValidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	failed := NewJob("long01", h.clock.Now())
	failed.Fail("boom", h.clock.Now(), time.Minute)
	_, err := h.store.SaveJob(ctx, failed)
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)

	_, err = h.dispatcher.Submit(ctx, "long01")
	requireReason(t, err, errors.ReasonExceedsDurationLimit)

	_, err = h.store.GetJob(ctx, "long01")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestDispatcherStoreFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	broken := &brokenStore{RecordStore: h.store, err: errors.New("database is locked")}
	d := NewDispatcher(broken, h.queue, h.artifacts, h.extractor, DispatcherConfig{
		MaxDuration: 10 * time.Minute,
		Naming:      testNaming,
		Clock:       h.clock.Now,
	}, nil)

	_, err := d.Submit(context.Background(), "abc123")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	_, isValidation := errors.AsValidationError(err)
	assert.False(t, isValidation)
	assert.Zero(t, h.depth(t))
}

func TestDispatcherArtifactCheckFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.dispatcher.Submit(ctx, "abc123")
	require.NoError(t, err)
	h.drain(t)

	h.artifacts.existsErr = errors.New("AccessDenied")
	_, err = h.dispatcher.Submit(ctx, "abc123")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestDispatcherCancelledCallerIsTransient(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.dispatcher.Submit(ctx, "abc123")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	_, isValidation := errors.AsValidationError(err)
	assert.False(t, isValidation, "a caller going away says nothing about the resource")
}

func TestDispatcherMaxDurationReload(t *testing.T) {
	h := newHarness(t)

	_, err := h.dispatcher.Submit(context.Background(), "long01")
	requireReason(t, err, errors.ReasonExceedsDurationLimit)

	h.dispatcher.SetMaxDuration(time.Hour)
	assert.Equal(t, time.Hour, h.dispatcher.MaxDuration())

	job, err := h.dispatcher.Submit(context.Background(), "long01")
	require.NoError(t, err)
	assert.Equal(t, JobStatusPending, job.Status)
}
