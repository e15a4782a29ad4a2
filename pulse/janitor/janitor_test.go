package janitor

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/ytmp3/errors"
	ytest "github.com/teranos/ytmp3/internal/testing"
	"github.com/teranos/ytmp3/pulse/async"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// blobs is an in-memory ArtifactStore that records DeleteBatch calls.
type blobs struct {
	mu       sync.Mutex
	names    map[string]bool
	batches  [][]string
	failNext int
	stuck    map[string]bool // names that can never be deleted
}

func newBlobs() *blobs { return &blobs{names: make(map[string]bool)} }

func (b *blobs) Exists(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.names[name], nil
}

func (b *blobs) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names[name] = true
	return "mem://" + name, nil
}

func (b *blobs) DeleteBatch(ctx context.Context, names []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext > 0 {
		b.failNext--
		return errors.New("SlowDown: please reduce your request rate")
	}
	b.batches = append(b.batches, append([]string(nil), names...))
	var failed []string
	for _, n := range names {
		if b.stuck[n] {
			failed = append(failed, n)
			continue
		}
		delete(b.names, n)
	}
	if len(failed) > 0 {
		return &async.DeleteError{Failed: failed, Cause: errors.New("AccessDenied: Access Denied")}
	}
	return nil
}

func seed(t *testing.T, store *async.SQLStore, artifacts *blobs, key string, updated time.Time) {
	t.Helper()
	job := async.NewJob(key, updated)
	job.Complete("mem://"+key+".mp3", updated)
	_, err := store.SaveJob(context.Background(), job)
	require.NoError(t, err)
	artifacts.names[key+".mp3"] = true
}

func newJanitor(t *testing.T, store Store, artifacts async.ArtifactStore, batch, scan int) *Janitor {
	cfg := DefaultConfig()
	cfg.Retention = 2 * time.Hour
	cfg.BatchSize = batch
	cfg.ScanLimit = scan
	cfg.Clock = func() time.Time { return t0 }
	return New(context.Background(), store, artifacts, cfg, zaptest.NewLogger(t).Sugar())
}

func TestSweepReclaimsOnlyExpiredJobs(t *testing.T) {
	store := async.NewSQLStore(ytest.CreateTestDB(t))
	artifacts := newBlobs()

	t.Log("⌫ Three jobs are past the two hour horizon, two are inside it")
	seed(t, store, artifacts, "old1", t0.Add(-5*time.Hour))
	seed(t, store, artifacts, "old2", t0.Add(-3*time.Hour))
	seed(t, store, artifacts, "old3", t0.Add(-2*time.Hour-time.Second))
	seed(t, store, artifacts, "new1", t0.Add(-2*time.Hour+time.Second))
	seed(t, store, artifacts, "new2", t0.Add(-time.Minute))

	j := newJanitor(t, store, artifacts, 2, 0)
	n, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, j.Reclaimed())

	for _, key := range []string{"old1", "old2", "old3"} {
		_, err := store.GetJob(context.Background(), key)
		assert.True(t, errors.IsNotFoundError(err), "%s should be reclaimed", key)
		assert.False(t, artifacts.names[key+".mp3"])
	}
	for _, key := range []string{"new1", "new2"} {
		_, err := store.GetJob(context.Background(), key)
		assert.NoError(t, err, "%s is inside the horizon", key)
		assert.True(t, artifacts.names[key+".mp3"])
	}

	require.Len(t, artifacts.batches, 2, "batch size 2 splits three keys into two deletes")
	assert.Len(t, artifacts.batches[0], 2)
	assert.Len(t, artifacts.batches[1], 1)
}

func TestSweepIsIndependentOfBatchSize(t *testing.T) {
	for _, batch := range []int{1, 3, 7, 1000} {
		t.Run(fmt.Sprintf("batch=%d", batch), func(t *testing.T) {
			store := async.NewSQLStore(ytest.CreateTestDB(t))
			artifacts := newBlobs()
			for i := 0; i < 10; i++ {
				seed(t, store, artifacts, fmt.Sprintf("old%02d", i), t0.Add(-3*time.Hour))
				seed(t, store, artifacts, fmt.Sprintf("new%02d", i), t0.Add(-time.Hour))
			}

			n, err := newJanitor(t, store, artifacts, batch, 0).Sweep(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 10, n)

			counts, err := store.CountByStatus(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 10, counts[async.JobStatusComplete])
		})
	}
}

func TestSweepFollowsScanLimitAcrossPasses(t *testing.T) {
	store := async.NewSQLStore(ytest.CreateTestDB(t))
	artifacts := newBlobs()
	for i := 0; i < 7; i++ {
		seed(t, store, artifacts, fmt.Sprintf("old%02d", i), t0.Add(-3*time.Hour))
	}

	n, err := newJanitor(t, store, artifacts, 1000, 3).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Len(t, artifacts.batches, 3, "passes of 3, 3 and 1")
}

func TestSweepKeepsRecordsWhenArtifactDeleteFails(t *testing.T) {
	store := async.NewSQLStore(ytest.CreateTestDB(t))
	artifacts := newBlobs()
	seed(t, store, artifacts, "old1", t0.Add(-3*time.Hour))
	seed(t, store, artifacts, "old2", t0.Add(-4*time.Hour))

	t.Log("The first batch hits a throttled artifact store, the second goes through")
	artifacts.failNext = 1
	j := newJanitor(t, store, artifacts, 1, 0)
	n, err := j.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SlowDown")
	assert.Equal(t, 1, n, "later batches still run")

	_, err = store.GetJob(context.Background(), "old2")
	assert.NoError(t, err, "oldest job's batch failed, its record stays for the next sweep")
	_, err = store.GetJob(context.Background(), "old1")
	assert.True(t, errors.IsNotFoundError(err))

	t.Log("The next sweep finishes the job")
	n, err = j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweepReclaimsAroundUndeletableArtifact(t *testing.T) {
	store := async.NewSQLStore(ytest.CreateTestDB(t))
	artifacts := newBlobs()
	artifacts.stuck = map[string]bool{"denied.mp3": true}

	t.Log("⌫ The oldest stale job's artifact can never be deleted, five more stale jobs sit behind it")
	seed(t, store, artifacts, "denied", t0.Add(-10*time.Hour))
	for i := 0; i < 5; i++ {
		seed(t, store, artifacts, fmt.Sprintf("old%02d", i), t0.Add(-3*time.Hour-time.Duration(i)*time.Minute))
	}

	cfg := DefaultConfig()
	cfg.Clock = func() time.Time { return t0 }
	j := New(context.Background(), store, artifacts, cfg, zaptest.NewLogger(t).Sugar())

	n, err := j.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
	assert.Equal(t, 5, n, "every other key in the batch is reclaimed")

	t.Log("Later sweeps keep retrying the stuck artifact without blocking anything")
	for sweep := 1; sweep < 3; sweep++ {
		n, err := j.Sweep(context.Background())
		require.Error(t, err)
		assert.Zero(t, n, "sweep %d", sweep)
	}

	job, err := store.GetJob(context.Background(), "denied")
	require.NoError(t, err, "record stays while its artifact exists")
	assert.Equal(t, "denied", job.Key)
	assert.True(t, artifacts.names["denied.mp3"])

	stale, err := store.ListJobsUpdatedBefore(context.Background(), t0.Add(-2*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, stale, 1, "only the stuck job is left")

	t.Log("Once the artifact becomes deletable the next sweep finishes")
	artifacts.mu.Lock()
	delete(artifacts.stuck, "denied.mp3")
	artifacts.mu.Unlock()
	n, err = j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 6, j.Reclaimed())
}

func TestSweepReclaimsAcrossPagesWithStuckArtifact(t *testing.T) {
	store := async.NewSQLStore(ytest.CreateTestDB(t))
	artifacts := newBlobs()
	artifacts.stuck = map[string]bool{"denied.mp3": true}
	seed(t, store, artifacts, "denied", t0.Add(-10*time.Hour))
	for i := 0; i < 6; i++ {
		seed(t, store, artifacts, fmt.Sprintf("old%02d", i), t0.Add(-3*time.Hour))
	}

	t.Log("Pages of three: the stuck row is relisted each pass while the others drain")
	n, err := newJanitor(t, store, artifacts, 1000, 3).Sweep(context.Background())
	require.Error(t, err)
	assert.Equal(t, 6, n)
}

// failingStore lists fine but cannot delete.
type failingStore struct {
	Store
}

func (f failingStore) DeleteJobsBefore(ctx context.Context, keys []string, cutoff time.Time) (int, error) {
	return 0, errors.New("database is locked")
}

func TestSweepLogsRecordDeleteFailures(t *testing.T) {
	store := async.NewSQLStore(ytest.CreateTestDB(t))
	artifacts := newBlobs()
	seed(t, store, artifacts, "old1", t0.Add(-3*time.Hour))

	n, err := newJanitor(t, failingStore{store}, artifacts, 10, 0).Sweep(context.Background())
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "database is locked")
	assert.False(t, artifacts.names["old1.mp3"], "artifact delete precedes record delete")
}

func TestSetRetention(t *testing.T) {
	store := async.NewSQLStore(ytest.CreateTestDB(t))
	artifacts := newBlobs()
	seed(t, store, artifacts, "mid1", t0.Add(-90*time.Minute))

	j := newJanitor(t, store, artifacts, 10, 0)
	n, err := j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	j.SetRetention(time.Hour)
	assert.Equal(t, time.Hour, j.Retention())
	n, err = j.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	j.SetRetention(0)
	assert.Equal(t, time.Hour, j.Retention(), "non-positive retention is ignored")
}

func TestJanitorStartStop(t *testing.T) {
	store := async.NewSQLStore(ytest.CreateTestDB(t))
	artifacts := newBlobs()
	seed(t, store, artifacts, "old1", t0.Add(-3*time.Hour))

	cfg := DefaultConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.Clock = func() time.Time { return t0 }
	j := New(context.Background(), store, artifacts, cfg, zaptest.NewLogger(t).Sugar())

	j.Start()
	require.Eventually(t, func() bool { return j.Reclaimed() == 1 }, 5*time.Second, 10*time.Millisecond)
	j.Stop()
	assert.False(t, j.LastSweep().IsZero())
}
