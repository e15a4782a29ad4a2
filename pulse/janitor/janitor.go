// Package janitor reclaims jobs and artifacts that outlived the retention window.
package janitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/async"
)

// MaxBatchSize is the largest batch the artifact store deletes in one call.
const MaxBatchSize = 1000

// Store is the part of the record store the janitor needs.
type Store interface {
	ListJobsUpdatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*async.Job, error)
	DeleteJobsBefore(ctx context.Context, keys []string, cutoff time.Time) (int, error)
}

// Config contains configuration for the janitor
type Config struct {
	Interval    time.Duration // How often Start sweeps
	Retention   time.Duration // Jobs untouched for longer are reclaimed
	BatchSize   int           // Keys per delete, capped at MaxBatchSize
	ScanLimit   int           // Rows listed per pass (0 = all)
	CallTimeout time.Duration // Bound on each store call
	Naming      async.Naming
	Clock       async.Clock
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:    10 * time.Minute,
		Retention:   2 * time.Hour,
		BatchSize:   MaxBatchSize,
		ScanLimit:   MaxBatchSize,
		CallTimeout: 30 * time.Second,
		Naming:      async.Naming{Ext: "mp3"},
	}
}

// Janitor deletes artifacts first, then their records, batch by batch.
type Janitor struct {
	store     Store
	artifacts async.ArtifactStore
	cfg       Config
	retention atomic.Int64
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	mu        sync.Mutex
	lastSweep time.Time
	reclaimed int
}

// New creates a janitor whose periodic loop is bounded by ctx
func New(ctx context.Context, store Store, artifacts async.ArtifactStore, cfg Config, log *zap.SugaredLogger) *Janitor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = defaults.Retention
	}
	if cfg.BatchSize <= 0 || cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}
	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	jctx, cancel := context.WithCancel(ctx)
	j := &Janitor{
		store:     store,
		artifacts: artifacts,
		cfg:       cfg,
		now:       now,
		ctx:       jctx,
		cancel:    cancel,
		logger:    logger.AddJanitorSymbol(log.Named("janitor")),
	}
	j.retention.Store(int64(cfg.Retention))
	return j
}

// SetRetention changes the retention window for subsequent sweeps.
func (j *Janitor) SetRetention(d time.Duration) {
	if d > 0 {
		j.retention.Store(int64(d))
	}
}

// Retention returns the current retention window.
func (j *Janitor) Retention() time.Duration {
	return time.Duration(j.retention.Load())
}

// Sweep reclaims every job last updated before now minus the retention
// window. Failed batches are logged and skipped; their errors are combined
// into the returned error.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.Retention())
	start := time.Now()
	log := j.logger.With(logger.FieldCutoff, cutoff)

	total := 0
	var sweepErr error
	for pass := 0; ; pass++ {
		jobs, err := j.list(ctx, cutoff)
		if err != nil {
			return total, errors.CombineErrors(sweepErr, errors.Wrap(err, "failed to list expired jobs"))
		}
		if len(jobs) == 0 {
			break
		}
		if pass == 0 {
			log.Infow("Cleaning up expired jobs", logger.FieldTotalCount, len(jobs))
		}

		reclaimed, err := j.deleteBatches(ctx, log, jobs, cutoff)
		total += reclaimed
		sweepErr = errors.CombineErrors(sweepErr, err)

		// A short page means the scan is exhausted; a pass that reclaimed
		// nothing would only list the same rows again.
		if j.cfg.ScanLimit <= 0 || len(jobs) < j.cfg.ScanLimit || reclaimed == 0 || ctx.Err() != nil {
			break
		}
	}

	j.mu.Lock()
	j.lastSweep = start
	j.reclaimed += total
	j.mu.Unlock()

	if total > 0 || sweepErr != nil {
		log.Infow("Sweep finished",
			logger.FieldCount, total,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
			logger.FieldError, sweepErr)
	}
	return total, sweepErr
}

func (j *Janitor) deleteBatches(ctx context.Context, log *zap.SugaredLogger, jobs []*async.Job, cutoff time.Time) (int, error) {
	reclaimed := 0
	var errs error
	for start := 0; start < len(jobs); start += j.cfg.BatchSize {
		end := min(start+j.cfg.BatchSize, len(jobs))
		batch := jobs[start:end]

		names := make([]string, len(batch))
		for i, job := range batch {
			names[i] = j.cfg.Naming.Name(job.Key)
		}

		// Artifacts go first so a surviving record never points at a blob
		// that was deleted without trace. Records whose artifact could not
		// be deleted stay for the next sweep; the rest of the batch proceeds.
		keys, err := j.deleteArtifacts(ctx, batch, names)
		if err != nil {
			log.Warnw("Failed to delete artifacts, keeping their records",
				logger.FieldBatchSize, len(batch),
				"kept", len(batch)-len(keys),
				logger.FieldError, err)
			errs = errors.CombineErrors(errs, err)
		}
		if len(keys) == 0 {
			continue
		}

		n, err := j.deleteRecords(ctx, keys, cutoff)
		if err != nil {
			log.Warnw("Failed to delete job records",
				logger.FieldBatchSize, len(batch), logger.FieldError, err)
			errs = errors.CombineErrors(errs, err)
			continue
		}
		if n < len(keys) {
			log.Debugw("Some jobs were touched after listing and survive", "skipped", len(keys)-n)
		}
		reclaimed += n
	}
	return reclaimed, errs
}

func (j *Janitor) list(ctx context.Context, cutoff time.Time) ([]*async.Job, error) {
	callCtx, cancel := context.WithTimeout(ctx, j.cfg.CallTimeout)
	defer cancel()
	return j.store.ListJobsUpdatedBefore(callCtx, cutoff, j.cfg.ScanLimit)
}

// deleteArtifacts deletes the artifacts named for batch and returns the keys
// whose artifact is gone. An error that does not name its failures keeps
// the whole batch.
func (j *Janitor) deleteArtifacts(ctx context.Context, batch []*async.Job, names []string) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, j.cfg.CallTimeout)
	defer cancel()
	err := j.artifacts.DeleteBatch(callCtx, names)
	if err == nil {
		keys := make([]string, len(batch))
		for i, job := range batch {
			keys[i] = job.Key
		}
		return keys, nil
	}
	err = errors.Wrapf(err, "failed to delete %d artifacts", len(names))

	failed, ok := async.FailedDeletes(err)
	if !ok {
		return nil, err
	}
	skip := make(map[string]bool, len(failed))
	for _, name := range failed {
		skip[name] = true
	}
	keys := make([]string, 0, len(batch))
	for i, job := range batch {
		if !skip[names[i]] {
			keys = append(keys, job.Key)
		}
	}
	return keys, err
}

func (j *Janitor) deleteRecords(ctx context.Context, keys []string, cutoff time.Time) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, j.cfg.CallTimeout)
	defer cancel()
	return j.store.DeleteJobsBefore(callCtx, keys, cutoff)
}

// Start begins the periodic sweep loop
func (j *Janitor) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Infow("Janitor started", "interval", j.cfg.Interval, "retention", j.Retention())
}

// Stop gracefully stops the sweep loop
func (j *Janitor) Stop() {
	j.cancel()
	j.wg.Wait()
	j.logger.Infow("Janitor stopped", "reclaimed", j.Reclaimed())
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(j.ctx); err != nil && j.ctx.Err() == nil {
				// Don't spam logs - the next tick retries
				j.logger.Warnw("Janitor sweep error", logger.FieldError, err)
			}
		}
	}
}

// Reclaimed returns the number of jobs reclaimed since New
func (j *Janitor) Reclaimed() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.reclaimed
}

// LastSweep returns when the most recent sweep started
func (j *Janitor) LastSweep() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastSweep
}
