package async

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/sym"
)

// DefaultCoolDown is how long a FAILED job blocks resubmission.
const DefaultCoolDown = time.Minute

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations:
// Starting (✿) for startup, Closing (❀) for shutdown, Pulse for per-job lines.
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.With(logger.FieldSymbol, sym.PulseOpen).Infow(msg, keysAndValues...)
}

// Closing logs a Closing (❀) event
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.With(logger.FieldSymbol, sym.PulseClose).Infow(msg, keysAndValues...)
}

// Pulse logs general worker operations
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.With(logger.FieldSymbol, sym.Pulse).Infow(msg, keysAndValues...)
}

// WorkerConfig configures message handling
type WorkerConfig struct {
	MaxDuration time.Duration // Re-validation limit
	CoolDown    time.Duration // FAILED jobs expire after this
	CallTimeout time.Duration // Bound on probe+extract+upload for one message
	WorkDir     string        // Scratch space parent (empty = OS temp dir)
	Naming      Naming
	Clock       Clock
}

// Worker handles one delivery at a time: extract, upload, record, ack.
// Every delivery is acknowledged, whatever the outcome.
type Worker struct {
	store     RecordStore
	queue     JobQueue
	artifacts ArtifactStore
	extractor Extractor
	cfg       WorkerConfig
	now       Clock
	logger    pulseLogger
}

// NewWorker wires a worker to its collaborators
func NewWorker(store RecordStore, queue JobQueue, artifacts ArtifactStore, extractor Extractor, cfg WorkerConfig, log *zap.SugaredLogger) *Worker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = DefaultCoolDown
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultVisibilityTimeout
	}
	return &Worker{
		store:     store,
		queue:     queue,
		artifacts: artifacts,
		extractor: extractor,
		cfg:       cfg,
		now:       cfg.Clock.orDefault(),
		logger:    pulseLogger{log.Named("worker")},
	}
}

// Handle processes one delivery. The returned error reports only a failed
// acknowledgement; processing failures are recorded on the job instead.
func (w *Worker) Handle(ctx context.Context, d Delivery) error {
	msg, err := DecodeMessage(d.Body)
	if err != nil {
		w.logger.Errorw("Dropping malformed queue message",
			"message_id", d.ID,
			logger.FieldReceiveCount, d.ReceiveCount,
			logger.FieldError, err)
		return w.ack(ctx, d)
	}

	log := pulseLogger{w.logger.With(logger.FieldKey, msg.Key, logger.FieldReceiveCount, d.ReceiveCount)}

	current, err := w.getJob(ctx, msg.Key)
	if err != nil && !errors.IsNotFoundError(err) {
		log.Warnw("Could not read job before processing", logger.FieldError, err)
		current = nil
	}
	if current != nil && current.Status == JobStatusComplete {
		log.Infow("Job already complete, acknowledging duplicate delivery")
		return w.ack(ctx, d)
	}

	start := time.Now()
	ref, stage, procErr := w.process(ctx, msg.Key)

	job := current
	if job == nil {
		// Row reclaimed or never written; record the outcome anyway
		job = NewJob(msg.Key, w.now())
	}
	if procErr == nil {
		job.Complete(ref, w.now())
	} else {
		ec := ClassifyError(stage, procErr)
		log.Warnw("Job failed",
			logger.FieldStage, ec.Stage,
			logger.FieldErrorCode, ec.Code,
			logger.FieldReason, ec.Reason,
			"retryable", ec.Retryable,
			logger.FieldError, procErr)
		job.Fail(FailureMessage(msg.Key, w.cfg.CoolDown), w.now(), w.cfg.CoolDown)
	}

	applied, err := w.saveJob(ctx, job)
	switch {
	case err != nil:
		log.Errorw("Failed to record job outcome", logger.FieldStatus, job.Status, logger.FieldError, err)
	case !applied:
		log.Warnw("Newer job state already recorded, outcome discarded", logger.FieldStatus, job.Status)
	default:
		log.Pulse("Job finished",
			logger.FieldStatus, job.Status,
			logger.FieldArtifact, job.ArtifactRef,
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	}

	return w.ack(ctx, d)
}

// process runs probe, policy, extraction and upload for key. On failure it
// reports the stage that failed.
func (w *Worker) process(ctx context.Context, key string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
	defer cancel()

	meta, err := w.extractor.Probe(ctx, key)
	if err != nil {
		return "", StageProbe, errors.Wrapf(err, "probe %s", key)
	}
	if err := (Policy{MaxDuration: w.cfg.MaxDuration}).Check(key, meta); err != nil {
		return "", StageValidate, err
	}

	dir, err := os.MkdirTemp(w.cfg.WorkDir, "ytmp3-"+key+"-")
	if err != nil {
		return "", StageExtract, errors.Wrap(err, "failed to create work dir")
	}
	defer os.RemoveAll(dir)

	path, err := w.extractor.Extract(ctx, key, dir)
	if err != nil {
		return "", StageExtract, errors.Wrapf(err, "extract %s", key)
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", StageUpload, errors.Wrapf(err, "open extracted artifact %s", path)
	}
	defer f.Close()

	ref, err := w.artifacts.Upload(ctx, w.cfg.Naming.Name(key), f)
	if err != nil {
		return "", StageUpload, errors.Wrapf(err, "upload %s", key)
	}
	return ref, "", nil
}

func (w *Worker) getJob(ctx context.Context, key string) (*Job, error) {
	callCtx, cancel := context.WithTimeout(ctx, DefaultCallTimeout)
	defer cancel()
	return w.store.GetJob(callCtx, key)
}

func (w *Worker) saveJob(ctx context.Context, job *Job) (bool, error) {
	// The outcome is recorded even if processing ran into the handling deadline
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultCallTimeout)
	defer cancel()
	return w.store.SaveJob(callCtx, job)
}

func (w *Worker) ack(ctx context.Context, d Delivery) error {
	// Ack even when the handling context is done so the message is not redelivered needlessly
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultCallTimeout)
	defer cancel()
	if err := w.queue.Ack(ackCtx, d); err != nil {
		return errors.Wrapf(err, "failed to ack message %d", d.ID)
	}
	return nil
}

// WorkerPool runs several workers against one queue
type WorkerPool struct {
	queue         JobQueue
	worker        *Worker
	poolConfig    WorkerPoolConfig
	workers       int
	parentCtx     context.Context
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	jobsProcessed int
	activeWorkers int
	startTime     time.Time
	logger        pulseLogger
	mu            sync.Mutex
}

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers      int           `json:"workers"`       // Number of concurrent workers
	PollInterval time.Duration `json:"poll_interval"` // Delay after an empty receive
	BatchSize    int           `json:"batch_size"`    // Messages claimed per receive
	StopTimeout  time.Duration `json:"stop_timeout"`  // How long Stop waits for in-flight jobs
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:      1,
		PollInterval: time.Second,
		BatchSize:    1,
		StopTimeout:  30 * time.Second,
	}
}

// NewWorkerPool creates a pool whose lifetime is bounded by ctx
func NewWorkerPool(ctx context.Context, queue JobQueue, worker *Worker, poolCfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	defaults := DefaultWorkerPoolConfig()
	if poolCfg.PollInterval <= 0 {
		poolCfg.PollInterval = defaults.PollInterval
	}
	if poolCfg.BatchSize <= 0 {
		poolCfg.BatchSize = defaults.BatchSize
	}
	if poolCfg.StopTimeout <= 0 {
		poolCfg.StopTimeout = defaults.StopTimeout
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		queue:      queue,
		worker:     worker,
		poolConfig: poolCfg,
		workers:    poolCfg.Workers,
		parentCtx:  ctx,
		ctx:        workerCtx,
		cancel:     cancel,
		logger:     pulseLogger{log.Named("pulse")},
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	select {
	case <-wp.ctx.Done():
		// Restart after Stop
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if warning := wp.checkMemoryPressure(); warning != "" {
		wp.logger.Warnw("Memory pressure warning", "warning", warning, "workers", wp.workers)
	}

	wp.logger.Starting("Starting worker pool",
		"workers", wp.workers,
		"poll_interval", wp.poolConfig.PollInterval,
		logger.FieldBatchSize, wp.poolConfig.BatchSize)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.run(i)
	}
}

// Stop cancels the workers and waits for in-flight messages, up to StopTimeout
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	cancel := wp.cancel
	wp.mu.Unlock()
	cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Closing("Worker pool stopped, all workers exited cleanly", "jobs_processed", wp.JobsProcessed())
	case <-time.After(wp.poolConfig.StopTimeout):
		wp.logger.Closing("Worker pool stop timed out, workers may still be finishing", "timeout", wp.poolConfig.StopTimeout)
	}
}

// run is one worker loop: drain the queue, then wait PollInterval
func (wp *WorkerPool) run(id int) {
	defer wp.wg.Done()

	wp.mu.Lock()
	ctx := wp.ctx
	wp.mu.Unlock()

	ticker := time.NewTicker(wp.poolConfig.PollInterval)
	defer ticker.Stop()

	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		n, err := wp.ProcessOnce(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) {
				return
			}
			errorCount++
			wp.logger.Errorw("Worker error processing queue",
				logger.FieldWorkerID, id,
				logger.FieldError, err,
				"consecutive_errors", errorCount)

			if errorCount >= maxConsecutiveErrors {
				wp.logger.Warnw("Worker backing off due to consecutive errors",
					logger.FieldWorkerID, id,
					"backoff", backoffDuration,
					"consecutive_errors", errorCount)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffDuration):
				}
				backoffDuration = min(backoffDuration*2, maxBackoff)
			}
		} else {
			if errorCount > 0 {
				wp.logger.Infow("Worker recovered from errors",
					logger.FieldWorkerID, id,
					"previous_error_count", errorCount)
			}
			errorCount = 0
			backoffDuration = time.Second

			// A full batch suggests more work is waiting
			if n >= wp.poolConfig.BatchSize {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce receives one batch and handles each delivery. Returns how many
// deliveries were received.
func (wp *WorkerPool) ProcessOnce(ctx context.Context) (int, error) {
	deliveries, err := wp.queue.Receive(ctx, wp.poolConfig.BatchSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to receive")
	}

	var ackErr error
	for _, d := range deliveries {
		wp.setActive(1)
		// Deliveries already claimed are finished even during shutdown
		err := wp.worker.Handle(context.WithoutCancel(ctx), d)
		wp.setActive(-1)
		if err != nil {
			ackErr = errors.CombineErrors(ackErr, err)
		}
	}

	wp.mu.Lock()
	wp.jobsProcessed += len(deliveries)
	wp.mu.Unlock()

	return len(deliveries), ackErr
}

func (wp *WorkerPool) setActive(delta int) {
	wp.mu.Lock()
	wp.activeWorkers += delta
	wp.mu.Unlock()
}

// JobsProcessed returns the number of deliveries handled since Start
func (wp *WorkerPool) JobsProcessed() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.jobsProcessed
}
