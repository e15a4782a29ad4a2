package async

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
)

// DefaultCallTimeout bounds every collaborator call made during admission.
const DefaultCallTimeout = 15 * time.Second

// DispatcherConfig configures admission
type DispatcherConfig struct {
	MaxDuration time.Duration
	CallTimeout time.Duration
	Naming      Naming
	Clock       Clock
}

// Dispatcher admits submissions: it validates keys, deduplicates against the
// record store and enqueues work for winning creations only.
type Dispatcher struct {
	store       RecordStore
	queue       JobQueue
	artifacts   ArtifactStore
	extractor   Extractor
	naming      Naming
	maxDuration atomic.Int64
	callTimeout time.Duration
	now         Clock
	logger      *zap.SugaredLogger
}

// NewDispatcher wires a dispatcher to its collaborators
func NewDispatcher(store RecordStore, queue JobQueue, artifacts ArtifactStore, extractor Extractor, cfg DispatcherConfig, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	d := &Dispatcher{
		store:       store,
		queue:       queue,
		artifacts:   artifacts,
		extractor:   extractor,
		naming:      cfg.Naming,
		callTimeout: cfg.CallTimeout,
		now:         cfg.Clock.orDefault(),
		logger:      logger.AddDispatchSymbol(log.Named("dispatcher")),
	}
	d.maxDuration.Store(int64(cfg.MaxDuration))
	return d
}

// SetMaxDuration changes the duration limit for subsequent submissions.
func (d *Dispatcher) SetMaxDuration(max time.Duration) {
	d.maxDuration.Store(int64(max))
}

// MaxDuration returns the current duration limit.
func (d *Dispatcher) MaxDuration() time.Duration {
	return time.Duration(d.maxDuration.Load())
}

// Submit admits key and returns the job that represents it.
//
// Errors are either a ValidationError (see errors.AsValidationError) or an
// internal error marked transient (see errors.IsTransient).
func (d *Dispatcher) Submit(ctx context.Context, key string) (*Job, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, d.logger).With(logger.FieldKey, key)

	existing, err := d.getJob(ctx, key)
	if errors.IsNotFoundError(err) {
		return d.admit(ctx, log, key, nil)
	}
	if err != nil {
		return nil, errors.MarkTransient(err)
	}

	switch existing.Status {
	case JobStatusPending:
		return existing, nil

	case JobStatusFailed:
		if !existing.Expired(d.now()) {
			return existing, nil
		}
		log.Infow("Cool-down elapsed, re-admitting failed job")
		return d.forceAdmit(ctx, log, existing)

	case JobStatusComplete:
		ok, err := d.artifactExists(ctx, key)
		if err != nil {
			return nil, errors.MarkTransient(err)
		}
		if ok {
			return existing, nil
		}
		log.Infow("Artifact missing for complete job, re-admitting", logger.FieldArtifact, existing.ArtifactRef)
		return d.forceAdmit(ctx, log, existing)

	default:
		return nil, errors.MarkTransient(errors.Newf("job %s has unknown status %q", key, existing.Status))
	}
}

// forceAdmit re-admits an existing job. When the key no longer validates the
// stale record is deleted and the validation error returned.
func (d *Dispatcher) forceAdmit(ctx context.Context, log *zap.SugaredLogger, existing *Job) (*Job, error) {
	job, err := d.admit(ctx, log, existing.Key, existing)
	if _, invalid := errors.AsValidationError(err); invalid {
		if delErr := d.deleteJob(ctx, existing.Key); delErr != nil {
			return nil, errors.MarkTransient(errors.WithSecondaryError(delErr, err))
		}
		log.Infow("Deleted stale job that no longer validates", logger.FieldError, err)
	}
	return job, err
}

// admit validates key and performs the conditional write. expected is nil
// for a first admission and the current row for a forced one.
func (d *Dispatcher) admit(ctx context.Context, log *zap.SugaredLogger, key string, expected *Job) (*Job, error) {
	if err := d.validate(ctx, key); err != nil {
		if ve, ok := errors.AsValidationError(err); ok {
			log.Infow("Rejected submission", logger.FieldReason, ve.Reason)
		}
		return nil, err
	}

	now := d.now()
	var res CreateResult
	var err error
	if expected == nil {
		res, err = d.create(ctx, NewJob(key, now))
	} else {
		job := expected.Clone()
		job.Reset(now)
		res, err = d.replace(ctx, job, expected)
	}
	if err != nil {
		return nil, errors.MarkTransient(err)
	}

	if res.Outcome == AlreadyExists {
		log.Debugw("Lost admission race, returning existing job", logger.FieldStatus, res.Job.Status)
		return res.Job, nil
	}

	if err := d.enqueue(ctx, key); err != nil {
		// The PENDING row stays behind; a later sweep reclaims it.
		log.Errorw("Failed to enqueue admitted job", logger.FieldError, err)
		return nil, errors.MarkTransient(err)
	}

	log.Infow("Admitted job", logger.FieldStatus, res.Job.Status, "forced", expected != nil)
	return res.Job, nil
}

// validate probes metadata for key and applies the duration policy.
func (d *Dispatcher) validate(ctx context.Context, key string) error {
	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	meta, err := d.extractor.Probe(callCtx, key)
	if err != nil {
		// The caller going away or local throttling is not a verdict on the resource
		if ctx.Err() != nil {
			return errors.MarkTransient(errors.Wrapf(ctx.Err(), "probe %s", key))
		}
		if errors.IsTransient(err) {
			return err
		}
		return errors.WithSecondaryError(
			errors.NewValidationError(key, errors.ReasonResourceUnavailable, "%s", err.Error()), err)
	}
	return Policy{MaxDuration: d.MaxDuration()}.Check(key, meta)
}

func (d *Dispatcher) getJob(ctx context.Context, key string) (*Job, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	return d.store.GetJob(callCtx, key)
}

func (d *Dispatcher) create(ctx context.Context, job *Job) (CreateResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	return d.store.CreateJob(callCtx, job)
}

func (d *Dispatcher) replace(ctx context.Context, job, expected *Job) (CreateResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	return d.store.ReplaceJob(callCtx, job, expected)
}

func (d *Dispatcher) deleteJob(ctx context.Context, key string) error {
	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	return d.store.DeleteJob(callCtx, key)
}

func (d *Dispatcher) artifactExists(ctx context.Context, key string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	ok, err := d.artifacts.Exists(callCtx, d.naming.Name(key))
	return ok, errors.Wrapf(err, "failed to check artifact for %s", key)
}

func (d *Dispatcher) enqueue(ctx context.Context, key string) error {
	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	return d.queue.Send(callCtx, Message{Key: key})
}
