// Package watch fans one status poll per key out to every caller waiting on it.
package watch

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/async"
)

// Fetcher reads the current state of a job. The record store and the HTTP
// client both satisfy it.
type Fetcher interface {
	GetJob(ctx context.Context, key string) (*async.Job, error)
}

// Result is the terminal outcome delivered to a waiter. Exactly one of Job
// and Err is set.
type Result struct {
	Key string
	Job *async.Job
	Err error
}

// ErrStopped is returned by Watch after Stop.
var ErrStopped = errors.New("multiplexer stopped")

// Config contains configuration for the multiplexer
type Config struct {
	Interval    time.Duration // Poll period
	CallTimeout time.Duration // Bound on each fetch
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// Multiplexer keeps, per key, the set of requesters waiting for that key to
// reach a terminal status.
type Multiplexer struct {
	fetcher Fetcher
	cfg     Config

	mu      sync.Mutex
	waiters map[string]map[string]chan Result
	stopped bool

	pollMu sync.Mutex // one poll at a time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger
}

// New creates a multiplexer whose polling loop is bounded by ctx
func New(ctx context.Context, fetcher Fetcher, cfg Config, log *zap.SugaredLogger) *Multiplexer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaults.CallTimeout
	}
	mctx, cancel := context.WithCancel(ctx)
	return &Multiplexer{
		fetcher: fetcher,
		cfg:     cfg,
		waiters: make(map[string]map[string]chan Result),
		ctx:     mctx,
		cancel:  cancel,
		logger:  logger.AddWatchSymbol(log.Named("watch")),
	}
}

// Watch registers requester as a waiter on key. The returned channel
// receives one Result and is then closed; it is closed without a Result if
// the requester cancels. Watching the same key twice with the same requester
// returns the original channel.
func (m *Multiplexer) Watch(key, requester string) (<-chan Result, error) {
	if key == "" || requester == "" {
		return nil, errors.Mark(errors.New("key and requester are required"), errors.ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, ErrStopped
	}

	set, ok := m.waiters[key]
	if !ok {
		set = make(map[string]chan Result)
		m.waiters[key] = set
	}
	if ch, ok := set[requester]; ok {
		return ch, nil
	}
	ch := make(chan Result, 1)
	set[requester] = ch

	m.logger.Debugw("Waiter registered", logger.FieldKey, key, logger.FieldRequester, requester, "waiters", len(set))
	return ch, nil
}

// Cancel removes requester from key's waiters and closes its channel.
// Reports whether the requester was waiting.
func (m *Multiplexer) Cancel(key, requester string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.waiters[key]
	if !ok {
		return false
	}
	ch, ok := set[requester]
	if !ok {
		return false
	}
	delete(set, requester)
	close(ch)
	if len(set) == 0 {
		delete(m.waiters, key)
	}
	return true
}

// Keys returns the watched keys in sorted order.
func (m *Multiplexer) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.waiters))
	for k := range m.waiters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Waiters returns how many requesters wait on key.
func (m *Multiplexer) Waiters(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters[key])
}

// Poll checks every watched key once. Terminal jobs and fetch errors are
// delivered to all current waiters of the key, which is then dropped.
// Returns the number of keys resolved.
func (m *Multiplexer) Poll(ctx context.Context) int {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	resolved := 0
	for _, key := range m.Keys() {
		if ctx.Err() != nil {
			break
		}
		job, err := m.fetch(ctx, key)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				// Shutting down, not a verdict on the key
				return resolved
			}
			m.logger.Warnw("Status fetch failed, releasing waiters", logger.FieldKey, key, logger.FieldError, err)
			m.deliver(Result{Key: key, Err: err})
			resolved++
		case job.IsTerminal():
			m.deliver(Result{Key: key, Job: job})
			resolved++
		}
	}
	return resolved
}

func (m *Multiplexer) fetch(ctx context.Context, key string) (*async.Job, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.cfg.CallTimeout)
	defer cancel()
	job, err := m.fetcher.GetJob(callCtx, key)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch status of %s", key)
	}
	if job == nil {
		return nil, errors.NewNotFoundError("job %s", key)
	}
	return job, nil
}

// deliver sends r to every waiter registered for r.Key at this moment and
// forgets the key.
func (m *Multiplexer) deliver(r Result) {
	m.mu.Lock()
	set := m.waiters[r.Key]
	delete(m.waiters, r.Key)
	m.mu.Unlock()

	for _, ch := range set {
		ch <- r // buffered, sent at most once
		close(ch)
	}

	fields := []interface{}{logger.FieldKey, r.Key, logger.FieldCount, len(set)}
	if r.Job != nil {
		fields = append(fields, logger.FieldStatus, r.Job.Status)
	}
	m.logger.Infow("Delivered terminal status", fields...)
}

// Start begins the polling loop
func (m *Multiplexer) Start() {
	m.wg.Add(1)
	go m.run()
	m.logger.Infow("Status multiplexer started", "interval", m.cfg.Interval)
}

// Stop ends the polling loop and closes every outstanding waiter channel
func (m *Multiplexer) Stop() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.stopped = true
	pending := m.waiters
	m.waiters = make(map[string]map[string]chan Result)
	m.mu.Unlock()

	n := 0
	for _, set := range pending {
		for _, ch := range set {
			close(ch)
			n++
		}
	}
	m.logger.Infow("Status multiplexer stopped", "abandoned_waiters", n)
}

func (m *Multiplexer) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Poll(m.ctx)
		}
	}
}
