package async

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/ytmp3/errors"
	ytest "github.com/teranos/ytmp3/internal/testing"
)

// fakeClock is a settable clock shared by every component in a test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeExtractor knows a fixed catalogue of durations. Unknown keys fail to probe.
type fakeExtractor struct {
	mu         sync.Mutex
	durations  map[string]time.Duration
	extractErr error
	probes     int
	extracts   int
}

func newFakeExtractor(durations map[string]time.Duration) *fakeExtractor {
	return &fakeExtractor{durations: durations}
}

func (f *fakeExtractor) Probe(ctx context.Context, key string) (*Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := f.durations[key]
	if !ok {
		return nil, errors.Newf("ERROR: [youtube] %s: Video unavailable", key)
	}
	return &Metadata{ID: key, Title: "title " + key, Duration: d}, nil
}

func (f *fakeExtractor) Extract(ctx context.Context, key string, dir string) (string, error) {
	f.mu.Lock()
	f.extracts++
	err := f.extractErr
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, key+".mp3")
	if err := os.WriteFile(path, []byte("ID3 audio for "+key), 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeExtractor) set(key string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations[key] = d
}

func (f *fakeExtractor) remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.durations, key)
}

func (f *fakeExtractor) counts() (probes, extracts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes, f.extracts
}

// memArtifacts is an in-memory ArtifactStore.
type memArtifacts struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	uploads   int
	existsErr error
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{blobs: make(map[string][]byte)}
}

func (m *memArtifacts) Exists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.blobs[name]
	return ok, nil
}

func (m *memArtifacts) Upload(ctx context.Context, name string, r io.Reader) (string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = b
	m.uploads++
	return "mem://" + name, nil
}

func (m *memArtifacts) DeleteBatch(ctx context.Context, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		delete(m.blobs, n)
	}
	return nil
}

func (m *memArtifacts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// brokenStore fails every read, standing in for an unavailable record store.
type brokenStore struct {
	RecordStore
	err error
}

func (b *brokenStore) GetJob(ctx context.Context, key string) (*Job, error) {
	return nil, b.err
}

// harness wires the real SQLite store and queue with fake extractor and artifacts.
type harness struct {
	clock      *fakeClock
	store      *SQLStore
	queue      *SQLQueue
	artifacts  *memArtifacts
	extractor  *fakeExtractor
	dispatcher *Dispatcher
	worker     *Worker
	log        *zap.SugaredLogger
}

var testNaming = Naming{Ext: "mp3"}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := ytest.CreateTestDB(t)
	clock := newFakeClock()
	log := zaptest.NewLogger(t).Sugar()

	h := &harness{
		clock:     clock,
		store:     NewSQLStore(db),
		queue:     NewSQLQueue(db, time.Minute, clock.Now),
		artifacts: newMemArtifacts(),
		extractor: newFakeExtractor(map[string]time.Duration{
			"abc123": 3 * time.Minute,
			"xyz999": 4 * time.Minute,
			"long01": 45 * time.Minute,
			"nodur1": 0,
		}),
		log: log,
	}
	h.dispatcher = NewDispatcher(h.store, h.queue, h.artifacts, h.extractor, DispatcherConfig{
		MaxDuration: 10 * time.Minute,
		CallTimeout: 5 * time.Second,
		Naming:      testNaming,
		Clock:       clock.Now,
	}, log)
	h.worker = NewWorker(h.store, h.queue, h.artifacts, h.extractor, WorkerConfig{
		MaxDuration: 10 * time.Minute,
		CoolDown:    time.Minute,
		CallTimeout: 30 * time.Second,
		WorkDir:     t.TempDir(),
		Naming:      testNaming,
		Clock:       clock.Now,
	}, log)
	return h
}

func (h *harness) depth(t *testing.T) int {
	t.Helper()
	n, err := h.queue.Depth(context.Background())
	if err != nil {
		t.Fatalf("queue depth: %v", err)
	}
	return n
}

// drain handles every visible message once.
func (h *harness) drain(t *testing.T) int {
	t.Helper()
	ctx := context.Background()
	handled := 0
	for {
		ds, err := h.queue.Receive(ctx, 10)
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if len(ds) == 0 {
			return handled
		}
		for _, d := range ds {
			if err := h.worker.Handle(ctx, d); err != nil {
				t.Fatalf("handle: %v", err)
			}
			handled++
		}
	}
}
