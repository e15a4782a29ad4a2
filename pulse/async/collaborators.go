package async

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/teranos/ytmp3/errors"
)

// Outcome tags the result of a conditional create.
type Outcome int

const (
	// Created means this caller's write won and the job is new (or reset).
	Created Outcome = iota
	// AlreadyExists means another write got there first; Job holds the winner.
	AlreadyExists
)

func (o Outcome) String() string {
	if o == Created {
		return "created"
	}
	return "already_exists"
}

// CreateResult is the tagged result of CreateJob and ReplaceJob.
type CreateResult struct {
	Outcome Outcome
	Job     *Job
}

// RecordStore holds one Job per key with conditional writes.
type RecordStore interface {
	// GetJob returns ErrNotFound when no row exists for key.
	GetJob(ctx context.Context, key string) (*Job, error)
	// CreateJob inserts job only if no row exists for its key.
	CreateJob(ctx context.Context, job *Job) (CreateResult, error)
	// ReplaceJob overwrites the row only if it still matches expected
	// (status and updated_at). A vanished row is created afresh.
	ReplaceJob(ctx context.Context, job *Job, expected *Job) (CreateResult, error)
	// SaveJob upserts job unless the stored row has a newer updated_at.
	// Reports whether the write was applied.
	SaveJob(ctx context.Context, job *Job) (bool, error)
	// DeleteJob removes the row for key. Deleting a missing row is not an error.
	DeleteJob(ctx context.Context, key string) error
}

// Message is the queue payload for one admitted job.
type Message struct {
	Key string `json:"key"`
}

// EncodeMessage serializes a message body.
func EncodeMessage(m Message) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode queue message")
	}
	return string(b), nil
}

// DecodeMessage parses a message body. Bodies without a usable key are
// reported as ErrMalformedMessage.
func DecodeMessage(body string) (Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return Message{}, errors.Mark(errors.Wrap(err, "failed to decode queue message"), errors.ErrMalformedMessage)
	}
	if err := ValidateKey(m.Key); err != nil {
		return Message{}, errors.Mark(errors.Wrap(err, "queue message carries no valid key"), errors.ErrMalformedMessage)
	}
	return m, nil
}

// Delivery is one received message together with the receipt needed to ack it.
type Delivery struct {
	ID           int64
	Body         string
	Receipt      string
	ReceiveCount int
	EnqueuedAt   time.Time
}

// JobQueue is an at-least-once work queue.
type JobQueue interface {
	Send(ctx context.Context, m Message) error
	// Receive claims up to max visible messages. Claimed messages are hidden
	// from other receivers until their visibility timeout lapses.
	Receive(ctx context.Context, max int) ([]Delivery, error)
	// Ack removes a delivered message. A stale receipt is a no-op.
	Ack(ctx context.Context, d Delivery) error
}

// ArtifactStore is a blob store keyed by artifact name.
type ArtifactStore interface {
	Exists(ctx context.Context, name string) (bool, error)
	// Upload stores the blob under name, overwriting any previous blob, and
	// returns the locator recorded on the job.
	Upload(ctx context.Context, name string, r io.Reader) (string, error)
	// DeleteBatch removes the named blobs. Missing blobs are not an error.
	// When only some names fail the error is a *DeleteError naming them.
	DeleteBatch(ctx context.Context, names []string) error
}

// DeleteError reports the names a DeleteBatch call could not remove.
// Every other name in the call was deleted or already absent.
type DeleteError struct {
	Failed []string
	Cause  error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("failed to delete %d artifacts: %v", len(e.Failed), e.Cause)
}

func (e *DeleteError) Unwrap() error { return e.Cause }

// FailedDeletes returns the names err reports as not deleted. ok is false
// when err does not say which names failed; callers must then assume none
// were deleted.
func FailedDeletes(err error) (names []string, ok bool) {
	var de *DeleteError
	if errors.As(err, &de) {
		return de.Failed, true
	}
	return nil, false
}

// Metadata is what a probe learns about a resource without downloading it.
type Metadata struct {
	ID       string
	Title    string
	Duration time.Duration // zero when the resource reports none
}

// Extractor probes and materializes resources.
type Extractor interface {
	Probe(ctx context.Context, key string) (*Metadata, error)
	// Extract writes the artifact for key into dir and returns its path.
	Extract(ctx context.Context, key string, dir string) (string, error)
}

// Naming derives artifact names from keys.
type Naming struct {
	Ext string
}

// Name returns the artifact name for key, e.g. "abc123.mp3".
func (n Naming) Name(key string) string {
	ext := strings.TrimPrefix(n.Ext, ".")
	if ext == "" {
		return key
	}
	return key + "." + ext
}
