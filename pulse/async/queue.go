package async

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/ytmp3/errors"
)

// DefaultVisibilityTimeout hides a received message from other receivers
// long enough for one extraction to finish.
const DefaultVisibilityTimeout = 15 * time.Minute

// SQLQueue is the SQLite JobQueue. Messages are claimed by pushing their
// visible_at into the future under a fresh receipt; an un-acked message
// becomes receivable again once its visibility timeout lapses.
type SQLQueue struct {
	db         *sql.DB
	visibility time.Duration
	now        Clock
}

// NewSQLQueue creates a queue over a migrated database
func NewSQLQueue(db *sql.DB, visibility time.Duration, clock Clock) *SQLQueue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &SQLQueue{db: db, visibility: visibility, now: clock.orDefault()}
}

var _ JobQueue = (*SQLQueue)(nil)

// Send enqueues m, immediately visible
func (q *SQLQueue) Send(ctx context.Context, m Message) error {
	body, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	now := toUnixNano(q.now())
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO queue_messages (body, receive_count, enqueued_at, visible_at) VALUES (?, 0, ?, ?)`,
		body, now, now)
	if err != nil {
		return errors.Wrapf(err, "failed to enqueue message for %s", m.Key)
	}
	return nil
}

// Receive claims up to max visible messages in enqueue order
func (q *SQLQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	now := q.now()
	receipt := uuid.NewString()

	rows, err := q.db.QueryContext(ctx, `
		UPDATE queue_messages
		SET receipt = ?, visible_at = ?, receive_count = receive_count + 1
		WHERE id IN (
			SELECT id FROM queue_messages
			WHERE visible_at <= ?
			ORDER BY id ASC
			LIMIT ?
		)
		RETURNING id, body, receipt, receive_count, enqueued_at`,
		receipt, toUnixNano(now.Add(q.visibility)), toUnixNano(now), max)
	if err != nil {
		return nil, errors.Wrap(err, "failed to receive messages")
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		var enqueued int64
		if err := rows.Scan(&d.ID, &d.Body, &d.Receipt, &d.ReceiveCount, &enqueued); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		d.EnqueuedAt = fromUnixNano(enqueued)
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate messages")
	}

	sort.Slice(deliveries, func(i, j int) bool { return deliveries[i].ID < deliveries[j].ID })
	return deliveries, nil
}

// Ack deletes a delivered message. A receipt superseded by redelivery
// leaves the message in place for its current holder.
func (q *SQLQueue) Ack(ctx context.Context, d Delivery) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = ? AND receipt = ?`, d.ID, d.Receipt)
	if err != nil {
		return errors.WithDetailf(errors.Wrapf(err, "failed to ack message %d", d.ID), "Receive count: %d", d.ReceiveCount)
	}
	return nil
}

// Depth returns the number of messages in the queue, visible or claimed
func (q *SQLQueue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_messages`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count messages")
	}
	return n, nil
}
