package async

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/ytmp3/errors"
	ytest "github.com/teranos/ytmp3/internal/testing"
)

func TestSQLQueueSendReceiveAck(t *testing.T) {
	clock := newFakeClock()
	q := NewSQLQueue(ytest.CreateTestDB(t), time.Minute, clock.Now)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, Message{Key: "first"}))
	require.NoError(t, q.Send(ctx, Message{Key: "second"}))

	ds, err := q.Receive(ctx, 10)
	require.NoError(t, err)
	require.Len(t, ds, 2)
	assert.Less(t, ds[0].ID, ds[1].ID, "deliveries come back in enqueue order")
	assert.Equal(t, 1, ds[0].ReceiveCount)
	assert.NotEmpty(t, ds[0].Receipt)
	assert.Equal(t, clock.Now(), ds[0].EnqueuedAt)

	m, err := DecodeMessage(ds[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "first", m.Key)

	for _, d := range ds {
		require.NoError(t, q.Ack(ctx, d))
	}
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestSQLQueueRespectsMax(t *testing.T) {
	clock := newFakeClock()
	q := NewSQLQueue(ytest.CreateTestDB(t), time.Minute, clock.Now)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send(ctx, Message{Key: k}))
	}

	ds, err := q.Receive(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, ds, 2)

	ds, err = q.Receive(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, ds, 1, "claimed messages are hidden")

	ds, err = q.Receive(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, ds)
}

func TestSQLQueueRedeliveryAfterVisibilityTimeout(t *testing.T) {
	clock := newFakeClock()
	q := NewSQLQueue(ytest.CreateTestDB(t), time.Minute, clock.Now)
	ctx := context.Background()

	t.Log("A worker claims the message, then goes quiet")
	require.NoError(t, q.Send(ctx, Message{Key: "abc123"}))
	first, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	clock.Advance(59 * time.Second)
	none, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, none, "still invisible inside the timeout")

	t.Log("The timeout lapses and a second worker picks it up")
	clock.Advance(time.Second)
	second, err := q.Receive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 2, second[0].ReceiveCount)
	assert.NotEqual(t, first[0].Receipt, second[0].Receipt)

	t.Log("The first worker wakes up and acks with its stale receipt")
	require.NoError(t, q.Ack(ctx, first[0]))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth, "stale ack must not remove the redelivered message")

	require.NoError(t, q.Ack(ctx, second[0]))
	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestSQLQueueAck_Sqlmock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("DELETE FROM queue_messages").
		WithArgs(int64(7), "receipt-7").
		WillReturnError(errors.New("database is locked"))

	q := NewSQLQueue(db, time.Minute, nil)
	err = q.Ack(context.Background(), Delivery{ID: 7, Receipt: "receipt-7", ReceiveCount: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ack message 7")
	assert.Contains(t, errors.FlattenDetails(err), "Receive count: 3")
	assert.NoError(t, mock.ExpectationsWereMet())
}
