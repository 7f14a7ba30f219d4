package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueSendReceive(t *testing.T) {
	q := NewMemoryQueue(4)

	require.NoError(t, q.Send(context.Background(), `{"ticket_id":"a"}`))
	require.NoError(t, q.Send(context.Background(), `{"ticket_id":"b"}`))

	messages, err := q.Receive(context.Background(), 5, 1)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, `{"ticket_id":"a"}`, messages[0].Body)
	assert.NotEmpty(t, messages[0].ID)
	assert.NoError(t, q.Delete(context.Background(), messages[0].ReceiptHandle))
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)

	start := time.Now()
	messages, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Empty(t, messages)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestMemoryQueueReceiveHonorsContext(t *testing.T) {
	q := NewMemoryQueue(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx, 1, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryQueueReleaseRedelivers(t *testing.T) {
	q := NewMemoryQueue(4)
	require.NoError(t, q.Send(context.Background(), `{"ticket_id":"a"}`))

	messages, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, messages, 1)

	require.NoError(t, q.Release(context.Background(), messages[0]))

	redelivered, err := q.Receive(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, messages[0].Body, redelivered[0].Body)
}

func TestMemoryQueueRespectsMaxMessages(t *testing.T) {
	q := NewMemoryQueue(8)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Send(context.Background(), "job"))
	}

	messages, err := q.Receive(context.Background(), 3, 1)
	require.NoError(t, err)
	assert.Len(t, messages, 3)
}
