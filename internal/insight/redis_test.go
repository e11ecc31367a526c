package insight

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsum/platform/internal/shared/types"
)

func TestTaskCodec(t *testing.T) {
	task := Task{
		DocumentID: types.NewID(),
		RequestID:  "req-42",
		EnqueuedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	payload, err := encodeTask(task)
	require.NoError(t, err)
	assert.Contains(t, payload, `"document_id":"`+task.DocumentID.String()+`"`)

	decoded, err := decodeTask(payload)
	require.NoError(t, err)
	assert.Equal(t, task, decoded)
}

func TestTaskCodec_RejectsMissingDocument(t *testing.T) {
	_, err := encodeTask(Task{})
	assert.Error(t, err)

	_, err = decodeTask(`{"request_id":"x"}`)
	assert.Error(t, err)

	_, err = decodeTask(`not json`)
	assert.Error(t, err)
}

func TestRedisQueue_Closed(t *testing.T) {
	q := NewRedisQueue(nil, "insights:queue", 10)
	require.NoError(t, q.Close())

	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)

	err = q.Enqueue(context.Background(), Task{DocumentID: types.NewID()})
	assert.ErrorIs(t, err, ErrQueueClosed)
}
