package insight_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsum/platform/internal/insight"
	"github.com/medsum/platform/internal/shared/errors"
	"github.com/medsum/platform/internal/shared/logger"
	"github.com/medsum/platform/internal/shared/types"
)

type fakeRunner struct {
	mu    sync.Mutex
	seen  []types.ID
	done  chan types.ID
	panic bool
}

func (r *fakeRunner) RequestGeneration(_ context.Context, id types.ID) (insight.Outcome, error) {
	r.mu.Lock()
	r.seen = append(r.seen, id)
	r.mu.Unlock()
	defer func() { r.done <- id }()
	if r.panic {
		panic("boom")
	}
	return insight.OutcomeGenerated, nil
}

func TestMemoryQueue_RejectsWhenFull(t *testing.T) {
	q := insight.NewMemoryQueue(1)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, insight.Task{DocumentID: types.NewID()}))
	err := q.Enqueue(ctx, insight.Task{DocumentID: types.NewID()})
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
	assert.Equal(t, 503, errors.HTTPStatus(err))
	assert.Equal(t, 1, q.Len())
}

func TestMemoryQueue_Close(t *testing.T) {
	q := insight.NewMemoryQueue(4)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), insight.Task{DocumentID: types.NewID()})
	assert.True(t, errors.Is(err, errors.ErrUnavailable))

	_, err = q.Dequeue(context.Background())
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
	assert.ErrorIs(t, err, insight.ErrQueueClosed)
}

func TestMemoryQueue_DequeueHonoursContext(t *testing.T) {
	q := insight.NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_RunsTriggeredDocuments(t *testing.T) {
	q := insight.NewMemoryQueue(8)
	runner := &fakeRunner{done: make(chan types.ID, 8)}
	d := insight.NewDispatcher(q, runner, 2, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx) }()

	ids := []types.ID{types.NewID(), types.NewID(), types.NewID()}
	for _, id := range ids {
		require.NoError(t, d.Trigger(ctx, id, "req-1"))
	}

	got := map[types.ID]bool{}
	for range ids {
		select {
		case id := <-runner.done:
			got[id] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for worker")
		}
	}
	for _, id := range ids {
		assert.True(t, got[id])
	}

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestDispatcher_SurvivesRunnerPanic(t *testing.T) {
	q := insight.NewMemoryQueue(4)
	runner := &fakeRunner{done: make(chan types.ID, 4), panic: true}
	d := insight.NewDispatcher(q, runner, 1, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	for range 2 {
		require.NoError(t, d.Trigger(ctx, types.NewID(), ""))
		select {
		case <-runner.done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker stopped after panic")
		}
	}
}

func TestDispatcher_TriggerRejectsWhenSaturated(t *testing.T) {
	q := insight.NewMemoryQueue(1)
	d := insight.NewDispatcher(q, &fakeRunner{done: make(chan types.ID, 1)}, 1, logger.NewNop())
	ctx := context.Background()

	require.NoError(t, d.Trigger(ctx, types.NewID(), ""))
	err := d.Trigger(ctx, types.NewID(), "")
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestDispatcher_StopsWhenQueueClosed(t *testing.T) {
	q := insight.NewMemoryQueue(4)
	d := insight.NewDispatcher(q, &fakeRunner{done: make(chan types.ID, 1)}, 3, logger.NewNop())

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(context.Background()) }()

	require.NoError(t, q.Close())
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers kept polling a closed queue")
	}
}
