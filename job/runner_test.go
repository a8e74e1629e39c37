package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(e *engine, workers, subBatch int) *ConcurrentRunner {
	return NewConcurrentRunner(e.processor, e.ledger, e.progress, workers, subBatch, 5*time.Millisecond)
}

func TestRunnerCompletesJob(t *testing.T) {
	// Given a 10-item job and a pool of three workers on sub-batches of
	// two
	e := newEngine(t)
	ctx := context.Background()
	_, err := e.ledger.Create(ctx, "j1", "owner-1", 10)
	require.NoError(t, err)
	runner := newTestRunner(e, 3, 2)

	// When running to completion
	require.NoError(t, runner.Run(ctx, "j1", itemIDs(1, 10)))

	// Then all ten items have unique results and the job is completed
	j, err := e.ledger.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)
	require.Len(t, j.Results, 10)
	seen := make(map[string]bool)
	for _, r := range j.Results {
		assert.False(t, seen[r.ItemID])
		seen[r.ItemID] = true
		assert.True(t, r.Success)
	}
	assert.Equal(t, 10, j.Completed)
	assert.Equal(t, 0, j.Failed)
}

func TestRunnerStopsOnCancel(t *testing.T) {
	// Given a job cancelled while its first batch is being classified
	e := newEngine(t)
	ctx := context.Background()
	_, err := e.ledger.Create(ctx, "j1", "owner-1", 5)
	require.NoError(t, err)

	cancelled := false
	e.gateway.onClassify = func() {
		if !cancelled {
			cancelled = true
			_, err := e.ledger.Cancel(ctx, "j1")
			require.NoError(t, err)
		}
	}
	runner := newTestRunner(e, 1, 1)

	// When the run finishes
	require.NoError(t, runner.Run(ctx, "j1", itemIDs(1, 5)))

	// Then the job stays cancelled and only the already-dispatched item
	// gained a result
	j, err := e.ledger.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, j.Status)
	assert.LessOrEqual(t, len(j.Results), 1)
	assert.Equal(t, 1, e.gateway.callCount())
}

func TestRunnerHonorsPause(t *testing.T) {
	// Given a paused job
	e := newEngine(t)
	ctx := context.Background()
	_, err := e.ledger.Create(ctx, "j1", "owner-1", 4)
	require.NoError(t, err)
	setStatus(t, e.ledger, "j1", StatusRunning)
	_, err = e.ledger.Pause(ctx, "j1")
	require.NoError(t, err)

	runner := newTestRunner(e, 2, 2)
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, "j1", itemIDs(1, 4)) }()

	// While paused, no work is dispatched
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, e.gateway.callCount())

	// When resumed, the run proceeds to completion
	_, err = e.ledger.Resume(ctx, "j1")
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not finish after resume")
	}

	j, err := e.ledger.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Len(t, j.Results, 4)
}

func TestRunnerStopsOnGatewayOutage(t *testing.T) {
	// Given a classification backend that is down
	e := newEngine(t)
	ctx := context.Background()
	_, err := e.ledger.Create(ctx, "j1", "owner-1", 6)
	require.NoError(t, err)
	e.gateway.err = context.DeadlineExceeded
	runner := newTestRunner(e, 1, 2)

	// When running
	err = runner.Run(ctx, "j1", itemIDs(1, 6))

	// Then the run surfaces the failure and the job is in error
	require.Error(t, err)
	j, gerr := e.ledger.Get(ctx, "j1")
	require.NoError(t, gerr)
	assert.Equal(t, StatusError, j.Status)
}

func TestRunnerContextCancellationLeavesPausedJob(t *testing.T) {
	// Given a paused job whose runner context gets cancelled (process
	// shutdown while paused)
	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := e.ledger.Create(context.Background(), "j1", "owner-1", 4)
	require.NoError(t, err)
	setStatus(t, e.ledger, "j1", StatusRunning)
	_, err = e.ledger.Pause(context.Background(), "j1")
	require.NoError(t, err)

	runner := newTestRunner(e, 1, 2)
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, "j1", itemIDs(1, 4)) }()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after context cancellation")
	}

	// Then the job is still paused with no results, resumable later
	j, err := e.ledger.Get(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, j.Status)
	assert.Empty(t, j.Results)
	assert.Equal(t, 0, e.gateway.callCount())
}

func TestChunk(t *testing.T) {
	assert.Len(t, chunk(itemIDs(1, 10), 3), 4)
	assert.Len(t, chunk(itemIDs(1, 10), 10), 1)
	assert.Len(t, chunk(itemIDs(1, 10), 20), 1)
	assert.Nil(t, chunk(nil, 5))

	batches := chunk(itemIDs(1, 5), 2)
	assert.Equal(t, []string{"item-1", "item-2"}, batches[0])
	assert.Equal(t, []string{"item-5"}, batches[2])
}
