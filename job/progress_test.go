package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipdex/clipdex/kv"
)

func TestProgressPublishAndGet(t *testing.T) {
	// Given a published mid-flight job
	pub := NewProgressPublisher(kv.NewMemory(), time.Hour)
	ctx := context.Background()
	j := &Job{
		ID:               "j1",
		OwnerID:          "owner-1",
		Total:            10,
		Completed:        4,
		Failed:           1,
		Status:           StatusRunning,
		CurrentItemLabel: "Video item-5",
	}
	require.NoError(t, pub.Publish(ctx, j))

	// When the owner polls
	prog, err := pub.Get(ctx, "owner-1")

	// Then the projection mirrors the job
	require.NoError(t, err)
	assert.Equal(t, "j1", prog.JobID)
	assert.Equal(t, StatusRunning, prog.Status)
	assert.Equal(t, 10, prog.Total)
	assert.Equal(t, 4, prog.Completed)
	assert.Equal(t, 1, prog.Failed)
	assert.Equal(t, "Video item-5", prog.CurrentItemLabel)
	assert.False(t, prog.UpdatedAt.IsZero())
}

func TestProgressIdleWhenAbsent(t *testing.T) {
	pub := NewProgressPublisher(kv.NewMemory(), time.Hour)

	prog, err := pub.Get(context.Background(), "owner-1")

	require.NoError(t, err)
	assert.Equal(t, StatusIdle, prog.Status)
	assert.Equal(t, "owner-1", prog.OwnerID)
	assert.Empty(t, prog.JobID)
}

func TestProgressClear(t *testing.T) {
	pub := NewProgressPublisher(kv.NewMemory(), time.Hour)
	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, &Job{ID: "j1", OwnerID: "owner-1", Status: StatusRunning}))

	require.NoError(t, pub.Clear(ctx, "owner-1"))

	prog, err := pub.Get(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, prog.Status)
}

func TestProgressScopedPerOwner(t *testing.T) {
	pub := NewProgressPublisher(kv.NewMemory(), time.Hour)
	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, &Job{ID: "j1", OwnerID: "owner-1", Status: StatusRunning}))
	require.NoError(t, pub.Publish(ctx, &Job{ID: "j2", OwnerID: "owner-2", Status: StatusCompleted}))

	p1, err := pub.Get(ctx, "owner-1")
	require.NoError(t, err)
	p2, err := pub.Get(ctx, "owner-2")
	require.NoError(t, err)

	assert.Equal(t, "j1", p1.JobID)
	assert.Equal(t, "j2", p2.JobID)
}
