package queue

import (
	"context"
	"testing"
	"time"

	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/stretchr/testify/require"
)

func TestJobID(t *testing.T) {
	require.Equal(t, "jNQXAC9IVRw-17", JobID("jNQXAC9IVRw", 17))
	require.Equal(t, "jNQXAC9IVRw-17.5", JobID("jNQXAC9IVRw", 17.5))
}

func TestEnqueueDedupAndFetch(t *testing.T) {
	ctx := context.Background()
	q := New(Default, kv.NewFakeClient())

	existing, err := q.FetchJob(ctx, "jNQXAC9IVRw-0")
	require.NoError(t, err)
	require.Nil(t, existing)

	job, err := q.Enqueue(ctx, "jNQXAC9IVRw-0", Args{VideoID: "jNQXAC9IVRw", Time: 0}, Opts{
		Timeout: 30 * time.Second, FailureTTL: 500 * time.Second, TTL: 60 * time.Second,
	})
	require.NoError(t, err)
	require.Equal(t, StateQueued, job.State())

	fetched, err := q.FetchJob(ctx, "jNQXAC9IVRw-0")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.Equal(t, StateQueued, fetched.State())

	pos, err := fetched.Position(ctx)
	require.NoError(t, err)
	require.NotNil(t, pos)
	require.Equal(t, int64(0), *pos)
}

func TestAtFrontOrdersBeforeExisting(t *testing.T) {
	ctx := context.Background()
	q := New(High, kv.NewFakeClient())

	_, err := q.Enqueue(ctx, "a-0", Args{VideoID: "a", Time: 0}, Opts{})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "b-0", Args{VideoID: "b", Time: 0}, Opts{AtFront: true})
	require.NoError(t, err)

	first, err := q.FetchJob(ctx, "b-0")
	require.NoError(t, err)
	pos, err := first.Position(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), *pos)
}

func TestStartRemovesFromQueuedOrder(t *testing.T) {
	ctx := context.Background()
	q := New(Default, kv.NewFakeClient())

	_, err := q.Enqueue(ctx, "a-0", Args{VideoID: "a", Time: 0}, Opts{Timeout: time.Second})
	require.NoError(t, err)

	require.NoError(t, q.Start(ctx, "a-0"))

	job, err := q.FetchJob(ctx, "a-0")
	require.NoError(t, err)
	require.True(t, job.IsStarted())

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestFinishAndFail(t *testing.T) {
	ctx := context.Background()
	q := New(Default, kv.NewFakeClient())

	_, err := q.Enqueue(ctx, "a-0", Args{VideoID: "a", Time: 0}, Opts{})
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, "a-0"))
	require.NoError(t, q.Finish(ctx, "a-0"))

	job, err := q.FetchJob(ctx, "a-0")
	require.NoError(t, err)
	require.True(t, job.IsFinished())

	_, err = q.Enqueue(ctx, "b-0", Args{VideoID: "b", Time: 0}, Opts{})
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, "b-0"))
	require.NoError(t, q.Fail(ctx, "b-0"))

	failed, err := q.FetchJob(ctx, "b-0")
	require.NoError(t, err)
	require.True(t, failed.IsFailed())
}

func TestRemoveOnlyWhenQueued(t *testing.T) {
	ctx := context.Background()
	q := New(Default, kv.NewFakeClient())

	_, err := q.Enqueue(ctx, "a-0", Args{VideoID: "a", Time: 0}, Opts{})
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx, "a-0"))

	// Already started: Remove is a no-op.
	require.NoError(t, q.Remove(ctx, "a-0"))
	job, err := q.FetchJob(ctx, "a-0")
	require.NoError(t, err)
	require.NotNil(t, job)

	_, err = q.Enqueue(ctx, "b-0", Args{VideoID: "b", Time: 0}, Opts{})
	require.NoError(t, err)
	require.NoError(t, q.Remove(ctx, "b-0"))
	job, err = q.FetchJob(ctx, "b-0")
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestEmptyDrainsQueue(t *testing.T) {
	ctx := context.Background()
	q := New(Default, kv.NewFakeClient())

	_, err := q.Enqueue(ctx, "a-0", Args{VideoID: "a", Time: 0}, Opts{})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "b-0", Args{VideoID: "b", Time: 0}, Opts{})
	require.NoError(t, err)

	require.NoError(t, q.Empty(ctx))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestDequeueRoundRobinOrder(t *testing.T) {
	ctx := context.Background()
	q := New(Default, kv.NewFakeClient())

	_, err := q.Enqueue(ctx, "a-0", Args{VideoID: "a", Time: 0}, Opts{})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "b-0", Args{VideoID: "b", Time: 0}, Opts{})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "a-0", job.ID())
	require.True(t, job.IsStarted())
}
