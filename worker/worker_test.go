package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/ajayyy/thumbnail-cache/queue"
	"github.com/ajayyy/thumbnail-cache/render"
	"github.com/ajayyy/thumbnail-cache/resolver"
	"github.com/ajayyy/thumbnail-cache/storage"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	result resolver.Result
	err    error
}

func (f fakeResolver) Resolve(ctx context.Context, videoID string, proxyURL string, isLivestream bool) (resolver.Result, error) {
	return f.result, f.err
}

func newTestHarness(t *testing.T, res resolver.Strategy) (*Harness, kv.Client, *queue.Queue, *queue.Queue) {
	t.Helper()
	client := kv.NewFakeClient()
	store := storage.New(t.TempDir(), client)
	high := queue.New(queue.High, client)
	def := queue.New(queue.Default, client)
	task := &render.Task{
		Store:         store,
		KV:            client,
		Resolver:      res,
		MaxConcurrent: 4,
	}
	h := New("worker-test", []*queue.Queue{high, def}, task, client)
	return h, client, high, def
}

func TestGenerateNameFormat(t *testing.T) {
	name := GenerateName()
	require.Contains(t, name, "-")
}

func TestDequeueNextRoundRobin(t *testing.T) {
	h, _, high, def := newTestHarness(t, fakeResolver{result: resolver.LoginRequired()})
	ctx := context.Background()

	_, err := high.Enqueue(ctx, "a-1", queue.Args{VideoID: "jNQXAC9IVRw", Time: 1}, queue.Opts{})
	require.NoError(t, err)
	_, err = def.Enqueue(ctx, "b-1", queue.Args{VideoID: "jNQXAC9IVRw", Time: 2}, queue.Opts{})
	require.NoError(t, err)

	job, q, err := h.dequeueNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, high, q)

	job, q, err = h.dequeueNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, def, q)

	job, _, err = h.dequeueNext(ctx)
	require.NoError(t, err)
	require.Nil(t, job)
}

func TestRunJobMarksFinishedOnSuccess(t *testing.T) {
	h, _, _, def := newTestHarness(t, fakeResolver{result: resolver.LoginRequired()})
	ctx := context.Background()

	_, err := def.Enqueue(ctx, "jNQXAC9IVRw-1", queue.Args{VideoID: "jNQXAC9IVRw", Time: 1}, queue.Opts{})
	require.NoError(t, err)
	job, err := def.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	h.runJob(ctx, def, job)

	finished, err := def.FetchJob(ctx, "jNQXAC9IVRw-1")
	require.NoError(t, err)
	require.True(t, finished.IsFinished())

	snapshot := h.Snapshot()
	require.Equal(t, int64(1), snapshot.SuccessfulJobs)
	require.Equal(t, StateIdle, snapshot.State)
}

func TestRunJobMarksFailedOnRenderError(t *testing.T) {
	h, _, _, def := newTestHarness(t, fakeResolver{err: errors.New("boom")})
	ctx := context.Background()

	_, err := def.Enqueue(ctx, "jNQXAC9IVRw-1", queue.Args{VideoID: "jNQXAC9IVRw", Time: 1}, queue.Opts{})
	require.NoError(t, err)
	job, err := def.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	h.runJob(ctx, def, job)

	failed, err := def.FetchJob(ctx, "jNQXAC9IVRw-1")
	require.NoError(t, err)
	require.True(t, failed.IsFailed())

	snapshot := h.Snapshot()
	require.Equal(t, int64(1), snapshot.FailedJobs)
}

func TestHeartbeatRegistersWorker(t *testing.T) {
	h, client, _, _ := newTestHarness(t, fakeResolver{})
	ctx := context.Background()

	require.NoError(t, h.heartbeat(ctx))

	names, err := client.ZRange(ctx, workersKey, 0, -1)
	require.NoError(t, err)
	require.Contains(t, names, "worker-test")
}

func TestHealthReportsSuspendedAs500(t *testing.T) {
	h, _, _, _ := newTestHarness(t, fakeResolver{})
	h.Suspend()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health()(rec, req, httprouter.Params{})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthReportsIdleAs200(t *testing.T) {
	h, _, _, _ := newTestHarness(t, fakeResolver{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health()(rec, req, httprouter.Params{})

	require.Equal(t, http.StatusOK, rec.Code)
}
