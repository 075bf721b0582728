package dispatcher

import (
	"net/http/httptest"
	"testing"

	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/ajayyy/thumbnail-cache/queue"
	"github.com/ajayyy/thumbnail-cache/storage"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func newTestCollection(t *testing.T) (*Collection, kv.Client) {
	t.Helper()
	dir := t.TempDir()
	client := kv.NewFakeClient()
	store := storage.New(dir, client)
	return &Collection{
		Store:                    store,
		KV:                       client,
		High:                     queue.New(queue.High, client),
		Default:                  queue.New(queue.Default, client),
		MaxQueueSize:             1000,
		MaxBeforeAsyncGeneration: 2,
		RepoURL:                  "https://example.invalid/repo",
	}, client
}

func seedImage(t *testing.T, c *Collection, videoID string, at float64, content []byte) {
	t.Helper()
	require.NoError(t, c.Store.WriteImage(c.Store.ImagePath(videoID, at, false), content))
}

func TestGetThumbnailFastPathHit(t *testing.T) {
	c, _ := newTestCollection(t)
	seedImage(t, c, "jNQXAC9IVRw", 0, []byte("0123456789abcdef0123456789"))

	req := httptest.NewRequest("GET", "/api/v1/getThumbnail?videoID=jNQXAC9IVRw&time=0", nil)
	rec := httptest.NewRecorder()

	c.GetThumbnail()(rec, req, httprouter.Params{})

	require.Equal(t, 200, rec.Code)
	require.Equal(t, "0", rec.Header().Get("X-Timestamp"))
}

func TestGetThumbnailInvalidVideoID(t *testing.T) {
	c, _ := newTestCollection(t)

	req := httptest.NewRequest("GET", "/api/v1/getThumbnail?videoID=bad&time=0", nil)
	rec := httptest.NewRecorder()

	c.GetThumbnail()(rec, req, httprouter.Params{})

	require.Equal(t, 400, rec.Code)
}

func TestGetThumbnailMissNoTimeReturnsNoContent(t *testing.T) {
	c, _ := newTestCollection(t)

	req := httptest.NewRequest("GET", "/api/v1/getThumbnail?videoID=jNQXAC9IVRw", nil)
	rec := httptest.NewRecorder()

	c.GetThumbnail()(rec, req, httprouter.Params{})

	require.Equal(t, 204, rec.Code)
	require.Equal(t, "thumbnail not cached", rec.Header().Get("X-Failure-Reason"))
}

func TestGetThumbnailMissNoTimeRedirectsToYtimg(t *testing.T) {
	c, _ := newTestCollection(t)

	req := httptest.NewRequest("GET", "/api/v1/getThumbnail?videoID=jNQXAC9IVRw&redirectUrl=https://i.ytimg.com/vi/jNQXAC9IVRw/default.jpg", nil)
	rec := httptest.NewRecorder()

	c.GetThumbnail()(rec, req, httprouter.Params{})

	require.Equal(t, 307, rec.Code)
	require.Equal(t, "https://i.ytimg.com/vi/jNQXAC9IVRw/default.jpg", rec.Header().Get("Location"))
}

func TestGetThumbnailMissEnqueuesAndReportsNotReady(t *testing.T) {
	c, _ := newTestCollection(t)
	c.MaxBeforeAsyncGeneration = 0 // force the not-ready path deterministically

	req := httptest.NewRequest("GET", "/api/v1/getThumbnail?videoID=jNQXAC9IVRw&time=5.0", nil)
	rec := httptest.NewRecorder()

	c.GetThumbnail()(rec, req, httprouter.Params{})

	require.Equal(t, 204, rec.Code)
	require.Equal(t, "thumbnail not generated yet", rec.Header().Get("X-Failure-Reason"))

	job, err := c.Default.FetchJob(req.Context(), "jNQXAC9IVRw-5")
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestGetThumbnailIdempotentEnqueueDedupsByJobID(t *testing.T) {
	c, _ := newTestCollection(t)
	c.MaxBeforeAsyncGeneration = 0 // avoid the blocking wait path, only dedup is under test

	req1 := httptest.NewRequest("GET", "/api/v1/getThumbnail?videoID=jNQXAC9IVRw&time=5.0", nil)
	rec1 := httptest.NewRecorder()
	c.GetThumbnail()(rec1, req1, httprouter.Params{})

	req2 := httptest.NewRequest("GET", "/api/v1/getThumbnail?videoID=jNQXAC9IVRw&time=5.0", nil)
	rec2 := httptest.NewRecorder()
	c.GetThumbnail()(rec2, req2, httprouter.Params{})

	n, err := c.Default.Len(req1.Context())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestGetThumbnailPromotionRemovesDefaultRecord(t *testing.T) {
	c, _ := newTestCollection(t)
	c.MaxBeforeAsyncGeneration = 0 // avoid the blocking wait path, only promotion is under test

	reqDefault := httptest.NewRequest("GET", "/api/v1/getThumbnail?videoID=jNQXAC9IVRw&time=5.0", nil)
	recDefault := httptest.NewRecorder()
	c.GetThumbnail()(recDefault, reqDefault, httprouter.Params{})

	defaultJob, err := c.Default.FetchJob(reqDefault.Context(), "jNQXAC9IVRw-5")
	require.NoError(t, err)
	require.NotNil(t, defaultJob)

	reqHigh := httptest.NewRequest("GET", "/api/v1/getThumbnail?videoID=jNQXAC9IVRw&time=5.0&generateNow=true", nil)
	recHigh := httptest.NewRecorder()
	c.GetThumbnail()(recHigh, reqHigh, httprouter.Params{})

	defaultJob, err = c.Default.FetchJob(reqHigh.Context(), "jNQXAC9IVRw-5")
	require.NoError(t, err)
	require.Nil(t, defaultJob)

	highJob, err := c.High.FetchJob(reqHigh.Context(), "jNQXAC9IVRw-5")
	require.NoError(t, err)
	require.NotNil(t, highJob)
}

func TestGetThumbnailQueueFullReturnsNoContent(t *testing.T) {
	c, _ := newTestCollection(t)
	c.MaxQueueSize = 0

	req := httptest.NewRequest("GET", "/api/v1/getThumbnail?videoID=jNQXAC9IVRw&time=5.0", nil)
	rec := httptest.NewRecorder()
	c.GetThumbnail()(rec, req, httprouter.Params{})

	require.Equal(t, 204, rec.Code)
	require.Equal(t, "queue too big", rec.Header().Get("X-Failure-Reason"))
}

func TestRootRedirects(t *testing.T) {
	c, _ := newTestCollection(t)

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	c.Root()(rec, req, httprouter.Params{})

	require.Equal(t, 307, rec.Code)
	require.Equal(t, "https://example.invalid/repo", rec.Header().Get("Location"))
}
