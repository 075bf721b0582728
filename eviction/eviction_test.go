package eviction

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/ajayyy/thumbnail-cache/queue"
	"github.com/ajayyy/thumbnail-cache/storage"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *storage.Store, kv.Client) {
	t.Helper()
	root := t.TempDir()
	client := kv.NewFakeClient()
	store := storage.New(root, client)
	engine := &Engine{
		Store:              store,
		KV:                 client,
		HighQueue:          queue.New(queue.High, client),
		MaxSize:            100000,
		TargetSize:         50000,
		RedisOffsetAllowed: 2,
	}
	return engine, store, client
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0644))
}

func TestCheckIfCleanupNeededOnSizeOnly(t *testing.T) {
	engine, _, client := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "storage-used", "100001", 0))
	needed, err := engine.CheckIfCleanupNeeded(ctx)
	require.NoError(t, err)
	require.True(t, needed)
}

func TestCheckIfCleanupNotNeeded(t *testing.T) {
	engine, _, client := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "storage-used", "10", 0))
	require.NoError(t, client.Set(ctx, "last-storage-check", "", 0))
	needed, err := engine.CheckIfCleanupNeeded(ctx)
	require.NoError(t, err)
	require.True(t, needed) // no last-storage-check recorded yet => treated as overdue

	require.NoError(t, client.Set(ctx, "last-storage-check", formatNow(), 0))
	needed, err = engine.CheckIfCleanupNeeded(ctx)
	require.NoError(t, err)
	require.False(t, needed)
}

func formatNow() string {
	return strconv.FormatInt(config.Clock.GetTime().Unix(), 10)
}

func TestTriggerCleanupDedupsInFlight(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, engine.TriggerCleanup(ctx))
	job, err := engine.HighQueue.FetchJob(ctx, CleanupJobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, queue.StateQueued, job.State())

	// Second trigger while queued must not duplicate it.
	require.NoError(t, engine.TriggerCleanup(ctx))
	n, err := engine.HighQueue.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRunCleanupPassDeletesCorruptImage(t *testing.T) {
	engine, store, client := newTestEngine(t)
	ctx := context.Background()

	path := store.ImagePath("jNQXAC9IVRw", 0, false)
	writeFile(t, path, 100) // below MinImageBytes

	require.NoError(t, client.ZAdd(ctx, "last-used", 1, "jNQXAC9IVRw"))
	require.NoError(t, client.Set(ctx, "storage-used", "0", 0))

	require.NoError(t, engine.RunCleanupPass(ctx))

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestRunCleanupPassEvictsOldestByLastUsed(t *testing.T) {
	engine, store, client := newTestEngine(t)
	ctx := context.Background()

	writeFile(t, store.ImagePath("oldvideo111", 0, false), 60000)
	writeFile(t, store.ImagePath("newvideo111", 0, false), 60000)

	require.NoError(t, client.ZAdd(ctx, "last-used", 1, "oldvideo111"))
	require.NoError(t, client.ZAdd(ctx, "last-used", 2, "newvideo111"))
	require.NoError(t, client.Set(ctx, "storage-used", "0", 0))

	require.NoError(t, engine.RunCleanupPass(ctx))

	_, err := os.Stat(filepath.Join(store.Root, "oldvideo111"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(store.Root, "newvideo111"))
	require.NoError(t, err)
}
