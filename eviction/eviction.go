// Package eviction implements the size-triggered LRU cleanup described in
// spec.md §4.D: a counter-guided pass, filesystem reconciliation, and a
// ground-truth pass, serialized by the "at most one cleanup in flight"
// invariant.
package eviction

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/ajayyy/thumbnail-cache/log"
	"github.com/ajayyy/thumbnail-cache/queue"
	"github.com/ajayyy/thumbnail-cache/storage"
)

const (
	lastUsedKey         = "last-used"
	storageUsedKey      = "storage-used"
	lastStorageCheckKey = "last-storage-check"
	CleanupJobID        = "cleanup"
)

// Engine owns the eviction algorithm. It is wired to the high-priority
// queue so it can self-schedule the cleanup job (spec.md §4.D, §9).
type Engine struct {
	Store              *storage.Store
	KV                 kv.Client
	HighQueue          *queue.Queue
	MaxSize            int64
	TargetSize         int64
	RedisOffsetAllowed int
}

// CheckIfCleanupNeeded is invoked after every successful render (spec.md
// §4.D): storage-used exceeds MaxSize, or it's been more than 30 minutes
// since the last check.
func (e *Engine) CheckIfCleanupNeeded(ctx context.Context) (bool, error) {
	used, err := e.storageUsed(ctx)
	if err != nil {
		return false, err
	}
	if used > e.MaxSize {
		return true, nil
	}

	lastCheck, err := e.lastStorageCheck(ctx)
	if err != nil {
		return false, err
	}
	return config.Clock.GetTime().Sub(lastCheck) > config.StorageCheckPeriod, nil
}

// TriggerCleanup enqueues the cleanup job at the front of the high queue,
// unless one is already queued or started (spec.md §4.D, §9).
func (e *Engine) TriggerCleanup(ctx context.Context) error {
	existing, err := e.HighQueue.FetchJob(ctx, CleanupJobID)
	if err != nil {
		return err
	}
	if existing != nil && (existing.State() == queue.StateQueued || existing.State() == queue.StateStarted) {
		return nil
	}
	if existing != nil {
		// Stale finished/failed record; drop it before re-enqueueing.
		if err := e.HighQueue.Remove(ctx, CleanupJobID); err != nil {
			return err
		}
	}

	_, err = e.HighQueue.Enqueue(ctx, CleanupJobID, queue.Args{}, queue.Opts{
		Timeout: config.CleanupJobTimeout,
		AtFront: true,
	})
	return err
}

// RunCleanupPass runs the full three-stage algorithm of spec.md §4.D. It is
// what the worker harness executes for the `cleanup` job.
func (e *Engine) RunCleanupPass(ctx context.Context) error {
	beforeCounter, err := e.storageUsed(ctx)
	if err != nil {
		return err
	}

	// 1. Counter-guided pass: evict by the index alone, using the counter
	// as our best guess of folderSize. No filesystem fact is available
	// yet, so an orphan sweep cannot be justified here.
	if beforeCounter > e.TargetSize {
		if _, err := e.evictLRU(ctx, beforeCounter); err != nil {
			return err
		}
	}

	// 2. Filesystem reconciliation.
	folderSize, fileCount, err := e.scanAndCleanCorrupt(ctx)
	if err != nil {
		return err
	}

	afterCounter, err := e.storageUsed(ctx)
	if err != nil {
		return err
	}
	diff := afterCounter - beforeCounter
	if diff < 0 {
		diff = 0
	}
	if err := e.setStorageUsed(ctx, folderSize+diff); err != nil {
		return err
	}
	if err := e.setLastStorageCheck(ctx, config.Clock.GetTime()); err != nil {
		return err
	}

	// 4. Ground-truth pass.
	if folderSize > e.TargetSize {
		freed, err := e.evictionLoop(ctx, folderSize, fileCount)
		if err != nil {
			return err
		}
		return kv.Retry(ctx, func() error {
			_, err := e.KV.Incr(ctx, storageUsedKey, -freed)
			return err
		})
	}
	return nil
}

// evictLRU runs the eviction loop assuming no orphan drift is knowable
// (used by the counter-guided pass, which has no real fileCount).
func (e *Engine) evictLRU(ctx context.Context, folderSize int64) (int64, error) {
	indexLen, err := e.KV.ZCard(ctx, lastUsedKey)
	if err != nil {
		return 0, err
	}
	return e.evictionLoop(ctx, folderSize, indexLen)
}

// evictionLoop implements spec.md §4.D's eviction loop: orphan sweep when
// the index and filesystem disagree by more than RedisOffsetAllowed,
// otherwise oldest-by-last-used directory removal. Returns bytes freed.
func (e *Engine) evictionLoop(ctx context.Context, folderSize int64, fileCount int64) (int64, error) {
	indexLen, err := e.KV.ZCard(ctx, lastUsedKey)
	if err != nil {
		return 0, err
	}

	var saved int64
	if fileCount-indexLen > int64(e.RedisOffsetAllowed) {
		saved, err = e.orphanSweep(ctx, folderSize)
		if err != nil {
			return saved, err
		}
	}
	if folderSize-saved <= e.TargetSize {
		return saved, nil
	}

	for folderSize-saved > e.TargetSize {
		oldest, err := e.KV.ZRange(ctx, lastUsedKey, 0, 0)
		if err != nil {
			return saved, err
		}
		if len(oldest) == 0 {
			break
		}
		videoID := oldest[0]
		size, err := e.evictVideo(ctx, videoID)
		if err != nil {
			return saved, err
		}
		saved += size
	}
	return saved, nil
}

// orphanSweep removes directories present on disk but absent from the
// last-used index, in filesystem-enumeration order, stopping once enough
// bytes are reclaimed. Relies on the invariant that a freshly-created
// directory's videoID is already in the index (inserted before extraction
// begins), so nothing recently created is ever mistaken for an orphan.
func (e *Engine) orphanSweep(ctx context.Context, folderSize int64) (int64, error) {
	entries, err := os.ReadDir(e.Store.Root)
	if err != nil {
		return 0, err
	}

	var saved int64
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		videoID := entry.Name()
		_, isMember, err := e.KV.ZRank(ctx, lastUsedKey, videoID)
		if err != nil {
			return saved, err
		}
		if isMember {
			continue
		}

		size, err := dirSize(filepath.Join(e.Store.Root, videoID))
		if err != nil {
			return saved, err
		}
		if err := os.RemoveAll(filepath.Join(e.Store.Root, videoID)); err != nil {
			return saved, err
		}
		saved += size
		log.LogNoRequestID("evicted orphan directory", "video_id", videoID, "bytes", size)

		if folderSize-saved <= e.TargetSize {
			break
		}
	}
	return saved, nil
}

// evictVideo removes videoID's directory and its last-used entry,
// returning the bytes freed. The index entry is removed only after the
// directory is gone, per the ordering invariant in spec.md §8.
func (e *Engine) evictVideo(ctx context.Context, videoID string) (int64, error) {
	size, err := dirSize(filepath.Join(e.Store.Root, videoID))
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(filepath.Join(e.Store.Root, videoID)); err != nil {
		return 0, err
	}
	if err := e.KV.ZRem(ctx, lastUsedKey, videoID); err != nil {
		return size, err
	}
	log.LogNoRequestID("evicted oldest directory", "video_id", videoID, "bytes", size)
	return size, nil
}

// scanAndCleanCorrupt walks the storage root, deleting any image smaller
// than MinImageBytes as corrupt, and returns the resulting total size and
// file count (spec.md §4.D step 2).
func (e *Engine) scanAndCleanCorrupt(ctx context.Context) (int64, int64, error) {
	var folderSize, fileCount int64
	err := filepath.WalkDir(e.Store.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if strings.HasSuffix(d.Name(), config.ImageExt) && info.Size() <= config.MinImageBytes {
			if rmErr := os.Remove(path); rmErr == nil {
				return nil
			}
		}
		fileCount++
		folderSize += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, 0, err
	}
	return folderSize, fileCount, nil
}

func dirSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}

func (e *Engine) storageUsed(ctx context.Context) (int64, error) {
	raw, ok, err := e.KV.Get(ctx, storageUsedKey)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (e *Engine) setStorageUsed(ctx context.Context, n int64) error {
	return kv.Retry(ctx, func() error {
		return e.KV.Set(ctx, storageUsedKey, strconv.FormatInt(n, 10), 0)
	})
}

func (e *Engine) lastStorageCheck(ctx context.Context) (time.Time, error) {
	raw, ok, err := e.KV.Get(ctx, lastStorageCheckKey)
	if err != nil || !ok {
		return time.Unix(0, 0), err
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Unix(0, 0), nil
	}
	return time.Unix(secs, 0), nil
}

func (e *Engine) setLastStorageCheck(ctx context.Context, t time.Time) error {
	return kv.Retry(ctx, func() error {
		return e.KV.Set(ctx, lastStorageCheckKey, strconv.FormatInt(t.Unix(), 10), 0)
	})
}
