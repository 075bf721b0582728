// Package render implements the Render Task (spec.md §4.E): the work
// function a worker executes for a queued job — resolve, extract, commit
// to storage, publish completion.
package render

import (
	"context"
	"fmt"
	"math"
	mathrand "math/rand"
	"os"
	"time"

	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/ajayyy/thumbnail-cache/eviction"
	"github.com/ajayyy/thumbnail-cache/extractor"
	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/ajayyy/thumbnail-cache/log"
	"github.com/ajayyy/thumbnail-cache/proxy"
	"github.com/ajayyy/thumbnail-cache/resolver"
	"github.com/ajayyy/thumbnail-cache/storage"
	"github.com/ajayyy/thumbnail-cache/videoid"
	"github.com/cenkalti/backoff/v4"
)

// ThumbnailGenerationError is raised on any failure path in Generate
// after the concurrent-render slot has been admitted, so the caller
// (worker harness) knows the job must be reported as failed.
type ThumbnailGenerationError struct {
	VideoID string
	Time    float64
	Err     error
}

func (e *ThumbnailGenerationError) Error() string {
	return fmt.Sprintf("generating thumbnail for %s@%f: %v", e.VideoID, e.Time, e.Err)
}

func (e *ThumbnailGenerationError) Unwrap() error { return e.Err }

const concurrentRendersKey = "concurrent_renders"

// Task holds the collaborators Generate needs: storage, the KV client
// (shared with queue/eviction), a resolver chain, an optional proxy
// pool, and the cleanup engine to notify after every successful render.
type Task struct {
	Store               *storage.Store
	KV                  kv.Client
	Resolver            resolver.Strategy
	Proxies             *proxy.Pool
	Eviction            *eviction.Engine
	MaxConcurrent       int
	SkipLocalExtraction bool
}

// Generate implements spec.md §4.E's 13-step contract for a single job.
func (t *Task) Generate(ctx context.Context, videoID string, at float64, title *string, isLivestream bool, updateAccounting bool) error {
	jobID := videoid.JobID(videoID, at)

	if !videoid.Valid(videoID) || at < 0 {
		return &ThumbnailGenerationError{VideoID: videoID, Time: at, Err: fmt.Errorf("invalid job arguments")}
	}

	if updateAccounting {
		if err := t.Store.TouchLastUsed(ctx, videoID, float64(config.Clock.GetTime().Unix())); err != nil {
			log.LogNoRequestID("touch last-used failed", "videoID", videoID, "err", err.Error())
		}
	}

	semaphoreMember := fmt.Sprintf("%s %s %v", videoID, videoid.FormatTime(at), isLivestream)
	release, err := t.admit(ctx, semaphoreMember)
	if err != nil {
		return &ThumbnailGenerationError{VideoID: videoID, Time: at, Err: err}
	}
	defer release()

	proxyURL := ""
	var chosenProxy *proxy.Info
	if t.Proxies != nil {
		if info, err := t.Proxies.Get(ctx); err == nil {
			proxyURL = info.URL()
			chosenProxy = &info
		}
	}

	result, err := t.Resolver.Resolve(ctx, videoID, proxyURL, isLivestream)
	if err != nil {
		_ = t.publish(ctx, jobID, false)
		return &ThumbnailGenerationError{VideoID: videoID, Time: at, Err: err}
	}
	if result.Kind != resolver.KindPlayable {
		// Geoblocked or login-required: give up without retry, the
		// dispatcher reports failure immediately.
		_ = t.publish(ctx, jobID, false)
		return nil
	}

	format, ok := result.BestFormat(math.MaxInt32)
	if !ok {
		_ = t.publish(ctx, jobID, false)
		return &ThumbnailGenerationError{VideoID: videoID, Time: at, Err: fmt.Errorf("no usable format")}
	}

	renderTime := alignToFrame(at, format.FPS)

	mediaURL := format.URL
	if isLivestream {
		tmpPath := t.Store.TempVideoPath(videoID, at)
		if err := downloadLiveMP4(ctx, mediaURL, tmpPath, proxyURL); err != nil {
			_ = os.Remove(tmpPath)
			_ = t.publish(ctx, jobID, false)
			return &ThumbnailGenerationError{VideoID: videoID, Time: at, Err: err}
		}
		defer os.Remove(tmpPath)
		mediaURL = tmpPath
	}

	outputPath := t.Store.ImagePath(videoID, renderTime, isLivestream)
	if err := t.Store.EnsureVideoDir(videoID); err != nil {
		return &ThumbnailGenerationError{VideoID: videoID, Time: at, Err: err}
	}

	extractProxy := ""
	if t.SkipLocalExtraction && proxyURL != "" {
		extractProxy = proxyURL
	}

	extractErr := extractor.Extract(ctx, extractor.Options{
		Input:       mediaURL,
		SeekSeconds: renderTime,
		Output:      outputPath,
		ProxyURL:    extractProxy,
	})

	if extractErr != nil && extractProxy == "" && proxyURL != "" {
		// Retry once routed through the proxy.
		extractErr = extractor.Extract(ctx, extractor.Options{
			Input:       mediaURL,
			SeekSeconds: renderTime,
			Output:      outputPath,
			ProxyURL:    proxyURL,
		})
	}
	if extractErr != nil {
		_ = extractor.RemovePartial(outputPath)
		_ = t.publish(ctx, jobID, false)
		return &ThumbnailGenerationError{VideoID: videoID, Time: at, Err: extractErr}
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil {
		_ = t.publish(ctx, jobID, false)
		return &ThumbnailGenerationError{VideoID: videoID, Time: at, Err: statErr}
	}
	if info.Size() <= config.MinImageBytes {
		_ = extractor.RemovePartial(outputPath)
		_ = t.publish(ctx, jobID, false)
		return &ThumbnailGenerationError{VideoID: videoID, Time: at, Err: fmt.Errorf("rendered image below minimum size, likely a placeholder frame")}
	}

	titleBytes := 0
	if title != nil {
		if err := t.Store.WriteMeta(t.Store.MetaPath(videoID, renderTime), *title); err != nil {
			return &ThumbnailGenerationError{VideoID: videoID, Time: at, Err: err}
		}
		titleBytes = len(*title)
	}

	if updateAccounting {
		if err := t.Store.AddStorageUsed(ctx, int64(titleBytes)+info.Size()); err != nil {
			log.LogNoRequestID("add storage-used failed", "videoID", videoID, "err", err.Error())
		}
	}

	if err := t.publish(ctx, jobID, true); err != nil {
		log.LogNoRequestID("publish completion failed", "jobID", jobID, "err", err.Error())
	}

	if t.Eviction != nil {
		if needed, err := t.Eviction.CheckIfCleanupNeeded(ctx); err == nil && needed {
			if err := t.Eviction.TriggerCleanup(ctx); err != nil {
				log.LogNoRequestID("trigger cleanup failed", "err", err.Error())
			}
		}
	}

	if chosenProxy != nil && chosenProxy.StatusReportURL != "" {
		reportStatus(ctx, *chosenProxy, true)
	}

	return nil
}

// GenerateWithRetry wraps Generate with the outer 2-attempt/1s-delay
// retry spec.md §4.E calls for around the full generate-and-store
// function.
func (t *Task) GenerateWithRetry(ctx context.Context, videoID string, at float64, title *string, isLivestream bool, updateAccounting bool) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 1)
	return backoff.Retry(func() error {
		err := t.Generate(ctx, videoID, at, title, isLivestream, updateAccounting)
		var genErr *ThumbnailGenerationError
		if err != nil && !asThumbnailGenerationError(err, &genErr) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}

func asThumbnailGenerationError(err error, target **ThumbnailGenerationError) bool {
	genErr, ok := err.(*ThumbnailGenerationError)
	if ok {
		*target = genErr
	}
	return ok
}

// alignToFrame computes floor(time*fps)/fps, with a 10ms correction at
// fps==60 for observed rounding artifacts (spec.md §4.E step 5).
func alignToFrame(t float64, fps float64) float64 {
	if fps <= 0 {
		return t
	}
	aligned := math.Floor(t*fps) / fps
	if fps == 60 {
		aligned -= 0.01
	}
	if aligned < 0 {
		aligned = 0
	}
	return aligned
}

func (t *Task) publish(ctx context.Context, jobID string, ok bool) error {
	payload := "false"
	if ok {
		payload = "true"
	}
	return t.KV.Publish(ctx, jobID, payload)
}

// admit implements the concurrent-render semaphore: add self to the
// `concurrent_renders` zset, sleep while cardinality exceeds
// MaxConcurrent, sweeping stale entries periodically, returning a
// release func that removes self.
func (t *Task) admit(ctx context.Context, member string) (func(), error) {
	now := config.Clock.GetTime().Unix()
	if err := t.KV.ZAdd(ctx, concurrentRendersKey, float64(now), member); err != nil {
		return nil, err
	}
	release := func() {
		_ = t.KV.ZRem(context.Background(), concurrentRendersKey, member)
	}

	lastSweep := time.Now()
	for {
		count, err := t.KV.ZCard(ctx, concurrentRendersKey)
		if err != nil {
			release()
			return nil, err
		}
		if t.MaxConcurrent <= 0 || count <= int64(t.MaxConcurrent) {
			return release, nil
		}

		if time.Since(lastSweep) >= config.ConcurrentRenderSweepEvery {
			lastSweep = time.Now()
			t.sweepStale(ctx)
		}

		select {
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		case <-time.After(randomBackoff()):
		}
	}
}

func (t *Task) sweepStale(ctx context.Context) {
	cutoff := float64(config.Clock.GetTime().Add(-config.ConcurrentRenderStaleAfter).Unix())
	stale, err := t.KV.ZRangeByScore(ctx, concurrentRendersKey, math.Inf(-1), cutoff)
	if err != nil {
		return
	}
	for _, s := range stale {
		_ = t.KV.ZRem(ctx, concurrentRendersKey, s.Member)
	}
}

func randomBackoff() time.Duration {
	span := config.ConcurrentRenderBackoffMax - config.ConcurrentRenderBackoffMin
	if span <= 0 {
		return config.ConcurrentRenderBackoffMin
	}
	return config.ConcurrentRenderBackoffMin + time.Duration(mathrand.Int63n(int64(span)))
}
