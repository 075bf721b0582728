// Package dispatcher implements the Dispatcher (spec.md §4.F): the HTTP
// handler that merges a cache hit, queue lookup, cross-queue coalescing,
// and the bounded wait for an in-flight render into a single response.
package dispatcher

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	thumberrors "github.com/ajayyy/thumbnail-cache/errors"
	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/ajayyy/thumbnail-cache/log"
	"github.com/ajayyy/thumbnail-cache/queue"
	"github.com/ajayyy/thumbnail-cache/storage"
	"github.com/ajayyy/thumbnail-cache/videoid"
	"github.com/julienschmidt/httprouter"
)

// ytimgRedirectPrefix is the only redirect target the fallback rule
// (spec.md §7) will honor.
const ytimgRedirectPrefix = "https://i.ytimg.com"

// Collection holds the dispatcher's handlers and their collaborators: the
// two named queues, the on-disk store, the shared KV client, and the
// tunables carried over from the thumbnail_storage config section.
type Collection struct {
	Store   *storage.Store
	KV      kv.Client
	High    *queue.Queue
	Default *queue.Queue

	MaxQueueSize             int
	MaxBeforeAsyncGeneration int
	FrontAuth                *string
	RepoURL                  string
}

func (c *Collection) queueFor(generateNow bool) *queue.Queue {
	if generateNow {
		return c.High
	}
	return c.Default
}

func (c *Collection) otherQueue(q *queue.Queue) *queue.Queue {
	if q == c.High {
		return c.Default
	}
	return c.High
}

// Root redirects to the project's repository, matching the teacher's own
// bare-root convention of pointing humans somewhere useful.
func (c *Collection) Root() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		http.Redirect(w, r, c.RepoURL, http.StatusTemporaryRedirect)
	}
}

// GetThumbnail implements spec.md §4.F's ten-step algorithm.
func (c *Collection) GetThumbnail() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ctx := r.Context()
		q := r.URL.Query()

		videoID := q.Get("videoID")
		redirectURL := q.Get("redirectUrl")

		if !videoid.Valid(videoID) {
			c.fail(w, redirectURL, http.StatusBadRequest, thumberrors.ErrInvalidRequest.Error())
			return
		}

		var t *float64
		if raw := q.Get("time"); raw != "" {
			parsed, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				c.fail(w, redirectURL, http.StatusBadRequest, thumberrors.ErrInvalidRequest.Error())
				return
			}
			t = &parsed
		}

		generateNow := q.Get("generateNow") == "true"
		isLivestream := q.Get("isLivestream") == "true"
		officialTime := q.Get("officialTime") == "true"

		var title *string
		if raw := q.Get("title"); raw != "" {
			title = &raw
		}

		// Step 2: record the caller-asserted canonical time, fire-and-forget.
		if officialTime && t != nil {
			go func() {
				if err := c.Store.SetBestTime(context.Background(), videoID, *t); err != nil {
					log.LogNoRequestID("set best time failed", "videoID", videoID, "err", err.Error())
				}
			}()
		}

		// Step 3: fast path. A miss at the exact requested time falls back
		// to a truncated-prefix scan (spec.md §4.C) before giving up, so a
		// caller whose time was rounded to lower precision than what's
		// stored on disk still hits the cache.
		if t != nil {
			if data, foundTitle, err := c.Store.ReadImage(ctx, videoID, *t, isLivestream); err == nil {
				c.serveImage(w, *t, data, foundTitle)
				return
			} else if !errors.Is(err, storage.ErrMiss) {
				log.LogNoRequestID("fast-path read error", "videoID", videoID, "err", err.Error())
			} else if matchedT, data, foundTitle, err := c.Store.LocateByTruncatedPrefix(ctx, videoID, *t, isLivestream); err == nil {
				c.serveImage(w, matchedT, data, foundTitle)
				return
			}
		} else if bestT, data, foundTitle, err := c.Store.LatestThumbnail(ctx, videoID, isLivestream); err == nil {
			c.serveImage(w, bestT, data, foundTitle)
			return
		}

		// Step 4: no file, no time to render.
		if t == nil {
			c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrCacheMissNoTime.Error())
			return
		}

		jobID := queue.JobID(videoID, *t)

		// Steps 5-6: queue selection and cross-queue coalescing.
		selected := c.queueFor(generateNow)
		other := c.otherQueue(selected)

		job, err := selected.FetchJob(ctx, jobID)
		if err != nil {
			c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrServerError.Error())
			return
		}
		otherJob, err := other.FetchJob(ctx, jobID)
		if err != nil {
			c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrServerError.Error())
			return
		}

		if otherJob != nil {
			switch {
			case otherJob.IsStarted():
				// Already running elsewhere: adopt it, leave both records alone.
				job = otherJob
			case selected == c.High && other == c.Default:
				// Upgrade: drop the default-queue record, (re)enqueue on high below.
				if err := other.Remove(ctx, jobID); err != nil {
					log.LogNoRequestID("remove stale default record failed", "jobID", jobID, "err", err.Error())
				}
				job = nil
			case selected == c.Default && other == c.High && job != nil && job.State() == queue.StateQueued:
				if err := selected.Remove(ctx, jobID); err != nil {
					log.LogNoRequestID("remove stale default record failed", "jobID", jobID, "err", err.Error())
				}
				job = otherJob
			default:
				job = otherJob
			}
		}

		// Step 7: enqueue if nothing usable is adopted.
		if job == nil || job.IsFinished() {
			length, err := selected.Len(ctx)
			if err != nil {
				c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrServerError.Error())
				return
			}
			if int(length) > c.MaxQueueSize {
				c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrQueueFull.Error())
				return
			}

			atFront := c.FrontAuth != nil && *c.FrontAuth != "" && r.Header.Get("Authorization") == *c.FrontAuth
			job, err = selected.Enqueue(ctx, jobID, queue.Args{
				VideoID:          videoID,
				Time:             *t,
				Title:            title,
				IsLivestream:     isLivestream,
				UpdateAccounting: true,
			}, queue.Opts{
				Timeout:    30 * time.Second,
				FailureTTL: 500 * time.Second,
				TTL:        60 * time.Second,
				AtFront:    atFront,
			})
			if err != nil {
				c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrServerError.Error())
				return
			}
		}

		// Step 8: already failed.
		if job.IsFailed() {
			c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrRenderFailed.Error())
			return
		}

		if job.IsFinished() {
			c.reread(w, redirectURL, videoID, *t, isLivestream)
			return
		}

		// Step 9: wait decision.
		shouldWait, err := c.shouldWait(ctx, job, generateNow)
		if err != nil {
			c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrServerError.Error())
			return
		}
		if !shouldWait {
			c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrNotReady.Error())
			return
		}

		sub := c.KV.Subscribe(ctx, jobID)
		defer sub.Close()

		payload, ok, err := sub.WaitForMessage(ctx, 15*time.Second)
		if err != nil {
			c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrServerError.Error())
			return
		}
		if !ok {
			c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrTimeout.Error())
			return
		}

		// Step 10: wake handling.
		if payload == "true" {
			c.reread(w, redirectURL, videoID, *t, isLivestream)
			return
		}
		c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrRenderFailed.Error())
	}
}

// shouldWait implements spec.md §4.F step 9's wait predicate: position in
// queue under the async threshold AND (generateNow OR the high queue
// itself is under the same threshold).
func (c *Collection) shouldWait(ctx context.Context, job *queue.Job, generateNow bool) (bool, error) {
	position, err := job.Position(ctx)
	if err != nil {
		return false, err
	}
	// A started job has no queue position left; treat it as position 0
	// rather than short-circuiting, so the generateNow/high-queue clause
	// below still applies.
	pos := 0
	if position != nil {
		pos = int(*position)
	}
	if pos >= c.MaxBeforeAsyncGeneration {
		return false, nil
	}
	if generateNow {
		return true, nil
	}
	highLen, err := c.High.Len(ctx)
	if err != nil {
		return false, err
	}
	return int(highLen) < c.MaxBeforeAsyncGeneration, nil
}

func (c *Collection) reread(w http.ResponseWriter, redirectURL, videoID string, t float64, isLivestream bool) {
	data, title, err := c.Store.ReadImage(context.Background(), videoID, t, isLivestream)
	if err != nil {
		c.fail(w, redirectURL, http.StatusNoContent, thumberrors.ErrServerError.Error())
		return
	}
	c.serveImage(w, t, data, title)
}

func (c *Collection) serveImage(w http.ResponseWriter, t float64, data []byte, title *string) {
	w.Header().Set("X-Timestamp", videoid.FormatTime(t))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if title != nil {
		if cleaned, ok := toLatin1Safe(*title); ok {
			w.Header().Set("X-Title", strings.TrimSpace(cleaned))
		}
	}
	w.Header().Set("Content-Type", "image/webp")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.LogNoRequestID("failed to write thumbnail response", "err", err.Error())
	}
}

// toLatin1Safe reports whether title is representable in Latin-1; a
// non-Latin-1 title is dropped silently per spec.md §4.F step 3.
func toLatin1Safe(title string) (string, bool) {
	for _, r := range title {
		if r > 0xFF {
			return "", false
		}
	}
	return title, true
}

// fail implements the redirect-fallback rule of spec.md §7: a redirectURL
// beginning with the yt i.ytimg.com prefix takes priority over every
// non-success path; otherwise the normal status/X-Failure-Reason response
// is used (getThumbnail never uses an ordinary HTTP error body).
func (c *Collection) fail(w http.ResponseWriter, redirectURL string, status int, reason string) {
	if strings.HasPrefix(redirectURL, ytimgRedirectPrefix) {
		w.Header().Set("Location", redirectURL)
		w.WriteHeader(http.StatusTemporaryRedirect)
		return
	}
	if status == http.StatusBadRequest {
		thumberrors.WriteHTTPBadRequest(w, reason, nil)
		return
	}
	thumberrors.WriteHTTPNoContentWithReason(w, reason)
}
