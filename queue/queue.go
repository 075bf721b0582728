// Package queue implements the two named job queues ("high", "default")
// described in spec.md §4.B: dedup by job-id, at-front enqueue, TTL and
// timeout handling, and the lifecycle predicates the dispatcher and worker
// harness need.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/ajayyy/thumbnail-cache/videoid"
)

const (
	High    = "high"
	Default = "default"
)

type State string

const (
	StateQueued   State = "queued"
	StateStarted  State = "started"
	StateFinished State = "finished"
	StateFailed   State = "failed"
)

// Args is the payload carried by a render job, spec.md §3.
type Args struct {
	VideoID          string  `json:"videoID"`
	Time             float64 `json:"time"`
	Title            *string `json:"title,omitempty"`
	IsLivestream     bool    `json:"isLivestream"`
	UpdateAccounting bool    `json:"updateAccounting"`
}

// record is what is actually stored in the KV store per job.
type record struct {
	JobID      string        `json:"jobID"`
	Args       Args          `json:"args"`
	State      State         `json:"state"`
	EnqueuedAt time.Time     `json:"enqueuedAt"`
	StartedAt  *time.Time    `json:"startedAt,omitempty"`
	FailedAt   *time.Time    `json:"failedAt,omitempty"`
	Timeout    time.Duration `json:"timeout"`
	FailureTTL time.Duration `json:"failureTTL"`
	TTL        time.Duration `json:"ttl"`
}

// Job is the handle producers and consumers operate on.
type Job struct {
	queue *Queue
	rec   record
}

func (j *Job) ID() string       { return j.rec.JobID }
func (j *Job) Args() Args       { return j.rec.Args }
func (j *Job) State() State     { return j.rec.State }
func (j *Job) IsStarted() bool  { return j.rec.State == StateStarted }
func (j *Job) IsFinished() bool { return j.rec.State == StateFinished }
func (j *Job) IsFailed() bool   { return j.rec.State == StateFailed }

// Position returns the 0-based index of this job within the queued region,
// or nil once it has started or finished.
func (j *Job) Position(ctx context.Context) (*int64, error) {
	if j.rec.State != StateQueued {
		return nil, nil
	}
	rank, ok, err := j.queue.kv.ZRank(ctx, j.queue.orderKey(), j.rec.JobID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &rank, nil
}

// Opts configures Queue.Enqueue.
type Opts struct {
	Timeout    time.Duration
	FailureTTL time.Duration
	TTL        time.Duration
	AtFront    bool
}

// Queue is one named job registry (spec.md §4.B) backed by a KV client: a
// sorted set for ordering (`<name>:order`) plus one string key per job
// record (`<name>:job:<jobID>`).
type Queue struct {
	name string
	kv   kv.Client
}

func New(name string, client kv.Client) *Queue {
	return &Queue{name: name, kv: client}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) orderKey() string { return fmt.Sprintf("queue:%s:order", q.name) }
func (q *Queue) jobKey(jobID string) string {
	return fmt.Sprintf("queue:%s:job:%s", q.name, jobID)
}

// FetchJob returns the current record for jobID in this queue, or nil if
// absent.
func (q *Queue) FetchJob(ctx context.Context, jobID string) (*Job, error) {
	raw, ok, err := q.kv.Get(ctx, q.jobKey(jobID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var rec record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decoding job record %s: %w", jobID, err)
	}
	return &Job{queue: q, rec: rec}, nil
}

// Enqueue pushes a new queued record for jobID. Callers must have already
// called FetchJob to rule out a live duplicate (spec.md §4.B).
func (q *Queue) Enqueue(ctx context.Context, jobID string, args Args, opts Opts) (*Job, error) {
	rec := record{
		JobID:      jobID,
		Args:       args,
		State:      StateQueued,
		EnqueuedAt: config.Clock.GetTime(),
		Timeout:    opts.Timeout,
		FailureTTL: opts.FailureTTL,
		TTL:        opts.TTL,
	}
	// While queued the record has no natural expiry of its own; Start
	// re-saves it with rec.Timeout once it begins running.
	if err := q.save(ctx, rec, 0); err != nil {
		return nil, err
	}

	score := float64(rec.EnqueuedAt.UnixNano())
	if opts.AtFront {
		score = q.frontScore(ctx)
	}
	if err := kv.Retry(ctx, func() error {
		return q.kv.ZAdd(ctx, q.orderKey(), score, jobID)
	}); err != nil {
		return nil, err
	}
	return &Job{queue: q, rec: rec}, nil
}

// frontScore picks a score lower than the current minimum so ZAdd lands the
// job at index 0, approximating a "push to head" queue operation.
func (q *Queue) frontScore(ctx context.Context) float64 {
	members, err := q.kv.ZRangeByScore(ctx, q.orderKey(), negInf, posInf)
	if err != nil || len(members) == 0 {
		return 0
	}
	return members[0].Score - 1
}

const negInf = -1 << 62
const posInf = 1 << 62

// Remove deletes jobID's record when it is still queued. No-op otherwise.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	job, err := q.FetchJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil || job.rec.State != StateQueued {
		return nil
	}
	return q.forceRemove(ctx, jobID)
}

func (q *Queue) forceRemove(ctx context.Context, jobID string) error {
	if err := q.kv.Del(ctx, q.jobKey(jobID)); err != nil {
		return err
	}
	return q.kv.ZRem(ctx, q.orderKey(), jobID)
}

// Empty drains every record in the queue (the privileged /clearQueue
// endpoint, spec.md §4.H).
func (q *Queue) Empty(ctx context.Context) error {
	members, err := q.kv.ZRange(ctx, q.orderKey(), 0, -1)
	if err != nil {
		return err
	}
	for _, jobID := range members {
		if err := q.forceRemove(ctx, jobID); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of queued entries.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.kv.ZCard(ctx, q.orderKey())
}

// Start marks jobID as started.
func (q *Queue) Start(ctx context.Context, jobID string) error {
	job, err := q.FetchJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found in queue %s", jobID, q.name)
	}
	now := config.Clock.GetTime()
	job.rec.State = StateStarted
	job.rec.StartedAt = &now
	timeout := job.rec.Timeout
	if timeout <= 0 {
		timeout = config.JobTimeout
	}
	if err := q.save(ctx, job.rec, timeout); err != nil {
		return err
	}
	return q.kv.ZRem(ctx, q.orderKey(), jobID)
}

// Finish marks jobID as finished, retained for the job's configured ttl so
// late dispatchers can still see the outcome.
func (q *Queue) Finish(ctx context.Context, jobID string) error {
	job, err := q.FetchJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	ttl := job.rec.TTL
	if ttl <= 0 {
		ttl = config.JobTTL
	}
	job.rec.State = StateFinished
	return q.save(ctx, job.rec, ttl)
}

// Fail marks jobID as failed, retained for the job's configured failureTTL
// (spec.md §4.B).
func (q *Queue) Fail(ctx context.Context, jobID string) error {
	job, err := q.FetchJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	failureTTL := job.rec.FailureTTL
	if failureTTL <= 0 {
		failureTTL = config.FailureTTL
	}
	now := config.Clock.GetTime()
	job.rec.State = StateFailed
	job.rec.FailedAt = &now
	return q.save(ctx, job.rec, failureTTL)
}

func (q *Queue) save(ctx context.Context, rec record, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return kv.Retry(ctx, func() error {
		return q.kv.Set(ctx, q.jobKey(rec.JobID), string(data), ttl)
	})
}

// Dequeue pops the oldest queued jobID, if any, and marks it started. Used
// by the worker harness's round-robin poll (spec.md §4.G).
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	members, err := q.kv.ZRange(ctx, q.orderKey(), 0, 0)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}
	jobID := members[0]
	if err := q.Start(ctx, jobID); err != nil {
		return nil, err
	}
	return q.FetchJob(ctx, jobID)
}

// JobID computes the deterministic "<videoID>-<time>" job id, also used as
// the pub/sub channel name (GLOSSARY).
func JobID(videoID string, t float64) string {
	return videoid.JobID(videoID, t)
}
