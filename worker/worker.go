// Package worker implements the Worker Harness (spec.md §4.G): a
// long-running process that dequeues jobs from [high, default] in
// round-robin order, runs them one at a time, and maintains its own
// heartbeat and job-count metrics.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/ajayyy/thumbnail-cache/log"
	"github.com/ajayyy/thumbnail-cache/metrics"
	"github.com/ajayyy/thumbnail-cache/queue"
	"github.com/ajayyy/thumbnail-cache/render"
)

// workersKey is the heartbeat zset the dispatcher's /api/v1/status reads
// (dispatcher.workersKey names the same string independently, since
// dispatcher must not import this package).
const workersKey = "workers"

const staleWorkerAfter = 2 * time.Minute

type State string

const (
	StateIdle      State = "idle"
	StateBusy      State = "busy"
	StateSuspended State = "suspended"
)

// Harness runs render jobs for one worker process. Single concurrency by
// design (spec.md §4.G): throughput comes from running more processes,
// not from in-process parallelism, because the frame extractor is a
// blocking child process per job.
type Harness struct {
	Name         string
	Queues       []*queue.Queue
	Render       *render.Task
	KV           kv.Client
	PollInterval time.Duration

	mu           sync.Mutex
	state        State
	currentJobID string
	birth        time.Time
	successCount int64
	failCount    int64
	workingTime  time.Duration

	idx int
}

// New builds a harness with the teacher's default-on-zero convention:
// callers rarely need to name every field explicitly.
func New(name string, queues []*queue.Queue, renderTask *render.Task, client kv.Client) *Harness {
	return &Harness{
		Name:         name,
		Queues:       queues,
		Render:       renderTask,
		KV:           client,
		PollInterval: 500 * time.Millisecond,
		state:        StateIdle,
	}
}

// Run polls the configured queues until ctx is cancelled, executing at
// most one job at a time. It deregisters the worker's heartbeat entry
// before returning.
func (h *Harness) Run(ctx context.Context) error {
	h.birth = config.Clock.GetTime()
	metrics.Metrics.Worker.BirthDate.WithLabelValues(h.Name).Set(float64(h.birth.Unix()))
	metrics.Metrics.Workers.Inc()
	defer metrics.Metrics.Workers.Dec()
	defer h.deregister(context.Background())

	ticker := time.NewTicker(h.PollInterval)
	defer ticker.Stop()

	for {
		if err := h.heartbeat(ctx); err != nil {
			log.LogNoRequestID("worker heartbeat failed", "worker", h.Name, "err", err.Error())
		}

		if h.State() != StateSuspended {
			job, q, err := h.dequeueNext(ctx)
			if err != nil {
				log.LogNoRequestID("dequeue failed", "worker", h.Name, "err", err.Error())
			} else if job != nil {
				h.runJob(ctx, q, job)
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Suspend and Resume implement the health endpoint's operator toggle
// (spec.md §4.G: the health endpoint reports 500 while suspended). A
// suspended worker keeps heartbeating but stops dequeueing.
func (h *Harness) Suspend() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateSuspended
}

func (h *Harness) Resume() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateSuspended {
		h.state = StateIdle
	}
}

func (h *Harness) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Snapshot is the health endpoint's JSON body.
type Snapshot struct {
	Name           string `json:"name"`
	State          State  `json:"state"`
	CurrentJobID   string `json:"currentJobID,omitempty"`
	BirthDate      int64  `json:"birthDate"`
	SuccessfulJobs int64  `json:"successfulJobs"`
	FailedJobs     int64  `json:"failedJobs"`
}

func (h *Harness) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		Name:           h.Name,
		State:          h.state,
		CurrentJobID:   h.currentJobID,
		BirthDate:      h.birth.Unix(),
		SuccessfulJobs: h.successCount,
		FailedJobs:     h.failCount,
	}
}

// dequeueNext tries each queue starting after the last queue a job was
// taken from, so consecutive polls alternate fairly across queues
// instead of starving the later ones (spec.md §4.G round-robin).
func (h *Harness) dequeueNext(ctx context.Context) (*queue.Job, *queue.Queue, error) {
	n := len(h.Queues)
	for i := 0; i < n; i++ {
		q := h.Queues[(h.idx+i)%n]
		job, err := q.Dequeue(ctx)
		if err != nil {
			return nil, nil, err
		}
		if job != nil {
			h.idx = (h.idx + i + 1) % n
			return job, q, nil
		}
	}
	return nil, nil, nil
}

func (h *Harness) runJob(ctx context.Context, q *queue.Queue, job *queue.Job) {
	h.mu.Lock()
	h.state = StateBusy
	h.currentJobID = job.ID()
	h.mu.Unlock()
	metrics.Metrics.Worker.Busy.WithLabelValues(h.Name).Set(1)
	metrics.Metrics.JobsInFlight.Add(1)

	defer func() {
		h.mu.Lock()
		h.state = StateIdle
		h.currentJobID = ""
		h.mu.Unlock()
		metrics.Metrics.Worker.Busy.WithLabelValues(h.Name).Set(0)
		metrics.Metrics.JobsInFlight.Add(-1)
	}()

	args := job.Args()
	start := time.Now()
	err := h.Render.GenerateWithRetry(ctx, args.VideoID, args.Time, args.Title, args.IsLivestream, args.UpdateAccounting)
	elapsed := time.Since(start)

	h.mu.Lock()
	h.workingTime += elapsed
	if err != nil {
		h.failCount++
	} else {
		h.successCount++
	}
	successCount, failCount := h.successCount, h.failCount
	workingTime := h.workingTime
	h.mu.Unlock()

	metrics.Metrics.Worker.WorkingTimeSec.WithLabelValues(h.Name).Set(workingTime.Seconds())
	metrics.Metrics.Worker.SuccessfulJobs.WithLabelValues(h.Name).Set(float64(successCount))
	metrics.Metrics.Worker.FailedJobs.WithLabelValues(h.Name).Set(float64(failCount))

	if err != nil {
		log.LogNoRequestID("render job failed", "jobID", job.ID(), "worker", h.Name, "err", err.Error())
		metrics.Metrics.ThumbnailsGeneratedTotal.WithLabelValues("failed").Inc()
		if ferr := q.Fail(ctx, job.ID()); ferr != nil {
			log.LogNoRequestID("marking job failed errored", "jobID", job.ID(), "err", ferr.Error())
		}
		return
	}

	metrics.Metrics.ThumbnailsGeneratedTotal.WithLabelValues("success").Inc()
	if ferr := q.Finish(ctx, job.ID()); ferr != nil {
		log.LogNoRequestID("marking job finished errored", "jobID", job.ID(), "err", ferr.Error())
	}
}

// heartbeat refreshes this worker's entry in the shared "workers" zset
// (scored by last-seen unix time) and sweeps entries that have gone
// stale, the same admit/sweep shape render.Task.admit uses for the
// concurrent-render semaphore.
func (h *Harness) heartbeat(ctx context.Context) error {
	now := config.Clock.GetTime()
	if err := h.KV.ZAdd(ctx, workersKey, float64(now.Unix()), h.Name); err != nil {
		return err
	}
	cutoff := float64(now.Add(-staleWorkerAfter).Unix())
	stale, err := h.KV.ZRangeByScore(ctx, workersKey, negInf, cutoff)
	if err != nil {
		return nil
	}
	for _, s := range stale {
		_ = h.KV.ZRem(ctx, workersKey, s.Member)
	}
	return nil
}

func (h *Harness) deregister(ctx context.Context) {
	if err := h.KV.ZRem(ctx, workersKey, h.Name); err != nil {
		log.LogNoRequestID("worker deregister failed", "worker", h.Name, "err", err.Error())
	}
}

const negInf = -1 << 62
