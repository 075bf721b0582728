package metrics

import (
	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ClientMetrics struct {
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

func newClientMetrics(namePrefix, help string) ClientMetrics {
	return ClientMetrics{
		RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: namePrefix + "_retry_count",
			Help: "The number of retried " + help,
		}, []string{"host"}),
		FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: namePrefix + "_failure_count",
			Help: "The total number of failed " + help,
		}, []string{"host", "status_code"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    namePrefix + "_request_duration",
			Help:    "Time taken to send " + help,
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20},
		}, []string{"host"}),
	}
}

// QueueMetrics mirrors a single RQ-style queue's counters, reported per
// queue name ("high"/"low") in the dearrow_queue_* gauges.
type QueueMetrics struct {
	Length    *prometheus.GaugeVec
	Scheduled *prometheus.GaugeVec
	Started   *prometheus.GaugeVec
	Finished  *prometheus.GaugeVec
	Failed    *prometheus.GaugeVec
	Deferred  *prometheus.GaugeVec
	Cancelled *prometheus.GaugeVec
}

// WorkerMetrics mirrors a single worker process's counters, reported per
// worker name in the dearrow_worker_* gauges.
type WorkerMetrics struct {
	BirthDate      *prometheus.GaugeVec
	Busy           *prometheus.GaugeVec
	SuccessfulJobs *prometheus.GaugeVec
	FailedJobs     *prometheus.GaugeVec
	WorkingTimeSec *prometheus.GaugeVec
}

type ThumbnailCacheMetrics struct {
	// Resolver/proxy/ffprobe outbound HTTP clients, instrumented via
	// MonitorRequest/HttpRetryHook.
	ResolverClient ClientMetrics
	ProxyClient    ClientMetrics

	Workers prometheus.Gauge
	Queue   QueueMetrics
	Worker  WorkerMetrics

	// dearrow_current_time, a liveness signal scraped alongside the rest
	// of the operator surface.
	CurrentTime prometheus.GaugeFunc

	JobsInFlight         prometheus.Gauge
	HTTPRequestsInFlight prometheus.Gauge

	ThumbnailsServedTotal   *prometheus.CounterVec
	ThumbnailsGeneratedTotal *prometheus.CounterVec
	StorageUsedBytes        prometheus.Gauge
	ConcurrentRenders       prometheus.Gauge
}

func NewMetrics(now func() float64) *ThumbnailCacheMetrics {
	m := &ThumbnailCacheMetrics{
		ResolverClient: newClientMetrics("resolver_client", "resolver requests"),
		ProxyClient:    newClientMetrics("proxy_client", "proxy requests"),

		Workers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dearrow_workers",
			Help: "Number of worker processes currently registered",
		}),

		Queue: QueueMetrics{
			Length: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_queue_length",
				Help: "Number of queued jobs",
			}, []string{"queue"}),
			Scheduled: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_queue_scheduled",
				Help: "Number of scheduled jobs",
			}, []string{"queue"}),
			Started: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_queue_started",
				Help: "Number of jobs currently being worked on",
			}, []string{"queue"}),
			Finished: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_queue_finished",
				Help: "Number of jobs that finished successfully",
			}, []string{"queue"}),
			Failed: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_queue_failed",
				Help: "Number of jobs that finished with an error",
			}, []string{"queue"}),
			Deferred: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_queue_deferred",
				Help: "Number of jobs waiting on another job",
			}, []string{"queue"}),
			Cancelled: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_queue_cancelled",
				Help: "Number of jobs cancelled before being worked on",
			}, []string{"queue"}),
		},

		Worker: WorkerMetrics{
			BirthDate: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_worker_birth_date",
				Help: "Unix timestamp the worker process started at",
			}, []string{"worker_name"}),
			Busy: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_worker_busy",
				Help: "1 if the worker is currently processing a job, else 0",
			}, []string{"worker_name"}),
			SuccessfulJobs: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_worker_successful_job_count",
				Help: "Number of jobs this worker has completed successfully",
			}, []string{"worker_name"}),
			FailedJobs: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_worker_failed_job_count",
				Help: "Number of jobs this worker has failed",
			}, []string{"worker_name"}),
			WorkingTimeSec: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "dearrow_worker_working_time",
				Help: "Total seconds this worker has spent processing jobs",
			}, []string{"worker_name"}),
		},

		JobsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "jobs_in_flight",
			Help: "A count of the render jobs in flight",
		}),
		HTTPRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "A count of the http requests in flight",
		}),

		ThumbnailsServedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dearrow_thumbnails_served_total",
			Help: "Number of getThumbnail requests by outcome",
		}, []string{"outcome"}),
		ThumbnailsGeneratedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "dearrow_thumbnails_generated_total",
			Help: "Number of thumbnails rendered by outcome",
		}, []string{"outcome"}),
		StorageUsedBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dearrow_storage_used_bytes",
			Help: "Cached copy of the storage-used counter",
		}),
		ConcurrentRenders: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "dearrow_concurrent_renders",
			Help: "Current entries in the concurrent-render semaphore set",
		}),
	}

	if now != nil {
		m.CurrentTime = promauto.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dearrow_current_time",
			Help: "Unix timestamp as seen by this process, for clock-skew checks",
		}, now)
	}

	return m
}

var Metrics = NewMetrics(func() float64 {
	return float64(config.Clock.GetTime().Unix())
})
