package config

import "time"

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

type TimestampGenerator interface {
	GetTime() time.Time
}

type RealTimestampGenerator struct{}

func (t RealTimestampGenerator) GetTime() time.Time {
	return time.Now()
}

type FixedTimestampGenerator struct {
	Timestamp time.Time
}

func (t FixedTimestampGenerator) GetTime() time.Time {
	return t.Timestamp
}

// MinImageBytes is the threshold at or below which a rendered image is
// considered corrupt (e.g. a premiere placeholder frame) and discarded.
const MinImageBytes = 200

const ImageExt = ".webp"
const LiveImageSuffix = "-live"
const MetaExt = ".txt"
const TempVideoExt = ".mp4"

// Job-queue tuning, not user configurable, see spec.md §4.F.
const (
	JobTimeout  = 30 * time.Second
	FailureTTL  = 500 * time.Second
	JobTTL      = 60 * time.Second
	WaitTimeout = 15 * time.Second
)

// Eviction tuning not exposed in the YAML config.
const (
	CleanupJobTimeout  = 2 * time.Hour
	StorageCheckPeriod = 30 * time.Minute
)

// Concurrent-render semaphore tuning, spec.md §3/§4.E.
const (
	ConcurrentRenderStaleAfter = 60 * time.Second
	ConcurrentRenderBackoffMin = 100 * time.Millisecond
	ConcurrentRenderBackoffMax = 150 * time.Millisecond
	ConcurrentRenderSweepEvery = time.Second
)

// KV retry policy, spec.md §4.A: 5 attempts, base 0.1s, factor 3.
const (
	KVRetryAttempts = 5
	KVRetryBase     = 100 * time.Millisecond
	KVRetryFactor   = 3.0
)

// Live-stream MP4 download deadline, spec.md §4.E step 6.
const LiveDownloadTimeout = 5 * time.Second

// Extractor wall-clock timeout, spec.md §4.E step 7.
const ExtractorTimeout = 20 * time.Second
