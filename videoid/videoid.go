// Package videoid holds the small set of pure helpers shared by every
// module that needs to validate a video ID or format a render timestamp
// the same way twice: the queue (job IDs), storage (file paths), and the
// dispatcher (request validation, response headers).
package videoid

import (
	"fmt"
	"regexp"
	"strconv"
)

var pattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Valid reports whether videoID matches the 11-character token format
// spec.md §3 requires.
func Valid(videoID string) bool {
	return pattern.MatchString(videoID)
}

// FormatTime prints t the way it is stored on disk and used in job/channel
// IDs: the shortest decimal representation that round-trips, matching what
// a caller who parsed the same float would produce.
func FormatTime(t float64) string {
	return strconv.FormatFloat(t, 'f', -1, 64)
}

// JobID computes the deterministic "<videoID>-<time>" job id, also used as
// the pub/sub channel name (GLOSSARY).
func JobID(videoID string, t float64) string {
	return fmt.Sprintf("%s-%s", videoID, FormatTime(t))
}
