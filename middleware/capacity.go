package middleware

import (
	"net/http"

	"github.com/ajayyy/thumbnail-cache/metrics"
	"github.com/julienschmidt/httprouter"
)

// TrackInFlight wraps next so every request increments the
// http_requests_in_flight gauge on entry and decrements it on exit,
// regardless of outcome.
func TrackInFlight(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		metrics.Metrics.HTTPRequestsInFlight.Add(1)
		defer metrics.Metrics.HTTPRequestsInFlight.Add(-1)
		next(w, r, ps)
	}
}
