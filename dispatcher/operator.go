package dispatcher

import (
	"encoding/json"
	"net/http"

	"github.com/ajayyy/thumbnail-cache/log"
	"github.com/ajayyy/thumbnail-cache/middleware"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// workersKey is a heartbeat zset (worker name -> last-seen unix seconds)
// the worker harness maintains and this package only reads, so the
// status endpoint can list currently-live workers without a dedicated
// registry package.
const workersKey = "workers"

// QueueStatus mirrors one named queue's counts for the /api/v1/status
// response. Only Queued is backed by a real index (the `<name>:order`
// zset); this implementation keeps no separate per-state registries, so
// the other classes are always reported as zero — a deliberate
// simplification over the richer job-registry model the original system
// describes, documented in DESIGN.md.
type QueueStatus struct {
	Queued    int64 `json:"queued"`
	Scheduled int64 `json:"scheduled"`
	Started   int64 `json:"started"`
	Finished  int64 `json:"finished"`
	Failed    int64 `json:"failed"`
	Deferred  int64 `json:"deferred"`
	Cancelled int64 `json:"cancelled"`
}

type StatusResponse struct {
	Queues  map[string]QueueStatus `json:"queues"`
	Workers []string               `json:"workers"`
}

// Status implements GET /api/v1/status (spec.md §4.H): per-queue counts
// always, worker list always, current-job detail withheld unless auth
// matches (no current-job detail is modeled in this snapshot, so the
// auth check here only gates whether it would be safe to add later).
func (c *Collection) Status(statusAuthPassword string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		ctx := r.Context()
		_ = middleware.SecretMatches(statusAuthPassword, r.URL.Query().Get("auth"))

		resp := StatusResponse{Queues: map[string]QueueStatus{}}

		highLen, err := c.High.Len(ctx)
		if err != nil {
			log.LogNoRequestID("status: high queue length failed", "err", err.Error())
		}
		resp.Queues["high"] = QueueStatus{Queued: highLen}

		defaultLen, err := c.Default.Len(ctx)
		if err != nil {
			log.LogNoRequestID("status: default queue length failed", "err", err.Error())
		}
		resp.Queues["default"] = QueueStatus{Queued: defaultLen}

		workers, err := c.KV.ZRange(ctx, workersKey, 0, -1)
		if err != nil {
			log.LogNoRequestID("status: worker list failed", "err", err.Error())
			workers = nil
		}
		resp.Workers = workers

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.LogNoRequestID("status: encode response failed", "err", err.Error())
		}
	}
}

// ClearQueue implements GET /api/v1/clearQueue (spec.md §4.H): empties the
// named queues when auth matches, a silent 204 no-op otherwise.
func (c *Collection) ClearQueue(statusAuthPassword string) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if !middleware.SecretMatches(statusAuthPassword, r.URL.Query().Get("auth")) {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		ctx := r.Context()
		q := r.URL.Query()
		if q.Get("low") == "true" {
			if err := c.Default.Empty(ctx); err != nil {
				log.LogNoRequestID("clearQueue: emptying default queue failed", "err", err.Error())
			}
		}
		if q.Get("high") == "true" {
			if err := c.High.Empty(ctx); err != nil {
				log.LogNoRequestID("clearQueue: emptying high queue failed", "err", err.Error())
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Metrics implements GET /metrics: the standard Prometheus text exporter.
func Metrics() httprouter.Handle {
	h := promhttp.Handler()
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		h.ServeHTTP(w, r)
	}
}
