package worker

import (
	"encoding/json"
	"net/http"

	"github.com/ajayyy/thumbnail-cache/log"
	"github.com/julienschmidt/httprouter"
)

// Health implements the worker's health HTTP endpoint (spec.md §4.G),
// grounded on the teacher's HealthcheckResponse/Healthcheck shape: 200
// with a JSON state snapshot while idle or busy, 500 while suspended.
func (h *Harness) Health() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		snapshot := h.Snapshot()

		status := http.StatusOK
		if snapshot.State == StateSuspended {
			status = http.StatusInternalServerError
		}

		b, err := json.Marshal(snapshot)
		if err != nil {
			log.LogNoRequestID("failed to marshal worker health snapshot", "worker", h.Name, "err", err.Error())
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if _, err := w.Write(b); err != nil {
			log.LogNoRequestID("failed to write worker health response", "worker", h.Name, "err", err.Error())
		}
	}
}
