package middleware

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

// AllowCORS applies spec.md §6's policy: wide-open origin, credentials
// enabled, every method/header, the thumbnail response headers exposed,
// and a day-long preflight cache.
func AllowCORS() func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		handler := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Headers", "*")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, HEAD, POST, PUT, DELETE, CONNECT, OPTIONS, TRACE")
			h.Set("Access-Control-Expose-Headers", "X-Timestamp, X-Title, X-Failure-Reason")
			h.Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				h.Set("allow", "GET, HEAD, OPTIONS")
				h.Set("content-length", "0")
				h.Set("accept-ranges", "bytes")
				w.WriteHeader(http.StatusOK)
				return
			}

			next(w, r, ps)
		}
		return handler
	}
}
