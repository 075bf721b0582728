package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/ajayyy/thumbnail-cache/errors"
	"github.com/julienschmidt/httprouter"
)

// SecretMatches compares candidate against secret in constant time. An
// empty secret never matches, so an unset password can't be satisfied by
// an empty query parameter.
func SecretMatches(secret, candidate string) bool {
	if secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(candidate)) == 1
}

// RequireQueryAuth gates next on the request's `auth` query parameter
// matching secret, responding with a silent 204 otherwise (spec.md §7:
// "unauthorized operator calls fail silently"). Used by /api/v1/status
// and /api/v1/clearQueue.
func RequireQueryAuth(secret string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !SecretMatches(secret, r.URL.Query().Get("auth")) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r, ps)
	}
}

// RequireQueryAuthOr401 is the floatie-endpoint variant: a mismatch gets
// a 401 instead of a silent 204, for diagnostic parity (spec.md §7).
func RequireQueryAuthOr401(secret string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if !SecretMatches(secret, r.URL.Query().Get("auth")) {
			errors.WriteHTTPUnauthorized(w, "invalid auth", nil)
			return
		}
		next(w, r, ps)
	}
}
