package dispatcher

import (
	"context"
	"net/http"

	thumberrors "github.com/ajayyy/thumbnail-cache/errors"
	"github.com/ajayyy/thumbnail-cache/log"
	"github.com/ajayyy/thumbnail-cache/middleware"
	"github.com/ajayyy/thumbnail-cache/videoid"
	"github.com/julienschmidt/httprouter"
)

// RawResolver fetches the undecoded resolver payload for videoID, the way
// resolver.InnertubeStrategy.FetchRaw does — kept as a narrow interface
// here so the dispatcher doesn't need to import the concrete strategy
// type.
type RawResolver interface {
	FetchRaw(ctx context.Context, videoID string) ([]byte, error)
}

// Floatie implements GET /api/v1/floatie (spec.md §6): the raw resolver
// payload for videoID, gated by floatieAuth with a 401 (not a silent 204)
// on mismatch, for diagnostic parity with the rest of the operator
// surface.
func (c *Collection) Floatie(floatieAuth string, resolver RawResolver) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if !middleware.SecretMatches(floatieAuth, r.URL.Query().Get("auth")) {
			thumberrors.WriteHTTPUnauthorized(w, "invalid auth", nil)
			return
		}

		videoID := r.URL.Query().Get("videoID")
		if !videoid.Valid(videoID) {
			thumberrors.WriteHTTPBadRequest(w, thumberrors.ErrInvalidRequest.Error(), nil)
			return
		}

		raw, err := resolver.FetchRaw(r.Context(), videoID)
		if err != nil {
			log.LogNoRequestID("floatie: resolve failed", "videoID", videoID, "err", err.Error())
			thumberrors.WriteHTTPInternalServerError(w, thumberrors.ErrServerError.Error(), err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(raw); err != nil {
			log.LogNoRequestID("floatie: failed to write response", "err", err.Error())
		}
	}
}
