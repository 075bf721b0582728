package dispatcher

import (
	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/ajayyy/thumbnail-cache/middleware"
	"github.com/julienschmidt/httprouter"
)

// NewRouter wires every endpoint in spec.md §6's external-interfaces table
// behind the shared CORS/logging/in-flight-tracking middleware stack,
// grounded on the teacher's StartCatalystAPIRouter shape.
func NewRouter(c *Collection, cfg *config.ThumbnailConfig, resolver RawResolver) *httprouter.Router {
	router := httprouter.New()

	wrap := func(h httprouter.Handle) httprouter.Handle {
		return middleware.LogRequest()(middleware.AllowCORS()(middleware.TrackInFlight(h)))
	}

	router.GET("/", wrap(c.Root()))
	router.GET("/api/v1/getThumbnail", wrap(c.GetThumbnail()))
	router.GET("/api/v1/status", wrap(c.Status(cfg.StatusAuthPassword)))
	router.GET("/api/v1/clearQueue", wrap(c.ClearQueue(cfg.StatusAuthPassword)))
	router.GET("/api/v1/floatie", wrap(c.Floatie(cfg.FloatieAuth, resolver)))
	router.GET("/metrics", wrap(Metrics()))

	return router
}
