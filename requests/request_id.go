package requests

import (
	"net/http"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// GetRequestId returns the caller-supplied X-Request-Id header, or mints
// one and stamps it onto the request so downstream handlers and logs
// agree on a single correlation ID for this request.
func GetRequestId(req *http.Request) string {
	requestID := req.Header.Get(requestIDHeader)
	if requestID != "" {
		return requestID
	}
	requestID = uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	return requestID
}
