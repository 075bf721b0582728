package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ajayyy/thumbnail-cache/log"
)

type APIError struct {
	Msg    string `json:"message"`
	Status int    `json:"status"`
	Err    error  `json:"-"`
}

func writeHttpError(w http.ResponseWriter, msg string, status int, err error) APIError {
	w.WriteHeader(status)

	var errorDetail string
	if err != nil {
		errorDetail = err.Error()
	}

	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg, "error_detail": errorDetail}); err != nil {
		log.LogNoRequestID("error writing HTTP error", "http_error_msg", msg, "error", err)
	}
	return APIError{msg, status, err}
}

func WriteHTTPUnauthorized(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusUnauthorized, err)
}

func WriteHTTPBadRequest(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusBadRequest, err)
}

func WriteHTTPInternalServerError(w http.ResponseWriter, msg string, err error) APIError {
	return writeHttpError(w, msg, http.StatusInternalServerError, err)
}

// WriteHTTPNoContentWithReason writes the 204-with-X-Failure-Reason response
// the dispatcher uses for every non-success thumbnail outcome, spec.md §7.
func WriteHTTPNoContentWithReason(w http.ResponseWriter, reason string) {
	w.Header().Set("X-Failure-Reason", reason)
	w.WriteHeader(http.StatusNoContent)
}

// Special wrapper for errors that should never be retried (e.g. a resolver
// geoblock signal, or invalid input). Mirrors the teacher's pattern of
// tagging errors rather than inventing a parallel error-code hierarchy.
type UnretriableError struct{ error }

func Unretriable(err error) error {
	return UnretriableError{err}
}

func (e UnretriableError) Unwrap() error {
	return e.error
}

func IsUnretriable(err error) bool {
	return errors.As(err, &UnretriableError{})
}

// Error kinds enumerated in spec.md §7. Each is a sentinel that callers wrap
// with fmt.Errorf("...: %w", KindXxx) to preserve detail while staying
// matchable with errors.Is.
var (
	ErrInvalidRequest  = errors.New("invalid request parameters")
	ErrCacheMissNoTime = errors.New("thumbnail not cached")
	ErrNotReady        = errors.New("thumbnail not generated yet")
	ErrTimeout         = errors.New("timed out waiting for thumbnail generation")
	ErrRenderFailed    = errors.New("failed to generate thumbnail")
	ErrTooSmall        = errors.New("generated image too small, likely corrupt")
	ErrQueueFull       = errors.New("queue too big")
	ErrServerError     = errors.New("server error")
	ErrUnauthorized    = errors.New("unauthorized")
)
