package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ajayyy/thumbnail-cache/metrics"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackInFlightCallsNext(t *testing.T) {
	var nextCalled bool
	next := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		nextCalled = true
		w.WriteHeader(http.StatusOK)
	}

	handler := TrackInFlight(next)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler(rec, req, nil)

	require.True(t, nextCalled)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTrackInFlightReleasesGaugeOnPanic(t *testing.T) {
	before := testutil.ToFloat64(metrics.Metrics.HTTPRequestsInFlight)

	next := func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		panic("boom")
	}
	handler := TrackInFlight(next)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	func() {
		defer func() { _ = recover() }()
		handler(rec, req, nil)
	}()

	require.Equal(t, before, testutil.ToFloat64(metrics.Metrics.HTTPRequestsInFlight))
}
