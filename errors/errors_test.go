package errors

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnretriable(t *testing.T) {
	err := Unretriable(fmt.Errorf("bar"))
	require.True(t, IsUnretriable(err))
	require.False(t, IsUnretriable(fmt.Errorf("bar")))
}

func TestErrorKindsAreMatchable(t *testing.T) {
	wrapped := fmt.Errorf("resolving jNQXAC9IVRw: %w", ErrRenderFailed)
	require.True(t, errors.Is(wrapped, ErrRenderFailed))
	require.False(t, errors.Is(wrapped, ErrTimeout))
}

func TestWriteHTTPNoContentWithReason(t *testing.T) {
	w := httptest.NewRecorder()
	WriteHTTPNoContentWithReason(w, "Thumbnail not generated yet")
	require.Equal(t, 204, w.Code)
	require.Equal(t, "Thumbnail not generated yet", w.Header().Get("X-Failure-Reason"))
}
