package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	result Result
	err    error
}

func (f fakeStrategy) Resolve(ctx context.Context, videoID string, proxyURL string, isLivestream bool) (Result, error) {
	return f.result, f.err
}

func TestBestFormatPicksFirstWithinHeight(t *testing.T) {
	res := Playable([]Format{
		{Height: 1080, URL: "tall"},
		{Height: 480, URL: "small"},
	})

	f, ok := res.BestFormat(720)
	require.True(t, ok)
	require.Equal(t, "small", f.URL)
}

func TestBestFormatNoneQualify(t *testing.T) {
	res := Playable([]Format{{Height: 1080}})
	_, ok := res.BestFormat(480)
	require.False(t, ok)
}

func TestChainFallsThroughOnError(t *testing.T) {
	chain := Chain{
		fakeStrategy{err: errors.New("boom")},
		fakeStrategy{result: Playable([]Format{{Height: 360, URL: "ok"}})},
	}

	res, err := chain.Resolve(context.Background(), "jNQXAC9IVRw", "", false)
	require.NoError(t, err)
	require.Equal(t, KindPlayable, res.Kind)
	require.Equal(t, "ok", res.Formats[0].URL)
}

func TestChainStopsOnUnplayable(t *testing.T) {
	chain := Chain{
		fakeStrategy{result: Unplayable("geoblocked")},
		fakeStrategy{result: Playable([]Format{{Height: 360}})},
	}

	res, err := chain.Resolve(context.Background(), "jNQXAC9IVRw", "", false)
	require.NoError(t, err)
	require.Equal(t, KindUnplayable, res.Kind)
	require.Equal(t, "geoblocked", res.Reason)
}

func TestChainAllFailing(t *testing.T) {
	chain := Chain{fakeStrategy{err: errors.New("boom")}}
	_, err := chain.Resolve(context.Background(), "jNQXAC9IVRw", "", false)
	require.Error(t, err)
}

func TestParseFrameRate(t *testing.T) {
	require.Equal(t, 30.0, parseFrameRate("30/1"))
	require.Equal(t, 29.97, parseFrameRate("2997/100"))
	require.Equal(t, float64(0), parseFrameRate("bad"))
}
