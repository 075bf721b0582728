package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return New(root, kv.NewFakeClient())
}

func TestImagePathSuffixes(t *testing.T) {
	s := newTestStore(t)
	require.Equal(t, filepath.Join(s.Root, "jNQXAC9IVRw", "17.webp"), s.ImagePath("jNQXAC9IVRw", 17, false))
	require.Equal(t, filepath.Join(s.Root, "jNQXAC9IVRw", "17-live.webp"), s.ImagePath("jNQXAC9IVRw", 17, true))
}

func TestReadImageMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _, err := s.ReadImage(ctx, "jNQXAC9IVRw", 0, false)
	require.ErrorIs(t, err, ErrMiss)
}

func TestReadImageZeroBytesIsMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := s.ImagePath("jNQXAC9IVRw", 0, false)
	require.NoError(t, s.WriteImage(path, []byte{}))

	_, _, err := s.ReadImage(ctx, "jNQXAC9IVRw", 0, false)
	require.ErrorIs(t, err, ErrMiss)
}

func TestReadImageWithTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	imgPath := s.ImagePath("jNQXAC9IVRw", 17, false)
	require.NoError(t, s.WriteImage(imgPath, []byte("fake webp bytes")))
	require.NoError(t, s.WriteMeta(s.MetaPath("jNQXAC9IVRw", 17), "Me at the zoo"))

	data, title, err := s.ReadImage(ctx, "jNQXAC9IVRw", 17, false)
	require.NoError(t, err)
	require.Equal(t, []byte("fake webp bytes"), data)
	require.NotNil(t, title)
	require.Equal(t, "Me at the zoo", *title)
}

func TestReadImageTouchesLastUsed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteImage(s.ImagePath("jNQXAC9IVRw", 0, false), []byte("data")))

	_, _, err := s.ReadImage(ctx, "jNQXAC9IVRw", 0, false)
	require.NoError(t, err)

	card, err := s.KV.ZCard(ctx, "last-used")
	require.NoError(t, err)
	require.Equal(t, int64(1), card)
}

func TestLocateByTruncatedPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteImage(s.ImagePath("jNQXAC9IVRw", 17.256789, false), []byte("data")))

	foundTime, data, _, err := s.LocateByTruncatedPrefix(ctx, "jNQXAC9IVRw", 17.256, false)
	require.NoError(t, err)
	require.Equal(t, 17.256789, foundTime)
	require.Equal(t, []byte("data"), data)
}

func TestLatestThumbnailPrefersBestTime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.WriteImage(s.ImagePath("jNQXAC9IVRw", 0, false), []byte("old")))
	require.NoError(t, s.WriteImage(s.ImagePath("jNQXAC9IVRw", 17, false), []byte("new")))
	require.NoError(t, s.SetBestTime(ctx, "jNQXAC9IVRw", 0))

	bestTime, data, _, err := s.LatestThumbnail(ctx, "jNQXAC9IVRw", false)
	require.NoError(t, err)
	require.Equal(t, float64(0), bestTime)
	require.Equal(t, []byte("old"), data)
}

func TestLatestThumbnailFallsBackToMostRecentFile(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureVideoDir("jNQXAC9IVRw"))

	require.NoError(t, s.WriteImage(s.ImagePath("jNQXAC9IVRw", 0, false), []byte("old")))
	olderInfo, err := os.Stat(s.ImagePath("jNQXAC9IVRw", 0, false))
	require.NoError(t, err)

	require.NoError(t, s.WriteImage(s.ImagePath("jNQXAC9IVRw", 17, false), []byte("new")))
	newerInfo, err := os.Stat(s.ImagePath("jNQXAC9IVRw", 17, false))
	require.NoError(t, err)
	require.True(t, !newerInfo.ModTime().Before(olderInfo.ModTime()))

	_, data, _, err := s.LatestThumbnail(ctx, "jNQXAC9IVRw", false)
	require.NoError(t, err)
	require.Equal(t, []byte("new"), data)
}
