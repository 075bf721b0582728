// Package storage implements the on-disk thumbnail layout and the
// last-used LRU index touches described in spec.md §4.C:
// <root>/<videoID>/<time>[-live].webp plus an optional <time>.txt title.
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/ajayyy/thumbnail-cache/kv"
	"github.com/ajayyy/thumbnail-cache/videoid"
)

// ErrMiss is returned by the read paths when no usable thumbnail exists.
var ErrMiss = errors.New("thumbnail not cached")

const lastUsedKey = "last-used"
const bestTimeKeyPrefix = "best-"

// Store is the on-disk thumbnail cache rooted at Root.
type Store struct {
	Root string
	KV   kv.Client
}

func New(root string, client kv.Client) *Store {
	return &Store{Root: root, KV: client}
}

func (s *Store) videoDir(videoID string) string {
	return filepath.Join(s.Root, videoID)
}

// ImagePath returns the path an image for (videoID, time, isLivestream)
// would live at, whether or not it currently exists.
func (s *Store) ImagePath(videoID string, t float64, isLivestream bool) string {
	name := videoid.FormatTime(t)
	if isLivestream {
		name += config.LiveImageSuffix
	}
	return filepath.Join(s.videoDir(videoID), name+config.ImageExt)
}

// MetaPath returns the path a title metadata file for (videoID, time) would
// live at.
func (s *Store) MetaPath(videoID string, t float64) string {
	return filepath.Join(s.videoDir(videoID), videoid.FormatTime(t)+config.MetaExt)
}

// TempVideoPath returns the transient local MP4 path used by the
// live-stream download step (spec.md §4.E step 6).
func (s *Store) TempVideoPath(videoID string, t float64) string {
	return filepath.Join(s.videoDir(videoID), videoid.FormatTime(t)+config.TempVideoExt)
}

// EnsureVideoDir idempotently creates the per-video directory. Spec.md
// §4.D relies on the last-used index already containing videoID by the
// time the directory exists, so callers must touch the index first.
func (s *Store) EnsureVideoDir(videoID string) error {
	return os.MkdirAll(s.videoDir(videoID), 0755)
}

// WriteImage writes data to path, the way the extractor's own output file
// becomes the final cache entry: the extractor process writes the file
// directly, so this just records the size for accounting purposes after
// the fact. Exposed mainly so tests can seed the cache without an
// extractor.
func (s *Store) WriteImage(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// WriteMeta writes the UTF-8 title metadata file (spec.md §4.E step 10).
func (s *Store) WriteMeta(path string, title string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(title), 0644)
}

// RemovePartial deletes path if present, ignoring a not-exist error. Used
// to clean up a failed extractor's partial output.
func (s *Store) RemovePartial(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadImage reads the image for (videoID, time, isLivestream). If a
// metadata file with the same stem exists, its content is returned as the
// title. A zero-byte image (or a missing one) is reported as ErrMiss.
func (s *Store) ReadImage(ctx context.Context, videoID string, t float64, isLivestream bool) ([]byte, *string, error) {
	path := s.ImagePath(videoID, t, isLivestream)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrMiss
		}
		return nil, nil, err
	}
	if len(data) == 0 {
		return nil, nil, ErrMiss
	}

	var title *string
	if metaData, err := os.ReadFile(s.MetaPath(videoID, t)); err == nil {
		str := string(metaData)
		title = &str
	}

	s.touchLastUsed(ctx, videoID)
	return data, title, nil
}

// LocateByTruncatedPrefix scans videoID's directory once for an image
// whose stem starts with floor(t*1000)/1000, for callers whose requested
// time was rounded to lower precision than what is stored (spec.md §4.C).
func (s *Store) LocateByTruncatedPrefix(ctx context.Context, videoID string, t float64, isLivestream bool) (float64, []byte, *string, error) {
	truncated := videoid.FormatTime(float64(int64(t*1000)) / 1000)

	entries, err := os.ReadDir(s.videoDir(videoID))
	if err != nil {
		return 0, nil, nil, ErrMiss
	}

	suffix := config.ImageExt
	if isLivestream {
		suffix = config.LiveImageSuffix + config.ImageExt
	}

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), suffix)
		if strings.HasPrefix(stem, truncated) {
			parsedTime, parseErr := strconv.ParseFloat(stem, 64)
			if parseErr != nil {
				continue
			}
			data, title, err := s.ReadImage(ctx, videoID, parsedTime, isLivestream)
			if err != nil {
				continue
			}
			return parsedTime, data, title, nil
		}
	}
	return 0, nil, nil, ErrMiss
}

// LatestThumbnail returns the best thumbnail known for videoID: the
// best-<videoID> time if set and present, else the latest-mtime title's
// matching image, else the latest-mtime image (spec.md §4.C).
func (s *Store) LatestThumbnail(ctx context.Context, videoID string, isLivestream bool) (float64, []byte, *string, error) {
	if bestTime, ok, err := s.bestTime(ctx, videoID); err == nil && ok {
		if data, title, err := s.ReadImage(ctx, videoID, bestTime, isLivestream); err == nil {
			return bestTime, data, title, nil
		}
	}

	entries, err := os.ReadDir(s.videoDir(videoID))
	if err != nil {
		return 0, nil, nil, ErrMiss
	}

	type fileInfo struct {
		name    string
		modTime int64
	}
	var metas, images []fileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		fi := fileInfo{name: e.Name(), modTime: info.ModTime().UnixNano()}
		switch {
		case strings.HasSuffix(e.Name(), config.MetaExt):
			metas = append(metas, fi)
		case strings.HasSuffix(e.Name(), config.ImageExt):
			images = append(images, fi)
		}
	}

	sortByModTimeDesc := func(list []fileInfo) {
		sort.Slice(list, func(i, j int) bool { return list[i].modTime > list[j].modTime })
	}
	sortByModTimeDesc(metas)
	sortByModTimeDesc(images)

	for _, m := range metas {
		stem := strings.TrimSuffix(m.name, config.MetaExt)
		t, err := strconv.ParseFloat(stem, 64)
		if err != nil {
			continue
		}
		if data, title, err := s.ReadImage(ctx, videoID, t, isLivestream); err == nil {
			return t, data, title, nil
		}
	}

	for _, img := range images {
		stem := strings.TrimSuffix(strings.TrimSuffix(img.name, config.ImageExt), config.LiveImageSuffix)
		t, err := strconv.ParseFloat(stem, 64)
		if err != nil {
			continue
		}
		if data, title, err := s.ReadImage(ctx, videoID, t, isLivestream); err == nil {
			return t, data, title, nil
		}
	}

	return 0, nil, nil, ErrMiss
}

// SetBestTime records officialTime=true (spec.md §4.F step 2).
func (s *Store) SetBestTime(ctx context.Context, videoID string, t float64) error {
	return kv.Retry(ctx, func() error {
		return s.KV.Set(ctx, bestTimeKeyPrefix+videoID, videoid.FormatTime(t), 0)
	})
}

func (s *Store) bestTime(ctx context.Context, videoID string) (float64, bool, error) {
	raw, ok, err := s.KV.Get(ctx, bestTimeKeyPrefix+videoID)
	if err != nil || !ok {
		return 0, false, err
	}
	t, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, nil
	}
	return t, true, nil
}

// TouchLastUsed records videoID as used at the given unix-seconds score.
// Non-fatal on error: callers in the render task treat this as
// best-effort (spec.md §4.E step 2).
func (s *Store) TouchLastUsed(ctx context.Context, videoID string, unixSeconds float64) error {
	return kv.Retry(ctx, func() error {
		return s.KV.ZAdd(ctx, lastUsedKey, unixSeconds, videoID)
	})
}

func (s *Store) touchLastUsed(ctx context.Context, videoID string) {
	_ = s.TouchLastUsed(ctx, videoID, float64(config.Clock.GetTime().Unix()))
}

// AddStorageUsed increments the storage-used accounting counter by delta
// bytes (spec.md §4.E step 11).
func (s *Store) AddStorageUsed(ctx context.Context, delta int64) error {
	return kv.Retry(ctx, func() error {
		_, err := s.KV.Incr(ctx, "storage-used", delta)
		return err
	})
}

