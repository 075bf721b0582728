// Package extractor wraps the ffmpeg binary to pull a single frame out of
// a video at a given timestamp, per spec.md §4.E step 7.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/ajayyy/thumbnail-cache/config"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Options configures a single frame extraction.
type Options struct {
	// Input is a local file path or a remote URL ffmpeg can open directly.
	Input string
	// SeekSeconds is the already frame-aligned timestamp to seek to.
	SeekSeconds float64
	// Output is the destination image path; ffmpeg picks the codec from
	// its extension.
	Output string
	// ProxyURL routes ffmpeg's own network fetch of Input through an
	// HTTP proxy, used on the retry-through-proxy path (spec.md §4.E
	// step 8).
	ProxyURL string
}

// Extract seeks to opts.SeekSeconds in opts.Input and writes a single
// lossy BGRA frame to opts.Output, bounded by config.ExtractorTimeout.
// On failure the caller is responsible for removing any partial output.
func Extract(ctx context.Context, opts Options) error {
	ctx, cancel := context.WithTimeout(ctx, config.ExtractorTimeout)
	defer cancel()

	inputKwArgs := ffmpeg.KwArgs{"ss": fmt.Sprintf("%f", opts.SeekSeconds)}
	if opts.ProxyURL != "" {
		inputKwArgs["http_proxy"] = opts.ProxyURL
	}

	var stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- ffmpeg.
			Input(opts.Input, inputKwArgs).
			Output(opts.Output, ffmpeg.KwArgs{
				"vframes":  "1",
				"lossless": "0",
				"pix_fmt":  "bgra",
				"update":   "1",
			}).
			OverWriteOutput().
			WithErrorOutput(&stderr).
			Run()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("extracting frame from %s at %fs [%s]: %w", opts.Input, opts.SeekSeconds, stderr.String(), err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("extracting frame from %s at %fs: %w", opts.Input, opts.SeekSeconds, ctx.Err())
	}
}

// RemovePartial deletes a possibly-partial extractor output, ignoring a
// not-exist error.
func RemovePartial(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
