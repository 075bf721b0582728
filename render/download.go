package render

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/ajayyy/thumbnail-cache/config"
	"github.com/ajayyy/thumbnail-cache/log"
	"github.com/ajayyy/thumbnail-cache/metrics"
	"github.com/ajayyy/thumbnail-cache/progress"
	"github.com/hashicorp/go-retryablehttp"
)

// downloadLiveMP4 fetches a livestream's playback URL body to a local
// file so the extractor can seek within it, bounded by
// config.LiveDownloadTimeout (spec.md §4.E step 6).
func downloadLiveMP4(ctx context.Context, mediaURL string, destPath string, proxyURL string) error {
	ctx, cancel := context.WithTimeout(ctx, config.LiveDownloadTimeout)
	defer cancel()

	inner := &http.Client{}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return fmt.Errorf("parsing proxy URL: %w", err)
		}
		inner.Transport = &http.Transport{Proxy: http.ProxyURL(parsed)}
	}

	retryable := retryablehttp.NewClient()
	retryable.RetryMax = 2
	retryable.RetryWaitMin = 200 * time.Millisecond
	retryable.RetryWaitMax = 1 * time.Second
	retryable.CheckRetry = metrics.HttpRetryHook
	retryable.Logger = log.NewRetryableHTTPLogger()
	retryable.HTTPClient = inner
	client := retryable.StandardClient()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading live stream body: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("downloading live stream body: unexpected status %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()

	counted := progress.NewReadCounter(resp.Body)
	hashed := progress.NewReadHasher(counted)
	if _, err := io.Copy(out, hashed); err != nil {
		return fmt.Errorf("writing live stream body: %w", err)
	}
	log.LogNoRequestID("downloaded live stream mp4", "bytes", counted.Count(), "sha256", hashed.SHA256())
	return nil
}
