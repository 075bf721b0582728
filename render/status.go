package render

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ajayyy/thumbnail-cache/log"
	"github.com/ajayyy/thumbnail-cache/metrics"
	"github.com/ajayyy/thumbnail-cache/proxy"
	"github.com/hashicorp/go-retryablehttp"
)

var statusReportHTTPClient = newStatusReportHTTPClient()

func newStatusReportHTTPClient() *http.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.CheckRetry = metrics.HttpRetryHook
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{
		Timeout: 10 * time.Second,
	}
	return client.StandardClient()
}

// reportStatus posts a render's success/failure to the proxy's status
// endpoint, when it advertised one (spec.md §4.E step 13). Best-effort:
// errors are logged, never propagated.
func reportStatus(ctx context.Context, info proxy.Info, success bool) {
	endpoint, err := url.Parse(info.StatusReportURL)
	if err != nil {
		log.LogNoRequestID("parsing proxy status report URL failed", "err", err.Error())
		return
	}

	q := endpoint.Query()
	q.Set("success", fmt.Sprintf("%v", success))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		log.LogNoRequestID("building proxy status report request failed", "err", err.Error())
		return
	}

	resp, err := statusReportHTTPClient.Do(req)
	if err != nil {
		log.LogNoRequestID("reporting proxy status failed", "err", err.Error())
		return
	}
	defer resp.Body.Close()
}
