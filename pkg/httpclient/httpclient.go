// Package httpclient is the shared retrying HTTP wrapper the BDS,
// Validation, and Schema-Validation clients build on (spec §4.10's
// upstream contracts). Retries use cenkalti/backoff/v4, the same
// library cuemby-warren's transitive dependency set already carries for
// task retry; no HTTP client library appears anywhere in the pack, so
// the transport itself stays on net/http.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/iati-pipeline/core/pkg/pipelineerr"
)

// Client wraps *http.Client with the retry/backoff policy every upstream
// collaborator in spec §4.10 shares: return 400/413/422 immediately and
// retry network errors and every other non-2xx status, 5xx included.
type Client struct {
	http       *http.Client
	maxRetries uint64
	sleepStart time.Duration
	sleepMax   time.Duration
}

func New(timeout, sleepStart, sleepMax time.Duration, maxRetries uint64) *Client {
	return &Client{
		http:       &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		sleepStart: sleepStart,
		sleepMax:   sleepMax,
	}
}

// Response is the body and status of a completed request, read fully so
// callers don't manage io.ReadCloser lifetimes across retries.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Do executes req, retrying on transient failures per ClassifyHTTPStatus.
// A non-retryable 4xx response is returned (not erred) so callers can
// inspect the status and persist it, per spec §4.5's validation_api_error.
func (c *Client) Do(ctx context.Context, req *http.Request) (*Response, error) {
	var result *Response

	op := func() error {
		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response body: %w", err)
		}

		kind := pipelineerr.ClassifyHTTPStatus(resp.StatusCode)
		result = &Response{StatusCode: resp.StatusCode, Body: body, Header: resp.Header}

		if kind == pipelineerr.KindTransientUpstream {
			return pipelineerr.New(kind, fmt.Errorf("upstream status %d", resp.StatusCode))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.sleepStart
	bo.MaxInterval = c.sleepMax
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return result, err
	}
	return result, nil
}
