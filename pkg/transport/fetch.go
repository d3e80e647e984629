package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/flagkit/pkg/hashing"
	"github.com/dmitrymomot/flagkit/pkg/identity"
	"github.com/dmitrymomot/flagkit/pkg/store"
)

// retryableStatus is the fixed allow-list of transient statuses worth
// retrying: the 5xx family plus request timeout and the proxy codes that
// signal an overloaded hop rather than a bad request.
var retryableStatus = map[int]struct{}{
	http.StatusRequestTimeout:      {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
	http.StatusLoopDetected:        {},
	524:                            {}, // origin timeout
	599:                            {}, // network connect timeout
}

type fetchRequest struct {
	User            *identity.User    `json:"user"`
	Metadata        Metadata          `json:"sdkMetadata"`
	SinceTime       int64             `json:"sinceTime,omitempty"`
	DeltasRequested bool              `json:"deltasRequested,omitempty"`
	HashAlgorithm   hashing.Algorithm `json:"hashAlgorithm"`
	PrefetchUsers   []*identity.User  `json:"prefetchUsers,omitempty"`
}

// FetchValues requests fresh values for a user. The call races against
// timeout: if the timeout elapses first the function returns ErrTimeout
// immediately, but the underlying request keeps running; if it later
// succeeds, its response is delivered on the returned channel. The
// channel is buffered and closed when the background call finishes, so it
// may be observed or ignored freely. A timeout of zero or less disables the
// race and waits for the call.
func (c *Client) FetchValues(ctx context.Context, user *identity.User, sinceTime int64, timeout time.Duration) (*store.FetchResponse, <-chan *store.FetchResponse, error) {
	url := c.apiURL + endpointInitialize
	if err := c.limiter.acquire(url); err != nil {
		return nil, nil, err
	}

	body := fetchRequest{
		User:            user,
		Metadata:        c.meta,
		SinceTime:       sinceTime,
		DeltasRequested: sinceTime > 0,
		HashAlgorithm:   hashing.AlgorithmDJB2,
	}

	type outcome struct {
		resp *store.FetchResponse
		err  error
	}
	done := make(chan outcome, 1)
	eventually := make(chan *store.FetchResponse, 1)

	// The background call outlives a caller timeout on purpose; detach it
	// from the caller's cancellation so a slow network does not strand the
	// user on stale data forever.
	bgCtx := context.WithoutCancel(ctx)
	go func() {
		defer c.limiter.release(url)
		defer close(eventually)
		raw, err := c.postWithRetry(bgCtx, url, body)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		var resp store.FetchResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			done <- outcome{err: fmt.Errorf("%w: %w", ErrMalformedResponse, err)}
			return
		}
		eventually <- &resp
		done <- outcome{resp: &resp}
	}()

	if timeout <= 0 {
		select {
		case out := <-done:
			return out.resp, eventually, out.err
		case <-ctx.Done():
			return nil, eventually, ctx.Err()
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-done:
		return out.resp, eventually, out.err
	case <-timer.C:
		return nil, eventually, ErrTimeout
	case <-ctx.Done():
		return nil, eventually, ctx.Err()
	}
}

// LogEvents delivers an exposure batch to the logging endpoint. Any 2xx
// response is success.
func (c *Client) LogEvents(ctx context.Context, payload any) error {
	url := c.eventsURL + endpointLogEvent
	if err := c.limiter.acquire(url); err != nil {
		return err
	}
	defer c.limiter.release(url)
	_, err := c.postWithRetry(ctx, url, payload)
	return err
}

// SendBeacon fires a one-way delivery of an exposure batch during teardown.
// The response body is never read and failures only report false; the caller
// falls back to the durable failure queue.
func (c *Client) SendBeacon(payload []byte) bool {
	url := c.eventsURL + endpointLogEvent
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.beaconHTTP.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// postWithRetry POSTs JSON with exponential backoff on the transient status
// allow-list and on transport-level failures. Configured retries at or below
// zero collapse to exactly one attempt.
func (c *Client) postWithRetry(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	attempts := c.maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			// Exponential doubling from the base interval.
			delay := c.backoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		raw, retryable, err := c.attempt(ctx, url, body)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.log.Debug("request failed, will retry", "url", url, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRequestFailed, attempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, url string, body []byte) (raw []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, false, err
		}
		// Transport-level failure, worth retrying.
		return nil, true, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if readErr != nil {
			return nil, true, fmt.Errorf("%w: %w", ErrMalformedResponse, readErr)
		}
		return raw, false, nil
	}
	_, retry := retryableStatus[resp.StatusCode]
	return nil, retry, fmt.Errorf("%w: status %d", ErrRequestFailed, resp.StatusCode)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("FLAGKIT-API-KEY", c.sdkKey)
	req.Header.Set("FLAGKIT-CLIENT-TIME", strconv.FormatInt(time.Now().UnixMilli(), 10))
	req.Header.Set("User-Agent", "flagkit-go/"+Version)
}
