package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// maxBodyBytes caps how much of an upstream response we will buffer.
const maxBodyBytes = 4 << 20

// getJSON performs a signed GET with retries and decodes the response into
// result. endpoint is the stable label used in errors and metrics (path
// template, not the concrete path).
func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values, result any) error {
	return c.getJSONWith(ctx, endpoint, path, query, true, result)
}

// getJSONPublic skips request signing; public endpoints reject stray auth
// headers from disconnected users.
func (c *Client) getJSONPublic(ctx context.Context, endpoint, path string, query url.Values, result any) error {
	return c.getJSONWith(ctx, endpoint, path, query, false, result)
}

func (c *Client) getJSONWith(ctx context.Context, endpoint, path string, query url.Values, signed bool, result any) error {
	body, err := c.doWithRetry(ctx, endpoint, path, query, signed)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return newError(KindInvalidResponse, endpoint, c.userContextID,
			fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

// doWithRetry retries transient failures with exponential backoff and
// jitter. A server Retry-After hint sets the floor for the next delay.
func (c *Client) doWithRetry(ctx context.Context, endpoint, path string, query url.Values, signed bool) ([]byte, error) {
	var lastErr *Error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt, lastErr)
			c.logger.Debug().
				Str("endpoint", endpoint).
				Int("attempt", attempt).
				Dur("delay", delay).
				Str("kind", string(lastErr.Kind)).
				Msg("retrying request")

			select {
			case <-ctx.Done():
				return nil, newError(KindTimeout, endpoint, c.userContextID, ctx.Err())
			case <-c.sleep(delay):
			}
		}

		body, err := c.doRequest(ctx, endpoint, path, query, signed)
		if err == nil {
			return body, nil
		}

		var apiErr *Error
		if !errors.As(err, &apiErr) {
			return nil, newError(KindUnknown, endpoint, c.userContextID, err)
		}
		if !apiErr.Retryable {
			return nil, apiErr
		}
		lastErr = apiErr
	}

	return nil, lastErr
}

// backoffDelay computes min(cap, base<<attempt) plus jitter in [0, base),
// raised to the server's Retry-After when one was supplied.
func (c *Client) backoffDelay(attempt int, lastErr *Error) time.Duration {
	delay := c.backoffBase << (attempt - 1)
	if delay > c.backoffMax || delay <= 0 {
		delay = c.backoffMax
	}
	if c.backoffBase > 0 {
		delay += time.Duration(rand.Int63n(int64(c.backoffBase)))
	}

	if hint := lastErr.RetryAfter; hint > delay {
		delay = hint
	}
	return delay
}

// doRequest performs one signed attempt and maps the outcome onto the error
// taxonomy. Auth headers are rebuilt per attempt so timestamps and nonces
// stay fresh.
func (c *Client) doRequest(ctx context.Context, endpoint, path string, query url.Values, signed bool) ([]byte, error) {
	fullURL := *c.baseURL
	fullURL.Path = path
	rawQuery := ""
	if len(query) > 0 {
		rawQuery = query.Encode() // sorted keys: deterministic signing input
		fullURL.RawQuery = rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL.String(), nil)
	if err != nil {
		return nil, newError(KindBadInput, endpoint, c.userContextID, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent())

	if signed {
		if c.strategy == nil {
			return nil, newError(KindAuthUnsupported, endpoint, c.userContextID,
				fmt.Errorf("endpoint requires signing but no strategy is configured"))
		}
		headers, err := c.strategy.BuildHeaders(http.MethodGet, path, rawQuery, "", c.now())
		if err != nil {
			return nil, newError(KindAuthUnsupported, endpoint, c.userContextID, err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.transportError(endpoint, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, c.statusError(endpoint, resp, body)
	}
	return body, nil
}

// transportError distinguishes timeouts from other network failures.
func (c *Client) transportError(endpoint string, err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return newError(KindTimeout, endpoint, c.userContextID, err)
	case errors.Is(err, context.Canceled):
		return newError(KindTimeout, endpoint, c.userContextID, err)
	default:
		return newError(KindNetwork, endpoint, c.userContextID, err)
	}
}

// statusError maps an HTTP status onto the error taxonomy. The response body
// is summarized by length only; upstream bodies may echo request details and
// never belong in logs or error chains.
func (c *Client) statusError(endpoint string, resp *http.Response, body []byte) *Error {
	cause := fmt.Errorf("status %d (%d body bytes)", resp.StatusCode, len(body))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return newError(KindAuthFailed, endpoint, c.userContextID, cause)
	case resp.StatusCode == http.StatusNotFound:
		return newError(KindNotFound, endpoint, c.userContextID, cause)
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr := newError(KindRateLimited, endpoint, c.userContextID, cause)
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		return apiErr
	case resp.StatusCode >= 500:
		return newError(KindUpstreamUnavailable, endpoint, c.userContextID, cause)
	default:
		return newError(KindBadInput, endpoint, c.userContextID, cause)
	}
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms. Malformed
// or past values yield zero.
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
