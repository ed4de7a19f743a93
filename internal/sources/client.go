// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/newsgate/newsgate/internal/config"
	"github.com/newsgate/newsgate/internal/logging"
	"github.com/newsgate/newsgate/internal/metrics"
)

// maxResponseBody caps how much of a provider response we read. News feeds
// are small; anything larger is a misbehaving endpoint.
const maxResponseBody = 8 << 20 // 8MB

// client is the shared HTTP machinery behind every adapter: request pacing,
// bounded retries for transient failures, and error classification. Adapters
// own only URL construction and response decoding.
type client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	retry   config.RetryConfig
}

func newClient(name string, cfg config.SourceConfig, retry config.RetryConfig, apiKey string) *client {
	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	return &client{
		name:    name,
		baseURL: cfg.BaseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: retry.HTTPTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry:   retry,
	}
}

// getJSON performs a paced GET with retries and decodes the response body
// into out. Failures come back as *SourceError.
func (c *client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return &SourceError{Source: c.name, Kind: KindOther, Err: fmt.Errorf("parse base url: %w", err)}
	}
	u.Path = path
	u.RawQuery = query.Encode()

	body, err := c.doWithRetry(ctx, u.String())
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &SourceError{Source: c.name, Kind: KindOther, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// doWithRetry runs the request up to MaxAttempts times. Transport failures
// and 5xx responses retry with doubling delay capped at MaxDelay; rate limits
// and auth failures never retry, the orchestrator handles those per source.
func (c *client) doWithRetry(ctx context.Context, reqURL string) ([]byte, error) {
	delay := c.retry.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &SourceError{Source: c.name, Kind: KindTransport, Err: err}
		}

		body, retryable, err := c.doOnce(ctx, reqURL)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err

		if attempt == c.retry.MaxAttempts {
			break
		}
		logging.Warn().
			Str("source", c.name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("Transient fetch failure, retrying")

		select {
		case <-ctx.Done():
			return nil, &SourceError{Source: c.name, Kind: KindTransport, Err: ctx.Err()}
		case <-time.After(delay):
		}
		delay *= 2
		if c.retry.MaxDelay > 0 && delay > c.retry.MaxDelay {
			delay = c.retry.MaxDelay
		}
	}

	return nil, lastErr
}

// doOnce performs a single request. The bool reports whether the failure is
// worth retrying.
func (c *client) doOnce(ctx context.Context, reqURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, &SourceError{Source: c.name, Kind: KindOther, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.FetchDuration.WithLabelValues(c.name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, true, &SourceError{Source: c.name, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if err != nil {
			return nil, true, &SourceError{Source: c.name, Kind: KindTransport, Err: fmt.Errorf("read body: %w", err)}
		}
		return body, false, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), c.retry.DefaultRetryAfter)
		return nil, false, &SourceError{
			Source:     c.name,
			Kind:       KindRateLimited,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("provider rate limit (HTTP 429)"),
		}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, &SourceError{
			Source: c.name,
			Kind:   KindAuthFailed,
			Err:    fmt.Errorf("authentication rejected (HTTP %d)", resp.StatusCode),
		}

	case resp.StatusCode >= 500:
		return nil, true, &SourceError{
			Source: c.name,
			Kind:   KindTransport,
			Err:    fmt.Errorf("server error (HTTP %d)", resp.StatusCode),
		}

	default:
		return nil, false, &SourceError{
			Source: c.name,
			Kind:   KindOther,
			Err:    fmt.Errorf("unexpected status (HTTP %d)", resp.StatusCode),
		}
	}
}

// parseRetryAfter handles the delta-seconds form of the Retry-After header.
// The HTTP-date form and garbage both fall back to the configured default.
func parseRetryAfter(header string, fallback time.Duration) time.Duration {
	if header == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return fallback
}
