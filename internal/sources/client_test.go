// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newsgate/newsgate/internal/config"
)

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxAttempts:       3,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		HTTPTimeout:       time.Second,
		DefaultRetryAfter: 42 * time.Second,
	}
}

func testSourceConfig(baseURL string) config.SourceConfig {
	return config.SourceConfig{
		Enabled:       true,
		BaseURL:       baseURL,
		RatePerSecond: 1000, // tests should not pace
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := newClient("testsrc", testSourceConfig(srv.URL), testRetryConfig(), "key")

	var out struct {
		Status string `json:"status"`
	}
	if err := c.getJSON(context.Background(), "/x", nil, &out); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if out.Status != "ok" {
		t.Errorf("decoded status = %q", out.Status)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want 3 (two retries)", got)
	}
}

func TestClientExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient("testsrc", testSourceConfig(srv.URL), testRetryConfig(), "key")

	err := c.getJSON(context.Background(), "/x", nil, &struct{}{})
	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	var se *SourceError
	if !errors.As(err, &se) || se.Kind != KindTransport {
		t.Fatalf("err = %v, want transport SourceError", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d calls, want MaxAttempts=3", got)
	}
}

func TestClientRateLimitNoRetry(t *testing.T) {
	tests := []struct {
		name       string
		retryAfter string
		want       time.Duration
	}{
		{name: "header honored", retryAfter: "120", want: 120 * time.Second},
		{name: "missing header uses default", retryAfter: "", want: 42 * time.Second},
		{name: "garbage header uses default", retryAfter: "soon", want: 42 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			defer srv.Close()

			c := newClient("testsrc", testSourceConfig(srv.URL), testRetryConfig(), "key")

			err := c.getJSON(context.Background(), "/x", nil, &struct{}{})
			var se *SourceError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want SourceError", err)
			}
			if se.Kind != KindRateLimited {
				t.Errorf("kind = %s, want rate_limited", se.Kind)
			}
			if se.RetryAfter != tt.want {
				t.Errorf("retry after = %s, want %s", se.RetryAfter, tt.want)
			}
			if got := calls.Load(); got != 1 {
				t.Errorf("server saw %d calls, rate limits must not retry", got)
			}
		})
	}
}

func TestClientAuthFailureNoRetry(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		c := newClient("testsrc", testSourceConfig(srv.URL), testRetryConfig(), "key")

		err := c.getJSON(context.Background(), "/x", nil, &struct{}{})
		var se *SourceError
		if !errors.As(err, &se) || se.Kind != KindAuthFailed {
			t.Errorf("status %d: err = %v, want auth_failed SourceError", status, err)
		}
		if got := calls.Load(); got != 1 {
			t.Errorf("status %d: server saw %d calls, auth failures must not retry", status, got)
		}
		srv.Close()
	}
}

func TestClientOtherClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newClient("testsrc", testSourceConfig(srv.URL), testRetryConfig(), "key")

	err := c.getJSON(context.Background(), "/x", nil, &struct{}{})
	var se *SourceError
	if !errors.As(err, &se) || se.Kind != KindOther {
		t.Fatalf("err = %v, want other SourceError", err)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "wrapped source error",
			err:  &SourceError{Source: "x", Kind: KindRateLimited},
			want: KindRateLimited,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: KindOther,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	fallback := time.Minute
	tests := []struct {
		header string
		want   time.Duration
	}{
		{header: "30", want: 30 * time.Second},
		{header: "0", want: fallback},
		{header: "-5", want: fallback},
		{header: "", want: fallback},
		{header: "not-a-number", want: fallback},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.header, fallback); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %s, want %s", tt.header, got, tt.want)
		}
	}
}
