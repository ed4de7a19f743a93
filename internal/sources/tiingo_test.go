// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/newsgate/newsgate/internal/model"
)

func TestTiingoFetchNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tiingo/news" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("tickers"); got != "AAPL" {
			t.Errorf("tickers = %s", got)
		}
		if got := r.URL.Query().Get("token"); got != "secret" {
			t.Errorf("token = %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{
				"id": 101,
				"title": "Apple beats estimates",
				"url": "https://example.com/aapl",
				"description": "Strong quarter.",
				"publishedDate": "2026-08-30T09:00:00Z",
				"source": "example.com",
				"tickers": ["aapl"]
			},
			{
				"id": 102,
				"title": "",
				"url": "",
				"description": "no identity, must be dropped"
			}
		]`))
	}))
	defer srv.Close()

	adapter := NewTiingo(testSourceConfig(srv.URL), testRetryConfig(), "secret")
	if adapter.Name() != "tiingo" {
		t.Errorf("name = %s", adapter.Name())
	}

	articles, err := adapter.Fetch(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("got %d articles, want 1 (unidentifiable item dropped)", len(articles))
	}

	a := articles[0]
	if a.ExternalID != "101" {
		t.Errorf("external id = %s", a.ExternalID)
	}
	if a.Source != "tiingo" {
		t.Errorf("source = %s", a.Source)
	}
	if a.RawURL != "https://example.com/aapl" {
		t.Errorf("url = %s", a.RawURL)
	}
	if a.PublishedAt.IsZero() {
		t.Error("published_at not parsed")
	}
}

func TestFingerprintable(t *testing.T) {
	published := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a    model.Article
		want bool
	}{
		{name: "url only", a: model.Article{RawURL: "https://x/1"}, want: true},
		{name: "title and time", a: model.Article{Title: "headline", PublishedAt: published}, want: true},
		{name: "title without time", a: model.Article{Title: "headline"}, want: false},
		{name: "nothing", a: model.Article{}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fingerprintable(tt.a); got != tt.want {
				t.Errorf("fingerprintable = %v, want %v", got, tt.want)
			}
		})
	}
}
