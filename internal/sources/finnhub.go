// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package sources

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/newsgate/newsgate/internal/config"
	"github.com/newsgate/newsgate/internal/logging"
	"github.com/newsgate/newsgate/internal/metrics"
	"github.com/newsgate/newsgate/internal/model"
)

const finnhubName = "finnhub"

// finnhubLookback is the company-news window requested per fetch. The
// endpoint requires explicit from/to dates; one day covers the scheduler
// interval with generous overlap, deduplication absorbs the rest.
const finnhubLookback = 24 * time.Hour

// Finnhub adapts the Finnhub company-news endpoint
// (GET /api/v1/company-news).
type Finnhub struct {
	client *client
	now    func() time.Time
}

// NewFinnhub builds the Finnhub adapter with a resolved API key.
func NewFinnhub(cfg config.SourceConfig, retry config.RetryConfig, apiKey string) *Finnhub {
	return &Finnhub{
		client: newClient(finnhubName, cfg, retry, apiKey),
		now:    time.Now,
	}
}

// Name implements Fetcher.
func (f *Finnhub) Name() string { return finnhubName }

type finnhubArticle struct {
	ID       int64  `json:"id"`
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
	Datetime int64  `json:"datetime"` // unix seconds
	Related  string `json:"related"`
	Source   string `json:"source"`
}

// Fetch implements Fetcher.
func (f *Finnhub) Fetch(ctx context.Context, topic string) ([]model.Article, error) {
	now := f.now().UTC()
	query := url.Values{}
	query.Set("symbol", topic)
	query.Set("from", now.Add(-finnhubLookback).Format("2006-01-02"))
	query.Set("to", now.Format("2006-01-02"))
	query.Set("token", f.client.apiKey)

	var raw []finnhubArticle
	if err := f.client.getJSON(ctx, "/api/v1/company-news", query, &raw); err != nil {
		return nil, err
	}

	articles := make([]model.Article, 0, len(raw))
	for _, a := range raw {
		art := model.Article{
			ExternalID:  strconv.FormatInt(a.ID, 10),
			Source:      finnhubName,
			Title:       a.Headline,
			Description: a.Summary,
			RawURL:      a.URL,
		}
		if a.Datetime > 0 {
			art.PublishedAt = time.Unix(a.Datetime, 0).UTC()
		}
		if a.Related != "" {
			art.Tickers = []string{a.Related}
		}
		if !fingerprintable(art) {
			metrics.ArticlesSkipped.WithLabelValues(finnhubName).Inc()
			logging.Debug().Str("source", finnhubName).Str("external_id", art.ExternalID).
				Msg("Dropping article without fingerprint fields")
			continue
		}
		articles = append(articles, art)
	}

	metrics.ArticlesFetched.WithLabelValues(finnhubName).Add(float64(len(articles)))
	return articles, nil
}
