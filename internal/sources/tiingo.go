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

const tiingoName = "tiingo"

// Tiingo adapts the Tiingo news endpoint (GET /tiingo/news).
type Tiingo struct {
	client *client
}

// NewTiingo builds the Tiingo adapter with a resolved API key.
func NewTiingo(cfg config.SourceConfig, retry config.RetryConfig, apiKey string) *Tiingo {
	return &Tiingo{client: newClient(tiingoName, cfg, retry, apiKey)}
}

// Name implements Fetcher.
func (t *Tiingo) Name() string { return tiingoName }

type tiingoArticle struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	URL           string    `json:"url"`
	Description   string    `json:"description"`
	PublishedDate time.Time `json:"publishedDate"`
	Source        string    `json:"source"`
	Tickers       []string  `json:"tickers"`
}

// Fetch implements Fetcher.
func (t *Tiingo) Fetch(ctx context.Context, topic string) ([]model.Article, error) {
	query := url.Values{}
	query.Set("tickers", topic)
	query.Set("limit", "100")
	query.Set("token", t.client.apiKey)

	var raw []tiingoArticle
	if err := t.client.getJSON(ctx, "/tiingo/news", query, &raw); err != nil {
		return nil, err
	}

	articles := make([]model.Article, 0, len(raw))
	for _, a := range raw {
		art := model.Article{
			ExternalID:  strconv.FormatInt(a.ID, 10),
			Source:      tiingoName,
			Title:       a.Title,
			Description: a.Description,
			PublishedAt: a.PublishedDate.UTC(),
			Tickers:     a.Tickers,
			RawURL:      a.URL,
		}
		if !fingerprintable(art) {
			metrics.ArticlesSkipped.WithLabelValues(tiingoName).Inc()
			logging.Debug().Str("source", tiingoName).Str("external_id", art.ExternalID).
				Msg("Dropping article without fingerprint fields")
			continue
		}
		articles = append(articles, art)
	}

	metrics.ArticlesFetched.WithLabelValues(tiingoName).Add(float64(len(articles)))
	return articles, nil
}

// fingerprintable reports whether an article carries enough identity for
// deduplication: a URL, or a title with a publication time.
func fingerprintable(a model.Article) bool {
	if a.RawURL != "" {
		return true
	}
	return a.Title != "" && !a.PublishedAt.IsZero()
}
