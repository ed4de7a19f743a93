// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package sources

import (
	"context"
	"net/url"
	"time"

	"github.com/newsgate/newsgate/internal/config"
	"github.com/newsgate/newsgate/internal/logging"
	"github.com/newsgate/newsgate/internal/metrics"
	"github.com/newsgate/newsgate/internal/model"
)

const newsdataName = "newsdata"

// newsdataTimeLayout is the pubDate format Newsdata returns. Timestamps are
// UTC without an offset marker.
const newsdataTimeLayout = "2006-01-02 15:04:05"

// Newsdata adapts the Newsdata.io latest-news endpoint (GET /api/1/news).
type Newsdata struct {
	client *client
}

// NewNewsdata builds the Newsdata adapter with a resolved API key.
func NewNewsdata(cfg config.SourceConfig, retry config.RetryConfig, apiKey string) *Newsdata {
	return &Newsdata{client: newClient(newsdataName, cfg, retry, apiKey)}
}

// Name implements Fetcher.
func (n *Newsdata) Name() string { return newsdataName }

type newsdataResponse struct {
	Status       string            `json:"status"`
	TotalResults int               `json:"totalResults"`
	Results      []newsdataArticle `json:"results"`
}

type newsdataArticle struct {
	ArticleID   string   `json:"article_id"`
	Title       string   `json:"title"`
	Link        string   `json:"link"`
	Description string   `json:"description"`
	PubDate     string   `json:"pubDate"`
	SourceID    string   `json:"source_id"`
	Keywords    []string `json:"keywords"`
}

// Fetch implements Fetcher.
func (n *Newsdata) Fetch(ctx context.Context, topic string) ([]model.Article, error) {
	query := url.Values{}
	query.Set("q", topic)
	query.Set("category", "business")
	query.Set("language", "en")
	query.Set("apikey", n.client.apiKey)

	var resp newsdataResponse
	if err := n.client.getJSON(ctx, "/api/1/news", query, &resp); err != nil {
		return nil, err
	}

	articles := make([]model.Article, 0, len(resp.Results))
	for _, a := range resp.Results {
		art := model.Article{
			ExternalID:  a.ArticleID,
			Source:      newsdataName,
			Title:       a.Title,
			Description: a.Description,
			Tickers:     a.Keywords,
			RawURL:      a.Link,
		}
		if ts, err := time.ParseInLocation(newsdataTimeLayout, a.PubDate, time.UTC); err == nil {
			art.PublishedAt = ts
		}
		if !fingerprintable(art) {
			metrics.ArticlesSkipped.WithLabelValues(newsdataName).Inc()
			logging.Debug().Str("source", newsdataName).Str("external_id", art.ExternalID).
				Msg("Dropping article without fingerprint fields")
			continue
		}
		articles = append(articles, art)
	}

	metrics.ArticlesFetched.WithLabelValues(newsdataName).Add(float64(len(articles)))
	return articles, nil
}
