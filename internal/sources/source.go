// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Package sources implements the provider adapters. Each adapter speaks one
// provider's REST dialect and normalizes the response into model.Article;
// retries, rate pacing, and error classification live in the shared client
// so adapters stay thin.
package sources

import (
	"context"

	"github.com/newsgate/newsgate/internal/model"
)

// Fetcher is the uniform adapter contract the orchestrator consumes.
// Implementations must be safe for concurrent use.
type Fetcher interface {
	// Fetch retrieves recent articles for a topic. On failure the returned
	// error is always a *SourceError carrying the classification.
	Fetch(ctx context.Context, topic string) ([]model.Article, error)

	// Name returns the provider identifier used in storage, metrics, and
	// circuit breaker keys ("tiingo", "finnhub", "newsdata").
	Name() string
}
