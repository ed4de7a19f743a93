// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newsgate/newsgate/internal/metrics"
	"github.com/newsgate/newsgate/internal/model"
	"github.com/newsgate/newsgate/internal/store"
)

// Outcome classifies what an upsert did.
type Outcome int

const (
	// Created means a brand-new item was stored; a message must be
	// published for it.
	Created Outcome = iota
	// Duplicate means the same source already reported this item;
	// nothing changed.
	Duplicate
	// Updated means a different source reported a known item; its source
	// list grew, no new message is owed.
	Updated
)

// String returns the outcome name for logs.
func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Duplicate:
		return "duplicate"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// Engine performs conditional upserts against the durable store.
type Engine struct {
	store *store.Store
	// ttl is the retention window applied to newly created items.
	ttl time.Duration
	now func() time.Time
}

// NewEngine builds the deduplication engine with the given retention window.
func NewEngine(s *store.Store, retention time.Duration) *Engine {
	return &Engine{store: s, ttl: retention, now: time.Now}
}

// Upsert stores an article exactly once per fingerprint.
//
// First sighting creates the item (Created). A repeat from the same source
// is a no-op (Duplicate). A sighting from a new source appends that source
// to the existing item without touching its text or metadata (Updated).
// When Created, the returned item carries everything the publisher needs.
func (e *Engine) Upsert(ctx context.Context, article model.Article, matchedTags []string) (Outcome, *model.StoredItem, error) {
	fp := Fingerprint(article)
	if fp == "" {
		return Duplicate, nil, fmt.Errorf("article %s/%s has no fingerprint fields", article.Source, article.ExternalID)
	}

	now := e.now().UTC()
	item := &model.StoredItem{
		SourceID:        fp,
		Status:          model.StatusPending,
		Sources:         []string{article.Source},
		TextForAnalysis: analysisText(article),
		MatchedTags:     matchedTags,
		Timestamp:       now,
		Metadata:        articleMetadata(article),
		TTLTimestamp:    now.Add(e.ttl),
	}

	err := e.store.CreateItem(ctx, item)
	if err == nil {
		metrics.NewItemsIngested.WithLabelValues(article.Source).Inc()
		return Created, item, nil
	}
	if !errors.Is(err, store.ErrItemExists) {
		return Duplicate, nil, fmt.Errorf("create item %s: %w", fp, err)
	}

	added, err := e.store.AppendSource(ctx, fp, article.Source)
	if err != nil {
		return Duplicate, nil, fmt.Errorf("append source to %s: %w", fp, err)
	}
	if added {
		metrics.CrossSourceMerges.WithLabelValues(article.Source).Inc()
		return Updated, nil, nil
	}
	metrics.DuplicatesSkipped.WithLabelValues(article.Source).Inc()
	return Duplicate, nil, nil
}

// analysisText joins title and description into the text the sentiment
// model consumes.
func analysisText(a model.Article) string {
	if a.Description == "" {
		return a.Title
	}
	return a.Title + ". " + a.Description
}

// articleMetadata preserves provenance fields on the stored item.
func articleMetadata(a model.Article) map[string]string {
	md := map[string]string{
		"external_id": a.ExternalID,
		"url":         a.RawURL,
	}
	if !a.PublishedAt.IsZero() {
		md["published_at"] = a.PublishedAt.UTC().Format(time.RFC3339)
	}
	return md
}
