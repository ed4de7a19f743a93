// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Package model defines the data shapes shared across the ingestion pipeline:
// the transient Article produced by source adapters, the durable StoredItem
// written by the deduplication engine, and the AnalysisMessage published to
// the downstream sentiment consumer.
package model

import "time"

// Article is the normalized shape every source adapter produces.
// It is transient and immutable once fetched; only the deduplication
// engine decides whether it becomes a durable StoredItem.
type Article struct {
	ExternalID  string    `json:"external_id"`
	Source      string    `json:"source"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"published_at"`
	Tickers     []string  `json:"tickers,omitempty"`
	RawURL      string    `json:"raw_url"`
}

// ItemStatus tracks whether the downstream analysis consumer has
// processed a stored item yet.
type ItemStatus string

const (
	// StatusPending marks an item stored but not yet analyzed.
	StatusPending ItemStatus = "pending"
	// StatusAnalyzed marks an item whose sentiment has been recorded.
	StatusAnalyzed ItemStatus = "analyzed"
)

// Sentiment is written by the downstream analysis consumer. Its presence
// on a StoredItem is the signal that forwarding succeeded end to end.
type Sentiment struct {
	Label        string  `json:"label"`
	Score        float64 `json:"score"`
	ModelVersion string  `json:"model_version"`
}

// StoredItem is the durable record keyed by the deduplication fingerprint.
// It is created exactly once per fingerprint; later sightings from other
// sources append to Sources and never overwrite TextForAnalysis or Metadata.
type StoredItem struct {
	SourceID        string            `json:"source_id"`
	Status          ItemStatus        `json:"status"`
	Sources         []string          `json:"sources"`
	TextForAnalysis string            `json:"text_for_analysis"`
	MatchedTags     []string          `json:"matched_tags,omitempty"`
	Timestamp       time.Time         `json:"timestamp"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	TTLTimestamp    time.Time         `json:"ttl_timestamp"`
	Sentiment       *Sentiment        `json:"sentiment,omitempty"`
}

// HasSource reports whether the given provider already reported this item.
func (s *StoredItem) HasSource(source string) bool {
	for _, src := range s.Sources {
		if src == source {
			return true
		}
	}
	return false
}

// AnalysisMessage is the payload published once per newly created StoredItem
// (and again by the reconciler, flagged Republished). It is never persisted;
// the reconciler is the retry path for lost deliveries.
type AnalysisMessage struct {
	SourceID        string    `json:"source_id"`
	SourceType      string    `json:"source_type"`
	TextForAnalysis string    `json:"text_for_analysis"`
	ModelVersion    string    `json:"model_version"`
	MatchedTags     []string  `json:"matched_tags,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Republished     bool      `json:"republished"`
}

// NewAnalysisMessage builds the outbound message for a stored item.
func NewAnalysisMessage(item *StoredItem, modelVersion string, republished bool) AnalysisMessage {
	sourceType := ""
	if len(item.Sources) > 0 {
		sourceType = item.Sources[0]
	}
	return AnalysisMessage{
		SourceID:        item.SourceID,
		SourceType:      sourceType,
		TextForAnalysis: item.TextForAnalysis,
		ModelVersion:    modelVersion,
		MatchedTags:     item.MatchedTags,
		Timestamp:       item.Timestamp,
		Republished:     republished,
	}
}
