// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Package metrics exposes Prometheus collectors for the ingestion pipeline:
// per-source fetch and error counters, deduplication outcomes, publish
// batches, quota consumption, circuit breaker state, and self-healing runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Source adapter metrics

	ArticlesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgate_articles_fetched_total",
			Help: "Articles returned by source adapters after normalization",
		},
		[]string{"source"},
	)

	ArticlesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgate_articles_skipped_total",
			Help: "Raw provider items dropped for missing fingerprint fields",
		},
		[]string{"source"},
	)

	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgate_source_errors_total",
			Help: "Adapter failures by source and error kind",
		},
		[]string{"source", "kind"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsgate_fetch_duration_seconds",
			Help:    "Duration of source adapter fetch calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// Deduplication metrics

	NewItemsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgate_items_ingested_total",
			Help: "Newly created stored items by first-reporting source",
		},
		[]string{"source"},
	)

	DuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgate_duplicates_skipped_total",
			Help: "Articles discarded because the same source already reported them",
		},
		[]string{"source"},
	)

	CrossSourceMerges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgate_cross_source_merges_total",
			Help: "Existing items extended with an additional reporting source",
		},
		[]string{"source"},
	)

	// Publisher metrics

	MessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsgate_messages_published_total",
			Help: "Analysis messages successfully handed to the message bus",
		},
	)

	PublishBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgate_publish_batches_total",
			Help: "Batch publish calls by outcome",
		},
		[]string{"outcome"}, // "ok", "partial", "failed"
	)

	// Quota metrics

	QuotaUsed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "newsgate_quota_used",
			Help: "External API calls consumed in the current billing period",
		},
		[]string{"service"},
	)

	QuotaRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgate_quota_rejections_total",
			Help: "Adapter calls refused by the quota tracker",
		},
		[]string{"service"},
	)

	// Circuit breaker metrics

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "newsgate_circuit_breaker_state",
			Help: "Per-source breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service"},
	)

	CircuitBreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgate_circuit_breaker_rejections_total",
			Help: "Adapter calls refused by an open circuit",
		},
		[]string{"service"},
	)

	// Self-healing metrics

	SelfHealingItemsFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsgate_selfheal_items_found_total",
			Help: "Stale pending items discovered by the reconciler",
		},
	)

	SelfHealingItemsRepublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsgate_selfheal_republished_total",
			Help: "Stale pending items republished for analysis",
		},
	)

	// Invocation metrics

	InvocationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsgate_invocation_duration_seconds",
			Help:    "Duration of full ingestion invocations",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	Invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsgate_invocations_total",
			Help: "Ingestion invocations by final status",
		},
		[]string{"status"}, // "ok", "partial", "failed"
	)
)
