// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Package reconcile implements the self-healing pass: items that were stored
// but whose analysis message apparently never reached the consumer are found
// via the pending index and republished. The pass is strictly best-effort;
// it records its troubles in the result and never fails an invocation.
package reconcile

import (
	"context"
	"time"

	"github.com/newsgate/newsgate/internal/logging"
	"github.com/newsgate/newsgate/internal/metrics"
	"github.com/newsgate/newsgate/internal/model"
	"github.com/newsgate/newsgate/internal/store"
)

// Config tunes the reconciliation pass.
type Config struct {
	// StalenessThreshold is how long an item may sit pending before it is
	// considered lost. It must exceed the consumer's worst-case latency or
	// the reconciler competes with healthy deliveries.
	StalenessThreshold time.Duration
	// MaxItems bounds one pass; the backlog drains across invocations.
	MaxItems int
	// ModelVersion is stamped on republished messages.
	ModelVersion string
}

// BatchPublisher is the outbound surface the reconciler needs.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, msgs []model.AnalysisMessage) int
}

// Result summarizes one reconciliation pass.
type Result struct {
	ItemsFound       int      `json:"items_found"`
	ItemsRepublished int      `json:"items_republished"`
	Errors           []string `json:"errors,omitempty"`
}

// Reconciler republishes stale pending items.
type Reconciler struct {
	store     *store.Store
	publisher BatchPublisher
	cfg       Config
	now       func() time.Time
}

// New builds a reconciler over the store and publisher.
func New(s *store.Store, pub BatchPublisher, cfg Config) *Reconciler {
	return &Reconciler{store: s, publisher: pub, cfg: cfg, now: time.Now}
}

// Run executes one pass. Every failure is collected into Result.Errors;
// the returned Result is always usable and Run never reports an error to
// the caller.
func (r *Reconciler) Run(ctx context.Context) Result {
	var result Result

	cutoff := r.now().Add(-r.cfg.StalenessThreshold)
	refs, err := r.store.PendingBefore(ctx, cutoff, r.cfg.MaxItems)
	if err != nil {
		result.Errors = append(result.Errors, "scan pending index: "+err.Error())
		return result
	}
	if len(refs) == 0 {
		return result
	}

	ids := make([]string, len(refs))
	for i, ref := range refs {
		ids[i] = ref.SourceID
	}

	items, err := r.store.BatchGetItems(ctx, ids)
	if err != nil {
		result.Errors = append(result.Errors, "load pending items: "+err.Error())
		return result
	}

	msgs := make([]model.AnalysisMessage, 0, len(items))
	for _, item := range items {
		// Race guard: the consumer may have analyzed the item between
		// the index scan and this read. A sentiment means delivery
		// worked; republishing would only duplicate work downstream.
		if item.Sentiment != nil || item.Status == model.StatusAnalyzed {
			continue
		}
		msgs = append(msgs, model.NewAnalysisMessage(item, r.cfg.ModelVersion, true))
	}

	result.ItemsFound = len(msgs)
	metrics.SelfHealingItemsFound.Add(float64(len(msgs)))
	if len(msgs) == 0 {
		return result
	}

	published := r.publisher.PublishBatch(ctx, msgs)
	result.ItemsRepublished = published
	metrics.SelfHealingItemsRepublished.Add(float64(published))
	if published < len(msgs) {
		result.Errors = append(result.Errors, "republish incomplete: some messages were not delivered")
	}

	logging.Info().
		Int("found", result.ItemsFound).
		Int("republished", result.ItemsRepublished).
		Int("errors", len(result.Errors)).
		Msg("Self-healing pass complete")
	return result
}
