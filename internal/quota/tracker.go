// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Package quota tracks external API call budgets per provider and billing
// period. Counters live in memory and flush to the durable store
// periodically and on shutdown; a crash between flushes loses at most one
// flush interval of counts, and the tracker re-counts those calls on the
// next load. Overcounting is the safe direction: it only makes the gate
// close early, never lets a budget overrun.
package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/newsgate/newsgate/internal/logging"
	"github.com/newsgate/newsgate/internal/metrics"
	"github.com/newsgate/newsgate/internal/store"
)

// Level describes how much of a budget is consumed.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Config tunes the tracker thresholds and persistence cadence.
type Config struct {
	// WarnThreshold is the used/limit fraction above which Level reports
	// warning.
	WarnThreshold float64
	// CriticalThreshold is the used/limit fraction at or above which
	// CanCall refuses further calls.
	CriticalThreshold float64
	// FlushInterval is how often dirty counters are written back.
	FlushInterval time.Duration
}

// ServiceBudget declares one provider's call budget.
type ServiceBudget struct {
	// Limit is the number of calls allowed per period. Zero means
	// unlimited; the tracker still counts.
	Limit int64
	// Period is the billing window: "minute", "day", or "month".
	Period string
}

// Tracker enforces per-service call budgets. Safe for concurrent use.
type Tracker struct {
	store   *store.Store
	cfg     Config
	budgets map[string]ServiceBudget

	mu      sync.Mutex
	records map[string]*store.QuotaRecord
	dirty   map[string]bool

	now func() time.Time
}

// NewTracker builds a tracker for the given service budgets.
func NewTracker(s *store.Store, cfg Config, budgets map[string]ServiceBudget) *Tracker {
	return &Tracker{
		store:   s,
		cfg:     cfg,
		budgets: budgets,
		records: make(map[string]*store.QuotaRecord),
		dirty:   make(map[string]bool),
		now:     time.Now,
	}
}

// periodKey renders the current billing window identifier. A new key means a
// fresh budget: the superseded record simply stops being read.
func periodKey(period string, now time.Time) string {
	switch period {
	case "minute":
		return now.UTC().Format("2006-01-02T15:04")
	case "month":
		return now.UTC().Format("2006-01")
	default: // day
		return now.UTC().Format("2006-01-02")
	}
}

// periodReset returns when the current window rolls over.
func periodReset(period string, now time.Time) time.Time {
	now = now.UTC()
	switch period {
	case "minute":
		return now.Truncate(time.Minute).Add(time.Minute)
	case "month":
		y, m, _ := now.Date()
		return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
	default:
		y, m, d := now.Date()
		return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	}
}

// CanCall reports whether the service has budget left. Unknown services and
// zero limits are always allowed. The answer flips to false once used
// reaches the critical fraction of the limit.
func (t *Tracker) CanCall(ctx context.Context, service string) bool {
	budget, ok := t.budgets[service]
	if !ok || budget.Limit <= 0 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.load(ctx, service, budget)
	if float64(rec.Used) >= t.cfg.CriticalThreshold*float64(budget.Limit) {
		metrics.QuotaRejections.WithLabelValues(service).Inc()
		return false
	}
	return true
}

// RecordCall counts n external API calls against the service's current
// period. Call it for every attempted request, successful or not; most
// callers pass 1, batched endpoints pass the number of units consumed.
func (t *Tracker) RecordCall(ctx context.Context, service string, n int) {
	budget, ok := t.budgets[service]
	if !ok || n < 1 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.load(ctx, service, budget)
	t.recordLocked(service, budget, rec, n)
}

// Reserve atomically checks the budget and counts n calls. Unlike a
// CanCall/RecordCall pair it holds the lock across both, so concurrent
// workers cannot all slip through on the last remaining slot. A refused
// reservation counts nothing.
func (t *Tracker) Reserve(ctx context.Context, service string, n int) bool {
	budget, ok := t.budgets[service]
	if !ok {
		return true
	}
	if n < 1 {
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.load(ctx, service, budget)
	if budget.Limit > 0 && float64(rec.Used) >= t.cfg.CriticalThreshold*float64(budget.Limit) {
		metrics.QuotaRejections.WithLabelValues(service).Inc()
		return false
	}
	t.recordLocked(service, budget, rec, n)
	return true
}

// Release returns n reserved calls that were never spent, for callers whose
// reservation was refused downstream before any request went out.
func (t *Tracker) Release(ctx context.Context, service string, n int) {
	budget, ok := t.budgets[service]
	if !ok || n < 1 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.load(ctx, service, budget)
	rec.Used -= int64(n)
	if rec.Used < 0 {
		rec.Used = 0
	}
	rec.Remaining = rec.Limit - rec.Used
	if rec.Remaining < 0 {
		rec.Remaining = 0
	}
	t.dirty[service] = true
	metrics.QuotaUsed.WithLabelValues(service).Set(float64(rec.Used))
}

// recordLocked applies n consumed calls to a loaded record. Remaining never
// goes below zero, however far Used runs past the limit. Must hold t.mu.
func (t *Tracker) recordLocked(service string, budget ServiceBudget, rec *store.QuotaRecord, n int) {
	rec.Used += int64(n)
	rec.Remaining = rec.Limit - rec.Used
	if rec.Remaining < 0 {
		rec.Remaining = 0
	}
	t.dirty[service] = true
	metrics.QuotaUsed.WithLabelValues(service).Set(float64(rec.Used))

	if budget.Limit > 0 {
		frac := float64(rec.Used) / float64(budget.Limit)
		if frac >= t.cfg.WarnThreshold && frac < t.cfg.CriticalThreshold {
			logging.Warn().
				Str("service", service).
				Int64("used", rec.Used).
				Int64("limit", rec.Limit).
				Msg("Quota usage above warning threshold")
		}
	}
}

// Level reports the consumption tier for a service.
func (t *Tracker) Level(ctx context.Context, service string) Level {
	budget, ok := t.budgets[service]
	if !ok || budget.Limit <= 0 {
		return LevelOK
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.load(ctx, service, budget)
	frac := float64(rec.Used) / float64(budget.Limit)
	switch {
	case frac >= t.cfg.CriticalThreshold:
		return LevelCritical
	case frac >= t.cfg.WarnThreshold:
		return LevelWarning
	default:
		return LevelOK
	}
}

// Flush writes all dirty counters to the store. Returns the first error but
// attempts every record.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked(ctx)
}

func (t *Tracker) flushLocked(ctx context.Context) error {
	var firstErr error
	for service := range t.dirty {
		rec, ok := t.records[service]
		if !ok {
			continue
		}
		if err := t.store.PutQuotaRecord(ctx, rec); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			logging.Err(err).Str("service", service).Msg("Failed to flush quota record")
			continue
		}
		delete(t.dirty, service)
	}
	return firstErr
}

// Run flushes dirty counters on the configured interval until the context
// ends, then performs a final flush.
func (t *Tracker) Run(ctx context.Context) error {
	interval := t.cfg.FlushInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Detached context: the parent is already done.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := t.Flush(flushCtx); err != nil {
				logging.Err(err).Msg("Final quota flush failed")
			}
			return ctx.Err()
		case <-ticker.C:
			if err := t.Flush(ctx); err != nil {
				logging.Err(err).Msg("Periodic quota flush failed")
			}
		}
	}
}

// load returns the record for the service's current period, reading from
// the store on first access and rolling over when the period key changed.
// Must hold t.mu.
func (t *Tracker) load(ctx context.Context, service string, budget ServiceBudget) *store.QuotaRecord {
	period := periodKey(budget.Period, t.now())

	if rec, ok := t.records[service]; ok {
		if rec.Period == period {
			return rec
		}
		// The period rolled over with unflushed counts: write the closed
		// record out now, or its final tally would be silently lost when
		// the fresh record replaces it.
		if t.dirty[service] {
			if err := t.store.PutQuotaRecord(ctx, rec); err != nil {
				logging.Err(err).Str("service", service).Msg("Failed to flush superseded quota record")
			}
			delete(t.dirty, service)
		}
	}

	rec, err := t.store.GetQuotaRecord(ctx, service, period)
	if errors.Is(err, store.ErrNotFound) {
		rec = &store.QuotaRecord{
			Service:   service,
			Period:    period,
			Limit:     budget.Limit,
			Used:      0,
			Remaining: budget.Limit,
			ResetAt:   periodReset(budget.Period, t.now()),
		}
	} else if err != nil {
		logging.Err(err).Str("service", service).Msg("Failed to load quota record, starting fresh")
		rec = &store.QuotaRecord{
			Service:   service,
			Period:    period,
			Limit:     budget.Limit,
			Remaining: budget.Limit,
			ResetAt:   periodReset(budget.Period, t.now()),
		}
	}

	t.records[service] = rec
	metrics.QuotaUsed.WithLabelValues(service).Set(float64(rec.Used))
	return rec
}
