// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Package breaker implements the persisted per-source circuit breaker.
//
// State survives restarts: each source's record is loaded from the store on
// first use and written back on every transition. Persistence is
// best-effort; a write failure degrades to in-memory state for the current
// process and is logged, never propagated, because a broken state store must
// not take down sources that are otherwise healthy.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/newsgate/newsgate/internal/logging"
	"github.com/newsgate/newsgate/internal/metrics"
	"github.com/newsgate/newsgate/internal/store"
)

// Config tunes breaker behavior for all sources.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit.
	FailureThreshold int
	// ResetAfter is how long an open circuit waits before admitting a
	// single probe call.
	ResetAfter time.Duration
}

// Manager tracks one breaker per source. Safe for concurrent use.
type Manager struct {
	store *store.Store
	cfg   Config

	mu     sync.Mutex
	states map[string]*store.BreakerState
	// probing marks services with an outstanding half-open probe, so
	// concurrent workers cannot all slip through the single-probe gate.
	probing map[string]bool

	now func() time.Time
}

// NewManager builds a breaker manager backed by the durable store.
func NewManager(s *store.Store, cfg Config) *Manager {
	return &Manager{
		store:   s,
		cfg:     cfg,
		states:  make(map[string]*store.BreakerState),
		probing: make(map[string]bool),
		now:     time.Now,
	}
}

// Allow reports whether a call to the service may proceed. An open circuit
// past its cool-down admits exactly one probe and moves to half-open; while
// that probe is outstanding further calls are refused.
func (m *Manager) Allow(ctx context.Context, service string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.load(ctx, service)

	switch state.State {
	case store.BreakerClosed:
		return true

	case store.BreakerOpen:
		if m.now().Sub(state.OpenedAt) < state.ResetAfter {
			metrics.CircuitBreakerRejections.WithLabelValues(service).Inc()
			return false
		}
		state.State = store.BreakerHalfOpen
		m.probing[service] = true
		m.persist(ctx, state)
		logging.Info().Str("service", service).Msg("Circuit breaker half-open, admitting probe")
		return true

	case store.BreakerHalfOpen:
		if m.probing[service] {
			metrics.CircuitBreakerRejections.WithLabelValues(service).Inc()
			return false
		}
		m.probing[service] = true
		return true

	default:
		return true
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (m *Manager) RecordSuccess(ctx context.Context, service string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.load(ctx, service)
	delete(m.probing, service)

	if state.State == store.BreakerClosed && state.FailureCount == 0 {
		return
	}
	if state.State != store.BreakerClosed {
		logging.Info().Str("service", service).Msg("Circuit breaker closed after successful call")
	}
	state.State = store.BreakerClosed
	state.FailureCount = 0
	state.OpenedAt = time.Time{}
	m.persist(ctx, state)
}

// RecordFailure counts a failure. A closed circuit opens once consecutive
// failures reach the threshold; a half-open circuit re-opens immediately and
// the cool-down restarts.
func (m *Manager) RecordFailure(ctx context.Context, service string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.load(ctx, service)
	delete(m.probing, service)

	switch state.State {
	case store.BreakerHalfOpen:
		state.State = store.BreakerOpen
		state.OpenedAt = m.now()
		logging.Warn().Str("service", service).Msg("Circuit breaker probe failed, re-opening")

	case store.BreakerClosed:
		state.FailureCount++
		if state.FailureCount >= m.cfg.FailureThreshold {
			state.State = store.BreakerOpen
			state.OpenedAt = m.now()
			logging.Warn().
				Str("service", service).
				Int("failures", state.FailureCount).
				Dur("reset_after", state.ResetAfter).
				Msg("Circuit breaker opened")
		}

	case store.BreakerOpen:
		// A failure recorded against an already-open circuit can happen
		// when a call started before the trip; the state does not change.
	}

	m.persist(ctx, state)
}

// State returns the current status for a service, for summaries and tests.
func (m *Manager) State(ctx context.Context, service string) store.BreakerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx, service).State
}

// load returns the cached state for a service, reading it from the store on
// first access. Unknown services start closed. Must hold m.mu.
func (m *Manager) load(ctx context.Context, service string) *store.BreakerState {
	if state, ok := m.states[service]; ok {
		return state
	}

	state, err := m.store.GetBreakerState(ctx, service)
	if errors.Is(err, store.ErrNotFound) {
		state = &store.BreakerState{
			Service:    service,
			State:      store.BreakerClosed,
			ResetAfter: m.cfg.ResetAfter,
		}
	} else if err != nil {
		logging.Err(err).Str("service", service).Msg("Failed to load breaker state, starting closed")
		state = &store.BreakerState{
			Service:    service,
			State:      store.BreakerClosed,
			ResetAfter: m.cfg.ResetAfter,
		}
	}
	if state.ResetAfter <= 0 {
		state.ResetAfter = m.cfg.ResetAfter
	}

	m.states[service] = state
	m.gauge(state)
	return state
}

// persist writes the state back, best-effort. Must hold m.mu.
func (m *Manager) persist(ctx context.Context, state *store.BreakerState) {
	m.gauge(state)
	if err := m.store.PutBreakerState(ctx, state); err != nil {
		logging.Err(err).Str("service", state.Service).Msg("Failed to persist breaker state")
	}
}

func (m *Manager) gauge(state *store.BreakerState) {
	var v float64
	switch state.State {
	case store.BreakerHalfOpen:
		v = 1
	case store.BreakerOpen:
		v = 2
	}
	metrics.CircuitBreakerState.WithLabelValues(state.Service).Set(v)
}
