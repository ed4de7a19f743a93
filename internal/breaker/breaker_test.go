// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/newsgate/newsgate/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store, *time.Time) {
	t.Helper()
	st, err := store.Open(store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	m := NewManager(st, Config{FailureThreshold: 3, ResetAfter: time.Minute})
	m.now = func() time.Time { return now }
	return m, st, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		m.RecordFailure(ctx, "tiingo")
		if !m.Allow(ctx, "tiingo") {
			t.Fatalf("breaker tripped after %d failures, threshold is 3", i+1)
		}
	}

	m.RecordFailure(ctx, "tiingo")
	if m.Allow(ctx, "tiingo") {
		t.Fatal("breaker must refuse calls after threshold failures")
	}
	if got := m.State(ctx, "tiingo"); got != store.BreakerOpen {
		t.Errorf("state = %s, want open", got)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	m.RecordFailure(ctx, "tiingo")
	m.RecordFailure(ctx, "tiingo")
	m.RecordSuccess(ctx, "tiingo")

	// The streak restarted: two more failures must not trip a threshold
	// of three.
	m.RecordFailure(ctx, "tiingo")
	m.RecordFailure(ctx, "tiingo")
	if !m.Allow(ctx, "tiingo") {
		t.Fatal("non-consecutive failures must not open the breaker")
	}
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	m, _, now := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RecordFailure(ctx, "tiingo")
	}
	if m.Allow(ctx, "tiingo") {
		t.Fatal("open breaker admitted a call before cool-down")
	}

	*now = now.Add(61 * time.Second)

	if !m.Allow(ctx, "tiingo") {
		t.Fatal("breaker must admit one probe after cool-down")
	}
	if got := m.State(ctx, "tiingo"); got != store.BreakerHalfOpen {
		t.Fatalf("state = %s, want half_open", got)
	}
	if m.Allow(ctx, "tiingo") {
		t.Fatal("half-open breaker admitted a second call while probe outstanding")
	}
}

func TestBreakerProbeOutcomes(t *testing.T) {
	t.Run("probe success closes", func(t *testing.T) {
		m, _, now := newTestManager(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			m.RecordFailure(ctx, "tiingo")
		}
		*now = now.Add(2 * time.Minute)
		if !m.Allow(ctx, "tiingo") {
			t.Fatal("probe not admitted")
		}
		m.RecordSuccess(ctx, "tiingo")

		if got := m.State(ctx, "tiingo"); got != store.BreakerClosed {
			t.Errorf("state = %s, want closed", got)
		}
		if !m.Allow(ctx, "tiingo") {
			t.Error("closed breaker must admit calls")
		}
	})

	t.Run("probe failure reopens and restarts cool-down", func(t *testing.T) {
		m, _, now := newTestManager(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			m.RecordFailure(ctx, "tiingo")
		}
		*now = now.Add(2 * time.Minute)
		if !m.Allow(ctx, "tiingo") {
			t.Fatal("probe not admitted")
		}
		m.RecordFailure(ctx, "tiingo")

		if got := m.State(ctx, "tiingo"); got != store.BreakerOpen {
			t.Fatalf("state = %s, want open", got)
		}
		// Cool-down restarted at the probe failure; thirty seconds in,
		// still refusing.
		*now = now.Add(30 * time.Second)
		if m.Allow(ctx, "tiingo") {
			t.Error("breaker admitted a call during restarted cool-down")
		}
		*now = now.Add(31 * time.Second)
		if !m.Allow(ctx, "tiingo") {
			t.Error("breaker refused probe after full restarted cool-down")
		}
	})
}

func TestBreakerStatePersistsAcrossManagers(t *testing.T) {
	st, err := store.Open(store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	ctx := context.Background()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	m1 := NewManager(st, Config{FailureThreshold: 3, ResetAfter: time.Minute})
	m1.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		m1.RecordFailure(ctx, "newsdata")
	}

	// A fresh manager over the same store models a process restart.
	m2 := NewManager(st, Config{FailureThreshold: 3, ResetAfter: time.Minute})
	m2.now = func() time.Time { return base.Add(10 * time.Second) }
	if m2.Allow(ctx, "newsdata") {
		t.Fatal("open state must survive a restart")
	}

	m3 := NewManager(st, Config{FailureThreshold: 3, ResetAfter: time.Minute})
	m3.now = func() time.Time { return base.Add(2 * time.Minute) }
	if !m3.Allow(ctx, "newsdata") {
		t.Fatal("restarted manager must admit probe after cool-down")
	}
}

func TestBreakerIsolatesServices(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.RecordFailure(ctx, "tiingo")
	}
	if m.Allow(ctx, "tiingo") {
		t.Fatal("tiingo breaker should be open")
	}
	if !m.Allow(ctx, "finnhub") {
		t.Error("finnhub breaker must be unaffected by tiingo failures")
	}
}
