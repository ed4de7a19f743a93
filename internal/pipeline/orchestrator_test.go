// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/newsgate/newsgate/internal/dedup"
	"github.com/newsgate/newsgate/internal/model"
	"github.com/newsgate/newsgate/internal/reconcile"
	"github.com/newsgate/newsgate/internal/sources"
	"github.com/newsgate/newsgate/internal/store"
)

// fakeFetcher returns canned articles or a canned error per topic.
type fakeFetcher struct {
	name     string
	articles map[string][]model.Article
	err      error

	mu    sync.Mutex
	calls int
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Fetch(_ context.Context, topic string) ([]model.Article, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.articles[topic], nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeBreaker records verdicts and optionally refuses a service.
type fakeBreaker struct {
	mu        sync.Mutex
	deny      map[string]bool
	successes map[string]int
	failures  map[string]int
}

func newFakeBreaker() *fakeBreaker {
	return &fakeBreaker{
		deny:      make(map[string]bool),
		successes: make(map[string]int),
		failures:  make(map[string]int),
	}
}

func (b *fakeBreaker) Allow(_ context.Context, service string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.deny[service]
}

func (b *fakeBreaker) RecordSuccess(_ context.Context, service string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes[service]++
}

func (b *fakeBreaker) RecordFailure(_ context.Context, service string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[service]++
}

// fakeGater counts reservations and optionally refuses a service. recorded
// holds the net consumed budget; released counts refunds separately.
type fakeGater struct {
	mu       sync.Mutex
	deny     map[string]bool
	recorded map[string]int
	released map[string]int
}

func newFakeGater() *fakeGater {
	return &fakeGater{
		deny:     make(map[string]bool),
		recorded: make(map[string]int),
		released: make(map[string]int),
	}
}

func (g *fakeGater) Reserve(_ context.Context, service string, n int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deny[service] {
		return false
	}
	g.recorded[service] += n
	return true
}

func (g *fakeGater) Release(_ context.Context, service string, n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorded[service] -= n
	g.released[service] += n
}

// capturePublisher collects everything the orchestrator publishes.
type capturePublisher struct {
	mu   sync.Mutex
	msgs []model.AnalysisMessage
}

func (c *capturePublisher) PublishBatch(_ context.Context, msgs []model.AnalysisMessage) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msgs...)
	return len(msgs)
}

// nopReconciler satisfies the Reconciler interface without touching a store.
type nopReconciler struct{}

func (nopReconciler) Run(_ context.Context) reconcile.Result { return reconcile.Result{} }

func newRealEngine(t *testing.T) *dedup.Engine {
	t.Helper()
	st, err := store.Open(store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return dedup.NewEngine(st, 30*24*time.Hour)
}

func TestRunConfigurationError(t *testing.T) {
	tests := []struct {
		name     string
		fetchers []sources.Fetcher
		topics   []string
	}{
		{name: "no topics", fetchers: []sources.Fetcher{&fakeFetcher{name: "tiingo"}}, topics: nil},
		{name: "no sources", fetchers: nil, topics: []string{"AAPL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := New(tt.fetchers, newFakeGater(), newFakeBreaker(), newRealEngine(t),
				&capturePublisher{}, nopReconciler{}, tt.topics,
				Config{Workers: 1, ModelVersion: "sentiment-v2"})

			summary, err := o.Run(context.Background())
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("err = %v, want ErrConfiguration", err)
			}
			if summary.Status != StatusFailed {
				t.Errorf("status = %s, want failed", summary.Status)
			}
		})
	}
}

func TestRunCrossSourceDeduplication(t *testing.T) {
	published := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	shared := "https://news.example.com/aapl-earnings"

	tiingo := &fakeFetcher{name: "tiingo", articles: map[string][]model.Article{
		"AAPL": {{
			ExternalID: "t-1", Source: "tiingo", Title: "Apple beats",
			Description: "Strong quarter.", PublishedAt: published, RawURL: shared,
		}},
	}}
	finnhub := &fakeFetcher{name: "finnhub", articles: map[string][]model.Article{
		"AAPL": {{
			ExternalID: "f-9", Source: "finnhub", Title: "Apple tops estimates",
			PublishedAt: published.Add(time.Minute), RawURL: shared,
		}},
	}}

	gater := newFakeGater()
	brk := newFakeBreaker()
	pub := &capturePublisher{}

	o := New([]sources.Fetcher{tiingo, finnhub}, gater, brk, newRealEngine(t),
		pub, nopReconciler{}, []string{"AAPL"},
		Config{Workers: 1, ModelVersion: "sentiment-v2"})

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Status != StatusOK {
		t.Errorf("status = %s, want ok", summary.Status)
	}
	if summary.ItemsFetched != 2 {
		t.Errorf("fetched = %d, want 2", summary.ItemsFetched)
	}
	if summary.ItemsCreated != 1 {
		t.Errorf("created = %d, want 1", summary.ItemsCreated)
	}
	if summary.ItemsMerged != 1 {
		t.Errorf("merged = %d, want 1", summary.ItemsMerged)
	}
	if summary.MessagesPublished != 1 {
		t.Errorf("published = %d, want 1", summary.MessagesPublished)
	}

	// Exactly one message, for the created item, never republished.
	if len(pub.msgs) != 1 {
		t.Fatalf("publisher got %d messages", len(pub.msgs))
	}
	if pub.msgs[0].Republished {
		t.Error("fresh item published with republished flag")
	}
	if pub.msgs[0].SourceType != "tiingo" {
		t.Errorf("source_type = %s, want first reporter tiingo", pub.msgs[0].SourceType)
	}

	// Exactly one breaker verdict per attempted fetch.
	for _, name := range []string{"tiingo", "finnhub"} {
		if brk.successes[name] != 1 || brk.failures[name] != 0 {
			t.Errorf("%s verdicts: %d successes %d failures, want 1/0",
				name, brk.successes[name], brk.failures[name])
		}
		if gater.recorded[name] != 1 {
			t.Errorf("%s quota calls = %d, want 1", name, gater.recorded[name])
		}
	}
}

func TestRunQuotaGate(t *testing.T) {
	fetcher := &fakeFetcher{name: "tiingo"}
	gater := newFakeGater()
	gater.deny["tiingo"] = true
	brk := newFakeBreaker()

	o := New([]sources.Fetcher{fetcher}, gater, brk, newRealEngine(t),
		&capturePublisher{}, nopReconciler{}, []string{"AAPL"},
		Config{Workers: 1, ModelVersion: "sentiment-v2"})

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Status != StatusFailed {
		t.Errorf("status = %s, want failed (only unit refused)", summary.Status)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].Code != CodeQuotaExhausted {
		t.Fatalf("errors = %+v, want one quota_exhausted", summary.Errors)
	}
	if fetcher.callCount() != 0 {
		t.Error("gated fetch must not reach the provider")
	}
	if gater.recorded["tiingo"] != 0 {
		t.Error("refused call must not consume quota")
	}
	if brk.successes["tiingo"]+brk.failures["tiingo"] != 0 {
		t.Error("refused call must not record a breaker verdict")
	}
}

func TestRunCircuitGate(t *testing.T) {
	fetcher := &fakeFetcher{name: "tiingo"}
	gater := newFakeGater()
	brk := newFakeBreaker()
	brk.deny["tiingo"] = true

	o := New([]sources.Fetcher{fetcher}, gater, brk, newRealEngine(t),
		&capturePublisher{}, nopReconciler{}, []string{"AAPL"},
		Config{Workers: 1, ModelVersion: "sentiment-v2"})

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(summary.Errors) != 1 || summary.Errors[0].Code != CodeCircuitOpen {
		t.Fatalf("errors = %+v, want one circuit_open", summary.Errors)
	}
	if fetcher.callCount() != 0 {
		t.Error("open circuit must not reach the provider")
	}
	if gater.recorded["tiingo"] != 0 {
		t.Error("refused call must not consume quota")
	}
	if gater.released["tiingo"] != 1 {
		t.Errorf("released = %d, want the reservation refunded once", gater.released["tiingo"])
	}
}

func TestRunFetchFailureRecordsBreaker(t *testing.T) {
	fetcher := &fakeFetcher{
		name: "tiingo",
		err:  &sources.SourceError{Source: "tiingo", Kind: sources.KindTransport, Err: errors.New("dial timeout")},
	}
	gater := newFakeGater()
	brk := newFakeBreaker()

	o := New([]sources.Fetcher{fetcher}, gater, brk, newRealEngine(t),
		&capturePublisher{}, nopReconciler{}, []string{"AAPL"},
		Config{Workers: 1, ModelVersion: "sentiment-v2"})

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Status != StatusFailed {
		t.Errorf("status = %s, want failed", summary.Status)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].Code != "transport" {
		t.Fatalf("errors = %+v, want one transport", summary.Errors)
	}
	if brk.failures["tiingo"] != 1 || brk.successes["tiingo"] != 0 {
		t.Errorf("verdicts: %d failures %d successes, want 1/0",
			brk.failures["tiingo"], brk.successes["tiingo"])
	}
	if gater.recorded["tiingo"] != 1 {
		t.Error("attempted fetch must consume quota even on failure")
	}
}

func TestRunRateLimitSkipsRemainingTopics(t *testing.T) {
	fetcher := &fakeFetcher{
		name: "tiingo",
		err: &sources.SourceError{
			Source: "tiingo", Kind: sources.KindRateLimited,
			RetryAfter: time.Minute, Err: errors.New("HTTP 429"),
		},
	}
	healthy := &fakeFetcher{name: "finnhub", articles: map[string][]model.Article{}}

	o := New([]sources.Fetcher{fetcher, healthy}, newFakeGater(), newFakeBreaker(),
		newRealEngine(t), &capturePublisher{}, nopReconciler{},
		[]string{"AAPL", "MSFT", "NVDA"},
		Config{Workers: 1, ModelVersion: "sentiment-v2"})

	summary, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Status != StatusPartial {
		t.Errorf("status = %s, want partial", summary.Status)
	}
	if fetcher.callCount() != 1 {
		t.Errorf("rate-limited source fetched %d times, want 1", fetcher.callCount())
	}
	if healthy.callCount() != 3 {
		t.Errorf("healthy source fetched %d times, want 3", healthy.callCount())
	}

	var rateLimited, skipped int
	for _, ue := range summary.Errors {
		switch ue.Code {
		case CodeRateLimited:
			rateLimited++
		case CodeSourceSkipped:
			skipped++
		}
	}
	if rateLimited != 1 || skipped != 2 {
		t.Errorf("errors: %d rate_limited %d source_skipped, want 1/2", rateLimited, skipped)
	}
}

func TestRunDeadlineBetweenUnits(t *testing.T) {
	fetcher := &fakeFetcher{name: "tiingo", articles: map[string][]model.Article{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // deadline already spent before the first unit

	o := New([]sources.Fetcher{fetcher}, newFakeGater(), newFakeBreaker(),
		newRealEngine(t), &capturePublisher{}, nopReconciler{},
		[]string{"AAPL", "MSFT"},
		Config{Workers: 1, ModelVersion: "sentiment-v2"})

	summary, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if fetcher.callCount() != 0 {
		t.Error("expired context must not attempt fetches")
	}
	for _, ue := range summary.Errors {
		if ue.Code != CodeDeadlineExceeded {
			t.Errorf("error code = %s, want deadline_exceeded", ue.Code)
		}
	}
	if len(summary.Errors) != 2 {
		t.Errorf("got %d errors, want 2 skipped units", len(summary.Errors))
	}
}
