// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Package pipeline coordinates one ingestion invocation: gate each
// source/topic pair through quota and circuit breaker, fetch, deduplicate,
// publish the new items in one batch, and finish with a self-healing pass.
package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/newsgate/newsgate/internal/dedup"
	"github.com/newsgate/newsgate/internal/logging"
	"github.com/newsgate/newsgate/internal/metrics"
	"github.com/newsgate/newsgate/internal/model"
	"github.com/newsgate/newsgate/internal/reconcile"
	"github.com/newsgate/newsgate/internal/sources"
)

// ErrConfiguration marks an invocation that could not start: no topics or
// no enabled sources. The scheduler logs it and waits for the next tick.
var ErrConfiguration = errors.New("pipeline misconfigured")

// Config tunes the orchestrator.
type Config struct {
	// Workers bounds concurrent fetch units.
	Workers int
	// ModelVersion is stamped on every published analysis message.
	ModelVersion string
}

// Gater is the call-admission surface (quota tracker). Reserve checks and
// consumes budget in one step; Release refunds a reservation that never
// turned into a request.
type Gater interface {
	Reserve(ctx context.Context, service string, n int) bool
	Release(ctx context.Context, service string, n int)
}

// Breaker is the per-source circuit breaker surface.
type Breaker interface {
	Allow(ctx context.Context, service string) bool
	RecordSuccess(ctx context.Context, service string)
	RecordFailure(ctx context.Context, service string)
}

// Upserter is the deduplication surface.
type Upserter interface {
	Upsert(ctx context.Context, article model.Article, matchedTags []string) (dedup.Outcome, *model.StoredItem, error)
}

// BatchPublisher is the outbound message surface.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, msgs []model.AnalysisMessage) int
}

// Reconciler runs the self-healing pass at the end of an invocation.
type Reconciler interface {
	Run(ctx context.Context) reconcile.Result
}

// Orchestrator drives one invocation across all sources and topics.
type Orchestrator struct {
	fetchers   []sources.Fetcher
	quota      Gater
	breaker    Breaker
	engine     Upserter
	publisher  BatchPublisher
	reconciler Reconciler
	topics     []string
	cfg        Config
	now        func() time.Time
}

// New builds the orchestrator. The fetcher list and topic list are fixed for
// the orchestrator's lifetime; config reloads build a new one.
func New(
	fetchers []sources.Fetcher,
	q Gater,
	b Breaker,
	engine Upserter,
	pub BatchPublisher,
	rec Reconciler,
	topics []string,
	cfg Config,
) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		fetchers:   fetchers,
		quota:      q,
		breaker:    b,
		engine:     engine,
		publisher:  pub,
		reconciler: rec,
		topics:     topics,
		cfg:        cfg,
		now:        time.Now,
	}
}

// unit is one source/topic fetch.
type unit struct {
	fetcher sources.Fetcher
	topic   string
}

// unitResult is what a worker hands back.
type unitResult struct {
	source   string
	fetched  int
	created  int
	merged   int
	dupes    int
	messages []model.AnalysisMessage
	errs     []UnitError
}

// Run executes one full invocation and returns its summary. Only a
// configuration problem returns an error; operational failures degrade the
// summary status instead.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := o.now()

	if len(o.topics) == 0 || len(o.fetchers) == 0 {
		metrics.Invocations.WithLabelValues(string(StatusFailed)).Inc()
		return &Summary{Status: StatusFailed}, ErrConfiguration
	}

	units := make([]unit, 0, len(o.fetchers)*len(o.topics))
	for _, f := range o.fetchers {
		for _, topic := range o.topics {
			units = append(units, unit{fetcher: f, topic: topic})
		}
	}

	var (
		mu sync.Mutex
		// skipSource marks providers that hit a rate limit or auth
		// failure; their remaining units are skipped this invocation.
		skipSource = make(map[string]string)
		results    = make([]unitResult, 0, len(units))
		sem        = make(chan struct{}, o.cfg.Workers)
		wg         sync.WaitGroup
	)

	for _, u := range units {
		sem <- struct{}{}
		wg.Add(1)
		go func(u unit) {
			defer wg.Done()
			defer func() { <-sem }()

			name := u.fetcher.Name()
			mu.Lock()
			skipCode := skipSource[name]
			mu.Unlock()

			var res unitResult
			switch {
			// Deadline check between units: once the invocation budget
			// is spent, remaining units are reported, not attempted.
			case ctx.Err() != nil:
				res = unitResult{source: name, errs: []UnitError{{
					Source: name, Topic: u.topic, Code: CodeDeadlineExceeded,
				}}}
			case skipCode != "":
				res = unitResult{source: name, errs: []UnitError{{
					Source: name, Topic: u.topic, Code: CodeSourceSkipped,
					Message: "source disabled for this invocation after " + skipCode,
				}}}
			default:
				res = o.runUnit(ctx, u)
			}

			mu.Lock()
			results = append(results, res)
			for _, ue := range res.errs {
				if ue.Code == CodeRateLimited || ue.Code == CodeAuthFailed {
					skipSource[ue.Source] = ue.Code
				}
			}
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	summary := o.summarize(results)

	// One batch for the whole invocation keeps ordering stable and lets
	// the publisher chunk optimally.
	var outbound []model.AnalysisMessage
	for _, res := range results {
		outbound = append(outbound, res.messages...)
	}
	summary.MessagesPublished = o.publisher.PublishBatch(ctx, outbound)

	if o.reconciler != nil {
		summary.SelfHealing = o.reconciler.Run(ctx)
	}

	elapsed := o.now().Sub(start)
	metrics.InvocationDuration.Observe(elapsed.Seconds())
	metrics.Invocations.WithLabelValues(string(summary.Status)).Inc()

	logging.Info().
		Str("status", string(summary.Status)).
		Int("fetched", summary.ItemsFetched).
		Int("created", summary.ItemsCreated).
		Int("published", summary.MessagesPublished).
		Int("errors", len(summary.Errors)).
		Dur("elapsed", elapsed).
		Msg("Invocation complete")

	return summary, nil
}

// runUnit executes one source/topic fetch through its gates. An attempted
// fetch records exactly one breaker outcome: RecordSuccess on a clean
// return, RecordFailure on any error.
func (o *Orchestrator) runUnit(ctx context.Context, u unit) unitResult {
	name := u.fetcher.Name()
	res := unitResult{source: name}

	// Reserve checks and consumes the budget atomically, so concurrent
	// units cannot all pass a check on the last remaining slot.
	if !o.quota.Reserve(ctx, name, 1) {
		res.errs = append(res.errs, UnitError{
			Source: name, Topic: u.topic, Code: CodeQuotaExhausted,
			Message: "call budget critical, refusing external call",
		})
		return res
	}

	if !o.breaker.Allow(ctx, name) {
		// No request went out; the reservation goes back.
		o.quota.Release(ctx, name, 1)
		res.errs = append(res.errs, UnitError{
			Source: name, Topic: u.topic, Code: CodeCircuitOpen,
			Message: "circuit open, source cooling down",
		})
		return res
	}

	// From here the call is attempted: the reservation is spent and the
	// breaker is owed exactly one verdict.
	articles, err := u.fetcher.Fetch(ctx, u.topic)
	if err != nil {
		o.breaker.RecordFailure(ctx, name)
		kind := sources.KindOf(err)
		metrics.SourceErrors.WithLabelValues(name, kind.String()).Inc()
		res.errs = append(res.errs, UnitError{
			Source: name, Topic: u.topic, Code: kind.String(), Message: err.Error(),
		})
		logging.Err(err).Str("source", name).Str("topic", u.topic).Msg("Fetch failed")
		return res
	}
	o.breaker.RecordSuccess(ctx, name)

	res.fetched = len(articles)

	// Input order is preserved through deduplication so the first
	// sighting in a response wins deterministically.
	for _, article := range articles {
		outcome, item, err := o.engine.Upsert(ctx, article, o.matchTags(article, u.topic))
		if err != nil {
			res.errs = append(res.errs, UnitError{
				Source: name, Topic: u.topic, Code: CodeOther, Message: err.Error(),
			})
			continue
		}
		switch outcome {
		case dedup.Created:
			res.created++
			res.messages = append(res.messages, model.NewAnalysisMessage(item, o.cfg.ModelVersion, false))
		case dedup.Updated:
			res.merged++
		case dedup.Duplicate:
			res.dupes++
		}
	}
	return res
}

// matchTags returns the topics an article is relevant to: always the topic
// it was fetched for, plus any other configured topic appearing in its
// ticker list.
func (o *Orchestrator) matchTags(article model.Article, fetchTopic string) []string {
	tags := []string{fetchTopic}
	for _, topic := range o.topics {
		if topic == fetchTopic {
			continue
		}
		for _, ticker := range article.Tickers {
			if ticker == topic {
				tags = append(tags, topic)
				break
			}
		}
	}
	return tags
}

// summarize folds unit results into the invocation summary.
func (o *Orchestrator) summarize(results []unitResult) *Summary {
	summary := &Summary{TopicsProcessed: len(o.topics)}
	perSource := make(map[string]*SourceReport)

	attempted := 0
	failed := 0
	for _, res := range results {
		summary.ItemsFetched += res.fetched
		summary.ItemsCreated += res.created
		summary.ItemsMerged += res.merged
		summary.DuplicatesSkipped += res.dupes
		summary.Errors = append(summary.Errors, res.errs...)

		rep, ok := perSource[res.source]
		if !ok {
			rep = &SourceReport{Name: res.source}
			perSource[res.source] = rep
		}
		rep.Units++
		rep.Fetched += res.fetched
		rep.Created += res.created
		rep.Errors += len(res.errs)

		attempted++
		if len(res.errs) > 0 {
			failed++
		}
	}

	names := make([]string, 0, len(perSource))
	for name := range perSource {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		summary.Sources = append(summary.Sources, *perSource[name])
	}

	switch {
	case attempted > 0 && failed == attempted:
		summary.Status = StatusFailed
	case failed > 0:
		summary.Status = StatusPartial
	default:
		summary.Status = StatusOK
	}
	return summary
}
