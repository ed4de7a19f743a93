// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Command ingestd runs the financial news ingestion pipeline: fetch from
// the configured providers, deduplicate into the durable store, publish
// analysis messages to NATS JetStream, and self-heal lost deliveries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/newsgate/newsgate/internal/breaker"
	"github.com/newsgate/newsgate/internal/config"
	"github.com/newsgate/newsgate/internal/dedup"
	"github.com/newsgate/newsgate/internal/logging"
	"github.com/newsgate/newsgate/internal/pipeline"
	"github.com/newsgate/newsgate/internal/publish"
	"github.com/newsgate/newsgate/internal/quota"
	"github.com/newsgate/newsgate/internal/reconcile"
	"github.com/newsgate/newsgate/internal/secrets"
	"github.com/newsgate/newsgate/internal/sources"
	"github.com/newsgate/newsgate/internal/store"
)

func main() {
	once := flag.Bool("once", false, "run a single invocation and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	if err := run(cfg, *once); err != nil {
		logging.Err(err).Msg("ingestd exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, once bool) error {
	enabled := cfg.EnabledSources()
	if len(enabled) == 0 {
		return config.ErrNoSourcesEnabled
	}

	st, err := store.Open(store.Options{Path: cfg.Store.Path, InMemory: cfg.Store.InMemory})
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Err(err).Msg("Closing store failed")
		}
	}()

	fetchers, err := buildFetchers(cfg, enabled)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, cleanup, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	budgets := make(map[string]quota.ServiceBudget, len(enabled))
	for name, src := range enabled {
		budgets[name] = quota.ServiceBudget{Limit: src.QuotaLimit, Period: src.QuotaPeriod}
	}
	tracker := quota.NewTracker(st, quota.Config{
		WarnThreshold:     cfg.Quota.WarnThreshold,
		CriticalThreshold: cfg.Quota.CriticalThreshold,
		FlushInterval:     cfg.Quota.FlushInterval,
	}, budgets)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracker.Flush(flushCtx); err != nil {
			logging.Err(err).Msg("Final quota flush failed")
		}
	}()

	breakerMgr := breaker.NewManager(st, breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetAfter:       cfg.Breaker.ResetAfter,
	})

	retention := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour
	engine := dedup.NewEngine(st, retention)

	batch := publish.NewBatchPublisher(sink, cfg.NATS.Topic, cfg.Publisher.BatchLimit)

	reconciler := reconcile.New(st, batch, reconcile.Config{
		StalenessThreshold: cfg.Reconciler.StalenessThreshold,
		MaxItems:           cfg.Reconciler.MaxItems,
		ModelVersion:       cfg.Pipeline.ModelVersion,
	})

	orchestrator := pipeline.New(
		fetchers, tracker, breakerMgr, engine, batch, reconciler,
		cfg.Topics,
		pipeline.Config{Workers: cfg.Pipeline.Workers, ModelVersion: cfg.Pipeline.ModelVersion},
	)

	logging.Info().
		Int("sources", len(fetchers)).
		Int("topics", len(cfg.Topics)).
		Bool("once", once).
		Msg("ingestd starting")

	if once {
		return runOnce(ctx, orchestrator, cfg.Pipeline.InvocationTimeout)
	}

	sup := newSupervisor()
	sup.Add(&SchedulerService{
		orchestrator: orchestrator,
		interval:     cfg.Pipeline.Interval,
		timeout:      cfg.Pipeline.InvocationTimeout,
		runOnStartup: cfg.Pipeline.RunOnStartup,
	})
	sup.Add(&QuotaFlushService{tracker: tracker})
	sup.Add(&StoreGCService{store: st})
	if cfg.Metrics.Enabled {
		sup.Add(&MetricsService{addr: cfg.Metrics.Addr})
	}

	err = sup.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("ingestd shut down")
		return nil
	}
	return err
}

// runOnce executes a single invocation, prints the summary outcome, and
// reports failure through the exit code.
func runOnce(ctx context.Context, orchestrator *pipeline.Orchestrator, timeout time.Duration) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	summary, err := orchestrator.Run(runCtx)
	if err != nil {
		return err
	}
	if summary.Status == pipeline.StatusFailed {
		return fmt.Errorf("invocation failed: %d errors", len(summary.Errors))
	}
	return nil
}

// buildFetchers constructs one adapter per enabled provider with its
// resolved API key.
func buildFetchers(cfg *config.Config, enabled map[string]config.SourceConfig) ([]sources.Fetcher, error) {
	resolver := secrets.NewResolver()
	fetchers := make([]sources.Fetcher, 0, len(enabled))

	for name, src := range enabled {
		key, err := resolver.Resolve(src.APIKeyRef)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}

		switch name {
		case "tiingo":
			fetchers = append(fetchers, sources.NewTiingo(src, cfg.Retry, key))
		case "finnhub":
			fetchers = append(fetchers, sources.NewFinnhub(src, cfg.Retry, key))
		case "newsdata":
			fetchers = append(fetchers, sources.NewNewsdata(src, cfg.Retry, key))
		default:
			return nil, fmt.Errorf("unknown source %q", name)
		}
	}
	return fetchers, nil
}

// buildSink wires the message bus: optionally an embedded JetStream server,
// stream provisioning, and the circuit-broken publisher. With the bus
// disabled a discarding sink keeps the pipeline storing items; the
// reconciler delivers them once a bus comes back.
func buildSink(ctx context.Context, cfg *config.Config) (publish.MessageSink, func(), error) {
	if !cfg.NATS.Enabled {
		logging.Warn().Msg("Message bus disabled; analysis messages will not be delivered")
		return discardSink{}, func() {}, nil
	}

	cleanup := func() {}
	url := cfg.NATS.URL

	if cfg.NATS.EmbeddedServer {
		embedded, err := publish.NewEmbeddedServer(publish.ServerConfig{
			Host:              "127.0.0.1",
			Port:              -1, // random port, reachable only via ClientURL
			StoreDir:          cfg.NATS.StoreDir,
			JetStreamMaxMem:   cfg.NATS.MaxMemory,
			JetStreamMaxStore: cfg.NATS.MaxStore,
		})
		if err != nil {
			return nil, nil, err
		}
		url = embedded.ClientURL()
		cleanup = func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Err(err).Msg("Embedded NATS shutdown failed")
			}
		}
	}

	if err := provisionStream(ctx, cfg, url); err != nil {
		cleanup()
		return nil, nil, err
	}

	pub, err := publish.NewPublisher(publish.PublisherConfig{
		URL:             url,
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		ReconnectBuffer: 8 * 1024 * 1024,
	}, nil)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	pub.SetCircuitBreaker(publish.NewPublishBreaker())

	prev := cleanup
	cleanup = func() {
		if err := pub.Close(); err != nil {
			logging.Err(err).Msg("Publisher close failed")
		}
		prev()
	}
	return pub, cleanup, nil
}

// provisionStream ensures the analysis stream exists before the publisher
// starts.
func provisionStream(ctx context.Context, cfg *config.Config, url string) error {
	nc, err := natsgo.Connect(url, natsgo.RetryOnFailedConnect(true), natsgo.MaxReconnects(5))
	if err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("jetstream context: %w", err)
	}

	_, err = publish.EnsureStream(ctx, js, publish.StreamConfig{
		Name:     cfg.NATS.StreamName,
		Subjects: []string{cfg.NATS.Topic},
		MaxAge:   time.Duration(cfg.NATS.StreamRetentionDays) * 24 * time.Hour,
		// The window must outlast the reconciler's staleness threshold so
		// republishes of undelivered items deduplicate at the stream.
		DuplicateWindow: 2 * cfg.Reconciler.StalenessThreshold,
	})
	return err
}
