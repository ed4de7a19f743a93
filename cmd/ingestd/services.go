// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/newsgate/newsgate/internal/logging"
	"github.com/newsgate/newsgate/internal/pipeline"
	"github.com/newsgate/newsgate/internal/quota"
	"github.com/newsgate/newsgate/internal/store"
)

// newSupervisor builds the root supervisor with suture's defaults and event
// logging through the process logger.
func newSupervisor() *suture.Supervisor {
	handler := &sutureslog.Handler{Logger: logging.NewSlogLogger()}
	return suture.New("ingestd", suture.Spec{
		EventHook:      handler.MustHook(),
		FailureDecay:   30,
		FailureBackoff: 15 * time.Second,
		Timeout:        10 * time.Second,
	})
}

// SchedulerService runs the ingestion pipeline on a fixed interval. Each
// invocation gets its own deadline so a stuck provider cannot block the
// next tick indefinitely.
type SchedulerService struct {
	orchestrator *pipeline.Orchestrator
	interval     time.Duration
	timeout      time.Duration
	runOnStartup bool
}

func (s *SchedulerService) String() string { return "scheduler" }

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	if s.runOnStartup {
		s.invoke(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.invoke(ctx)
		}
	}
}

func (s *SchedulerService) invoke(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	if _, err := s.orchestrator.Run(ctx); err != nil {
		// Only configuration problems surface here; the summary carries
		// everything else. Log and wait for the next tick.
		logging.Err(err).Msg("Invocation did not start")
	}
}

// QuotaFlushService periodically persists quota counters.
type QuotaFlushService struct {
	tracker *quota.Tracker
}

func (s *QuotaFlushService) String() string { return "quota-flush" }

// Serve implements suture.Service.
func (s *QuotaFlushService) Serve(ctx context.Context) error {
	return s.tracker.Run(ctx)
}

// MetricsService serves Prometheus metrics and the health probe.
type MetricsService struct {
	addr string
}

func (s *MetricsService) String() string { return "metrics-server" }

// Serve implements suture.Service.
func (s *MetricsService) Serve(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// StoreGCService runs BadgerDB value log garbage collection so expired
// items actually release disk space.
type StoreGCService struct {
	store    *store.Store
	interval time.Duration
}

func (s *StoreGCService) String() string { return "store-gc" }

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	interval := s.interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunValueLogGC(); err != nil {
				logging.Err(err).Msg("Value log GC failed")
			}
		}
	}
}

// discardSink swallows messages when the bus is disabled. Items are still
// stored; the reconciler republishes them once a bus is configured.
type discardSink struct{}

func (discardSink) Publish(_ context.Context, topic string, msg *message.Message) error {
	logging.Debug().Str("topic", topic).Str("uuid", msg.UUID).Msg("Bus disabled, discarding message")
	return nil
}
