// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig describes the JetStream stream carrying analysis messages.
type StreamConfig struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	// DuplicateWindow is how long JetStream remembers Nats-Msg-Id values.
	// It must comfortably exceed the reconciler's staleness threshold so
	// a republish racing a slow consumer collapses into one delivery.
	DuplicateWindow time.Duration
}

// JetStreamContext is the subset of jetstream.JetStream the initializer
// needs; tests substitute mocks.
type JetStreamContext interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// EnsureStream creates or updates the analysis stream. Idempotent: safe to
// call on every startup before the publisher begins.
func EnsureStream(ctx context.Context, js JetStreamContext, cfg StreamConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:        cfg.Name,
		Subjects:    cfg.Subjects,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Duplicates:  cfg.DuplicateWindow,
		Storage:     jetstream.FileStorage,
		AllowDirect: true,
		Discard:     jetstream.DiscardOld,
	}

	_, err := js.Stream(ctx, cfg.Name)
	if err == nil {
		stream, err := js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("update stream %s: %w", cfg.Name, err)
		}
		return stream, nil
	}

	if errors.Is(err, jetstream.ErrStreamNotFound) {
		stream, err := js.CreateStream(ctx, streamCfg)
		if err != nil {
			return nil, fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		return stream, nil
	}

	return nil, fmt.Errorf("check stream %s: %w", cfg.Name, err)
}
