// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package publish

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/newsgate/newsgate/internal/logging"
	"github.com/newsgate/newsgate/internal/metrics"
	"github.com/newsgate/newsgate/internal/model"
)

// MessageSink is the publish surface the batch publisher needs. *Publisher
// satisfies it; tests substitute fakes.
type MessageSink interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
}

// BatchPublisher fans analysis messages out to the bus in bounded chunks.
// A failing chunk is abandoned at the first error and its siblings still go
// out: losing one chunk must not cost the whole batch, the reconciler
// recovers whatever was dropped.
type BatchPublisher struct {
	sink  MessageSink
	topic string
	limit int
}

// NewBatchPublisher builds a batch publisher for one topic. limit caps the
// chunk size; values below one fall back to ten.
func NewBatchPublisher(sink MessageSink, topic string, limit int) *BatchPublisher {
	if limit < 1 {
		limit = 10
	}
	return &BatchPublisher{sink: sink, topic: topic, limit: limit}
}

// PublishBatch sends the messages in chunks and returns how many were
// delivered. An empty batch or an unconfigured topic publishes nothing.
func (b *BatchPublisher) PublishBatch(ctx context.Context, msgs []model.AnalysisMessage) int {
	if len(msgs) == 0 || b.topic == "" {
		return 0
	}

	published := 0
	for start := 0; start < len(msgs); start += b.limit {
		end := start + b.limit
		if end > len(msgs) {
			end = len(msgs)
		}

		sent, err := b.publishChunk(ctx, msgs[start:end])
		published += sent
		if err != nil {
			metrics.PublishBatches.WithLabelValues("partial").Inc()
			logging.Err(err).
				Int("chunk_start", start).
				Int("chunk_size", end-start).
				Int("sent", sent).
				Msg("Publish chunk failed, continuing with remaining chunks")
			continue
		}
		metrics.PublishBatches.WithLabelValues("ok").Inc()
	}

	if published < len(msgs) {
		logging.Warn().
			Int("published", published).
			Int("total", len(msgs)).
			Msg("Batch publish completed partially; reconciler will recover the rest")
	}
	return published
}

// publishChunk sends one chunk, stopping at the first failure. Returns how
// many messages of the chunk went out.
func (b *BatchPublisher) publishChunk(ctx context.Context, chunk []model.AnalysisMessage) (int, error) {
	for i, am := range chunk {
		payload, err := json.Marshal(am)
		if err != nil {
			return i, err
		}

		// The fingerprint as UUID makes Nats-Msg-Id stable across
		// re-sends of the same item.
		msg := message.NewMessage(am.SourceID, payload)
		msg.Metadata.Set("source_type", am.SourceType)
		if am.Republished {
			msg.Metadata.Set("republished", "true")
		}

		if err := b.sink.Publish(ctx, b.topic, msg); err != nil {
			return i, err
		}
	}
	return len(chunk), nil
}
