// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// BreakerStatus is the persisted circuit breaker state for one source.
type BreakerStatus string

const (
	BreakerClosed   BreakerStatus = "closed"
	BreakerOpen     BreakerStatus = "open"
	BreakerHalfOpen BreakerStatus = "half_open"
)

// BreakerState is one source's circuit breaker record. It is created lazily
// with default closed state and overwritten on every transition; it is
// never deleted.
type BreakerState struct {
	Service      string        `json:"service"`
	State        BreakerStatus `json:"state"`
	FailureCount int           `json:"failure_count"`
	OpenedAt     time.Time     `json:"opened_at,omitempty"`
	ResetAfter   time.Duration `json:"reset_after"`
}

// GetBreakerState loads the persisted state for a service.
// Returns ErrNotFound when the service has no record yet.
func (s *Store) GetBreakerState(ctx context.Context, service string) (*BreakerState, error) {
	var state BreakerState

	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get([]byte(breakerKeyPrefix + service))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get breaker state: %w", err)
		}
		return entry.Value(func(val []byte) error {
			return json.Unmarshal(val, &state)
		})
	})
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// PutBreakerState overwrites the persisted state for a service.
func (s *Store) PutBreakerState(ctx context.Context, state *BreakerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal breaker state: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(breakerKeyPrefix+state.Service), data)
	})
}
