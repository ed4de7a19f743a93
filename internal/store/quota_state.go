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

// QuotaRecord is the persisted call budget for one service in one billing
// period. A new record supersedes the old one when the period rolls over;
// superseded records age out with the database, they are never deleted
// explicitly.
type QuotaRecord struct {
	Service   string    `json:"service"`
	Period    string    `json:"period"`
	Limit     int64     `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

func quotaKey(service, period string) []byte {
	return []byte(quotaKeyPrefix + service + ":" + period)
}

// GetQuotaRecord loads the persisted quota for a service and period key.
// Returns ErrNotFound when no record exists for that period yet.
func (s *Store) GetQuotaRecord(ctx context.Context, service, period string) (*QuotaRecord, error) {
	var rec QuotaRecord

	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(quotaKey(service, period))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get quota record: %w", err)
		}
		return entry.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutQuotaRecord persists the quota counter for a service and period.
func (s *Store) PutQuotaRecord(ctx context.Context, rec *QuotaRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal quota record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(quotaKey(rec.Service, rec.Period), data)
	})
}
