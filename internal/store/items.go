// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/newsgate/newsgate/internal/model"
)

// PendingRef is the minimal projection returned by the pending index:
// enough to decide staleness and fetch the full record, nothing more.
type PendingRef struct {
	SourceID  string
	Timestamp time.Time
}

// itemKey returns the primary key for a fingerprint.
func itemKey(sourceID string) []byte {
	return []byte(itemKeyPrefix + sourceID)
}

// pendingKey returns the pending-index key. The zero-padded unix timestamp
// keeps lexicographic key order equal to chronological order, so a prefix
// scan doubles as a range query.
func pendingKey(ts time.Time, sourceID string) []byte {
	return []byte(fmt.Sprintf("%s%010d:%s", pendingKeyPrefix, ts.Unix(), sourceID))
}

// CreateItem writes a brand-new StoredItem and its pending index entry in
// one transaction. Returns ErrItemExists if the fingerprint is already
// present; the caller decides whether that is a duplicate or a merge.
// Both entries carry a TTL derived from the item's retention expiry.
func (s *Store) CreateItem(ctx context.Context, item *model.StoredItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	ttl := time.Until(item.TTLTimestamp)

	return s.db.Update(func(txn *badger.Txn) error {
		key := itemKey(item.SourceID)
		if _, err := txn.Get(key); err == nil {
			return ErrItemExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check item: %w", err)
		}

		entry := badger.NewEntry(key, data)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		if err := txn.SetEntry(entry); err != nil {
			return fmt.Errorf("set item: %w", err)
		}

		idx := badger.NewEntry(pendingKey(item.Timestamp, item.SourceID), []byte(item.SourceID))
		if ttl > 0 {
			idx = idx.WithTTL(ttl)
		}
		if err := txn.SetEntry(idx); err != nil {
			return fmt.Errorf("set pending index: %w", err)
		}
		return nil
	})
}

// GetItem retrieves a full StoredItem by fingerprint.
func (s *Store) GetItem(ctx context.Context, sourceID string) (*model.StoredItem, error) {
	var item model.StoredItem

	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(itemKey(sourceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get item: %w", err)
		}
		return entry.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		})
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// AppendSource adds a provider to an existing item's source list. Returns
// added=false when the provider already reported this item. The original
// text, tags, and metadata are never touched; only Sources grows.
func (s *Store) AppendSource(ctx context.Context, sourceID, source string) (bool, error) {
	added := false

	err := s.db.Update(func(txn *badger.Txn) error {
		entry, err := txn.Get(itemKey(sourceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get item: %w", err)
		}

		var item model.StoredItem
		if err := entry.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		}); err != nil {
			return fmt.Errorf("unmarshal item: %w", err)
		}

		if item.HasSource(source) {
			return nil
		}
		item.Sources = append(item.Sources, source)
		added = true

		data, err := json.Marshal(&item)
		if err != nil {
			return fmt.Errorf("marshal item: %w", err)
		}

		out := badger.NewEntry(itemKey(sourceID), data)
		if ttl := time.Until(item.TTLTimestamp); ttl > 0 {
			out = out.WithTTL(ttl)
		}
		return txn.SetEntry(out)
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// PendingBefore scans the pending index for items first seen before the
// cutoff, oldest first, up to limit. Only the minimal projection is read.
func (s *Store) PendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]PendingRef, error) {
	var refs []PendingRef

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(pendingKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ref, err := parsePendingKey(it.Item().Key())
			if err != nil {
				continue
			}
			// Keys are ordered by timestamp, so the first non-stale
			// entry ends the scan.
			if !ref.Timestamp.Before(cutoff) {
				break
			}
			refs = append(refs, ref)
			if limit > 0 && len(refs) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending index: %w", err)
	}
	return refs, nil
}

// parsePendingKey splits "pending:<unix>:<source_id>".
func parsePendingKey(key []byte) (PendingRef, error) {
	rest := strings.TrimPrefix(string(key), pendingKeyPrefix)
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return PendingRef{}, fmt.Errorf("malformed pending key %q", key)
	}
	unix, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return PendingRef{}, fmt.Errorf("malformed pending timestamp %q", parts[0])
	}
	return PendingRef{SourceID: parts[1], Timestamp: time.Unix(unix, 0).UTC()}, nil
}

// BatchGetItems fetches full records for the given fingerprints. Missing
// keys are skipped, not errors: retention may have expired them between an
// index read and this call.
func (s *Store) BatchGetItems(ctx context.Context, sourceIDs []string) ([]*model.StoredItem, error) {
	items := make([]*model.StoredItem, 0, len(sourceIDs))

	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range sourceIDs {
			entry, err := txn.Get(itemKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("get item %s: %w", id, err)
			}

			var item model.StoredItem
			if err := entry.Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			}); err != nil {
				return fmt.Errorf("unmarshal item %s: %w", id, err)
			}
			items = append(items, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// MarkAnalyzed records the downstream consumer's sentiment, flips the item
// to analyzed, and removes it from the pending index. This is the boundary
// operation the analysis consumer (and the reconciler's race guard) rely on.
func (s *Store) MarkAnalyzed(ctx context.Context, sourceID string, sentiment *model.Sentiment) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry, err := txn.Get(itemKey(sourceID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get item: %w", err)
		}

		var item model.StoredItem
		if err := entry.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		}); err != nil {
			return fmt.Errorf("unmarshal item: %w", err)
		}

		item.Status = model.StatusAnalyzed
		item.Sentiment = sentiment

		data, err := json.Marshal(&item)
		if err != nil {
			return fmt.Errorf("marshal item: %w", err)
		}

		out := badger.NewEntry(itemKey(sourceID), data)
		if ttl := time.Until(item.TTLTimestamp); ttl > 0 {
			out = out.WithTTL(ttl)
		}
		if err := txn.SetEntry(out); err != nil {
			return fmt.Errorf("set item: %w", err)
		}

		if err := txn.Delete(pendingKey(item.Timestamp, sourceID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete pending index: %w", err)
		}
		return nil
	})
}
