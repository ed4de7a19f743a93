// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Package store implements the durable state for the ingestion pipeline on
// BadgerDB: stored items keyed by deduplication fingerprint, a pending-status
// index for the self-healing reconciler, and persisted circuit breaker and
// quota records.
//
// The conditional create on the item keyspace is the only cross-process
// concurrency control the deduplication engine needs: BadgerDB transactions
// guarantee at most one winner per fingerprint.
package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/newsgate/newsgate/internal/logging"
)

// Key prefixes for the BadgerDB keyspace.
const (
	itemKeyPrefix    = "item:"
	pendingKeyPrefix = "pending:"
	breakerKeyPrefix = "breaker:"
	quotaKeyPrefix   = "quota:"
)

var (
	// ErrItemExists is returned by CreateItem when the fingerprint is
	// already present; the deduplication engine maps it to a merge.
	ErrItemExists = errors.New("item already exists")

	// ErrNotFound is returned when a requested key is absent.
	ErrNotFound = errors.New("not found")
)

// Store wraps a BadgerDB handle with the pipeline's access contracts.
type Store struct {
	db *badger.DB
}

// Options configures Open.
type Options struct {
	Path     string
	InMemory bool
}

// Open opens (or creates) the store at the configured path. InMemory is
// used by tests and throwaway environments.
func Open(opts Options) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path).
		WithLogger(badgerLogger{}).
		WithInMemory(opts.InMemory)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", opts.Path, err)
	}
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing BadgerDB handle; the caller keeps ownership.
func NewWithDB(db *badger.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunValueLogGC runs one garbage collection pass over the value log.
// Safe to call periodically from a background service.
func (s *Store) RunValueLogGC() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// badgerLogger routes BadgerDB's own logging through zerolog.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	logging.Error().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	logging.Warn().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(format, args...)
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	logging.Debug().Str("component", "badger").Msgf(format, args...)
}
