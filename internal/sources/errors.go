// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package sources

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies adapter failures for the orchestrator's routing:
// rate limits and auth failures skip the source, transport errors count
// against the circuit breaker after bounded retries.
type ErrorKind int

const (
	// KindOther covers semantic provider errors that fit no other bucket.
	KindOther ErrorKind = iota
	// KindRateLimited means the provider returned HTTP 429.
	KindRateLimited
	// KindAuthFailed means the provider rejected the API key.
	KindAuthFailed
	// KindTransport covers network failures, timeouts, and 5xx responses
	// that survived the retry budget.
	KindTransport
)

// String returns the machine-readable error code for summaries and logs.
func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindAuthFailed:
		return "auth_failed"
	case KindTransport:
		return "transport"
	default:
		return "other"
	}
}

// SourceError is the structured failure every adapter returns. Callers
// classify with errors.As and switch on Kind instead of matching provider
// specific error types.
type SourceError struct {
	Source string
	Kind   ErrorKind
	// RetryAfter is set for rate limits: provider-supplied when the
	// Retry-After header parsed, otherwise the configured default.
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

// Unwrap exposes the underlying cause to errors.Is/As chains.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// KindOf extracts the error kind from any error. Non-source errors
// classify as KindOther.
func KindOf(err error) ErrorKind {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindOther
}
