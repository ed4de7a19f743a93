// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package pipeline

import (
	"github.com/newsgate/newsgate/internal/reconcile"
)

// Status is the overall verdict of one invocation.
type Status string

const (
	// StatusOK means every unit of work completed.
	StatusOK Status = "ok"
	// StatusPartial means some units failed or were skipped while others
	// completed; the invocation still produced useful work.
	StatusPartial Status = "partial"
	// StatusFailed means no useful work happened: misconfiguration, or
	// every unit failed.
	StatusFailed Status = "failed"
)

// UnitError records one failed or skipped unit of work.
type UnitError struct {
	Source  string `json:"source"`
	Topic   string `json:"topic,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Error codes reported in UnitError.Code.
const (
	CodeQuotaExhausted   = "quota_exhausted"
	CodeCircuitOpen      = "circuit_open"
	CodeRateLimited      = "rate_limited"
	CodeAuthFailed       = "auth_failed"
	CodeTransport        = "transport"
	CodeOther            = "other"
	CodeDeadlineExceeded = "deadline_exceeded"
	CodeSourceSkipped    = "source_skipped"
)

// SourceReport aggregates one provider's outcome for the invocation.
type SourceReport struct {
	Name    string `json:"name"`
	Units   int    `json:"units"`
	Fetched int    `json:"fetched"`
	Created int    `json:"created"`
	Errors  int    `json:"errors"`
}

// Summary is the invocation report the scheduler logs and tests assert on.
type Summary struct {
	Status            Status           `json:"status"`
	TopicsProcessed   int              `json:"topics_processed"`
	ItemsFetched      int              `json:"items_fetched"`
	ItemsCreated      int              `json:"items_created"`
	ItemsMerged       int              `json:"items_merged"`
	DuplicatesSkipped int              `json:"duplicates_skipped"`
	MessagesPublished int              `json:"messages_published"`
	Errors            []UnitError      `json:"errors,omitempty"`
	Sources           []SourceReport   `json:"sources"`
	SelfHealing       reconcile.Result `json:"self_healing"`
}
