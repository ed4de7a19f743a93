// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Package dedup derives stable cross-source fingerprints for articles and
// turns fetched articles into durable stored items exactly once per
// fingerprint.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/newsgate/newsgate/internal/model"
)

// fingerprintPrefix namespaces item keys so future entity types can share
// the store without colliding.
const fingerprintPrefix = "news:"

// Fingerprint derives the deterministic identity for an article. The
// canonical URL is the primary identity; articles without a URL fall back to
// title plus publication time. The empty string means the article cannot be
// fingerprinted and must not be stored.
func Fingerprint(a model.Article) string {
	basis := canonicalURL(a.RawURL)
	if basis == "" {
		if a.Title == "" || a.PublishedAt.IsZero() {
			return ""
		}
		basis = a.Title + "|" + a.PublishedAt.UTC().Format(time.RFC3339)
	}

	sum := sha256.Sum256([]byte(basis))
	return fingerprintPrefix + hex.EncodeToString(sum[:])[:16]
}

// canonicalURL normalizes a raw URL so trivially different forms of the same
// link fingerprint identically: whitespace trimmed, fragment dropped, scheme
// and host lowercased. Query parameters are kept; providers use them to
// address distinct articles.
func canonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	u.Fragment = ""
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}
