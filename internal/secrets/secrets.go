// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Package secrets resolves API key references from the environment or the
// filesystem. Refs look like "env:TIINGO_API_KEY" or "file:/run/secrets/key";
// resolved values are cached for the process lifetime so each source pays the
// lookup cost once per invocation at most.
package secrets

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Resolver resolves and caches secret references.
type Resolver struct {
	mu    sync.Mutex
	cache map[string]string
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{cache: make(map[string]string)}
}

// Resolve returns the secret value for a reference.
//
// Supported schemes:
//   - env:NAME      — read from the environment
//   - file:/path    — read file contents, trailing whitespace trimmed
func (r *Resolver) Resolve(ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.cache[ref]; ok {
		return v, nil
	}

	value, err := resolve(ref)
	if err != nil {
		return "", err
	}
	r.cache[ref] = value
	return value, nil
}

func resolve(ref string) (string, error) {
	scheme, rest, ok := strings.Cut(ref, ":")
	if !ok {
		return "", fmt.Errorf("secret ref %q: missing scheme (want env: or file:)", ref)
	}

	switch scheme {
	case "env":
		v, ok := os.LookupEnv(rest)
		if !ok || v == "" {
			return "", fmt.Errorf("secret ref %q: environment variable not set", ref)
		}
		return v, nil
	case "file":
		data, err := os.ReadFile(rest)
		if err != nil {
			return "", fmt.Errorf("secret ref %q: %w", ref, err)
		}
		v := strings.TrimRight(string(data), "\r\n ")
		if v == "" {
			return "", fmt.Errorf("secret ref %q: file is empty", ref)
		}
		return v, nil
	default:
		return "", fmt.Errorf("secret ref %q: unsupported scheme %q", ref, scheme)
	}
}
