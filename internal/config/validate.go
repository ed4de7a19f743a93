// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrNoSourcesEnabled is returned when the configuration enables no provider.
// The orchestrator treats it as a ConfigurationError: nothing can run.
var ErrNoSourcesEnabled = errors.New("no sources enabled")

// Validate checks structural constraints (validator tags) plus the
// cross-field rules the tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Quota.WarnThreshold >= c.Quota.CriticalThreshold {
		return fmt.Errorf("quota warn threshold %.2f must be below critical threshold %.2f",
			c.Quota.WarnThreshold, c.Quota.CriticalThreshold)
	}

	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry max delay %s is below base delay %s",
			c.Retry.MaxDelay, c.Retry.BaseDelay)
	}

	for name, src := range c.EnabledSources() {
		if src.BaseURL == "" {
			return fmt.Errorf("source %s enabled without base_url", name)
		}
		if src.APIKeyRef == "" {
			return fmt.Errorf("source %s enabled without api_key_ref", name)
		}
	}

	return nil
}

// EnabledSources returns the enabled provider configs keyed by source name.
func (c *Config) EnabledSources() map[string]SourceConfig {
	enabled := make(map[string]SourceConfig)
	for name, src := range map[string]SourceConfig{
		"tiingo":   c.Sources.Tiingo,
		"finnhub":  c.Sources.Finnhub,
		"newsdata": c.Sources.Newsdata,
	} {
		if src.Enabled {
			enabled[name] = src
		}
	}
	return enabled
}
