// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, first hit wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/newsgate/config.yaml",
	"/etc/newsgate/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources:
//  1. struct defaults
//  2. optional YAML config file
//  3. environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists config paths that accept comma-separated env values.
var sliceConfigPaths = []string{
	"topics",
}

// processSliceFields converts comma-separated env strings to slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped so stray environment noise cannot leak
// into the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",

		// Durable store
		"store_path":           "store.path",
		"store_in_memory":      "store.in_memory",
		"store_retention_days": "store.retention_days",

		// NATS / message bus
		"nats_enabled":        "nats.enabled",
		"nats_url":            "nats.url",
		"nats_embedded":       "nats.embedded_server",
		"nats_store_dir":      "nats.store_dir",
		"nats_max_memory":     "nats.max_memory",
		"nats_max_store":      "nats.max_store",
		"nats_stream_name":    "nats.stream_name",
		"nats_topic":          "nats.topic",
		"nats_retention_days": "nats.stream_retention_days",

		// Sources
		"tiingo_enabled":          "sources.tiingo.enabled",
		"tiingo_base_url":         "sources.tiingo.base_url",
		"tiingo_api_key_ref":      "sources.tiingo.api_key_ref",
		"tiingo_rate_per_second":  "sources.tiingo.rate_per_second",
		"tiingo_quota_limit":      "sources.tiingo.quota_limit",
		"tiingo_quota_period":     "sources.tiingo.quota_period",
		"finnhub_enabled":         "sources.finnhub.enabled",
		"finnhub_base_url":        "sources.finnhub.base_url",
		"finnhub_api_key_ref":     "sources.finnhub.api_key_ref",
		"finnhub_rate_per_second": "sources.finnhub.rate_per_second",
		"finnhub_quota_limit":     "sources.finnhub.quota_limit",
		"finnhub_quota_period":    "sources.finnhub.quota_period",
		"newsdata_enabled":        "sources.newsdata.enabled",
		"newsdata_base_url":       "sources.newsdata.base_url",
		"newsdata_api_key_ref":    "sources.newsdata.api_key_ref",
		"newsdata_rate_per_sec":   "sources.newsdata.rate_per_second",
		"newsdata_quota_limit":    "sources.newsdata.quota_limit",
		"newsdata_quota_period":   "sources.newsdata.quota_period",

		// Topics (comma-separated)
		"topics": "topics",

		// Pipeline
		"pipeline_interval":       "pipeline.interval",
		"pipeline_timeout":        "pipeline.invocation_timeout",
		"pipeline_workers":        "pipeline.workers",
		"pipeline_run_on_startup": "pipeline.run_on_startup",
		"model_version":           "pipeline.model_version",

		// Retry
		"retry_max_attempts":  "retry.max_attempts",
		"retry_base_delay":    "retry.base_delay",
		"retry_max_delay":     "retry.max_delay",
		"http_timeout":        "retry.http_timeout",
		"default_retry_after": "retry.default_retry_after",

		// Circuit breaker
		"breaker_failure_threshold": "breaker.failure_threshold",
		"breaker_reset_after":       "breaker.reset_after",

		// Quota tracker
		"quota_warn_threshold":     "quota.warn_threshold",
		"quota_critical_threshold": "quota.critical_threshold",
		"quota_flush_interval":     "quota.flush_interval",

		// Publisher
		"publish_batch_limit": "publisher.batch_limit",

		// Reconciler
		"selfheal_staleness": "reconciler.staleness_threshold",
		"selfheal_max_items": "reconciler.max_items",

		// Metrics
		"metrics_enabled": "metrics.enabled",
		"metrics_addr":    "metrics.addr",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
