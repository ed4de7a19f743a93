// Newsgate - Resilient Financial News Ingestion Pipeline
// Copyright 2026 Newsgate contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/newsgate/newsgate

// Package config loads and validates the Newsgate configuration using
// layered sources: struct defaults, an optional YAML file, and environment
// variables (highest priority).
package config

import "time"

// Config is the root configuration for the ingest daemon.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Store      StoreConfig      `koanf:"store"`
	NATS       NATSConfig       `koanf:"nats"`
	Sources    SourcesConfig    `koanf:"sources"`
	Topics     []string         `koanf:"topics"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Retry      RetryConfig      `koanf:"retry"`
	Breaker    BreakerConfig    `koanf:"breaker"`
	Quota      QuotaConfig      `koanf:"quota"`
	Publisher  PublisherConfig  `koanf:"publisher"`
	Reconciler ReconcilerConfig `koanf:"reconciler"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StoreConfig configures the BadgerDB durable store.
type StoreConfig struct {
	Path          string `koanf:"path" validate:"required"`
	InMemory      bool   `koanf:"in_memory"`
	RetentionDays int    `koanf:"retention_days" validate:"min=1"`
}

// NATSConfig configures the message bus connection and the optional
// embedded JetStream server.
type NATSConfig struct {
	Enabled             bool   `koanf:"enabled"`
	URL                 string `koanf:"url"`
	EmbeddedServer      bool   `koanf:"embedded_server"`
	StoreDir            string `koanf:"store_dir"`
	MaxMemory           int64  `koanf:"max_memory"`
	MaxStore            int64  `koanf:"max_store"`
	StreamName          string `koanf:"stream_name"`
	Topic               string `koanf:"topic"`
	StreamRetentionDays int    `koanf:"stream_retention_days" validate:"min=1"`
}

// SourceConfig configures one external news provider.
type SourceConfig struct {
	Enabled       bool    `koanf:"enabled"`
	BaseURL       string  `koanf:"base_url"`
	APIKeyRef     string  `koanf:"api_key_ref"`
	RatePerSecond float64 `koanf:"rate_per_second" validate:"min=0"`
	QuotaLimit    int64   `koanf:"quota_limit" validate:"min=0"`
	QuotaPeriod   string  `koanf:"quota_period" validate:"oneof=minute day month"`
}

// SourcesConfig holds per-provider adapter settings.
type SourcesConfig struct {
	Tiingo   SourceConfig `koanf:"tiingo"`
	Finnhub  SourceConfig `koanf:"finnhub"`
	Newsdata SourceConfig `koanf:"newsdata"`
}

// PipelineConfig drives the orchestrator and scheduler.
type PipelineConfig struct {
	Interval          time.Duration `koanf:"interval" validate:"min=10s"`
	InvocationTimeout time.Duration `koanf:"invocation_timeout" validate:"min=1s"`
	Workers           int           `koanf:"workers" validate:"min=1,max=64"`
	RunOnStartup      bool          `koanf:"run_on_startup"`
	ModelVersion      string        `koanf:"model_version" validate:"required"`
}

// RetryConfig bounds adapter retries for transient failures.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts" validate:"min=1,max=10"`
	BaseDelay         time.Duration `koanf:"base_delay" validate:"min=10ms"`
	MaxDelay          time.Duration `koanf:"max_delay"`
	HTTPTimeout       time.Duration `koanf:"http_timeout" validate:"min=1s"`
	DefaultRetryAfter time.Duration `koanf:"default_retry_after"`
}

// BreakerConfig tunes the per-source circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold" validate:"min=1"`
	ResetAfter       time.Duration `koanf:"reset_after" validate:"min=1s"`
}

// QuotaConfig tunes the quota tracker thresholds and persistence cadence.
type QuotaConfig struct {
	WarnThreshold     float64       `koanf:"warn_threshold" validate:"gt=0,lt=1"`
	CriticalThreshold float64       `koanf:"critical_threshold" validate:"gt=0,lte=1"`
	FlushInterval     time.Duration `koanf:"flush_interval" validate:"min=1s"`
}

// PublisherConfig tunes batch publishing.
type PublisherConfig struct {
	BatchLimit int `koanf:"batch_limit" validate:"min=1,max=100"`
}

// ReconcilerConfig tunes the self-healing pass.
type ReconcilerConfig struct {
	StalenessThreshold time.Duration `koanf:"staleness_threshold" validate:"min=1m"`
	MaxItems           int           `koanf:"max_items" validate:"min=1"`
}

// MetricsConfig configures the observability HTTP listener.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// defaultConfig returns the built-in defaults, overridden by file and env.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Path:          "/data/newsgate",
			RetentionDays: 30,
		},
		NATS: NATSConfig{
			Enabled:             true,
			URL:                 "nats://127.0.0.1:4222",
			EmbeddedServer:      true,
			StoreDir:            "/data/nats/jetstream",
			MaxMemory:           1 << 30,  // 1GB
			MaxStore:            10 << 30, // 10GB
			StreamName:          "NEWS",
			Topic:               "news.analysis",
			StreamRetentionDays: 7,
		},
		Sources: SourcesConfig{
			Tiingo: SourceConfig{
				Enabled:       false,
				BaseURL:       "https://api.tiingo.com",
				APIKeyRef:     "env:TIINGO_API_KEY",
				RatePerSecond: 1,
				QuotaLimit:    500,
				QuotaPeriod:   "day",
			},
			Finnhub: SourceConfig{
				Enabled:       false,
				BaseURL:       "https://finnhub.io",
				APIKeyRef:     "env:FINNHUB_API_KEY",
				RatePerSecond: 1,
				QuotaLimit:    60,
				QuotaPeriod:   "minute",
			},
			Newsdata: SourceConfig{
				Enabled:       false,
				BaseURL:       "https://newsdata.io",
				APIKeyRef:     "env:NEWSDATA_API_KEY",
				RatePerSecond: 0.5,
				QuotaLimit:    200,
				QuotaPeriod:   "day",
			},
		},
		Topics: []string{},
		Pipeline: PipelineConfig{
			Interval:          15 * time.Minute,
			InvocationTimeout: 5 * time.Minute,
			Workers:           4,
			RunOnStartup:      true,
			ModelVersion:      "sentiment-v2",
		},
		Retry: RetryConfig{
			MaxAttempts:       4,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          8 * time.Second,
			HTTPTimeout:       30 * time.Second,
			DefaultRetryAfter: 60 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetAfter:       2 * time.Minute,
		},
		Quota: QuotaConfig{
			WarnThreshold:     0.5,
			CriticalThreshold: 0.8,
			FlushInterval:     30 * time.Second,
		},
		Publisher: PublisherConfig{
			BatchLimit: 10,
		},
		Reconciler: ReconcilerConfig{
			StalenessThreshold: time.Hour,
			MaxItems:           100,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}
