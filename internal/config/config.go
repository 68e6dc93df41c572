// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults live in New; Load layers a YAML file and env vars on top.
// - Durations are configured in milliseconds and exposed as time.Duration
//   through accessor methods.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"time"

	"github.com/okian/revscore/internal/adapters/mq/worker"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// MWAPIURL is the base URL of the upstream document API.
	MWAPIURL string `koanf:"mwapi_url"`

	// MWAPIHostHeader overrides the Host header sent upstream. "{lang}" is
	// replaced with the request language.
	MWAPIHostHeader string `koanf:"mwapi_host_header"`

	// MWAPITimeoutMS bounds every single upstream call.
	MWAPITimeoutMS int `koanf:"mwapi_timeout_ms"`

	// RetryMax is the number of retries after the first attempt.
	RetryMax int `koanf:"retry_max"`

	// RetryInitialMS and RetryMaxIntervalMS shape the exponential backoff.
	RetryInitialMS     int `koanf:"retry_initial_ms"`
	RetryMaxIntervalMS int `koanf:"retry_max_interval_ms"`

	// WorkerPoolSize sets the number of pool workers.
	WorkerPoolSize int `koanf:"worker_pool_size"`

	// ExtractionInPool and ScoringInPool offload those stages to the pool.
	ExtractionInPool bool `koanf:"extraction_in_pool"`
	ScoringInPool    bool `koanf:"scoring_in_pool"`

	// EventGateURL is the event-ingestion endpoint. Empty disables emission.
	EventGateURL string `koanf:"eventgate_url"`

	// EventGateTimeoutMS bounds one event post.
	EventGateTimeoutMS int `koanf:"eventgate_timeout_ms"`

	// EventStream names the destination stream. Defaults per model.
	EventStream string `koanf:"eventgate_stream"`

	// TLSBundlePath points at the CA bundle used for event posting.
	TLSBundlePath string `koanf:"tls_bundle_path"`

	// UserAgent is sent on every outbound request.
	UserAgent string `koanf:"user_agent"`

	// ModelKind selects the model implementation: damaging, goodfaith or
	// articlequality.
	ModelKind string `koanf:"model_kind"`

	// ModelName is reported in responses; defaults to ModelKind.
	ModelName string `koanf:"model_name"`

	// ModelVersion is reported in responses and events.
	ModelVersion string `koanf:"model_version"`

	// ModelPath optionally points at a YAML weights file.
	ModelPath string `koanf:"model_path"`
}

// Default configuration values.
const (
	defaultAddr           = ":8080"
	defaultMWAPIURL       = "https://api-ro.discovery.wmnet"
	defaultTimeoutMS      = 5000
	defaultRetryMax       = 3
	defaultRetryInitialMS = 1000
	defaultRetryMaxIntMS  = 60000
	defaultTLSBundlePath  = "/etc/ssl/certs/ca-certificates.crt"
	defaultUserAgent      = "WMF ML revscore"
	defaultModelKind      = "damaging"
	defaultModelVersion   = "0.5.1"
)

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               defaultAddr,
		MWAPIURL:           defaultMWAPIURL,
		MWAPITimeoutMS:     defaultTimeoutMS,
		RetryMax:           defaultRetryMax,
		RetryInitialMS:     defaultRetryInitialMS,
		RetryMaxIntervalMS: defaultRetryMaxIntMS,
		WorkerPoolSize:     DefaultWorkerPoolSize(),
		EventGateTimeoutMS: defaultTimeoutMS,
		TLSBundlePath:      defaultTLSBundlePath,
		UserAgent:          defaultUserAgent,
		ModelKind:          defaultModelKind,
		ModelVersion:       defaultModelVersion,
	}
}

// DefaultWorkerPoolSize returns min(32, NumCPU+4).
func DefaultWorkerPoolSize() int {
	return worker.DefaultSize()
}

// MWAPITimeout returns the per-call upstream timeout.
func (c *Config) MWAPITimeout() time.Duration {
	return time.Duration(c.MWAPITimeoutMS) * time.Millisecond
}

// RetryInitial returns the first backoff interval.
func (c *Config) RetryInitial() time.Duration {
	return time.Duration(c.RetryInitialMS) * time.Millisecond
}

// RetryMaxInterval returns the backoff cap.
func (c *Config) RetryMaxInterval() time.Duration {
	return time.Duration(c.RetryMaxIntervalMS) * time.Millisecond
}

// EventGateTimeout returns the per-post event timeout.
func (c *Config) EventGateTimeout() time.Duration {
	return time.Duration(c.EventGateTimeoutMS) * time.Millisecond
}

// EffectiveModelName returns ModelName, falling back to ModelKind.
func (c *Config) EffectiveModelName() string {
	if c.ModelName != "" {
		return c.ModelName
	}
	return c.ModelKind
}
