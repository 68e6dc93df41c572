package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/revscore/internal/domain/scoring"
)

// Environment variable names and prefixes.
const (
	EnvConfigPath = "REVSCORE_CONFIG"
	envPrefix     = "REVSCORE_"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if REVSCORE_CONFIG is set
//  3. env (prefix REVSCORE_)
func Load(ctx context.Context) (*Config, error) {
	return LoadFile(ctx, os.Getenv(EnvConfigPath))
}

// LoadFile is Load with an explicit YAML file path. An empty path skips the
// file layer.
func LoadFile(_ context.Context, path string) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// REVSCORE_WORKER_POOL_SIZE -> worker_pool_size (flat keys).
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if _, err := scoring.ParseKind(c.ModelKind); err != nil {
		return fmt.Errorf("%w: model_kind: %w", ErrInvalidConfig, err)
	}
	if u, err := url.Parse(c.MWAPIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: mwapi_url %q is not an absolute URL", ErrInvalidConfig, c.MWAPIURL)
	}
	if c.EventGateURL != "" {
		if u, err := url.Parse(c.EventGateURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: eventgate_url %q is not an absolute URL", ErrInvalidConfig, c.EventGateURL)
		}
	}
	if c.MWAPITimeoutMS <= 0 {
		return fmt.Errorf("%w: mwapi_timeout_ms must be positive", ErrInvalidConfig)
	}
	if c.RetryMax < 0 {
		return fmt.Errorf("%w: retry_max must not be negative", ErrInvalidConfig)
	}
	if c.WorkerPoolSize <= 0 {
		c.WorkerPoolSize = DefaultWorkerPoolSize()
	}
	return nil
}
