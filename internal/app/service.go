// Package service wires the scoring pipeline from configuration and owns
// the lifecycle of its shared resources.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/revscore/internal/adapters/eventgate"
	"github.com/okian/revscore/internal/adapters/mq/worker"
	"github.com/okian/revscore/internal/adapters/mwapi"
	"github.com/okian/revscore/internal/config"
	"github.com/okian/revscore/internal/domain/model"
	"github.com/okian/revscore/internal/domain/scoring"
	"github.com/okian/revscore/internal/retry"
	"github.com/okian/revscore/pkg/logger"
	"github.com/okian/revscore/pkg/metrics"
)

const shutdownTimeout = 30 * time.Second

// ErrNotStarted is returned by Score before Start.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies for revision scoring.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Core components
	model    scoring.Model
	conns    *mwapi.ConnPool
	fetcher  *mwapi.Fetcher
	pool     *worker.Manager
	emitter  *eventgate.Emitter
	pipeline *Pipeline

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service for cfg. Nothing is opened until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads the model and opens the upstream connections, the worker
// pool and the event emitter.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	cfg := s.cfg

	kind, err := scoring.ParseKind(cfg.ModelKind)
	if err != nil {
		return err
	}
	m, err := scoring.New(kind,
		scoring.WithName(cfg.EffectiveModelName()),
		scoring.WithVersion(cfg.ModelVersion),
		scoring.WithWeightsFile(cfg.ModelPath),
	)
	if err != nil {
		return fmt.Errorf("load model: %w", err)
	}

	conns := mwapi.NewConnPool(cfg.MWAPITimeout())
	policy := retry.New(
		retry.WithMaxRetries(cfg.RetryMax),
		retry.WithBackoff(cfg.RetryInitial(), cfg.RetryMaxInterval()),
		retry.WithRetryHook(metrics.RecordUpstreamRetry),
		retry.WithLogger(s.logger.Named("retry")),
	)
	fetcher, err := mwapi.New(cfg.MWAPIURL,
		mwapi.WithHostHeader(cfg.MWAPIHostHeader),
		mwapi.WithUserAgent(cfg.UserAgent),
		mwapi.WithTimeout(cfg.MWAPITimeout()),
		mwapi.WithConnPool(conns),
		mwapi.WithRetryPolicy(policy),
	)
	if err != nil {
		return err
	}

	var popts []PipelineOption
	var pool *worker.Manager
	if cfg.ExtractionInPool || cfg.ScoringInPool {
		pool = worker.NewManager(cfg.WorkerPoolSize)
		if cfg.ExtractionInPool {
			popts = append(popts, WithExtractionPool(pool))
		}
		if cfg.ScoringInPool {
			popts = append(popts, WithScoringPool(pool))
		}
	}

	var emitter *eventgate.Emitter
	if cfg.EventGateURL != "" {
		emitter, err = eventgate.New(cfg.EventGateURL, m.Name(), m.Version(),
			eventgate.WithStream(cfg.EventStream),
			eventgate.WithUserAgent(cfg.UserAgent),
			eventgate.WithTimeout(cfg.EventGateTimeout()),
			eventgate.WithTLSBundle(cfg.TLSBundlePath),
		)
		if err != nil {
			if pool != nil {
				_ = pool.Shutdown(ctx)
			}
			_ = conns.Close()
			return err
		}
		popts = append(popts, WithEmitter(emitter))
	}

	s.model = m
	s.conns = conns
	s.fetcher = fetcher
	s.pool = pool
	s.emitter = emitter
	s.pipeline = NewPipeline(fetcher, m, popts...)
	s.started = true

	fields := []logger.Field{
		logger.String("model", m.Name()),
		logger.String("kind", m.Kind().String()),
		logger.String("version", m.Version()),
		logger.String("mwapi_url", cfg.MWAPIURL),
		logger.Bool("extraction_in_pool", cfg.ExtractionInPool),
		logger.Bool("scoring_in_pool", cfg.ScoringInPool),
		logger.Bool("events", emitter != nil),
	}
	if pool != nil {
		fields = append(fields, logger.Int("workers", pool.Size()))
	}
	s.logger.Info(ctx, "revscore service started", fields...)
	return nil
}

// Stop releases the worker pool and the upstream connections.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
		}
	}
	if err := s.conns.Close(); err != nil {
		s.logger.Warn(ctx, "close upstream connections", logger.Error(err))
	}
	s.started = false
	s.logger.Info(ctx, "revscore service stopped")
}

// Score runs the pipeline for one request.
func (s *Service) Score(ctx context.Context, req model.ScoringRequest) (model.ScoringResponse, error) {
	s.mu.RLock()
	p, started := s.pipeline, s.started
	s.mu.RUnlock()
	if !started {
		return nil, ErrNotStarted
	}
	return p.Score(ctx, req)
}

// ModelName returns the served model name, or "" before Start.
func (s *Service) ModelName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.model == nil {
		return ""
	}
	return s.model.Name()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":            s.started,
		"extraction_in_pool": s.cfg.ExtractionInPool,
		"scoring_in_pool":    s.cfg.ScoringInPool,
	}
	if s.started {
		stats["model"] = s.model.Name()
		stats["model_kind"] = s.model.Kind().String()
		stats["model_version"] = s.model.Version()
		stats["events"] = s.emitter != nil
		stats["upstream_clients_opened"] = s.conns.Opened()
		if s.pool != nil {
			stats["workers"] = s.pool.Size()
		}
	}
	return stats
}
