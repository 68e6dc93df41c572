package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/revscore/internal/adapters/mq/worker"
	"github.com/okian/revscore/internal/domain/errkind"
	"github.com/okian/revscore/internal/domain/features"
	"github.com/okian/revscore/internal/domain/model"
	"github.com/okian/revscore/internal/domain/scoring"
	"github.com/okian/revscore/pkg/logger"
	"github.com/okian/revscore/pkg/metrics"
)

// Stage is a state of the per-request pipeline.
type Stage string

// Pipeline stages, in order. StageError is reachable from every stage.
const (
	StageFetching           Stage = "fetching"
	StageExtractingPrimary  Stage = "extracting_primary"
	StageExtractingExtended Stage = "extracting_extended"
	StageScoring            Stage = "scoring"
	StageAssembling         Stage = "assembling"
	StageEmitting           Stage = "emitting"
	StageDone               Stage = "done"
	StageError              Stage = "error"
)

// Fetcher loads the documents of a revision into a fresh cache.
type Fetcher interface {
	Fetch(ctx context.Context, revID int64, lang string, extra bool) (*features.Cache, error)
}

// Emitter posts the score event derived from a triggering event.
type Emitter interface {
	Emit(ctx context.Context, revID int64, trigger map[string]any, pred model.PredictionResult) error
}

// Pipeline scores one revision per call: fetch, extract, score, assemble
// and optionally emit.
type Pipeline struct {
	fetcher     Fetcher
	model       scoring.Model
	emitter     Emitter
	extractPool *worker.Manager
	scorePool   *worker.Manager
	onStage     func(ctx context.Context, revID int64, s Stage)
	logger      logger.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithEmitter enables score events for requests carrying a triggering
// event.
func WithEmitter(e Emitter) PipelineOption {
	return func(p *Pipeline) {
		p.emitter = e
	}
}

// WithExtractionPool runs feature extraction on m instead of inline.
func WithExtractionPool(m *worker.Manager) PipelineOption {
	return func(p *Pipeline) {
		p.extractPool = m
	}
}

// WithScoringPool runs scoring on m instead of inline.
func WithScoringPool(m *worker.Manager) PipelineOption {
	return func(p *Pipeline) {
		p.scorePool = m
	}
}

// WithStageHook observes every stage transition.
func WithStageHook(fn func(ctx context.Context, revID int64, s Stage)) PipelineOption {
	return func(p *Pipeline) {
		p.onStage = fn
	}
}

// WithPipelineLogger sets a custom logger.
func WithPipelineLogger(l logger.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates a pipeline for m.
func NewPipeline(f Fetcher, m scoring.Model, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{fetcher: f, model: m}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("pipeline")
	}
	return p
}

// Model returns the served model.
func (p *Pipeline) Model() scoring.Model { return p.model }

// Score runs the pipeline for req.
//
// Errors are errkind.ErrInvalidInput or errkind.ErrInference, except a
// failed score event: it is returned as a plain error and fails the
// request although the prediction was computed.
func (p *Pipeline) Score(ctx context.Context, req model.ScoringRequest) (model.ScoringResponse, error) {
	start := time.Now()
	resp, err := p.score(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = kindLabel(err)
	}
	metrics.RecordRequest(p.model.Name(), outcome, float64(time.Since(start).Milliseconds()))
	return resp, err
}

func (p *Pipeline) score(ctx context.Context, req model.ScoringRequest) (model.ScoringResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, p.fail(ctx, req.RevID, StageFetching, err)
	}
	m := p.model

	p.enter(ctx, req.RevID, StageFetching)
	cache, err := p.fetcher.Fetch(ctx, req.RevID, req.Lang, m.FetchExtraInfo())
	if err != nil {
		return nil, p.fail(ctx, req.RevID, StageFetching, err)
	}

	p.enter(ctx, req.RevID, StageExtractingPrimary)
	primary, err := p.extract(ctx, req.RevID, m.Features(), cache)
	if err != nil {
		return nil, p.fail(ctx, req.RevID, StageExtractingPrimary, err)
	}

	var extended map[string]float64
	if req.ExtendedOutput {
		p.enter(ctx, req.RevID, StageExtractingExtended)
		// The primary snapshot carries its computed values, so the bare
		// subset is read back rather than recomputed.
		bare, err := p.extract(ctx, req.RevID, m.BareFeatures(), primary.Cache)
		if err != nil {
			return nil, p.fail(ctx, req.RevID, StageExtractingExtended, err)
		}
		extended = bare.Vector.Map()
	}

	p.enter(ctx, req.RevID, StageScoring)
	pred, err := offload(ctx, p.scorePool, func() (model.PredictionResult, error) {
		return m.Score(primary.Vector)
	})
	if err != nil {
		return nil, p.fail(ctx, req.RevID, StageScoring, asInference("score revision", err))
	}

	p.enter(ctx, req.RevID, StageAssembling)
	resp := model.NewScoringResponse(req.WikiID(), m.Name(), m.Version(), req.RevID, pred, extended)

	if req.HasEvent() {
		if p.emitter == nil {
			p.logger.Debug(ctx, "triggering event ignored, emission disabled", logger.Int64("rev_id", req.RevID))
		} else {
			p.enter(ctx, req.RevID, StageEmitting)
			if err := p.emitter.Emit(ctx, req.RevID, req.Event, pred); err != nil {
				return nil, p.fail(ctx, req.RevID, StageEmitting, fmt.Errorf("emit score event: %w", err))
			}
		}
	}

	p.enter(ctx, req.RevID, StageDone)
	return resp, nil
}

func (p *Pipeline) extract(ctx context.Context, revID int64, names []string, cache *features.Cache) (features.Extraction, error) {
	ex, err := offload(ctx, p.extractPool, func() (features.Extraction, error) {
		return features.Extract(revID, names, cache)
	})
	if err == nil {
		return ex, nil
	}
	const op = "extract features"
	switch {
	case errkind.KindOf(err) != nil:
		return features.Extraction{}, err
	case errors.Is(err, features.ErrMissingResource), errors.Is(err, features.ErrUnexpectedContent):
		return features.Extraction{}, errkind.WrapKind(op, errkind.ErrInvalidInput, err)
	default:
		return features.Extraction{}, errkind.WrapKind(op, errkind.ErrInference, err)
	}
}

// offload runs fn on pool, or inline when pool is nil.
func offload[T any](ctx context.Context, pool *worker.Manager, fn func() (T, error)) (T, error) {
	if pool == nil {
		return fn()
	}
	return worker.Run(ctx, pool, fn)
}

func asInference(op string, err error) error {
	if errkind.KindOf(err) != nil {
		return err
	}
	return errkind.WrapKind(op, errkind.ErrInference, err)
}

func (p *Pipeline) enter(ctx context.Context, revID int64, s Stage) {
	if p.onStage != nil {
		p.onStage(ctx, revID, s)
	}
}

// fail logs err with its full cause and moves the request to StageError.
func (p *Pipeline) fail(ctx context.Context, revID int64, stage Stage, err error) error {
	kind := kindLabel(err)
	metrics.RecordStageFailure(string(stage), kind)
	fields := []logger.Field{
		logger.Int64("rev_id", revID),
		logger.String("stage", string(stage)),
		logger.String("kind", kind),
		logger.Error(err),
	}
	if errkind.IsInvalidInput(err) {
		p.logger.Info(ctx, "request rejected", fields...)
	} else {
		p.logger.Error(ctx, "request failed", fields...)
	}
	p.enter(ctx, revID, StageError)
	return err
}

func kindLabel(err error) string {
	switch errkind.KindOf(err) {
	case errkind.ErrInvalidInput:
		return "invalid_input"
	case errkind.ErrInference:
		return "inference"
	default:
		return "error"
	}
}
