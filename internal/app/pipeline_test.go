package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/revscore/internal/adapters/mq/worker"
	service "github.com/okian/revscore/internal/app"
	"github.com/okian/revscore/internal/domain/errkind"
	"github.com/okian/revscore/internal/domain/features"
	"github.com/okian/revscore/internal/domain/model"
	"github.com/okian/revscore/internal/domain/scoring"
	"github.com/okian/revscore/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// Mock implementations for testing.
type mockFetcher struct {
	mu    sync.Mutex
	calls int
	extra []bool
	err   error
	edit  func(c *features.Cache)
}

func (f *mockFetcher) Fetch(_ context.Context, revID int64, _ string, extra bool) (*features.Cache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.extra = append(f.extra, extra)
	if f.err != nil {
		return nil, f.err
	}
	c := features.NewCache()
	c.PutRevision(features.Revision{
		RevID: revID, ParentID: 100, PageID: 7, PageTitle: "Go", User: "Alice",
		Timestamp: time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC), Comment: "lol",
		Size: 140, ContentModel: "wikitext", Content: "== A ==\n[[x]] stupid stuff\n<ref>y</ref>",
	})
	c.PutRevision(features.Revision{RevID: 100, PageID: 7, Size: 100, ContentModel: "wikitext", Content: "== A =="})
	c.PutUser(features.User{Name: "Alice", EditCount: 3, Registration: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	if f.edit != nil {
		f.edit(c)
	}
	return c, nil
}

type mockEmitter struct {
	mu     sync.Mutex
	err    error
	revIDs []int64
	events []map[string]any
	preds  []model.PredictionResult
}

func (e *mockEmitter) Emit(_ context.Context, revID int64, trigger map[string]any, pred model.PredictionResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.revIDs = append(e.revIDs, revID)
	e.events = append(e.events, trigger)
	e.preds = append(e.preds, pred)
	return e.err
}

// crashingModel panics in Score while crash is set.
type crashingModel struct {
	scoring.Model
	crash atomic.Bool
	calls atomic.Int32
}

func (m *crashingModel) Score(v features.Vector) (model.PredictionResult, error) {
	m.calls.Add(1)
	if m.crash.Load() {
		panic("scoring worker died")
	}
	return m.Model.Score(v)
}

type stageLog struct {
	mu     sync.Mutex
	stages []service.Stage
}

func (l *stageLog) hook(_ context.Context, _ int64, s service.Stage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stages = append(l.stages, s)
}

func (l *stageLog) get() []service.Stage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]service.Stage(nil), l.stages...)
}

func damaging(t *testing.T) scoring.Model {
	t.Helper()
	m, err := scoring.New(scoring.KindDamaging)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestPipeline_Score(t *testing.T) {
	for _, mode := range []string{"inline", "pool"} {
		Convey("Given a pipeline running "+mode, t, func() {
			ctx := context.Background()
			fetcher := &mockFetcher{}
			m := damaging(t)
			log := &stageLog{}
			opts := []service.PipelineOption{service.WithStageHook(log.hook)}
			if mode == "pool" {
				pool := worker.NewManager(2)
				defer func() { _ = pool.Shutdown(ctx) }()
				opts = append(opts, service.WithExtractionPool(pool), service.WithScoringPool(pool))
			}
			p := service.NewPipeline(fetcher, m, opts...)

			Convey("When scoring without extended output", func() {
				resp, err := p.Score(ctx, model.ScoringRequest{RevID: 200, Lang: "en"})

				Convey("Then the response has no features", func() {
					So(err, ShouldBeNil)
					s, ok := resp.Score("enwiki", 200, "damaging")
					So(ok, ShouldBeTrue)
					So(s.Features, ShouldBeNil)
					So(s.Score.Probability, ShouldContainKey, "true")
					So(resp["enwiki"].Models["damaging"].Version, ShouldEqual, scoring.DefaultVersion)
				})

				Convey("And the stages run in order", func() {
					So(log.get(), ShouldResemble, []service.Stage{
						service.StageFetching, service.StageExtractingPrimary,
						service.StageScoring, service.StageAssembling, service.StageDone,
					})
					So(fetcher.extra, ShouldResemble, []bool{true})
				})
			})

			Convey("When scoring with extended output", func() {
				resp, err := p.Score(ctx, model.ScoringRequest{RevID: 200, Lang: "en", ExtendedOutput: true})

				Convey("Then features are keyed exactly by the bare feature names", func() {
					So(err, ShouldBeNil)
					s, _ := resp.Score("enwiki", 200, "damaging")
					keys := make([]string, 0, len(s.Features))
					for k := range s.Features {
						keys = append(keys, k)
					}
					So(keys, ShouldHaveLength, len(m.BareFeatures()))
					for _, b := range m.BareFeatures() {
						So(s.Features, ShouldContainKey, b)
					}
					So(log.get(), ShouldContain, service.StageExtractingExtended)
				})

				Convey("And the bare values match the primary computation", func() {
					s, _ := resp.Score("enwiki", 200, "damaging")
					cache, _ := (&mockFetcher{}).Fetch(ctx, 200, "en", true)
					ex, err := features.Extract(200, m.Features(), cache)
					So(err, ShouldBeNil)
					for name, v := range s.Features {
						pv, ok := ex.Vector.Get(name)
						So(ok, ShouldBeTrue)
						So(v, ShouldEqual, pv)
					}
				})
			})

			Convey("When the same request is scored twice", func() {
				req := model.ScoringRequest{RevID: 200, Lang: "en", ExtendedOutput: true}
				a, errA := p.Score(ctx, req)
				b, errB := p.Score(ctx, req)

				Convey("Then the responses are identical", func() {
					So(errA, ShouldBeNil)
					So(errB, ShouldBeNil)
					So(a, ShouldResemble, b)
				})
			})

			Convey("When the revision text was deleted", func() {
				fetcher.edit = func(c *features.Cache) {
					r, _ := c.Revision(200)
					r.TextHidden = true
					c.PutRevision(r)
				}
				_, err := p.Score(ctx, model.ScoringRequest{RevID: 200, Lang: "en"})

				Convey("Then extraction fails as invalid input", func() {
					So(errkind.IsInvalidInput(err), ShouldBeTrue)
					So(errors.Is(err, features.ErrMissingResource), ShouldBeTrue)
					stages := log.get()
					So(stages[len(stages)-1], ShouldEqual, service.StageError)
				})
			})

			Convey("When the content is not wikitext", func() {
				fetcher.edit = func(c *features.Cache) {
					r, _ := c.Revision(200)
					r.ContentModel = "json"
					c.PutRevision(r)
				}
				_, err := p.Score(ctx, model.ScoringRequest{RevID: 200, Lang: "en"})

				Convey("Then extraction fails as invalid input", func() {
					So(errkind.IsInvalidInput(err), ShouldBeTrue)
					So(errors.Is(err, features.ErrUnexpectedContent), ShouldBeTrue)
				})
			})
		})
	}

	Convey("Given a pipeline with a failing fetcher", t, func() {
		ctx := context.Background()
		log := &stageLog{}

		Convey("When the fetcher reports a bad revision", func() {
			fetcher := &mockFetcher{err: errkind.NewKind("fetch documents", errkind.ErrInvalidInput, "revision 999999999999 does not exist")}
			p := service.NewPipeline(fetcher, damaging(t), service.WithStageHook(log.hook))
			_, err := p.Score(ctx, model.ScoringRequest{RevID: 999999999999, Lang: "en"})

			Convey("Then the error keeps its kind and no extraction runs", func() {
				So(errkind.IsInvalidInput(err), ShouldBeTrue)
				So(log.get(), ShouldResemble, []service.Stage{service.StageFetching, service.StageError})
			})
		})

		Convey("When the request itself is invalid", func() {
			fetcher := &mockFetcher{}
			p := service.NewPipeline(fetcher, damaging(t))
			_, err := p.Score(ctx, model.ScoringRequest{RevID: -1, Lang: "en"})

			Convey("Then the fetcher is never called", func() {
				So(errkind.IsInvalidInput(err), ShouldBeTrue)
				So(fetcher.calls, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a model that needs no extra documents", t, func() {
		fetcher := &mockFetcher{}
		aq, err := scoring.New(scoring.KindArticleQuality)
		So(err, ShouldBeNil)
		p := service.NewPipeline(fetcher, aq)

		resp, err := p.Score(context.Background(), model.ScoringRequest{RevID: 200, Lang: "de"})
		So(err, ShouldBeNil)
		So(fetcher.extra, ShouldResemble, []bool{false})
		_, ok := resp.Score("dewiki", 200, "articlequality")
		So(ok, ShouldBeTrue)
	})
}

func TestPipeline_Events(t *testing.T) {
	Convey("Given a pipeline with an emitter", t, func() {
		ctx := context.Background()
		emitter := &mockEmitter{}
		log := &stageLog{}
		p := service.NewPipeline(&mockFetcher{}, damaging(t), service.WithEmitter(emitter), service.WithStageHook(log.hook))
		trigger := map[string]any{"database": "enwiki", "rev_id": float64(200)}

		Convey("When a request carries a triggering event", func() {
			_, err := p.Score(ctx, model.ScoringRequest{RevID: 200, Lang: "en", Event: trigger})

			Convey("Then the event is emitted once with the prediction", func() {
				So(err, ShouldBeNil)
				So(emitter.events, ShouldHaveLength, 1)
				So(emitter.events[0], ShouldResemble, trigger)
				So(emitter.revIDs, ShouldResemble, []int64{200})
				So(emitter.preds[0].Probability, ShouldContainKey, "true")
				So(log.get(), ShouldContain, service.StageEmitting)
			})
		})

		Convey("When a request has no triggering event", func() {
			_, err := p.Score(ctx, model.ScoringRequest{RevID: 200, Lang: "en"})

			Convey("Then nothing is emitted", func() {
				So(err, ShouldBeNil)
				So(emitter.events, ShouldBeEmpty)
			})
		})

		Convey("When delivery of the event fails", func() {
			emitter.err = errors.New("connection refused")
			resp, err := p.Score(ctx, model.ScoringRequest{RevID: 200, Lang: "en", Event: trigger})

			Convey("Then the whole request fails after the score was computed", func() {
				So(resp, ShouldBeNil)
				So(errors.Is(err, emitter.err), ShouldBeTrue)
				So(errkind.KindOf(err), ShouldBeNil)
				So(emitter.preds, ShouldHaveLength, 1)
				So(log.get(), ShouldResemble, []service.Stage{
					service.StageFetching, service.StageExtractingPrimary, service.StageScoring,
					service.StageAssembling, service.StageEmitting, service.StageError,
				})
			})
		})
	})
}

func TestPipeline_PoolRecovery(t *testing.T) {
	Convey("Given a pipeline scoring on a worker pool", t, func() {
		ctx := context.Background()
		pool := worker.NewManager(2)
		defer func() { _ = pool.Shutdown(ctx) }()
		cm := &crashingModel{Model: damaging(t)}
		p := service.NewPipeline(&mockFetcher{}, cm, service.WithScoringPool(pool))

		Convey("When request A crashes a worker", func() {
			cm.crash.Store(true)
			_, errA := p.Score(ctx, model.ScoringRequest{RevID: 200, Lang: "en"})
			cm.crash.Store(false)

			Convey("Then A fails as an inference error", func() {
				So(errkind.IsInference(errA), ShouldBeTrue)
				So(errors.Is(errA, worker.ErrBrokenPool), ShouldBeTrue)
			})

			Convey("And request B succeeds on the fresh pool", func() {
				resp, errB := p.Score(ctx, model.ScoringRequest{RevID: 200, Lang: "en"})
				So(errB, ShouldBeNil)
				_, ok := resp.Score("enwiki", 200, "damaging")
				So(ok, ShouldBeTrue)
				So(cm.calls.Load(), ShouldEqual, 2)
			})
		})
	})
}
