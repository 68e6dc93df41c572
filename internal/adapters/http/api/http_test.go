package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/revscore/internal/adapters/http/api"
	"github.com/okian/revscore/internal/domain/errkind"
	"github.com/okian/revscore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing
type mockScorer struct {
	name  string
	err   error
	calls []model.ScoringRequest
}

func (m *mockScorer) ModelName() string { return m.name }

func (m *mockScorer) Score(_ context.Context, req model.ScoringRequest) (model.ScoringResponse, error) {
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	pred := model.PredictionResult{Prediction: false, Probability: map[string]float64{"true": 0.1, "false": 0.9}}
	return model.NewScoringResponse(req.WikiID(), m.name, "0.5.1", req.RevID, pred, nil), nil
}

type mockStats struct{}

func (mockStats) GetStats() map[string]any { return map[string]any{"started": true, "model": "damaging"} }

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeError(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

func TestPredict(t *testing.T) {
	Convey("Given an API serving the damaging model", t, func() {
		scorer := &mockScorer{name: "damaging"}
		h := api.NewServer(scorer, mockStats{}).Routes()

		Convey("When a valid request is posted", func() {
			rec := post(h, "/v1/models/damaging:predict", `{"rev_id":12345,"lang":"en","extended_output":true}`)

			Convey("Then the score is returned under the wiki id", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(rec.Header().Get("Content-Type"), ShouldContainSubstring, "application/json")
				var resp model.ScoringResponse
				So(json.Unmarshal(rec.Body.Bytes(), &resp), ShouldBeNil)
				So(resp["enwiki"].Models["damaging"].Version, ShouldEqual, "0.5.1")
				So(resp["enwiki"].Scores["12345"]["damaging"].Score.Probability["false"], ShouldEqual, 0.9)
				So(scorer.calls, ShouldHaveLength, 1)
				So(scorer.calls[0].ExtendedOutput, ShouldBeTrue)
			})
		})

		Convey("When the request carries a triggering event", func() {
			rec := post(h, "/v1/models/damaging:predict", `{"rev_id":1,"lang":"en","event":{"database":"enwiki"}}`)

			Convey("Then the event is passed to the pipeline", func() {
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(scorer.calls[0].HasEvent(), ShouldBeTrue)
				So(scorer.calls[0].Event["database"], ShouldEqual, "enwiki")
			})
		})

		Convey("When the route names another model", func() {
			rec := post(h, "/v1/models/goodfaith:predict", `{"rev_id":1,"lang":"en"}`)

			Convey("Then it is not found", func() {
				So(rec.Code, ShouldEqual, http.StatusNotFound)
				So(decodeError(rec)["code"], ShouldEqual, "not_found")
				So(scorer.calls, ShouldBeEmpty)
			})
		})

		Convey("When the body is not JSON", func() {
			rec := post(h, "/v1/models/damaging:predict", `{"rev_id":`)

			Convey("Then it is a bad request", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeError(rec)["code"], ShouldEqual, "bad_request")
			})
		})

		Convey("When rev_id or lang is invalid", func() {
			for _, body := range []string{`{"rev_id":0,"lang":"en"}`, `{"rev_id":-4,"lang":"en"}`, `{"rev_id":5,"lang":" "}`, `{"rev_id":5}`, `{"rev_id":5,"lang":"en wiki/../x"}`} {
				rec := post(h, "/v1/models/damaging:predict", body)
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeError(rec)["code"], ShouldEqual, "invalid_input")
			}
			So(scorer.calls, ShouldBeEmpty)
		})

		Convey("When the pipeline rejects the revision", func() {
			scorer.err = errkind.NewKind("fetch documents", errkind.ErrInvalidInput, "revision 999999999999 does not exist")
			rec := post(h, "/v1/models/damaging:predict", `{"rev_id":999999999999,"lang":"en"}`)

			Convey("Then the status is 400 with the message", func() {
				So(rec.Code, ShouldEqual, http.StatusBadRequest)
				So(decodeError(rec)["message"], ShouldContainSubstring, "does not exist")
			})
		})

		Convey("When inference fails", func() {
			scorer.err = errkind.NewKind("fetch documents", errkind.ErrInference, "upstream unavailable")
			rec := post(h, "/v1/models/damaging:predict", `{"rev_id":1,"lang":"en"}`)

			Convey("Then the status is 500 with the escalation hint", func() {
				So(rec.Code, ShouldEqual, http.StatusInternalServerError)
				body := decodeError(rec)
				So(body["code"], ShouldEqual, "inference_error")
				So(body["message"], ShouldContainSubstring, "please contact the ML team")
			})
		})

		Convey("When event delivery fails", func() {
			scorer.err = errors.New("emit score event: connection refused")
			rec := post(h, "/v1/models/damaging:predict", `{"rev_id":1,"lang":"en","event":{}}`)

			Convey("Then the status is 500", func() {
				So(rec.Code, ShouldEqual, http.StatusInternalServerError)
				So(decodeError(rec)["code"], ShouldEqual, "internal_error")
			})
		})

		Convey("When the method is not POST", func() {
			rec := get(h, "/v1/models/damaging:predict")
			So(rec.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestOperationalEndpoints(t *testing.T) {
	Convey("Given the API router", t, func() {
		h := api.NewServer(&mockScorer{name: "damaging"}, mockStats{}).Routes()

		Convey("Then /healthz reports ok", func() {
			rec := get(h, "/healthz")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(decodeError(rec)["status"], ShouldEqual, "ok")
		})

		Convey("Then /stats returns the provider stats", func() {
			rec := get(h, "/stats")
			So(rec.Code, ShouldEqual, http.StatusOK)
			var stats map[string]any
			So(json.Unmarshal(rec.Body.Bytes(), &stats), ShouldBeNil)
			So(stats["model"], ShouldEqual, "damaging")
		})

		Convey("Then /metrics exposes the HTTP counters", func() {
			_ = get(h, "/healthz")
			rec := get(h, "/metrics")
			So(rec.Code, ShouldEqual, http.StatusOK)
			So(rec.Body.String(), ShouldContainSubstring, "http_requests_total")
		})

		Convey("Then unknown paths are not found", func() {
			So(get(h, "/nope").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}
