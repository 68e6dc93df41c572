// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okian/revscore/internal/domain/errkind"
	"github.com/okian/revscore/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Score runs the scoring pipeline for one request.
	Score(ctx context.Context, req model.ScoringRequest) (model.ScoringResponse, error)

	// ModelName is the name the predict route answers to.
	ModelName() string
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	predictHandler *PredictHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		predictHandler: NewPredictHandler(deps),
	}
}

// Routes returns the router serving every endpoint. Callers may mount
// further routes on it.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	r.Handle("/metrics", s.healthHandler.MetricsHandler())
	r.Post("/v1/models/{model}:predict", MetricsMiddleware(s.predictHandler.HandlePredict, "predict"))
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// statusFor maps a pipeline error to its response status and code.
// Unclassified errors, such as a failed score event, are server errors.
func statusFor(err error) (int, string) {
	switch errkind.KindOf(err) {
	case errkind.ErrInvalidInput:
		return http.StatusBadRequest, "invalid_input"
	case errkind.ErrInference:
		return http.StatusInternalServerError, "inference_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
