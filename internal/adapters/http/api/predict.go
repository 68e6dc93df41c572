package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/revscore/internal/domain/errkind"
	"github.com/okian/revscore/internal/domain/model"
)

// maxRequestBytes bounds a predict request body; triggering events are
// small.
const maxRequestBytes = 1 << 20

// PredictHandler handles scoring requests.
type PredictHandler struct {
	deps Dependencies
}

// NewPredictHandler creates a new predict handler.
func NewPredictHandler(deps Dependencies) *PredictHandler {
	return &PredictHandler{deps: deps}
}

// HandlePredict handles POST /v1/models/{model}:predict requests.
func (h *PredictHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	const op = "api.predict"

	name := chi.URLParam(r, "model")
	if name != h.deps.ModelName() {
		writeError(w, http.StatusNotFound, "not_found",
			errkind.NewKind(op, ErrModelNotFound, fmt.Sprintf("model %q is not served here", name)))
		return
	}

	var req model.ScoringRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", errkind.WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err)
		return
	}

	resp, err := h.deps.Score(r.Context(), req)
	if err != nil {
		status, code := statusFor(err)
		writeError(w, status, code, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
