package model

import "strconv"

// PredictionResult is the scoring model's output for one revision.
type PredictionResult struct {
	Prediction  any                `json:"prediction"`
	Probability map[string]float64 `json:"probability"`
}

// PredictionList returns the prediction as a list of strings, the shape
// used by downstream score events.
func (p PredictionResult) PredictionList() []string {
	switch v := p.Prediction.(type) {
	case nil:
		return []string{}
	case []string:
		return append([]string(nil), v...)
	case string:
		return []string{v}
	case bool:
		return []string{strconv.FormatBool(v)}
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			out = append(out, PredictionResult{Prediction: x}.PredictionList()...)
		}
		return out
	default:
		return []string{}
	}
}

// ModelInfo describes a served model.
type ModelInfo struct {
	Version string `json:"version"`
}

// RevisionScore is the per-model entry of a scored revision.
type RevisionScore struct {
	Score    PredictionResult   `json:"score"`
	Features map[string]float64 `json:"features,omitempty"`
}

// WikiScores groups the models and scores of one wiki.
type WikiScores struct {
	Models map[string]ModelInfo                `json:"models"`
	Scores map[string]map[string]RevisionScore `json:"scores"`
}

// ScoringResponse is keyed by wiki database name.
type ScoringResponse map[string]WikiScores

// NewScoringResponse assembles the response for a single revision. A nil
// features map leaves the "features" key out.
func NewScoringResponse(wikiID, modelName, modelVersion string, revID int64, pred PredictionResult, feats map[string]float64) ScoringResponse {
	return ScoringResponse{
		wikiID: {
			Models: map[string]ModelInfo{modelName: {Version: modelVersion}},
			Scores: map[string]map[string]RevisionScore{
				strconv.FormatInt(revID, 10): {
					modelName: {Score: pred, Features: feats},
				},
			},
		},
	}
}

// Score returns the entry for wiki, revision and model.
func (r ScoringResponse) Score(wikiID string, revID int64, modelName string) (RevisionScore, bool) {
	w, ok := r[wikiID]
	if !ok {
		return RevisionScore{}, false
	}
	s, ok := w.Scores[strconv.FormatInt(revID, 10)][modelName]
	return s, ok
}
