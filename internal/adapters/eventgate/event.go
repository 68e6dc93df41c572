package eventgate

import (
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/okian/revscore/internal/domain/model"
)

// SchemaURI identifies the score event schema.
const SchemaURI = "/mediawiki/revision/score/2.0.0"

// Meta is the event metadata block.
type Meta struct {
	Stream    string `json:"stream"`
	ID        string `json:"id"`
	DT        string `json:"dt"`
	RequestID string `json:"request_id,omitempty"`
	Domain    string `json:"domain,omitempty"`
	URI       string `json:"uri,omitempty"`
}

// ModelScore is one entry of the scores block.
type ModelScore struct {
	ModelName    string             `json:"model_name"`
	ModelVersion string             `json:"model_version"`
	Prediction   []string           `json:"prediction"`
	Probability  map[string]float64 `json:"probability"`
}

// ScoreEvent is the record posted downstream after a revision is scored.
// Page and revision fields are copied from the triggering event.
type ScoreEvent struct {
	Schema         string                `json:"$schema"`
	Meta           Meta                  `json:"meta"`
	Database       string                `json:"database,omitempty"`
	PageID         int64                 `json:"page_id,omitempty"`
	PageTitle      string                `json:"page_title,omitempty"`
	PageNamespace  int64                 `json:"page_namespace"`
	PageIsRedirect bool                  `json:"page_is_redirect"`
	Performer      map[string]any        `json:"performer,omitempty"`
	RevID          int64                 `json:"rev_id"`
	RevParentID    int64                 `json:"rev_parent_id,omitempty"`
	RevTimestamp   string                `json:"rev_timestamp,omitempty"`
	Scores         map[string]ModelScore `json:"scores"`
}

// NewScoreEvent builds the event for trigger and pred. revID is the scored
// revision and is used when the trigger carries no rev_id.
func NewScoreEvent(stream, modelName, modelVersion string, revID int64, trigger map[string]any, pred model.PredictionResult, now time.Time) ScoreEvent {
	meta := mapOf(trigger, "meta")
	if id := integer(trigger, "rev_id"); id > 0 {
		revID = id
	}
	return ScoreEvent{
		Schema: SchemaURI,
		Meta: Meta{
			Stream:    stream,
			ID:        uuid.NewString(),
			DT:        now.UTC().Format(time.RFC3339Nano),
			RequestID: str(meta, "request_id"),
			Domain:    str(meta, "domain"),
			URI:       str(meta, "uri"),
		},
		Database:       str(trigger, "database"),
		PageID:         integer(trigger, "page_id"),
		PageTitle:      str(trigger, "page_title"),
		PageNamespace:  integer(trigger, "page_namespace"),
		PageIsRedirect: boolean(trigger, "page_is_redirect"),
		Performer:      mapOf(trigger, "performer"),
		RevID:          revID,
		RevParentID:    integer(trigger, "rev_parent_id"),
		RevTimestamp:   str(trigger, "rev_timestamp"),
		Scores: map[string]ModelScore{
			modelName: {
				ModelName:    modelName,
				ModelVersion: modelVersion,
				Prediction:   pred.PredictionList(),
				Probability:  pred.Probability,
			},
		},
	}
}

func str(m map[string]any, k string) string {
	s, _ := m[k].(string)
	return s
}

func boolean(m map[string]any, k string) bool {
	b, _ := m[k].(bool)
	return b
}

func mapOf(m map[string]any, k string) map[string]any {
	v, _ := m[k].(map[string]any)
	return v
}

// integer accepts the numeric types a decoded JSON object can carry.
func integer(m map[string]any, k string) int64 {
	switch v := m[k].(type) {
	case float64:
		if v == math.Trunc(v) {
			return int64(v)
		}
	case int:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	}
	return 0
}
