// Package model contains domain models passed between layers.
package model

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/okian/revscore/internal/domain/errkind"
)

// langCode matches wiki language codes such as "en" or "zh-yue". Lang ends
// up in the upstream host name and the wiki id, so nothing else is allowed.
var langCode = regexp.MustCompile(`^[a-z0-9-]+$`)

// ScoringRequest is one inbound scoring request. It is not modified after
// it enters the pipeline.
type ScoringRequest struct {
	RevID          int64          `json:"rev_id"`
	Lang           string         `json:"lang"`
	ExtendedOutput bool           `json:"extended_output"`
	Event          map[string]any `json:"event,omitempty"` // triggering event, schema owned by the caller
}

// Validate checks the fields the pipeline relies on.
func (r ScoringRequest) Validate() error {
	if r.RevID <= 0 {
		return errkind.NewKind("validate request", errkind.ErrInvalidInput,
			"rev_id must be a positive integer, got "+strconv.FormatInt(r.RevID, 10))
	}
	if strings.TrimSpace(r.Lang) == "" {
		return errkind.NewKind("validate request", errkind.ErrInvalidInput, "lang is required")
	}
	if !langCode.MatchString(r.Lang) {
		return errkind.NewKind("validate request", errkind.ErrInvalidInput,
			"lang must contain only lowercase letters, digits and hyphens, got "+strconv.Quote(r.Lang))
	}
	return nil
}

// WikiID returns the database name of the request's wiki, e.g. "enwiki"
// or "zh_yuewiki" for lang "zh-yue".
func (r ScoringRequest) WikiID() string {
	return strings.ReplaceAll(strings.TrimSpace(r.Lang), "-", "_") + "wiki"
}

// HasEvent reports whether a triggering event was supplied.
func (r ScoringRequest) HasEvent() bool {
	return len(r.Event) > 0
}
