package features

import "errors"

// Sentinel kinds for extraction errors.
var (
	ErrMissingResource   = errors.New("missing resource")
	ErrUnexpectedContent = errors.New("unexpected content type")
	ErrUnknownFeature    = errors.New("unknown feature")
)
