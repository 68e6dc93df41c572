package mwapi

import "errors"

// Fetch errors. Callers see them wrapped in errkind kinds.
var (
	ErrBadRevision       = errors.New("bad revision id")
	ErrMalformedDocument = errors.New("malformed upstream document")
	ErrPoolClosed        = errors.New("connection pool closed")
)
