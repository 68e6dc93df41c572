package worker

import "errors"

// Pool errors.
var (
	// ErrBrokenPool is returned for every task in flight on a pool whose
	// worker crashed.
	ErrBrokenPool = errors.New("worker pool is broken")
	ErrPoolClosed = errors.New("worker pool is closed")
)
