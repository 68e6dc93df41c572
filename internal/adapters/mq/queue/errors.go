package queue

import "errors"

// ErrClosed is returned by Enqueue once the queue is closed.
var ErrClosed = errors.New("queue closed")
