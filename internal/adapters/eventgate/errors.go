package eventgate

import "errors"

// ErrDelivery is returned when a score event could not be posted.
var ErrDelivery = errors.New("score event delivery failed")
