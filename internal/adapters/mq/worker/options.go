package worker

import (
	"github.com/okian/revscore/pkg/logger"
)

// Option configures a Pool or a Manager.
type Option func(*settings)

type settings struct {
	logger        logger.Logger
	queueCapacity int
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithQueueCapacity bounds the number of tasks waiting for a worker.
func WithQueueCapacity(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.queueCapacity = n
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("worker-pool")
	}
	return s
}
