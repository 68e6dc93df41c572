package loadgen

import (
	"errors"
	"time"
)

// Defaults for a benchmark run.
const (
	DefaultRequests = 1000
	DefaultWorkers  = 16
	DefaultTimeout  = 30 * time.Second

	workerChannelMultiplier = 2
)

// ErrInvalidConfig reports an unusable benchmark configuration.
var ErrInvalidConfig = errors.New("invalid load test config")

// Config holds configuration for a benchmark run.
type Config struct {
	BaseURL        string        // Base URL of the service
	Model          string        // Model name in the predict route
	Lang           string        // Wiki language of every request
	RevIDs         []int64       // Revisions to score, cycled through
	Requests       int           // Number of predict requests to send
	Workers        int           // Number of concurrent workers
	Timeout        time.Duration // HTTP request timeout
	ExtendedOutput bool          // Ask for bare feature values
}

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("base url is required"))
	case c.Model == "":
		return errors.Join(ErrInvalidConfig, errors.New("model is required"))
	case c.Lang == "":
		return errors.Join(ErrInvalidConfig, errors.New("lang is required"))
	case len(c.RevIDs) == 0:
		return errors.Join(ErrInvalidConfig, errors.New("at least one revision id is required"))
	}
	if c.Requests <= 0 {
		c.Requests = DefaultRequests
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return nil
}

// Stats holds the outcome of a benchmark run.
type Stats struct {
	Submitted int // requests that got a response or a transport error
	OK        int // 200
	Rejected  int // 4xx
	Failed    int // 5xx and transport errors

	P50, P95, Max time.Duration

	Duration time.Duration
}

// Throughput returns completed requests per second.
func (s *Stats) Throughput() float64 {
	if s.Duration <= 0 {
		return 0
	}
	return float64(s.Submitted) / s.Duration.Seconds()
}
